// Package config loads marketfeed's configuration the way the reference
// bot's config package does: YAML first, then environment overrides via
// godotenv, then defaults for anything left unset.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration of a marketfeed engine instance.
type Config struct {
	Feed     FeedConfig     `yaml:"feed"`
	Queue    QueueConfig    `yaml:"queue"`
	Calendar CalendarConfig `yaml:"calendar"`
	History  HistoryConfig  `yaml:"history"`
	Log      LogConfig      `yaml:"log"`
}

// FeedConfig controls synchronizer/fill-forward behavior shared across
// subscriptions absent a per-subscription override.
type FeedConfig struct {
	DefaultResolution          string  `yaml:"default_resolution"` // Tick|Second|Minute|Hour|Daily
	FillForward                bool    `yaml:"fill_forward"`
	ExtendedMarketHours        bool    `yaml:"extended_market_hours"`
	FilterSuspiciousTicks      string  `yaml:"filter_suspicious_ticks"` // always|never|non_tick
	PollIntervalMillis         int     `yaml:"poll_interval_millis"`
	InternalSeedThreshold      string  `yaml:"internal_seed_threshold"` // Second|Minute|Hour|Daily
	CustomDataPollMinutes      float64 `yaml:"custom_data_poll_minutes"`
	WarmupPeriodDays           int     `yaml:"warmup_period_days"`
}

// QueueConfig carries the job descriptor handed to data queue handlers at
// startup (spec.md §6 "set_job").
type QueueConfig struct {
	HandlerNames []string          `yaml:"handler_names"`
	FeedURLs     map[string]string `yaml:"feed_urls"`
	RedisAddr    string            `yaml:"redis_addr"`
}

// CalendarConfig points at the exchange-calendar reference data cache.
type CalendarConfig struct {
	DSN           string `yaml:"dsn"` // SQLite DSN, or ":memory:"
	SessionsCSV   string `yaml:"sessions_csv"`
	HolidaysCSV   string `yaml:"holidays_csv"`
}

// HistoryConfig controls the HTTP history provider used for warmup.
type HistoryConfig struct {
	BaseURL        string `yaml:"base_url"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
	MaxRetries     int    `yaml:"max_retries"`
}

// LogConfig controls logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML config at path and layers environment overrides and
// defaults on top. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// PollInterval returns Feed.PollIntervalMillis as a time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Feed.PollIntervalMillis) * time.Millisecond
}

// CustomDataPollInterval returns Feed.CustomDataPollMinutes as a
// time.Duration (spec.md §5 "Per-poll timeouts on external HTTP/rest custom
// data default to one poll per 30 minutes").
func (c *Config) CustomDataPollInterval() time.Duration {
	return c.Feed.CustomDataPollInterval()
}

// CustomDataPollInterval returns CustomDataPollMinutes as a time.Duration.
func (f FeedConfig) CustomDataPollInterval() time.Duration {
	return time.Duration(f.CustomDataPollMinutes * float64(time.Minute))
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Queue.RedisAddr = v
	}
	if v := os.Getenv("HISTORY_BASE_URL"); v != "" {
		cfg.History.BaseURL = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Feed.DefaultResolution == "" {
		cfg.Feed.DefaultResolution = "Minute"
	}
	if cfg.Feed.FilterSuspiciousTicks == "" {
		cfg.Feed.FilterSuspiciousTicks = "non_tick"
	}
	if cfg.Feed.PollIntervalMillis <= 0 {
		cfg.Feed.PollIntervalMillis = 10
	}
	if cfg.Feed.InternalSeedThreshold == "" {
		cfg.Feed.InternalSeedThreshold = "Hour"
	}
	if cfg.Feed.CustomDataPollMinutes <= 0 {
		cfg.Feed.CustomDataPollMinutes = 30
	}
	if cfg.Calendar.DSN == "" {
		cfg.Calendar.DSN = "marketfeed-calendar.db"
	}
	if cfg.History.RequestsPerSec <= 0 {
		cfg.History.RequestsPerSec = 5
	}
	if cfg.History.MaxRetries <= 0 {
		cfg.History.MaxRetries = 3
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
