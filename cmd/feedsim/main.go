// Command feedsim runs a marketfeed engine instance against whatever queue
// handlers and history provider the config file points at: the demo driver
// the way cmd/scanner wires the reference bot's scanner.Scanner, here wiring
// feed.DataFeed instead.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/marketfeed/config"
	"github.com/alejandrodnm/marketfeed/internal/adapters/calendar"
	"github.com/alejandrodnm/marketfeed/internal/adapters/clock"
	"github.com/alejandrodnm/marketfeed/internal/adapters/history/httphistory"
	"github.com/alejandrodnm/marketfeed/internal/adapters/notify/console"
	"github.com/alejandrodnm/marketfeed/internal/adapters/queue"
	"github.com/alejandrodnm/marketfeed/internal/adapters/queue/redisfeed"
	"github.com/alejandrodnm/marketfeed/internal/adapters/queue/wsfeed"
	"github.com/alejandrodnm/marketfeed/internal/application/feed"
	"github.com/alejandrodnm/marketfeed/internal/domain"
	"github.com/alejandrodnm/marketfeed/internal/ports"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full table per slice (default: compact 1-line)")
	symbolsFlag := flag.String("symbols", "US:SPY,US:AAPL", "comma-separated market:ticker symbols to subscribe at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("feedsim starting",
		"config", *configPath,
		"handlers", cfg.Queue.HandlerNames,
		"poll_interval", cfg.PollInterval(),
	)

	store, err := calendar.Open(context.Background(), cfg.Calendar.DSN)
	if err != nil {
		slog.Error("failed to open calendar store", "err", err, "dsn", cfg.Calendar.DSN)
		os.Exit(1)
	}
	defer store.Close()

	if cfg.Calendar.SessionsCSV != "" && cfg.Calendar.HolidaysCSV != "" {
		if err := store.LoadCSV(context.Background(), cfg.Calendar.SessionsCSV, cfg.Calendar.HolidaysCSV); err != nil {
			slog.Error("failed to load calendar CSVs", "err", err)
			os.Exit(1)
		}
	}
	exchange := calendar.NewExchange(store)

	handlers := buildQueueHandlers(cfg.Queue)
	if len(handlers) == 0 {
		slog.Error("no queue handlers configured", "handler_names", cfg.Queue.HandlerNames)
		os.Exit(1)
	}
	q := queue.NewComposite(handlers)
	if err := q.SetJob(ports.JobDescriptor{
		HandlerNames: cfg.Queue.HandlerNames,
		FeedURLs:     cfg.Queue.FeedURLs,
	}); err != nil {
		slog.Error("failed to set job on queue handlers", "err", err)
		os.Exit(1)
	}

	history := httphistory.New(cfg.History)
	notifier := console.New(*table)
	sysClock := clock.NewSystemTimeProvider()

	f := feed.New(cfg.Feed, q, exchange, sysClock)
	f.SetNotifier(notifier)

	symbols := parseSymbols(*symbolsFlag)
	resolution := parseResolution(cfg.Feed.DefaultResolution)
	for _, sym := range symbols {
		if err := f.Subscribe(sym, resolution, domain.TickTrade); err != nil {
			slog.Warn("failed to subscribe symbol", "symbol", sym.ID, "err", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Feed.WarmupPeriodDays > 0 {
		requests := make([]ports.HistoryRequest, 0, len(symbols))
		end := sysClock.UtcNow()
		start := end.Add(-time.Duration(cfg.Feed.WarmupPeriodDays) * 24 * time.Hour)
		for _, sym := range symbols {
			requests = append(requests, ports.HistoryRequest{
				Symbol: sym, Resolution: resolution, TickType: domain.TickTrade,
				Start: start, End: end,
			})
		}
		slog.Info("running warmup", "days", cfg.Feed.WarmupPeriodDays, "symbols", len(symbols))
		if err := f.Warmup(ctx, history, requests, time.UTC, func(slice *domain.TimeSlice) {
			if err := notifier.Notify(ctx, slice); err != nil {
				slog.Warn("warmup notify failed", "err", err)
			}
		}); err != nil {
			slog.Warn("warmup failed, continuing live", "err", err)
		}
	}

	slog.Info("feedsim running — press Ctrl+C to stop", "symbols", len(symbols))
	f.Run(ctx)
	<-ctx.Done()
	slog.Info("feedsim stopped cleanly")
}

// buildQueueHandlers constructs one ports.DataQueueHandler per name in
// cfg.HandlerNames, the way Composite expects its map keyed for SetJob's
// named-handler targeting (spec.md §6).
func buildQueueHandlers(cfg config.QueueConfig) map[string]ports.DataQueueHandler {
	handlers := make(map[string]ports.DataQueueHandler)
	for _, name := range cfg.HandlerNames {
		switch name {
		case "ws":
			url := cfg.FeedURLs["ws"]
			if url == "" {
				slog.Warn("ws handler requested but no feed_urls.ws configured, skipping")
				continue
			}
			handlers[name] = wsfeed.New(url)
		case "redis":
			if cfg.RedisAddr == "" {
				slog.Warn("redis handler requested but no redis_addr configured, skipping")
				continue
			}
			client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			handlers[name] = redisfeed.New(client, "marketfeed")
		default:
			slog.Warn("unknown queue handler name, skipping", "name", name)
		}
	}
	return handlers
}

func parseSymbols(raw string) []domain.Symbol {
	var out []domain.Symbol
	for _, pair := range splitNonEmpty(raw, ',') {
		market, ticker := splitOnce(pair, ':')
		if market == "" || ticker == "" {
			continue
		}
		out = append(out, domain.NewEquitySymbol(market, ticker))
	}
	return out
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func splitOnce(s string, sep byte) (string, string) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}

func parseResolution(s string) domain.Resolution {
	switch s {
	case "Tick":
		return domain.ResolutionTick
	case "Second":
		return domain.ResolutionSecond
	case "Hour":
		return domain.ResolutionHour
	case "Daily":
		return domain.ResolutionDaily
	default:
		return domain.ResolutionMinute
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
