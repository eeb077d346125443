// Package redisfeed implements ports.DataQueueHandler over Redis Pub/Sub,
// one channel per symbol, the way the reference hft feeds service in the
// pack wires a redis.Client alongside provider connections — here the redis
// client itself IS the provider connection instead of a side cache.
package redisfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/marketfeed/internal/domain"
	"github.com/alejandrodnm/marketfeed/internal/ports"
	"github.com/redis/go-redis/v9"
)

type wireTick struct {
	TickType    string  `json:"tick_type"`
	Price       float64 `json:"price,omitempty"`
	Quantity    float64 `json:"quantity,omitempty"`
	BidPrice    float64 `json:"bid_price,omitempty"`
	BidSize     float64 `json:"bid_size,omitempty"`
	AskPrice    float64 `json:"ask_price,omitempty"`
	AskSize     float64 `json:"ask_size,omitempty"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// Handler is a ports.DataQueueHandler backed by Redis Pub/Sub: one
// subscription goroutine per symbol channel, shared across every
// (tick_type, resolution) registration for that symbol.
type Handler struct {
	client *redis.Client
	prefix string

	mu       sync.Mutex
	subs     map[domain.ConfigKey]ports.OnDataAvailable
	watchers map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// New returns a Handler publishing/subscribing on channels named
// "<channelPrefix>:<symbol.ID>".
func New(client *redis.Client, channelPrefix string) *Handler {
	return &Handler{
		client:   client,
		prefix:   channelPrefix,
		subs:     make(map[domain.ConfigKey]ports.OnDataAvailable),
		watchers: make(map[string]context.CancelFunc),
	}
}

// SetJob is a no-op: this handler's credentials are baked into the
// redis.Client at construction time.
func (h *Handler) SetJob(ports.JobDescriptor) error { return nil }

// Subscribe registers onData for config and starts watching the symbol's
// channel if nothing else already is.
func (h *Handler) Subscribe(config domain.SubscriptionDataConfig, onData ports.OnDataAvailable) (bool, error) {
	if config.Symbol.IsCanonical() {
		return false, fmt.Errorf("redisfeed: cannot subscribe canonical symbol %s", config.Symbol.ID)
	}

	h.mu.Lock()
	h.subs[config.Key()] = onData
	channel := h.channel(config.Symbol)
	_, watching := h.watchers[channel]
	if !watching {
		ctx, cancel := context.WithCancel(context.Background())
		h.watchers[channel] = cancel
		h.wg.Add(1)
		go h.watch(ctx, channel, config.Symbol)
	}
	h.mu.Unlock()

	return true, nil
}

// Unsubscribe removes config's registration and stops watching its symbol's
// channel once no registration references it.
func (h *Handler) Unsubscribe(config domain.SubscriptionDataConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subs, config.Key())
	channel := h.channel(config.Symbol)
	for key := range h.subs {
		if key.SymbolID == config.Symbol.ID {
			return nil // another registration still needs this channel
		}
	}
	if cancel, ok := h.watchers[channel]; ok {
		cancel()
		delete(h.watchers, channel)
	}
	return nil
}

// LookupSymbols is unsupported: Redis Pub/Sub carries flat tick streams,
// not chain membership.
func (h *Handler) LookupSymbols(canonical domain.Symbol, includeExpired bool) ([]domain.Symbol, error) {
	return nil, fmt.Errorf("redisfeed: chain lookup not supported for %s", canonical.String())
}

// CanPerformSelection always reports true.
func (h *Handler) CanPerformSelection() bool { return true }

// Close stops every channel watcher.
func (h *Handler) Close() error {
	h.mu.Lock()
	for ch, cancel := range h.watchers {
		cancel()
		delete(h.watchers, ch)
	}
	h.mu.Unlock()
	h.wg.Wait()
	return nil
}

func (h *Handler) channel(symbol domain.Symbol) string {
	return h.prefix + ":" + symbol.ID
}

func (h *Handler) watch(ctx context.Context, channel string, symbol domain.Symbol) {
	defer h.wg.Done()

	pubsub := h.client.Subscribe(ctx, channel)
	defer pubsub.Close()
	msgs := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			tick, err := decodeTick(symbol, msg.Payload)
			if err != nil {
				slog.Warn("redisfeed: dropping malformed message", "channel", channel, "err", err)
				continue
			}
			h.dispatch(tick)
		}
	}
}

func decodeTick(symbol domain.Symbol, payload string) (domain.Tick, error) {
	var msg wireTick
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return domain.Tick{}, fmt.Errorf("unmarshal: %w", err)
	}
	t := time.UnixMilli(msg.TimestampMs).UTC()

	switch msg.TickType {
	case string(domain.TickTrade):
		return domain.NewTradeTick(symbol, t, msg.Price, msg.Quantity), nil
	case string(domain.TickQuote):
		return domain.NewQuoteTick(symbol, t, msg.BidPrice, msg.BidSize, msg.AskPrice, msg.AskSize), nil
	default:
		return domain.Tick{}, fmt.Errorf("unknown tick_type %q", msg.TickType)
	}
}

func (h *Handler) dispatch(tick domain.Tick) {
	symbolID, tickType := tick.Symbol().ID, tick.TickType

	h.mu.Lock()
	var targets []ports.OnDataAvailable
	for k, onData := range h.subs {
		if k.SymbolID == symbolID && k.TickType == tickType {
			targets = append(targets, onData)
		}
	}
	h.mu.Unlock()

	for _, onData := range targets {
		onData(tick)
	}
}
