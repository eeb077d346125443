// Package wsfeed implements ports.DataQueueHandler over a single WebSocket
// connection, the way internal/datafeed.BinanceDataFeed in the reference
// crypto-alerts bot dialed one exchange socket and fanned decoded ticks out
// to subscribers — here symbols are multiplexed over one connection and
// fan-out happens per (symbol, tick_type) registration instead of one
// shared channel.
package wsfeed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/marketfeed/internal/domain"
	"github.com/alejandrodnm/marketfeed/internal/ports"
	"github.com/gorilla/websocket"
)

// wireTick is the JSON shape this handler expects on the socket: one object
// per message, trade or quote.
type wireTick struct {
	SymbolID    string  `json:"symbol_id"`
	TickType    string  `json:"tick_type"` // "Trade" | "Quote"
	Price       float64 `json:"price,omitempty"`
	Quantity    float64 `json:"quantity,omitempty"`
	BidPrice    float64 `json:"bid_price,omitempty"`
	BidSize     float64 `json:"bid_size,omitempty"`
	AskPrice    float64 `json:"ask_price,omitempty"`
	AskSize     float64 `json:"ask_size,omitempty"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// Handler is a ports.DataQueueHandler backed by one WebSocket connection to
// url. Subscribe is purely local bookkeeping: the socket carries every
// symbol the upstream feed pushes, and Handler filters by its own
// registration table.
type Handler struct {
	url    string
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	subs    map[domain.ConfigKey]ports.OnDataAvailable
	job     ports.JobDescriptor
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New returns a Handler that will dial url on first Subscribe.
func New(url string) *Handler {
	return &Handler{
		url:    url,
		dialer: websocket.DefaultDialer,
		subs:   make(map[domain.ConfigKey]ports.OnDataAvailable),
	}
}

// SetJob records the job descriptor; credentials, if any, are sent as a
// query string parameter on connect (spec.md §6 "set_job").
func (h *Handler) SetJob(job ports.JobDescriptor) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.job = job
	return nil
}

// Subscribe registers onData for config and ensures the underlying socket
// is connected. The socket is shared across all subscriptions.
func (h *Handler) Subscribe(config domain.SubscriptionDataConfig, onData ports.OnDataAvailable) (bool, error) {
	if config.Symbol.IsCanonical() {
		return false, fmt.Errorf("wsfeed: cannot subscribe canonical symbol %s", config.Symbol.ID)
	}

	h.mu.Lock()
	h.subs[config.Key()] = onData
	needsConnect := !h.started
	h.started = true
	h.mu.Unlock()

	if needsConnect {
		if err := h.connect(); err != nil {
			return false, fmt.Errorf("wsfeed: connect to %s: %w", h.url, err)
		}
	}
	return true, nil
}

// Unsubscribe removes config's registration; the socket stays open for
// other subscribers.
func (h *Handler) Unsubscribe(config domain.SubscriptionDataConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, config.Key())
	return nil
}

// LookupSymbols is unsupported: this handler carries flat tick streams, not
// chain membership.
func (h *Handler) LookupSymbols(canonical domain.Symbol, includeExpired bool) ([]domain.Symbol, error) {
	return nil, fmt.Errorf("wsfeed: chain lookup not supported for %s", canonical.String())
}

// CanPerformSelection always reports true: this handler has no notion of
// market-state gating.
func (h *Handler) CanPerformSelection() bool { return true }

// Close tears down the socket and stops the read loop.
func (h *Handler) Close() error {
	h.mu.Lock()
	cancel := h.cancel
	conn := h.conn
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	h.wg.Wait()
	return nil
}

func (h *Handler) connect() error {
	dialURL := h.url
	h.mu.Lock()
	if token, ok := h.job.Credentials["token"]; ok && token != "" {
		sep := "?"
		if strings.Contains(dialURL, "?") {
			sep = "&"
		}
		dialURL = dialURL + sep + "token=" + token
	}
	h.mu.Unlock()

	conn, _, err := h.dialer.Dial(dialURL, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	h.conn = conn
	h.cancel = cancel
	h.mu.Unlock()

	h.wg.Add(1)
	go h.readLoop(ctx, conn)
	return nil
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer h.wg.Done()
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var msg wireTick
		if err := conn.ReadJSON(&msg); err != nil {
			slog.Warn("wsfeed: read error, closing connection", "url", h.url, "err", err)
			return
		}
		tick, ok := decode(msg)
		if !ok {
			continue
		}
		h.dispatch(tick)
	}
}

func decode(msg wireTick) (domain.Tick, bool) {
	sym := domain.Symbol{ID: msg.SymbolID}
	t := time.UnixMilli(msg.TimestampMs).UTC()

	switch msg.TickType {
	case string(domain.TickTrade):
		return domain.NewTradeTick(sym, t, msg.Price, msg.Quantity), true
	case string(domain.TickQuote):
		return domain.NewQuoteTick(sym, t, msg.BidPrice, msg.BidSize, msg.AskPrice, msg.AskSize), true
	default:
		return domain.Tick{}, false
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
