// Package httphistory implements ports.HistoryProvider over a JSON/HTTP
// history service, retrying transient failures with
// hashicorp/go-retryablehttp and rate-limiting requests with
// golang.org/x/time/rate, the way the pack's home-lib http client wraps a
// retry/backoff policy and a token-bucket limiter around plain net/http.
package httphistory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/alejandrodnm/marketfeed/config"
	"github.com/alejandrodnm/marketfeed/internal/domain"
	coreerrors "github.com/alejandrodnm/marketfeed/internal/errors"
	"github.com/alejandrodnm/marketfeed/internal/ports"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// wireBar is the JSON shape the history service returns, one object per bar
// or tick, already filtered to a single (symbol, resolution, tick_type).
type wireBar struct {
	SymbolID string `json:"symbol_id"`
	StartMs  int64  `json:"start_ms"`
	EndMs    int64  `json:"end_ms"`

	Open  float64 `json:"open,omitempty"`
	High  float64 `json:"high,omitempty"`
	Low   float64 `json:"low,omitempty"`
	Close float64 `json:"close,omitempty"`

	BidOpen  float64 `json:"bid_open,omitempty"`
	BidHigh  float64 `json:"bid_high,omitempty"`
	BidLow   float64 `json:"bid_low,omitempty"`
	BidClose float64 `json:"bid_close,omitempty"`

	AskOpen  float64 `json:"ask_open,omitempty"`
	AskHigh  float64 `json:"ask_high,omitempty"`
	AskLow   float64 `json:"ask_low,omitempty"`
	AskClose float64 `json:"ask_close,omitempty"`

	Volume   float64 `json:"volume,omitempty"`
	Price    float64 `json:"price,omitempty"`
	Quantity float64 `json:"quantity,omitempty"`
}

// Client is a ports.HistoryProvider backed by a remote HTTP history
// service, one request per ports.HistoryRequest, rate-limited and retried.
type Client struct {
	http    *retryablehttp.Client
	limiter *rate.Limiter
	baseURL string
}

// New returns a Client configured from cfg.
func New(cfg config.HistoryConfig) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	burst := int(cfg.RequestsPerSec)
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(cfg.RequestsPerSec)
	if cfg.RequestsPerSec <= 0 {
		limit = rate.Inf
	}

	return &Client{
		http:    rc,
		limiter: rate.NewLimiter(limit, burst),
		baseURL: cfg.BaseURL,
	}
}

// GetHistory fetches every request in requests, merges the resulting bars
// by end time into domain.TimeSlice values expressed in sliceTimeZone, and
// streams them in ascending time order on the returned channel. The channel
// is closed when every request has been served or ctx is cancelled.
func (c *Client) GetHistory(ctx context.Context, requests []ports.HistoryRequest, sliceTimeZone *time.Location) (<-chan *domain.TimeSlice, error) {
	if sliceTimeZone == nil {
		sliceTimeZone = time.UTC
	}
	out := make(chan *domain.TimeSlice)

	go func() {
		defer close(out)

		var all []domain.BaseData
		for _, req := range requests {
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
			requestID := uuid.NewString()
			bars, err := c.fetch(ctx, req, requestID)
			if err != nil {
				kindErr := coreerrors.New(coreerrors.HistoryUnavailable, fmt.Sprintf("history request for %s", req.Symbol.ID), err)
				slog.Warn("httphistory: request failed", "request_id", requestID, "symbol", req.Symbol.ID, "resolution", req.Resolution.String(), "err", kindErr)
				continue
			}
			all = append(all, bars...)
		}

		sort.Slice(all, func(i, j int) bool { return all[i].EndTime().Before(all[j].EndTime()) })

		for _, slice := range groupByEndTime(all, sliceTimeZone) {
			select {
			case out <- slice:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func groupByEndTime(bars []domain.BaseData, tz *time.Location) []*domain.TimeSlice {
	var slices []*domain.TimeSlice
	var current *domain.TimeSlice
	for _, b := range bars {
		end := b.EndTime().In(tz)
		if current == nil || !current.UTCTime.Equal(end) {
			current = domain.NewTimeSlice(end)
			slices = append(slices, current)
		}
		current.Data.Add(b)
	}
	return slices
}

func (c *Client) fetch(ctx context.Context, req ports.HistoryRequest, requestID string) ([]domain.BaseData, error) {
	u, err := buildURL(c.baseURL, req)
	if err != nil {
		return nil, errors.Wrap(err, "build request url")
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build retryable request")
	}
	httpReq.Header.Set("X-Request-ID", requestID)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("history service returned %d: %s", resp.StatusCode, string(body))
	}

	var wire []wireBar
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}

	bars := make([]domain.BaseData, 0, len(wire))
	for _, w := range wire {
		bars = append(bars, toBaseData(req, w))
	}
	return bars, nil
}

func buildURL(baseURL string, req ports.HistoryRequest) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("symbol_id", req.Symbol.ID)
	q.Set("resolution", req.Resolution.String())
	q.Set("tick_type", string(req.TickType))
	q.Set("start_ms", strconv.FormatInt(req.Start.UnixMilli(), 10))
	q.Set("end_ms", strconv.FormatInt(req.End.UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func toBaseData(req ports.HistoryRequest, w wireBar) domain.BaseData {
	start := time.UnixMilli(w.StartMs).UTC()
	end := time.UnixMilli(w.EndMs).UTC()

	if req.Resolution == domain.ResolutionTick {
		switch req.TickType {
		case domain.TickQuote:
			return domain.NewQuoteTick(req.Symbol, end, w.BidClose, 0, w.AskClose, 0)
		default:
			return domain.NewTradeTick(req.Symbol, end, w.Price, w.Quantity)
		}
	}

	period := req.Resolution.Period()
	switch req.TickType {
	case domain.TickQuote:
		bar := domain.NewQuoteBar(req.Symbol, start, end, period)
		bar.Bid = domain.OHLC{Open: w.BidOpen, High: w.BidHigh, Low: w.BidLow, Close: w.BidClose}
		bar.Ask = domain.OHLC{Open: w.AskOpen, High: w.AskHigh, Low: w.AskLow, Close: w.AskClose}
		return bar
	default:
		bar := domain.NewTradeBar(req.Symbol, start, end, period)
		bar.OHLC = domain.OHLC{Open: w.Open, High: w.High, Low: w.Low, Close: w.Close}
		bar.Volume = w.Volume
		return bar
	}
}
