// Package feed wires the Aggregation Manager, Fill-Forward Filter,
// Subscription Manager, Universe runners, and Synchronizer into one
// data feed: the assembly spec.md §1 calls the engine's public surface.
// It owns no algorithm of its own — every piece it touches is implemented
// elsewhere in internal/application; this package only plumbs callbacks and
// translates universe selection into subscription add/remove.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/marketfeed/config"
	"github.com/alejandrodnm/marketfeed/internal/application/aggregation"
	"github.com/alejandrodnm/marketfeed/internal/application/fillforward"
	"github.com/alejandrodnm/marketfeed/internal/application/subscription"
	"github.com/alejandrodnm/marketfeed/internal/application/synchronizer"
	"github.com/alejandrodnm/marketfeed/internal/application/universe"
	"github.com/alejandrodnm/marketfeed/internal/domain"
	coreerrors "github.com/alejandrodnm/marketfeed/internal/errors"
	"github.com/alejandrodnm/marketfeed/internal/ports"
)

// DataFeed is the engine's public entry point: it turns live ticks from a
// ports.DataQueueHandler into TimeSlices synchronized across every live
// subscription and universe.
type DataFeed struct {
	cfg      config.FeedConfig
	queue    ports.DataQueueHandler
	exchange ports.ExchangeHours
	clock    ports.TimeProvider
	notifier ports.Notifier

	agg  *aggregation.Manager
	subs *subscription.Manager
	sync *synchronizer.Synchronizer

	mu            sync.Mutex
	universes     []*universe.Runner
	customReaders []customDataSubscription
}

// customDataSubscription pairs a symbol with the ports.CustomDataReader
// polled for it.
type customDataSubscription struct {
	symbol domain.Symbol
	reader ports.CustomDataReader
}

// New builds a DataFeed over queue, using exchange for fill-forward
// boundary decisions and clock to drive the live/warmup frontier check.
func New(cfg config.FeedConfig, queue ports.DataQueueHandler, exchange ports.ExchangeHours, clock ports.TimeProvider) *DataFeed {
	f := &DataFeed{
		cfg:      cfg,
		queue:    queue,
		exchange: exchange,
		clock:    clock,
		agg:      aggregation.NewManager(),
	}
	f.subs = subscription.NewManager(f.buildCursor, internalSeedThreshold(cfg))
	f.sync = synchronizer.New(f.subs, clock)
	f.sync.SetLive(true)
	return f
}

// SetNotifier attaches a ports.Notifier invoked for every emitted TimeSlice.
func (f *DataFeed) SetNotifier(n ports.Notifier) { f.notifier = n }

// SetJob forwards job to the underlying queue handler (spec.md §6 "set_job").
func (f *DataFeed) SetJob(job ports.JobDescriptor) error {
	return f.queue.SetJob(job)
}

// AddUniverse registers a universe.Runner polled on every Poll call.
func (f *DataFeed) AddUniverse(r *universe.Runner) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.universes = append(f.universes, r)
}

// SubscribeCustomData registers reader to be polled for symbol at most once
// per cfg.CustomDataPollInterval() (spec.md §5 "a failing custom-data reader
// ... MUST NOT be called in a tight loop"). Successful reads attach to the
// next emitted TimeSlice via the same event side-channel PushEvent uses for
// corporate actions; a failing read is logged and classified
// ReaderFailure, then simply skipped until the reader's next scheduled
// poll.
func (f *DataFeed) SubscribeCustomData(symbol domain.Symbol, reader ports.CustomDataReader) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customReaders = append(f.customReaders, customDataSubscription{symbol: symbol, reader: reader})
}

// Subscribe adds a live subscription for symbol at resolution/tickType,
// applying the feed's configured default fill-forward and extended-hours
// behavior (spec.md §4.3 "add_subscription").
func (f *DataFeed) Subscribe(symbol domain.Symbol, resolution domain.Resolution, tickType domain.TickType) error {
	cfg := f.defaultConfig(symbol, resolution, tickType)
	_, err := f.subs.Add(cfg, true)
	return err
}

// Unsubscribe removes a subscription previously added via Subscribe or
// universe selection, tearing down its consolidator and queue registration
// too (spec.md §4.3 "remove_subscription").
func (f *DataFeed) Unsubscribe(symbol domain.Symbol, resolution domain.Resolution, tickType domain.TickType) {
	f.removeSymbol(symbol, resolution, tickType)
}

// Run drives universe polling and TimeSlice emission until ctx is
// cancelled. Every emitted slice is handed to the configured Notifier, if
// any.
func (f *DataFeed) Run(ctx context.Context) {
	pollInterval := f.cfg.PollInterval()

	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				f.Poll(now.UTC())
			}
		}
	}()

	go f.pollCustomData(ctx)

	f.sync.Run(ctx, pollInterval, func(slice *domain.TimeSlice) {
		if f.notifier == nil {
			return
		}
		if err := f.notifier.Notify(ctx, slice); err != nil {
			slog.Warn("feed: notify failed", "err", err)
		}
	})
}

// defaultCustomDataPollInterval is used when cfg.CustomDataPollMinutes is
// left unset and the caller built a DataFeed directly (bypassing
// config.Load's setDefaults), same as internalSeedThreshold's fallback
// below.
const defaultCustomDataPollInterval = 30 * time.Minute

// pollCustomData ticks every registered custom-data reader at
// f.cfg.CustomDataPollInterval(), pushing each successfully read record onto
// the synchronizer's pending-event side-channel so it surfaces on the next
// emitted TimeSlice (spec.md §5). A reader that fails is logged and
// classified ReaderFailure; it is simply skipped until its next scheduled
// tick rather than retried, so a reader that is down cannot spin the poller.
func (f *DataFeed) pollCustomData(ctx context.Context) {
	interval := f.cfg.CustomDataPollInterval()
	if interval <= 0 {
		interval = defaultCustomDataPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			readers := make([]customDataSubscription, len(f.customReaders))
			copy(readers, f.customReaders)
			f.mu.Unlock()

			for _, cr := range readers {
				records, err := cr.reader.Read(ctx, cr.symbol)
				if err != nil {
					kindErr := coreerrors.New(coreerrors.ReaderFailure, fmt.Sprintf("custom data read for %s", cr.symbol.ID), err)
					slog.Warn("feed: custom data read failed", "symbol", cr.symbol.ID, "err", kindErr)
					continue
				}
				for _, rec := range records {
					f.sync.PushEvent(rec)
				}
			}
		}
	}
}

// Poll runs every registered universe's trigger/selection once and applies
// the resulting SecurityChanges as subscription adds/removes, pushing them
// onto the synchronizer so the next TimeSlice carries them (spec.md §4.3,
// §4.4).
func (f *DataFeed) Poll(now time.Time) {
	f.mu.Lock()
	runners := make([]*universe.Runner, len(f.universes))
	copy(runners, f.universes)
	f.mu.Unlock()

	for _, r := range runners {
		changes, ok, err := r.Poll(now)
		if err != nil {
			slog.Warn("feed: universe poll failed", "universe", r.Universe.Name, "err", err)
			continue
		}
		if !ok {
			continue
		}
		f.applyUniverseChanges(r.Universe, changes)
		f.sync.PushSecurityChanges(changes)
	}
}

// Warmup streams history's bars through onSlice while the feed stays in
// warmup mode, then flips the synchronizer to live (spec.md §4.4 "Warmup
// semantics"). Call this, if at all, before Run.
func (f *DataFeed) Warmup(ctx context.Context, history ports.HistoryProvider, requests []ports.HistoryRequest, tz *time.Location, onSlice func(*domain.TimeSlice)) error {
	f.sync.SetLive(false)
	defer f.sync.SetLive(true)

	ch, err := history.GetHistory(ctx, requests, tz)
	if err != nil {
		return fmt.Errorf("feed: warmup history request failed: %w", err)
	}
	for slice := range ch {
		onSlice(slice)
	}
	return nil
}

// internalSeedThreshold resolves cfg.InternalSeedThreshold (spec.md §4.3's
// "Hour or coarser" rule) to a domain.Resolution, falling back to
// domain.ResolutionHour when unset — config.Load's setDefaults normally
// fills this in, but DataFeed.New is also called directly from tests with a
// bare config.FeedConfig{}.
func internalSeedThreshold(cfg config.FeedConfig) domain.Resolution {
	if cfg.InternalSeedThreshold == "" {
		return domain.ResolutionHour
	}
	return domain.ParseResolution(cfg.InternalSeedThreshold)
}

func (f *DataFeed) defaultConfig(symbol domain.Symbol, resolution domain.Resolution, tickType domain.TickType) domain.SubscriptionDataConfig {
	return domain.SubscriptionDataConfig{
		Symbol:              symbol,
		Resolution:          resolution,
		TickType:            tickType,
		FillForward:         f.cfg.FillForward,
		ExtendedMarketHours: f.cfg.ExtendedMarketHours,
		FilterSuspicious:    domain.FilterSuspiciousTicks(f.cfg.FilterSuspiciousTicks),
	}
}

func (f *DataFeed) applyUniverseChanges(u *domain.Universe, changes domain.SecurityChanges) {
	for _, sym := range changes.Added {
		cfg := domain.SubscriptionDataConfig{
			Symbol:                sym,
			Resolution:            u.Settings.Resolution,
			TickType:              domain.TickTrade,
			FillForward:           u.Settings.FillForward,
			ExtendedMarketHours:   u.Settings.ExtendedMarketHours,
			MinimumTimeInUniverse: int64(u.Settings.MinimumTimeInUniverse.Seconds()),
		}
		if _, err := f.subs.Add(cfg, true); err != nil {
			slog.Warn("feed: failed to subscribe universe member", "universe", u.Name, "symbol", sym.ID, "err", err)
		}
	}
	for _, sym := range changes.Removed {
		f.removeSymbol(sym, u.Settings.Resolution, domain.TickTrade)
	}
}

func (f *DataFeed) removeSymbol(sym domain.Symbol, resolution domain.Resolution, tickType domain.TickType) {
	cfg := domain.SubscriptionDataConfig{Symbol: sym, Resolution: resolution, TickType: tickType}
	f.subs.Remove(cfg)
	f.agg.Remove(cfg)
	if err := f.queue.Unsubscribe(cfg); err != nil {
		slog.Warn("feed: queue unsubscribe failed", "symbol", sym.ID, "err", err)
	}
}

// buildCursor is the subscription.CursorFactory that backs f.subs: it wires
// a fresh aggregation.Sequence for config to the queue handler's raw tick
// stream, then wraps it in a fillforward.Filter if config asks for one
// (spec.md §4.2, §4.3).
func (f *DataFeed) buildCursor(cfg domain.SubscriptionDataConfig) (subscription.Source, error) {
	seq, err := f.agg.Add(cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: aggregation add failed for %s: %w", cfg.String(), err)
	}

	accepted, err := f.queue.Subscribe(cfg, f.onRawData(cfg))
	if err != nil {
		f.agg.Remove(cfg)
		return nil, coreerrors.New(coreerrors.ProducerFailure, fmt.Sprintf("queue subscribe failed for %s", cfg.String()), err)
	}
	if !accepted {
		f.agg.Remove(cfg)
		return nil, coreerrors.New(coreerrors.SubscriptionRejected, fmt.Sprintf("no queue handler accepted %s", cfg.String()), nil)
	}

	if !cfg.FillForward || cfg.Resolution == domain.ResolutionTick {
		return seq, nil
	}
	return fillforward.New(seq, f.exchange, cfg, time.Time{}), nil
}

// onRawData returns the ports.OnDataAvailable the queue handler invokes for
// cfg's symbol: ticks are filtered and forwarded to the aggregation
// manager; corporate actions (Split, Dividend, MarginInterestRate,
// Delisting) are pushed onto the synchronizer's event side-channel so they
// are surfaced on the next emitted TimeSlice (spec.md §4.5 "Splits emit
// Warning/Occurred... Dividends are surfaced"), and a Delisted event
// additionally tears the subscription down once queued (spec.md §8
// Scenario 8 expects both the Warning and the Delisted event observable
// before/at the teardown, respectively).
func (f *DataFeed) onRawData(cfg domain.SubscriptionDataConfig) ports.OnDataAvailable {
	return func(data domain.BaseData) {
		switch v := data.(type) {
		case domain.Tick:
			if f.shouldFilterSuspicious(v, cfg) {
				return
			}
			f.agg.Update(v)
		case domain.Split:
			f.sync.PushEvent(v)
		case domain.Dividend:
			f.sync.PushEvent(v)
		case domain.MarginInterestRate:
			f.sync.PushEvent(v)
		case domain.Delisting:
			f.sync.PushEvent(v)
			if v.Type == domain.DelistingDelisted {
				slog.Info("feed: symbol delisted, removing subscription", "symbol", cfg.Symbol.ID)
				f.removeSymbol(cfg.Symbol, cfg.Resolution, cfg.TickType)
			}
		}
	}
}

// shouldFilterSuspicious applies spec.md §9's resolved Open Question: ticks
// marked Suspicious are dropped under "always", kept under "never", and
// under the default "non_tick" dropped everywhere except at Tick
// resolution, where every trade is preserved as printed.
func (f *DataFeed) shouldFilterSuspicious(tick domain.Tick, cfg domain.SubscriptionDataConfig) bool {
	if !tick.Suspicious {
		return false
	}
	switch cfg.FilterSuspicious {
	case domain.FilterSuspiciousAlways:
		return true
	case domain.FilterSuspiciousNever:
		return false
	default:
		return cfg.Resolution != domain.ResolutionTick
	}
}
