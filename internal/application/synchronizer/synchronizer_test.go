package synchronizer

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/marketfeed/internal/adapters/clock"
	"github.com/alejandrodnm/marketfeed/internal/application/subscription"
	"github.com/alejandrodnm/marketfeed/internal/domain"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	bars []domain.BaseData
	pos  int
}

func (s *sliceSource) Next() (domain.BaseData, bool) {
	if s.pos >= len(s.bars) {
		return nil, false
	}
	b := s.bars[s.pos]
	s.pos++
	return b, true
}

func newTestManager(sources map[domain.ConfigKey]*sliceSource) *subscription.Manager {
	return subscription.NewManager(func(cfg domain.SubscriptionDataConfig) (subscription.Source, error) {
		return sources[cfg.Key()], nil
	}, domain.ResolutionHour)
}

var base = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

func barsFor(sym domain.Symbol, ends ...time.Time) []domain.BaseData {
	out := make([]domain.BaseData, len(ends))
	start := base
	for i, end := range ends {
		out[i] = domain.NewTradeBar(sym, start, end, end.Sub(start))
		start = end
	}
	return out
}

// Scenario: two subscriptions with staggered end times; frontier advances to
// the minimum and groups both symbols once both reach it.
func TestSynchronizer_FrontierIsMinEndTime(t *testing.T) {
	spy := domain.NewEquitySymbol("US", "SPY")
	aapl := domain.NewEquitySymbol("US", "AAPL")
	cfgSpy := domain.SubscriptionDataConfig{Symbol: spy, Resolution: domain.ResolutionMinute, TickType: domain.TickTrade}
	cfgAapl := domain.SubscriptionDataConfig{Symbol: aapl, Resolution: domain.ResolutionMinute, TickType: domain.TickTrade}

	spySrc := &sliceSource{bars: barsFor(spy, base.Add(time.Minute), base.Add(2*time.Minute))}
	aaplSrc := &sliceSource{bars: barsFor(aapl, base.Add(2 * time.Minute))}

	mgr := newTestManager(map[domain.ConfigKey]*sliceSource{
		cfgSpy.Key():  spySrc,
		cfgAapl.Key(): aaplSrc,
	})
	_, err := mgr.Add(cfgSpy, false)
	require.NoError(t, err)
	_, err = mgr.Add(cfgAapl, false)
	require.NoError(t, err)

	manual := clock.NewManualTimeProvider(base.Add(time.Hour)) // live clock way ahead, never blocks
	sync := New(mgr, manual)
	sync.SetLive(true)

	ctx := context.Background()

	slice1, ok := sync.Next(ctx)
	require.True(t, ok)
	require.False(t, slice1.IsTimePulse)
	require.Equal(t, base.Add(time.Minute), slice1.UTCTime)
	require.Len(t, slice1.Data.TradeBars, 1)
	_, hasSpy := slice1.Data.TradeBars[spy.ID]
	require.True(t, hasSpy)

	slice2, ok := sync.Next(ctx)
	require.True(t, ok)
	require.Equal(t, base.Add(2*time.Minute), slice2.UTCTime)
	require.Len(t, slice2.Data.TradeBars, 2)
}

// In live mode, a frontier ahead of utc_now() produces a time pulse instead
// of blocking (spec.md §4.4 step 3).
func TestSynchronizer_TimePulseWhenFrontierAheadOfClock(t *testing.T) {
	spy := domain.NewEquitySymbol("US", "SPY")
	cfg := domain.SubscriptionDataConfig{Symbol: spy, Resolution: domain.ResolutionMinute, TickType: domain.TickTrade}
	src := &sliceSource{bars: barsFor(spy, base.Add(time.Minute))}

	mgr := newTestManager(map[domain.ConfigKey]*sliceSource{cfg.Key(): src})
	_, err := mgr.Add(cfg, false)
	require.NoError(t, err)

	manual := clock.NewManualTimeProvider(base) // clock has not yet reached the bar's end_time
	sync := New(mgr, manual)
	sync.SetLive(true)

	slice, ok := sync.Next(context.Background())
	require.True(t, ok)
	require.True(t, slice.IsTimePulse)
	require.Equal(t, base, slice.UTCTime)

	manual.Advance(time.Minute)
	slice2, ok := sync.Next(context.Background())
	require.True(t, ok)
	require.False(t, slice2.IsTimePulse)
}

// Internal subscriptions never drive the frontier (spec.md §4.4 step 2).
func TestSynchronizer_InternalSubscriptionExcludedFromFrontier(t *testing.T) {
	spy := domain.NewEquitySymbol("US", "SPY")
	cfgPublic := domain.SubscriptionDataConfig{Symbol: spy, Resolution: domain.ResolutionHour, TickType: domain.TickTrade}
	cfgInternal := domain.SubscriptionDataConfig{Symbol: spy, Resolution: domain.ResolutionSecond, TickType: domain.TickTrade, IsInternal: true}

	publicSrc := &sliceSource{bars: barsFor(spy, base.Add(time.Hour))}
	internalSrc := &sliceSource{bars: barsFor(spy, base.Add(time.Second))}

	mgr := newTestManager(map[domain.ConfigKey]*sliceSource{
		cfgPublic.Key():   publicSrc,
		cfgInternal.Key(): internalSrc,
	})
	_, err := mgr.Add(cfgPublic, true)
	require.NoError(t, err)

	manual := clock.NewManualTimeProvider(base.Add(2 * time.Hour))
	sync := New(mgr, manual)
	sync.SetLive(true)

	slice, ok := sync.Next(context.Background())
	require.True(t, ok)
	require.Equal(t, base.Add(time.Hour), slice.UTCTime, "frontier must come from the public subscription, not the internal one")

	// The internal second-resolution sibling shares the same map slot
	// (domain.SymbolData keys TradeBars by symbol ID only, not resolution)
	// but must never be collected into the emitted slice: it ends before the
	// frontier too, so without excluding internal subs in collect's caller it
	// would silently overwrite (or be overwritten by) the public bar.
	require.Len(t, slice.Data.TradeBars, 1)
	bar, hasBar := slice.Data.TradeBars[spy.ID]
	require.True(t, hasBar)
	require.Equal(t, time.Hour, bar.Period, "the collected bar must be the public Hour bar, not the internal Second bar")
}

// Cancellation stops the synchronizer without draining further subscriptions.
func TestSynchronizer_Cancellation(t *testing.T) {
	spy := domain.NewEquitySymbol("US", "SPY")
	cfg := domain.SubscriptionDataConfig{Symbol: spy, Resolution: domain.ResolutionMinute, TickType: domain.TickTrade}
	src := &sliceSource{bars: barsFor(spy, base.Add(time.Minute))}
	mgr := newTestManager(map[domain.ConfigKey]*sliceSource{cfg.Key(): src})
	_, err := mgr.Add(cfg, false)
	require.NoError(t, err)

	manual := clock.NewManualTimeProvider(base.Add(time.Hour))
	sync := New(mgr, manual)
	sync.SetLive(true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := sync.Next(ctx)
	require.False(t, ok)
}

// A corporate-action event pushed via PushEvent attaches to the next slice
// alongside the regularly-collected bars (spec.md §4.5).
func TestSynchronizer_PendingEventAttachesToSlice(t *testing.T) {
	spy := domain.NewEquitySymbol("US", "SPY")
	cfg := domain.SubscriptionDataConfig{Symbol: spy, Resolution: domain.ResolutionMinute, TickType: domain.TickTrade}
	src := &sliceSource{bars: barsFor(spy, base.Add(time.Minute))}

	mgr := newTestManager(map[domain.ConfigKey]*sliceSource{cfg.Key(): src})
	_, err := mgr.Add(cfg, false)
	require.NoError(t, err)

	manual := clock.NewManualTimeProvider(base.Add(time.Hour))
	sync := New(mgr, manual)
	sync.SetLive(true)
	sync.PushEvent(domain.NewDelisting(spy, base.Add(time.Minute), domain.DelistingWarning))

	slice, ok := sync.Next(context.Background())
	require.True(t, ok)
	d, has := slice.Data.Delistings[spy.ID]
	require.True(t, has)
	require.Equal(t, domain.DelistingWarning, d.Type)
}

// Pending events must survive even once every subscription has been torn
// down (e.g. a Delisted event removing the only live subscription for its
// own symbol): without a frontier, nextWithoutFrontier must still surface
// anything queued instead of marking the synchronizer done and dropping it.
func TestSynchronizer_PendingEventSurvivesWithNoSubscriptionsLeft(t *testing.T) {
	spy := domain.NewEquitySymbol("US", "SPY")
	mgr := newTestManager(nil)

	manual := clock.NewManualTimeProvider(base)
	sync := New(mgr, manual)
	sync.SetLive(true)
	sync.PushEvent(domain.NewDelisting(spy, base, domain.DelistingDelisted))

	slice, ok := sync.Next(context.Background())
	require.True(t, ok)
	require.False(t, slice.IsTimePulse)
	d, has := slice.Data.Delistings[spy.ID]
	require.True(t, has)
	require.Equal(t, domain.DelistingDelisted, d.Type)

	// Nothing left pending and no subscriptions: the synchronizer is done.
	_, ok = sync.Next(context.Background())
	require.False(t, ok)
}
