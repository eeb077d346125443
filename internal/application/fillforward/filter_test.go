package fillforward

import (
	"testing"
	"time"

	"github.com/alejandrodnm/marketfeed/internal/domain"
	"github.com/stretchr/testify/require"
)

// sliceSource replays a fixed slice of bars, the simplest possible Source.
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

// alwaysOpenExchange models a market that never closes, for minute-cadence
// fill-forward tests where calendar boundaries are not under test.
type alwaysOpenExchange struct{}

func (alwaysOpenExchange) IsOpen(domain.Symbol, time.Time, bool) bool { return true }
func (alwaysOpenExchange) NextMarketOpen(_ domain.Symbol, after time.Time) time.Time {
	return after.Add(time.Minute)
}
func (alwaysOpenExchange) NextMarketClose(_ domain.Symbol, after time.Time) time.Time {
	return after.Add(24 * time.Hour)
}
func (alwaysOpenExchange) TimeZone(domain.Symbol) *time.Location { return time.UTC }

// weekdayExchange closes on Saturday/Sunday; NextMarketClose returns the
// midnight boundary ending the next trading day strictly after "after".
type weekdayExchange struct{}

func isTradingDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func (weekdayExchange) IsOpen(_ domain.Symbol, utc time.Time, _ bool) bool {
	return isTradingDay(utc)
}

func (weekdayExchange) NextMarketOpen(_ domain.Symbol, after time.Time) time.Time {
	t := after.Truncate(24 * time.Hour)
	if !t.After(after) {
		t = t.Add(24 * time.Hour)
	}
	for !isTradingDay(t) {
		t = t.Add(24 * time.Hour)
	}
	return t
}

func (weekdayExchange) NextMarketClose(_ domain.Symbol, after time.Time) time.Time {
	t := after.Truncate(24 * time.Hour).Add(24 * time.Hour)
	for {
		day := t.Add(-24 * time.Hour)
		if isTradingDay(day) && t.After(after) {
			return t
		}
		t = t.Add(24 * time.Hour)
	}
}

func (weekdayExchange) TimeZone(domain.Symbol) *time.Location { return time.UTC }

func drainFF(f *Filter, max int) []domain.BaseData {
	var out []domain.BaseData
	for i := 0; i < max; i++ {
		bar, ok := f.Next()
		if !ok {
			return out
		}
		out = append(out, bar)
	}
	return out
}

// Scenario 5 (spec.md §8): real bars at minute 0 and minute 2, cadence 1
// minute; expect real/fill-forward/real at minutes 1, 2, 3.
func TestFilter_FillForwardMidDay(t *testing.T) {
	sym := domain.NewEquitySymbol("US", "SPY")
	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

	bar1 := domain.NewTradeBar(sym, base, base.Add(time.Minute), time.Minute)
	bar1.Close = 100

	bar2 := domain.NewTradeBar(sym, base.Add(2*time.Minute), base.Add(3*time.Minute), time.Minute)
	bar2.Close = 105

	config := domain.SubscriptionDataConfig{
		Symbol:      sym,
		Resolution:  domain.ResolutionMinute,
		TickType:    domain.TickTrade,
		FillForward: true,
	}
	f := New(&sliceSource{bars: []domain.BaseData{bar1, bar2}}, alwaysOpenExchange{}, config, time.Time{})

	bars := drainFF(f, 10)
	require.Len(t, bars, 3)

	first := bars[0].(domain.TradeBar)
	require.Equal(t, base.Add(time.Minute), first.EndTime())
	require.False(t, first.IsFillForward)

	synthetic := bars[1].(domain.TradeBar)
	require.Equal(t, base.Add(2*time.Minute), synthetic.EndTime())
	require.True(t, synthetic.IsFillForward)
	require.Equal(t, 100.0, synthetic.Close)
	require.Equal(t, 0.0, synthetic.Volume)

	third := bars[2].(domain.TradeBar)
	require.Equal(t, base.Add(3*time.Minute), third.EndTime())
	require.False(t, third.IsFillForward)
	require.Equal(t, 105.0, third.Close)
}

// Scenario 6 (spec.md §8): daily bars Thursday and the following Monday;
// expect a fill-forward bar on Friday and none on Saturday/Sunday.
func TestFilter_FillForwardAcrossWeekend(t *testing.T) {
	sym := domain.NewEquitySymbol("US", "SPY")
	thursday := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	friday := thursday.Add(24 * time.Hour)
	monday := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	mondayClose := monday.Add(24 * time.Hour)

	bar1 := domain.NewTradeBar(sym, thursday, friday, 24*time.Hour)
	bar1.Close = 50

	bar2 := domain.NewTradeBar(sym, monday, mondayClose, 24*time.Hour)
	bar2.Close = 52

	config := domain.SubscriptionDataConfig{
		Symbol:      sym,
		Resolution:  domain.ResolutionDaily,
		TickType:    domain.TickTrade,
		FillForward: true,
	}
	f := New(&sliceSource{bars: []domain.BaseData{bar1, bar2}}, weekdayExchange{}, config, time.Time{})

	bars := drainFF(f, 10)
	require.Len(t, bars, 3)

	require.False(t, bars[0].(domain.TradeBar).IsFillForward)

	ff := bars[1].(domain.TradeBar)
	require.True(t, ff.IsFillForward)
	require.Equal(t, friday.Add(24*time.Hour), ff.EndTime()) // Saturday midnight: Friday's close
	require.Equal(t, 50.0, ff.Close)

	require.False(t, bars[2].(domain.TradeBar).IsFillForward)
	require.Equal(t, mondayClose, bars[2].EndTime())
}

// fill_forward = false yields exactly the upstream bars, untouched.
func TestFilter_Disabled(t *testing.T) {
	sym := domain.NewEquitySymbol("US", "SPY")
	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	bar1 := domain.NewTradeBar(sym, base, base.Add(time.Minute), time.Minute)
	bar2 := domain.NewTradeBar(sym, base.Add(5*time.Minute), base.Add(6*time.Minute), time.Minute)

	config := domain.SubscriptionDataConfig{
		Symbol:      sym,
		Resolution:  domain.ResolutionMinute,
		TickType:    domain.TickTrade,
		FillForward: false,
	}
	f := New(&sliceSource{bars: []domain.BaseData{bar1, bar2}}, alwaysOpenExchange{}, config, time.Time{})

	bars := drainFF(f, 10)
	require.Len(t, bars, 2)
	for _, b := range bars {
		require.False(t, b.(domain.TradeBar).IsFillForward)
	}
}

// Trailing fill-forward continues until subscription_end, then stops.
func TestFilter_TrailingFillForwardBoundedBySubscriptionEnd(t *testing.T) {
	sym := domain.NewEquitySymbol("US", "SPY")
	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	bar1 := domain.NewTradeBar(sym, base, base.Add(time.Minute), time.Minute)
	bar1.Close = 10

	config := domain.SubscriptionDataConfig{
		Symbol:      sym,
		Resolution:  domain.ResolutionMinute,
		TickType:    domain.TickTrade,
		FillForward: true,
	}
	subscriptionEnd := base.Add(4 * time.Minute)
	f := New(&sliceSource{bars: []domain.BaseData{bar1}}, alwaysOpenExchange{}, config, subscriptionEnd)

	bars := drainFF(f, 10)
	// bar1 (real) + synthetic bars at minute 2, 3, 4; minute 5 exceeds end.
	require.Len(t, bars, 4)
	for _, b := range bars[1:] {
		tb := b.(domain.TradeBar)
		require.True(t, tb.IsFillForward)
		require.Equal(t, 10.0, tb.Close)
		require.False(t, tb.EndTime().After(subscriptionEnd))
	}
}
