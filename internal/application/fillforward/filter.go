// Package fillforward implements spec.md §4.2: it wraps a subscription's bar
// sequence and synthesizes carry-forward bars whenever the upstream skips a
// fill-forward-aligned slot that exchange hours say was legal to trade in.
// It is written the same way internal/application/aggregation wraps a
// producer with a pull-based Sequence — fillforward.Filter composes on top
// of one instead of replacing it.
package fillforward

import (
	"time"

	"github.com/alejandrodnm/marketfeed/internal/domain"
	"github.com/alejandrodnm/marketfeed/internal/ports"
)

// maxSlotScan bounds the number of candidate slots the filter will step
// through looking for the next legal one, the same kind of defensive bound
// internal/adapters/calendar uses (14 days) for nextBoundary.
const maxSlotScan = 20000

// Source is the upstream this filter pulls real bars from: the output of an
// aggregation.Sequence, or anything else with the same shape.
type Source interface {
	Next() (domain.BaseData, bool)
}

// Filter implements the fill-forward algorithm of spec.md §4.2 as a pull
// iterator: each Next() call returns either the next real bar or a
// synthesized one, never both in the same call.
type Filter struct {
	upstream        Source
	exchange        ports.ExchangeHours
	symbol          domain.Symbol
	period          time.Duration
	resolution      domain.Resolution
	extended        bool
	fillForward     bool
	subscriptionEnd time.Time // zero: gaps unbounded, no trailing bars

	prev     domain.PriceBar
	peeked   domain.BaseData
	havePeek bool
	done     bool
}

// New builds a Filter over upstream for the given subscription config.
// subscriptionEnd bounds how far trailing fill-forward bars may extend past
// upstream termination (spec.md §4.2 "Failure semantics"); the zero value
// puts no bound on gap fill-forward and emits no trailing bars once upstream
// ends.
func New(upstream Source, exchange ports.ExchangeHours, config domain.SubscriptionDataConfig, subscriptionEnd time.Time) *Filter {
	return &Filter{
		upstream:        upstream,
		exchange:        exchange,
		symbol:          config.Symbol,
		period:          config.Resolution.Period(),
		resolution:      config.Resolution,
		extended:        config.ExtendedMarketHours,
		fillForward:     config.FillForward,
		subscriptionEnd: subscriptionEnd,
	}
}

// Next returns the next bar in the filtered sequence, real or synthetic, and
// false once the filter is exhausted.
func (f *Filter) Next() (domain.BaseData, bool) {
	if f.done {
		return nil, false
	}

	if f.prev == nil || !f.fillForward || f.period <= 0 {
		bar, ok := f.pullRaw()
		if !ok {
			f.done = true
			return nil, false
		}
		f.setPrev(bar)
		return bar, true
	}

	next, ok := f.peek()
	if !ok {
		return f.emitTrailing()
	}

	slot := f.nextLegalSlot(f.prev.EndTime())
	if f.pastEnd(slot) {
		f.done = true
		return nil, false
	}
	if slot.Before(next.EndTime()) {
		synthetic := f.synthesize(slot)
		return synthetic, true
	}

	f.consumePeek()
	f.setPrev(next)
	return next, true
}

func (f *Filter) emitTrailing() (domain.BaseData, bool) {
	if f.subscriptionEnd.IsZero() {
		f.done = true
		return nil, false
	}
	slot := f.nextLegalSlot(f.prev.EndTime())
	if f.pastEnd(slot) {
		f.done = true
		return nil, false
	}
	return f.synthesize(slot), true
}

func (f *Filter) pastEnd(slotEnd time.Time) bool {
	return !f.subscriptionEnd.IsZero() && slotEnd.After(f.subscriptionEnd)
}

func (f *Filter) synthesize(slotEnd time.Time) domain.BaseData {
	start := slotEnd.Add(-f.period)
	bar := f.prev.SyntheticCopy(start, slotEnd)
	f.setPrev(bar)
	return bar
}

func (f *Filter) setPrev(bar domain.BaseData) {
	if pb, ok := bar.(domain.PriceBar); ok {
		f.prev = pb
		return
	}
	// not a price bar (e.g. a pass-through Tick): fill-forward has no price
	// to carry, so disable it until a price bar arrives.
	f.prev = nil
}

func (f *Filter) peek() (domain.BaseData, bool) {
	if f.havePeek {
		return f.peeked, true
	}
	bar, ok := f.upstream.Next()
	if !ok {
		return nil, false
	}
	f.peeked = bar
	f.havePeek = true
	return bar, true
}

func (f *Filter) consumePeek() {
	f.havePeek = false
	f.peeked = nil
}

func (f *Filter) pullRaw() (domain.BaseData, bool) {
	if f.havePeek {
		bar := f.peeked
		f.consumePeek()
		return bar, true
	}
	return f.upstream.Next()
}

// nextLegalSlot computes the next F-wide, exchange-legal boundary strictly
// after "after" (spec.md §4.2 step 1). Daily resolutions slot on the
// exchange's primary close; intraday resolutions step the period grid,
// jumping to the next session's open when the grid lands inside a closed
// period — this is what makes a weekend or holiday gap skip entirely and
// resume at the next trading day's first legal slot (spec.md "Boundary
// policy").
func (f *Filter) nextLegalSlot(after time.Time) time.Time {
	if f.resolution == domain.ResolutionDaily {
		return f.exchange.NextMarketClose(f.symbol, after)
	}

	candidate := after.Truncate(f.period)
	if !candidate.After(after) {
		candidate = candidate.Add(f.period)
	}

	for i := 0; i < maxSlotScan; i++ {
		if f.exchange.IsOpen(f.symbol, candidate, f.extended) {
			return candidate
		}
		open := f.exchange.NextMarketOpen(f.symbol, candidate)
		if open.After(candidate) {
			candidate = open.Truncate(f.period)
			if !candidate.After(open) {
				candidate = candidate.Add(f.period)
			}
			continue
		}
		candidate = candidate.Add(f.period)
	}
	return candidate
}
