// Package universe schedules when a domain.Universe's selection function
// runs, per the four cadences of spec.md §4.3, and turns its result into
// domain.SecurityChanges the data feed applies as subscription add/removes.
package universe

import (
	"time"

	"github.com/alejandrodnm/marketfeed/internal/domain"
	"github.com/alejandrodnm/marketfeed/internal/ports"
)

// Trigger decides whether a universe's selection function should run at
// "now", given the universe's current activation/last-selection state.
type Trigger interface {
	ShouldSelect(now time.Time, u *domain.Universe) bool
}

// CoarseFundamentalTrigger fires once per trading day at a configured
// time-of-day, plus immediately on first activation so the algorithm can
// start with a populated universe (spec.md §4.3).
type CoarseFundamentalTrigger struct {
	// TimeOfDay is the UTC offset since midnight at which the daily
	// selection runs (e.g. 0 for midnight, or the exchange's market open).
	TimeOfDay time.Duration
}

func (tr CoarseFundamentalTrigger) ShouldSelect(now time.Time, u *domain.Universe) bool {
	if !u.Activated() {
		return true
	}
	todayBoundary := now.Truncate(24 * time.Hour).Add(tr.TimeOfDay)
	return now.After(todayBoundary) && u.LastSelection().Before(todayBoundary)
}

// ChainTrigger fires at every market open of the underlying's primary
// exchange, plus immediately on first activation so the algorithm's first
// slice already contains the chain's contracts (spec.md §4.3 "Chain
// universes", scenario 7).
type ChainTrigger struct {
	Exchange   ports.ExchangeHours
	Underlying domain.Symbol
}

func (tr ChainTrigger) ShouldSelect(now time.Time, u *domain.Universe) bool {
	if !u.Activated() {
		return true
	}
	nextOpen := tr.Exchange.NextMarketOpen(tr.Underlying, u.LastSelection())
	return !now.Before(nextOpen)
}

// ScheduledTrigger fires on the dates the user's schedule rule produces,
// plus immediately on first activation, unless warmup is active — in which
// case the first selection is deferred to the first scheduled date inside
// the warmup window (spec.md §4.3 "Scheduled universes").
type ScheduledTrigger struct {
	Dates        []time.Time // ascending, produced by the schedule rule
	WarmupActive bool
}

func (tr ScheduledTrigger) ShouldSelect(now time.Time, u *domain.Universe) bool {
	if !u.Activated() {
		if tr.WarmupActive {
			return tr.nextDateDue(now, u)
		}
		return true
	}
	return tr.nextDateDue(now, u)
}

func (tr ScheduledTrigger) nextDateDue(now time.Time, u *domain.Universe) bool {
	for _, d := range tr.Dates {
		if d.After(u.LastSelection()) && !d.After(now) {
			return true
		}
	}
	return false
}

// ConstituentTrigger fires whenever the backing constituents file's
// modification time advances past the last load (spec.md §4.3 "Constituent
// universes"), mirroring internal/adapters/calendar's mtime-gated CSV
// refresh.
type ConstituentTrigger struct {
	FileModTime func() (time.Time, error)

	lastLoaded time.Time
}

func (tr *ConstituentTrigger) ShouldSelect(now time.Time, u *domain.Universe) bool {
	if !u.Activated() {
		if mtime, err := tr.FileModTime(); err == nil {
			tr.lastLoaded = mtime
		}
		return true
	}
	mtime, err := tr.FileModTime()
	if err != nil {
		return false
	}
	if mtime.After(tr.lastLoaded) {
		tr.lastLoaded = mtime
		return true
	}
	return false
}
