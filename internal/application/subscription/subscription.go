// Package subscription implements spec.md §4.3's data stream lifecycle: a
// Subscription wraps one consumer's lazy cursor over BaseData; Manager
// translates add/remove requests into Subscriptions and the internal
// "hidden" siblings that seed a security's price cache at finer
// resolutions, the way internal/application/scanner tracked one goroutine
// per watched market in the reference bot — here one cursor per
// subscription instead.
package subscription

import (
	"time"

	"github.com/alejandrodnm/marketfeed/internal/domain"
)

// Source is the lazy sequence a Subscription pulls from: the output of an
// aggregation.Sequence, optionally wrapped by a fillforward.Filter.
type Source interface {
	Next() (domain.BaseData, bool)
}

// Subscription is a single live data stream: a configuration, a cursor, and
// the current data point the cursor last advanced to (spec.md §3).
type Subscription struct {
	Config   domain.SubscriptionDataConfig
	UTCStart time.Time
	UTCEnd   time.Time
	Removed  bool

	cursor     Source
	current    domain.BaseData
	hasCurrent bool
}

// NewSubscription wraps cursor as a live Subscription for config, active
// over [utcStart, utcEnd).
func NewSubscription(config domain.SubscriptionDataConfig, cursor Source, utcStart, utcEnd time.Time) *Subscription {
	return &Subscription{Config: config, cursor: cursor, UTCStart: utcStart, UTCEnd: utcEnd}
}

// MoveNext advances the cursor; it returns false once the cursor is
// exhausted or the subscription has been removed, and the subscription then
// reports no current data point.
func (s *Subscription) MoveNext() bool {
	if s.Removed {
		s.hasCurrent = false
		return false
	}
	bar, ok := s.cursor.Next()
	if !ok {
		s.hasCurrent = false
		return false
	}
	s.current = bar
	s.hasCurrent = true
	return true
}

// Current returns the subscription's current data point, if any.
func (s *Subscription) Current() (domain.BaseData, bool) {
	if !s.hasCurrent {
		return nil, false
	}
	return s.current, true
}

// CurrentEndTimeUTC implements clock.EndTimeSource: the synchronizer's
// frontier is the minimum end_time across pullable, non-internal
// subscriptions (spec.md §4.4 step 2). Internal subscriptions never
// contribute to the frontier — they exist only to seed a security's price
// cache (spec.md §4.3).
func (s *Subscription) CurrentEndTimeUTC() (time.Time, bool) {
	if !s.hasCurrent || s.Config.IsInternal || s.Removed {
		return time.Time{}, false
	}
	return s.current.EndTime(), true
}
