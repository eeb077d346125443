// Package synchronizer implements spec.md §4.4: it pulls the current data
// point from every active subscription, assembles TimeSlice objects at a
// common frontier time, and honors the warmup-to-live transition and
// cancellation the way the rest of the core's pull-based pipeline does.
package synchronizer

import (
	"context"
	"sync"
	"time"

	"github.com/alejandrodnm/marketfeed/internal/application/subscription"
	"github.com/alejandrodnm/marketfeed/internal/domain"
	"github.com/alejandrodnm/marketfeed/internal/ports"
)

// defaultPollInterval is the short timed wait the synchronizer takes while
// waiting for utc_now() to catch up to the frontier (spec.md §5).
const defaultPollInterval = 10 * time.Millisecond

// Synchronizer assembles TimeSlices from a subscription.Manager's live
// subscriptions (spec.md §4.4).
type Synchronizer struct {
	subs  *subscription.Manager
	clock ports.TimeProvider

	mu            sync.Mutex
	live          bool
	pending       domain.SecurityChanges
	pendingEvents []domain.BaseData
	done          bool
}

// New returns a Synchronizer over subs, clamped in live mode by clock.
// Start it in warmup mode (SetLive(false)) when the caller sources data from
// a history provider first.
func New(subs *subscription.Manager, clock ports.TimeProvider) *Synchronizer {
	return &Synchronizer{subs: subs, clock: clock}
}

// SetLive toggles warmup/live mode. The synchronizer transitions from
// warmup to live once the caller's history-backed subscriptions are
// exhausted and replaced by live ones (spec.md §4.4 "Warmup semantics").
func (s *Synchronizer) SetLive(live bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = live
}

// PushSecurityChanges accumulates universe-driven (or manual) security
// changes to attach to the next emitted slice. Consecutive pushes merge
// with "Added wins" (spec.md §4.3 "Ties").
func (s *Synchronizer) PushSecurityChanges(c domain.SecurityChanges) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = domain.Merge(s.pending, c)
}

// PushEvent queues a corporate-action or other out-of-band data point
// (spec.md §4.5: Split, Dividend, MarginInterestRate, Delisting) to attach
// to the next emitted TimeSlice — the same side-channel PushSecurityChanges
// already uses for universe-driven changes, since these events arrive from
// a queue handler's callback asynchronously to Next, not through any
// subscription's own cursor.
func (s *Synchronizer) PushEvent(data domain.BaseData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingEvents = append(s.pendingEvents, data)
}

// Next assembles and returns the next TimeSlice. ok is false once every
// subscription is exhausted or ctx has been cancelled (spec.md §4.4
// "Cancellation").
func (s *Synchronizer) Next(ctx context.Context) (*domain.TimeSlice, bool) {
	if s.isDone() {
		return nil, false
	}
	select {
	case <-ctx.Done():
		s.markDone()
		return nil, false
	default:
	}

	subs := s.subs.All()
	primeCursors(subs)

	frontier, ok := computeFrontier(subs)
	if !ok {
		return s.nextWithoutFrontier()
	}

	s.mu.Lock()
	live := s.live
	s.mu.Unlock()

	if live {
		now := s.clock.UtcNow()
		if frontier.After(now) {
			pulse := domain.NewTimeSlice(now)
			pulse.IsTimePulse = true
			return pulse, true
		}
	}

	slice := domain.NewTimeSlice(frontier)
	for _, sub := range subs {
		if sub.Config.IsInternal {
			continue
		}
		collect(sub, frontier, slice)
	}

	s.mu.Lock()
	slice.SecurityChanges = s.pending
	s.pending = domain.SecurityChanges{}
	events := s.pendingEvents
	s.pendingEvents = nil
	s.mu.Unlock()
	for _, e := range events {
		slice.Data.Add(e)
	}

	return slice, true
}

// nextWithoutFrontier handles the case where no subscription currently
// contributes a frontier (none active, or none has produced a point yet).
// A pending security change or corporate-action event is still surfaced on
// its own slice, timestamped at the current clock, instead of being
// silently dropped when the last subscription empties out from under it
// (e.g. a Delisting event that itself tears down the only live
// subscription for that symbol); with nothing pending, the synchronizer is
// genuinely done.
func (s *Synchronizer) nextWithoutFrontier() (*domain.TimeSlice, bool) {
	s.mu.Lock()
	changes := s.pending
	s.pending = domain.SecurityChanges{}
	events := s.pendingEvents
	s.pendingEvents = nil
	s.mu.Unlock()

	if changes.IsEmpty() && len(events) == 0 {
		s.markDone()
		return nil, false
	}

	slice := domain.NewTimeSlice(s.clock.UtcNow())
	slice.SecurityChanges = changes
	for _, e := range events {
		slice.Data.Add(e)
	}
	return slice, true
}

// Run drives the synchronizer until ctx is cancelled or subscriptions are
// exhausted, invoking onSlice for every emitted TimeSlice and sleeping
// pollInterval between polls that only produced a time pulse (spec.md §5
// "Suspension points"). pollInterval <= 0 uses the spec's default of 10ms.
func (s *Synchronizer) Run(ctx context.Context, pollInterval time.Duration, onSlice func(*domain.TimeSlice)) {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	for {
		slice, ok := s.Next(ctx)
		if !ok {
			return
		}
		onSlice(slice)
		if !slice.IsTimePulse {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}
	}
}

func (s *Synchronizer) isDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Synchronizer) markDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
}

// primeCursors ensures every subscription has attempted to produce a
// current data point (spec.md §4.4 step 1). Subscriptions that are already
// exhausted or already have a current point are left untouched.
func primeCursors(subs []*subscription.Subscription) {
	for _, sub := range subs {
		if _, has := sub.Current(); !has {
			sub.MoveNext()
		}
	}
}

// computeFrontier returns the minimum end_time_utc across pullable,
// non-internal subscriptions (spec.md §4.4 step 2). ok is false if no
// subscription can currently contribute a frontier.
func computeFrontier(subs []*subscription.Subscription) (time.Time, bool) {
	var min time.Time
	found := false
	for _, sub := range subs {
		t, ok := sub.CurrentEndTimeUTC()
		if !ok {
			continue
		}
		if !found || t.Before(min) {
			min = t
			found = true
		}
	}
	return min, found
}

// collect drains every data point of sub whose end_time_utc <= frontier
// into slice, advancing sub's cursor past each one consumed (spec.md §4.4
// step 4).
func collect(sub *subscription.Subscription, frontier time.Time, slice *domain.TimeSlice) {
	for {
		data, has := sub.Current()
		if !has {
			return
		}
		if data.EndTime().After(frontier) {
			return
		}
		slice.Data.Add(data)
		if !sub.MoveNext() {
			return
		}
	}
}
