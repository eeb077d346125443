// Package queue composes multiple named ports.DataQueueHandler instances
// into one, the way spec.md §6 requires: "multiple named handlers may be
// composed; a failing handler at initialization must not prevent the
// others from serving."
package queue

import (
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/marketfeed/internal/domain"
	"github.com/alejandrodnm/marketfeed/internal/ports"
)

// Composite fans SetJob/Subscribe/Unsubscribe out to every named handler in
// job.HandlerNames and merges their results.
type Composite struct {
	handlers map[string]ports.DataQueueHandler
}

// NewComposite returns a Composite over the given named handlers.
func NewComposite(handlers map[string]ports.DataQueueHandler) *Composite {
	return &Composite{handlers: handlers}
}

// SetJob initializes every handler named in job.HandlerNames. A handler
// that fails to initialize is logged and skipped; SetJob only fails
// outright if every named handler failed.
func (c *Composite) SetJob(job ports.JobDescriptor) error {
	if len(job.HandlerNames) == 0 {
		for name, h := range c.handlers {
			if err := h.SetJob(job); err != nil {
				slog.Warn("queue: handler failed to initialize", "handler", name, "err", err)
			}
		}
		return nil
	}

	failures := 0
	for _, name := range job.HandlerNames {
		h, ok := c.handlers[name]
		if !ok {
			slog.Warn("queue: job named an unknown handler", "handler", name)
			failures++
			continue
		}
		if err := h.SetJob(job); err != nil {
			slog.Warn("queue: handler failed to initialize", "handler", name, "err", err)
			failures++
		}
	}
	if failures == len(job.HandlerNames) {
		return fmt.Errorf("queue: all %d named handlers failed to initialize", failures)
	}
	return nil
}

// Subscribe asks every handler to serve config; it succeeds if at least one
// handler accepts it.
func (c *Composite) Subscribe(config domain.SubscriptionDataConfig, onData ports.OnDataAvailable) (bool, error) {
	accepted := false
	for name, h := range c.handlers {
		ok, err := h.Subscribe(config, onData)
		if err != nil {
			slog.Warn("queue: handler rejected subscribe", "handler", name, "config", config.String(), "err", err)
			continue
		}
		if ok {
			accepted = true
		}
	}
	return accepted, nil
}

// Unsubscribe tells every handler to stop serving config.
func (c *Composite) Unsubscribe(config domain.SubscriptionDataConfig) error {
	var firstErr error
	for name, h := range c.handlers {
		if err := h.Unsubscribe(config); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("handler %s: %w", name, err)
		}
	}
	return firstErr
}

// LookupSymbols returns the first non-empty chain resolution any handler
// can provide.
func (c *Composite) LookupSymbols(canonical domain.Symbol, includeExpired bool) ([]domain.Symbol, error) {
	var lastErr error
	for _, h := range c.handlers {
		symbols, err := h.LookupSymbols(canonical, includeExpired)
		if err != nil {
			lastErr = err
			continue
		}
		if len(symbols) > 0 {
			return symbols, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("queue: no handler resolved chain for %s: %w", canonical.String(), lastErr)
	}
	return nil, fmt.Errorf("queue: no handler resolved chain for %s", canonical.String())
}

// CanPerformSelection reports true if any composed handler does.
func (c *Composite) CanPerformSelection() bool {
	for _, h := range c.handlers {
		if h.CanPerformSelection() {
			return true
		}
	}
	return false
}
