package subscription

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/marketfeed/internal/domain"
)

// internalSeedResolution is the resolution an internal sibling subscription
// is created at: fine enough that the security's price cache is warm before
// the first user-resolution bar (spec.md §4.3).
const internalSeedResolution = domain.ResolutionSecond

// CursorFactory builds the lazy sequence a new Subscription pulls from — in
// practice an aggregation.Manager.Add result, optionally wrapped by a
// fillforward.Filter. Subscription management stays agnostic of how a
// cursor is built so it can be tested without the rest of the feed.
type CursorFactory func(config domain.SubscriptionDataConfig) (Source, error)

// Manager implements spec.md §4.3's add/remove contract: translating public
// subscription requests into Subscriptions, and transparently creating and
// reference-counting the internal siblings that seed a security's price
// cache when the user subscribes at or coarser than internalSeedThreshold
// (config.FeedConfig.InternalSeedThreshold).
type Manager struct {
	mu      sync.Mutex
	factory CursorFactory
	subs    map[domain.ConfigKey]*Subscription
	// internalRefs counts, per symbol, how many live public subscriptions
	// depend on that symbol's internal second-resolution sibling.
	internalRefs map[string]int
	// internalSeedThreshold is the finest user resolution that gets an
	// internal sibling; every coarser resolution gets one too.
	internalSeedThreshold domain.Resolution
}

// NewManager returns a Manager whose Subscriptions pull cursors built by
// factory. internalSeedThreshold is the finest resolution that seeds an
// internal sibling (config.FeedConfig.InternalSeedThreshold, parsed by the
// caller — domain.ResolutionHour is the spec.md §4.3 default).
func NewManager(factory CursorFactory, internalSeedThreshold domain.Resolution) *Manager {
	return &Manager{
		factory:               factory,
		subs:                  make(map[domain.ConfigKey]*Subscription),
		internalRefs:          make(map[string]int),
		internalSeedThreshold: internalSeedThreshold,
	}
}

// needsInternalSibling reports whether config, if added live, should get an
// internal second-resolution sibling (spec.md §4.3 "add_subscription").
func (m *Manager) needsInternalSibling(config domain.SubscriptionDataConfig) bool {
	return !config.IsInternal && config.Resolution >= m.internalSeedThreshold
}

func internalSiblingConfig(config domain.SubscriptionDataConfig) domain.SubscriptionDataConfig {
	internal := config
	internal.Resolution = internalSeedResolution
	internal.TickType = domain.TickTrade
	internal.IsInternal = true
	internal.FillForward = false
	return internal
}

// Add creates a public Subscription for config. If live is true and config's
// resolution is m.internalSeedThreshold or coarser, it also ensures an internal, reference-
// counted second-resolution sibling exists for the same symbol.
func (m *Manager) Add(config domain.SubscriptionDataConfig, live bool) (*Subscription, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := config.Key()
	if _, exists := m.subs[key]; exists {
		return nil, fmt.Errorf("subscription: %s already subscribed", config.String())
	}

	sub, err := m.build(config)
	if err != nil {
		return nil, err
	}
	m.subs[key] = sub

	if live && m.needsInternalSibling(config) {
		m.internalRefs[config.Symbol.ID]++
		if m.internalRefs[config.Symbol.ID] == 1 {
			internalConfig := internalSiblingConfig(config)
			if _, exists := m.subs[internalConfig.Key()]; !exists {
				internalSub, err := m.build(internalConfig)
				if err != nil {
					slog.Warn("subscription: failed to seed internal subscription",
						"symbol", config.Symbol.ID, "err", err)
				} else {
					m.subs[internalConfig.Key()] = internalSub
				}
			}
		}
	}

	return sub, nil
}

func (m *Manager) build(config domain.SubscriptionDataConfig) (*Subscription, error) {
	cursor, err := m.factory(config)
	if err != nil {
		return nil, fmt.Errorf("subscription: building cursor for %s: %w", config.String(), err)
	}
	return NewSubscription(config, cursor, time.Time{}, time.Time{}), nil
}

// Remove tears down the public Subscription for config and, once the last
// referencing public subscription for the symbol disappears, its internal
// sibling too (spec.md §4.3 "remove_subscription").
func (m *Manager) Remove(config domain.SubscriptionDataConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := config.Key()
	sub, ok := m.subs[key]
	if !ok {
		return
	}
	sub.Removed = true
	delete(m.subs, key)

	if !m.needsInternalSibling(config) {
		return
	}
	m.internalRefs[config.Symbol.ID]--
	if m.internalRefs[config.Symbol.ID] > 0 {
		return
	}
	delete(m.internalRefs, config.Symbol.ID)

	internalKey := internalSiblingConfig(config).Key()
	if internalSub, ok := m.subs[internalKey]; ok {
		internalSub.Removed = true
		delete(m.subs, internalKey)
	}
}

// All returns a snapshot of every live subscription, public and internal.
func (m *Manager) All() []*Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		out = append(out, sub)
	}
	return out
}

// Get returns the live subscription for config, if any.
func (m *Manager) Get(config domain.SubscriptionDataConfig) (*Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[config.Key()]
	return sub, ok
}
