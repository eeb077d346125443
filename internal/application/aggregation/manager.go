// Package aggregation implements spec.md §4.1: it routes raw ticks to
// per-subscription consolidators and exposes the consolidated output as a
// lazy pull sequence, the way internal/application/scanner/concurrent.go in
// the reference bot fans work out to a pool of goroutines and fans results
// back in through a channel — here the fan-out key is (symbol, tick_type)
// instead of "one goroutine per market".
package aggregation

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/marketfeed/internal/domain"
	"github.com/alejandrodnm/marketfeed/internal/ports"
)

const (
	defaultQueueSize  = 4096
	defaultSeqBuffer  = 256
	flushTickInterval = 50 * time.Millisecond
)

type registration struct {
	config       domain.SubscriptionDataConfig
	consolidator consolidator
	seq          *Sequence
	onData       ports.OnDataAvailable
	dropped      int64
}

// routeKey groups registrations by the exact (symbol, tick_type) pair a raw
// tick is routed on (spec.md §4.1 "Routing contract").
type routeKey struct {
	symbolID string
	tickType domain.TickType
}

// Manager is the Aggregation Manager (spec.md §4.1): the single consumer
// thread that owns all consolidator state. Ticks arrive via Update from any
// number of producer goroutines; dispatch and consolidation happen only on
// Manager's internal exchange goroutine — "no locks on the hot path" (spec.md
// §9) beyond the registry lock, which protects membership, not consolidation.
type Manager struct {
	mu    sync.RWMutex
	regs  map[domain.ConfigKey]*registration
	index map[routeKey][]*registration

	incoming chan domain.Tick
	done     chan struct{}
	wg       sync.WaitGroup

	droppedTotal int64
}

// NewManager starts the Manager's exchange goroutine and returns a ready
// instance. Call Close to stop it.
func NewManager() *Manager {
	m := &Manager{
		regs:     make(map[domain.ConfigKey]*registration),
		index:    make(map[routeKey][]*registration),
		incoming: make(chan domain.Tick, defaultQueueSize),
		done:     make(chan struct{}),
	}
	m.wg.Add(1)
	go m.exchangeLoop()
	return m
}

// Add registers config for consolidation and returns a lazy Sequence of its
// output (spec.md §4.1 "add"). Duplicate (symbol, tick_type, resolution)
// keys are permitted; each gets its own consolidator and Sequence.
func (m *Manager) Add(config domain.SubscriptionDataConfig, onData ports.OnDataAvailable) (*Sequence, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	reg := &registration{
		config:       config,
		consolidator: newConsolidator(config),
		seq:          newSequence(defaultSeqBuffer),
		onData:       onData,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[config.Key()] = reg
	rk := routeKey{symbolID: config.Symbol.ID, tickType: config.TickType}
	m.index[rk] = append(m.index[rk], reg)
	return reg.seq, nil
}

// Remove terminates config's sequence; subsequent Update calls for it are
// ignored (spec.md §4.1 "remove").
func (m *Manager) Remove(config domain.SubscriptionDataConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := config.Key()
	reg, ok := m.regs[key]
	if !ok {
		return
	}
	delete(m.regs, key)

	rk := routeKey{symbolID: config.Symbol.ID, tickType: config.TickType}
	regs := m.index[rk]
	for i, r := range regs {
		if r == reg {
			m.index[rk] = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	reg.seq.terminate()
}

// Update delivers a raw tick for consolidation. Ticks for symbols/tick types
// with no matching registration are silently dropped (spec.md §4.1 "Bad
// ticks"). Update never blocks the caller: it enqueues onto the Manager's
// bounded exchange queue and returns.
func (m *Manager) Update(tick domain.Tick) {
	select {
	case m.incoming <- tick:
		return
	default:
	}
	// queue full: drop the oldest queued tick to make room (spec.md §5).
	select {
	case <-m.incoming:
		atomic.AddInt64(&m.droppedTotal, 1)
	default:
	}
	select {
	case m.incoming <- tick:
	default:
	}
}

// DroppedCount returns the number of ticks dropped so far because the
// exchange queue was full (spec.md §5 "record a metric").
func (m *Manager) DroppedCount() int64 {
	return atomic.LoadInt64(&m.droppedTotal)
}

// Close stops the exchange goroutine and terminates every live sequence.
func (m *Manager) Close() {
	close(m.done)
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, reg := range m.regs {
		reg.seq.terminate()
	}
}

func (m *Manager) exchangeLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(flushTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case tick := <-m.incoming:
			m.dispatch(tick)
		case now := <-ticker.C:
			m.flushDue(now.UTC())
		}
	}
}

func (m *Manager) dispatch(tick domain.Tick) {
	m.mu.RLock()
	regs := m.index[routeKey{symbolID: tick.Symbol().ID, tickType: tick.TickType}]
	// copy under lock, consolidate outside it: consolidator state is
	// exclusively owned by this goroutine so no further locking is needed.
	local := make([]*registration, len(regs))
	copy(local, regs)
	m.mu.RUnlock()

	for _, reg := range local {
		data, ok := reg.consolidator.Consume(tick)
		if !ok {
			continue
		}
		m.emit(reg, data)
	}
}

func (m *Manager) flushDue(now time.Time) {
	m.mu.RLock()
	local := make([]*registration, 0, len(m.regs))
	for _, reg := range m.regs {
		local = append(local, reg)
	}
	m.mu.RUnlock()

	for _, reg := range local {
		data, ok := reg.consolidator.Flush(now)
		if !ok {
			continue
		}
		m.emit(reg, data)
	}
}

func (m *Manager) emit(reg *registration, data domain.BaseData) {
	reg.seq.push(data)
	if reg.onData != nil {
		reg.onData(data)
	}
	slog.Debug("aggregation: emitted bar",
		"config", reg.config.String(),
		"end_time", data.EndTime(),
	)
}
