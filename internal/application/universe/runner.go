package universe

import (
	"fmt"
	"sort"
	"time"

	"github.com/alejandrodnm/marketfeed/internal/domain"
)

// Runner pairs a domain.Universe with the Trigger that decides when its
// selection function runs.
type Runner struct {
	Universe *domain.Universe
	Trigger  Trigger
}

// NewRunner returns a Runner for universe, scheduled by trigger.
func NewRunner(u *domain.Universe, trigger Trigger) *Runner {
	return &Runner{Universe: u, Trigger: trigger}
}

// Poll runs the universe's selection function if the trigger says now is
// due, and diffs the result against current members. ok is false when no
// selection ran at this call.
func (r *Runner) Poll(now time.Time) (changes domain.SecurityChanges, ok bool, err error) {
	if !r.Trigger.ShouldSelect(now, r.Universe) {
		return domain.SecurityChanges{}, false, nil
	}
	selected, err := r.Universe.Select(now)
	if err != nil {
		return domain.SecurityChanges{}, false, fmt.Errorf("universe %s: selection failed: %w", r.Universe.Name, err)
	}
	return r.Universe.ApplySelection(now, selected), true, nil
}

// ChainLookup expands a canonical option/future symbol into its tradable
// contracts, the way ports.DataQueueHandler.LookupSymbols does, filtered to
// those not expired before startDate — expired contracts are never
// subscribed on the live data queue, even during warmup (spec.md §4.3
// "Chain expansion").
type ChainLookup func(canonical domain.Symbol, includeExpired bool) ([]domain.Symbol, error)

// NewChainSelectionFunc builds a domain.SelectionFunc for a Chain universe:
// it looks up the canonical symbol's current contracts and drops any that
// expired before startDate.
func NewChainSelectionFunc(canonical domain.Symbol, startDateUnixDay int64, lookup ChainLookup) domain.SelectionFunc {
	return func(time.Time) ([]domain.Symbol, error) {
		contracts, err := lookup(canonical, false)
		if err != nil {
			return nil, fmt.Errorf("chain lookup for %s: %w", canonical.String(), err)
		}
		live := contracts[:0:0]
		for _, c := range contracts {
			if c.Expiry != 0 && c.Expiry < startDateUnixDay {
				continue
			}
			live = append(live, c)
		}
		return live, nil
	}
}

// MappedContractSelector picks which single contract of a continuous
// future's chain is "mapped" as of a given day, per
// domain.SubscriptionDataConfig.MappingMode/ContractDepthOffset (spec.md
// §4.5 "Continuous futures: on each selection, the canonical symbol's
// mapped is recomputed").
type MappedContractSelector struct {
	Mode        domain.DataMappingMode
	DepthOffset int
}

// Select returns the DepthOffset-th contract (0 = front month) still live
// as of asOfUnixDay, ordered by ascending expiry. MappingLastTradingDay and
// MappingFirstDayMonth both roll strictly on expiry — the difference
// between them is the upstream roll date ChainLookup/cutoff uses to decide
// a contract is no longer live, not the ordering here. MappingOpenInterest
// falls back to the same expiry ordering: this engine has no open-interest
// feed to rank contracts by, so it behaves like MappingLastTradingDay until
// one is wired.
func (m MappedContractSelector) Select(contracts []domain.Symbol, asOfUnixDay int64) (domain.Symbol, bool) {
	live := make([]domain.Symbol, 0, len(contracts))
	for _, c := range contracts {
		if c.Expiry != 0 && c.Expiry <= asOfUnixDay {
			continue
		}
		live = append(live, c)
	}
	sort.Slice(live, func(i, j int) bool { return live[i].Expiry < live[j].Expiry })

	idx := m.DepthOffset
	if idx < 0 {
		idx = 0
	}
	if idx >= len(live) {
		return domain.Symbol{}, false
	}
	return live[idx], true
}

// NewContinuousSelectionFunc builds a domain.SelectionFunc for a Continuous
// Future universe (spec.md §4.5): each selection looks up the canonical's
// current chain and recomputes the single mapped contract via selector. The
// returned slice holds at most one symbol, so Universe.ApplySelection's
// existing diff against the previous selection naturally produces a
// Removed+Added SecurityChanges the moment the mapped contract rolls —
// exactly the teardown/replace the canonical symbol's subscribers need,
// reusing the same mechanism NewChainSelectionFunc's caller already relies
// on rather than inventing a parallel one.
func NewContinuousSelectionFunc(canonical domain.Symbol, lookup ChainLookup, selector MappedContractSelector) domain.SelectionFunc {
	return func(now time.Time) ([]domain.Symbol, error) {
		contracts, err := lookup(canonical, false)
		if err != nil {
			return nil, fmt.Errorf("continuous lookup for %s: %w", canonical.String(), err)
		}
		mapped, ok := selector.Select(contracts, unixDay(now))
		if !ok {
			return nil, nil
		}
		return []domain.Symbol{mapped}, nil
	}
}

// unixDay converts t to the same unix-day unit domain.Symbol.Expiry uses.
func unixDay(t time.Time) int64 {
	return t.Unix() / 86400
}
