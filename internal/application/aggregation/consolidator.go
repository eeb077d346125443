package aggregation

import (
	"time"

	"github.com/alejandrodnm/marketfeed/internal/domain"
)

// consolidator folds ticks into zero or more completed BaseData as period
// boundaries are crossed (spec.md §4.1 "Numeric semantics"). Consume is
// called once per matching tick; Flush is called periodically by the
// exchange loop's wall clock so a bar is emitted "when the next period
// begins or when the wall clock passes the edge, whichever comes first".
type consolidator interface {
	Consume(tick domain.Tick) (domain.BaseData, bool)
	Flush(now time.Time) (domain.BaseData, bool)
}

func newConsolidator(config domain.SubscriptionDataConfig) consolidator {
	if config.Resolution == domain.ResolutionTick {
		return &passThroughConsolidator{}
	}
	switch config.TickType {
	case domain.TickQuote:
		return &quoteBarConsolidator{period: config.Resolution.Period()}
	default:
		return &tradeBarConsolidator{period: config.Resolution.Period()}
	}
}

// passThroughConsolidator implements spec.md §4.1 "For resolution == Tick,
// the consolidator is pass-through": every matching tick is emitted
// immediately, unchanged.
type passThroughConsolidator struct{}

func (c *passThroughConsolidator) Consume(tick domain.Tick) (domain.BaseData, bool) {
	return tick, true
}

func (c *passThroughConsolidator) Flush(time.Time) (domain.BaseData, bool) { return nil, false }

// tradeBarConsolidator folds Trade ticks into TradeBar: o=first trade,
// c=last trade, h/l=max/min, volume=sum (spec.md §4.1).
type tradeBarConsolidator struct {
	period  time.Duration
	current *domain.TradeBar
}

func (c *tradeBarConsolidator) Consume(tick domain.Tick) (domain.BaseData, bool) {
	if tick.TickType != domain.TickTrade {
		return nil, false
	}
	periodStart := tick.Time().Truncate(c.period)
	periodEnd := periodStart.Add(c.period)

	if c.current == nil {
		bar := domain.NewTradeBar(tick.Symbol(), periodStart, periodEnd, c.period)
		bar.OHLC.Update(tick.Price, true)
		bar.Volume = tick.Quantity
		c.current = &bar
		return nil, false
	}

	if tick.Time().Before(c.current.EndTime()) {
		c.current.OHLC.Update(tick.Price, false)
		c.current.Volume += tick.Quantity
		return nil, false
	}

	completed := *c.current
	bar := domain.NewTradeBar(tick.Symbol(), periodStart, periodEnd, c.period)
	bar.OHLC.Update(tick.Price, true)
	bar.Volume = tick.Quantity
	c.current = &bar
	return completed, true
}

func (c *tradeBarConsolidator) Flush(now time.Time) (domain.BaseData, bool) {
	if c.current == nil || now.Before(c.current.EndTime()) {
		return nil, false
	}
	completed := *c.current
	c.current = nil
	return completed, true
}

// quoteBarConsolidator folds Quote ticks into QuoteBar, symmetric over bid
// and ask (spec.md §4.1).
type quoteBarConsolidator struct {
	period  time.Duration
	current *domain.QuoteBar
}

func (c *quoteBarConsolidator) Consume(tick domain.Tick) (domain.BaseData, bool) {
	if tick.TickType != domain.TickQuote {
		return nil, false
	}
	periodStart := tick.Time().Truncate(c.period)
	periodEnd := periodStart.Add(c.period)

	if c.current == nil {
		bar := domain.NewQuoteBar(tick.Symbol(), periodStart, periodEnd, c.period)
		bar.Bid.Update(tick.BidPrice, true)
		bar.Ask.Update(tick.AskPrice, true)
		c.current = &bar
		return nil, false
	}

	if tick.Time().Before(c.current.EndTime()) {
		c.current.Bid.Update(tick.BidPrice, false)
		c.current.Ask.Update(tick.AskPrice, false)
		return nil, false
	}

	completed := *c.current
	bar := domain.NewQuoteBar(tick.Symbol(), periodStart, periodEnd, c.period)
	bar.Bid.Update(tick.BidPrice, true)
	bar.Ask.Update(tick.AskPrice, true)
	c.current = &bar
	return completed, true
}

func (c *quoteBarConsolidator) Flush(now time.Time) (domain.BaseData, bool) {
	if c.current == nil || now.Before(c.current.EndTime()) {
		return nil, false
	}
	completed := *c.current
	c.current = nil
	return completed, true
}
