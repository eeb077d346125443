package domain

import "time"

// PriceBar is the subset of BaseData the fill-forward filter needs: a
// closing price to carry forward and a way to stamp out a synthetic copy at
// a new time window (spec.md §4.2).
type PriceBar interface {
	BaseData
	ClosePrice() float64
	SyntheticCopy(start, end time.Time) BaseData
}

// ClosePrice returns the bar's close, the price a fill-forward bar carries
// forward unchanged.
func (b TradeBar) ClosePrice() float64 { return b.Close }

// SyntheticCopy returns a zero-volume TradeBar at [start, end) whose OHLC is
// flat at b's close, with IsFillForward set (spec.md §4.2 step 2).
func (b TradeBar) SyntheticCopy(start, end time.Time) BaseData {
	price := b.Close
	return TradeBar{
		baseFields:    baseFields{Sym: b.Sym, T: start, End: end},
		OHLC:          OHLC{Open: price, High: price, Low: price, Close: price},
		Volume:        0,
		Period:        end.Sub(start),
		IsFillForward: true,
	}
}

// ClosePrice returns the bar's ask close as the representative price; quote
// bars carry forward both bid and ask flat at their respective closes.
func (b QuoteBar) ClosePrice() float64 { return b.Ask.Close }

// SyntheticCopy returns a zero-size QuoteBar at [start, end) flat at b's
// bid/ask closes, with IsFillForward set.
func (b QuoteBar) SyntheticCopy(start, end time.Time) BaseData {
	bid, ask := b.Bid.Close, b.Ask.Close
	return QuoteBar{
		baseFields:    baseFields{Sym: b.Sym, T: start, End: end},
		Bid:           OHLC{Open: bid, High: bid, Low: bid, Close: bid},
		Ask:           OHLC{Open: ask, High: ask, Low: ask, Close: ask},
		Period:        end.Sub(start),
		IsFillForward: true,
	}
}
