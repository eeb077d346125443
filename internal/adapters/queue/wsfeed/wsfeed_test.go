package wsfeed

import (
	"testing"

	"github.com/alejandrodnm/marketfeed/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestDecode_Trade(t *testing.T) {
	tick, ok := decode(wireTick{SymbolID: "US:Equity:SPY", TickType: "Trade", Price: 101.5, Quantity: 10, TimestampMs: 1704196800000})
	require.True(t, ok)
	require.Equal(t, domain.TickTrade, tick.TickType)
	require.Equal(t, 101.5, tick.Price)
	require.Equal(t, 10.0, tick.Quantity)
}

func TestDecode_Quote(t *testing.T) {
	tick, ok := decode(wireTick{SymbolID: "US:Equity:SPY", TickType: "Quote", BidPrice: 100, BidSize: 5, AskPrice: 101, AskSize: 7})
	require.True(t, ok)
	require.Equal(t, domain.TickQuote, tick.TickType)
	require.Equal(t, 100.0, tick.BidPrice)
	require.Equal(t, 101.0, tick.AskPrice)
}

func TestDecode_UnknownTickTypeRejected(t *testing.T) {
	_, ok := decode(wireTick{SymbolID: "US:Equity:SPY", TickType: "Unknown"})
	require.False(t, ok)
}

func TestHandler_SubscribeRejectsCanonicalSymbol(t *testing.T) {
	h := New("wss://example.invalid/feed")
	canonical := domain.NewCanonicalOption("US", "GOOG")
	cfg := domain.SubscriptionDataConfig{Symbol: canonical, Resolution: domain.ResolutionTick, TickType: domain.TickTrade}

	_, err := h.Subscribe(cfg, nil)
	require.Error(t, err)
}
