package redisfeed

import (
	"testing"

	"github.com/alejandrodnm/marketfeed/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestDecodeTick_Trade(t *testing.T) {
	sym := domain.NewEquitySymbol("US", "SPY")
	tick, err := decodeTick(sym, `{"tick_type":"Trade","price":101.5,"quantity":3,"timestamp_ms":1704196800000}`)
	require.NoError(t, err)
	require.Equal(t, domain.TickTrade, tick.TickType)
	require.Equal(t, 101.5, tick.Price)
}

func TestDecodeTick_UnknownTickType(t *testing.T) {
	sym := domain.NewEquitySymbol("US", "SPY")
	_, err := decodeTick(sym, `{"tick_type":"Bogus"}`)
	require.Error(t, err)
}

func TestDecodeTick_MalformedJSON(t *testing.T) {
	sym := domain.NewEquitySymbol("US", "SPY")
	_, err := decodeTick(sym, `not json`)
	require.Error(t, err)
}

func TestHandler_SubscribeRejectsCanonicalSymbol(t *testing.T) {
	h := New(nil, "marketfeed")
	canonical := domain.NewCanonicalOption("US", "GOOG")
	cfg := domain.SubscriptionDataConfig{Symbol: canonical, Resolution: domain.ResolutionTick, TickType: domain.TickTrade}

	_, err := h.Subscribe(cfg, nil)
	require.Error(t, err)
}
