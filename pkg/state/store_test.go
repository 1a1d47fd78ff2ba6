package state

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeteam/pkg/exchange"
)

// stubClient feeds deterministic values into the store's refresh paths.
type stubClient struct {
	price     float64
	priceErr  error
	equity    float64
	balErr    error
	positions []exchange.Position
}

func (c *stubClient) RefreshPrice(ctx context.Context, instrument string) (float64, error) {
	return c.price, c.priceErr
}

func (c *stubClient) Candles(ctx context.Context, instrument, bar string, limit int) ([]exchange.Candle, error) {
	return nil, errors.New("not implemented")
}

func (c *stubClient) RefreshBalance(ctx context.Context) (*exchange.Balance, error) {
	if c.balErr != nil {
		return nil, c.balErr
	}
	return &exchange.Balance{Equity: c.equity, Available: c.equity}, nil
}

func (c *stubClient) RefreshPositions(ctx context.Context) ([]exchange.Position, error) {
	return c.positions, nil
}

func (c *stubClient) PlaceMarketOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	return nil, errors.New("not implemented")
}

func (c *stubClient) CloseAllPositions(ctx context.Context) error { return nil }

func newTestStore(c *stubClient) *Store {
	params := map[string]float64{"leverage": 10, "trailing_stop": 0.10}
	bounds := BoundsTable{
		"leverage":      {Min: 1, Max: 25},
		"trailing_stop": {Min: 0.03, Max: 0.20},
	}
	return New(c, "BTC-USDT-SWAP", 100, params, bounds)
}

func TestDrawdownTracksPeakEquity(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{}
	s := newTestStore(client)

	// Equity path from the drawdown scenario: peak rides up to 110, then
	// equity falls to 99 (10% drawdown) and 94 (~14.5%).
	steps := []struct {
		equity   float64
		peak     float64
		drawdown float64
	}{
		{100, 100, 0},
		{105, 105, 0},
		{110, 110, 0},
		{99, 110, 0.10},
		{94, 110, 0.1454545},
	}
	for _, step := range steps {
		client.equity = step.equity
		_, err := s.RefreshBalance(ctx)
		require.NoError(t, err)
		assert.InDelta(t, step.peak, s.PeakEquity(), 1e-9)
		assert.InDelta(t, step.drawdown, s.GetDrawdownPct(), 1e-6)
	}
}

func TestDrawdownNeverNegative(t *testing.T) {
	client := &stubClient{equity: 150}
	s := newTestStore(client)
	_, err := s.RefreshBalance(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, s.GetDrawdownPct(), 0.0)
}

func TestRefreshBalanceErrorLeavesCacheIntact(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{equity: 120}
	s := newTestStore(client)
	_, err := s.RefreshBalance(ctx)
	require.NoError(t, err)

	client.balErr = errors.New("exchange down")
	_, err = s.RefreshBalance(ctx)
	assert.Error(t, err)
	assert.InDelta(t, 120, s.CurrentEquity(), 1e-9, "cached equity survives a failed refresh")
}

func TestEmergencyStopImpliesEntryBlocked(t *testing.T) {
	s := newTestStore(&stubClient{})

	assert.False(t, s.IsEntryBlocked())
	s.SetEmergencyStop("drawdown 15%")
	assert.True(t, s.IsEmergencyStopped())
	assert.True(t, s.IsEntryBlocked(), "emergency stop implies entries blocked")

	// Clearing the emergency stop does not clear an explicit entry block.
	s.SetEntryBlocked(true, "drawdown 10%")
	s.ClearEmergencyStop()
	assert.False(t, s.IsEmergencyStopped())
	assert.True(t, s.IsEntryBlocked())

	s.SetEntryBlocked(false, "")
	assert.False(t, s.IsEntryBlocked())
}

func TestUpdateStrategyParamsEnforcesBounds(t *testing.T) {
	s := newTestStore(&stubClient{})

	err := s.UpdateStrategyParams(map[string]float64{"leverage": 30})
	require.Error(t, err)
	assert.InDelta(t, 10, s.StrategyParams()["leverage"], 1e-9, "rejected batch must not be applied")

	// A batch with one bad value is rejected atomically.
	err = s.UpdateStrategyParams(map[string]float64{"leverage": 12, "trailing_stop": 0.50})
	require.Error(t, err)
	assert.InDelta(t, 10, s.StrategyParams()["leverage"], 1e-9)

	require.NoError(t, s.UpdateStrategyParams(map[string]float64{"leverage": 12, "trailing_stop": 0.12}))
	params := s.StrategyParams()
	assert.InDelta(t, 12, params["leverage"], 1e-9)
	assert.InDelta(t, 0.12, params["trailing_stop"], 1e-9)
}

func TestRecordTradeAccumulatesProfit(t *testing.T) {
	s := newTestStore(&stubClient{})
	s.RecordTrade(TradeRecord{Action: "SELL", PnL: 5})
	s.RecordTrade(TradeRecord{Action: "SELL", PnL: -2})
	assert.InDelta(t, 3, s.CumulativeProfit(), 1e-9)
	assert.Len(t, s.TradeHistory(0), 2)
	assert.Len(t, s.TradeHistory(1), 1)
}

func TestPositionDirection(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{}
	s := newTestStore(client)
	assert.Equal(t, "none", s.PositionDirection())

	client.positions = []exchange.Position{{Instrument: "BTC-USDT-SWAP", Side: exchange.PositionShort, Size: 1}}
	_, err := s.RefreshPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, "short", s.PositionDirection())
	assert.True(t, s.HasOpenPosition())
}

func TestStatusSnapshot(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{equity: 110, price: 50000}
	s := newTestStore(client)
	_, err := s.RefreshBalance(ctx)
	require.NoError(t, err)
	_, err = s.RefreshPrice(ctx)
	require.NoError(t, err)

	st := s.Status()
	assert.Equal(t, "BTC-USDT-SWAP", st.Instrument)
	assert.InDelta(t, 110, st.CurrentEquity, 1e-9)
	assert.InDelta(t, 10, st.CurrentPnL, 1e-9)
	assert.InDelta(t, 50000, st.CurrentPrice, 1e-9)
	assert.False(t, st.EmergencyStopped)
}
