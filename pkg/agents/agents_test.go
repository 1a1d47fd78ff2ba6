package agents

import (
	"context"
	"errors"
	"sync"
	"time"

	"tradeteam/pkg/exchange"
	"tradeteam/pkg/state"
)

// stubClient is a controllable exchange for agent tests.
type stubClient struct {
	mu        sync.Mutex
	price     float64
	equity    float64
	positions []exchange.Position
	candles   []exchange.Candle

	orders    []exchange.OrderRequest
	orderErr  error
	flattened bool
}

func (c *stubClient) RefreshPrice(ctx context.Context, instrument string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.price, nil
}

func (c *stubClient) Candles(ctx context.Context, instrument, bar string, limit int) ([]exchange.Candle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.candles == nil {
		return nil, errors.New("no candles")
	}
	return c.candles, nil
}

func (c *stubClient) RefreshBalance(ctx context.Context) (*exchange.Balance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &exchange.Balance{Equity: c.equity, Available: c.equity}, nil
}

func (c *stubClient) RefreshPositions(ctx context.Context) ([]exchange.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positions, nil
}

func (c *stubClient) PlaceMarketOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.orderErr != nil {
		return nil, c.orderErr
	}
	c.orders = append(c.orders, req)
	return &exchange.OrderResult{
		OrderID:    "order_1",
		Instrument: req.Instrument,
		Side:       req.Side,
		Size:       req.Size,
		AvgPrice:   c.price,
		Status:     "filled",
	}, nil
}

func (c *stubClient) CloseAllPositions(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flattened = true
	c.positions = nil
	return nil
}

func (c *stubClient) set(fn func(*stubClient)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

func defaultBounds() state.BoundsTable {
	return state.BoundsTable{
		"leverage":          {Min: 1, Max: 25},
		"trailing_stop":     {Min: 0.03, Max: 0.20},
		"capital_use_ratio": {Min: 0.10, Max: 0.95},
	}
}

func defaultParams() map[string]float64 {
	return map[string]float64{
		"leverage":          10,
		"trailing_stop":     0.10,
		"capital_use_ratio": 0.80,
	}
}

func newTestState(c *stubClient, capital float64) *state.Store {
	return state.New(c, "BTC-USDT-SWAP", capital, defaultParams(), defaultBounds())
}

const shortWait = 10 * time.Millisecond
