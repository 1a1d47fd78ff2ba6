package sim

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"tradeteam/pkg/exchange"
)

const (
	defaultInitialEquity = 100.0
	defaultFeeRate       = 0.0005 // taker fee per side
)

// Client is a paper-trading exchange that keeps prices, positions and equity
// in memory. It backs tests and dry runs; fills are immediate at the current
// mark price.
type Client struct {
	mu sync.Mutex

	cash      float64
	feeRate   float64
	markPx    map[string]float64
	candles   map[string][]exchange.Candle
	positions map[string]*exchange.Position
}

// Option customises the simulator.
type Option func(*Client)

// WithInitialEquity sets the starting cash balance.
func WithInitialEquity(equity float64) Option {
	return func(c *Client) {
		if equity > 0 {
			c.cash = equity
		}
	}
}

// WithFeeRate overrides the per-side taker fee.
func WithFeeRate(rate float64) Option {
	return func(c *Client) {
		if rate >= 0 {
			c.feeRate = rate
		}
	}
}

// New constructs a simulator with default equity.
func New(opts ...Option) *Client {
	c := &Client{
		cash:      defaultInitialEquity,
		feeRate:   defaultFeeRate,
		markPx:    make(map[string]float64),
		candles:   make(map[string][]exchange.Candle),
		positions: make(map[string]*exchange.Position),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func canonical(instrument string) string {
	return strings.ToUpper(strings.TrimSpace(instrument))
}

// SetPrice updates the mark price used for fills and unrealized PnL.
func (c *Client) SetPrice(instrument string, price float64) error {
	if price <= 0 {
		return fmt.Errorf("sim: mark price must be positive")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	inst := canonical(instrument)
	c.markPx[inst] = price
	if pos, ok := c.positions[inst]; ok {
		c.refreshUnrealizedLocked(pos, price)
	}
	return nil
}

// LoadCandles replaces the candle series served for an instrument.
func (c *Client) LoadCandles(instrument string, candles []exchange.Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candles[canonical(instrument)] = append([]exchange.Candle(nil), candles...)
	if len(candles) > 0 {
		last := candles[len(candles)-1]
		c.markPx[canonical(instrument)] = last.Close
	}
}

// RefreshPrice implements exchange.Client.
func (c *Client) RefreshPrice(ctx context.Context, instrument string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	px, ok := c.markPx[canonical(instrument)]
	if !ok {
		return 0, fmt.Errorf("sim: no mark price for %s", instrument)
	}
	return px, nil
}

// Candles implements exchange.Client. The most recent `limit` bars are
// returned oldest-first, matching live venue APIs.
func (c *Client) Candles(ctx context.Context, instrument, bar string, limit int) ([]exchange.Candle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	series, ok := c.candles[canonical(instrument)]
	if !ok {
		return nil, fmt.Errorf("sim: no candles loaded for %s", instrument)
	}
	if limit > 0 && len(series) > limit {
		series = series[len(series)-limit:]
	}
	return append([]exchange.Candle(nil), series...), nil
}

// RefreshBalance implements exchange.Client. Equity is cash plus the
// unrealized PnL of every open position.
func (c *Client) RefreshBalance(ctx context.Context) (*exchange.Balance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	equity := c.cash
	margin := 0.0
	for inst, pos := range c.positions {
		if px, ok := c.markPx[inst]; ok {
			c.refreshUnrealizedLocked(pos, px)
		}
		equity += pos.UnrealizedPnL
		if pos.Leverage > 0 {
			margin += pos.Notional / float64(pos.Leverage)
		}
	}
	return &exchange.Balance{Equity: equity, Available: equity - margin}, nil
}

// RefreshPositions implements exchange.Client.
func (c *Client) RefreshPositions(ctx context.Context) ([]exchange.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]exchange.Position, 0, len(c.positions))
	for inst, pos := range c.positions {
		if px, ok := c.markPx[inst]; ok {
			c.refreshUnrealizedLocked(pos, px)
		}
		out = append(out, *pos)
	}
	return out, nil
}

// PlaceMarketOrder implements exchange.Client. Orders fill synchronously at
// the current mark price; reduce-only orders close the standing position.
func (c *Client) PlaceMarketOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	if req.Size <= 0 {
		return nil, fmt.Errorf("sim: order size must be positive")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	inst := canonical(req.Instrument)
	px, ok := c.markPx[inst]
	if !ok {
		return nil, fmt.Errorf("sim: no mark price for %s", inst)
	}

	notional := req.Size * px
	fee := notional * c.feeRate

	pos, open := c.positions[inst]
	switch {
	case req.ReduceOnly || open && c.orderReduces(pos, req.Side):
		if !open {
			return nil, fmt.Errorf("sim: no position to reduce on %s", inst)
		}
		c.cash += c.realizedLocked(pos, px) - fee
		delete(c.positions, inst)
	case open:
		return nil, fmt.Errorf("sim: position already open on %s", inst)
	default:
		side := exchange.PositionLong
		if req.Side == exchange.SideSell {
			side = exchange.PositionShort
		}
		lev := req.Leverage
		if lev <= 0 {
			lev = 1
		}
		c.cash -= fee
		c.positions[inst] = &exchange.Position{
			Instrument: inst,
			Side:       side,
			Size:       req.Size,
			EntryPrice: px,
			Notional:   notional,
			Leverage:   lev,
		}
	}

	return &exchange.OrderResult{
		OrderID:    "sim_" + uuid.NewString()[:8],
		Instrument: inst,
		Side:       req.Side,
		Size:       req.Size,
		AvgPrice:   px,
		Status:     "filled",
	}, nil
}

// CloseAllPositions implements exchange.Client.
func (c *Client) CloseAllPositions(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for inst, pos := range c.positions {
		px, ok := c.markPx[inst]
		if !ok {
			px = pos.EntryPrice
		}
		fee := pos.Size * px * c.feeRate
		c.cash += c.realizedLocked(pos, px) - fee
		delete(c.positions, inst)
	}
	return nil
}

func (c *Client) orderReduces(pos *exchange.Position, side exchange.Side) bool {
	if pos.Side == exchange.PositionLong {
		return side == exchange.SideSell
	}
	return side == exchange.SideBuy
}

func (c *Client) realizedLocked(pos *exchange.Position, px float64) float64 {
	diff := px - pos.EntryPrice
	if pos.Side == exchange.PositionShort {
		diff = -diff
	}
	return diff * pos.Size
}

func (c *Client) refreshUnrealizedLocked(pos *exchange.Position, px float64) {
	pos.UnrealizedPnL = c.realizedLocked(pos, px)
	pos.Notional = pos.Size * px
}
