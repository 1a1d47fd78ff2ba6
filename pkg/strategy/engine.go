package strategy

import (
	"errors"

	"github.com/zeromicro/go-zero/core/logx"

	"tradeteam/pkg/exchange"
)

var (
	// ErrPositionOpen is returned when opening over an existing position.
	ErrPositionOpen = errors.New("strategy: position already open")
	// ErrNoPosition is returned when closing with no open position.
	ErrNoPosition = errors.New("strategy: no open position")
)

// effectiveCapitalRatio reserves a margin buffer so fills and fees cannot
// push the pool past its allocation.
const effectiveCapitalRatio = 0.95

// Engine couples the capital-pool state machine with position bookkeeping.
// It mirrors fills reported by the executor so the pools see realized PnL
// even while the shadow pool is running on paper.
type Engine struct {
	pool *DualPool
	pos  *Position
}

// NewEngine starts the engine flat, in live mode.
func NewEngine(initialBalance, stopLossRatio, reentryGainRatio float64) *Engine {
	return &Engine{pool: NewDualPool(initialBalance, stopLossRatio, reentryGainRatio)}
}

// Pool exposes the capital-pool state machine.
func (e *Engine) Pool() *DualPool { return e.pool }

// Position returns the open position, or nil when flat.
func (e *Engine) Position() *Position { return e.pos }

// HasPosition reports whether a position is open.
func (e *Engine) HasPosition() bool { return e.pos != nil }

// Direction returns the open position's side; PositionLong when flat is
// never read because callers check HasPosition first.
func (e *Engine) Direction() exchange.PositionSide {
	if e.pos == nil {
		return exchange.PositionLong
	}
	return e.pos.Side
}

// PositionSize computes the contract size for a new entry from the active
// pool balance, the capital-use ratio and leverage.
func (e *Engine) PositionSize(price float64, p Params) float64 {
	if price <= 0 {
		return 0
	}
	notional := e.pool.ActiveBalance() * effectiveCapitalRatio * p.CapitalUse * p.Leverage
	return notional / price
}

// Track updates the trailing-stop watermark on a price tick.
func (e *Engine) Track(price float64) {
	if e.pos != nil {
		e.pos.Track(price)
	}
}

// TrailingStopHit reports whether the open position's trailing stop fired.
func (e *Engine) TrailingStopHit(price, ratio float64) bool {
	return e.pos != nil && e.pos.TrailingStopHit(price, ratio)
}

// Opened records a filled entry.
func (e *Engine) Opened(side exchange.PositionSide, price, size float64) error {
	if e.pos != nil {
		return ErrPositionOpen
	}
	e.pos = OpenPosition(side, price, size)
	logx.Infof("[strategy] opened %s %.6f @ %.2f (pool=%s)", side, size, price, e.pool.Mode())
	return nil
}

// Closed records a filled exit, folds the net PnL into the active pool and
// evaluates the pool switch. Fees are charged on both the entry and the exit
// notional. Returns the net PnL.
func (e *Engine) Closed(price, feeRate float64) (float64, error) {
	if e.pos == nil {
		return 0, ErrNoPosition
	}
	gross := e.pos.GrossPnL(price)
	fees := (e.pos.EntryPrice + price) * e.pos.Size * feeRate
	net := gross - fees
	e.pos = nil

	e.pool.ApplyPnL(net)
	e.pool.CheckSwitch()
	logx.Infof("[strategy] closed @ %.2f pnl=%.4f (pool=%s balance=%.2f)", price, net, e.pool.Mode(), e.pool.ActiveBalance())
	return net, nil
}
