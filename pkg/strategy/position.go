package strategy

import (
	"tradeteam/pkg/exchange"
)

// Position is the engine's view of the single open position on the traded
// instrument. The peak price since entry feeds the trailing stop and moves
// only in the position's favor.
type Position struct {
	Side       exchange.PositionSide
	EntryPrice float64
	Size       float64

	peak float64
}

// OpenPosition records a fresh entry with the peak watermark at the entry
// price.
func OpenPosition(side exchange.PositionSide, entryPrice, size float64) *Position {
	return &Position{
		Side:       side,
		EntryPrice: entryPrice,
		Size:       size,
		peak:       entryPrice,
	}
}

// Track folds a price tick into the watermark. For longs the peak never
// decreases; for shorts it never increases.
func (p *Position) Track(price float64) {
	if p.Side == exchange.PositionLong {
		if price > p.peak {
			p.peak = price
		}
		return
	}
	if price < p.peak {
		p.peak = price
	}
}

// Peak returns the current watermark.
func (p *Position) Peak() float64 { return p.peak }

// StopLevel returns the trailing stop price for the given ratio.
func (p *Position) StopLevel(ratio float64) float64 {
	if p.Side == exchange.PositionLong {
		return p.peak * (1 - ratio)
	}
	return p.peak * (1 + ratio)
}

// TrailingStopHit reports whether price has crossed the trailing stop level.
func (p *Position) TrailingStopHit(price, ratio float64) bool {
	if p.Side == exchange.PositionLong {
		return price <= p.StopLevel(ratio)
	}
	return price >= p.StopLevel(ratio)
}

// GrossPnL is the directional price move times size, before fees.
func (p *Position) GrossPnL(exitPrice float64) float64 {
	if p.Side == exchange.PositionLong {
		return (exitPrice - p.EntryPrice) * p.Size
	}
	return (p.EntryPrice - exitPrice) * p.Size
}
