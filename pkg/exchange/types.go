package exchange

// Core trading domain types shared across exchange implementations. They stay
// venue-agnostic so additional clients can be added without touching callers.

// Side is an order direction.
type Side string

const (
	// SideBuy executes a buy.
	SideBuy Side = "buy"
	// SideSell executes a sell.
	SideSell Side = "sell"
)

// PositionSide labels an open position's direction.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// Candle is a single OHLCV bar, oldest-first when returned in series.
type Candle struct {
	Timestamp int64 // unix milliseconds, bar open time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Balance summarizes account equity.
type Balance struct {
	Equity    float64 // total account value in quote currency
	Available float64 // free margin
}

// Position captures live position details.
type Position struct {
	Instrument    string
	Side          PositionSide
	Size          float64 // contracts, always positive; Side carries direction
	EntryPrice    float64
	UnrealizedPnL float64
	Notional      float64 // position value in quote currency
	Leverage      int
}

// OrderRequest describes a market order to submit.
type OrderRequest struct {
	Instrument string
	Side       Side
	Size       float64
	Leverage   int
	ReduceOnly bool // close-only orders never open new exposure
}

// OrderResult is the normalized response after an order submission.
type OrderResult struct {
	OrderID    string
	Instrument string
	Side       Side
	Size       float64
	AvgPrice   float64
	Status     string // "filled" or "rejected"
}
