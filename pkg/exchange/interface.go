package exchange

import "context"

// Client exposes the market-data and order-execution capabilities the trading
// team consumes, in a venue-agnostic fashion. Implementations are assumed
// synchronous and fallible; callers decide whether to retry.
type Client interface {
	// Market data.
	RefreshPrice(ctx context.Context, instrument string) (float64, error)
	Candles(ctx context.Context, instrument, bar string, limit int) ([]Candle, error)

	// Account information.
	RefreshBalance(ctx context.Context) (*Balance, error)
	RefreshPositions(ctx context.Context) ([]Position, error)

	// Order execution.
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	CloseAllPositions(ctx context.Context) error
}
