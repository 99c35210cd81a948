package exchange

import "context"

// Client is the engine-facing exchange surface. Every call is fallible and
// may be wrapped in retry/circuit-breaker layers by the caller; the contract
// itself performs exactly one attempt per call.
type Client interface {
	Name() string

	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)

	CancelOrder(ctx context.Context, symbol, exchangeID string) error

	GetTicker(ctx context.Context, symbol string) (Ticker, error)

	// BatchTickers fetches last prices for all requested symbols in one
	// round-trip. Symbols missing from the response are simply absent from
	// the result map, not an error.
	BatchTickers(ctx context.Context, symbols []string) (map[string]Ticker, error)

	GetOpenPositions(ctx context.Context) ([]OpenPosition, error)

	GetSymbolLimits(ctx context.Context, symbol string) (SymbolLimits, error)
}
