// Package exchange defines the contract between the lifecycle engine and a
// trading exchange backend. Implementations (Binance futures, test doubles)
// live in subpackages so the engine never depends on a concrete wire client.
package exchange

import "time"

// Side of an order or position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType mirrors the order types the engine submits.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopLoss   OrderType = "STOP_LOSS"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT"
	OrderTypeStopLimit  OrderType = "STOP_LIMIT"
)

// OrderRequest carries everything a backend needs to place one order.
type OrderRequest struct {
	Symbol    string
	Side      Side
	Type      OrderType
	Amount    float64
	Price     float64 // 0 for market orders
	StopPrice float64 // 0 unless stop/stop-limit
	ClientID  string  // engine-assigned, passed through for traceability
}

// OrderAck is the exchange acknowledgement of a placed order.
type OrderAck struct {
	ExchangeID   string
	Status       string // raw exchange status text
	FilledAmount float64
	AvgFillPrice float64
	AckedAt      time.Time
}

// Ticker is the last price for one symbol.
type Ticker struct {
	Symbol    string
	Price     float64
	UpdatedAt time.Time
}

// OpenPosition is an exchange-reported open position, used for reconciliation.
type OpenPosition struct {
	Symbol     string
	Side       Side
	Amount     float64
	EntryPrice float64
	Leverage   float64
}

// SymbolLimits are the static per-symbol constraints enforced by the venue.
type SymbolLimits struct {
	Symbol          string
	MinAmount       float64
	MaxAmount       float64
	StepSize        float64
	MinNotional     float64
	PricePrecision  int
	AmountPrecision int
	FetchedAt       time.Time
}
