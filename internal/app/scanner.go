package app

import (
	"context"

	"keel/internal/exchange"
)

// EntryProposal is an opaque entry decision produced by an external strategy
// module. The engine executes it; it does not judge it.
type EntryProposal struct {
	Symbol     string
	Side       exchange.Side
	Type       exchange.OrderType
	Amount     float64
	Price      float64
	StopPrice  float64
	Leverage   float64
	StopLoss   float64
	TakeProfit float64
}

// EntryAdvisor is the strategy collaborator the scanner loop polls for new
// entries.
type EntryAdvisor interface {
	Name() string
	ProposeEntries(ctx context.Context) ([]EntryProposal, error)
}
