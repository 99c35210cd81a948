package position

import "context"

// ExitSignal is the opaque trigger produced by external strategy modules.
// The engine acts on it without interpreting the logic behind it. A Scale in
// (0,1) requests a partial close of that fraction; 0 or 1 closes fully.
type ExitSignal struct {
	ShouldExit bool
	Reason     string
	Scale      float64
}

// ExitAdvisor is an externally supplied exit recommendation source (advanced
// exit strategy, smart-exit optimizer, DCA/hedging policy). Evaluate
// receives a snapshot copy: advisors never see the live entry and cannot
// mutate it.
type ExitAdvisor interface {
	Name() string
	Evaluate(ctx context.Context, pos Position, price float64) (ExitSignal, error)
}

// MarketGauges supplies realized volatility and momentum readings for the
// trailing adaptation. Computing them is an external concern.
type MarketGauges interface {
	Volatility(symbol string) float64
	Momentum(symbol string) float64
}
