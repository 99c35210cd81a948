// Package order implements the exchange order entity, its lifecycle state
// machine, and the manager that deduplicates and tracks every order the
// engine submits.
package order

import (
	"fmt"
	"strings"
	"time"

	"keel/internal/exchange"

	"github.com/google/uuid"
)

type State int

const (
	StatePending State = iota
	StateSubmitted
	StateOpen
	StatePartiallyFilled
	StateFilled
	StateCanceling
	StateCanceled
	StateRejected
	StateExpired
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateSubmitted:
		return "SUBMITTED"
	case StateOpen:
		return "OPEN"
	case StatePartiallyFilled:
		return "PARTIALLY_FILLED"
	case StateFilled:
		return "FILLED"
	case StateCanceling:
		return "CANCELING"
	case StateCanceled:
		return "CANCELED"
	case StateRejected:
		return "REJECTED"
	case StateExpired:
		return "EXPIRED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal states are immutable: no transition leaves them.
func (s State) Terminal() bool {
	switch s {
	case StateFilled, StateCanceled, StateRejected, StateExpired, StateFailed:
		return true
	default:
		return false
	}
}

// Fillable states are those in which the exchange may still fill the order.
func (s State) Fillable() bool {
	switch s {
	case StateSubmitted, StateOpen, StatePartiallyFilled:
		return true
	default:
		return false
	}
}

// allowedTransitions encodes the forward-only lifecycle. A state never
// appears as a target of any state it can reach, so transitions are
// monotonic by construction.
var allowedTransitions = map[State][]State{
	StatePending:         {StateSubmitted, StateRejected, StateFailed},
	StateSubmitted:       {StateOpen, StatePartiallyFilled, StateFilled, StateCanceling, StateRejected, StateExpired, StateFailed},
	StateOpen:            {StatePartiallyFilled, StateFilled, StateCanceling, StateRejected, StateExpired},
	StatePartiallyFilled: {StateFilled, StateCanceling, StateExpired},
	// A fill can land while a cancel is in flight.
	StateCanceling: {StateCanceled, StateFilled, StateFailed},
}

func transitionAllowed(from, to State) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order is the unit of exchange work. It is created PENDING by NewOrder and
// mutated only by the Manager under its lock.
type Order struct {
	ClientID   string
	ExchangeID string

	Symbol    string
	Side      exchange.Side
	Type      exchange.OrderType
	Amount    float64
	Price     float64
	StopPrice float64

	// Fingerprint identifies semantically identical requests regardless of
	// client id.
	Fingerprint string

	State            State
	FilledAmount     float64
	AverageFillPrice float64

	CreatedAt   time.Time
	SubmittedAt time.Time
	FilledAt    time.Time
	CanceledAt  time.Time

	ErrorCount    int
	LastError     string
	LastErrorTime time.Time
}

// NewOrder builds a PENDING order with a namespaced, globally unique client
// id. It has no network effect.
func NewOrder(strategy, symbol string, side exchange.Side, typ exchange.OrderType, amount, price, stopPrice float64) (*Order, error) {
	strategy = strings.TrimSpace(strategy)
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if strategy == "" {
		return nil, fmt.Errorf("strategy is required")
	}
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %v", amount)
	}
	now := time.Now()
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	o := &Order{
		ClientID:    fmt.Sprintf("%s_%s_%d_%s", strategy, symbol, now.UnixMilli(), suffix),
		Symbol:      symbol,
		Side:        side,
		Type:        typ,
		Amount:      amount,
		Price:       price,
		StopPrice:   stopPrice,
		State:       StatePending,
		CreatedAt:   now,
		Fingerprint: fingerprint(symbol, side, typ, amount, price, stopPrice),
	}
	return o, nil
}

func (o *Order) RemainingAmount() float64 {
	rem := o.Amount - o.FilledAmount
	if rem < 0 {
		return 0
	}
	return rem
}

func (o *Order) FillPercentage() float64 {
	if o.Amount <= 0 {
		return 0
	}
	return o.FilledAmount / o.Amount
}

// Request maps the order onto the exchange contract.
func (o *Order) Request() exchange.OrderRequest {
	return exchange.OrderRequest{
		Symbol:    o.Symbol,
		Side:      o.Side,
		Type:      o.Type,
		Amount:    o.Amount,
		Price:     o.Price,
		StopPrice: o.StopPrice,
		ClientID:  o.ClientID,
	}
}

// transition moves the order forward, stamping lifecycle timestamps.
// Callers hold the manager lock.
func (o *Order) transition(to State) error {
	if !transitionAllowed(o.State, to) {
		return &InvalidTransitionError{ClientID: o.ClientID, From: o.State, To: to}
	}
	o.State = to
	now := time.Now()
	switch to {
	case StateSubmitted:
		o.SubmittedAt = now
	case StateFilled:
		o.FilledAt = now
	case StateCanceled:
		o.CanceledAt = now
	}
	return nil
}

// applyFill records a cumulative fill amount. The filled amount never
// decreases, which makes duplicate and out-of-order notifications safe.
func (o *Order) applyFill(cumulative, avgPrice float64) {
	if cumulative > o.Amount {
		cumulative = o.Amount
	}
	if cumulative > o.FilledAmount {
		o.FilledAmount = cumulative
	}
	if avgPrice > 0 {
		o.AverageFillPrice = avgPrice
	}
}

func (o *Order) recordError(err error) {
	o.ErrorCount++
	o.LastError = err.Error()
	o.LastErrorTime = time.Now()
}

// terminalAt is the timestamp used for retention sweeps.
func (o *Order) terminalAt() time.Time {
	switch o.State {
	case StateFilled:
		return o.FilledAt
	case StateCanceled:
		return o.CanceledAt
	default:
		if !o.LastErrorTime.IsZero() {
			return o.LastErrorTime
		}
		return o.CreatedAt
	}
}
