package order

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"keel/internal/exchange"
	"keel/internal/logger"
)

const defaultDebounceWindow = time.Second

// fill tolerance for float accumulation on cumulative fills.
const fillEpsilon = 1e-9

// SubmitResult is the value-level outcome of a submission attempt. Dedup and
// debounce rejections arrive here with Accepted=false and a nil error.
type SubmitResult struct {
	Accepted bool
	Reason   string
	Order    *Order
}

// CancelResult is the value-level outcome of a cancel attempt.
type CancelResult struct {
	Canceled bool
	Reason   string
}

// StatusUpdate carries a fill/status notification from the exchange.
// CumulativeFilled is the total filled so far, not a delta.
type StatusUpdate struct {
	ExchangeID       string
	ClientID         string
	CumulativeFilled float64
	AvgFillPrice     float64
	ExchangeStatus   string // optional raw status: CANCELED, REJECTED, EXPIRED
}

// Stats counts lifecycle outcomes. Terminal counters increment exactly once
// per transition, never per notification.
type Stats struct {
	Created    int64
	Submitted  int64
	Debounced  int64
	Duplicates int64
	Filled     int64
	Canceled   int64
	Rejected   int64
	Expired    int64
	Failed     int64
	Active     int
}

// Manager owns every tracked order. One mutex guards the order maps and the
// fingerprint/debounce table; every public mutating call acquires it before
// reading or writing shared state, so concurrent callers (scanner, position
// monitor, strategy modules) cannot interleave check-then-act sequences.
// Network calls always execute outside the critical section and their
// results are applied back under a re-acquired lock.
type Manager struct {
	client   exchange.Client
	debounce time.Duration

	mu           sync.Mutex
	byClientID   map[string]*Order
	byExchangeID map[string]*Order
	lastSubmit   map[string]time.Time // fingerprint -> last accepted submit
	stats        Stats
}

type Option func(*Manager)

func WithDebounceWindow(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.debounce = d
		}
	}
}

func NewManager(client exchange.Client, opts ...Option) *Manager {
	m := &Manager{
		client:       client,
		debounce:     defaultDebounceWindow,
		byClientID:   make(map[string]*Order),
		byExchangeID: make(map[string]*Order),
		lastSubmit:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateOrder is the pure constructor entry point; it only counts creation.
func (m *Manager) CreateOrder(strategy, symbol string, side exchange.Side, typ exchange.OrderType, amount, price, stopPrice float64) (*Order, error) {
	o, err := NewOrder(strategy, symbol, side, typ, amount, price, stopPrice)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.stats.Created++
	m.mu.Unlock()
	return o, nil
}

// Submit validates, deduplicates, and places the order. The whole
// check-then-act sequence runs under the manager lock: the debounce slot and
// the PENDING->SUBMITTED transition are taken atomically before the exchange
// call, so a concurrent retry of the same intent is rejected instead of
// producing a second live order. The manager never retries internally;
// retrying is the caller's concern.
func (m *Manager) Submit(ctx context.Context, o *Order) (SubmitResult, error) {
	if o == nil {
		return SubmitResult{}, fmt.Errorf("nil order")
	}

	m.mu.Lock()
	if o.State != StatePending {
		m.mu.Unlock()
		return SubmitResult{}, &InvalidTransitionError{ClientID: o.ClientID, From: o.State, To: StateSubmitted}
	}
	if last, ok := m.lastSubmit[o.Fingerprint]; ok && time.Since(last) < m.debounce {
		m.stats.Debounced++
		m.mu.Unlock()
		logger.Debugf("order %s debounced (fingerprint %s submitted %s ago)", o.ClientID, o.Fingerprint, time.Since(last))
		return SubmitResult{Accepted: false, Reason: ReasonDebounced, Order: o}, nil
	}
	if dup := m.fillableByFingerprintLocked(o.Fingerprint); dup != nil {
		m.stats.Duplicates++
		m.mu.Unlock()
		logger.Debugf("order %s rejected: duplicate of fillable %s", o.ClientID, dup.ClientID)
		return SubmitResult{Accepted: false, Reason: ReasonDuplicateOrder, Order: o}, nil
	}
	// Reserve the debounce slot and transition before releasing the lock so
	// a concurrent caller sees this intent as taken while the network call
	// is in flight.
	m.lastSubmit[o.Fingerprint] = time.Now()
	if err := o.transition(StateSubmitted); err != nil {
		m.mu.Unlock()
		return SubmitResult{}, err
	}
	m.byClientID[o.ClientID] = o
	m.mu.Unlock()

	ack, err := m.client.PlaceOrder(ctx, o.Request())

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		// A racing fill may have made the order terminal while the call was
		// in flight; terminal orders stay immutable.
		if !o.State.Terminal() {
			o.recordError(err)
			if terr := o.transition(StateFailed); terr == nil {
				m.noteTerminalLocked(StateFailed)
			}
		}
		logger.Errorf("order %s (%s %s %s) submission failed: %v", o.ClientID, o.Symbol, o.Side, o.Type, err)
		return SubmitResult{Accepted: false, Reason: ReasonSubmissionFailed, Order: o},
			&SubmissionError{ClientID: o.ClientID, Symbol: o.Symbol, Err: err}
	}

	o.ExchangeID = ack.ExchangeID
	if ack.ExchangeID != "" {
		m.byExchangeID[ack.ExchangeID] = o
	}
	if terr := o.transition(StateOpen); terr != nil {
		// A status update raced ahead of the ack; the order already moved on.
		logger.Debugf("order %s ack applied after state advanced to %s", o.ClientID, o.State)
	}
	m.stats.Submitted++
	if ack.FilledAmount > 0 {
		m.applyFillLocked(o, ack.FilledAmount, ack.AvgFillPrice)
	}
	logger.Infof("order %s submitted: %s %s %s amount=%v state=%s exchange_id=%s",
		o.ClientID, o.Symbol, o.Side, o.Type, o.Amount, o.State, o.ExchangeID)
	return SubmitResult{Accepted: true, Order: o}, nil
}

// UpdateStatus applies a fill/status notification. It is idempotent with
// respect to repeated and out-of-order delivery: the cumulative filled
// amount only increases and terminal counters fire once.
func (m *Manager) UpdateStatus(u StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o := m.lookupLocked(u.ExchangeID, u.ClientID)
	if o == nil {
		return fmt.Errorf("unknown order (exchange_id=%s client_id=%s)", u.ExchangeID, u.ClientID)
	}
	if o.State.Terminal() {
		return nil
	}

	m.applyFillLocked(o, u.CumulativeFilled, u.AvgFillPrice)
	if o.State.Terminal() {
		return nil
	}

	switch strings.ToUpper(strings.TrimSpace(u.ExchangeStatus)) {
	case "CANCELED", "CANCELLED":
		if o.State != StateCanceling {
			if err := o.transition(StateCanceling); err != nil {
				return err
			}
		}
		if err := o.transition(StateCanceled); err != nil {
			return err
		}
		m.noteTerminalLocked(StateCanceled)
	case "REJECTED":
		if err := o.transition(StateRejected); err != nil {
			return err
		}
		m.noteTerminalLocked(StateRejected)
	case "EXPIRED":
		if err := o.transition(StateExpired); err != nil {
			return err
		}
		m.noteTerminalLocked(StateExpired)
	}
	return nil
}

// Cancel moves a fillable order through CANCELING to CANCELED. Terminal and
// non-fillable orders are rejected as values. A CANCELING order may be
// retried after a failed cancel call.
func (m *Manager) Cancel(ctx context.Context, clientID string) (CancelResult, error) {
	m.mu.Lock()
	o := m.byClientID[clientID]
	if o == nil {
		m.mu.Unlock()
		return CancelResult{}, fmt.Errorf("unknown order %s", clientID)
	}
	if o.State.Terminal() {
		m.mu.Unlock()
		return CancelResult{Canceled: false, Reason: ReasonAlreadyTerminal}, nil
	}
	if o.State != StateCanceling {
		if !o.State.Fillable() {
			m.mu.Unlock()
			return CancelResult{Canceled: false, Reason: ReasonNotFillable}, nil
		}
		if err := o.transition(StateCanceling); err != nil {
			m.mu.Unlock()
			return CancelResult{}, err
		}
	}
	symbol, exchangeID := o.Symbol, o.ExchangeID
	m.mu.Unlock()

	err := m.client.CancelOrder(ctx, symbol, exchangeID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		o.recordError(err)
		logger.Warnf("order %s cancel failed (stays CANCELING): %v", clientID, err)
		return CancelResult{Canceled: false, Reason: ReasonSubmissionFailed}, fmt.Errorf("cancel %s: %w", clientID, err)
	}
	if o.State.Terminal() {
		// Filled while the cancel was in flight.
		return CancelResult{Canceled: false, Reason: ReasonAlreadyTerminal}, nil
	}
	if terr := o.transition(StateCanceled); terr != nil {
		return CancelResult{}, terr
	}
	m.noteTerminalLocked(StateCanceled)
	logger.Infof("order %s canceled (%s)", clientID, symbol)
	return CancelResult{Canceled: true}, nil
}

// CleanupOldOrders sweeps terminal orders past the retention threshold from
// both indexes and prunes stale fingerprint slots.
func (m *Manager) CleanupOldOrders(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, o := range m.byClientID {
		if !o.State.Terminal() || o.terminalAt().After(cutoff) {
			continue
		}
		delete(m.byClientID, id)
		if o.ExchangeID != "" {
			delete(m.byExchangeID, o.ExchangeID)
		}
		removed++
	}
	for fp, last := range m.lastSubmit {
		if last.Before(cutoff) {
			delete(m.lastSubmit, fp)
		}
	}
	if removed > 0 {
		logger.Infof("order cleanup: removed %d terminal orders older than %s", removed, maxAge)
	}
	return removed
}

// OpenOrders returns snapshots of every non-terminal order, oldest first.
func (m *Manager) OpenOrders() []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, 0, len(m.byClientID))
	for _, o := range m.byClientID {
		if o.State.Terminal() {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// GetOrder returns a snapshot copy by client id.
func (m *Manager) GetOrder(clientID string) (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.byClientID[clientID]
	if o == nil {
		return Order{}, false
	}
	return *o, true
}

func (m *Manager) Statistics() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	for _, o := range m.byClientID {
		if !o.State.Terminal() {
			s.Active++
		}
	}
	return s
}

func (m *Manager) lookupLocked(exchangeID, clientID string) *Order {
	if exchangeID != "" {
		if o := m.byExchangeID[exchangeID]; o != nil {
			return o
		}
	}
	if clientID != "" {
		return m.byClientID[clientID]
	}
	return nil
}

func (m *Manager) fillableByFingerprintLocked(fp string) *Order {
	for _, o := range m.byClientID {
		if o.Fingerprint == fp && o.State.Fillable() {
			return o
		}
	}
	return nil
}

// applyFillLocked records a cumulative fill and recomputes state from it.
func (m *Manager) applyFillLocked(o *Order, cumulative, avgPrice float64) {
	if cumulative <= 0 {
		return
	}
	wasTerminal := o.State.Terminal()
	o.applyFill(cumulative, avgPrice)
	if wasTerminal {
		return
	}
	if o.FilledAmount >= o.Amount-fillEpsilon {
		if err := o.transition(StateFilled); err == nil {
			m.noteTerminalLocked(StateFilled)
			logger.Infof("order %s filled: %s %s amount=%v avg_price=%v", o.ClientID, o.Symbol, o.Side, o.FilledAmount, o.AverageFillPrice)
		}
		return
	}
	if o.State == StateSubmitted || o.State == StateOpen {
		_ = o.transition(StatePartiallyFilled)
	}
}

func (m *Manager) noteTerminalLocked(to State) {
	switch to {
	case StateFilled:
		m.stats.Filled++
	case StateCanceled:
		m.stats.Canceled++
	case StateRejected:
		m.stats.Rejected++
	case StateExpired:
		m.stats.Expired++
	case StateFailed:
		m.stats.Failed++
	}
}
