package position

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"keel/internal/exchange"
	"keel/internal/logger"
	"keel/internal/order"
	"keel/internal/pkg/trading"
	"keel/internal/resilience"
)

// ErrDataUnavailable marks a price fetch that exhausted its retry budget.
var ErrDataUnavailable = fmt.Errorf("market data unavailable")

// Outcome classifies what happened to one symbol during one cycle.
type Outcome string

const (
	OutcomeHeld    Outcome = "held"
	OutcomeClosed  Outcome = "closed"
	OutcomeScaled  Outcome = "scaled"
	OutcomeSkipped Outcome = "skipped"
	OutcomeError   Outcome = "error"
)

// CycleResult is the explicit per-symbol result of one monitoring cycle.
// One symbol's error lives in its result; it never aborts the cycle for the
// rest.
type CycleResult struct {
	Symbol   string
	Move     PriceMove
	ROI      LeveragedROI
	Outcome  Outcome
	Reason   string
	Position Position
	Err      error
}

// Stats are cumulative manager counters plus cycle timing observability.
type Stats struct {
	Open              int
	Opened            int64
	Closed            int64
	Scaled            int64
	EmergencyCloses   int64
	AdvisorCloses     int64
	StopCloses        int64
	TakeProfitCloses  int64
	SkippedNoPrice    int64
	SkippedStaleClose int64
	ReconcileRemovals int64
	CyclesRun         int64

	LastCycleDuration  time.Duration
	AvgPerPosition     time.Duration
	LastBatchSize      int
	CachedSymbolLimits int
}

// Deps are the collaborators the manager acts through. Advisors and Gauges
// are opaque strategy inputs; Orders realizes closes and scale-outs;
// Breaker and Limiter wrap the exchange read paths.
type Deps struct {
	Exchange exchange.Client
	Orders   *order.Manager
	Advisors []ExitAdvisor
	Gauges   MarketGauges
	Breaker  *resilience.CircuitBreaker
	Limiter  *resilience.RateLimiter
}

type Config struct {
	Strategy            string // namespace for close orders
	LimitsTTL           time.Duration
	PriceRetryAttempts  int
	PriceRetryBaseDelay time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.Strategy == "" {
		out.Strategy = "monitor"
	}
	if out.PriceRetryAttempts <= 0 {
		out.PriceRetryAttempts = 2
	}
	if out.PriceRetryBaseDelay <= 0 {
		out.PriceRetryBaseDelay = 250 * time.Millisecond
	}
	return out
}

// Manager owns the symbol -> position map: at most one open position per
// symbol, all mutation under one lock. No lock is ever held across a network
// call; results are applied back under a re-acquired lock with an existence
// and version re-check.
type Manager struct {
	deps   Deps
	cfg    Config
	limits *limitsCache

	mu        sync.Mutex
	positions map[string]*Position
	stats     Stats
}

func NewManager(deps Deps, cfg Config) (*Manager, error) {
	if deps.Exchange == nil {
		return nil, fmt.Errorf("exchange client is required")
	}
	if deps.Orders == nil {
		return nil, fmt.Errorf("order manager is required")
	}
	final := cfg.withDefaults()
	m := &Manager{
		deps:      deps,
		cfg:       final,
		positions: make(map[string]*Position),
	}
	m.limits = newLimitsCache(final.LimitsTTL, func(ctx context.Context, symbol string) (exchange.SymbolLimits, error) {
		var out exchange.SymbolLimits
		err := m.guardedCall(func() error {
			var ferr error
			out, ferr = deps.Exchange.GetSymbolLimits(ctx, symbol)
			return ferr
		})
		return out, err
	})
	return m, nil
}

// Open registers a position created by a confirmed entry fill. A symbol with
// an open position rejects a second one.
func (m *Manager) Open(p *Position) error {
	if p == nil {
		return fmt.Errorf("nil position")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.positions[p.Symbol]; exists {
		return fmt.Errorf("position already open for %s", p.Symbol)
	}
	m.positions[p.Symbol] = p
	m.stats.Opened++
	logger.Infof("position opened: %s %s entry=%v amount=%v leverage=%vx sl=%v tp=%v",
		p.Symbol, p.Side, p.EntryPrice, p.Amount, p.Leverage, p.StopLoss, p.TakeProfit)
	return nil
}

// Get returns a snapshot copy.
func (m *Manager) Get(symbol string) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.positions[symbol]
	if p == nil {
		return Position{}, false
	}
	return *p, true
}

// Snapshot returns copies of every open position, symbol-ordered.
func (m *Manager) Snapshot() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// MarketLimits returns the cached venue constraints for a symbol, fetching
// once on miss regardless of caller concurrency.
func (m *Manager) MarketLimits(ctx context.Context, symbol string) (exchange.SymbolLimits, error) {
	return m.limits.get(ctx, symbol)
}

// UpdatePositions runs one monitoring cycle over every open position and
// returns one result per processed symbol. Callers consume the results to
// record trade outcomes; an individual symbol's failure is data in its
// result, never a cycle abort.
func (m *Manager) UpdatePositions(ctx context.Context) []CycleResult {
	start := time.Now()

	m.mu.Lock()
	symbols := make([]string, 0, len(m.positions))
	for sym := range m.positions {
		symbols = append(symbols, sym)
	}
	m.mu.Unlock()
	sort.Strings(symbols)
	if len(symbols) == 0 {
		return nil
	}

	tickers := m.fetchTickers(ctx, symbols)

	results := make([]CycleResult, 0, len(symbols))
	for _, sym := range symbols {
		tick, ok := tickers[sym]
		results = append(results, m.evaluateSymbol(ctx, sym, tick, ok))
	}

	elapsed := time.Since(start)
	m.mu.Lock()
	m.stats.CyclesRun++
	m.stats.LastCycleDuration = elapsed
	m.stats.LastBatchSize = len(symbols)
	m.stats.AvgPerPosition = elapsed / time.Duration(len(symbols))
	m.mu.Unlock()
	logger.Debugf("monitor cycle: %d positions in %s (avg %s/position)", len(symbols), elapsed, elapsed/time.Duration(len(symbols)))
	return results
}

// fetchTickers amortizes the round-trips with one batch fetch and falls back
// to a bounded per-symbol retry on batch failure. Symbols that still have no
// price are absent from the result.
func (m *Manager) fetchTickers(ctx context.Context, symbols []string) map[string]exchange.Ticker {
	var batch map[string]exchange.Ticker
	err := m.guardedCall(func() error {
		var ferr error
		batch, ferr = m.deps.Exchange.BatchTickers(ctx, symbols)
		return ferr
	})
	if err == nil && batch != nil {
		return batch
	}
	logger.Warnf("batch ticker fetch failed, falling back to per-symbol: %v", err)

	out := make(map[string]exchange.Ticker, len(symbols))
	for _, sym := range symbols {
		sym := sym
		var tick exchange.Ticker
		rerr := resilience.Retry(ctx, "ticker "+sym, m.cfg.PriceRetryAttempts, m.cfg.PriceRetryBaseDelay, func(ctx context.Context) error {
			return m.guardedCall(func() error {
				var ferr error
				tick, ferr = m.deps.Exchange.GetTicker(ctx, sym)
				return ferr
			})
		})
		if rerr != nil {
			logger.Warnf("ticker %s unavailable after retries: %v", sym, rerr)
			continue
		}
		out[sym] = tick
	}
	return out
}

// evaluateSymbol runs the per-symbol exit ladder for one cycle. Every
// decision that leads to a close captures the entry version first and
// re-verifies it under the lock right before dispatching; a panic anywhere
// in the ladder becomes this symbol's error result.
func (m *Manager) evaluateSymbol(ctx context.Context, sym string, tick exchange.Ticker, havePrice bool) (res CycleResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("exit evaluation panic for %s: %v", sym, r)
			res = CycleResult{Symbol: sym, Outcome: OutcomeError, Err: fmt.Errorf("exit evaluation panic: %v", r)}
		}
	}()

	// Never decide against a missing or non-positive price: skip the symbol
	// for this cycle.
	if !havePrice || tick.Price <= 0 {
		m.mu.Lock()
		m.stats.SkippedNoPrice++
		m.mu.Unlock()
		logger.Warnf("no price for %s this cycle, skipping evaluation", sym)
		return CycleResult{Symbol: sym, Outcome: OutcomeSkipped, Reason: "price_unavailable", Err: fmt.Errorf("%w: %s", ErrDataUnavailable, sym)}
	}
	price := tick.Price

	m.mu.Lock()
	p := m.positions[sym]
	if p == nil {
		m.mu.Unlock()
		return CycleResult{Symbol: sym, Outcome: OutcomeSkipped, Reason: "not_tracked"}
	}
	snap := *p
	version := p.version
	m.mu.Unlock()

	move := snap.Move(price)
	roi := snap.ROI(price)

	// Highest priority, cannot be overridden or disabled.
	if reason, hit := EmergencyStopReason(roi); hit {
		logger.Errorf("EMERGENCY STOP %s: %s (leveraged roi %.2f%%, price %v, entry %v)",
			sym, reason, float64(roi)*100, price, snap.EntryPrice)
		return m.closePosition(ctx, sym, version, reason, move, roi)
	}

	// Externally supplied recommendations, in registration order. A failing
	// advisor is logged with its name and the remaining conditions still run.
	for _, adv := range m.deps.Advisors {
		sig, err := safeAdvise(ctx, adv, snap, price)
		if err != nil {
			logger.Warnf("exit advisor %s failed for %s: %v", adv.Name(), sym, err)
			continue
		}
		if !sig.ShouldExit {
			continue
		}
		reason := sig.Reason
		if reason == "" {
			reason = adv.Name()
		}
		if sig.Scale > 0 && sig.Scale < 1 {
			return m.scaleOut(ctx, sym, version, price, reason, sig.Scale, move, roi)
		}
		return m.closePosition(ctx, sym, version, reason, move, roi)
	}

	// Standard price-based levels.
	if snap.StopLossHit(price) {
		logger.Infof("stop loss hit for %s at %v (stop %v)", sym, price, snap.StopLoss)
		return m.closePosition(ctx, sym, version, ReasonStopLoss, move, roi)
	}
	if snap.TakeProfitHit(price) {
		logger.Infof("take profit hit for %s at %v (target %v)", sym, price, snap.TakeProfit)
		return m.closePosition(ctx, sym, version, ReasonTakeProfit, move, roi)
	}

	// Nothing triggered: ratchet the trailing levels and excursion
	// bookkeeping on the live entry, guarded against concurrent closes.
	volatility, momentum := m.gauges(sym)
	m.mu.Lock()
	if live := m.positions[sym]; live != nil && live.version == version {
		live.ApplyTrailing(price, volatility, momentum)
		live.version++
		snap = *live
	}
	m.mu.Unlock()
	return CycleResult{Symbol: sym, Move: move, ROI: roi, Outcome: OutcomeHeld, Position: snap}
}

// closePosition claims the entry under the lock (existence + version
// re-check immediately before the exchange call), then realizes the close
// through the order manager. A stale version means another trigger or a
// concurrent actor already closed the symbol: that is a skip, never an
// error. A failed close order puts the entry back with a bumped version.
func (m *Manager) closePosition(ctx context.Context, sym string, version uint64, reason string, move PriceMove, roi LeveragedROI) CycleResult {
	m.mu.Lock()
	p := m.positions[sym]
	if p == nil || p.version != version {
		m.stats.SkippedStaleClose++
		m.mu.Unlock()
		logger.Infof("close skipped for %s (%s): position already closed or changed", sym, reason)
		return CycleResult{Symbol: sym, Move: move, ROI: roi, Outcome: OutcomeSkipped, Reason: "already_closed"}
	}
	snap := *p
	delete(m.positions, sym)
	m.mu.Unlock()

	o, err := m.deps.Orders.CreateOrder(m.cfg.Strategy, sym, oppositeSide(snap.Side), exchange.OrderTypeMarket, snap.Amount, 0, 0)
	if err != nil {
		m.restore(sym, snap)
		return CycleResult{Symbol: sym, Move: move, ROI: roi, Outcome: OutcomeError, Reason: reason, Err: err}
	}
	result, err := m.deps.Orders.Submit(ctx, o)
	if err != nil {
		m.restore(sym, snap)
		logger.Errorf("close order for %s (%s) failed: %v", sym, reason, err)
		return CycleResult{Symbol: sym, Move: move, ROI: roi, Outcome: OutcomeError, Reason: reason, Err: err}
	}
	if !result.Accepted {
		if result.Reason == order.ReasonDuplicateOrder {
			// A fillable close for the same intent is already resting at the
			// venue; it will realize the exit. Treat as done.
			m.mu.Lock()
			m.stats.SkippedStaleClose++
			m.mu.Unlock()
			logger.Infof("close for %s deduplicated (%s)", sym, result.Reason)
			return CycleResult{Symbol: sym, Move: move, ROI: roi, Outcome: OutcomeSkipped, Reason: result.Reason}
		}
		// Debounced without a fillable close order tracked: the slot may
		// belong to an earlier FAILED attempt, so no order exists anywhere.
		// Keep the position and let a later cycle retry.
		m.restore(sym, snap)
		logger.Warnf("close for %s not submitted (%s), keeping position for retry", sym, result.Reason)
		return CycleResult{Symbol: sym, Move: move, ROI: roi, Outcome: OutcomeSkipped, Reason: result.Reason}
	}

	m.mu.Lock()
	m.stats.Closed++
	switch reason {
	case ReasonEmergencyLiquidationRisk, ReasonEmergencySevereLoss, ReasonEmergencyExcessiveLoss:
		m.stats.EmergencyCloses++
	case ReasonStopLoss:
		m.stats.StopCloses++
	case ReasonTakeProfit:
		m.stats.TakeProfitCloses++
	default:
		m.stats.AdvisorCloses++
	}
	m.mu.Unlock()
	logger.Infof("position closed: %s %s reason=%s move=%.4f roi=%.4f order=%s",
		sym, snap.Side, reason, float64(move), float64(roi), o.ClientID)
	return CycleResult{Symbol: sym, Move: move, ROI: roi, Outcome: OutcomeClosed, Reason: reason, Position: snap}
}

// scaleOut closes a fraction of the position, rounded to the venue step
// size. The remainder stays open with a bumped version.
func (m *Manager) scaleOut(ctx context.Context, sym string, version uint64, price float64, reason string, scale float64, move PriceMove, roi LeveragedROI) CycleResult {
	limits, err := m.limits.get(ctx, sym)
	if err != nil {
		logger.Warnf("scale-out for %s: limits unavailable, skipping this cycle: %v", sym, err)
		return CycleResult{Symbol: sym, Move: move, ROI: roi, Outcome: OutcomeSkipped, Reason: "limits_unavailable", Err: err}
	}

	m.mu.Lock()
	p := m.positions[sym]
	if p == nil || p.version != version {
		m.stats.SkippedStaleClose++
		m.mu.Unlock()
		return CycleResult{Symbol: sym, Move: move, ROI: roi, Outcome: OutcomeSkipped, Reason: "already_closed"}
	}
	snap := *p
	amount := trading.CloseAmount(snap.Amount, scale)
	amount = trading.RoundToStep(amount, limits.StepSize)
	amount = trading.ClampAmount(amount, limits.MinAmount, limits.MaxAmount)
	if amount <= 0 || amount >= snap.Amount {
		m.mu.Unlock()
		// Too small to scale, or rounding consumed the whole position.
		return m.closePosition(ctx, sym, version, reason, move, roi)
	}
	// Claim the entry before the network call: concurrent triggers that
	// captured the old version are stale while the reduce order is in flight,
	// and the reduction below cannot be lost to them.
	p.version++
	claimed := p.version
	m.mu.Unlock()

	o, err := m.deps.Orders.CreateOrder(m.cfg.Strategy, sym, oppositeSide(snap.Side), exchange.OrderTypeMarket, amount, 0, 0)
	if err != nil {
		return CycleResult{Symbol: sym, Move: move, ROI: roi, Outcome: OutcomeError, Reason: reason, Err: err}
	}
	result, err := m.deps.Orders.Submit(ctx, o)
	if err != nil {
		logger.Errorf("scale-out order for %s (%s) failed: %v", sym, reason, err)
		return CycleResult{Symbol: sym, Move: move, ROI: roi, Outcome: OutcomeError, Reason: reason, Err: err}
	}
	if !result.Accepted {
		return CycleResult{Symbol: sym, Move: move, ROI: roi, Outcome: OutcomeSkipped, Reason: result.Reason}
	}

	m.mu.Lock()
	if live := m.positions[sym]; live != nil && live.version == claimed {
		live.Amount -= amount
		live.PartialExitsTaken++
		live.version++
		snap = *live
	}
	m.stats.Scaled++
	m.mu.Unlock()
	logger.Infof("position scaled out: %s closed %v of %v (%s) at %v", sym, amount, snap.Amount+amount, reason, price)
	return CycleResult{Symbol: sym, Move: move, ROI: roi, Outcome: OutcomeScaled, Reason: reason, Position: snap}
}

// Reconcile diffs the local map against exchange-reported open positions.
// Local entries absent on the exchange were closed externally: they are
// removed without a close order and counted as reconciliation events.
func (m *Manager) Reconcile(ctx context.Context) error {
	var remote []exchange.OpenPosition
	err := m.guardedCall(func() error {
		var ferr error
		remote, ferr = m.deps.Exchange.GetOpenPositions(ctx)
		return ferr
	})
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	open := make(map[string]bool, len(remote))
	for _, r := range remote {
		open[r.Symbol] = true
	}

	m.mu.Lock()
	var removed []string
	for sym := range m.positions {
		if !open[sym] {
			removed = append(removed, sym)
			delete(m.positions, sym)
			m.stats.ReconcileRemovals++
		}
	}
	m.mu.Unlock()
	for _, sym := range removed {
		logger.Warnf("reconcile: %s closed on exchange, removed locally without close order", sym)
	}
	return nil
}

func (m *Manager) Statistics() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Open = len(m.positions)
	s.CachedSymbolLimits = m.limits.size()
	return s
}

// restore puts a claimed entry back after a failed close, with a bumped
// version so any decision captured before the failure is stale.
func (m *Manager) restore(sym string, snap Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.positions[sym]; exists {
		return
	}
	snap.version++
	restored := snap
	m.positions[sym] = &restored
}

// guardedCall wraps an exchange call with the rate limiter and circuit
// breaker when they are configured.
func (m *Manager) guardedCall(fn func() error) error {
	if m.deps.Limiter != nil && !m.deps.Limiter.CanProceed() {
		return fmt.Errorf("rate limit exceeded")
	}
	if m.deps.Breaker != nil {
		return m.deps.Breaker.Do(fn)
	}
	return fn()
}

func (m *Manager) gauges(symbol string) (volatility, momentum float64) {
	if m.deps.Gauges == nil {
		return 0, 0
	}
	return m.deps.Gauges.Volatility(symbol), m.deps.Gauges.Momentum(symbol)
}

// safeAdvise isolates one advisor evaluation: a panic inside an external
// module is converted to an error attributed to that advisor.
func safeAdvise(ctx context.Context, adv ExitAdvisor, pos Position, price float64) (sig ExitSignal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("advisor %s panicked: %v", adv.Name(), r)
		}
	}()
	return adv.Evaluate(ctx, pos, price)
}
