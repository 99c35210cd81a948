// Package app wires the engine together: one explicit context object built
// at process start carries every shared component into the loops, so there
// is exactly one manager of each kind per process and no hidden globals.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"keel/internal/config"
	"keel/internal/exchange"
	"keel/internal/exchange/binance"
	"keel/internal/logger"
	"keel/internal/order"
	"keel/internal/position"
	"keel/internal/resilience"
	"keel/internal/store"
	statushttp "keel/internal/transport/http/status"

	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg       *config.Config
	client    exchange.Client
	orders    *order.Manager
	positions *position.Manager
	outcomes  *store.Store
	httpSrv   *statushttp.Server

	entry EntryAdvisor
}

type Option func(*options)

type options struct {
	client exchange.Client
	entry  EntryAdvisor
	exits  []position.ExitAdvisor
	gauges position.MarketGauges
}

// WithExchangeClient overrides the default Binance-backed client (tests,
// paper trading backends).
func WithExchangeClient(c exchange.Client) Option {
	return func(o *options) { o.client = c }
}

func WithEntryAdvisor(a EntryAdvisor) Option {
	return func(o *options) { o.entry = a }
}

func WithExitAdvisors(advs ...position.ExitAdvisor) Option {
	return func(o *options) { o.exits = append(o.exits, advs...) }
}

func WithMarketGauges(g position.MarketGauges) Option {
	return func(o *options) { o.gauges = g }
}

func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	client := o.client
	if client == nil {
		var err error
		client, err = binance.New(binance.Config{
			APIKey:      cfg.Binance.APIKey,
			APISecret:   cfg.Binance.APISecret,
			RESTBaseURL: cfg.Binance.RESTBaseURL,
			HTTPTimeout: cfg.Binance.HTTPTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("building exchange client: %w", err)
		}
	}

	breaker := resilience.NewCircuitBreaker("exchange", cfg.Resilience.BreakerThreshold, cfg.Resilience.BreakerCooldown)
	limiter := resilience.NewRateLimiter(cfg.Resilience.RateLimitPerSecond, cfg.Resilience.RateLimitBurst)

	orders := order.NewManager(client, order.WithDebounceWindow(cfg.Engine.DebounceWindow))
	positions, err := position.NewManager(position.Deps{
		Exchange: client,
		Orders:   orders,
		Advisors: o.exits,
		Gauges:   o.gauges,
		Breaker:  breaker,
		Limiter:  limiter,
	}, position.Config{
		Strategy:            cfg.App.Strategy,
		LimitsTTL:           cfg.Engine.LimitsTTL,
		PriceRetryAttempts:  cfg.Engine.PriceRetryAttempts,
		PriceRetryBaseDelay: cfg.Engine.PriceRetryBaseDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("building position manager: %w", err)
	}

	outcomes, err := store.New(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening outcome store: %w", err)
	}

	a := &App{
		cfg:       cfg,
		client:    client,
		orders:    orders,
		positions: positions,
		outcomes:  outcomes,
		entry:     o.entry,
	}
	if cfg.HTTP.Enabled {
		a.httpSrv = statushttp.NewServer(cfg.HTTP, orders, positions, outcomes)
	}
	return a, nil
}

// Run starts the loops. The position monitor starts first; the scanner waits
// out the startup delay so the two do not contend for the exchange API at
// boot. Everything stops together when ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.outcomes.Close()

	a.printStartupSummary()
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error { return a.runMonitorLoop(ctx) })
	group.Go(func() error { return a.runReconcileLoop(ctx) })
	group.Go(func() error { return a.runCleanupLoop(ctx) })
	if a.entry != nil {
		group.Go(func() error { return a.runScannerLoop(ctx) })
	}
	if a.httpSrv != nil {
		group.Go(func() error { return a.httpSrv.Start(ctx) })
	}

	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) runMonitorLoop(ctx context.Context) error {
	logger.Infof("position monitor loop started (interval %s)", a.cfg.Engine.MonitorInterval)
	ticker := time.NewTicker(a.cfg.Engine.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		results := a.positions.UpdatePositions(ctx)
		if len(results) == 0 {
			continue
		}
		if err := a.outcomes.RecordCycleResults(ctx, results); err != nil {
			logger.Warnf("recording cycle results failed: %v", err)
		}
	}
}

func (a *App) runScannerLoop(ctx context.Context) error {
	// Boot quietly: the monitor loop owns the exchange API first.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(a.cfg.Engine.ScannerStartDelay):
	}
	logger.Infof("scanner loop started (advisor %s, interval %s)", a.entry.Name(), a.cfg.Engine.ScanInterval)
	ticker := time.NewTicker(a.cfg.Engine.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		proposals, err := a.entry.ProposeEntries(ctx)
		if err != nil {
			logger.Warnf("entry advisor %s failed: %v", a.entry.Name(), err)
			continue
		}
		for _, p := range proposals {
			a.executeProposal(ctx, p)
		}
	}
}

// executeProposal submits one entry with the caller-side retry the dedup
// layer exists for: every attempt is a fresh order sharing the fingerprint,
// so a retry after an ambiguous timeout cannot produce a second live order.
func (a *App) executeProposal(ctx context.Context, p EntryProposal) {
	var result order.SubmitResult
	err := resilience.Retry(ctx, "entry "+p.Symbol, a.cfg.Resilience.RetryAttempts, a.cfg.Resilience.RetryBaseDelay, func(ctx context.Context) error {
		o, cerr := a.orders.CreateOrder(a.cfg.App.Strategy, p.Symbol, p.Side, p.Type, p.Amount, p.Price, p.StopPrice)
		if cerr != nil {
			return cerr
		}
		r, serr := a.orders.Submit(ctx, o)
		if serr != nil {
			return serr
		}
		result = r
		return nil
	})
	if err != nil {
		logger.Errorf("entry for %s failed: %v", p.Symbol, err)
		return
	}
	if !result.Accepted {
		logger.Infof("entry for %s not submitted: %s", p.Symbol, result.Reason)
		return
	}

	o := result.Order
	if o.State != order.StateFilled {
		logger.Infof("entry order %s resting (%s), position opens on fill", o.ClientID, o.State)
		return
	}
	entryPrice := o.AverageFillPrice
	if entryPrice <= 0 {
		entryPrice = p.Price
	}
	pos, err := position.New(p.Symbol, p.Side, entryPrice, o.FilledAmount, p.Leverage, p.StopLoss, p.TakeProfit)
	if err != nil {
		logger.Errorf("opening position for %s: %v", p.Symbol, err)
		return
	}
	if err := a.positions.Open(pos); err != nil {
		logger.Warnf("position for %s not tracked: %v", p.Symbol, err)
	}
}

func (a *App) runReconcileLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Engine.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := a.positions.Reconcile(ctx); err != nil {
			logger.Warnf("reconcile failed: %v", err)
		}
	}
}

func (a *App) runCleanupLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Engine.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		a.orders.CleanupOldOrders(a.cfg.Engine.OrderRetention)
	}
}

func (a *App) printStartupSummary() {
	logger.InfoBlock(fmt.Sprintf(
		"keel starting (env=%s)\n"+
			"- exchange: %s\n"+
			"- monitor interval: %s, scanner delay: %s\n"+
			"- debounce window: %s, order retention: %s\n"+
			"- http: %v (%s)",
		a.cfg.App.Env,
		a.client.Name(),
		a.cfg.Engine.MonitorInterval, a.cfg.Engine.ScannerStartDelay,
		a.cfg.Engine.DebounceWindow, a.cfg.Engine.OrderRetention,
		a.cfg.HTTP.Enabled, a.cfg.HTTP.Listen,
	))
}

// Orders exposes the order manager (status API, tests).
func (a *App) Orders() *order.Manager { return a.orders }

// Positions exposes the position manager.
func (a *App) Positions() *position.Manager { return a.positions }
