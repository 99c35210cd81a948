package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"keel/internal/exchange"

	"golang.org/x/sync/singleflight"
)

const defaultLimitsTTL = 300 * time.Second

// limitsCache holds per-symbol static exchange constraints with a TTL.
// Concurrent callers for the same symbol within the TTL share one cached
// value; concurrent misses share one fetch via singleflight.
type limitsCache struct {
	ttl   time.Duration
	fetch func(ctx context.Context, symbol string) (exchange.SymbolLimits, error)

	mu      sync.Mutex
	entries map[string]exchange.SymbolLimits
	group   singleflight.Group
}

func newLimitsCache(ttl time.Duration, fetch func(ctx context.Context, symbol string) (exchange.SymbolLimits, error)) *limitsCache {
	if ttl <= 0 {
		ttl = defaultLimitsTTL
	}
	return &limitsCache{
		ttl:     ttl,
		fetch:   fetch,
		entries: make(map[string]exchange.SymbolLimits),
	}
}

func (c *limitsCache) get(ctx context.Context, symbol string) (exchange.SymbolLimits, error) {
	c.mu.Lock()
	if e, ok := c.entries[symbol]; ok && time.Since(e.FetchedAt) < c.ttl {
		c.mu.Unlock()
		return e, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(symbol, func() (any, error) {
		limits, err := c.fetch(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if limits.FetchedAt.IsZero() {
			limits.FetchedAt = time.Now()
		}
		c.mu.Lock()
		c.entries[symbol] = limits
		c.mu.Unlock()
		return limits, nil
	})
	if err != nil {
		return exchange.SymbolLimits{}, fmt.Errorf("market limits %s: %w", symbol, err)
	}
	return v.(exchange.SymbolLimits), nil
}

func (c *limitsCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
