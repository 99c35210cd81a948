package resilience

import (
	"context"
	"fmt"
	"time"

	"keel/internal/logger"
)

// Retry runs fn up to attempts times with exponential backoff starting at
// baseDelay. It stops early when the context is canceled and returns the
// last error once the budget is exhausted.
func Retry(ctx context.Context, name string, attempts int, baseDelay time.Duration, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		logger.Debugf("%s: attempt %d/%d failed, retrying in %s: %v", name, attempt, attempts, delay, lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("%s: retries exhausted after %d attempts: %w", name, attempts, lastErr)
}
