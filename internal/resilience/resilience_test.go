package resilience

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker(t *testing.T) {
	t.Run("opens after threshold failures", func(t *testing.T) {
		cb := NewCircuitBreaker("test", 3, time.Minute)
		require.Equal(t, BreakerClosed, cb.State())

		boom := fmt.Errorf("boom")
		for i := 0; i < 3; i++ {
			assert.Error(t, cb.Do(func() error { return boom }))
		}
		assert.Equal(t, BreakerOpen, cb.State())

		err := cb.Do(func() error {
			t.Fatal("call must not run while open")
			return nil
		})
		var open *BreakerOpenError
		require.ErrorAs(t, err, &open)
		assert.Equal(t, "test", open.Name)
	})

	t.Run("success resets the failure count", func(t *testing.T) {
		cb := NewCircuitBreaker("test", 3, time.Minute)
		boom := fmt.Errorf("boom")
		_ = cb.Do(func() error { return boom })
		_ = cb.Do(func() error { return boom })
		require.NoError(t, cb.Do(func() error { return nil }))
		_ = cb.Do(func() error { return boom })
		_ = cb.Do(func() error { return boom })
		assert.Equal(t, BreakerClosed, cb.State())
	})

	t.Run("half-open probe closes on success", func(t *testing.T) {
		cb := NewCircuitBreaker("test", 1, 5*time.Millisecond)
		_ = cb.Do(func() error { return fmt.Errorf("boom") })
		require.Equal(t, BreakerOpen, cb.State())

		time.Sleep(10 * time.Millisecond)
		require.True(t, cb.Allow())
		assert.Equal(t, BreakerHalfOpen, cb.State())
		cb.RecordSuccess()
		assert.Equal(t, BreakerClosed, cb.State())
	})

	t.Run("half-open probe failure reopens", func(t *testing.T) {
		cb := NewCircuitBreaker("test", 1, 5*time.Millisecond)
		_ = cb.Do(func() error { return fmt.Errorf("boom") })
		time.Sleep(10 * time.Millisecond)
		require.True(t, cb.Allow())
		cb.RecordFailure()
		assert.Equal(t, BreakerOpen, cb.State())
	})

	t.Run("state change handler fires", func(t *testing.T) {
		cb := NewCircuitBreaker("test", 1, time.Minute)
		changes := make(chan BreakerState, 1)
		cb.SetStateChangeHandler(func(name string, from, to BreakerState) {
			changes <- to
		})
		cb.RecordFailure()
		select {
		case to := <-changes:
			assert.Equal(t, BreakerOpen, to)
		case <-time.After(time.Second):
			t.Fatal("state change handler never fired")
		}
	})
}

func TestRetry(t *testing.T) {
	t.Run("succeeds on a later attempt", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), "op", 3, time.Millisecond, func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return fmt.Errorf("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhausts the budget and wraps the last error", func(t *testing.T) {
		underlying := fmt.Errorf("still down")
		calls := 0
		err := Retry(context.Background(), "op", 3, time.Millisecond, func(ctx context.Context) error {
			calls++
			return underlying
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.ErrorIs(t, err, underlying)
	})

	t.Run("stops when the context is canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := Retry(ctx, "op", 5, 50*time.Millisecond, func(ctx context.Context) error {
			calls++
			cancel()
			return fmt.Errorf("transient")
		})
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestRateLimiter(t *testing.T) {
	t.Run("burst then starvation", func(t *testing.T) {
		rl := NewRateLimiter(1, 3)
		for i := 0; i < 3; i++ {
			assert.True(t, rl.CanProceed(), "burst token %d", i)
		}
		assert.False(t, rl.CanProceed())
	})

	t.Run("refills over time", func(t *testing.T) {
		rl := NewRateLimiter(1000, 1)
		require.True(t, rl.CanProceed())
		require.False(t, rl.CanProceed())
		time.Sleep(5 * time.Millisecond)
		assert.True(t, rl.CanProceed())
	})
}
