package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"keel/internal/exchange"
	"keel/internal/position"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "outcomes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordCycleResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pos, err := position.New("BTC-USDT", exchange.SideBuy, 50000, 0.5, 10, 0, 0)
	require.NoError(t, err)

	results := []position.CycleResult{
		{Symbol: "BTC-USDT", Move: -0.05, ROI: -0.50, Outcome: position.OutcomeClosed, Reason: "emergency_stop_liquidation_risk", Position: *pos},
		{Symbol: "ETH-USDT", Outcome: position.OutcomeHeld},
		{Symbol: "SOL-USDT", Outcome: position.OutcomeSkipped, Reason: "price_unavailable"},
		{Symbol: "XRP-USDT", Outcome: position.OutcomeError, Reason: "stop_loss", Err: fmt.Errorf("venue timeout")},
	}
	require.NoError(t, s.RecordCycleResults(ctx, results))

	rows, err := s.RecentOutcomes(ctx, 10)
	require.NoError(t, err)
	// Held and routine skips are not persisted.
	require.Len(t, rows, 2)

	bySymbol := make(map[string]TradeOutcomeModel, len(rows))
	for _, row := range rows {
		bySymbol[row.Symbol] = row
	}
	closed := bySymbol["BTC-USDT"]
	assert.Equal(t, "closed", closed.Outcome)
	assert.Equal(t, "emergency_stop_liquidation_risk", closed.Reason)
	assert.Equal(t, "BUY", closed.Side)
	assert.InDelta(t, -0.50, closed.ROI, 1e-12)
	assert.InDelta(t, 0.5, closed.Amount, 1e-12)
	assert.Empty(t, closed.Detail)

	failed := bySymbol["XRP-USDT"]
	assert.Equal(t, "error", failed.Outcome)
	assert.Contains(t, string(failed.Detail), "venue timeout")
}

func TestRecordCycleResultsNothingToPersist(t *testing.T) {
	s := newTestStore(t)
	err := s.RecordCycleResults(context.Background(), []position.CycleResult{
		{Symbol: "BTC-USDT", Outcome: position.OutcomeHeld},
	})
	assert.NoError(t, err)

	rows, err := s.RecentOutcomes(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRecentOutcomesOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		pos, err := position.New(fmt.Sprintf("SYM%d-USDT", i), exchange.SideSell, 100, 1, 1, 0, 0)
		require.NoError(t, err)
		require.NoError(t, s.RecordCycleResults(ctx, []position.CycleResult{
			{Symbol: pos.Symbol, Outcome: position.OutcomeClosed, Reason: "take_profit", Position: *pos},
		}))
	}

	rows, err := s.RecentOutcomes(ctx, 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	// Newest first by insertion order.
	assert.Equal(t, "SYM4-USDT", rows[0].Symbol)
	assert.Equal(t, "SYM2-USDT", rows[2].Symbol)

	// Out-of-range limits fall back to the default cap.
	rows, err = s.RecentOutcomes(ctx, -1)
	require.NoError(t, err)
	assert.Len(t, rows, 5)
}

func TestStoreValidation(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	var s *Store
	assert.Error(t, s.RecordCycleResults(context.Background(), nil))
	_, err = s.RecentOutcomes(context.Background(), 1)
	assert.Error(t, err)
	assert.NoError(t, s.Close())
}
