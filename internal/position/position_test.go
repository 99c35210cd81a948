package position

import (
	"testing"

	"keel/internal/exchange"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoveAndROI(t *testing.T) {
	t.Run("long", func(t *testing.T) {
		p, err := New("BTC-USDT", exchange.SideBuy, 50000, 0.1, 10, 0, 0)
		require.NoError(t, err)
		assert.InDelta(t, -0.05, float64(p.Move(47500)), 1e-12)
		assert.InDelta(t, -0.50, float64(p.ROI(47500)), 1e-12)
		assert.InDelta(t, 0.02, float64(p.Move(51000)), 1e-12)
		assert.InDelta(t, 0.20, float64(p.ROI(51000)), 1e-12)
	})

	t.Run("short", func(t *testing.T) {
		p, err := New("BTC-USDT", exchange.SideSell, 50000, 0.1, 5, 0, 0)
		require.NoError(t, err)
		assert.InDelta(t, 0.05, float64(p.Move(47500)), 1e-12)
		assert.InDelta(t, 0.25, float64(p.ROI(47500)), 1e-12)
		assert.InDelta(t, -0.02, float64(p.Move(51000)), 1e-12)
	})

	t.Run("leverage below one is treated as one", func(t *testing.T) {
		m := PriceMove(-0.1)
		assert.Equal(t, LeveragedROI(-0.1), m.Leveraged(0))
	})
}

func TestEmergencyStopTiers(t *testing.T) {
	cases := []struct {
		roi    float64
		reason string
		hit    bool
	}{
		{-0.55, ReasonEmergencyLiquidationRisk, true},
		{-0.50, ReasonEmergencyLiquidationRisk, true},
		{-0.40, ReasonEmergencySevereLoss, true},
		{-0.35, ReasonEmergencySevereLoss, true},
		{-0.25, ReasonEmergencyExcessiveLoss, true},
		{-0.20, ReasonEmergencyExcessiveLoss, true},
		{-0.19, "", false},
		{0.30, "", false},
	}
	for _, tc := range cases {
		reason, hit := EmergencyStopReason(LeveragedROI(tc.roi))
		assert.Equal(t, tc.hit, hit, "roi %v", tc.roi)
		assert.Equal(t, tc.reason, reason, "roi %v", tc.roi)
	}
}

func TestEmergencyStopIndependentOfPriceStop(t *testing.T) {
	// Configured stop far below the price that already puts a 10x long at
	// -50% leveraged ROI: the tier must fire anyway.
	p, err := New("BTC-USDT", exchange.SideBuy, 50000, 0.1, 10, 40000, 0)
	require.NoError(t, err)
	price := 47500.0
	assert.False(t, p.StopLossHit(price))
	reason, hit := EmergencyStopReason(p.ROI(price))
	require.True(t, hit)
	assert.Equal(t, ReasonEmergencyLiquidationRisk, reason)
}

func TestStopAndTargetChecks(t *testing.T) {
	t.Run("long", func(t *testing.T) {
		p, err := New("BTC-USDT", exchange.SideBuy, 100, 1, 1, 95, 110)
		require.NoError(t, err)
		assert.True(t, p.StopLossHit(95))
		assert.True(t, p.StopLossHit(94))
		assert.False(t, p.StopLossHit(96))
		assert.True(t, p.TakeProfitHit(110))
		assert.False(t, p.TakeProfitHit(109))
	})

	t.Run("short", func(t *testing.T) {
		p, err := New("BTC-USDT", exchange.SideSell, 100, 1, 1, 105, 90)
		require.NoError(t, err)
		assert.True(t, p.StopLossHit(105))
		assert.False(t, p.StopLossHit(104))
		assert.True(t, p.TakeProfitHit(90))
		assert.False(t, p.TakeProfitHit(91))
	})

	t.Run("unset levels never trigger", func(t *testing.T) {
		p, err := New("BTC-USDT", exchange.SideBuy, 100, 1, 1, 0, 0)
		require.NoError(t, err)
		assert.False(t, p.StopLossHit(1))
		assert.False(t, p.TakeProfitHit(1e9))
	})
}

func TestTrailingRatchet(t *testing.T) {
	t.Run("long stop never loosens through a pullback", func(t *testing.T) {
		p, err := New("BTC-USDT", exchange.SideBuy, 100, 1, 1, 95, 0)
		require.NoError(t, err)

		prev := p.StopLoss
		var stopAfterPeak float64
		for _, price := range []float64{100, 105, 102} {
			p.ApplyTrailing(price, 0.01, 0)
			assert.GreaterOrEqual(t, p.StopLoss, prev, "at price %v", price)
			prev = p.StopLoss
			if price == 105 {
				stopAfterPeak = p.StopLoss
			}
		}
		assert.GreaterOrEqual(t, p.StopLoss, stopAfterPeak, "pullback must not drop the stop below the peak value")
		assert.Greater(t, p.StopLoss, 95.0)
	})

	t.Run("short stop only moves down", func(t *testing.T) {
		p, err := New("BTC-USDT", exchange.SideSell, 100, 1, 1, 105, 0)
		require.NoError(t, err)

		prev := p.StopLoss
		for _, price := range []float64{100, 95, 97} {
			p.ApplyTrailing(price, 0.01, 0)
			assert.LessOrEqual(t, p.StopLoss, prev, "at price %v", price)
			prev = p.StopLoss
		}
	})

	t.Run("take profit only extends favorably", func(t *testing.T) {
		p, err := New("BTC-USDT", exchange.SideBuy, 100, 1, 1, 95, 110)
		require.NoError(t, err)
		p.ApplyTrailing(120, 0.01, 0)
		raised := p.TakeProfit
		assert.Greater(t, raised, 110.0)
		p.ApplyTrailing(101, 0.01, 0)
		assert.Equal(t, raised, p.TakeProfit, "pullback never lowers the target")
	})

	t.Run("momentum widens or tightens the trail but never reverses the ratchet", func(t *testing.T) {
		mk := func() *Position {
			p, err := New("BTC-USDT", exchange.SideBuy, 100, 1, 1, 90, 0)
			require.NoError(t, err)
			return p
		}
		withMomentum := mk()
		withMomentum.ApplyTrailing(105, 0.01, 1)
		against := mk()
		against.ApplyTrailing(105, 0.01, -1)
		assert.Greater(t, against.StopLoss, withMomentum.StopLoss, "fading momentum tightens the trail")
	})

	t.Run("breakeven ratchet marks once and never lowers the stop", func(t *testing.T) {
		p, err := New("BTC-USDT", exchange.SideBuy, 100, 1, 1, 80, 0)
		require.NoError(t, err)
		p.ApplyTrailing(110, 0.01, 0)
		assert.True(t, p.BreakevenMoved)
		assert.GreaterOrEqual(t, p.StopLoss, 100.0)
	})
}

func TestFavorableExcursion(t *testing.T) {
	p, err := New("BTC-USDT", exchange.SideBuy, 100, 1, 1, 0, 0)
	require.NoError(t, err)

	for _, price := range []float64{102, 108, 104} {
		p.trackExcursion(price)
	}
	assert.InDelta(t, 0.08, float64(p.MaxFavorableExcursion), 1e-12)
	assert.Equal(t, 108.0, p.HighestPrice)
	assert.Equal(t, 100.0, p.LowestPrice)

	// Losses never reduce the recorded excursion.
	p.trackExcursion(90)
	assert.InDelta(t, 0.08, float64(p.MaxFavorableExcursion), 1e-12)
	assert.Equal(t, 90.0, p.LowestPrice)
}
