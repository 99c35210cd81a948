// Package trading provides amount arithmetic shared by the order and
// position layers.
package trading

import "github.com/shopspring/decimal"

// CloseAmount computes the amount to close for a scale-out. Scale in (0,1]
// is applied to the current amount and the result is capped at it.
func CloseAmount(currentAmount, scale float64) float64 {
	if currentAmount <= 0 || scale <= 0 {
		return 0
	}
	if scale >= 1 {
		return currentAmount
	}
	amount := currentAmount * scale
	if amount > currentAmount {
		amount = currentAmount
	}
	return amount
}

// RoundToStep floors amount to the venue step size using decimal arithmetic,
// so repeated partial closes never drift above the tracked amount through
// float error.
func RoundToStep(amount, step float64) float64 {
	if amount <= 0 {
		return 0
	}
	if step <= 0 {
		return amount
	}
	a := decimal.NewFromFloat(amount)
	s := decimal.NewFromFloat(step)
	steps := a.Div(s).Floor()
	rounded, _ := steps.Mul(s).Float64()
	return rounded
}

// ClampAmount bounds amount to [min, max] where either bound may be unset
// (<= 0). Amounts below an enforced minimum round to zero: the venue would
// reject them.
func ClampAmount(amount, min, max float64) float64 {
	if amount <= 0 {
		return 0
	}
	if min > 0 && amount < min {
		return 0
	}
	if max > 0 && amount > max {
		return max
	}
	return amount
}
