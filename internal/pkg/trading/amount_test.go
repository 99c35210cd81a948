package trading

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloseAmount(t *testing.T) {
	assert.Equal(t, 0.5, CloseAmount(1.0, 0.5))
	assert.Equal(t, 1.0, CloseAmount(1.0, 1))
	assert.Equal(t, 1.0, CloseAmount(1.0, 1.5))
	assert.Equal(t, 0.0, CloseAmount(1.0, 0))
	assert.Equal(t, 0.0, CloseAmount(0, 0.5))
}

func TestRoundToStep(t *testing.T) {
	// Floors to the step, never up.
	assert.Equal(t, 0.5, RoundToStep(0.55, 0.1))
	assert.Equal(t, 0.5, RoundToStep(0.5, 0.1))
	assert.Equal(t, 0.0, RoundToStep(0.09, 0.1))

	// Classic float-drift case: 0.1+0.2 floored at 0.1 steps must be 0.3.
	assert.Equal(t, 0.3, RoundToStep(0.1+0.2, 0.1))

	// No step configured passes through.
	assert.Equal(t, 0.55, RoundToStep(0.55, 0))
	assert.Equal(t, 0.0, RoundToStep(0, 0.1))
}

func TestClampAmount(t *testing.T) {
	assert.Equal(t, 0.5, ClampAmount(0.5, 0.1, 100))
	assert.Equal(t, 0.0, ClampAmount(0.05, 0.1, 100), "below venue minimum rounds to zero")
	assert.Equal(t, 100.0, ClampAmount(150, 0.1, 100))
	assert.Equal(t, 0.5, ClampAmount(0.5, 0, 0), "unset bounds pass through")
	assert.Equal(t, 0.0, ClampAmount(0, 0.1, 100))
}
