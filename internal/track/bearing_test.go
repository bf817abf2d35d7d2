package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShortestRotation_CrossesNorthForward(t *testing.T) {
	// 350 to 10 should sweep 20 degrees through north, not 340 back.
	assert.InDelta(t, 370.0, ShortestRotation(350, 10), 1e-9)
}

func TestShortestRotation_CrossesNorthBackward(t *testing.T) {
	assert.InDelta(t, -10.0, ShortestRotation(10, 350), 1e-9)
}

func TestShortestRotation_PlainCases(t *testing.T) {
	assert.InDelta(t, 90.0, ShortestRotation(45, 90), 1e-9)
	assert.InDelta(t, 45.0, ShortestRotation(90, 45), 1e-9)
	assert.InDelta(t, 180.0, ShortestRotation(0, 180), 1e-9)
}

func TestShortestRotation_IdempotentAtTarget(t *testing.T) {
	// Feeding the converged value back in must not move it again.
	r := ShortestRotation(350, 10)
	assert.InDelta(t, r, ShortestRotation(r, 10), 1e-9)

	assert.InDelta(t, 42.0, ShortestRotation(42, 42), 1e-9)
}

func TestShortestRotation_NeverExceedsHalfTurn(t *testing.T) {
	for from := 0.0; from < 360; from += 17 {
		for to := 0.0; to < 360; to += 23 {
			delta := ShortestRotation(from, to) - from
			assert.LessOrEqual(t, delta, 180.0)
			assert.GreaterOrEqual(t, delta, -180.0)
		}
	}
}

func TestNormalizeBearing(t *testing.T) {
	assert.InDelta(t, 10.0, NormalizeBearing(370), 1e-9)
	assert.InDelta(t, 350.0, NormalizeBearing(-10), 1e-9)
	assert.InDelta(t, 0.0, NormalizeBearing(720), 1e-9)
}
