package learner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWilsonIntervalKnownValues(t *testing.T) {
	// 30 wins of 40 at 95%: the textbook interval.
	lower, upper := wilsonInterval(30, 40, 1.96)
	assert.InDelta(t, 0.598, lower, 1e-3)
	assert.InDelta(t, 0.858, upper, 1e-3)

	// 8 wins of 40: upper bound well under 0.45.
	_, upper = wilsonInterval(8, 40, 1.96)
	assert.InDelta(t, 0.348, upper, 1e-3)
}

func TestWilsonIntervalProperties(t *testing.T) {
	lower, upper := wilsonInterval(0, 0, 1.96)
	assert.Equal(t, 0.0, lower)
	assert.Equal(t, 1.0, upper)

	// The interval brackets the point estimate and stays inside [0,1].
	for _, tc := range []struct{ wins, n int }{{0, 10}, {10, 10}, {5, 10}, {1, 200}, {199, 200}} {
		lower, upper := wilsonInterval(tc.wins, tc.n, 1.96)
		p := float64(tc.wins) / float64(tc.n)
		assert.GreaterOrEqual(t, lower, 0.0)
		assert.LessOrEqual(t, upper, 1.0)
		assert.LessOrEqual(t, lower, p)
		assert.GreaterOrEqual(t, upper, p)
	}

	// More samples at the same rate tighten the interval.
	lo40, hi40 := wilsonInterval(24, 40, 1.96)
	lo400, hi400 := wilsonInterval(240, 400, 1.96)
	assert.Greater(t, lo400, lo40)
	assert.Less(t, hi400, hi40)
}
