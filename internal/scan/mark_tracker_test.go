package scan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMarkTrackerLatestAndMean(t *testing.T) {
	mt := NewMarkTracker(30 * time.Minute)
	now := time.Now().UTC()

	_, ok := mt.Latest("NVDA")
	assert.False(t, ok)

	mt.Track("NVDA", 100, now.Add(-2*time.Minute))
	mt.Track("NVDA", 102, now.Add(-time.Minute))
	mt.Track("NVDA", 104, now)

	latest, ok := mt.Latest("NVDA")
	assert.True(t, ok)
	assert.InDelta(t, 104, latest, 1e-9)
	assert.InDelta(t, 102, mt.Mean("NVDA"), 1e-9)
	assert.Zero(t, mt.Mean("AMD"))
}

func TestMarkTrackerTrimsOutsideWindow(t *testing.T) {
	mt := NewMarkTracker(10 * time.Minute)
	now := time.Now().UTC()

	mt.Track("NVDA", 90, now.Add(-30*time.Minute))
	mt.Track("NVDA", 95, now.Add(-20*time.Minute))
	mt.Track("NVDA", 100, now.Add(-5*time.Minute))
	mt.Track("NVDA", 110, now)

	// Only the two in-window points survive.
	assert.InDelta(t, 105, mt.Mean("NVDA"), 1e-9)
	assert.InDelta(t, 0.1, mt.Momentum("NVDA"), 1e-9)
}

func TestMarkTrackerVolatility(t *testing.T) {
	mt := NewMarkTracker(30 * time.Minute)
	now := time.Now().UTC()

	assert.Zero(t, mt.Volatility("NVDA"))

	mt.Track("NVDA", 100, now.Add(-time.Minute))
	assert.Zero(t, mt.Volatility("NVDA"), "single point has no spread")

	mt.Track("NVDA", 104, now)
	// Population stddev of {100, 104} is 2.
	assert.InDelta(t, 2.0, mt.Volatility("NVDA"), 1e-9)
}

func TestMarkTrackerMomentumEdgeCases(t *testing.T) {
	mt := NewMarkTracker(30 * time.Minute)
	now := time.Now().UTC()

	assert.Zero(t, mt.Momentum("NVDA"))

	mt.Track("NVDA", 100, now.Add(-time.Minute))
	assert.Zero(t, mt.Momentum("NVDA"), "needs two points")

	mt.Track("ZERO", 0, now.Add(-time.Minute))
	mt.Track("ZERO", 50, now)
	assert.Zero(t, mt.Momentum("ZERO"), "non-positive base yields no momentum")

	mt.Track("NVDA", 103, now)
	assert.InDelta(t, 0.03, mt.Momentum("NVDA"), 1e-9)
}
