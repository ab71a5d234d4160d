package scan

import (
	"math"
	"sync"
	"time"
)

// MarkPoint records a single mark observation at a point in time.
type MarkPoint struct {
	Mark float64
	Time time.Time
}

// MarkTracker maintains a sliding window of recent marks for each symbol and
// exposes the statistical helpers scanner triggers and the reconciler rely on.
type MarkTracker struct {
	history    map[string][]MarkPoint
	windowSize time.Duration
	mu         sync.RWMutex
}

// NewMarkTracker creates a MarkTracker. The windowSize parameter controls how
// far back the in-memory history extends; points older than the window are
// discarded on every Track call.
func NewMarkTracker(windowSize time.Duration) *MarkTracker {
	return &MarkTracker{
		history:    make(map[string][]MarkPoint),
		windowSize: windowSize,
	}
}

// Track records a new mark observation for the given symbol and trims points
// that have fallen outside the sliding window.
func (mt *MarkTracker) Track(symbol string, mark float64, ts time.Time) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	mt.history[symbol] = append(mt.history[symbol], MarkPoint{
		Mark: mark,
		Time: ts,
	})
	mt.trim(symbol, ts)
}

// Latest returns the most recent mark in the window, or false when the
// tracker has never seen the symbol.
func (mt *MarkTracker) Latest(symbol string) (float64, bool) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	pts := mt.history[symbol]
	if len(pts) == 0 {
		return 0, false
	}
	return pts[len(pts)-1].Mark, true
}

// Mean returns the arithmetic mean of all marks in the sliding window.
// If there are no recorded points, it returns 0.
func (mt *MarkTracker) Mean(symbol string) float64 {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	pts := mt.history[symbol]
	if len(pts) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pts {
		sum += p.Mark
	}
	return sum / float64(len(pts))
}

// Volatility returns the population standard deviation of the marks in the
// sliding window. If there are fewer than two points, it returns 0.
func (mt *MarkTracker) Volatility(symbol string) float64 {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	pts := mt.history[symbol]
	if len(pts) < 2 {
		return 0
	}

	var sum float64
	for _, p := range pts {
		sum += p.Mark
	}
	mean := sum / float64(len(pts))

	var variance float64
	for _, p := range pts {
		d := p.Mark - mean
		variance += d * d
	}
	variance /= float64(len(pts))
	return math.Sqrt(variance)
}

// Momentum returns the fractional return from the oldest to the newest mark
// in the window. If there are fewer than two points or the oldest mark is not
// positive, it returns 0.
func (mt *MarkTracker) Momentum(symbol string) float64 {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	pts := mt.history[symbol]
	if len(pts) < 2 {
		return 0
	}
	oldest := pts[0].Mark
	if oldest <= 0 {
		return 0
	}
	return (pts[len(pts)-1].Mark - oldest) / oldest
}

// trim removes all points older than windowSize relative to the reference time.
// The caller must hold mt.mu.
func (mt *MarkTracker) trim(symbol string, now time.Time) {
	cutoff := now.Add(-mt.windowSize)
	pts := mt.history[symbol]

	// Find the first index that is within the window.
	i := 0
	for i < len(pts) && pts[i].Time.Before(cutoff) {
		i++
	}
	if i > 0 {
		mt.history[symbol] = pts[i:]
	}
}
