// Package weights holds the adaptive weight-band table and its persistence.
// The table is the only mutable shared state in the scoring core: single
// writer (the learner), many readers (the scoring engines), guarded by a
// read-write lock so a Score call never observes a half-applied update pass.
package weights

import (
	"sync"
	"time"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// Table is the RW-locked in-memory weight-band table.
type Table struct {
	mu    sync.RWMutex
	bands map[domain.WeightKey]domain.WeightBand
}

// NewTable creates a table seeded with the given bands. initial may be nil.
func NewTable(initial map[domain.WeightKey]domain.WeightBand) *Table {
	bands := make(map[domain.WeightKey]domain.WeightBand, len(initial))
	for k, b := range initial {
		b.ClampMultiplier()
		bands[k] = b
	}
	return &Table{bands: bands}
}

// Snapshot returns a private copy of the bands for one regime, keyed by
// factor name. The copy is the caller's to keep; no update pass mutates it.
// Satisfies the scoring engine's WeightSource.
func (t *Table) Snapshot(regime domain.Regime) map[string]domain.WeightBand {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]domain.WeightBand)
	for k, b := range t.bands {
		if k.Regime == regime {
			out[k.Factor] = b
		}
	}
	return out
}

// All returns a copy of every band, for persistence and the read-only API.
func (t *Table) All() map[domain.WeightKey]domain.WeightBand {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[domain.WeightKey]domain.WeightBand, len(t.bands))
	for k, b := range t.bands {
		out[k] = b
	}
	return out
}

// Get returns the band for one key.
func (t *Table) Get(key domain.WeightKey) (domain.WeightBand, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.bands[key]
	return b, ok
}

// Ensure returns the band for the key, creating a fresh neutral band on first
// reference. Bands are never deleted afterwards, only decayed toward neutral.
func (t *Table) Ensure(key domain.WeightKey, baseWeight float64, pinned bool) domain.WeightBand {
	t.mu.Lock()
	defer t.mu.Unlock()

	if b, ok := t.bands[key]; ok {
		return b
	}
	b := domain.NewWeightBand(baseWeight, pinned)
	b.UpdatedAt = time.Now().UTC()
	t.bands[key] = b
	return b
}

// Put stores a band, clamping its multiplier into bounds first.
func (t *Table) Put(key domain.WeightKey, band domain.WeightBand) {
	band.ClampMultiplier()
	t.mu.Lock()
	t.bands[key] = band
	t.mu.Unlock()
}

// Replace swaps in a whole new band set, e.g. after a store reload.
func (t *Table) Replace(bands map[domain.WeightKey]domain.WeightBand) {
	next := make(map[domain.WeightKey]domain.WeightBand, len(bands))
	for k, b := range bands {
		b.ClampMultiplier()
		next[k] = b
	}
	t.mu.Lock()
	t.bands = next
	t.mu.Unlock()
}

// Len returns the number of bands.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.bands)
}
