// Package scoring implements the composite entry-scoring engine: ~20 weighted
// factors combined into a single bounded conviction score per symbol, with
// staleness decay, a toxicity penalty, and neutral fallbacks for missing
// inputs. Score is a pure function of its arguments plus a consistent
// weight-band snapshot; it performs no I/O and never fails.
package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// Config carries the scoring policy constants. The numeric defaults are
// documented policy, not derived truths; every one is overridable through
// configuration.
type Config struct {
	// DecayMinutes is the e-folding time of the freshness decay. At 180,
	// 45-minute-old data retains ~89% of its strength.
	DecayMinutes float64
	// ToxicityThreshold is the disagreement level above which the penalty
	// applies.
	ToxicityThreshold float64
	// ToxicityWeight scales the penalty on the excess above the threshold.
	ToxicityWeight float64
	// PersistenceBonus is the flat bonus for a sustained or bursting
	// high-conviction pattern.
	PersistenceBonus float64
	// PersistenceMinStreak is the consecutive high-conviction refresh count
	// that counts as a sustained pattern.
	PersistenceMinStreak int
	// BurstMinSweeps and BurstMinBlocks together define a sweep/block burst.
	BurstMinSweeps int
	BurstMinBlocks int
}

// DefaultConfig returns the documented policy defaults.
func DefaultConfig() Config {
	return Config{
		DecayMinutes:         180,
		ToxicityThreshold:    0.5,
		ToxicityWeight:       2.0,
		PersistenceBonus:     0.5,
		PersistenceMinStreak: 3,
		BurstMinSweeps:       10,
		BurstMinBlocks:       3,
	}
}

// WeightSource provides a consistent snapshot of the adaptive weight bands
// for one regime. Implementations must guarantee the returned map is a
// private copy that no concurrent update pass mutates.
type WeightSource interface {
	Snapshot(regime domain.Regime) map[string]domain.WeightBand
}

// Engine is the composite scoring engine. It holds no mutable state; all
// adaptivity lives behind the WeightSource.
type Engine struct {
	cfg     Config
	weights WeightSource
}

// NewEngine creates a scoring engine. weights may be nil, in which case every
// factor scores at its catalog base weight.
func NewEngine(cfg Config, weights WeightSource) *Engine {
	if cfg.DecayMinutes <= 0 {
		cfg.DecayMinutes = DefaultConfig().DecayMinutes
	}
	return &Engine{cfg: cfg, weights: weights}
}

// Score evaluates one symbol. It never blocks and never fails: missing or
// malformed inputs resolve to each factor's documented neutral value and are
// recorded in the result notes. intel may be nil when the expanded feeds have
// nothing for the symbol. now anchors the freshness decay.
func (e *Engine) Score(symbol string, bundle domain.FeatureBundle, regime domain.Regime, intel *domain.ExpandedIntel, now time.Time) domain.CompositeResult {
	in := input{
		bundle: bundle,
		intel:  intel,
		thesis: bundle.FlowSentiment.Direction(),
	}

	var snap map[string]domain.WeightBand
	if e.weights != nil {
		snap = e.weights.Snapshot(regime)
	}

	components := make(map[string]float64, len(catalog)+2)
	var notes []string
	raw := 0.0

	for _, f := range catalog {
		norm, status := f.eval(in)
		switch status {
		case statusMissing:
			notes = append(notes, "neutral_default: "+f.Name)
		case statusMalformed:
			notes = append(notes, "malformed_input: "+f.Name)
		}

		contribution := e.effectiveWeight(f, snap) * norm
		components[f.Name] = contribution
		raw += contribution
	}

	// Toxicity penalty: the only strictly negative term. Everything above the
	// threshold is subtracted, scaled by the toxicity weight.
	toxicity := 0.0
	if t := bundle.Toxicity; t != nil && finite(*t) {
		toxicity = clamp01(*t)
	} else if t == nil {
		notes = append(notes, "neutral_default: toxicity")
	} else {
		notes = append(notes, "malformed_input: toxicity")
	}
	if toxicity > e.cfg.ToxicityThreshold {
		penalty := e.cfg.ToxicityWeight * (toxicity - e.cfg.ToxicityThreshold)
		components[ComponentToxicityPenalty] = -penalty
		raw -= penalty
	}

	// Freshness decay on everything accumulated so far.
	freshness := math.Exp(-bundle.AgeMinutes(now) / e.cfg.DecayMinutes)
	raw *= freshness

	// Persistence bonus is applied after decay: a strongly evidenced pattern
	// should clear the entry threshold even when secondary factors are weak
	// or the bundle has aged.
	if reason := e.persistencePattern(bundle); reason != "" {
		components[ComponentPersistenceBonus] = e.cfg.PersistenceBonus
		raw += e.cfg.PersistenceBonus
		notes = append(notes, "persistence_bonus: "+reason)
	}

	score := clampRange(raw, domain.ScoreMin, domain.ScoreMax)

	return domain.CompositeResult{
		Symbol:      symbol,
		Score:       score,
		Components:  components,
		Freshness:   freshness,
		Toxicity:    toxicity,
		Notes:       notes,
		Regime:      regime,
		EvaluatedAt: now,
	}
}

// effectiveWeight resolves a factor's weight under the snapshot: catalog base
// weight times the learned multiplier, with catalog pins always honored. The
// catalog stays authoritative for base weights so a stale persisted band can
// never change what a factor is worth at multiplier 1.
func (e *Engine) effectiveWeight(f FactorSpec, snap map[string]domain.WeightBand) float64 {
	band, ok := snap[f.Name]
	if !ok {
		return f.BaseWeight
	}
	band.BaseWeight = f.BaseWeight
	if f.Pinned {
		band.Pinned = true
	}
	band.ClampMultiplier()
	return band.Effective()
}

// persistencePattern reports which sustained-evidence pattern the bundle
// shows, or "" when none. Two patterns qualify: a conviction streak across
// consecutive refreshes, and a sweep/block burst within one window.
func (e *Engine) persistencePattern(bundle domain.FeatureBundle) string {
	if s := bundle.HighConvictionStreak; s != nil && *s >= e.cfg.PersistenceMinStreak {
		return fmt.Sprintf("conviction_streak=%d", *s)
	}
	sweeps, blocks := 0, 0
	if bundle.SweepCount != nil {
		sweeps = *bundle.SweepCount
	}
	if bundle.BlockCount != nil {
		blocks = *bundle.BlockCount
	}
	if sweeps >= e.cfg.BurstMinSweeps && blocks >= e.cfg.BurstMinBlocks {
		return fmt.Sprintf("sweep_block_burst=%d/%d", sweeps, blocks)
	}
	return ""
}
