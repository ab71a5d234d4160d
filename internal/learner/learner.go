// Package learner implements the adaptive weight learner: realized trade
// outcomes accumulate per (factor, regime) statistics, and a lower-cadence
// update pass nudges weight-band multipliers under a Wilson confidence gate.
// RecordOutcome never fails; UpdateWeights is idempotent and a no-op without
// new evidence.
package learner

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/scoring"
	"github.com/alanyoungcy/flowbot/internal/weights"
)

// Adjustment actions reported in UpdateResult and journaled.
const (
	ActionIncrease = "increase"
	ActionDecrease = "decrease"
	ActionDecay    = "decay"
)

// Config carries the learning policy constants.
type Config struct {
	// Alpha is the EWMA smoothing factor for win rate and P&L.
	Alpha float64

	// MinSamples is the per-(factor, regime) sample floor before any
	// multiplier adjustment. Below it a pair is not yet eligible, which is
	// the anti-overfitting guard, not an error.
	MinSamples int

	// Step is the fixed multiplier increment/decrement.
	Step float64

	// WilsonZ is the critical value for the confidence interval.
	WilsonZ float64

	// IncreaseLowerBound: raise the multiplier when the Wilson lower bound
	// clears this and EWMA P&L is positive. DecreaseUpperBound: cut it when
	// the upper bound sits below this.
	IncreaseLowerBound float64
	DecreaseUpperBound float64

	// NeutralBandLow/High bound the EWMA win-rate region where the
	// multiplier decays DecayFraction of the way back toward 1.0.
	NeutralBandLow  float64
	NeutralBandHigh float64
	DecayFraction   float64
}

// DefaultConfig returns the documented policy defaults.
func DefaultConfig() Config {
	return Config{
		Alpha:              0.15,
		MinSamples:         30,
		Step:               0.05,
		WilsonZ:            1.96,
		IncreaseLowerBound: 0.55,
		DecreaseUpperBound: 0.45,
		NeutralBandLow:     0.48,
		NeutralBandHigh:    0.52,
		DecayFraction:      0.10,
	}
}

// Adjustment records one multiplier change for journaling and audit.
type Adjustment struct {
	Key         domain.WeightKey `json:"key"`
	Action      string           `json:"action"`
	Before      float64          `json:"before"`
	After       float64          `json:"after"`
	SampleCount int              `json:"sample_count"`
	WilsonLower float64          `json:"wilson_lower"`
	WilsonUpper float64          `json:"wilson_upper"`
	EWMAWinRate float64          `json:"ewma_win_rate"`
	EWMAPnL     float64          `json:"ewma_pnl"`
}

// UpdateResult summarizes one UpdateWeights pass.
type UpdateResult struct {
	AdjustedCount       int
	Adjustments         []Adjustment
	SkippedInsufficient int
	SkippedNoNewData    int
}

// Learner is the single writer of the weight-band table.
type Learner struct {
	cfg    Config
	table  *weights.Table
	logger *slog.Logger

	mu sync.Mutex
	// lastEvalSamples remembers the sample count a key was last evaluated at,
	// so repeated UpdateWeights calls without fresh outcomes change nothing.
	lastEvalSamples map[domain.WeightKey]int
	outcomeCount    int
}

// New creates a learner over the given table.
func New(cfg Config, table *weights.Table, logger *slog.Logger) *Learner {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultConfig().MinSamples
	}
	if cfg.Alpha <= 0 || cfg.Alpha >= 1 {
		cfg.Alpha = DefaultConfig().Alpha
	}
	return &Learner{
		cfg:             cfg,
		table:           table,
		logger:          logger.With(slog.String("component", "learner")),
		lastEvalSamples: make(map[domain.WeightKey]int),
	}
}

// RecordOutcome folds one realized outcome into the per-(factor, regime)
// statistics of every catalog factor that contributed at entry. It is a pure
// append: it mutates statistics only, never multipliers, and never fails —
// unknown component keys (penalty and bonus terms) are simply not factors.
func (l *Learner) RecordOutcome(outcome domain.TradeOutcome) {
	regime := outcome.Regime
	if !regime.Valid() {
		regime = domain.RegimeNeutral
	}

	winVal := 0.0
	if outcome.Win() {
		winVal = 1.0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for name := range outcome.EntryComponents {
		base := scoring.BaseWeightOf(name)
		if base <= 0 {
			continue
		}

		key := domain.WeightKey{Factor: name, Regime: regime}
		band := l.table.Ensure(key, base, scoring.IsPinned(name))

		if outcome.Win() {
			band.Wins++
		} else {
			band.Losses++
		}
		band.EWMAWinRate = l.cfg.Alpha*winVal + (1-l.cfg.Alpha)*band.EWMAWinRate
		band.EWMAPnL = l.cfg.Alpha*outcome.RealizedPnLPct + (1-l.cfg.Alpha)*band.EWMAPnL
		band.SampleCount++
		band.UpdatedAt = outcome.ClosedAt

		l.table.Put(key, band)
	}
	l.outcomeCount++
}

// OutcomeCount returns how many outcomes have been recorded.
func (l *Learner) OutcomeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.outcomeCount
}

// UpdateWeights runs one adjustment pass over every band. Pinned bands are
// never touched (a drifted pinned multiplier is forced back to 1.0). Pairs
// below the sample floor, and pairs with no outcomes since their last
// evaluation, are skipped, which makes back-to-back calls no-ops.
func (l *Learner) UpdateWeights() UpdateResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	var res UpdateResult
	now := time.Now().UTC()

	for key, band := range l.table.All() {
		if band.Pinned {
			if band.Multiplier != 1.0 {
				l.logger.Warn("pinned band drifted, resetting multiplier",
					slog.String("key", key.String()),
					slog.Float64("multiplier", band.Multiplier))
				band.Multiplier = 1.0
				l.table.Put(key, band)
			}
			continue
		}

		if band.SampleCount < l.cfg.MinSamples {
			res.SkippedInsufficient++
			l.logger.Debug("skipping band",
				slog.String("key", key.String()),
				slog.String("reason", "insufficient_samples"),
				slog.Int("samples", band.SampleCount),
				slog.Int("min", l.cfg.MinSamples))
			continue
		}
		if band.SampleCount <= l.lastEvalSamples[key] {
			res.SkippedNoNewData++
			continue
		}
		l.lastEvalSamples[key] = band.SampleCount

		n := band.Wins + band.Losses
		lower, upper := wilsonInterval(band.Wins, n, l.cfg.WilsonZ)

		before := band.Multiplier
		action := ""
		switch {
		case lower > l.cfg.IncreaseLowerBound && band.EWMAPnL > 0:
			band.Multiplier += l.cfg.Step
			action = ActionIncrease
		case upper < l.cfg.DecreaseUpperBound:
			band.Multiplier -= l.cfg.Step
			action = ActionDecrease
		case band.EWMAWinRate >= l.cfg.NeutralBandLow && band.EWMAWinRate <= l.cfg.NeutralBandHigh:
			band.Multiplier += l.cfg.DecayFraction * (1.0 - band.Multiplier)
			action = ActionDecay
		}
		if action == "" {
			continue
		}

		band.ClampMultiplier()
		if math.Abs(band.Multiplier-before) < 1e-12 {
			continue
		}
		band.UpdatedAt = now
		l.table.Put(key, band)

		res.AdjustedCount++
		res.Adjustments = append(res.Adjustments, Adjustment{
			Key:         key,
			Action:      action,
			Before:      before,
			After:       band.Multiplier,
			SampleCount: band.SampleCount,
			WilsonLower: lower,
			WilsonUpper: upper,
			EWMAWinRate: band.EWMAWinRate,
			EWMAPnL:     band.EWMAPnL,
		})
	}

	l.logger.Info("weight update pass complete",
		slog.Int("adjusted", res.AdjustedCount),
		slog.Int("skipped_insufficient", res.SkippedInsufficient),
		slog.Int("skipped_no_new_data", res.SkippedNoNewData))
	return res
}
