// Package exits implements the exit-urgency engine: a small, symmetric set of
// deterioration factors summed into a bounded urgency score per open
// position, mapped to a HOLD, REDUCE, or EXIT recommendation. Evaluation is
// stateless: urgency is recomputed from scratch each cycle from the position's
// entry snapshot and the current bundle, never carried between cycles.
package exits

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// Deterioration factor names used in UrgencyResult.Components.
const (
	FactorSignalDecay      = "signal_decay"
	FactorFlowReversal     = "flow_reversal"
	FactorDrawdownVelocity = "drawdown_velocity"
	FactorTimeDecay        = "time_decay"
	FactorMomentumReversal = "momentum_reversal"
	FactorLossLimit        = "loss_limit"
)

// factorOrder fixes the tie-break order when two factors contribute equally.
var factorOrder = []string{
	FactorSignalDecay,
	FactorFlowReversal,
	FactorDrawdownVelocity,
	FactorTimeDecay,
	FactorMomentumReversal,
	FactorLossLimit,
}

// Config carries the exit policy constants. Unlike entry factors these
// weights are static configuration: the weight learner consumes entry
// components only and never touches exit urgency, and the loss limit in
// particular is a hard circuit breaker that must stay fixed.
type Config struct {
	// SignalDecayWeight scales the thesis-erosion factor; the factor engages
	// once current score / entry score falls below HealthyScoreRatio.
	SignalDecayWeight float64
	HealthyScoreRatio float64

	// FlowReversalWeight is double the standard deterioration weight: a
	// direction flip against the entry thesis is the strongest invalidation
	// signal this engine sees.
	FlowReversalWeight float64

	// DrawdownVelocityWeight scales drawdown speed; velocity saturates at
	// DrawdownFullPctPerHour. MinElapsedHours floors the divisor so a
	// just-opened position cannot divide by a near-zero age.
	DrawdownVelocityWeight float64
	DrawdownFullPctPerHour float64
	MinElapsedHours        float64

	// TimeDecayWeight accrues only past GraceHours and saturates
	// TimeSaturationHours later.
	TimeDecayWeight     float64
	GraceHours          float64
	TimeSaturationHours float64

	// MomentumReversalWeight scales opposing tape momentum; saturates at
	// MomentumFullScale (fractional return).
	MomentumReversalWeight float64
	MomentumFullScale      float64

	// LossLimitPct and LossLimitUrgency define the non-adaptive circuit
	// breaker: a flat urgency bump once unrealized P&L crosses the limit.
	LossLimitPct     float64
	LossLimitUrgency float64

	// Recommendation thresholds.
	ExitThreshold   float64
	ReduceThreshold float64
}

// DefaultConfig returns the documented policy defaults.
func DefaultConfig() Config {
	return Config{
		SignalDecayWeight:      2.5,
		HealthyScoreRatio:      0.70,
		FlowReversalWeight:     3.0,
		DrawdownVelocityWeight: 2.0,
		DrawdownFullPctPerHour: 3.0,
		MinElapsedHours:        0.25,
		TimeDecayWeight:        1.5,
		GraceHours:             72,
		TimeSaturationHours:    96,
		MomentumReversalWeight: 1.5,
		MomentumFullScale:      0.02,
		LossLimitPct:           -5.0,
		LossLimitUrgency:       2.0,
		ExitThreshold:          6.0,
		ReduceThreshold:        3.0,
	}
}

// Scorer re-scores a symbol under current conditions. Satisfied by
// scoring.Engine.
type Scorer interface {
	Score(symbol string, bundle domain.FeatureBundle, regime domain.Regime, intel *domain.ExpandedIntel, now time.Time) domain.CompositeResult
}

// Engine evaluates exit urgency for open positions.
type Engine struct {
	cfg    Config
	scorer Scorer
}

// NewEngine creates an exit engine around the given scorer.
func NewEngine(cfg Config, scorer Scorer) *Engine {
	return &Engine{cfg: cfg, scorer: scorer}
}

// Evaluate computes the exit urgency for one open position under the current
// bundle and regime. It is pure and non-blocking. Structural violations on
// the position (non-positive entry price, size, or entry score, unknown side,
// no usable mark) fail loudly with domain.ErrPolicyViolation: guessing a
// value here risks real money.
func (e *Engine) Evaluate(pos domain.Position, bundle domain.FeatureBundle, intel *domain.ExpandedIntel, regime domain.Regime, now time.Time) (domain.UrgencyResult, error) {
	if err := validatePosition(pos); err != nil {
		return domain.UrgencyResult{}, err
	}

	mark := pos.MarkPrice
	if bundle.Mark != nil && *bundle.Mark > 0 {
		mark = *bundle.Mark
	}
	if mark <= 0 {
		return domain.UrgencyResult{}, fmt.Errorf("exits: position %s has no usable mark price: %w", pos.ID, domain.ErrPolicyViolation)
	}

	current := e.scorer.Score(pos.Symbol, bundle, regime, intel, now)

	components := make(map[string]float64, len(factorOrder))
	details := make(map[string]float64, len(factorOrder))
	for _, name := range factorOrder {
		components[name] = 0
		details[name] = 0
	}

	// Signal decay: how much of the entry thesis score remains.
	ratio := current.Score / pos.EntryScore
	details[FactorSignalDecay] = ratio
	if ratio < e.cfg.HealthyScoreRatio {
		components[FactorSignalDecay] = e.cfg.SignalDecayWeight * (e.cfg.HealthyScoreRatio - ratio) / e.cfg.HealthyScoreRatio
	}

	// Adverse flow reversal: the tape now reads against the entry side.
	if dir := bundle.FlowSentiment.Direction(); dir != 0 && dir == -sideDirection(pos.Side) {
		strength := 0.5
		if bundle.FlowConviction != nil && *bundle.FlowConviction >= 0 && *bundle.FlowConviction <= 1 {
			strength = *bundle.FlowConviction
		}
		details[FactorFlowReversal] = strength
		components[FactorFlowReversal] = e.cfg.FlowReversalWeight * strength
	}

	// Drawdown velocity: speed of the give-back from the high-water mark.
	elapsed := pos.Age(now).Hours()
	if elapsed < e.cfg.MinElapsedHours {
		elapsed = e.cfg.MinElapsedHours
	}
	velocity := pos.DrawdownPct(mark) / elapsed
	details[FactorDrawdownVelocity] = velocity
	components[FactorDrawdownVelocity] = e.cfg.DrawdownVelocityWeight * clamp01(velocity/e.cfg.DrawdownFullPctPerHour)

	// Time decay: only past the grace period.
	held := pos.Age(now).Hours()
	details[FactorTimeDecay] = held
	if held > e.cfg.GraceHours {
		components[FactorTimeDecay] = e.cfg.TimeDecayWeight * clamp01((held-e.cfg.GraceHours)/e.cfg.TimeSaturationHours)
	}

	// Momentum reversal: opposing short-horizon tape.
	if m := bundle.Momentum; m != nil {
		details[FactorMomentumReversal] = *m
		opposing := -*m * sideDirection(pos.Side)
		if opposing > 0 {
			components[FactorMomentumReversal] = e.cfg.MomentumReversalWeight * clamp01(opposing/e.cfg.MomentumFullScale)
		}
	}

	// Loss limit: fixed, non-adaptive circuit breaker.
	pnl := pos.UnrealizedPnLPct(mark)
	details[FactorLossLimit] = pnl
	if pnl < e.cfg.LossLimitPct {
		components[FactorLossLimit] = e.cfg.LossLimitUrgency
	}

	total := 0.0
	for _, c := range components {
		total += c
	}
	urgency := clampRange(total, domain.UrgencyMin, domain.UrgencyMax)

	factor, reason := primaryReason(components, details)
	return domain.UrgencyResult{
		PositionID:     pos.ID,
		Symbol:         pos.Symbol,
		Urgency:        urgency,
		Recommendation: e.recommend(urgency),
		PrimaryFactor:  factor,
		PrimaryReason:  reason,
		Components:     components,
		CurrentScore:   current.Score,
		EvaluatedAt:    now,
	}, nil
}

// recommend maps urgency onto the action thresholds.
func (e *Engine) recommend(urgency float64) domain.ExitRecommendation {
	switch {
	case urgency >= e.cfg.ExitThreshold:
		return domain.RecommendExit
	case urgency >= e.cfg.ReduceThreshold:
		return domain.RecommendReduce
	default:
		return domain.RecommendHold
	}
}

// primaryReason names the single highest-contributing factor, returning both
// the bare factor name and its display form with the numeric detail, e.g.
// "signal_decay(0.58)". Ties resolve in factor order. A fully healthy
// position reports an empty factor and "healthy".
func primaryReason(components, details map[string]float64) (factor, reason string) {
	best := ""
	bestVal := 0.0
	for _, name := range factorOrder {
		if c := components[name]; c > bestVal {
			best, bestVal = name, c
		}
	}
	if best == "" {
		return "", "healthy"
	}
	return best, fmt.Sprintf("%s(%.2f)", best, details[best])
}

func validatePosition(pos domain.Position) error {
	switch {
	case pos.EntryPrice <= 0:
		return fmt.Errorf("exits: position %s entry price %.4f: %w", pos.ID, pos.EntryPrice, domain.ErrPolicyViolation)
	case pos.Size <= 0:
		return fmt.Errorf("exits: position %s size %.4f: %w", pos.ID, pos.Size, domain.ErrPolicyViolation)
	case pos.EntryScore <= 0:
		return fmt.Errorf("exits: position %s entry score %.4f: %w", pos.ID, pos.EntryScore, domain.ErrPolicyViolation)
	case !pos.Side.Valid():
		return fmt.Errorf("exits: position %s side %q: %w", pos.ID, pos.Side, domain.ErrPolicyViolation)
	}
	return nil
}

func sideDirection(s domain.Side) float64 {
	if s == domain.SideShort {
		return -1
	}
	return 1
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
