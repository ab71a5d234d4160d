// Package displace implements the displacement gate: the decision of whether
// a new entry candidate justifies closing the weakest open position to free
// capital. ShouldDisplace is pure and non-blocking; the caller re-scores the
// open position first and handles the audit write afterwards.
package displace

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/scoring"
)

// Rejection and approval reason strings. These appear in audit rows, journal
// records, and operator alerts, so they are part of the stored data contract.
const (
	ReasonAllowed           = "displacement_allowed"
	ReasonMinHoldNotMet     = "min_hold_not_met"
	ReasonDeltaInsufficient = "score_delta_insufficient"
	ReasonNoThesisDominance = "no_thesis_dominance"
)

// Sub-thesis labels reported in Evaluation.FavoringTheses.
const (
	ThesisFlowDirection     = "flow_direction"
	ThesisRegimeAlignment   = "regime_alignment"
	ThesisDarkPoolDirection = "darkpool_direction"
)

// Config carries the displacement policy constants.
type Config struct {
	// MinScoreDelta is how far the candidate must exceed the open position's
	// current re-scored value.
	MinScoreDelta float64

	// MinHold is the hold-time floor; a position younger than this cannot be
	// displaced unless an emergency condition holds.
	MinHold time.Duration

	// EmergencyScore and EmergencyPnLPct define the waiver: the hold floor is
	// ignored when the position's current score has fallen below
	// EmergencyScore or its unrealized P&L is below EmergencyPnLPct percent.
	EmergencyScore  float64
	EmergencyPnLPct float64
}

// DefaultConfig returns the documented policy defaults.
func DefaultConfig() Config {
	return Config{
		MinScoreDelta:   0.75,
		MinHold:         20 * time.Minute,
		EmergencyScore:  3.0,
		EmergencyPnLPct: -0.5,
	}
}

// Evaluation is the full record of one displacement decision. Every field is
// populated whether or not the displacement was allowed, so the caller can
// audit rejections with the same fidelity as approvals.
type Evaluation struct {
	Allowed        bool          `json:"allowed"`
	Reason         string        `json:"reason"`
	ScoreDelta     float64       `json:"score_delta"`
	HoldAge        time.Duration `json:"hold_age"`
	Emergency      bool          `json:"emergency"`
	FavoringTheses []string      `json:"favoring_theses,omitempty"`
	CurrentScore   float64       `json:"current_score"`
	CandidateScore float64       `json:"candidate_score"`
}

// CloseReason renders the machine-parseable close reason recorded on the
// displaced position: displacing symbol, score delta, and hold age in one
// string, e.g. "displaced:by=NVDA:delta=1.23:age=47m0s".
func (e Evaluation) CloseReason(bySymbol string) string {
	return fmt.Sprintf("displaced:by=%s:delta=%.2f:age=%s",
		bySymbol, e.ScoreDelta, e.HoldAge.Round(time.Second))
}

// Detail renders the evaluation as an audit payload.
func (e Evaluation) Detail() map[string]any {
	return map[string]any{
		"allowed":         e.Allowed,
		"reason":          e.Reason,
		"score_delta":     e.ScoreDelta,
		"hold_age_sec":    e.HoldAge.Seconds(),
		"emergency":       e.Emergency,
		"favoring_theses": e.FavoringTheses,
		"current_score":   e.CurrentScore,
		"candidate_score": e.CandidateScore,
	}
}

// Policy evaluates displacement requests.
type Policy struct {
	cfg Config
}

// NewPolicy creates a displacement policy.
func NewPolicy(cfg Config) *Policy {
	if cfg.MinHold <= 0 {
		cfg.MinHold = DefaultConfig().MinHold
	}
	return &Policy{cfg: cfg}
}

// ShouldDisplace decides whether the candidate may displace the given open
// position. current is the position's re-scored value under present
// conditions, produced by the caller; pnlPct is the position's unrealized
// P&L in percent at the latest usable mark. All three rules must hold for an
// approval: score delta at or above the minimum, hold floor satisfied (or
// waived under emergency), and at least one structurally distinct sub-thesis
// favoring the candidate over an aggregate score edge alone.
func (p *Policy) ShouldDisplace(pos domain.Position, current domain.CompositeResult, cand domain.EntryCandidate, pnlPct float64, now time.Time) Evaluation {
	ev := Evaluation{
		ScoreDelta:     cand.Score - current.Score,
		HoldAge:        pos.Age(now),
		CurrentScore:   current.Score,
		CandidateScore: cand.Score,
	}
	ev.Emergency = current.Score < p.cfg.EmergencyScore || pnlPct < p.cfg.EmergencyPnLPct
	ev.FavoringTheses = p.favoringTheses(pos, current, cand)

	switch {
	case ev.HoldAge < p.cfg.MinHold && !ev.Emergency:
		ev.Reason = ReasonMinHoldNotMet
	case ev.ScoreDelta < p.cfg.MinScoreDelta:
		ev.Reason = ReasonDeltaInsufficient
	case len(ev.FavoringTheses) == 0:
		ev.Reason = ReasonNoThesisDominance
	default:
		ev.Allowed = true
		ev.Reason = ReasonAllowed
	}
	return ev
}

// favoringTheses reports which structurally distinct sub-theses favor the
// candidate. A summed score edge spread thin across many small factors
// qualifies under none of them.
func (p *Policy) favoringTheses(pos domain.Position, current domain.CompositeResult, cand domain.EntryCandidate) []string {
	var favoring []string

	// Flow direction: the candidate's directional options-flow read is
	// strictly stronger than what remains of the position's.
	candFlow := cand.Components[scoring.FactorFlowConviction] + cand.Components[scoring.FactorFlowSentiment]
	posFlow := current.Components[scoring.FactorFlowConviction] + current.Components[scoring.FactorFlowSentiment]
	if candFlow > posFlow {
		favoring = append(favoring, ThesisFlowDirection)
	}

	// Regime alignment: the current regime structurally favors the
	// candidate's side and not the position's.
	if cand.Regime.FavorsSide(cand.Side) && !cand.Regime.FavorsSide(pos.Side) {
		favoring = append(favoring, ThesisRegimeAlignment)
	}

	// Dark-pool direction: prints confirm the candidate's thesis and exceed
	// whatever dark-pool support the position still has.
	candDark := cand.Components[scoring.FactorDarkPoolDirection]
	if candDark > 0 && candDark > current.Components[scoring.FactorDarkPoolDirection] {
		favoring = append(favoring, ThesisDarkPoolDirection)
	}

	return favoring
}
