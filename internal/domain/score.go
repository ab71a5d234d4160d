package domain

import "time"

// Score bounds for composite entry scoring.
const (
	ScoreMin = 0.0
	ScoreMax = 8.0
)

// CompositeResult is the outcome of one composite scoring evaluation.
// It is immutable once produced: the decision gate, the weight learner
// (paired with the eventual realized P&L), and telemetry all consume the
// same value.
type CompositeResult struct {
	Symbol      string             `json:"symbol"`
	Score       float64            `json:"score"`
	Components  map[string]float64 `json:"components"`
	Freshness   float64            `json:"freshness"` // decay multiplier applied, [0,1]
	Toxicity    float64            `json:"toxicity"`
	Notes       []string           `json:"notes,omitempty"`
	Regime      Regime             `json:"regime"`
	EvaluatedAt time.Time          `json:"evaluated_at"`
}

// CloneComponents returns a copy of the per-factor contribution map, so a
// caller can snapshot it onto a Position without sharing the backing map.
func (r CompositeResult) CloneComponents() map[string]float64 {
	out := make(map[string]float64, len(r.Components))
	for k, v := range r.Components {
		out[k] = v
	}
	return out
}
