package domain

import "time"

// Urgency bounds for exit evaluation.
const (
	UrgencyMin = 0.0
	UrgencyMax = 10.0
)

// ExitRecommendation is the action suggested by an exit evaluation.
type ExitRecommendation string

const (
	RecommendHold   ExitRecommendation = "HOLD"
	RecommendReduce ExitRecommendation = "REDUCE"
	RecommendExit   ExitRecommendation = "EXIT"
)

// UrgencyResult is the outcome of one exit-urgency evaluation for an open
// position. It is recomputed from scratch each cycle and never persisted
// beyond logging and journaling.
type UrgencyResult struct {
	PositionID     string             `json:"position_id"`
	Symbol         string             `json:"symbol"`
	Urgency        float64            `json:"urgency"`
	Recommendation ExitRecommendation `json:"recommendation"`

	// PrimaryFactor is the bare name of the highest-contributing factor
	// (empty when healthy); PrimaryReason is its display form with the
	// numeric detail appended.
	PrimaryFactor string             `json:"primary_factor,omitempty"`
	PrimaryReason string             `json:"primary_reason"`
	Components    map[string]float64 `json:"components"`
	CurrentScore  float64            `json:"current_score"`
	EvaluatedAt   time.Time          `json:"evaluated_at"`
}
