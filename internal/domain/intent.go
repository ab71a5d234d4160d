package domain

import "time"

// IntentAction classifies what an order intent asks the execution layer to do.
type IntentAction string

const (
	IntentOpen   IntentAction = "open"
	IntentReduce IntentAction = "reduce"
	IntentClose  IntentAction = "close"
)

// OrderIntent is the engine's outbound instruction to the broker-execution
// adapter. The engine never talks to a broker directly; intents are published
// on the signal bus and logged, and the execution adapter owns routing,
// fills, and order lifecycle.
type OrderIntent struct {
	ID          string       `json:"id"`
	Action      IntentAction `json:"action"`
	Symbol      string       `json:"symbol"`
	Side        Side         `json:"side"`
	Size        float64      `json:"size"`
	RefPrice    float64      `json:"ref_price"`
	Reason      string       `json:"reason"`
	CandidateID string       `json:"candidate_id,omitempty"`
	PositionID  string       `json:"position_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}
