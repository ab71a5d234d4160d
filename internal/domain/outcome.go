package domain

import "time"

// TradeOutcome is the realized result of one closed position: the entry-time
// factor contributions paired with the P&L they produced. It is created
// exactly once per closed position, is the sole input to the weight learner,
// and is append-only: once recorded it is never mutated.
type TradeOutcome struct {
	ID              string             `json:"id"`
	PositionID      string             `json:"position_id"`
	Symbol          string             `json:"symbol"`
	Sector          string             `json:"sector"`
	Side            Side               `json:"side"`
	Regime          Regime             `json:"regime"`
	EntryComponents map[string]float64 `json:"entry_components"`
	EntryScore      float64            `json:"entry_score"`
	ExitScore       float64            `json:"exit_score"`
	RealizedPnLPct  float64            `json:"realized_pnl_pct"`
	CloseReason     string             `json:"close_reason"`
	OpenedAt        time.Time          `json:"opened_at"`
	ClosedAt        time.Time          `json:"closed_at"`
}

// Win reports whether the outcome counts as a win for learning purposes.
func (o TradeOutcome) Win() bool { return o.RealizedPnLPct > 0 }
