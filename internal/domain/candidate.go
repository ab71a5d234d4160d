package domain

import "time"

// EntryCandidate is a scored trade idea emitted by a scanner. Candidates flow
// through the decision pipeline (dedup, expiry, risk, capacity/displacement)
// before becoming an order intent and a position.
type EntryCandidate struct {
	ID         string
	Source     string // scanner name
	Symbol     string
	Sector     string
	Side       Side
	Score      float64
	Components map[string]float64
	Freshness  float64
	Regime     Regime
	RefPrice   float64 // mark at evaluation time
	Size       float64 // proposed shares
	Reason     string
	Metadata   map[string]string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the candidate is past its expiry at the given time.
func (c EntryCandidate) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}
