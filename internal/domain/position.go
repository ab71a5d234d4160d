package domain

import "time"

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool { return s == SideLong || s == SideShort }

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Position represents an open or historical trading position. The fields
// captured at entry (EntryPrice, EntryScore, EntryComponents, RegimeAtEntry)
// are written once when the position opens and never mutated afterwards; they
// are the ground truth the exit engine and the weight learner reference.
// HighWater and MarkPrice are the only fields the reconciliation loop updates
// while the position is open.
type Position struct {
	ID              string
	Symbol          string
	Sector          string
	Side            Side
	Size            float64 // shares
	EntryPrice      float64
	MarkPrice       float64
	HighWater       float64 // best mark seen since entry, in the position's favor
	EntryScore      float64
	EntryComponents map[string]float64
	RegimeAtEntry   Regime
	Source          string // scanner that produced the entry candidate
	Status          PositionStatus
	OpenedAt        time.Time
	ClosedAt        *time.Time
	ExitPrice       *float64
	CloseReason     *string
	RealizedPnLPct  *float64
}

// Age returns how long the position has been open at the given instant.
func (p Position) Age(now time.Time) time.Duration {
	if now.Before(p.OpenedAt) {
		return 0
	}
	return now.Sub(p.OpenedAt)
}

// UnrealizedPnLPct returns the open P&L at the given mark, in percent of the
// entry price, signed by side. Returns 0 when the entry price is not positive.
func (p Position) UnrealizedPnLPct(mark float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	pct := (mark - p.EntryPrice) / p.EntryPrice * 100
	if p.Side == SideShort {
		pct = -pct
	}
	return pct
}

// DrawdownPct returns how far the mark has fallen from the high-water mark,
// in percent, as a non-negative number. Shorts measure the rise instead.
func (p Position) DrawdownPct(mark float64) float64 {
	if p.HighWater <= 0 {
		return 0
	}
	var dd float64
	switch p.Side {
	case SideShort:
		dd = (mark - p.HighWater) / p.HighWater * 100
	default:
		dd = (p.HighWater - mark) / p.HighWater * 100
	}
	if dd < 0 {
		return 0
	}
	return dd
}
