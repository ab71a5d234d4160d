package domain

import (
	"context"
	"time"
)

// Journal record types. The journal is the attribution trail: every entry
// decision, exit, and weight adjustment lands there as one self-contained
// line, append-only, never rewritten.
const (
	JournalTypeEntry        = "entry"
	JournalTypeExit         = "exit"
	JournalTypeDecision     = "decision"
	JournalTypeWeightUpdate = "weight_update"
)

// JournalRecord is one attribution line. Data carries the type-specific
// fields; the envelope keys are stable across all types.
type JournalRecord struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	At     time.Time      `json:"at"`
	Symbol string         `json:"symbol,omitempty"`
	Data   map[string]any `json:"data"`
}

// Journal appends attribution records.
type Journal interface {
	Record(ctx context.Context, rec JournalRecord) error
}
