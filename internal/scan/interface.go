// Package scan turns cached intelligence into scored entry candidates. Each
// scanner watches for its own trigger pattern and asks the composite scoring
// engine whether the setup clears the entry threshold.
package scan

import (
	"context"
	"time"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// IntelUpdate is one refreshed symbol snapshot delivered to scanners.
type IntelUpdate struct {
	Bundle domain.FeatureBundle
	Intel  *domain.ExpandedIntel
	Regime domain.Regime
	At     time.Time
}

// MarkUpdate is one mark-price tick delivered to scanners.
type MarkUpdate struct {
	Symbol string
	Mark   float64
	At     time.Time
}

// Scanner defines the contract for entry-candidate scanners.
type Scanner interface {
	Name() string
	Init(ctx context.Context) error
	OnIntelUpdate(ctx context.Context, update IntelUpdate) ([]domain.EntryCandidate, error)
	OnMarkUpdate(ctx context.Context, update MarkUpdate) ([]domain.EntryCandidate, error)
	Close() error
}

// Config holds the trigger levels and candidate parameters shared by the
// built-in scanners.
type Config struct {
	EntryThreshold float64
	CandidateTTL   time.Duration
	DefaultSize    float64

	// flow_surge trigger levels.
	SurgeMinConviction float64
	SurgeMinNotional   float64

	// darkpool_accumulation trigger levels.
	DarkMinNotional float64
	DarkMinPrints   int
}

// DefaultConfig returns the documented trigger defaults.
func DefaultConfig() Config {
	return Config{
		EntryThreshold:     4.0,
		CandidateTTL:       10 * time.Minute,
		DefaultSize:        100,
		SurgeMinConviction: 0.65,
		SurgeMinNotional:   1_000_000,
		DarkMinNotional:    5_000_000,
		DarkMinPrints:      8,
	}
}
