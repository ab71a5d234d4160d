package domain

import (
	"fmt"
	"strings"
	"time"
)

// Multiplier bounds enforced on every adaptive weight band.
const (
	MultiplierMin = 0.25
	MultiplierMax = 2.5
)

// WeightKey identifies one adaptive weight band: a scoring factor observed
// under a specific market regime.
type WeightKey struct {
	Factor string
	Regime Regime
}

// String renders the key in the "factor|REGIME" form used for persistence.
func (k WeightKey) String() string {
	return k.Factor + "|" + string(k.Regime)
}

// ParseWeightKey parses the "factor|REGIME" form produced by String.
func ParseWeightKey(s string) (WeightKey, error) {
	factor, regime, ok := strings.Cut(s, "|")
	if !ok || factor == "" || regime == "" {
		return WeightKey{}, fmt.Errorf("domain: malformed weight key %q", s)
	}
	return WeightKey{Factor: factor, Regime: Regime(regime)}, nil
}

// WeightBand is the learned state for one (factor, regime) pair. Bands are
// created with a neutral multiplier on first reference, mutated only by the
// weight learner's update pass, and never deleted, only decayed back toward
// neutral.
type WeightBand struct {
	BaseWeight  float64   `json:"base_weight"`
	Multiplier  float64   `json:"multiplier"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	EWMAWinRate float64   `json:"ewma_win_rate"`
	EWMAPnL     float64   `json:"ewma_pnl"`
	SampleCount int       `json:"sample_count"`
	Pinned      bool      `json:"pinned"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewWeightBand returns a fresh band at the neutral multiplier.
func NewWeightBand(baseWeight float64, pinned bool) WeightBand {
	return WeightBand{
		BaseWeight:  baseWeight,
		Multiplier:  1.0,
		EWMAWinRate: 0.5,
		Pinned:      pinned,
	}
}

// Effective returns base_weight x multiplier. Pinned bands always report the
// unmodified base weight regardless of the stored multiplier.
func (b WeightBand) Effective() float64 {
	if b.Pinned {
		return b.BaseWeight
	}
	return b.BaseWeight * b.Multiplier
}

// ClampMultiplier forces the multiplier back into [MultiplierMin, MultiplierMax].
func (b *WeightBand) ClampMultiplier() {
	if b.Multiplier < MultiplierMin {
		b.Multiplier = MultiplierMin
	}
	if b.Multiplier > MultiplierMax {
		b.Multiplier = MultiplierMax
	}
}
