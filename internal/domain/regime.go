package domain

import "time"

// Regime is a coarse market-state label used to segment learned weights.
type Regime string

const (
	RegimeRiskOn  Regime = "RISK_ON"
	RegimeNeutral Regime = "NEUTRAL"
	RegimeRiskOff Regime = "RISK_OFF"
	RegimePanic   Regime = "PANIC"
)

// AllRegimes lists every regime in severity order, calmest first.
var AllRegimes = []Regime{RegimeRiskOn, RegimeNeutral, RegimeRiskOff, RegimePanic}

// Valid reports whether r is a known regime label.
func (r Regime) Valid() bool {
	switch r {
	case RegimeRiskOn, RegimeNeutral, RegimeRiskOff, RegimePanic:
		return true
	}
	return false
}

// FavorsSide reports whether the regime structurally favors the given
// position side: risk-on favors longs, risk-off and panic favor shorts.
// Neutral favors neither.
func (r Regime) FavorsSide(side Side) bool {
	switch r {
	case RegimeRiskOn:
		return side == SideLong
	case RegimeRiskOff, RegimePanic:
		return side == SideShort
	}
	return false
}

// RegimeState is the current regime classification with the indicator values
// it was derived from.
type RegimeState struct {
	Regime     Regime
	IndexTrend float64 // index price vs. its moving average, in percent
	VolIndex   float64 // volatility index level (VIX-style)
	Breadth    float64 // advancing share of the watchlist, [0,1]
	AsOf       time.Time
}
