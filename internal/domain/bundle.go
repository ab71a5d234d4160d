package domain

import "time"

// Sentiment is the directional read extracted from a feed.
type Sentiment string

const (
	SentimentBullish Sentiment = "bullish"
	SentimentBearish Sentiment = "bearish"
	SentimentNeutral Sentiment = "neutral"
)

// Direction maps the sentiment onto [-1, 0, +1].
func (s Sentiment) Direction() float64 {
	switch s {
	case SentimentBullish:
		return 1
	case SentimentBearish:
		return -1
	}
	return 0
}

// Aligned reports whether the sentiment points the same way as the side.
func (s Sentiment) Aligned(side Side) bool {
	return (s == SentimentBullish && side == SideLong) ||
		(s == SentimentBearish && side == SideShort)
}

// Magnitude classifies the notional size of observed activity.
type Magnitude string

const (
	MagnitudeSmall    Magnitude = "small"
	MagnitudeModerate Magnitude = "moderate"
	MagnitudeLarge    Magnitude = "large"
	MagnitudeExtreme  Magnitude = "extreme"
)

// FeatureBundle is the per-symbol snapshot of upstream intelligence consumed
// by the scoring engines. It is a closed struct: every factor the engines read
// has an explicit field here, and optional inputs are pointers so that absence
// is distinguishable from a zero value. Absence is resolved to each factor's
// neutral default at the scoring boundary, never inside the bundle.
type FeatureBundle struct {
	Symbol string
	AsOf   time.Time

	// Options flow.
	FlowSentiment   Sentiment
	FlowConviction  *float64 // directional confidence, [0,1]
	FlowMagnitude   Magnitude
	PremiumNotional *float64 // total premium traded, dollars
	SweepCount      *int
	BlockCount      *int
	CallPutRatio    *float64 // call premium / put premium
	OTMShare        *float64 // share of premium in out-of-the-money strikes, [0,1]
	NearDatedShare  *float64 // share of premium expiring within two weeks, [0,1]
	OpenInterestChg *float64 // day-over-day open interest change, fraction
	IVSkewShift     *float64 // change in 25-delta put/call skew, vols

	// Dark pool.
	DarkPoolSentiment Sentiment
	DarkPoolNotional  *float64 // dark prints notional, dollars
	DarkPoolPrints    *int
	LitDarkDivergence *float64 // dark-print direction minus lit-tape direction, [-2,2]

	// Tape context.
	Mark                 *float64 // latest mark price
	Momentum             *float64 // short-horizon return, fraction (e.g. 0.012 = +1.2%)
	RelVolume            *float64 // volume vs. trailing average, ratio
	Toxicity             *float64 // disagreement across inputs, [0,1]
	HighConvictionStreak *int     // consecutive refreshes with conviction >= streak threshold
}

// AgeMinutes returns the bundle age at the given instant, floored at zero.
func (b FeatureBundle) AgeMinutes(now time.Time) float64 {
	if b.AsOf.IsZero() || !now.After(b.AsOf) {
		return 0
	}
	return now.Sub(b.AsOf).Minutes()
}

// ExpandedIntel carries the slower-moving auxiliary feeds that are fetched on
// a wider interval than the flow bundle. All fields are optional.
type ExpandedIntel struct {
	Symbol string
	AsOf   time.Time

	InsiderNetBuying  *float64 // net insider buying pressure, [-1,1]
	InstitutionalFlow *float64 // 13F-style accumulation pressure, [-1,1]
	ShortSqueezeSetup *float64 // squeeze setup quality, [0,1]
	NewsCatalyst      *float64 // catalyst strength, [0,1]
	SocialMomentum    *float64 // social chatter acceleration, [0,1]
	AnalystRevision   *float64 // net estimate revision direction, [-1,1]
	EarningsInDays    *float64 // days until next earnings, if scheduled
}
