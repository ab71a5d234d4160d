package flowalpha

import (
	"time"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// FlowSnapshot is the per-symbol options-flow summary returned by the
// /v1/flow endpoint.
type FlowSnapshot struct {
	Symbol          string    `json:"symbol"`
	AsOf            time.Time `json:"as_of"`
	Sentiment       string    `json:"sentiment"` // bullish | bearish | neutral
	Conviction      *float64  `json:"conviction,omitempty"`
	Magnitude       string    `json:"magnitude"` // small | moderate | large | extreme
	PremiumNotional *float64  `json:"premium_notional,omitempty"`
	SweepCount      *int      `json:"sweep_count,omitempty"`
	BlockCount      *int      `json:"block_count,omitempty"`
	CallPutRatio    *float64  `json:"call_put_ratio,omitempty"`
	OTMShare        *float64  `json:"otm_share,omitempty"`
	NearDatedShare  *float64  `json:"near_dated_share,omitempty"`
	OpenInterestChg *float64  `json:"oi_change,omitempty"`
	IVSkewShift     *float64  `json:"iv_skew_shift,omitempty"`
	Toxicity        *float64  `json:"toxicity,omitempty"`
}

// DarkPoolSummary is the per-symbol dark-pool print summary returned by the
// /v1/darkpool endpoint.
type DarkPoolSummary struct {
	Symbol            string    `json:"symbol"`
	AsOf              time.Time `json:"as_of"`
	Sentiment         string    `json:"sentiment"`
	Notional          *float64  `json:"notional,omitempty"`
	Prints            *int      `json:"prints,omitempty"`
	LitDarkDivergence *float64  `json:"lit_dark_divergence,omitempty"`
}

// TapeSummary carries the lit-tape context returned alongside flow snapshots.
type TapeSummary struct {
	Symbol    string   `json:"symbol"`
	Mark      *float64 `json:"mark,omitempty"`
	Momentum  *float64 `json:"momentum,omitempty"`
	RelVolume *float64 `json:"rel_volume,omitempty"`
}

// IntelSnapshot is the slower-moving expanded intelligence returned by the
// /v1/intel endpoint.
type IntelSnapshot struct {
	Symbol            string    `json:"symbol"`
	AsOf              time.Time `json:"as_of"`
	InsiderNetBuying  *float64  `json:"insider_net_buying,omitempty"`
	InstitutionalFlow *float64  `json:"institutional_flow,omitempty"`
	ShortSqueezeSetup *float64  `json:"short_squeeze_setup,omitempty"`
	NewsCatalyst      *float64  `json:"news_catalyst,omitempty"`
	SocialMomentum    *float64  `json:"social_momentum,omitempty"`
	AnalystRevision   *float64  `json:"analyst_revision,omitempty"`
	EarningsInDays    *float64  `json:"earnings_in_days,omitempty"`
}

// MarketIndicators carries the breadth/volatility inputs the regime service
// classifies from, returned by the /v1/market endpoint.
type MarketIndicators struct {
	AsOf       time.Time `json:"as_of"`
	IndexTrend float64   `json:"index_trend"` // index vs. its moving average, fraction
	VolIndex   float64   `json:"vol_index"`   // VIX-style volatility level
	Breadth    float64   `json:"breadth"`     // advancing share, [0,1]
}

// StreamEvent is one incremental update pushed over the WebSocket feed.
// Exactly one of the payload pointers is set, matching Type.
type StreamEvent struct {
	Type     string           `json:"type"` // flow | darkpool | mark
	Symbol   string           `json:"symbol"`
	At       time.Time        `json:"at"`
	Flow     *FlowSnapshot    `json:"flow,omitempty"`
	DarkPool *DarkPoolSummary `json:"darkpool,omitempty"`
	Mark     *float64         `json:"mark,omitempty"`
}

// errorResponse is the provider's error envelope.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ToBundle merges the three per-symbol summaries into a FeatureBundle.
// Missing sections stay as their zero/neutral values; the scoring boundary
// resolves absence, not this mapper.
func ToBundle(flow FlowSnapshot, dark *DarkPoolSummary, tape *TapeSummary, streak *int) domain.FeatureBundle {
	b := domain.FeatureBundle{
		Symbol:          flow.Symbol,
		AsOf:            flow.AsOf,
		FlowSentiment:   domain.Sentiment(flow.Sentiment),
		FlowConviction:  flow.Conviction,
		FlowMagnitude:   domain.Magnitude(flow.Magnitude),
		PremiumNotional: flow.PremiumNotional,
		SweepCount:      flow.SweepCount,
		BlockCount:      flow.BlockCount,
		CallPutRatio:    flow.CallPutRatio,
		OTMShare:        flow.OTMShare,
		NearDatedShare:  flow.NearDatedShare,
		OpenInterestChg: flow.OpenInterestChg,
		IVSkewShift:     flow.IVSkewShift,
		Toxicity:        flow.Toxicity,

		HighConvictionStreak: streak,
	}

	if dark != nil {
		b.DarkPoolSentiment = domain.Sentiment(dark.Sentiment)
		b.DarkPoolNotional = dark.Notional
		b.DarkPoolPrints = dark.Prints
		b.LitDarkDivergence = dark.LitDarkDivergence
		if dark.AsOf.After(b.AsOf) {
			b.AsOf = dark.AsOf
		}
	}
	if tape != nil {
		b.Mark = tape.Mark
		b.Momentum = tape.Momentum
		b.RelVolume = tape.RelVolume
	}
	return b
}

// ToExpandedIntel maps an IntelSnapshot onto the domain type.
func ToExpandedIntel(s IntelSnapshot) domain.ExpandedIntel {
	return domain.ExpandedIntel{
		Symbol:            s.Symbol,
		AsOf:              s.AsOf,
		InsiderNetBuying:  s.InsiderNetBuying,
		InstitutionalFlow: s.InstitutionalFlow,
		ShortSqueezeSetup: s.ShortSqueezeSetup,
		NewsCatalyst:      s.NewsCatalyst,
		SocialMomentum:    s.SocialMomentum,
		AnalystRevision:   s.AnalystRevision,
		EarningsInDays:    s.EarningsInDays,
	}
}
