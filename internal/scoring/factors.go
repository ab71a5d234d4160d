package scoring

import (
	"github.com/alanyoungcy/flowbot/internal/domain"
)

// Factor names. These are the keys used in CompositeResult.Components, in
// persisted weight bands, and in journal records, so they are part of the
// stored data contract: rename only with a migration.
const (
	FactorFlowConviction    = "flow_conviction"
	FactorFlowSentiment     = "flow_sentiment"
	FactorFlowMagnitude     = "flow_magnitude"
	FactorSweepIntensity    = "sweep_intensity"
	FactorBlockActivity     = "block_activity"
	FactorCallPutRatio      = "call_put_ratio"
	FactorOTMAggression     = "otm_aggression"
	FactorNearDatedBias     = "near_dated_bias"
	FactorOIMomentum        = "oi_momentum"
	FactorIVSkewShift       = "iv_skew_shift"
	FactorDarkPoolDirection = "darkpool_direction"
	FactorDarkPoolIntensity = "darkpool_intensity"
	FactorLitDarkAlignment  = "lit_dark_alignment"
	FactorTapeMomentum      = "tape_momentum"
	FactorRelVolume         = "rel_volume"
	FactorInsiderActivity   = "insider_activity"
	FactorInstitutionalFlow = "institutional_flow"
	FactorShortSqueeze      = "short_squeeze"
	FactorNewsCatalyst      = "news_catalyst"
	FactorSocialMomentum    = "social_momentum"
	FactorAnalystRevision   = "analyst_revision"
)

// Non-factor component keys that also appear in CompositeResult.Components.
const (
	ComponentToxicityPenalty  = "toxicity_penalty"
	ComponentPersistenceBonus = "persistence_bonus"
)

// AnchorFactor is the dominant entry signal. Its band is pinned: the weight
// learner never adjusts it, and a missing conviction value defaults to 0.5,
// never 0, because zeroing the largest base weight silently collapses every
// score built on top of it.
const AnchorFactor = FactorFlowConviction

// defaultNeutralFrac is the normalized value substituted when a factor's
// input is absent or malformed. A factor therefore contributes
// 0.2 x base_weight instead of dropping to zero, so sparse bundles degrade
// gradually. The anchor overrides this with 0.5.
const defaultNeutralFrac = 0.2

// evalStatus describes how a factor's input resolved.
type evalStatus int

const (
	statusOK evalStatus = iota
	statusMissing
	statusMalformed
)

// input is the resolved view of one evaluation handed to every factor.
// thesis is the directional read of the options flow (+1 bullish, -1 bearish,
// 0 unclear); factors that measure agreement with the flow thesis return
// their neutral value when the thesis itself is unclear.
type input struct {
	bundle domain.FeatureBundle
	intel  *domain.ExpandedIntel
	thesis float64
}

type evalFunc func(in input) (norm float64, status evalStatus)

// FactorSpec describes one scoring factor: its stable name, base weight,
// neutral fallback fraction, and whether its band is pinned against adaptive
// adjustment.
type FactorSpec struct {
	Name        string
	Group       string
	BaseWeight  float64
	NeutralFrac float64
	Pinned      bool

	eval evalFunc
}

// Neutral returns the contribution this factor makes when its input is
// absent: NeutralFrac x BaseWeight.
func (f FactorSpec) Neutral() float64 { return f.NeutralFrac * f.BaseWeight }

// catalog is the full factor table. Base weights are the documented policy
// defaults; the adaptive multiplier learned per regime scales them at
// evaluation time.
var catalog = []FactorSpec{
	{Name: FactorFlowConviction, Group: "flow", BaseWeight: 1.80, NeutralFrac: 0.5, Pinned: true, eval: evalFlowConviction},
	{Name: FactorFlowSentiment, Group: "flow", BaseWeight: 0.90, NeutralFrac: defaultNeutralFrac, eval: evalFlowSentiment},
	{Name: FactorFlowMagnitude, Group: "flow", BaseWeight: 0.80, NeutralFrac: defaultNeutralFrac, eval: evalFlowMagnitude},
	{Name: FactorSweepIntensity, Group: "flow", BaseWeight: 0.70, NeutralFrac: defaultNeutralFrac, eval: evalSweepIntensity},
	{Name: FactorBlockActivity, Group: "flow", BaseWeight: 0.60, NeutralFrac: defaultNeutralFrac, eval: evalBlockActivity},
	{Name: FactorCallPutRatio, Group: "flow", BaseWeight: 0.50, NeutralFrac: defaultNeutralFrac, eval: evalCallPutRatio},
	{Name: FactorOTMAggression, Group: "flow", BaseWeight: 0.45, NeutralFrac: defaultNeutralFrac, eval: evalOTMAggression},
	{Name: FactorNearDatedBias, Group: "flow", BaseWeight: 0.45, NeutralFrac: defaultNeutralFrac, eval: evalNearDatedBias},
	{Name: FactorOIMomentum, Group: "flow", BaseWeight: 0.50, NeutralFrac: defaultNeutralFrac, eval: evalOIMomentum},
	{Name: FactorIVSkewShift, Group: "flow", BaseWeight: 0.50, NeutralFrac: defaultNeutralFrac, eval: evalIVSkewShift},
	{Name: FactorDarkPoolDirection, Group: "darkpool", BaseWeight: 0.80, NeutralFrac: defaultNeutralFrac, eval: evalDarkPoolDirection},
	{Name: FactorDarkPoolIntensity, Group: "darkpool", BaseWeight: 0.60, NeutralFrac: defaultNeutralFrac, eval: evalDarkPoolIntensity},
	{Name: FactorLitDarkAlignment, Group: "darkpool", BaseWeight: 0.40, NeutralFrac: defaultNeutralFrac, eval: evalLitDarkAlignment},
	{Name: FactorTapeMomentum, Group: "tape", BaseWeight: 0.50, NeutralFrac: defaultNeutralFrac, eval: evalTapeMomentum},
	{Name: FactorRelVolume, Group: "tape", BaseWeight: 0.40, NeutralFrac: defaultNeutralFrac, eval: evalRelVolume},
	{Name: FactorInsiderActivity, Group: "intel", BaseWeight: 0.40, NeutralFrac: defaultNeutralFrac, eval: evalInsiderActivity},
	{Name: FactorInstitutionalFlow, Group: "intel", BaseWeight: 0.40, NeutralFrac: defaultNeutralFrac, eval: evalInstitutionalFlow},
	{Name: FactorShortSqueeze, Group: "intel", BaseWeight: 0.40, NeutralFrac: defaultNeutralFrac, eval: evalShortSqueeze},
	{Name: FactorNewsCatalyst, Group: "intel", BaseWeight: 0.50, NeutralFrac: defaultNeutralFrac, eval: evalNewsCatalyst},
	{Name: FactorSocialMomentum, Group: "intel", BaseWeight: 0.30, NeutralFrac: defaultNeutralFrac, eval: evalSocialMomentum},
	{Name: FactorAnalystRevision, Group: "intel", BaseWeight: 0.30, NeutralFrac: defaultNeutralFrac, eval: evalAnalystRevision},
}

// Catalog returns the factor table. Callers must treat it as read-only.
func Catalog() []FactorSpec { return catalog }

// FactorNames returns every factor name in catalog order.
func FactorNames() []string {
	names := make([]string, len(catalog))
	for i, f := range catalog {
		names[i] = f.Name
	}
	return names
}

// BaseWeightOf returns the catalog base weight for a factor, or 0 if the
// factor is unknown.
func BaseWeightOf(name string) float64 {
	for _, f := range catalog {
		if f.Name == name {
			return f.BaseWeight
		}
	}
	return 0
}

// IsPinned reports whether the catalog pins the named factor.
func IsPinned(name string) bool {
	for _, f := range catalog {
		if f.Name == name {
			return f.Pinned
		}
	}
	return false
}

// --------------------------------------------------------------------------
// Factor evaluators
// --------------------------------------------------------------------------
//
// Each evaluator maps its raw input onto a bounded normalized value:
// [0,1] for one-sided strength factors, [-1,1] for factors that measure
// agreement with the flow thesis (agreement positive, opposition negative).
// Missing or malformed inputs report their status so the engine can
// substitute the factor's neutral value and note the substitution.

// evalFlowConviction: the anchor. Raw conviction is already a [0,1]
// confidence; out-of-range or missing values resolve to 0.5.
func evalFlowConviction(in input) (float64, evalStatus) {
	v := in.bundle.FlowConviction
	if v == nil {
		return 0.5, statusMissing
	}
	if !finite(*v) || *v < 0 || *v > 1 {
		return 0.5, statusMalformed
	}
	return *v, statusOK
}

// evalFlowSentiment measures directional clarity: a clearly bullish or
// bearish read scores full strength, an unreadable tape scores neutral.
func evalFlowSentiment(in input) (float64, evalStatus) {
	switch in.bundle.FlowSentiment {
	case domain.SentimentBullish, domain.SentimentBearish:
		return 1.0, statusOK
	case domain.SentimentNeutral:
		return defaultNeutralFrac, statusOK
	}
	return defaultNeutralFrac, statusMissing
}

// evalFlowMagnitude log-scales total premium notional; $100k maps to 0 and
// $10M to 1. Falls back to the coarse magnitude class when the notional is
// not reported.
func evalFlowMagnitude(in input) (float64, evalStatus) {
	if n := in.bundle.PremiumNotional; n != nil {
		if !finite(*n) || *n < 0 {
			return defaultNeutralFrac, statusMalformed
		}
		return logScale01(*n, 100_000, 2), statusOK
	}
	switch in.bundle.FlowMagnitude {
	case domain.MagnitudeSmall:
		return 0.25, statusOK
	case domain.MagnitudeModerate:
		return 0.50, statusOK
	case domain.MagnitudeLarge:
		return 0.75, statusOK
	case domain.MagnitudeExtreme:
		return 1.0, statusOK
	}
	return defaultNeutralFrac, statusMissing
}

// evalSweepIntensity: 15 sweeps in one window saturates the factor.
func evalSweepIntensity(in input) (float64, evalStatus) {
	v := in.bundle.SweepCount
	if v == nil {
		return defaultNeutralFrac, statusMissing
	}
	if *v < 0 {
		return defaultNeutralFrac, statusMalformed
	}
	return clamp01(float64(*v) / 15), statusOK
}

// evalBlockActivity: 5 block prints saturates the factor.
func evalBlockActivity(in input) (float64, evalStatus) {
	v := in.bundle.BlockCount
	if v == nil {
		return defaultNeutralFrac, statusMissing
	}
	if *v < 0 {
		return defaultNeutralFrac, statusMalformed
	}
	return clamp01(float64(*v) / 5), statusOK
}

// evalCallPutRatio maps the premium ratio onto (-1,1) via (r-1)/(r+1) and
// signs it by thesis agreement: call-heavy tape supports a bullish thesis
// and opposes a bearish one.
func evalCallPutRatio(in input) (float64, evalStatus) {
	v := in.bundle.CallPutRatio
	if v == nil {
		return defaultNeutralFrac, statusMissing
	}
	if !finite(*v) || *v < 0 {
		return defaultNeutralFrac, statusMalformed
	}
	if in.thesis == 0 {
		return defaultNeutralFrac, statusOK
	}
	tilt := (*v - 1) / (*v + 1)
	return clampRange(tilt*in.thesis, -1, 1), statusOK
}

// evalOTMAggression: share of premium in out-of-the-money strikes; 20% is
// baseline, 70% or more is maximum aggression.
func evalOTMAggression(in input) (float64, evalStatus) {
	v := in.bundle.OTMShare
	if v == nil {
		return defaultNeutralFrac, statusMissing
	}
	if !finite(*v) || *v < 0 || *v > 1 {
		return defaultNeutralFrac, statusMalformed
	}
	return clamp01((*v - 0.2) / 0.5), statusOK
}

// evalNearDatedBias: share of premium expiring within two weeks; urgency of
// the bet. 20% baseline, 80% saturates.
func evalNearDatedBias(in input) (float64, evalStatus) {
	v := in.bundle.NearDatedShare
	if v == nil {
		return defaultNeutralFrac, statusMissing
	}
	if !finite(*v) || *v < 0 || *v > 1 {
		return defaultNeutralFrac, statusMalformed
	}
	return clamp01((*v - 0.2) / 0.6), statusOK
}

// evalOIMomentum: open-interest build in the thesis direction. A 15%
// day-over-day change saturates.
func evalOIMomentum(in input) (float64, evalStatus) {
	v := in.bundle.OpenInterestChg
	if v == nil {
		return defaultNeutralFrac, statusMissing
	}
	if !finite(*v) {
		return defaultNeutralFrac, statusMalformed
	}
	if in.thesis == 0 {
		return defaultNeutralFrac, statusOK
	}
	return clampRange(*v/0.15*in.thesis, -1, 1), statusOK
}

// evalIVSkewShift: change in put-minus-call skew. Falling put skew supports
// a bullish thesis; rising put skew supports a bearish one. Two vol points
// saturates.
func evalIVSkewShift(in input) (float64, evalStatus) {
	v := in.bundle.IVSkewShift
	if v == nil {
		return defaultNeutralFrac, statusMissing
	}
	if !finite(*v) {
		return defaultNeutralFrac, statusMalformed
	}
	if in.thesis == 0 {
		return defaultNeutralFrac, statusOK
	}
	return clampRange(-*v/2.0*in.thesis, -1, 1), statusOK
}

// evalDarkPoolDirection: full agreement or full opposition between the
// dark-pool read and the flow thesis.
func evalDarkPoolDirection(in input) (float64, evalStatus) {
	dir := in.bundle.DarkPoolSentiment.Direction()
	if in.bundle.DarkPoolSentiment == "" {
		return defaultNeutralFrac, statusMissing
	}
	if dir == 0 || in.thesis == 0 {
		return defaultNeutralFrac, statusOK
	}
	return dir * in.thesis, statusOK
}

// evalDarkPoolIntensity log-scales dark-print notional; $1M maps to 0 and
// ~$30M to 1.
func evalDarkPoolIntensity(in input) (float64, evalStatus) {
	v := in.bundle.DarkPoolNotional
	if v == nil {
		return defaultNeutralFrac, statusMissing
	}
	if !finite(*v) || *v < 0 {
		return defaultNeutralFrac, statusMalformed
	}
	return logScale01(*v, 1_000_000, 1.5), statusOK
}

// evalLitDarkAlignment rewards dark prints confirming the lit tape and
// penalizes full divergence: |divergence| 0 maps to +1, 2 maps to -1.
func evalLitDarkAlignment(in input) (float64, evalStatus) {
	v := in.bundle.LitDarkDivergence
	if v == nil {
		return defaultNeutralFrac, statusMissing
	}
	if !finite(*v) || *v < -2 || *v > 2 {
		return defaultNeutralFrac, statusMalformed
	}
	return clampRange(1-absFloat(*v), -1, 1), statusOK
}

// evalTapeMomentum: short-horizon return in the thesis direction; a 2% move
// saturates.
func evalTapeMomentum(in input) (float64, evalStatus) {
	v := in.bundle.Momentum
	if v == nil {
		return defaultNeutralFrac, statusMissing
	}
	if !finite(*v) {
		return defaultNeutralFrac, statusMalformed
	}
	if in.thesis == 0 {
		return defaultNeutralFrac, statusOK
	}
	return clampRange(*v/0.02*in.thesis, -1, 1), statusOK
}

// evalRelVolume: volume vs. trailing average. 1x baseline, 3x saturates.
func evalRelVolume(in input) (float64, evalStatus) {
	v := in.bundle.RelVolume
	if v == nil {
		return defaultNeutralFrac, statusMissing
	}
	if !finite(*v) || *v < 0 {
		return defaultNeutralFrac, statusMalformed
	}
	return clamp01((*v - 1) / 2), statusOK
}

// evalInsiderActivity: signed insider net buying, thesis-aligned.
func evalInsiderActivity(in input) (float64, evalStatus) {
	v := intelField(in.intel, func(x *domain.ExpandedIntel) *float64 { return x.InsiderNetBuying })
	if v == nil {
		return defaultNeutralFrac, statusMissing
	}
	if !finite(*v) || *v < -1 || *v > 1 {
		return defaultNeutralFrac, statusMalformed
	}
	if in.thesis == 0 {
		return defaultNeutralFrac, statusOK
	}
	return clampRange(*v*in.thesis, -1, 1), statusOK
}

// evalInstitutionalFlow: signed institutional accumulation, thesis-aligned.
func evalInstitutionalFlow(in input) (float64, evalStatus) {
	v := intelField(in.intel, func(x *domain.ExpandedIntel) *float64 { return x.InstitutionalFlow })
	if v == nil {
		return defaultNeutralFrac, statusMissing
	}
	if !finite(*v) || *v < -1 || *v > 1 {
		return defaultNeutralFrac, statusMalformed
	}
	if in.thesis == 0 {
		return defaultNeutralFrac, statusOK
	}
	return clampRange(*v*in.thesis, -1, 1), statusOK
}

// evalShortSqueeze: squeeze setup quality helps a long thesis and works
// against a short one.
func evalShortSqueeze(in input) (float64, evalStatus) {
	v := intelField(in.intel, func(x *domain.ExpandedIntel) *float64 { return x.ShortSqueezeSetup })
	if v == nil {
		return defaultNeutralFrac, statusMissing
	}
	if !finite(*v) || *v < 0 || *v > 1 {
		return defaultNeutralFrac, statusMalformed
	}
	if in.thesis == 0 {
		return defaultNeutralFrac, statusOK
	}
	return clampRange(*v*in.thesis, -1, 1), statusOK
}

// evalNewsCatalyst: direction-agnostic catalyst strength.
func evalNewsCatalyst(in input) (float64, evalStatus) {
	v := intelField(in.intel, func(x *domain.ExpandedIntel) *float64 { return x.NewsCatalyst })
	if v == nil {
		return defaultNeutralFrac, statusMissing
	}
	if !finite(*v) || *v < 0 || *v > 1 {
		return defaultNeutralFrac, statusMalformed
	}
	return *v, statusOK
}

// evalSocialMomentum: direction-agnostic chatter acceleration.
func evalSocialMomentum(in input) (float64, evalStatus) {
	v := intelField(in.intel, func(x *domain.ExpandedIntel) *float64 { return x.SocialMomentum })
	if v == nil {
		return defaultNeutralFrac, statusMissing
	}
	if !finite(*v) || *v < 0 || *v > 1 {
		return defaultNeutralFrac, statusMalformed
	}
	return *v, statusOK
}

// evalAnalystRevision: signed net estimate revisions, thesis-aligned.
func evalAnalystRevision(in input) (float64, evalStatus) {
	v := intelField(in.intel, func(x *domain.ExpandedIntel) *float64 { return x.AnalystRevision })
	if v == nil {
		return defaultNeutralFrac, statusMissing
	}
	if !finite(*v) || *v < -1 || *v > 1 {
		return defaultNeutralFrac, statusMalformed
	}
	if in.thesis == 0 {
		return defaultNeutralFrac, statusOK
	}
	return clampRange(*v*in.thesis, -1, 1), statusOK
}

// intelField extracts an optional field from the expanded intel, which may
// itself be absent.
func intelField(intel *domain.ExpandedIntel, get func(*domain.ExpandedIntel) *float64) *float64 {
	if intel == nil {
		return nil
	}
	return get(intel)
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
