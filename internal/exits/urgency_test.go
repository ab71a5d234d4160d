package exits

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

func fp(v float64) *float64 { return &v }

// stubScorer returns a fixed current score, so each deterioration factor can
// be exercised in isolation.
type stubScorer struct {
	score float64
}

func (s stubScorer) Score(symbol string, _ domain.FeatureBundle, regime domain.Regime, _ *domain.ExpandedIntel, now time.Time) domain.CompositeResult {
	return domain.CompositeResult{Symbol: symbol, Score: s.score, Regime: regime, EvaluatedAt: now}
}

func longPosition(now time.Time, age time.Duration) domain.Position {
	return domain.Position{
		ID:         "pos-1",
		Symbol:     "NVDA",
		Side:       domain.SideLong,
		Size:       100,
		EntryPrice: 100,
		MarkPrice:  100,
		HighWater:  100,
		EntryScore: 4.0,
		Status:     domain.PositionStatusOpen,
		OpenedAt:   now.Add(-age),
	}
}

func TestEvaluateHealthyPosition(t *testing.T) {
	now := time.Now().UTC()
	eng := NewEngine(DefaultConfig(), stubScorer{score: 4.0})

	pos := longPosition(now, 2*time.Hour)
	bundle := domain.FeatureBundle{
		Symbol:        "NVDA",
		AsOf:          now,
		FlowSentiment: domain.SentimentBullish,
		Mark:          fp(103),
		Momentum:      fp(0.005),
	}

	res, err := eng.Evaluate(pos, bundle, nil, domain.RegimeRiskOn, now)
	require.NoError(t, err)

	assert.InDelta(t, 0.0, res.Urgency, 1e-9)
	assert.Equal(t, domain.RecommendHold, res.Recommendation)
	assert.Empty(t, res.PrimaryFactor)
	assert.Equal(t, "healthy", res.PrimaryReason)
	assert.InDelta(t, 4.0, res.CurrentScore, 1e-9)
}

func TestEvaluateExitScenario(t *testing.T) {
	now := time.Now().UTC()
	// Current score 0.56 against entry 4.0: ratio 0.14, signal decay 2.0.
	eng := NewEngine(DefaultConfig(), stubScorer{score: 0.56})

	pos := longPosition(now, 5*time.Hour)
	bundle := domain.FeatureBundle{
		Symbol:         "NVDA",
		AsOf:           now,
		FlowSentiment:  domain.SentimentBearish, // against the long entry
		FlowConviction: fp(0.8),                 // reversal 3.0 x 0.8 = 2.4
		Mark:           fp(94),                  // pnl -6%: loss limit +2.0
		// drawdown 6% over 5h: velocity 1.2 %/h, contribution 0.8
	}

	res, err := eng.Evaluate(pos, bundle, nil, domain.RegimeRiskOff, now)
	require.NoError(t, err)

	assert.InDelta(t, 7.2, res.Urgency, 1e-9)
	assert.Equal(t, domain.RecommendExit, res.Recommendation)
	assert.Equal(t, FactorFlowReversal, res.PrimaryFactor)
	assert.Equal(t, "flow_reversal(0.80)", res.PrimaryReason, "largest contributor with its detail")

	assert.InDelta(t, 2.0, res.Components[FactorSignalDecay], 1e-9)
	assert.InDelta(t, 2.4, res.Components[FactorFlowReversal], 1e-9)
	assert.InDelta(t, 0.8, res.Components[FactorDrawdownVelocity], 1e-9)
	assert.InDelta(t, 2.0, res.Components[FactorLossLimit], 1e-9)
	assert.InDelta(t, 0.0, res.Components[FactorTimeDecay], 1e-9, "5h is inside the grace period")
}

func TestEvaluateReduceBand(t *testing.T) {
	now := time.Now().UTC()
	// Ratio 0.20 gives signal decay 2.5 x (0.70-0.20)/0.70 ~ 1.79.
	eng := NewEngine(DefaultConfig(), stubScorer{score: 0.8})

	pos := longPosition(now, time.Hour)
	bundle := domain.FeatureBundle{
		Symbol:         "NVDA",
		AsOf:           now,
		FlowSentiment:  domain.SentimentBearish,
		FlowConviction: fp(0.5), // reversal 1.5
		Mark:           fp(98),  // drawdown 2%/h: contribution ~1.33
	}

	res, err := eng.Evaluate(pos, bundle, nil, domain.RegimeNeutral, now)
	require.NoError(t, err)

	assert.Greater(t, res.Urgency, 3.0)
	assert.Less(t, res.Urgency, 6.0)
	assert.Equal(t, domain.RecommendReduce, res.Recommendation)
}

// With the thesis intact and the mark drifting down slowly, the loss limit is
// the only meaningful contributor: PrimaryFactor must carry the bare name
// while PrimaryReason carries the display form.
func TestEvaluateLossLimitPrimaryFactor(t *testing.T) {
	now := time.Now().UTC()
	eng := NewEngine(DefaultConfig(), stubScorer{score: 4.0})

	// 6% drawdown over 48h keeps velocity near zero; pnl -6% trips the limit.
	pos := longPosition(now, 48*time.Hour)
	bundle := domain.FeatureBundle{Symbol: "NVDA", AsOf: now, Mark: fp(94)}

	res, err := eng.Evaluate(pos, bundle, nil, domain.RegimeNeutral, now)
	require.NoError(t, err)

	assert.InDelta(t, 2.0, res.Components[FactorLossLimit], 1e-9)
	assert.Equal(t, FactorLossLimit, res.PrimaryFactor)
	assert.Equal(t, "loss_limit(-6.00)", res.PrimaryReason)
}

func TestEvaluateUrgencyClampedAtTen(t *testing.T) {
	now := time.Now().UTC()
	eng := NewEngine(DefaultConfig(), stubScorer{score: 0})

	pos := longPosition(now, 250*time.Hour)
	bundle := domain.FeatureBundle{
		Symbol:         "NVDA",
		AsOf:           now,
		FlowSentiment:  domain.SentimentBearish,
		FlowConviction: fp(1.0),
		Mark:           fp(80),
		Momentum:       fp(-0.05),
	}

	res, err := eng.Evaluate(pos, bundle, nil, domain.RegimePanic, now)
	require.NoError(t, err)
	assert.Equal(t, domain.UrgencyMax, res.Urgency)
	assert.Equal(t, domain.RecommendExit, res.Recommendation)
}

func TestEvaluateTimeDecayAccruesPastGrace(t *testing.T) {
	now := time.Now().UTC()
	cfg := DefaultConfig()
	eng := NewEngine(cfg, stubScorer{score: 4.0})

	bundle := domain.FeatureBundle{Symbol: "NVDA", AsOf: now, Mark: fp(101)}

	inside, err := eng.Evaluate(longPosition(now, 48*time.Hour), bundle, nil, domain.RegimeNeutral, now)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, inside.Components[FactorTimeDecay], 1e-9)

	// 120h held: 48h past grace, 48/96 of the way to saturation.
	past, err := eng.Evaluate(longPosition(now, 120*time.Hour), bundle, nil, domain.RegimeNeutral, now)
	require.NoError(t, err)
	assert.InDelta(t, cfg.TimeDecayWeight*0.5, past.Components[FactorTimeDecay], 1e-9)
}

func TestEvaluateMomentumReversalSided(t *testing.T) {
	now := time.Now().UTC()
	eng := NewEngine(DefaultConfig(), stubScorer{score: 4.0})

	short := longPosition(now, time.Hour)
	short.Side = domain.SideShort

	// Rising tape moves against a short.
	bundle := domain.FeatureBundle{Symbol: "NVDA", AsOf: now, Mark: fp(100), Momentum: fp(0.01)}
	res, err := eng.Evaluate(short, bundle, nil, domain.RegimeNeutral, now)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, res.Components[FactorMomentumReversal], 1e-9)

	// The same tape supports a long.
	res, err = eng.Evaluate(longPosition(now, time.Hour), bundle, nil, domain.RegimeNeutral, now)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, res.Components[FactorMomentumReversal], 1e-9)
}

func TestEvaluatePolicyViolations(t *testing.T) {
	now := time.Now().UTC()
	eng := NewEngine(DefaultConfig(), stubScorer{score: 4.0})
	bundle := domain.FeatureBundle{Symbol: "NVDA", AsOf: now, Mark: fp(100)}

	cases := []struct {
		name   string
		mutate func(*domain.Position)
	}{
		{"zero entry price", func(p *domain.Position) { p.EntryPrice = 0 }},
		{"negative size", func(p *domain.Position) { p.Size = -5 }},
		{"zero entry score", func(p *domain.Position) { p.EntryScore = 0 }},
		{"unknown side", func(p *domain.Position) { p.Side = "sideways" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pos := longPosition(now, time.Hour)
			tc.mutate(&pos)
			_, err := eng.Evaluate(pos, bundle, nil, domain.RegimeNeutral, now)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrPolicyViolation)
		})
	}

	// No usable mark anywhere fails loudly too.
	pos := longPosition(now, time.Hour)
	pos.MarkPrice = 0
	_, err := eng.Evaluate(pos, domain.FeatureBundle{Symbol: "NVDA", AsOf: now}, nil, domain.RegimeNeutral, now)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPolicyViolation)
}
