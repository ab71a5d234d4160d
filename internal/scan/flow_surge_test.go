package scan

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/scoring"
)

func fp(v float64) *float64 { return &v }
func ip(v int) *int         { return &v }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func surgeBundle(now time.Time) domain.FeatureBundle {
	return domain.FeatureBundle{
		Symbol:            "NVDA",
		AsOf:              now,
		FlowSentiment:     domain.SentimentBullish,
		FlowConviction:    fp(0.85),
		FlowMagnitude:     domain.MagnitudeLarge,
		PremiumNotional:   fp(4_500_000),
		SweepCount:        ip(12),
		BlockCount:        ip(4),
		CallPutRatio:      fp(2.4),
		DarkPoolSentiment: domain.SentimentBullish,
		DarkPoolNotional:  fp(9_000_000),
		DarkPoolPrints:    ip(14),
		Mark:              fp(172.4),
		Momentum:          fp(0.011),
		RelVolume:         fp(2.1),
		Toxicity:          fp(0.2),
	}
}

// scoreOf evaluates the bundle the same way the scanner will, so trigger
// thresholds in tests can be set relative to the actual composite score.
func scoreOf(bundle domain.FeatureBundle, regime domain.Regime, now time.Time) float64 {
	eng := scoring.NewEngine(scoring.DefaultConfig(), nil)
	return eng.Score(bundle.Symbol, bundle, regime, nil, now).Score
}

func TestFlowSurgeEmitsScoredCandidate(t *testing.T) {
	now := time.Now().UTC()
	bundle := surgeBundle(now)
	score := scoreOf(bundle, domain.RegimeRiskOn, now)

	cfg := DefaultConfig()
	cfg.EntryThreshold = score - 0.5

	fs := NewFlowSurge(cfg, scoring.NewEngine(scoring.DefaultConfig(), nil), testLogger())
	got, err := fs.OnIntelUpdate(context.Background(), IntelUpdate{
		Bundle: bundle, Regime: domain.RegimeRiskOn, At: now,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)

	cand := got[0]
	assert.Equal(t, "flow_surge", cand.Source)
	assert.Equal(t, "NVDA", cand.Symbol)
	assert.Equal(t, domain.SideLong, cand.Side)
	assert.InDelta(t, score, cand.Score, 1e-9)
	assert.InDelta(t, 172.4, cand.RefPrice, 1e-9)
	assert.NotEmpty(t, cand.ID)
	assert.NotEmpty(t, cand.Components)
	assert.Equal(t, now.Add(cfg.CandidateTTL), cand.ExpiresAt)
	assert.Contains(t, cand.Reason, "flow_surge:conviction=0.85")
}

func TestFlowSurgeBearishGoesShort(t *testing.T) {
	now := time.Now().UTC()
	bundle := surgeBundle(now)
	bundle.FlowSentiment = domain.SentimentBearish
	bundle.DarkPoolSentiment = domain.SentimentBearish

	cfg := DefaultConfig()
	cfg.EntryThreshold = 0.1 // anything directional clears

	fs := NewFlowSurge(cfg, scoring.NewEngine(scoring.DefaultConfig(), nil), testLogger())
	got, err := fs.OnIntelUpdate(context.Background(), IntelUpdate{
		Bundle: bundle, Regime: domain.RegimeRiskOff, At: now,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.SideShort, got[0].Side)
}

func TestFlowSurgeTriggerGates(t *testing.T) {
	now := time.Now().UTC()
	cfg := DefaultConfig()
	cfg.EntryThreshold = 0.1
	fs := NewFlowSurge(cfg, scoring.NewEngine(scoring.DefaultConfig(), nil), testLogger())

	cases := []struct {
		name   string
		mutate func(*domain.FeatureBundle)
	}{
		{"neutral read", func(b *domain.FeatureBundle) { b.FlowSentiment = domain.SentimentNeutral }},
		{"conviction below trigger", func(b *domain.FeatureBundle) { b.FlowConviction = fp(0.5) }},
		{"missing conviction", func(b *domain.FeatureBundle) { b.FlowConviction = nil }},
		{"premium below trigger", func(b *domain.FeatureBundle) { b.PremiumNotional = fp(400_000) }},
		{"missing premium", func(b *domain.FeatureBundle) { b.PremiumNotional = nil }},
		{"no mark price", func(b *domain.FeatureBundle) { b.Mark = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bundle := surgeBundle(now)
			tc.mutate(&bundle)
			got, err := fs.OnIntelUpdate(context.Background(), IntelUpdate{
				Bundle: bundle, Regime: domain.RegimeRiskOn, At: now,
			})
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestFlowSurgeRespectsEntryThreshold(t *testing.T) {
	now := time.Now().UTC()
	bundle := surgeBundle(now)
	score := scoreOf(bundle, domain.RegimeRiskOn, now)

	cfg := DefaultConfig()
	cfg.EntryThreshold = score + 0.5 // just out of reach

	fs := NewFlowSurge(cfg, scoring.NewEngine(scoring.DefaultConfig(), nil), testLogger())
	got, err := fs.OnIntelUpdate(context.Background(), IntelUpdate{
		Bundle: bundle, Regime: domain.RegimeRiskOn, At: now,
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}
