package scan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/scoring"
)

func accumBundle(now time.Time) domain.FeatureBundle {
	b := surgeBundle(now)
	b.DarkPoolNotional = fp(9_000_000)
	b.DarkPoolPrints = ip(14)
	return b
}

func newAccumScanner(threshold float64) *DarkPoolAccum {
	cfg := DefaultConfig()
	cfg.EntryThreshold = threshold
	return NewDarkPoolAccum(cfg, scoring.NewEngine(scoring.DefaultConfig(), nil), testLogger())
}

func TestDarkPoolAccumRequiresSustainedStreak(t *testing.T) {
	now := time.Now().UTC()
	da := newAccumScanner(0.1)
	ctx := context.Background()

	// First qualifying refresh: streak of one, no candidate yet.
	got, err := da.OnIntelUpdate(ctx, IntelUpdate{Bundle: accumBundle(now), Regime: domain.RegimeRiskOn, At: now})
	require.NoError(t, err)
	assert.Empty(t, got)

	// Second consecutive qualifying refresh fires.
	got, err = da.OnIntelUpdate(ctx, IntelUpdate{Bundle: accumBundle(now), Regime: domain.RegimeRiskOn, At: now})
	require.NoError(t, err)
	require.Len(t, got, 1)

	cand := got[0]
	assert.Equal(t, "darkpool_accumulation", cand.Source)
	assert.Equal(t, domain.SideLong, cand.Side)
	assert.InDelta(t, 172.4, cand.RefPrice, 1e-9)
	assert.Contains(t, cand.Reason, "darkpool_accum:streak=2")
}

func TestDarkPoolAccumStreakResets(t *testing.T) {
	now := time.Now().UTC()
	ctx := context.Background()

	t.Run("direction flip", func(t *testing.T) {
		da := newAccumScanner(0.1)

		bullish := accumBundle(now)
		_, err := da.OnIntelUpdate(ctx, IntelUpdate{Bundle: bullish, Regime: domain.RegimeNeutral, At: now})
		require.NoError(t, err)

		bearish := accumBundle(now)
		bearish.DarkPoolSentiment = domain.SentimentBearish
		got, err := da.OnIntelUpdate(ctx, IntelUpdate{Bundle: bearish, Regime: domain.RegimeNeutral, At: now})
		require.NoError(t, err)
		assert.Empty(t, got, "flip restarts the streak at one")

		// The bearish direction now needs its own second refresh.
		got, err = da.OnIntelUpdate(ctx, IntelUpdate{Bundle: bearish, Regime: domain.RegimeNeutral, At: now})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, domain.SideShort, got[0].Side)
	})

	t.Run("disqualifying refresh", func(t *testing.T) {
		da := newAccumScanner(0.1)

		_, err := da.OnIntelUpdate(ctx, IntelUpdate{Bundle: accumBundle(now), Regime: domain.RegimeNeutral, At: now})
		require.NoError(t, err)

		quiet := accumBundle(now)
		quiet.DarkPoolNotional = fp(100_000)
		got, err := da.OnIntelUpdate(ctx, IntelUpdate{Bundle: quiet, Regime: domain.RegimeNeutral, At: now})
		require.NoError(t, err)
		assert.Empty(t, got)

		// Streak restarts from zero: two more qualifying refreshes needed.
		got, err = da.OnIntelUpdate(ctx, IntelUpdate{Bundle: accumBundle(now), Regime: domain.RegimeNeutral, At: now})
		require.NoError(t, err)
		assert.Empty(t, got)
		got, err = da.OnIntelUpdate(ctx, IntelUpdate{Bundle: accumBundle(now), Regime: domain.RegimeNeutral, At: now})
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})
}

func TestDarkPoolAccumBelowThresholdStaysQuiet(t *testing.T) {
	now := time.Now().UTC()
	bundle := accumBundle(now)
	score := scoreOf(bundle, domain.RegimeRiskOn, now)

	da := newAccumScanner(score + 0.5)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := da.OnIntelUpdate(ctx, IntelUpdate{Bundle: bundle, Regime: domain.RegimeRiskOn, At: now})
		require.NoError(t, err)
		assert.Empty(t, got)
	}
}

func TestDarkPoolAccumIgnoresMarkUpdates(t *testing.T) {
	da := newAccumScanner(0.1)
	got, err := da.OnMarkUpdate(context.Background(), MarkUpdate{Symbol: "NVDA", Mark: 170, At: time.Now()})
	require.NoError(t, err)
	assert.Nil(t, got)
}
