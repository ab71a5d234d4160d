package learner

import (
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/scoring"
	"github.com/alanyoungcy/flowbot/internal/weights"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func outcomeFor(factor string, win bool, pnl float64, closedAt time.Time) domain.TradeOutcome {
	if !win && pnl > 0 {
		pnl = -pnl
	}
	return domain.TradeOutcome{
		ID:         "out-" + factor,
		PositionID: "pos-1",
		Symbol:     "NVDA",
		Side:       domain.SideLong,
		Regime:     domain.RegimeRiskOn,
		EntryComponents: map[string]float64{
			factor: 0.9,
		},
		RealizedPnLPct: pnl,
		ClosedAt:       closedAt,
	}
}

func TestRecordOutcomeAccumulatesStats(t *testing.T) {
	table := weights.NewTable(nil)
	l := New(DefaultConfig(), table, testLogger())
	now := time.Now().UTC()

	l.RecordOutcome(outcomeFor(scoring.FactorFlowSentiment, true, 2.0, now))
	l.RecordOutcome(outcomeFor(scoring.FactorFlowSentiment, false, 1.0, now))

	band, ok := table.Get(domain.WeightKey{Factor: scoring.FactorFlowSentiment, Regime: domain.RegimeRiskOn})
	require.True(t, ok)
	assert.Equal(t, 1, band.Wins)
	assert.Equal(t, 1, band.Losses)
	assert.Equal(t, 2, band.SampleCount)
	assert.InDelta(t, 1.0, band.Multiplier, 1e-9, "RecordOutcome never touches the multiplier")

	// EWMA from the 0.5 prior: 0.15*1+0.85*0.5 = 0.575, then 0.85*0.575.
	assert.InDelta(t, 0.48875, band.EWMAWinRate, 1e-9)
	assert.Equal(t, 2, l.OutcomeCount())
}

func TestRecordOutcomeIgnoresNonFactorComponents(t *testing.T) {
	table := weights.NewTable(nil)
	l := New(DefaultConfig(), table, testLogger())

	l.RecordOutcome(domain.TradeOutcome{
		Regime: domain.RegimeRiskOn,
		EntryComponents: map[string]float64{
			"toxicity_penalty":      -0.3,
			"persistence_bonus":     0.5,
			"no_such_factor":        1.0,
			scoring.FactorRelVolume: 0.2,
		},
		RealizedPnLPct: 1.2,
		ClosedAt:       time.Now().UTC(),
	})

	assert.Equal(t, 1, table.Len(), "only catalog factors grow bands")
	_, ok := table.Get(domain.WeightKey{Factor: scoring.FactorRelVolume, Regime: domain.RegimeRiskOn})
	assert.True(t, ok)
}

func TestUpdateWeightsScenarioFortyOutcomes(t *testing.T) {
	table := weights.NewTable(nil)
	l := New(DefaultConfig(), table, testLogger())
	now := time.Now().UTC()

	// 10 losses then 30 wins: Wilson lower bound ~0.60, EWMA P&L positive.
	for i := 0; i < 10; i++ {
		l.RecordOutcome(outcomeFor(scoring.FactorSweepIntensity, false, 1.0, now))
	}
	for i := 0; i < 30; i++ {
		l.RecordOutcome(outcomeFor(scoring.FactorSweepIntensity, true, 2.0, now))
	}

	res := l.UpdateWeights()
	require.Equal(t, 1, res.AdjustedCount)
	require.Len(t, res.Adjustments, 1)

	adj := res.Adjustments[0]
	assert.Equal(t, ActionIncrease, adj.Action)
	assert.InDelta(t, 1.0, adj.Before, 1e-9)
	assert.InDelta(t, 1.05, adj.After, 1e-9, "exactly one fixed step")
	assert.Equal(t, 40, adj.SampleCount)
	assert.Greater(t, adj.WilsonLower, 0.55)

	band, _ := table.Get(domain.WeightKey{Factor: scoring.FactorSweepIntensity, Regime: domain.RegimeRiskOn})
	assert.InDelta(t, 1.05, band.Multiplier, 1e-9)
}

func TestUpdateWeightsSampleFloor(t *testing.T) {
	table := weights.NewTable(nil)
	l := New(DefaultConfig(), table, testLogger())
	now := time.Now().UTC()

	// 29 straight wins: overwhelming rate, still one short of eligibility.
	for i := 0; i < 29; i++ {
		l.RecordOutcome(outcomeFor(scoring.FactorBlockActivity, true, 2.0, now))
	}

	res := l.UpdateWeights()
	assert.Equal(t, 0, res.AdjustedCount)
	assert.Equal(t, 1, res.SkippedInsufficient)

	// The 30th sample makes it eligible.
	l.RecordOutcome(outcomeFor(scoring.FactorBlockActivity, true, 2.0, now))
	res = l.UpdateWeights()
	assert.Equal(t, 1, res.AdjustedCount)
}

func TestUpdateWeightsIdempotentWithoutNewData(t *testing.T) {
	table := weights.NewTable(nil)
	l := New(DefaultConfig(), table, testLogger())
	now := time.Now().UTC()

	for i := 0; i < 40; i++ {
		l.RecordOutcome(outcomeFor(scoring.FactorOIMomentum, true, 1.5, now))
	}

	first := l.UpdateWeights()
	require.Equal(t, 1, first.AdjustedCount)

	second := l.UpdateWeights()
	assert.Equal(t, 0, second.AdjustedCount, "no new outcomes, no further adjustment")
	assert.Equal(t, 1, second.SkippedNoNewData)

	band, _ := table.Get(domain.WeightKey{Factor: scoring.FactorOIMomentum, Regime: domain.RegimeRiskOn})
	assert.InDelta(t, 1.05, band.Multiplier, 1e-9)
}

func TestUpdateWeightsDecreaseAndBounds(t *testing.T) {
	table := weights.NewTable(nil)
	l := New(DefaultConfig(), table, testLogger())

	loser := domain.WeightKey{Factor: scoring.FactorRelVolume, Regime: domain.RegimeRiskOff}
	table.Put(loser, domain.WeightBand{
		BaseWeight: 0.4, Multiplier: 0.27,
		Wins: 8, Losses: 32, EWMAWinRate: 0.2, EWMAPnL: -1.1, SampleCount: 40,
	})
	capped := domain.WeightKey{Factor: scoring.FactorCallPutRatio, Regime: domain.RegimeRiskOn}
	table.Put(capped, domain.WeightBand{
		BaseWeight: 0.5, Multiplier: 2.48,
		Wins: 34, Losses: 6, EWMAWinRate: 0.8, EWMAPnL: 2.2, SampleCount: 40,
	})

	res := l.UpdateWeights()
	require.Equal(t, 2, res.AdjustedCount)

	band, _ := table.Get(loser)
	assert.InDelta(t, domain.MultiplierMin, band.Multiplier, 1e-9, "decrement floors at 0.25")
	band, _ = table.Get(capped)
	assert.InDelta(t, domain.MultiplierMax, band.Multiplier, 1e-9, "increment caps at 2.5")
}

func TestUpdateWeightsNeutralBandDecay(t *testing.T) {
	table := weights.NewTable(nil)
	l := New(DefaultConfig(), table, testLogger())

	key := domain.WeightKey{Factor: scoring.FactorTapeMomentum, Regime: domain.RegimeNeutral}
	table.Put(key, domain.WeightBand{
		BaseWeight: 0.5, Multiplier: 1.8,
		Wins: 20, Losses: 20, EWMAWinRate: 0.50, EWMAPnL: 0.1, SampleCount: 40,
	})

	res := l.UpdateWeights()
	require.Equal(t, 1, res.AdjustedCount)
	assert.Equal(t, ActionDecay, res.Adjustments[0].Action)

	band, _ := table.Get(key)
	assert.InDelta(t, 1.72, band.Multiplier, 1e-9, "10% of the way back toward 1.0")
}

func TestAnchorEffectiveWeightInvariant(t *testing.T) {
	table := weights.NewTable(nil)
	l := New(DefaultConfig(), table, testLogger())
	now := time.Now().UTC()

	key := domain.WeightKey{Factor: scoring.FactorFlowConviction, Regime: domain.RegimeRiskOn}
	base := scoring.BaseWeightOf(scoring.FactorFlowConviction)

	for round := 0; round < 3; round++ {
		for i := 0; i < 40; i++ {
			l.RecordOutcome(outcomeFor(scoring.FactorFlowConviction, true, 3.0, now))
		}
		l.UpdateWeights()

		band, ok := table.Get(key)
		require.True(t, ok)
		assert.True(t, band.Pinned)
		assert.InDelta(t, 1.0, band.Multiplier, 1e-9)
		assert.InDelta(t, base, band.Effective(), 1e-9,
			fmt.Sprintf("anchor effective weight moved after round %d", round))
	}
}

func TestUpdateWeightsResetsDriftedPinnedBand(t *testing.T) {
	table := weights.NewTable(nil)
	l := New(DefaultConfig(), table, testLogger())

	// A band that drifted in persisted state, e.g. hand-edited.
	key := domain.WeightKey{Factor: scoring.FactorFlowConviction, Regime: domain.RegimePanic}
	table.Put(key, domain.WeightBand{BaseWeight: 1.8, Multiplier: 0.45, Pinned: true, SampleCount: 80})

	res := l.UpdateWeights()
	assert.Equal(t, 0, res.AdjustedCount, "pin resets are hygiene, not adjustments")

	band, _ := table.Get(key)
	assert.InDelta(t, 1.0, band.Multiplier, 1e-9)
	assert.InDelta(t, 1.8, band.Effective(), 1e-9)
}
