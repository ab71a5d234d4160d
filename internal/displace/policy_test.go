package displace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/scoring"
)

func openPosition(openedAgo time.Duration, now time.Time) domain.Position {
	return domain.Position{
		ID:         "pos-1",
		Symbol:     "AMD",
		Side:       domain.SideLong,
		Size:       100,
		EntryPrice: 150,
		MarkPrice:  151,
		HighWater:  153,
		EntryScore: 4.0,
		Status:     domain.PositionStatusOpen,
		OpenedAt:   now.Add(-openedAgo),
	}
}

func rescored(score float64) domain.CompositeResult {
	return domain.CompositeResult{
		Symbol: "AMD",
		Score:  score,
		Components: map[string]float64{
			scoring.FactorFlowConviction:    0.9,
			scoring.FactorFlowSentiment:     0.2,
			scoring.FactorDarkPoolDirection: 0.1,
		},
	}
}

func strongCandidate(score float64) domain.EntryCandidate {
	return domain.EntryCandidate{
		ID:     "cand-1",
		Symbol: "NVDA",
		Side:   domain.SideLong,
		Score:  score,
		Regime: domain.RegimeRiskOn,
		Components: map[string]float64{
			scoring.FactorFlowConviction:    1.6,
			scoring.FactorFlowSentiment:     0.8,
			scoring.FactorDarkPoolDirection: 0.7,
		},
	}
}

func TestShouldDisplaceMinHoldFloor(t *testing.T) {
	now := time.Now().UTC()
	policy := NewPolicy(DefaultConfig())

	// Ten minutes old, thesis weakened but no emergency: the hold floor wins
	// regardless of how strong the candidate is.
	pos := openPosition(10*time.Minute, now)
	ev := policy.ShouldDisplace(pos, rescored(3.4), strongCandidate(5.0), -0.2, now)

	assert.False(t, ev.Allowed)
	assert.Equal(t, ReasonMinHoldNotMet, ev.Reason)
	assert.InDelta(t, 1.6, ev.ScoreDelta, 1e-9)
	assert.Equal(t, 10*time.Minute, ev.HoldAge)
	assert.False(t, ev.Emergency)
}

func TestShouldDisplaceEmergencyWaivesHold(t *testing.T) {
	now := time.Now().UTC()
	policy := NewPolicy(DefaultConfig())
	pos := openPosition(10*time.Minute, now)

	// Thesis collapse: current score under 3 waives the hold floor.
	ev := policy.ShouldDisplace(pos, rescored(2.0), strongCandidate(5.0), -0.2, now)
	require.True(t, ev.Emergency)
	assert.True(t, ev.Allowed)
	assert.Equal(t, ReasonAllowed, ev.Reason)

	// Bleeding position: P&L under -0.5% waives it too.
	ev = policy.ShouldDisplace(pos, rescored(3.8), strongCandidate(5.0), -0.8, now)
	require.True(t, ev.Emergency)
	assert.True(t, ev.Allowed)
}

func TestShouldDisplaceDeltaInsufficient(t *testing.T) {
	now := time.Now().UTC()
	policy := NewPolicy(DefaultConfig())
	pos := openPosition(2*time.Hour, now)

	ev := policy.ShouldDisplace(pos, rescored(4.5), strongCandidate(5.0), 0.3, now)

	assert.False(t, ev.Allowed)
	assert.Equal(t, ReasonDeltaInsufficient, ev.Reason)
	assert.InDelta(t, 0.5, ev.ScoreDelta, 1e-9)
}

func TestShouldDisplaceThesisDominanceRequired(t *testing.T) {
	now := time.Now().UTC()
	policy := NewPolicy(DefaultConfig())
	pos := openPosition(2*time.Hour, now)

	// A big aggregate edge spread across small factors, with no sub-thesis
	// favoring the candidate, is not enough.
	cand := strongCandidate(5.5)
	cand.Regime = domain.RegimeNeutral
	cand.Components = map[string]float64{
		scoring.FactorFlowConviction:    0.5,
		scoring.FactorFlowSentiment:     0.1,
		scoring.FactorDarkPoolDirection: 0.0,
	}

	ev := policy.ShouldDisplace(pos, rescored(4.0), cand, 0.3, now)

	assert.False(t, ev.Allowed)
	assert.Equal(t, ReasonNoThesisDominance, ev.Reason)
	assert.Empty(t, ev.FavoringTheses)
}

func TestShouldDisplaceReportsFavoringTheses(t *testing.T) {
	now := time.Now().UTC()
	policy := NewPolicy(DefaultConfig())

	pos := openPosition(2*time.Hour, now)
	pos.Side = domain.SideShort

	ev := policy.ShouldDisplace(pos, rescored(3.6), strongCandidate(5.0), 0.1, now)

	require.True(t, ev.Allowed)
	assert.ElementsMatch(t, []string{ThesisFlowDirection, ThesisRegimeAlignment, ThesisDarkPoolDirection}, ev.FavoringTheses)
}

func TestEvaluationCloseReason(t *testing.T) {
	ev := Evaluation{ScoreDelta: 1.234, HoldAge: 47 * time.Minute}
	assert.Equal(t, "displaced:by=NVDA:delta=1.23:age=47m0s", ev.CloseReason("NVDA"))
}

func TestEvaluationDetailCarriesNumbers(t *testing.T) {
	now := time.Now().UTC()
	policy := NewPolicy(DefaultConfig())
	ev := policy.ShouldDisplace(openPosition(time.Hour, now), rescored(4.0), strongCandidate(5.0), 0.2, now)

	detail := ev.Detail()
	assert.Equal(t, ev.Allowed, detail["allowed"])
	assert.Equal(t, ev.Reason, detail["reason"])
	assert.InDelta(t, ev.ScoreDelta, detail["score_delta"].(float64), 1e-9)
	assert.InDelta(t, ev.HoldAge.Seconds(), detail["hold_age_sec"].(float64), 1e-9)
}
