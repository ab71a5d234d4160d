package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

func riskHarness(t *testing.T, open ...domain.Position) (*RiskService, *memPositions) {
	t.Helper()
	store := newMemPositions()
	for _, pos := range open {
		require.NoError(t, store.Create(context.Background(), pos))
	}
	svc := NewRiskService(store, RiskConfig{
		MaxPositions:      2,
		MaxPerSymbol:      1,
		MaxSymbolNotional: 50_000,
	}, quietLogger())
	return svc, store
}

func openPos(symbol string) domain.Position {
	return domain.Position{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       domain.SideLong,
		Size:       100,
		EntryPrice: 100,
		MarkPrice:  100,
		Status:     domain.PositionStatusOpen,
	}
}

func TestCheckEntryPasses(t *testing.T) {
	svc, _ := riskHarness(t, openPos("AMD"))
	assert.NoError(t, svc.CheckEntry(context.Background(), entryCandidate()))
}

func TestCheckEntryStructuralViolations(t *testing.T) {
	svc, _ := riskHarness(t)

	cand := entryCandidate()
	cand.Side = "diagonal"
	assert.ErrorIs(t, svc.CheckEntry(context.Background(), cand), domain.ErrPolicyViolation)

	cand = entryCandidate()
	cand.Size = -5
	assert.ErrorIs(t, svc.CheckEntry(context.Background(), cand), domain.ErrPolicyViolation)
}

func TestCheckEntryPerSymbolLimit(t *testing.T) {
	svc, _ := riskHarness(t, openPos("NVDA"))
	err := svc.CheckEntry(context.Background(), entryCandidate())
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrBookFull, "same-symbol rejection must not trigger displacement")
	assert.Contains(t, err.Error(), "NVDA")
}

func TestCheckEntryNotionalCap(t *testing.T) {
	svc, _ := riskHarness(t)
	cand := entryCandidate()
	cand.Size = 1000 // 172.4 * 1000 > 50k
	err := svc.CheckEntry(context.Background(), cand)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cap")
}

func TestCheckEntryFullBook(t *testing.T) {
	svc, _ := riskHarness(t, openPos("AMD"), openPos("MSFT"))
	err := svc.CheckEntry(context.Background(), entryCandidate())
	assert.ErrorIs(t, err, domain.ErrBookFull)
}

func TestExposureSumsMarkedNotional(t *testing.T) {
	svc, _ := riskHarness(t, openPos("AMD"), openPos("MSFT"))
	total, err := svc.Exposure(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 20_000, total, 1e-9)
}
