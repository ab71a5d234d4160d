package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/learner"
	"github.com/alanyoungcy/flowbot/internal/service"
	"github.com/alanyoungcy/flowbot/internal/weights"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

type fakeRegimes struct {
	state domain.RegimeState
	err   error
}

func (f *fakeRegimes) State(ctx context.Context) (domain.RegimeState, error) {
	return f.state, f.err
}

func (f *fakeRegimes) History(ctx context.Context, limit int) ([]domain.RegimeState, error) {
	return []domain.RegimeState{f.state}, f.err
}

type fakeBook struct {
	open []domain.Position
	err  error
}

func (f *fakeBook) GetOpen(ctx context.Context) ([]domain.Position, error) { return f.open, f.err }

func (f *fakeBook) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	return f.open, f.err
}

type fakeRisk struct{ exposure float64 }

func (f *fakeRisk) Exposure(ctx context.Context) (float64, error) { return f.exposure, nil }

type fakeBreaker struct{ state string }

func (f *fakeBreaker) BreakerState() string { return f.state }

func TestStatusSnapshot(t *testing.T) {
	h := NewStatusHandler("trade", time.Now().Add(-90*time.Second),
		&fakeRegimes{state: domain.RegimeState{Regime: domain.RegimeRiskOn, VolIndex: 15, AsOf: time.Now().UTC()}},
		&fakeBook{open: []domain.Position{{ID: "p1"}, {ID: "p2"}}},
		&fakeRisk{exposure: 34_480},
		&fakeBreaker{state: "closed"},
		quietLogger(),
	)

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "trade", body["mode"])
	assert.EqualValues(t, 2, body["open_positions"])
	assert.InDelta(t, 34_480, body["exposure"].(float64), 1e-9)
	assert.Equal(t, "closed", body["intel_breaker"])
	regime := body["regime"].(map[string]any)
	assert.Equal(t, "RISK_ON", regime["regime"])
}

func TestStatusRegimeFallsBackWhenUnreadable(t *testing.T) {
	h := NewStatusHandler("observe", time.Now(),
		&fakeRegimes{err: domain.ErrNotFound},
		&fakeBook{}, &fakeRisk{}, nil, quietLogger())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	regime := body["regime"].(map[string]any)
	assert.Equal(t, "NEUTRAL", regime["regime"])
	assert.Equal(t, true, regime["stale"])
	_, hasBreaker := body["intel_breaker"]
	assert.False(t, hasBreaker)
}

func TestListOpenPositionsEmptyIsArray(t *testing.T) {
	h := NewPositionHandler(&fakeBook{}, quietLogger())

	rec := httptest.NewRecorder()
	h.ListOpen(rec, httptest.NewRequest(http.MethodGet, "/api/v1/positions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"positions":[]}`, rec.Body.String())
}

func TestGetWeightsByRegime(t *testing.T) {
	table := weights.NewTable(map[domain.WeightKey]domain.WeightBand{
		{Factor: "flow_conviction", Regime: domain.RegimeRiskOn}:     {BaseWeight: 1.8, Multiplier: 1.0, Pinned: true},
		{Factor: "dark_pool_direction", Regime: domain.RegimeRiskOn}: {BaseWeight: 0.9, Multiplier: 1.05},
		{Factor: "dark_pool_direction", Regime: domain.RegimePanic}:  {BaseWeight: 0.9, Multiplier: 0.95},
	})
	h := NewWeightsHandler(table, quietLogger())

	rec := httptest.NewRecorder()
	h.GetWeights(rec, httptest.NewRequest(http.MethodGet, "/api/v1/weights?regime=risk_on", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "RISK_ON", body["regime"])
	bands := body["bands"].(map[string]any)
	assert.Len(t, bands, 2)
	assert.Contains(t, bands, "flow_conviction")

	rec = httptest.NewRecorder()
	h.GetWeights(rec, httptest.NewRequest(http.MethodGet, "/api/v1/weights?regime=sideways", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetWeightsAllRegimes(t *testing.T) {
	table := weights.NewTable(map[domain.WeightKey]domain.WeightBand{
		{Factor: "sweep_detected", Regime: domain.RegimeNeutral}: {BaseWeight: 0.5, Multiplier: 1.0},
		{Factor: "sweep_detected", Regime: domain.RegimePanic}:   {BaseWeight: 0.5, Multiplier: 0.9},
	})
	h := NewWeightsHandler(table, quietLogger())

	rec := httptest.NewRecorder()
	h.GetWeights(rec, httptest.NewRequest(http.MethodGet, "/api/v1/weights", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	bands := decodeBody(t, rec)["bands"].(map[string]any)
	assert.Contains(t, bands, "sweep_detected|NEUTRAL")
	assert.Contains(t, bands, "sweep_detected|PANIC")
}

type fakeTail struct {
	records []domain.JournalRecord
	types   []string
}

func (f *fakeTail) Tail(limit int, types ...string) ([]domain.JournalRecord, error) {
	f.types = types
	if len(f.records) > limit {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func TestListDecisionsFiltersByType(t *testing.T) {
	tail := &fakeTail{records: []domain.JournalRecord{
		{ID: "r1", Type: domain.JournalTypeDecision, Symbol: "NVDA"},
	}}
	h := NewDecisionHandler(tail, quietLogger())

	rec := httptest.NewRecorder()
	h.ListRecent(rec, httptest.NewRequest(http.MethodGet, "/api/v1/decisions?type=decision&limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"decision"}, tail.types)
	records := decodeBody(t, rec)["records"].([]any)
	require.Len(t, records, 1)
}

type fakeRunner struct {
	res learner.UpdateResult
	err error
}

func (f *fakeRunner) RunUpdate(ctx context.Context) (learner.UpdateResult, error) {
	return f.res, f.err
}

func (f *fakeRunner) OutcomeCount() int { return 42 }

func TestTriggerLearnerUpdate(t *testing.T) {
	runner := &fakeRunner{res: learner.UpdateResult{
		AdjustedCount:       1,
		SkippedInsufficient: 3,
		Adjustments: []learner.Adjustment{{
			Key:    domain.WeightKey{Factor: "dark_pool_direction", Regime: domain.RegimeRiskOn},
			Action: learner.ActionIncrease,
			Before: 1.0,
			After:  1.05,
		}},
	}}
	h := NewLearnerHandler(runner, quietLogger())

	rec := httptest.NewRecorder()
	h.TriggerUpdate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/learner/update", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 1, body["adjusted"])
	assert.EqualValues(t, 3, body["skipped_insufficient"])
	assert.EqualValues(t, 42, body["outcomes_recorded"])
}

type fakeOutcomes struct{ outcomes []domain.TradeOutcome }

func (f *fakeOutcomes) ListRecent(ctx context.Context, limit int) ([]domain.TradeOutcome, error) {
	return f.outcomes, nil
}

func (f *fakeOutcomes) RecentStats(ctx context.Context, limit int) (service.Stats, error) {
	return service.Stats{Count: len(f.outcomes), Wins: 1, WinRate: 0.5}, nil
}

func TestOutcomeStats(t *testing.T) {
	h := NewOutcomeHandler(&fakeOutcomes{outcomes: []domain.TradeOutcome{
		{ID: "o1", RealizedPnLPct: 4.4}, {ID: "o2", RealizedPnLPct: -2.1},
	}}, quietLogger())

	rec := httptest.NewRecorder()
	h.GetStats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/outcomes/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 2, body["count"])
	assert.InDelta(t, 0.5, body["win_rate"].(float64), 1e-9)
}
