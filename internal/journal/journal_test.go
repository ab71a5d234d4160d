package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestWriter(t *testing.T) *Writer {
	t.Helper()
	w, err := NewWriter(Config{Dir: t.TempDir(), Prefix: "journal"}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func readLines(t *testing.T, path string) []domain.JournalRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []domain.JournalRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec domain.JournalRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec), "every line is self-contained JSON")
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestRecordAppendsOneLinePerRecord(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 28, 14, 30, 0, 0, time.UTC)

	cand := domain.EntryCandidate{
		ID:         "cand-1",
		Source:     "flow_surge",
		Symbol:     "NVDA",
		Side:       domain.SideLong,
		Score:      5.2,
		Components: map[string]float64{"flow_conviction": 1.5},
		Regime:     domain.RegimeRiskOn,
	}
	require.NoError(t, w.Record(ctx, EntryRecord(cand, "pos-1", at)))
	require.NoError(t, w.Record(ctx, DecisionRecord("AMD", "rejected", "duplicate_candidate", nil, at)))

	recs := readLines(t, filepath.Join(w.cfg.Dir, "journal-2026-08-28.jsonl"))
	require.Len(t, recs, 2)

	assert.Equal(t, domain.JournalTypeEntry, recs[0].Type)
	assert.Equal(t, "NVDA", recs[0].Symbol)
	assert.NotEmpty(t, recs[0].ID, "IDs are assigned when absent")
	assert.Equal(t, at, recs[0].At)
	assert.Equal(t, "pos-1", recs[0].Data["position_id"])

	assert.Equal(t, domain.JournalTypeDecision, recs[1].Type)
	assert.Equal(t, "duplicate_candidate", recs[1].Data["reason"])
}

func TestRecordRejectsMissingType(t *testing.T) {
	w := newTestWriter(t)
	err := w.Record(context.Background(), domain.JournalRecord{Symbol: "NVDA"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPolicyViolation)
}

func TestDaySegmentation(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()

	day1 := time.Date(2026, 8, 27, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 28, 0, 1, 0, 0, time.UTC)

	outcome := domain.TradeOutcome{ID: "out-1", Symbol: "TSLA", RealizedPnLPct: -1.2, ClosedAt: day1}
	require.NoError(t, w.Record(ctx, ExitRecord(outcome)))
	outcome.ID, outcome.ClosedAt = "out-2", day2
	require.NoError(t, w.Record(ctx, ExitRecord(outcome)))

	assert.Len(t, readLines(t, filepath.Join(w.cfg.Dir, "journal-2026-08-27.jsonl")), 1)
	assert.Len(t, readLines(t, filepath.Join(w.cfg.Dir, "journal-2026-08-28.jsonl")), 1)
}

func TestListSegmentsBeforeSkipsOpenSegment(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()

	for _, day := range []int{25, 26, 27} {
		at := time.Date(2026, 8, day, 12, 0, 0, 0, time.UTC)
		require.NoError(t, w.Record(ctx, DecisionRecord("SPY", "rejected", "expired", nil, at)))
	}

	// The 27th is the open segment; only strictly older days qualify.
	segments, err := w.ListSegmentsBefore(time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Contains(t, segments[0], "journal-2026-08-25.jsonl")
	assert.Contains(t, segments[1], "journal-2026-08-26.jsonl")
}

func TestRemoveSegmentGuardsDirectory(t *testing.T) {
	w := newTestWriter(t)

	outside := filepath.Join(t.TempDir(), "journal-2026-08-01.jsonl")
	require.NoError(t, os.WriteFile(outside, []byte("{}\n"), 0o644))
	assert.Error(t, w.RemoveSegment(outside))

	inside := filepath.Join(w.cfg.Dir, "journal-2026-08-01.jsonl")
	require.NoError(t, os.WriteFile(inside, []byte("{}\n"), 0o644))
	assert.NoError(t, w.RemoveSegment(inside))
	_, err := os.Stat(inside)
	assert.True(t, os.IsNotExist(err))
}

func TestTailReadsNewestSegmentNewestFirst(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()

	// Older segment that Tail must ignore.
	old := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	require.NoError(t, w.Record(ctx, DecisionRecord("SPY", "rejected", "expired", nil, old)))

	day := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	require.NoError(t, w.Record(ctx, DecisionRecord("NVDA", "open", "flow_surge", nil, day)))
	require.NoError(t, w.Record(ctx, DecisionRecord("AMD", "rejected", "book_full", nil, day.Add(time.Minute))))
	outcome := domain.TradeOutcome{ID: "out-1", Symbol: "NVDA", RealizedPnLPct: 2.4, ClosedAt: day.Add(2 * time.Minute)}
	require.NoError(t, w.Record(ctx, ExitRecord(outcome)))

	recs, err := w.Tail(10)
	require.NoError(t, err)
	require.Len(t, recs, 3, "only the newest segment is served")
	assert.Equal(t, domain.JournalTypeExit, recs[0].Type)
	assert.Equal(t, "AMD", recs[1].Symbol)
	assert.Equal(t, "NVDA", recs[2].Symbol)

	decisions, err := w.Tail(10, domain.JournalTypeDecision)
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, "AMD", decisions[0].Symbol)

	limited, err := w.Tail(1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, domain.JournalTypeExit, limited[0].Type)
}

func TestTailSkipsTornFinalLine(t *testing.T) {
	w := newTestWriter(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	require.NoError(t, w.Record(ctx, DecisionRecord("NVDA", "open", "flow_surge", nil, at)))

	// Simulate a crash mid-append.
	path := filepath.Join(w.cfg.Dir, "journal-2026-08-28.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"type":"decision","symbol":"AM`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	recs, err := w.Tail(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "NVDA", recs[0].Symbol)
}
