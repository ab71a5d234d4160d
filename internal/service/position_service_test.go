package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/scoring"
)

type memPositions struct {
	byID map[string]domain.Position
}

func newMemPositions() *memPositions {
	return &memPositions{byID: map[string]domain.Position{}}
}

func (s *memPositions) Create(ctx context.Context, pos domain.Position) error {
	s.byID[pos.ID] = pos
	return nil
}

func (s *memPositions) UpdateMarks(ctx context.Context, id string, mark, highWater float64) error {
	pos, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	pos.MarkPrice = mark
	pos.HighWater = highWater
	s.byID[id] = pos
	return nil
}

func (s *memPositions) Reduce(ctx context.Context, id string, newSize float64) error {
	pos, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	pos.Size = newSize
	s.byID[id] = pos
	return nil
}

func (s *memPositions) Close(ctx context.Context, id string, exitPrice, realizedPnLPct float64, reason string) error {
	pos, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	pos.Status = domain.PositionStatusClosed
	pos.ExitPrice = &exitPrice
	pos.RealizedPnLPct = &realizedPnLPct
	pos.CloseReason = &reason
	pos.ClosedAt = &now
	s.byID[id] = pos
	return nil
}

func (s *memPositions) GetOpen(ctx context.Context) ([]domain.Position, error) {
	var out []domain.Position
	for _, pos := range s.byID {
		if pos.Status == domain.PositionStatusOpen {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (s *memPositions) GetByID(ctx context.Context, id string) (domain.Position, error) {
	pos, ok := s.byID[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *memPositions) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

type memOutcomes struct{ appended []domain.TradeOutcome }

func (s *memOutcomes) Append(ctx context.Context, outcome domain.TradeOutcome) error {
	s.appended = append(s.appended, outcome)
	return nil
}

func (s *memOutcomes) ListRecent(ctx context.Context, limit int) ([]domain.TradeOutcome, error) {
	return s.appended, nil
}

func (s *memOutcomes) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.TradeOutcome, error) {
	return nil, nil
}

func (s *memOutcomes) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type memSymbols struct{ bySymbol map[string]domain.SymbolInfo }

func (s *memSymbols) Upsert(ctx context.Context, info domain.SymbolInfo) error {
	s.bySymbol[info.Symbol] = info
	return nil
}

func (s *memSymbols) GetBySymbol(ctx context.Context, symbol string) (domain.SymbolInfo, error) {
	info, ok := s.bySymbol[symbol]
	if !ok {
		return domain.SymbolInfo{}, domain.ErrNotFound
	}
	return info, nil
}

func (s *memSymbols) ListActive(ctx context.Context) ([]domain.SymbolInfo, error) { return nil, nil }

type memBus struct{ published map[string][][]byte }

func (b *memBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if b.published == nil {
		b.published = map[string][][]byte{}
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, nil
}

func (b *memBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return b.Publish(ctx, stream, payload)
}

func (b *memBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type memJournal struct{ records []domain.JournalRecord }

func (j *memJournal) Record(ctx context.Context, rec domain.JournalRecord) error {
	j.records = append(j.records, rec)
	return nil
}

type memSink struct{ outcomes []domain.TradeOutcome }

func (s *memSink) RecordOutcome(outcome domain.TradeOutcome) {
	s.outcomes = append(s.outcomes, outcome)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type positionHarness struct {
	store *memPositions
	outs  *memOutcomes
	syms  *memSymbols
	bus   *memBus
	jrnl  *memJournal
	sink  *memSink
	svc   *PositionService
}

func newPositionHarness(t *testing.T) *positionHarness {
	t.Helper()
	h := &positionHarness{
		store: newMemPositions(),
		outs:  &memOutcomes{},
		syms:  &memSymbols{bySymbol: map[string]domain.SymbolInfo{}},
		bus:   &memBus{},
		jrnl:  &memJournal{},
		sink:  &memSink{},
	}
	h.svc = NewPositionService(h.store, h.outs, h.syms, h.bus, nil, h.jrnl, h.sink, nil, quietLogger())
	return h
}

func entryCandidate() domain.EntryCandidate {
	now := time.Now().UTC()
	return domain.EntryCandidate{
		ID:     uuid.NewString(),
		Source: "flow_surge",
		Symbol: "NVDA",
		Side:   domain.SideLong,
		Score:  5.4,
		Components: map[string]float64{
			scoring.FactorFlowConviction: 1.5,
		},
		Freshness: 0.95,
		Regime:    domain.RegimeRiskOn,
		RefPrice:  172.4,
		Size:      100,
		Reason:    "flow_surge:conviction=0.85:premium=4500000:score=5.40",
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
	}
}

func TestOpenSnapshotsCandidate(t *testing.T) {
	h := newPositionHarness(t)
	h.syms.bySymbol["NVDA"] = domain.SymbolInfo{Symbol: "NVDA", Sector: "semiconductors", Active: true}

	pos, err := h.svc.Open(context.Background(), entryCandidate())
	require.NoError(t, err)

	assert.NotEmpty(t, pos.ID)
	assert.Equal(t, "semiconductors", pos.Sector)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.InDelta(t, 172.4, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 172.4, pos.HighWater, 1e-9)
	assert.InDelta(t, 5.4, pos.EntryScore, 1e-9)
	assert.InDelta(t, 1.5, pos.EntryComponents[scoring.FactorFlowConviction], 1e-9)
	assert.Equal(t, domain.RegimeRiskOn, pos.RegimeAtEntry)
	assert.Len(t, h.bus.published[BusChannelPositions], 1)

	stored, err := h.store.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.Symbol, stored.Symbol)
}

func TestOpenRejectsInvalidCandidate(t *testing.T) {
	h := newPositionHarness(t)

	cand := entryCandidate()
	cand.Side = "sideways"
	_, err := h.svc.Open(context.Background(), cand)
	assert.ErrorIs(t, err, domain.ErrPolicyViolation)

	cand = entryCandidate()
	cand.RefPrice = 0
	_, err = h.svc.Open(context.Background(), cand)
	assert.ErrorIs(t, err, domain.ErrPolicyViolation)
}

func TestCloseRecordsOutcomeBeforePosition(t *testing.T) {
	h := newPositionHarness(t)
	pos, err := h.svc.Open(context.Background(), entryCandidate())
	require.NoError(t, err)

	err = h.svc.Close(context.Background(), pos.ID, 180.0, 3.1, "exit:urgency=6.5:flow_reversal")
	require.NoError(t, err)

	require.Len(t, h.outs.appended, 1)
	outcome := h.outs.appended[0]
	assert.Equal(t, pos.ID, outcome.PositionID)
	assert.InDelta(t, (180.0-172.4)/172.4*100, outcome.RealizedPnLPct, 1e-9)
	assert.InDelta(t, 5.4, outcome.EntryScore, 1e-9)
	assert.InDelta(t, 3.1, outcome.ExitScore, 1e-9)
	assert.Equal(t, "exit:urgency=6.5:flow_reversal", outcome.CloseReason)
	assert.True(t, outcome.Win())

	// Outcome reached the learner and the journal.
	require.Len(t, h.sink.outcomes, 1)
	assert.Equal(t, outcome.ID, h.sink.outcomes[0].ID)
	require.Len(t, h.jrnl.records, 1)
	assert.Equal(t, domain.JournalTypeExit, h.jrnl.records[0].Type)

	stored, err := h.store.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, stored.Status)
	require.NotNil(t, stored.CloseReason)
	assert.Equal(t, "exit:urgency=6.5:flow_reversal", *stored.CloseReason)
}

func TestCloseTwiceFails(t *testing.T) {
	h := newPositionHarness(t)
	pos, err := h.svc.Open(context.Background(), entryCandidate())
	require.NoError(t, err)

	require.NoError(t, h.svc.Close(context.Background(), pos.ID, 180, 3.1, "exit"))
	err = h.svc.Close(context.Background(), pos.ID, 181, 3.1, "exit")
	assert.ErrorIs(t, err, domain.ErrPolicyViolation)
	assert.Len(t, h.outs.appended, 1)
}

func TestReduceShrinksPosition(t *testing.T) {
	h := newPositionHarness(t)
	pos, err := h.svc.Open(context.Background(), entryCandidate())
	require.NoError(t, err)

	newSize, err := h.svc.Reduce(context.Background(), pos, 0.5, "reduce:urgency=3.5:flow_reversal")
	require.NoError(t, err)
	assert.InDelta(t, 50, newSize, 1e-9)

	_, err = h.svc.Reduce(context.Background(), pos, 1.5, "bad")
	assert.ErrorIs(t, err, domain.ErrPolicyViolation)
}
