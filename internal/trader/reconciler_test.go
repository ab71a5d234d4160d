package trader

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/exits"
	"github.com/alanyoungcy/flowbot/internal/notify"
	"github.com/alanyoungcy/flowbot/internal/scoring"
)

type fakeBook struct {
	open    []domain.Position
	updates []string
	reduces []string
	closes  []string
}

func (b *fakeBook) GetOpen(ctx context.Context) ([]domain.Position, error) { return b.open, nil }

func (b *fakeBook) UpdateMarks(ctx context.Context, id string, mark, highWater float64) error {
	b.updates = append(b.updates, fmt.Sprintf("%s|%.2f|%.2f", id, mark, highWater))
	return nil
}

func (b *fakeBook) Reduce(ctx context.Context, pos domain.Position, fraction float64, reason string) (float64, error) {
	b.reduces = append(b.reduces, fmt.Sprintf("%s|%.2f|%s", pos.ID, fraction, reason))
	return pos.Size * (1 - fraction), nil
}

func (b *fakeBook) Close(ctx context.Context, id string, exitPrice, exitScore float64, reason string) error {
	b.closes = append(b.closes, fmt.Sprintf("%s|%.2f|%s", id, exitPrice, reason))
	return nil
}

type memCache struct {
	bundles map[string]domain.FeatureBundle
}

func (c *memCache) GetBundle(ctx context.Context, symbol string) (domain.FeatureBundle, error) {
	b, ok := c.bundles[symbol]
	if !ok {
		return domain.FeatureBundle{}, domain.ErrNotFound
	}
	return b, nil
}

func (c *memCache) GetExpandedIntel(ctx context.Context, symbol string) (domain.ExpandedIntel, error) {
	return domain.ExpandedIntel{}, domain.ErrNotFound
}

func fp(v float64) *float64 { return &v }

// bearishBundle reads against a long position: the flow-reversal factor
// contributes FlowReversalWeight x conviction exactly.
func bearishBundle(symbol string, conviction float64, now time.Time) domain.FeatureBundle {
	return domain.FeatureBundle{
		Symbol:         symbol,
		AsOf:           now,
		FlowSentiment:  domain.SentimentBearish,
		FlowConviction: fp(conviction),
	}
}

type fakeMarks struct{ marks map[string]float64 }

func (m *fakeMarks) SetMark(ctx context.Context, symbol string, price float64, ts time.Time) error {
	return nil
}

func (m *fakeMarks) GetMark(ctx context.Context, symbol string) (float64, time.Time, error) {
	mark, ok := m.marks[symbol]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return mark, time.Now().UTC(), nil
}

func (m *fakeMarks) GetMarks(ctx context.Context, symbols []string) (map[string]float64, error) {
	return m.marks, nil
}

type neutralRegimes struct{}

func (neutralRegimes) Current(ctx context.Context) (domain.Regime, error) {
	return domain.RegimeNeutral, nil
}

type fakeIntents struct{ published []domain.OrderIntent }

func (p *fakeIntents) Publish(ctx context.Context, intent domain.OrderIntent) error {
	p.published = append(p.published, intent)
	return nil
}

type memJournal struct{ records []domain.JournalRecord }

func (j *memJournal) Record(ctx context.Context, rec domain.JournalRecord) error {
	j.records = append(j.records, rec)
	return nil
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// frozenScorer pins the re-scored thesis so the exit factors can be driven
// deterministically from the bundle and marks alone.
type frozenScorer struct{ score float64 }

func (s frozenScorer) Score(symbol string, _ domain.FeatureBundle, regime domain.Regime, _ *domain.ExpandedIntel, now time.Time) domain.CompositeResult {
	return domain.CompositeResult{Symbol: symbol, Score: s.score, Regime: regime, EvaluatedAt: now}
}

type captureSender struct{ titles []string }

func (s *captureSender) Send(ctx context.Context, title, message string) error {
	s.titles = append(s.titles, title)
	return nil
}

func (s *captureSender) Name() string { return "capture" }

type harness struct {
	book    *fakeBook
	cache   *memCache
	marks   *fakeMarks
	intents *fakeIntents
	jrnl    *memJournal
	forgot  []string
	rec     *Reconciler
}

func newHarness(t *testing.T, positions []domain.Position, marks map[string]float64, bundles map[string]domain.FeatureBundle) *harness {
	t.Helper()
	if bundles == nil {
		bundles = map[string]domain.FeatureBundle{}
	}
	h := &harness{
		book:    &fakeBook{open: positions},
		cache:   &memCache{bundles: bundles},
		marks:   &fakeMarks{marks: marks},
		intents: &fakeIntents{},
		jrnl:    &memJournal{},
	}
	logger := slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
	exitEngine := exits.NewEngine(exits.DefaultConfig(), scoring.NewEngine(scoring.DefaultConfig(), nil))
	h.rec = NewReconciler(
		h.book, h.cache, h.marks, nil, neutralRegimes{},
		exitEngine, h.intents, h.jrnl, nil, nil,
		func(symbol string) { h.forgot = append(h.forgot, symbol) },
		Config{Interval: time.Minute, ReduceFraction: 0.5},
		logger,
	)
	return h
}

func openPosition(id, symbol string, mark float64, age time.Duration) domain.Position {
	now := time.Now().UTC()
	return domain.Position{
		ID:         id,
		Symbol:     symbol,
		Side:       domain.SideLong,
		Size:       100,
		EntryPrice: 100,
		MarkPrice:  mark,
		HighWater:  100,
		EntryScore: 6.0,
		EntryComponents: map[string]float64{
			scoring.FactorFlowConviction: 1.6,
		},
		RegimeAtEntry: domain.RegimeRiskOn,
		Source:        "flow_surge",
		Status:        domain.PositionStatusOpen,
		OpenedAt:      now.Add(-age),
	}
}

// A full-conviction flow reversal (3.0), a saturated drawdown velocity (2.0),
// and the loss limit below -5% (2.0) sum past the exit threshold regardless
// of what signal decay adds.
func TestCycleExitsDeterioratedPosition(t *testing.T) {
	now := time.Now().UTC()
	pos := openPosition("pos-1", "NVDA", 95, 2*time.Hour)
	h := newHarness(t, []domain.Position{pos}, map[string]float64{"NVDA": 90},
		map[string]domain.FeatureBundle{"NVDA": bearishBundle("NVDA", 1.0, now)})

	h.rec.Cycle(context.Background())

	require.Len(t, h.book.closes, 1)
	assert.Contains(t, h.book.closes[0], "pos-1|90.00|exit:urgency=")
	require.Len(t, h.intents.published, 1)
	assert.Equal(t, domain.IntentClose, h.intents.published[0].Action)
	assert.Equal(t, "pos-1", h.intents.published[0].PositionID)
	assert.InDelta(t, 90, h.intents.published[0].RefPrice, 1e-9)
	assert.Equal(t, []string{"NVDA"}, h.forgot)
	assert.Empty(t, h.book.reduces)
}

// A moderate flow reversal (1.8) plus drawdown velocity (1.5) lands in the
// REDUCE band: at least 3.3, and bounded under 6 since the loss limit and
// time decay stay quiet. The second cycle must not shave the remainder.
func TestCycleReducesOncePerEpisode(t *testing.T) {
	now := time.Now().UTC()
	pos := openPosition("pos-1", "NVDA", 98, 2*time.Hour)
	h := newHarness(t, []domain.Position{pos}, map[string]float64{"NVDA": 95.5},
		map[string]domain.FeatureBundle{"NVDA": bearishBundle("NVDA", 0.6, now)})

	h.rec.Cycle(context.Background())

	require.Len(t, h.book.reduces, 1)
	assert.Contains(t, h.book.reduces[0], "pos-1|0.50|reduce:urgency=")
	require.Len(t, h.intents.published, 1)
	assert.Equal(t, domain.IntentReduce, h.intents.published[0].Action)
	assert.InDelta(t, 50, h.intents.published[0].Size, 1e-9)
	require.Len(t, h.jrnl.records, 1)
	assert.Equal(t, domain.JournalTypeDecision, h.jrnl.records[0].Type)
	assert.Equal(t, "reduce", h.jrnl.records[0].Data["decision"])

	h.rec.Cycle(context.Background())
	assert.Len(t, h.book.reduces, 1, "remainder is held, not shaved again")
	assert.Len(t, h.intents.published, 1)
}

// After a reduce, a full recovery to HOLD ends the episode; a fresh
// deterioration is a new episode and gets reduced again.
func TestCycleReduceRearmsAfterRecovery(t *testing.T) {
	now := time.Now().UTC()
	pos := openPosition("pos-1", "NVDA", 98, 2*time.Hour)
	h := newHarness(t, []domain.Position{pos}, map[string]float64{"NVDA": 95.5},
		map[string]domain.FeatureBundle{"NVDA": bearishBundle("NVDA", 0.6, now)})

	h.rec.Cycle(context.Background())
	require.Len(t, h.book.reduces, 1)

	// Recovery: the tape turns and the mark returns to the high-water.
	delete(h.cache.bundles, "NVDA")
	h.marks.marks["NVDA"] = 100
	h.rec.Cycle(context.Background())
	assert.Len(t, h.book.reduces, 1)
	assert.Empty(t, h.book.closes)

	// The same deterioration again is a second episode.
	h.cache.bundles["NVDA"] = bearishBundle("NVDA", 0.6, now)
	h.marks.marks["NVDA"] = 95.5
	h.rec.Cycle(context.Background())
	assert.Len(t, h.book.reduces, 2, "recovered position reduces on the next episode")
}

// A loss-limit-led exit routes through the loss_limit notification event. The
// notifier here allows only loss_limit, so a plain position_closed would be
// filtered and nothing would reach the sender.
func TestCycleLossLimitExitNotifiesLossLimitEvent(t *testing.T) {
	now := time.Now().UTC()
	pos := openPosition("pos-1", "NVDA", 98, 7*time.Hour)

	book := &fakeBook{open: []domain.Position{pos}}
	// Thesis ratio 0.168 puts signal decay at 1.9, opposing momentum adds
	// 1.5, and a 1%/h drawdown 0.67: the loss limit's 2.0 both tips the
	// total past the exit threshold and stays the largest contributor.
	cache := &memCache{bundles: map[string]domain.FeatureBundle{
		"NVDA": {Symbol: "NVDA", AsOf: now, Momentum: fp(-0.02)},
	}}
	marks := &fakeMarks{marks: map[string]float64{"NVDA": 93}}
	intents := &fakeIntents{}
	sender := &captureSender{}

	logger := slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
	notifier := notify.NewNotifier([]notify.Sender{sender}, []string{"loss_limit"}, logger)
	exitEngine := exits.NewEngine(exits.DefaultConfig(), frozenScorer{score: 1.008})

	rec := NewReconciler(
		book, cache, marks, nil, neutralRegimes{},
		exitEngine, intents, &memJournal{}, notifier, nil, nil,
		Config{Interval: time.Minute, ReduceFraction: 0.5},
		logger,
	)

	rec.Cycle(context.Background())

	require.Len(t, book.closes, 1)
	assert.Contains(t, book.closes[0], "loss_limit(-7.00)")
	require.Len(t, sender.titles, 1, "loss_limit event passes the notifier filter")
	assert.Equal(t, "Exit NVDA", sender.titles[0])
}

// A healthy mark only refreshes the high-water; nothing is closed or reduced.
func TestCycleUpdatesHighWaterAndHolds(t *testing.T) {
	pos := openPosition("pos-1", "NVDA", 100, 30*time.Minute)
	h := newHarness(t, []domain.Position{pos}, map[string]float64{"NVDA": 103}, nil)

	h.rec.Cycle(context.Background())

	require.Len(t, h.book.updates, 1)
	assert.Equal(t, "pos-1|103.00|103.00", h.book.updates[0])
	assert.Empty(t, h.book.closes)
	assert.Empty(t, h.book.reduces)
	assert.Empty(t, h.intents.published)
}

// Short positions ratchet the high-water downward.
func TestCycleShortHighWaterRatchetsDown(t *testing.T) {
	pos := openPosition("pos-1", "NVDA", 100, 30*time.Minute)
	pos.Side = domain.SideShort
	h := newHarness(t, []domain.Position{pos}, map[string]float64{"NVDA": 96}, nil)

	h.rec.Cycle(context.Background())

	require.Len(t, h.book.updates, 1)
	assert.Equal(t, "pos-1|96.00|96.00", h.book.updates[0])
	assert.Empty(t, h.book.closes)
}
