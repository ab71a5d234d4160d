package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/flowbot/internal/displace"
	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/journal"
	"github.com/alanyoungcy/flowbot/internal/metrics"
	"github.com/alanyoungcy/flowbot/internal/scoring"
)

// PositionBook is the slice of the position service the pipeline needs.
type PositionBook interface {
	Open(ctx context.Context, cand domain.EntryCandidate) (domain.Position, error)
	Close(ctx context.Context, id string, exitPrice, exitScore float64, reason string) error
	GetOpen(ctx context.Context) ([]domain.Position, error)
}

// RiskChecker validates whether an entry candidate passes pre-entry controls.
// A full book is reported as domain.ErrBookFull so the pipeline can run the
// displacement gate instead of rejecting outright.
type RiskChecker interface {
	CheckEntry(ctx context.Context, cand domain.EntryCandidate) error
}

// RegimeSource supplies the current market regime for re-scoring open
// positions during displacement evaluation.
type RegimeSource interface {
	Current(ctx context.Context) (domain.Regime, error)
}

// Decision labels recorded in journal lines and the decisions counter.
const (
	DecisionOpen     = "open"
	DecisionReject   = "reject"
	DecisionDisplace = "displace"
)

// Executor reads entry candidates from a channel and runs each through the
// decision pipeline: dedup, expiry, risk, the displacement gate when the book
// is full, then an outbound order intent and a new position. Every decision
// is journaled; displacement evaluations are audited as well.
type Executor struct {
	candidateCh <-chan domain.EntryCandidate
	book        PositionBook
	risk        RiskChecker
	intents     IntentPublisher
	policy      *displace.Policy
	scorer      *scoring.Engine
	cache       domain.EnrichmentReader
	regimes     RegimeSource
	jrnl        domain.Journal
	audit       domain.AuditStore
	met         *metrics.Metrics
	dedup       *Dedup
	logger      *slog.Logger

	cleanupInterval time.Duration
}

// NewExecutor creates an Executor. All dependencies are required except met,
// which may be nil in tests.
func NewExecutor(
	candidateCh <-chan domain.EntryCandidate,
	book PositionBook,
	risk RiskChecker,
	intents IntentPublisher,
	policy *displace.Policy,
	scorer *scoring.Engine,
	cache domain.EnrichmentReader,
	regimes RegimeSource,
	jrnl domain.Journal,
	audit domain.AuditStore,
	met *metrics.Metrics,
	dedupTTL time.Duration,
	logger *slog.Logger,
) *Executor {
	if dedupTTL <= 0 {
		dedupTTL = 30 * time.Minute
	}
	return &Executor{
		candidateCh:     candidateCh,
		book:            book,
		risk:            risk,
		intents:         intents,
		policy:          policy,
		scorer:          scorer,
		cache:           cache,
		regimes:         regimes,
		jrnl:            jrnl,
		audit:           audit,
		met:             met,
		dedup:           NewDedup(dedupTTL),
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: 30 * time.Second,
	}
}

// ForgetSymbol clears the symbol's dedup entry. The reconciler calls this
// when a position closes so the next candidate in the symbol is not
// suppressed by its own entry.
func (e *Executor) ForgetSymbol(symbol string) {
	e.dedup.Forget(symbol)
}

// SetCleanupInterval changes how often the dedup map is garbage-collected.
// Must be called before Run.
func (e *Executor) SetCleanupInterval(d time.Duration) {
	e.cleanupInterval = d
}

// Run starts the decision loop. It processes candidates until the context is
// cancelled, at which point it drains any candidates already buffered in the
// channel and returns.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	cleanupTicker := time.NewTicker(e.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()

		case cand, ok := <-e.candidateCh:
			if !ok {
				return nil
			}
			e.process(ctx, cand)

		case <-cleanupTicker.C:
			e.dedup.Cleanup()
		}
	}
}

// process runs a single candidate through the full pipeline.
func (e *Executor) process(ctx context.Context, cand domain.EntryCandidate) {
	now := time.Now().UTC()
	log := e.logger.With(
		slog.String("candidate_id", cand.ID),
		slog.String("source", cand.Source),
		slog.String("symbol", cand.Symbol),
		slog.String("side", string(cand.Side)),
	)

	// 1. Per-symbol dedup. Scanners re-fire on every refresh while a surge
	// lasts; suppressions are logged, not journaled.
	if e.dedup.IsDuplicate(cand.Symbol) {
		log.Debug("candidate deduplicated, skipping")
		return
	}

	// 2. Expiry.
	if cand.Expired(now) {
		log.Warn("candidate expired, skipping", slog.Time("expires_at", cand.ExpiresAt))
		e.reject(ctx, cand, "candidate_expired", nil, now)
		return
	}

	// 3. Pre-entry risk. A full book falls through to the displacement gate.
	if err := e.risk.CheckEntry(ctx, cand); err != nil {
		if !errors.Is(err, domain.ErrBookFull) {
			log.Warn("risk check failed, rejecting", slog.String("error", err.Error()))
			e.reject(ctx, cand, "risk_check_failed", map[string]any{"error": err.Error()}, now)
			return
		}
		if !e.displaceWeakest(ctx, cand, log, now) {
			return
		}
	}

	// 4. Outbound intent, then the position.
	intent := domain.OrderIntent{
		ID:          uuid.NewString(),
		Action:      domain.IntentOpen,
		Symbol:      cand.Symbol,
		Side:        cand.Side,
		Size:        cand.Size,
		RefPrice:    cand.RefPrice,
		Reason:      cand.Reason,
		CandidateID: cand.ID,
		CreatedAt:   now,
	}
	if err := e.intents.Publish(ctx, intent); err != nil {
		log.Error("intent publish failed, rejecting", slog.String("error", err.Error()))
		e.reject(ctx, cand, "intent_publish_failed", map[string]any{"error": err.Error()}, now)
		return
	}

	pos, err := e.book.Open(ctx, cand)
	if err != nil {
		log.Error("position open failed", slog.String("error", err.Error()))
		e.reject(ctx, cand, "position_open_failed", map[string]any{
			"error":     err.Error(),
			"intent_id": intent.ID,
		}, now)
		return
	}

	e.recordJournal(ctx, journal.EntryRecord(cand, pos.ID, now))
	e.countDecision(DecisionOpen)
	log.Info("position opened",
		slog.String("position_id", pos.ID),
		slog.Float64("score", cand.Score),
		slog.Float64("size", cand.Size),
		slog.Float64("ref_price", cand.RefPrice),
	)
}

// displaceWeakest runs the displacement gate against the weakest open
// position. It returns true when a slot was freed and the candidate may
// proceed to open.
func (e *Executor) displaceWeakest(ctx context.Context, cand domain.EntryCandidate, log *slog.Logger, now time.Time) bool {
	open, err := e.book.GetOpen(ctx)
	if err != nil {
		log.Error("open positions read failed", slog.String("error", err.Error()))
		e.reject(ctx, cand, "book_unavailable", map[string]any{"error": err.Error()}, now)
		return false
	}
	if len(open) == 0 {
		// Risk reported a full book but nothing is open; let the open proceed.
		return true
	}

	weakest, current, mark := e.weakestOpen(ctx, open, now)
	pnlPct := weakest.UnrealizedPnLPct(mark)

	ev := e.policy.ShouldDisplace(weakest, current, cand, pnlPct, now)
	e.countDisplacement(ev.Reason)

	detail := ev.Detail()
	detail["candidate_id"] = cand.ID
	detail["weakest_position_id"] = weakest.ID
	detail["weakest_symbol"] = weakest.Symbol
	e.recordJournal(ctx, journal.DecisionRecord(cand.Symbol, DecisionDisplace, ev.Reason, detail, now))
	e.auditLog(ctx, "displacement_evaluated", detail)

	if !ev.Allowed {
		log.Info("displacement denied, candidate dropped",
			slog.String("reason", ev.Reason),
			slog.String("weakest_symbol", weakest.Symbol),
			slog.Float64("score_delta", ev.ScoreDelta),
		)
		e.countDecision(DecisionReject)
		return false
	}

	closeReason := ev.CloseReason(cand.Symbol)
	closeIntent := domain.OrderIntent{
		ID:         uuid.NewString(),
		Action:     domain.IntentClose,
		Symbol:     weakest.Symbol,
		Side:       weakest.Side,
		Size:       weakest.Size,
		RefPrice:   mark,
		Reason:     closeReason,
		PositionID: weakest.ID,
		CreatedAt:  now,
	}
	if err := e.intents.Publish(ctx, closeIntent); err != nil {
		log.Error("displacement close intent failed", slog.String("error", err.Error()))
		e.reject(ctx, cand, "displacement_close_failed", map[string]any{"error": err.Error()}, now)
		return false
	}
	if err := e.book.Close(ctx, weakest.ID, mark, current.Score, closeReason); err != nil {
		log.Error("displacement close failed",
			slog.String("position_id", weakest.ID),
			slog.String("error", err.Error()))
		e.reject(ctx, cand, "displacement_close_failed", map[string]any{"error": err.Error()}, now)
		return false
	}
	e.dedup.Forget(weakest.Symbol)
	e.countDecision(DecisionDisplace)
	log.Info("weakest position displaced",
		slog.String("position_id", weakest.ID),
		slog.String("displaced_symbol", weakest.Symbol),
		slog.Float64("score_delta", ev.ScoreDelta),
		slog.String("close_reason", closeReason),
	)
	return true
}

// weakestOpen re-scores every open position under present conditions and
// returns the one with the lowest current score, its re-scored result, and
// the mark used. A position whose bundle is missing keeps its entry snapshot
// as the current value.
func (e *Executor) weakestOpen(ctx context.Context, open []domain.Position, now time.Time) (domain.Position, domain.CompositeResult, float64) {
	regime := domain.RegimeNeutral
	if r, err := e.regimes.Current(ctx); err == nil {
		regime = r
	}

	weakest := open[0]
	weakestResult, weakestMark := e.rescore(ctx, open[0], regime, now)
	for _, pos := range open[1:] {
		result, mark := e.rescore(ctx, pos, regime, now)
		if result.Score < weakestResult.Score {
			weakest, weakestResult, weakestMark = pos, result, mark
		}
	}
	return weakest, weakestResult, weakestMark
}

// rescore evaluates one open position's current composite score and the mark
// to value it at.
func (e *Executor) rescore(ctx context.Context, pos domain.Position, regime domain.Regime, now time.Time) (domain.CompositeResult, float64) {
	bundle, err := e.cache.GetBundle(ctx, pos.Symbol)
	if err != nil {
		// No fresh intel; the entry snapshot is the best available value.
		return domain.CompositeResult{
			Symbol:     pos.Symbol,
			Score:      pos.EntryScore,
			Components: pos.EntryComponents,
			Regime:     pos.RegimeAtEntry,
		}, pos.MarkPrice
	}

	var intel *domain.ExpandedIntel
	if x, err := e.cache.GetExpandedIntel(ctx, pos.Symbol); err == nil {
		intel = &x
	}

	mark := pos.MarkPrice
	if bundle.Mark != nil && *bundle.Mark > 0 {
		mark = *bundle.Mark
	}
	return e.scorer.Score(pos.Symbol, bundle, regime, intel, now), mark
}

// reject journals and counts a dropped candidate.
func (e *Executor) reject(ctx context.Context, cand domain.EntryCandidate, reason string, detail map[string]any, now time.Time) {
	if detail == nil {
		detail = map[string]any{}
	}
	detail["candidate_id"] = cand.ID
	detail["source"] = cand.Source
	detail["score"] = cand.Score
	e.recordJournal(ctx, journal.DecisionRecord(cand.Symbol, DecisionReject, reason, detail, now))
	e.countDecision(DecisionReject)
}

func (e *Executor) recordJournal(ctx context.Context, rec domain.JournalRecord) {
	if err := e.jrnl.Record(ctx, rec); err != nil {
		e.logger.ErrorContext(ctx, "journal write failed",
			slog.String("type", rec.Type),
			slog.String("symbol", rec.Symbol),
			slog.String("error", err.Error()))
	}
}

func (e *Executor) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}

func (e *Executor) countDecision(decision string) {
	if e.met != nil {
		e.met.Decisions.WithLabelValues(decision).Inc()
	}
}

func (e *Executor) countDisplacement(result string) {
	if e.met != nil {
		e.met.Displacements.WithLabelValues(result).Inc()
	}
}

// drain processes candidates already buffered in the channel after context
// cancellation so in-flight decisions are not silently dropped.
func (e *Executor) drain() {
	for {
		select {
		case cand, ok := <-e.candidateCh:
			if !ok {
				return
			}
			e.logger.Warn("draining candidate after shutdown",
				slog.String("candidate_id", cand.ID),
				slog.String("symbol", cand.Symbol),
			)
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			e.process(drainCtx, cand)
			cancel()
		default:
			return
		}
	}
}

var _ fmt.Stringer = (*Executor)(nil)

// String returns a human-readable description of the executor.
func (e *Executor) String() string {
	return "Executor(pipeline=dedup,expiry,risk,displacement,intent)"
}
