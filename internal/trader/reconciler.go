// Package trader runs the position reconciliation loop: every cycle each open
// position gets fresh marks, a re-scored thesis, and an exit-urgency
// evaluation, and REDUCE/EXIT recommendations are acted on immediately.
package trader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/executor"
	"github.com/alanyoungcy/flowbot/internal/exits"
	"github.com/alanyoungcy/flowbot/internal/journal"
	"github.com/alanyoungcy/flowbot/internal/metrics"
	"github.com/alanyoungcy/flowbot/internal/notify"
	"github.com/alanyoungcy/flowbot/internal/scan"
)

// PositionBook is the slice of the position service the reconciler needs.
type PositionBook interface {
	GetOpen(ctx context.Context) ([]domain.Position, error)
	UpdateMarks(ctx context.Context, id string, mark, highWater float64) error
	Reduce(ctx context.Context, pos domain.Position, fraction float64, reason string) (float64, error)
	Close(ctx context.Context, id string, exitPrice, exitScore float64, reason string) error
}

// RegimeSource supplies the current market regime.
type RegimeSource interface {
	Current(ctx context.Context) (domain.Regime, error)
}

// Config holds the reconciler's loop parameters.
type Config struct {
	// Interval is the cycle cadence.
	Interval time.Duration

	// ReduceFraction is the share of the position closed on a REDUCE
	// recommendation.
	ReduceFraction float64
}

// Reconciler drives the exit side of the book. It owns no scoring state:
// urgency is recomputed from scratch each cycle by the exit engine.
type Reconciler struct {
	book    PositionBook
	cache   domain.EnrichmentReader
	marks   domain.MarkCache
	tracker *scan.MarkTracker
	regimes RegimeSource
	exits   *exits.Engine
	intents executor.IntentPublisher
	jrnl    domain.Journal
	notify  *notify.Notifier
	met     *metrics.Metrics
	forget  func(symbol string)
	cfg     Config
	logger  *slog.Logger

	// reduced guards against shaving the same position down cycle after
	// cycle while urgency hovers in the REDUCE band. It clears when urgency
	// recovers to HOLD or the position leaves the book.
	reduced map[string]bool
}

// NewReconciler creates a Reconciler. tracker, notify, met, and forget may be
// nil.
func NewReconciler(
	book PositionBook,
	cache domain.EnrichmentReader,
	marks domain.MarkCache,
	tracker *scan.MarkTracker,
	regimes RegimeSource,
	exitEngine *exits.Engine,
	intents executor.IntentPublisher,
	jrnl domain.Journal,
	notifier *notify.Notifier,
	met *metrics.Metrics,
	forget func(symbol string),
	cfg Config,
	logger *slog.Logger,
) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.ReduceFraction <= 0 || cfg.ReduceFraction >= 1 {
		cfg.ReduceFraction = 0.5
	}
	return &Reconciler{
		book:    book,
		cache:   cache,
		marks:   marks,
		tracker: tracker,
		regimes: regimes,
		exits:   exitEngine,
		intents: intents,
		jrnl:    jrnl,
		notify:  notifier,
		met:     met,
		forget:  forget,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "reconciler")),
		reduced: make(map[string]bool),
	}
}

// Run cycles until the context is cancelled. The first cycle runs
// immediately.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("reconciler started", slog.Duration("interval", r.cfg.Interval))
	defer r.logger.Info("reconciler stopped")

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Cycle(ctx)
		}
	}
}

// Cycle reconciles every open position once.
func (r *Reconciler) Cycle(ctx context.Context) {
	open, err := r.book.GetOpen(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "open positions read failed", slog.String("error", err.Error()))
		return
	}
	if r.met != nil {
		r.met.OpenPositions.Set(float64(len(open)))
	}
	if len(open) == 0 {
		return
	}

	regime := domain.RegimeNeutral
	if reg, err := r.regimes.Current(ctx); err == nil {
		regime = reg
	}

	now := time.Now().UTC()
	stillOpen := make(map[string]bool, len(open))
	for _, pos := range open {
		stillOpen[pos.ID] = true
		r.reconcile(ctx, pos, regime, now)
	}
	for id := range r.reduced {
		if !stillOpen[id] {
			delete(r.reduced, id)
		}
	}
}

// reconcile refreshes one position's marks and evaluates its exit urgency.
func (r *Reconciler) reconcile(ctx context.Context, pos domain.Position, regime domain.Regime, now time.Time) {
	log := r.logger.With(
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
	)

	bundle, err := r.cache.GetBundle(ctx, pos.Symbol)
	if err != nil {
		// Stale-intel degradation: evaluate against an empty bundle so signal
		// decay and time decay still accrue.
		bundle = domain.FeatureBundle{Symbol: pos.Symbol}
	}

	mark := r.latestMark(ctx, pos, bundle)
	if mark > 0 {
		highWater := pos.HighWater
		switch {
		case highWater <= 0:
			highWater = mark
		case pos.Side == domain.SideShort && mark < highWater:
			highWater = mark
		case pos.Side != domain.SideShort && mark > highWater:
			highWater = mark
		}
		if mark != pos.MarkPrice || highWater != pos.HighWater {
			if err := r.book.UpdateMarks(ctx, pos.ID, mark, highWater); err != nil {
				log.WarnContext(ctx, "mark update failed", slog.String("error", err.Error()))
			}
		}
		pos.MarkPrice = mark
		pos.HighWater = highWater
		if r.tracker != nil {
			r.tracker.Track(pos.Symbol, mark, now)
		}
	}

	var intel *domain.ExpandedIntel
	if x, err := r.cache.GetExpandedIntel(ctx, pos.Symbol); err == nil {
		intel = &x
	}

	start := time.Now()
	res, err := r.exits.Evaluate(pos, bundle, intel, regime, now)
	if r.met != nil {
		r.met.Evaluations.WithLabelValues("exit").Inc()
		r.met.EvaluationTime.WithLabelValues("exit").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		log.ErrorContext(ctx, "exit evaluation failed", slog.String("error", err.Error()))
		return
	}
	if r.met != nil {
		r.met.ExitUrgency.Observe(res.Urgency)
	}

	switch res.Recommendation {
	case domain.RecommendExit:
		r.exit(ctx, pos, res, log)
	case domain.RecommendReduce:
		r.reduce(ctx, pos, res, now, log)
	default:
		// Urgency back under the reduce band ends the episode and re-arms
		// the once-per-episode guard.
		delete(r.reduced, pos.ID)
		log.DebugContext(ctx, "position held",
			slog.Float64("urgency", res.Urgency),
			slog.String("primary_reason", res.PrimaryReason))
	}
}

// latestMark picks the freshest usable mark: mark cache first, then the
// bundle, then the position's stored mark.
func (r *Reconciler) latestMark(ctx context.Context, pos domain.Position, bundle domain.FeatureBundle) float64 {
	if mark, _, err := r.marks.GetMark(ctx, pos.Symbol); err == nil && mark > 0 {
		return mark
	}
	if bundle.Mark != nil && *bundle.Mark > 0 {
		return *bundle.Mark
	}
	return pos.MarkPrice
}

// exit closes the position at the current mark.
func (r *Reconciler) exit(ctx context.Context, pos domain.Position, res domain.UrgencyResult, log *slog.Logger) {
	reason := fmt.Sprintf("exit:urgency=%.1f:%s", res.Urgency, res.PrimaryReason)

	intent := domain.OrderIntent{
		ID:         uuid.NewString(),
		Action:     domain.IntentClose,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Size:       pos.Size,
		RefPrice:   pos.MarkPrice,
		Reason:     reason,
		PositionID: pos.ID,
		CreatedAt:  res.EvaluatedAt,
	}
	if err := r.intents.Publish(ctx, intent); err != nil {
		log.ErrorContext(ctx, "exit intent publish failed", slog.String("error", err.Error()))
		return
	}
	if err := r.book.Close(ctx, pos.ID, pos.MarkPrice, res.CurrentScore, reason); err != nil {
		log.ErrorContext(ctx, "position close failed", slog.String("error", err.Error()))
		return
	}
	if r.forget != nil {
		r.forget(pos.Symbol)
	}
	if r.met != nil {
		r.met.Decisions.WithLabelValues("close").Inc()
	}

	log.InfoContext(ctx, "position exited",
		slog.Float64("urgency", res.Urgency),
		slog.String("primary_reason", res.PrimaryReason),
		slog.Float64("exit_price", pos.MarkPrice),
	)

	event := "position_closed"
	if res.PrimaryFactor == exits.FactorLossLimit {
		event = "loss_limit"
	}
	r.send(ctx, event,
		fmt.Sprintf("Exit %s", pos.Symbol),
		fmt.Sprintf("%s closed at %.2f (urgency %.1f, %s, pnl %.2f%%)",
			pos.Symbol, pos.MarkPrice, res.Urgency, res.PrimaryReason,
			pos.UnrealizedPnLPct(pos.MarkPrice)))
}

// reduce shaves the position once per REDUCE episode.
func (r *Reconciler) reduce(ctx context.Context, pos domain.Position, res domain.UrgencyResult, now time.Time, log *slog.Logger) {
	if r.reduced[pos.ID] {
		log.DebugContext(ctx, "already reduced, holding remainder",
			slog.Float64("urgency", res.Urgency))
		return
	}
	reason := fmt.Sprintf("reduce:urgency=%.1f:%s", res.Urgency, res.PrimaryReason)

	intent := domain.OrderIntent{
		ID:         uuid.NewString(),
		Action:     domain.IntentReduce,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Size:       pos.Size * r.cfg.ReduceFraction,
		RefPrice:   pos.MarkPrice,
		Reason:     reason,
		PositionID: pos.ID,
		CreatedAt:  res.EvaluatedAt,
	}
	if err := r.intents.Publish(ctx, intent); err != nil {
		log.ErrorContext(ctx, "reduce intent publish failed", slog.String("error", err.Error()))
		return
	}
	newSize, err := r.book.Reduce(ctx, pos, r.cfg.ReduceFraction, reason)
	if err != nil {
		log.ErrorContext(ctx, "position reduce failed", slog.String("error", err.Error()))
		return
	}
	r.reduced[pos.ID] = true
	if r.met != nil {
		r.met.Decisions.WithLabelValues("reduce").Inc()
	}
	r.record(ctx, journal.DecisionRecord(pos.Symbol, "reduce", res.PrimaryReason, map[string]any{
		"position_id": pos.ID,
		"urgency":     res.Urgency,
		"components":  res.Components,
		"old_size":    pos.Size,
		"new_size":    newSize,
	}, now))

	log.InfoContext(ctx, "position reduced",
		slog.Float64("urgency", res.Urgency),
		slog.String("primary_reason", res.PrimaryReason),
		slog.Float64("new_size", newSize),
	)
}

func (r *Reconciler) record(ctx context.Context, rec domain.JournalRecord) {
	if r.jrnl == nil {
		return
	}
	if err := r.jrnl.Record(ctx, rec); err != nil {
		r.logger.ErrorContext(ctx, "journal write failed",
			slog.String("type", rec.Type),
			slog.String("error", err.Error()))
	}
}

func (r *Reconciler) send(ctx context.Context, event, title, message string) {
	if r.notify == nil {
		return
	}
	if err := r.notify.Notify(ctx, event, title, message); err != nil {
		r.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}
