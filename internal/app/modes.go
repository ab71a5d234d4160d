package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flowbot/internal/displace"
	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/executor"
	"github.com/alanyoungcy/flowbot/internal/exits"
	"github.com/alanyoungcy/flowbot/internal/intel"
	"github.com/alanyoungcy/flowbot/internal/journal"
	"github.com/alanyoungcy/flowbot/internal/learner"
	"github.com/alanyoungcy/flowbot/internal/platform/flowalpha"
	"github.com/alanyoungcy/flowbot/internal/scan"
	"github.com/alanyoungcy/flowbot/internal/scoring"
	"github.com/alanyoungcy/flowbot/internal/server"
	"github.com/alanyoungcy/flowbot/internal/server/handler"
	"github.com/alanyoungcy/flowbot/internal/server/ws"
	"github.com/alanyoungcy/flowbot/internal/service"
	"github.com/alanyoungcy/flowbot/internal/trader"
)

// metricsSampleInterval is how often the gauge sampler refreshes the
// feed-staleness, stream, and breaker gauges.
const metricsSampleInterval = 30 * time.Second

// marketReader adapts the intel provider's market indicators to the snapshot
// the regime classifier reads. The provider reports the index trend as a
// fraction of the moving average; the classifier works in percent.
type marketReader struct {
	client *flowalpha.Client
}

func (m marketReader) Market(ctx context.Context) (service.MarketSnapshot, error) {
	ind, err := m.client.Market(ctx)
	if err != nil {
		return service.MarketSnapshot{}, err
	}
	return service.MarketSnapshot{
		AsOf:       ind.AsOf,
		IndexTrend: ind.IndexTrend * 100,
		VolIndex:   ind.VolIndex,
		Breadth:    ind.Breadth,
	}, nil
}

// commonRuntime holds the pieces shared by trade and observe mode: the
// scoring engine, regime service, scan engine, intel intake, and the cron
// scheduler that modes append their own jobs to before it starts.
type commonRuntime struct {
	scorer      *scoring.Engine
	regimes     *service.RegimeService
	engine      *scan.Engine
	candidateCh chan domain.EntryCandidate
	stream      *flowalpha.Stream // nil unless streaming is enabled
	cron        *cron.Cron
}

// TradeMode runs the full pipeline: intel intake, scanning, the entry
// executor with the displacement gate, the exit reconciler, the nightly
// weight-learner pass, and the ops server.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	g, ctx := errgroup.WithContext(ctx)

	rt, err := a.runCommon(ctx, g, deps)
	if err != nil {
		return err
	}

	// Learning side: the learner owns the weight table, the service wraps
	// each update pass with journaling, persistence, and notification.
	lrn := learner.New(a.learnerConfig(), deps.Weights, a.logger)
	learnerSvc := service.NewLearnerService(
		lrn, deps.Weights, deps.WeightStore, deps.Journal, deps.Notifier, deps.Metrics, a.logger,
	)

	positionSvc := service.NewPositionService(
		deps.PositionStore, deps.OutcomeStore, deps.SymbolStore,
		deps.SignalBus, deps.AuditStore, deps.Journal,
		learnerSvc, deps.Metrics, a.logger,
	)
	riskSvc := service.NewRiskService(deps.PositionStore, service.RiskConfig{
		MaxPositions:      a.cfg.Risk.MaxPositions,
		MaxPerSymbol:      a.cfg.Risk.MaxPerSymbol,
		MaxSymbolNotional: a.cfg.Risk.MaxSymbolNotional,
	}, a.logger)

	// Entry side.
	intents := executor.NewBusIntentPublisher(deps.SignalBus, a.logger)
	policy := displace.NewPolicy(displace.Config{
		MinScoreDelta:   a.cfg.Displace.MinScoreDelta,
		MinHold:         a.cfg.Displace.MinHold.Duration,
		EmergencyScore:  a.cfg.Displace.EmergencyScore,
		EmergencyPnLPct: a.cfg.Displace.EmergencyPnLPct,
	})
	exec := executor.NewExecutor(
		rt.candidateCh, positionSvc, riskSvc, intents, policy,
		rt.scorer, deps.Enrichment, rt.regimes,
		deps.Journal, deps.AuditStore, deps.Metrics,
		a.cfg.Scan.DedupTTL.Duration, a.logger,
	)
	g.Go(func() error { return exec.Run(ctx) })

	// Exit side.
	exitEngine := exits.NewEngine(a.exitsConfig(), rt.scorer)
	reconciler := trader.NewReconciler(
		positionSvc, deps.Enrichment, deps.MarkCache, rt.engine.Tracker(),
		rt.regimes, exitEngine, intents, deps.Journal,
		deps.Notifier, deps.Metrics, exec.ForgetSymbol,
		trader.Config{
			Interval:       a.cfg.Exits.ReconcileInterval.Duration,
			ReduceFraction: a.cfg.Exits.ReduceFraction,
		}, a.logger,
	)
	g.Go(func() error { return reconciler.Run(ctx) })

	// Scheduled jobs. The learner pass runs after each trading day, behind a
	// distributed lock so only one replica writes the weight table; the
	// archive sweep moves aged outcomes and journal segments to blob storage.
	if _, err := rt.cron.AddFunc(a.cfg.Learner.UpdateCron, func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		unlock, err := deps.LockManager.Acquire(jobCtx, "locks:weight_update", 2*time.Minute)
		if err != nil {
			a.logger.Warn("weight update skipped, lock not acquired", slog.String("error", err.Error()))
			return
		}
		defer unlock()
		if _, err := learnerSvc.RunUpdate(jobCtx); err != nil {
			a.logger.Error("scheduled weight update failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("app: learner cron %q: %w", a.cfg.Learner.UpdateCron, err)
	}
	if deps.Archiver != nil {
		if err := a.scheduleArchive(rt.cron, deps); err != nil {
			return err
		}
	}
	a.startCron(ctx, g, rt.cron)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, rt, positionSvc, riskSvc, learnerSvc)
	}

	return g.Wait()
}

// ObserveMode runs the same intake, regime, and scanning pipeline as trade
// mode but only journals the candidates it would have acted on. No positions
// are opened and no order intents are published.
func (a *App) ObserveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting observe mode")

	g, ctx := errgroup.WithContext(ctx)

	rt, err := a.runCommon(ctx, g, deps)
	if err != nil {
		return err
	}

	// The learner still accepts manual update triggers through the API, but
	// with no positions closing it sees no new outcomes.
	lrn := learner.New(a.learnerConfig(), deps.Weights, a.logger)
	learnerSvc := service.NewLearnerService(
		lrn, deps.Weights, deps.WeightStore, deps.Journal, deps.Notifier, deps.Metrics, a.logger,
	)

	positionSvc := service.NewPositionService(
		deps.PositionStore, deps.OutcomeStore, deps.SymbolStore,
		deps.SignalBus, deps.AuditStore, deps.Journal,
		nil, deps.Metrics, a.logger,
	)
	riskSvc := service.NewRiskService(deps.PositionStore, service.RiskConfig{
		MaxPositions:      a.cfg.Risk.MaxPositions,
		MaxPerSymbol:      a.cfg.Risk.MaxPerSymbol,
		MaxSymbolNotional: a.cfg.Risk.MaxSymbolNotional,
	}, a.logger)

	g.Go(func() error { return a.observeCandidates(ctx, rt.candidateCh, deps.Journal) })

	if deps.Archiver != nil {
		if err := a.scheduleArchive(rt.cron, deps); err != nil {
			return err
		}
	}
	a.startCron(ctx, g, rt.cron)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, rt, positionSvc, riskSvc, learnerSvc)
	}

	return g.Wait()
}

// observeCandidates drains the candidate channel, journaling each emitted
// candidate as a decision that was observed but not acted on.
func (a *App) observeCandidates(ctx context.Context, candidateCh <-chan domain.EntryCandidate, jrnl domain.Journal) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cand, ok := <-candidateCh:
			if !ok {
				return nil
			}
			a.logger.InfoContext(ctx, "observed candidate",
				slog.String("symbol", cand.Symbol),
				slog.String("source", cand.Source),
				slog.String("side", string(cand.Side)),
				slog.Float64("score", cand.Score),
			)
			rec := journal.DecisionRecord(cand.Symbol, "observe", cand.Reason, map[string]any{
				"candidate_id": cand.ID,
				"source":       cand.Source,
				"side":         cand.Side,
				"score":        cand.Score,
				"ref_price":    cand.RefPrice,
				"size":         cand.Size,
			}, time.Now().UTC())
			if err := jrnl.Record(ctx, rec); err != nil {
				a.logger.WarnContext(ctx, "journal candidate failed", slog.String("error", err.Error()))
			}
		}
	}
}

// runCommon starts everything both modes share: watchlist seeding, the regime
// service and its refresh schedule, the intel poller (plus the stream when
// enabled), the gauge sampler, and the scan engine.
func (a *App) runCommon(ctx context.Context, g *errgroup.Group, deps *Dependencies) (*commonRuntime, error) {
	a.seedWatchlist(ctx, deps)

	scorer := scoring.NewEngine(a.scoringConfig(), deps.Weights)

	regimes := service.NewRegimeService(
		marketReader{client: deps.FlowClient},
		deps.RegimeCache,
		service.RegimeConfig{
			VolRiskOff:  a.cfg.Regime.VolRiskOff,
			VolPanic:    a.cfg.Regime.VolPanic,
			TrendRiskOn: a.cfg.Regime.TrendRiskOn,
			StaleAfter:  a.cfg.Regime.StaleAfter.Duration,
		}, a.logger,
	)
	// Prime the classification so the first scan cycle does not start on the
	// stale-fallback path.
	if _, err := regimes.Refresh(ctx); err != nil {
		a.logger.WarnContext(ctx, "initial regime refresh failed", slog.String("error", err.Error()))
	}

	c := cron.New()
	if _, err := c.AddFunc(a.cfg.Regime.RefreshCron, func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := regimes.Refresh(jobCtx); err != nil {
			a.logger.Error("regime refresh failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return nil, fmt.Errorf("app: regime cron %q: %w", a.cfg.Regime.RefreshCron, err)
	}

	// Intel intake: the poller is the source of truth, the stream tightens
	// latency between sweeps when enabled.
	poller := intel.NewPoller(intel.PollerConfig{
		Interval:   a.cfg.Intel.PollInterval.Duration,
		BatchSize:  a.cfg.Intel.BatchSize,
		RatePerSec: a.cfg.FlowAlpha.RatePerSec,
		RateBurst:  a.cfg.FlowAlpha.RateBurst,
	}, deps.FlowClient, deps.Enrichment, deps.MarkCache, deps.SignalBus, deps.Metrics, a.cfg.Watchlist, a.logger)
	g.Go(func() error { return poller.Run(ctx) })

	var stream *flowalpha.Stream
	if a.cfg.Intel.StreamEnabled && a.cfg.FlowAlpha.WsURL != "" {
		stream = flowalpha.NewStream(a.cfg.FlowAlpha.WsURL, deps.FlowAuth)
		if err := stream.Connect(ctx); err != nil {
			return nil, fmt.Errorf("app: connect intel stream: %w", err)
		}
		if err := stream.Subscribe(ctx, a.cfg.Watchlist); err != nil {
			return nil, fmt.Errorf("app: subscribe intel stream: %w", err)
		}
		ingest := intel.NewStreamIngest(stream, deps.Enrichment, deps.MarkCache, deps.SignalBus, a.logger)
		g.Go(func() error { return ingest.Run(ctx) })
		g.Go(func() error {
			<-ctx.Done()
			return stream.Close()
		})
	}

	g.Go(func() error { return a.sampleGauges(ctx, deps, stream) })

	// Scanners.
	registry := scan.NewRegistry()
	scanCfg := scan.Config{
		EntryThreshold:     a.cfg.Scan.EntryThreshold,
		CandidateTTL:       a.cfg.Scan.CandidateTTL.Duration,
		DefaultSize:        a.cfg.Risk.DefaultSize,
		SurgeMinConviction: a.cfg.Scan.SurgeMinConviction,
		SurgeMinNotional:   a.cfg.Scan.SurgeMinNotional,
		DarkMinNotional:    a.cfg.Scan.DarkMinNotional,
		DarkMinPrints:      a.cfg.Scan.DarkMinPrints,
	}
	if err := registry.Register(scan.NewFlowSurge(scanCfg, scorer, a.logger)); err != nil {
		return nil, fmt.Errorf("app: register scanner: %w", err)
	}
	if err := registry.Register(scan.NewDarkPoolAccum(scanCfg, scorer, a.logger)); err != nil {
		return nil, fmt.Errorf("app: register scanner: %w", err)
	}

	candidateCh := make(chan domain.EntryCandidate, 64)
	engine := scan.NewEngine(registry, candidateCh, deps.Enrichment, regimes, deps.SignalBus, a.logger)
	active := a.cfg.Scan.Scanners
	if len(active) == 0 {
		active = engine.ListNames()
	}
	if err := engine.SetActiveNames(active); err != nil {
		return nil, fmt.Errorf("app: activate scanners: %w", err)
	}
	g.Go(func() error { return engine.Run(ctx) })

	return &commonRuntime{
		scorer:      scorer,
		regimes:     regimes,
		engine:      engine,
		candidateCh: candidateCh,
		stream:      stream,
		cron:        c,
	}, nil
}

// seedWatchlist upserts configured watchlist symbols so the symbol table
// covers everything the poller sweeps. Failures are logged, not fatal: the
// pipeline can run with an incomplete reference table.
func (a *App) seedWatchlist(ctx context.Context, deps *Dependencies) {
	for _, symbol := range a.cfg.Watchlist {
		err := deps.SymbolStore.Upsert(ctx, domain.SymbolInfo{
			Symbol: symbol,
			Active: true,
		})
		if err != nil {
			a.logger.WarnContext(ctx, "seed watchlist symbol failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

// sampleGauges refreshes the gauges that read from live components rather
// than from an event: feed staleness, malformed stream frames, and the
// provider breaker state.
func (a *App) sampleGauges(ctx context.Context, deps *Dependencies, stream *flowalpha.Stream) error {
	ticker := time.NewTicker(metricsSampleInterval)
	defer ticker.Stop()

	breakerWasOpen := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		breakerOpen := deps.FlowClient.BreakerState() == "open"
		if breakerOpen {
			deps.Metrics.BreakerOpen.Set(1)
		} else {
			deps.Metrics.BreakerOpen.Set(0)
		}
		if breakerOpen && !breakerWasOpen {
			err := deps.Notifier.Notify(ctx, "feed_degraded", "Intel feed degraded",
				"Provider circuit breaker is open; scoring runs on cached intel until it recovers.")
			if err != nil {
				a.logger.WarnContext(ctx, "feed degraded alert failed", slog.String("error", err.Error()))
			}
		}
		breakerWasOpen = breakerOpen
		if stream != nil {
			deps.Metrics.StreamMalformed.Set(float64(stream.MalformedCount()))
		}

		// Staleness is the age of the oldest refreshed bundle across the
		// watchlist. Symbols the poller has not yet populated are skipped.
		now := time.Now().UTC()
		var maxAge float64
		for _, symbol := range a.cfg.Watchlist {
			bundle, err := deps.Enrichment.GetBundle(ctx, symbol)
			if err != nil || bundle.AsOf.IsZero() {
				continue
			}
			if age := now.Sub(bundle.AsOf).Seconds(); age > maxAge {
				maxAge = age
			}
		}
		deps.Metrics.FeedStaleness.Set(maxAge)
	}
}

// scheduleArchive registers the blob archive sweep. Both outcome rows and
// journal segments older than the retention window move to blob storage. A
// distributed lock keeps concurrent replicas from double-archiving.
func (a *App) scheduleArchive(c *cron.Cron, deps *Dependencies) error {
	archiver := deps.Archiver
	retention := time.Duration(a.cfg.S3.ArchiveRetentionDays) * 24 * time.Hour
	_, err := c.AddFunc(a.cfg.S3.ArchiveCron, func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		unlock, err := deps.LockManager.Acquire(jobCtx, "locks:archive", 10*time.Minute)
		if err != nil {
			a.logger.Warn("archive sweep skipped, lock not acquired", slog.String("error", err.Error()))
			return
		}
		defer unlock()
		before := time.Now().UTC().Add(-retention)
		if _, err := archiver.ArchiveOutcomes(jobCtx, before); err != nil {
			a.logger.Error("outcome archive failed", slog.String("error", err.Error()))
		}
		if _, err := archiver.ArchiveJournal(jobCtx, before); err != nil {
			a.logger.Error("journal archive failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("app: archive cron %q: %w", a.cfg.S3.ArchiveCron, err)
	}
	return nil
}

// startCron starts the scheduler and stops it when the context ends.
func (a *App) startCron(ctx context.Context, g *errgroup.Group, c *cron.Cron) {
	c.Start()
	g.Go(func() error {
		<-ctx.Done()
		<-c.Stop().Done()
		return ctx.Err()
	})
}

// startHTTPServer wires the ops API around the running services and adds the
// server and WebSocket hub goroutines to the group.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	rt *commonRuntime,
	positionSvc *service.PositionService,
	riskSvc *service.RiskService,
	learnerSvc *service.LearnerService,
) {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})
	g.Go(func() error { return hub.Run(ctx) })

	outcomeSvc := service.NewOutcomeService(deps.OutcomeStore, a.logger)

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, startedAt, rt.regimes, positionSvc, riskSvc, deps.FlowClient, a.logger),
		Positions: handler.NewPositionHandler(positionSvc, a.logger),
		Outcomes:  handler.NewOutcomeHandler(outcomeSvc, a.logger),
		Weights:   handler.NewWeightsHandler(deps.Weights, a.logger),
		Decisions: handler.NewDecisionHandler(deps.Journal, a.logger),
		Regime:    handler.NewRegimeHandler(rt.regimes, a.logger),
		Learner:   handler.NewLearnerHandler(learnerSvc, a.logger),
	}
	if deps.BlobReader != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.ApiKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, deps.Registry, a.logger)

	g.Go(func() error { return srv.Start() })
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// scoringConfig maps configuration onto the scoring engine's policy struct.
func (a *App) scoringConfig() scoring.Config {
	return scoring.Config{
		DecayMinutes:         a.cfg.Scoring.DecayMinutes,
		ToxicityThreshold:    a.cfg.Scoring.ToxicityThreshold,
		ToxicityWeight:       a.cfg.Scoring.ToxicityWeight,
		PersistenceBonus:     a.cfg.Scoring.PersistenceBonus,
		PersistenceMinStreak: a.cfg.Scoring.PersistenceMinStreak,
		BurstMinSweeps:       a.cfg.Scoring.BurstMinSweeps,
		BurstMinBlocks:       a.cfg.Scoring.BurstMinBlocks,
	}
}

func (a *App) exitsConfig() exits.Config {
	cfg := exits.DefaultConfig()
	cfg.SignalDecayWeight = a.cfg.Exits.SignalDecayWeight
	cfg.HealthyScoreRatio = a.cfg.Exits.HealthyScoreRatio
	cfg.FlowReversalWeight = a.cfg.Exits.FlowReversalWeight
	cfg.DrawdownVelocityWeight = a.cfg.Exits.DrawdownVelocityWeight
	cfg.DrawdownFullPctPerHour = a.cfg.Exits.DrawdownFullPctPerHour
	cfg.TimeDecayWeight = a.cfg.Exits.TimeDecayWeight
	cfg.GraceHours = a.cfg.Exits.GraceHours
	cfg.TimeSaturationHours = a.cfg.Exits.TimeSaturationHours
	cfg.MomentumReversalWeight = a.cfg.Exits.MomentumReversalWeight
	cfg.MomentumFullScale = a.cfg.Exits.MomentumFullScale
	cfg.LossLimitPct = a.cfg.Exits.LossLimitPct
	cfg.LossLimitUrgency = a.cfg.Exits.LossLimitUrgency
	cfg.ExitThreshold = a.cfg.Exits.ExitThreshold
	cfg.ReduceThreshold = a.cfg.Exits.ReduceThreshold
	return cfg
}

func (a *App) learnerConfig() learner.Config {
	return learner.Config{
		Alpha:              a.cfg.Learner.Alpha,
		MinSamples:         a.cfg.Learner.MinSamples,
		Step:               a.cfg.Learner.Step,
		WilsonZ:            a.cfg.Learner.WilsonZ,
		IncreaseLowerBound: a.cfg.Learner.IncreaseLowerBound,
		DecreaseUpperBound: a.cfg.Learner.DecreaseUpperBound,
		NeutralBandLow:     a.cfg.Learner.NeutralBandLow,
		NeutralBandHigh:    a.cfg.Learner.NeutralBandHigh,
		DecayFraction:      a.cfg.Learner.DecayFraction,
	}
}
