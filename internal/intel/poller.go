// Package intel feeds the enrichment cache from the FlowAlpha provider, by
// periodic REST sweeps and by folding in streamed increments.
package intel

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/metrics"
	"github.com/alanyoungcy/flowbot/internal/platform/flowalpha"
)

// BusChannelIntel is the pub/sub channel bundle refreshes are announced on.
const BusChannelIntel = "intel:update"

// expandedEverySweeps is how many flow sweeps pass between expanded-intel
// fetches. The auxiliary feeds move on an hours scale, not minutes.
const expandedEverySweeps = 5

// streakConviction is the conviction level that sustains a high-conviction
// streak across refreshes.
const streakConviction = 0.7

// PollerConfig holds sweep pacing parameters.
type PollerConfig struct {
	Interval   time.Duration
	BatchSize  int
	RatePerSec float64
	RateBurst  int
}

// Poller periodically fetches flow, dark-pool, and tape summaries for the
// watchlist, merges them into FeatureBundles, and writes the enrichment and
// mark caches. Each refreshed symbol is announced on the intel bus channel.
type Poller struct {
	cfg     PollerConfig
	client  *flowalpha.Client
	cache   domain.EnrichmentCache
	marks   domain.MarkCache
	bus     domain.SignalBus
	limiter *rate.Limiter
	met     *metrics.Metrics
	logger  *slog.Logger

	symbols []string

	// streaks tracks consecutive high-conviction refreshes per symbol.
	streaks map[string]int
	sweeps  int
}

// NewPoller creates a Poller for the given watchlist.
func NewPoller(
	cfg PollerConfig,
	client *flowalpha.Client,
	cache domain.EnrichmentCache,
	marks domain.MarkCache,
	bus domain.SignalBus,
	met *metrics.Metrics,
	symbols []string,
	logger *slog.Logger,
) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 10
	}

	return &Poller{
		cfg:     cfg,
		client:  client,
		cache:   cache,
		marks:   marks,
		bus:     bus,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RateBurst),
		met:     met,
		logger:  logger.With(slog.String("component", "intel_poller")),
		symbols: symbols,
		streaks: make(map[string]int),
	}
}

// Run sweeps immediately and then on every tick until the context ends.
func (p *Poller) Run(ctx context.Context) error {
	p.sweep(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// sweep refreshes every watchlist symbol in batches.
func (p *Poller) sweep(ctx context.Context) {
	p.sweeps++
	fetchExpanded := p.sweeps%expandedEverySweeps == 1

	for start := 0; start < len(p.symbols); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(p.symbols) {
			end = len(p.symbols)
		}
		p.sweepBatch(ctx, p.symbols[start:end], fetchExpanded)

		if ctx.Err() != nil {
			return
		}
	}
}

func (p *Poller) sweepBatch(ctx context.Context, batch []string, fetchExpanded bool) {
	flows, err := p.fetchFlows(ctx, batch)
	if err != nil {
		p.met.IntelFetches.WithLabelValues("error").Inc()
		p.logger.WarnContext(ctx, "flow sweep failed",
			slog.Int("symbols", len(batch)),
			slog.String("error", err.Error()))
		return
	}

	darks := p.fetchDarkPool(ctx, batch)
	tapes := p.fetchTape(ctx, batch)

	refreshed := 0
	for _, flow := range flows {
		streak := p.advanceStreak(flow)
		bundle := flowalpha.ToBundle(flow, darks[flow.Symbol], tapes[flow.Symbol], &streak)

		if err := p.cache.SetBundle(ctx, bundle); err != nil {
			p.logger.WarnContext(ctx, "cache bundle failed",
				slog.String("symbol", flow.Symbol),
				slog.String("error", err.Error()))
			continue
		}
		if bundle.Mark != nil {
			if err := p.marks.SetMark(ctx, bundle.Symbol, *bundle.Mark, bundle.AsOf); err != nil {
				p.logger.WarnContext(ctx, "cache mark failed",
					slog.String("symbol", bundle.Symbol),
					slog.String("error", err.Error()))
			}
		}

		p.publishUpdate(ctx, bundle.Symbol, bundle.AsOf)
		refreshed++
	}

	if fetchExpanded {
		p.sweepExpanded(ctx, batch)
	}

	p.met.IntelFetches.WithLabelValues("ok").Inc()
	p.logger.DebugContext(ctx, "sweep batch complete",
		slog.Int("symbols", len(batch)),
		slog.Int("refreshed", refreshed))
}

func (p *Poller) fetchFlows(ctx context.Context, batch []string) ([]flowalpha.FlowSnapshot, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.client.FlowSnapshots(ctx, batch)
}

// fetchDarkPool returns the batch's dark-pool summaries indexed by symbol.
// Failures degrade to an empty map; flow-only bundles are still useful.
func (p *Poller) fetchDarkPool(ctx context.Context, batch []string) map[string]*flowalpha.DarkPoolSummary {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil
	}
	summaries, err := p.client.DarkPoolSummaries(ctx, batch)
	if err != nil {
		p.logger.WarnContext(ctx, "darkpool sweep failed", slog.String("error", err.Error()))
		return nil
	}

	out := make(map[string]*flowalpha.DarkPoolSummary, len(summaries))
	for i := range summaries {
		out[summaries[i].Symbol] = &summaries[i]
	}
	return out
}

func (p *Poller) fetchTape(ctx context.Context, batch []string) map[string]*flowalpha.TapeSummary {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil
	}
	tapes, err := p.client.TapeSummaries(ctx, batch)
	if err != nil {
		p.logger.WarnContext(ctx, "tape sweep failed", slog.String("error", err.Error()))
		return nil
	}

	out := make(map[string]*flowalpha.TapeSummary, len(tapes))
	for i := range tapes {
		out[tapes[i].Symbol] = &tapes[i]
	}
	return out
}

func (p *Poller) sweepExpanded(ctx context.Context, batch []string) {
	if err := p.limiter.Wait(ctx); err != nil {
		return
	}
	snapshots, err := p.client.IntelSnapshots(ctx, batch)
	if err != nil {
		p.logger.WarnContext(ctx, "expanded intel sweep failed", slog.String("error", err.Error()))
		return
	}

	for _, snap := range snapshots {
		if err := p.cache.SetExpandedIntel(ctx, flowalpha.ToExpandedIntel(snap)); err != nil {
			p.logger.WarnContext(ctx, "cache expanded intel failed",
				slog.String("symbol", snap.Symbol),
				slog.String("error", err.Error()))
		}
	}
}

// advanceStreak updates and returns the symbol's high-conviction streak.
func (p *Poller) advanceStreak(flow flowalpha.FlowSnapshot) int {
	if flow.Conviction != nil && *flow.Conviction >= streakConviction {
		p.streaks[flow.Symbol]++
	} else {
		p.streaks[flow.Symbol] = 0
	}
	return p.streaks[flow.Symbol]
}

// UpdateEvent is the payload published on BusChannelIntel.
type UpdateEvent struct {
	Symbol string    `json:"symbol"`
	AsOf   time.Time `json:"as_of"`
	Source string    `json:"source"` // poll | stream
}

func (p *Poller) publishUpdate(ctx context.Context, symbol string, asOf time.Time) {
	payload, err := json.Marshal(UpdateEvent{Symbol: symbol, AsOf: asOf.UTC(), Source: "poll"})
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, BusChannelIntel, payload); err != nil {
		p.logger.WarnContext(ctx, "publish intel update failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()))
	}
}
