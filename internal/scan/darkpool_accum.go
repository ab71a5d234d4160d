package scan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/scoring"
)

// darkAccumMinStreak is how many consecutive qualifying refreshes a symbol
// needs before the accumulation trigger fires. One big print is noise;
// sustained prints are a campaign.
const darkAccumMinStreak = 2

// DarkPoolAccum emits an entry candidate when a symbol shows sustained
// directional dark-pool activity: notional and print-count thresholds held
// across consecutive refreshes.
type DarkPoolAccum struct {
	cfg    Config
	scorer *scoring.Engine
	logger *slog.Logger

	mu      sync.Mutex
	streaks map[string]int
	lastDir map[string]float64
}

// NewDarkPoolAccum creates the dark-pool accumulation scanner.
func NewDarkPoolAccum(cfg Config, scorer *scoring.Engine, logger *slog.Logger) *DarkPoolAccum {
	return &DarkPoolAccum{
		cfg:     cfg,
		scorer:  scorer,
		logger:  logger.With(slog.String("component", "scan_darkpool_accum")),
		streaks: make(map[string]int),
		lastDir: make(map[string]float64),
	}
}

// Name returns the scanner name.
func (da *DarkPoolAccum) Name() string { return "darkpool_accumulation" }

// Init is a no-op.
func (da *DarkPoolAccum) Init(ctx context.Context) error { return nil }

// Close is a no-op.
func (da *DarkPoolAccum) Close() error { return nil }

// OnIntelUpdate advances the per-symbol accumulation streak and scores the
// symbol once the pattern is sustained.
func (da *DarkPoolAccum) OnIntelUpdate(ctx context.Context, update IntelUpdate) ([]domain.EntryCandidate, error) {
	bundle := update.Bundle

	streak := da.advance(bundle)
	if streak < darkAccumMinStreak {
		return nil, nil
	}

	result := da.scorer.Score(bundle.Symbol, bundle, update.Regime, update.Intel, update.At)
	if result.Score < da.cfg.EntryThreshold {
		return nil, nil
	}
	if bundle.Mark == nil || *bundle.Mark <= 0 {
		da.logger.DebugContext(ctx, "accumulation without mark price, skipping",
			slog.String("symbol", bundle.Symbol))
		return nil, nil
	}

	side := domain.SideLong
	if bundle.DarkPoolSentiment.Direction() < 0 {
		side = domain.SideShort
	}

	reason := fmt.Sprintf("darkpool_accum:streak=%d:notional=%.0f:prints=%d:score=%.2f",
		streak, *bundle.DarkPoolNotional, *bundle.DarkPoolPrints, result.Score)

	return []domain.EntryCandidate{newCandidate(da.Name(), side, result, *bundle.Mark, da.cfg, reason, update.At)}, nil
}

// OnMarkUpdate is a no-op; accumulation reacts to intel refreshes only.
func (da *DarkPoolAccum) OnMarkUpdate(ctx context.Context, update MarkUpdate) ([]domain.EntryCandidate, error) {
	return nil, nil
}

// advance updates and returns the symbol's qualifying streak. A refresh
// qualifies when the dark-pool read is directional, the notional and print
// thresholds are met, and the direction matches the previous refresh.
func (da *DarkPoolAccum) advance(bundle domain.FeatureBundle) int {
	da.mu.Lock()
	defer da.mu.Unlock()

	dir := bundle.DarkPoolSentiment.Direction()
	qualifies := dir != 0 &&
		bundle.DarkPoolNotional != nil && *bundle.DarkPoolNotional >= da.cfg.DarkMinNotional &&
		bundle.DarkPoolPrints != nil && *bundle.DarkPoolPrints >= da.cfg.DarkMinPrints

	if !qualifies || dir != da.lastDir[bundle.Symbol] {
		if qualifies {
			da.streaks[bundle.Symbol] = 1
		} else {
			da.streaks[bundle.Symbol] = 0
		}
		da.lastDir[bundle.Symbol] = dir
		return da.streaks[bundle.Symbol]
	}

	da.streaks[bundle.Symbol]++
	return da.streaks[bundle.Symbol]
}

// Compile-time interface check.
var _ Scanner = (*DarkPoolAccum)(nil)
