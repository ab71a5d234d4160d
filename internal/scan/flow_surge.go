package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/scoring"
)

// FlowSurge emits an entry candidate when a symbol shows a directional
// options-flow surge: conviction and premium both above trigger levels, with
// a non-neutral read. The composite score still decides; the trigger only
// spares the engine from scoring quiet symbols on every refresh.
type FlowSurge struct {
	cfg    Config
	scorer *scoring.Engine
	logger *slog.Logger
}

// NewFlowSurge creates the flow-surge scanner.
func NewFlowSurge(cfg Config, scorer *scoring.Engine, logger *slog.Logger) *FlowSurge {
	return &FlowSurge{
		cfg:    cfg,
		scorer: scorer,
		logger: logger.With(slog.String("component", "scan_flow_surge")),
	}
}

// Name returns the scanner name.
func (fs *FlowSurge) Name() string { return "flow_surge" }

// Init is a no-op; the scanner holds no per-run state.
func (fs *FlowSurge) Init(ctx context.Context) error { return nil }

// Close is a no-op.
func (fs *FlowSurge) Close() error { return nil }

// OnIntelUpdate checks the surge trigger and scores the symbol when it fires.
func (fs *FlowSurge) OnIntelUpdate(ctx context.Context, update IntelUpdate) ([]domain.EntryCandidate, error) {
	bundle := update.Bundle

	dir := bundle.FlowSentiment.Direction()
	if dir == 0 {
		return nil, nil
	}
	if bundle.FlowConviction == nil || *bundle.FlowConviction < fs.cfg.SurgeMinConviction {
		return nil, nil
	}
	if bundle.PremiumNotional == nil || *bundle.PremiumNotional < fs.cfg.SurgeMinNotional {
		return nil, nil
	}

	result := fs.scorer.Score(bundle.Symbol, bundle, update.Regime, update.Intel, update.At)
	if result.Score < fs.cfg.EntryThreshold {
		return nil, nil
	}
	if bundle.Mark == nil || *bundle.Mark <= 0 {
		fs.logger.DebugContext(ctx, "surge without mark price, skipping",
			slog.String("symbol", bundle.Symbol))
		return nil, nil
	}

	side := domain.SideLong
	if dir < 0 {
		side = domain.SideShort
	}

	reason := fmt.Sprintf("flow_surge:conviction=%.2f:premium=%.0f:score=%.2f",
		*bundle.FlowConviction, *bundle.PremiumNotional, result.Score)

	return []domain.EntryCandidate{newCandidate(fs.Name(), side, result, *bundle.Mark, fs.cfg, reason, update.At)}, nil
}

// OnMarkUpdate is a no-op; the surge trigger reacts to intel refreshes only.
func (fs *FlowSurge) OnMarkUpdate(ctx context.Context, update MarkUpdate) ([]domain.EntryCandidate, error) {
	return nil, nil
}

// newCandidate builds an EntryCandidate from a scoring result.
func newCandidate(source string, side domain.Side, result domain.CompositeResult, refPrice float64, cfg Config, reason string, now time.Time) domain.EntryCandidate {
	return domain.EntryCandidate{
		ID:         uuid.NewString(),
		Source:     source,
		Symbol:     result.Symbol,
		Side:       side,
		Score:      result.Score,
		Components: result.CloneComponents(),
		Freshness:  result.Freshness,
		Regime:     result.Regime,
		RefPrice:   refPrice,
		Size:       cfg.DefaultSize,
		Reason:     reason,
		CreatedAt:  now,
		ExpiresAt:  now.Add(cfg.CandidateTTL),
	}
}

// Compile-time interface check.
var _ Scanner = (*FlowSurge)(nil)
