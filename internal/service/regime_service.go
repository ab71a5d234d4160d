package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// RegimeConfig holds the classification bands and staleness bound.
type RegimeConfig struct {
	// VolRiskOff and VolPanic are the volatility-index levels separating
	// NEUTRAL from RISK_OFF and RISK_OFF from PANIC.
	VolRiskOff float64
	VolPanic   float64

	// TrendRiskOn is the index-over-moving-average percent at or above which
	// the regime reads RISK_ON, provided volatility is calm and breadth
	// confirms.
	TrendRiskOn float64

	// StaleAfter bounds how old a cached classification may be before
	// Current falls back to NEUTRAL.
	StaleAfter time.Duration
}

// MarketReader fetches the market-wide indicator snapshot. Satisfied by the
// intel provider client.
type MarketReader interface {
	Market(ctx context.Context) (MarketSnapshot, error)
}

// MarketSnapshot carries the indicator values the classifier reads.
type MarketSnapshot struct {
	AsOf       time.Time
	IndexTrend float64 // index vs. its moving average, percent
	VolIndex   float64
	Breadth    float64 // advancing share of the watchlist, [0,1]
}

// RegimeService classifies the market regime from volatility, trend, and
// breadth indicators, persists the classification, and serves it to the
// scoring pipeline with a NEUTRAL fallback when the cached state is stale.
type RegimeService struct {
	market MarketReader
	cache  domain.RegimeCache
	cfg    RegimeConfig
	logger *slog.Logger
}

// NewRegimeService creates a RegimeService.
func NewRegimeService(market MarketReader, cache domain.RegimeCache, cfg RegimeConfig, logger *slog.Logger) *RegimeService {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = time.Hour
	}
	return &RegimeService{
		market: market,
		cache:  cache,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "regime_service")),
	}
}

// Refresh fetches fresh indicators, classifies them, and persists the result.
// Called on a cron cadence.
func (s *RegimeService) Refresh(ctx context.Context) (domain.RegimeState, error) {
	snap, err := s.market.Market(ctx)
	if err != nil {
		return domain.RegimeState{}, fmt.Errorf("regime_service: fetch indicators: %w", err)
	}

	state := domain.RegimeState{
		Regime:     s.Classify(snap),
		IndexTrend: snap.IndexTrend,
		VolIndex:   snap.VolIndex,
		Breadth:    snap.Breadth,
		AsOf:       snap.AsOf,
	}
	if state.AsOf.IsZero() {
		state.AsOf = time.Now().UTC()
	}

	if err := s.cache.SetCurrent(ctx, state); err != nil {
		return domain.RegimeState{}, fmt.Errorf("regime_service: persist state: %w", err)
	}

	s.logger.InfoContext(ctx, "regime refreshed",
		slog.String("regime", string(state.Regime)),
		slog.Float64("vol_index", state.VolIndex),
		slog.Float64("index_trend", state.IndexTrend),
		slog.Float64("breadth", state.Breadth),
	)
	return state, nil
}

// Classify maps an indicator snapshot to a regime label. Volatility wins:
// panic and risk-off levels override any trend reading. Risk-on additionally
// requires breadth confirmation so a narrow rally does not flip the book
// long-biased.
func (s *RegimeService) Classify(snap MarketSnapshot) domain.Regime {
	switch {
	case snap.VolIndex >= s.cfg.VolPanic:
		return domain.RegimePanic
	case snap.VolIndex >= s.cfg.VolRiskOff:
		return domain.RegimeRiskOff
	case snap.IndexTrend >= s.cfg.TrendRiskOn && snap.Breadth >= 0.5:
		return domain.RegimeRiskOn
	default:
		return domain.RegimeNeutral
	}
}

// Current returns the persisted regime, falling back to NEUTRAL when nothing
// is cached or the cached state has gone stale. The fallback is deliberate:
// scoring must never block on regime availability.
func (s *RegimeService) Current(ctx context.Context) (domain.Regime, error) {
	state, err := s.cache.Current(ctx)
	if err != nil {
		s.logger.DebugContext(ctx, "no cached regime, defaulting to neutral",
			slog.String("error", err.Error()))
		return domain.RegimeNeutral, nil
	}
	if time.Since(state.AsOf) > s.cfg.StaleAfter {
		s.logger.WarnContext(ctx, "cached regime stale, defaulting to neutral",
			slog.Time("as_of", state.AsOf))
		return domain.RegimeNeutral, nil
	}
	return state.Regime, nil
}

// State returns the full persisted classification for the ops API.
func (s *RegimeService) State(ctx context.Context) (domain.RegimeState, error) {
	state, err := s.cache.Current(ctx)
	if err != nil {
		return domain.RegimeState{}, fmt.Errorf("regime_service: read state: %w", err)
	}
	return state, nil
}

// History returns recent regime transitions for the ops API.
func (s *RegimeService) History(ctx context.Context, limit int) ([]domain.RegimeState, error) {
	states, err := s.cache.History(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("regime_service: read history: %w", err)
	}
	return states, nil
}
