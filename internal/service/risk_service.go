package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// RiskConfig holds the book-capacity and sizing limits enforced before an
// entry candidate may open a position.
type RiskConfig struct {
	MaxPositions      int
	MaxPerSymbol      int
	MaxSymbolNotional float64
}

// RiskService runs pre-entry checks against the position book. A full book
// is reported as domain.ErrBookFull so the caller can run the displacement
// gate; every other failure is a plain rejection.
type RiskService struct {
	positions domain.PositionStore
	cfg       RiskConfig
	logger    *slog.Logger
}

// NewRiskService creates a RiskService.
func NewRiskService(positions domain.PositionStore, cfg RiskConfig, logger *slog.Logger) *RiskService {
	return &RiskService{
		positions: positions,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "risk_service")),
	}
}

// CheckEntry validates an entry candidate against the configured limits.
//
// Checks performed, in order:
//  1. Structural validity (side, price, size)
//  2. Per-symbol position count
//  3. Per-symbol notional cap
//  4. Book capacity (reported as domain.ErrBookFull, checked last so a
//     same-symbol rejection wins over a displacement attempt)
func (s *RiskService) CheckEntry(ctx context.Context, cand domain.EntryCandidate) error {
	if !cand.Side.Valid() {
		return fmt.Errorf("risk: candidate %s has invalid side %q: %w",
			cand.ID, cand.Side, domain.ErrPolicyViolation)
	}
	if cand.RefPrice <= 0 {
		return fmt.Errorf("risk: candidate %s has non-positive ref price: %w",
			cand.ID, domain.ErrPolicyViolation)
	}
	if cand.Size <= 0 {
		return fmt.Errorf("risk: candidate %s has non-positive size: %w",
			cand.ID, domain.ErrPolicyViolation)
	}

	open, err := s.positions.GetOpen(ctx)
	if err != nil {
		return fmt.Errorf("risk: get open positions: %w", err)
	}

	inSymbol := 0
	for _, pos := range open {
		if pos.Symbol == cand.Symbol {
			inSymbol++
		}
	}
	if inSymbol >= s.cfg.MaxPerSymbol {
		s.logger.WarnContext(ctx, "per-symbol limit reached",
			slog.String("symbol", cand.Symbol),
			slog.Int("open", inSymbol),
			slog.Int("max", s.cfg.MaxPerSymbol),
		)
		return fmt.Errorf("risk: %d position(s) already open in %s (max %d)",
			inSymbol, cand.Symbol, s.cfg.MaxPerSymbol)
	}

	if notional := cand.RefPrice * cand.Size; notional > s.cfg.MaxSymbolNotional {
		s.logger.WarnContext(ctx, "notional cap exceeded",
			slog.String("symbol", cand.Symbol),
			slog.Float64("notional", notional),
			slog.Float64("max", s.cfg.MaxSymbolNotional),
		)
		return fmt.Errorf("risk: notional %.2f exceeds per-symbol cap %.2f",
			notional, s.cfg.MaxSymbolNotional)
	}

	if len(open) >= s.cfg.MaxPositions {
		return fmt.Errorf("risk: book at capacity (%d/%d): %w",
			len(open), s.cfg.MaxPositions, domain.ErrBookFull)
	}

	return nil
}

// Exposure returns the total marked notional across all open positions.
func (s *RiskService) Exposure(ctx context.Context) (float64, error) {
	open, err := s.positions.GetOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("risk: get open positions: %w", err)
	}
	var total float64
	for _, pos := range open {
		total += pos.MarkPrice * pos.Size
	}
	return total, nil
}
