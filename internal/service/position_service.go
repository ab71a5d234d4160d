package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/journal"
	"github.com/alanyoungcy/flowbot/internal/metrics"
)

// BusChannelPositions is the pub/sub channel carrying position lifecycle
// events for the ops WebSocket hub and any external listeners.
const BusChannelPositions = "positions"

// OutcomeSink receives each realized trade outcome as it is created.
// Satisfied by learner.Learner.
type OutcomeSink interface {
	RecordOutcome(outcome domain.TradeOutcome)
}

// PositionService manages the position book: opening from entry candidates,
// mark refreshes, partial reduces, and closes. A close is the only place a
// TradeOutcome is created; the outcome is persisted and journaled before the
// position row is marked closed, so attribution survives a crash mid-close.
type PositionService struct {
	positions domain.PositionStore
	outcomes  domain.OutcomeStore
	symbols   domain.SymbolStore
	bus       domain.SignalBus
	audit     domain.AuditStore
	jrnl      domain.Journal
	sink      OutcomeSink
	met       *metrics.Metrics
	logger    *slog.Logger
}

// NewPositionService creates a PositionService. sink and met may be nil.
func NewPositionService(
	positions domain.PositionStore,
	outcomes domain.OutcomeStore,
	symbols domain.SymbolStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	jrnl domain.Journal,
	sink OutcomeSink,
	met *metrics.Metrics,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		positions: positions,
		outcomes:  outcomes,
		symbols:   symbols,
		bus:       bus,
		audit:     audit,
		jrnl:      jrnl,
		sink:      sink,
		met:       met,
		logger:    logger.With(slog.String("component", "position_service")),
	}
}

// Open creates a position from an entry candidate. The candidate's score,
// components, freshness, and regime become the position's immutable entry
// snapshot. The sector is resolved from the watchlist when known.
func (s *PositionService) Open(ctx context.Context, cand domain.EntryCandidate) (domain.Position, error) {
	if !cand.Side.Valid() {
		return domain.Position{}, fmt.Errorf("position_service: candidate %s has invalid side %q: %w",
			cand.ID, cand.Side, domain.ErrPolicyViolation)
	}
	if cand.RefPrice <= 0 || cand.Size <= 0 {
		return domain.Position{}, fmt.Errorf("position_service: candidate %s has non-positive price or size: %w",
			cand.ID, domain.ErrPolicyViolation)
	}

	now := time.Now().UTC()
	sector := cand.Sector
	if sector == "" && s.symbols != nil {
		if info, err := s.symbols.GetBySymbol(ctx, cand.Symbol); err == nil {
			sector = info.Sector
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "sector lookup failed",
				slog.String("symbol", cand.Symbol),
				slog.String("error", err.Error()))
		}
	}

	components := make(map[string]float64, len(cand.Components))
	for k, v := range cand.Components {
		components[k] = v
	}

	pos := domain.Position{
		ID:              uuid.NewString(),
		Symbol:          cand.Symbol,
		Sector:          sector,
		Side:            cand.Side,
		Size:            cand.Size,
		EntryPrice:      cand.RefPrice,
		MarkPrice:       cand.RefPrice,
		HighWater:       cand.RefPrice,
		EntryScore:      cand.Score,
		EntryComponents: components,
		RegimeAtEntry:   cand.Regime,
		Source:          cand.Source,
		Status:          domain.PositionStatusOpen,
		OpenedAt:        now,
	}

	if err := s.positions.Create(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: create position: %w", err)
	}

	s.publishEvent(ctx, map[string]any{
		"event":       "position_opened",
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"side":        string(pos.Side),
		"entry_price": pos.EntryPrice,
		"size":        pos.Size,
		"score":       pos.EntryScore,
		"source":      pos.Source,
	})
	s.auditLog(ctx, "position_opened", map[string]any{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"side":        string(pos.Side),
		"entry_price": pos.EntryPrice,
		"size":        pos.Size,
		"score":       pos.EntryScore,
		"regime":      string(pos.RegimeAtEntry),
		"source":      pos.Source,
	})
	if s.met != nil {
		s.met.OpenPositions.Inc()
	}

	s.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("side", string(pos.Side)),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("score", pos.EntryScore),
	)
	return pos, nil
}

// UpdateMarks refreshes the position's mark and high-water prices. The entry
// snapshot is never touched.
func (s *PositionService) UpdateMarks(ctx context.Context, id string, mark, highWater float64) error {
	if err := s.positions.UpdateMarks(ctx, id, mark, highWater); err != nil {
		return fmt.Errorf("position_service: update marks %q: %w", id, err)
	}
	return nil
}

// Reduce shrinks the position by the given fraction (0 < fraction < 1) and
// returns the new size.
func (s *PositionService) Reduce(ctx context.Context, pos domain.Position, fraction float64, reason string) (float64, error) {
	if fraction <= 0 || fraction >= 1 {
		return 0, fmt.Errorf("position_service: reduce fraction %.2f out of range: %w",
			fraction, domain.ErrPolicyViolation)
	}
	newSize := pos.Size * (1 - fraction)
	if err := s.positions.Reduce(ctx, pos.ID, newSize); err != nil {
		return 0, fmt.Errorf("position_service: reduce %q: %w", pos.ID, err)
	}

	s.publishEvent(ctx, map[string]any{
		"event":       "position_reduced",
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"old_size":    pos.Size,
		"new_size":    newSize,
		"reason":      reason,
	})
	s.auditLog(ctx, "position_reduced", map[string]any{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"old_size":    pos.Size,
		"new_size":    newSize,
		"reason":      reason,
	})

	s.logger.InfoContext(ctx, "position reduced",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.Float64("new_size", newSize),
		slog.String("reason", reason),
	)
	return newSize, nil
}

// Close closes the position at the given exit price, creates its
// TradeOutcome, and feeds the outcome to the learner. The outcome is
// appended and journaled before the position row is closed.
func (s *PositionService) Close(ctx context.Context, id string, exitPrice, exitScore float64, reason string) error {
	pos, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("position_service: get position %q: %w", id, err)
	}
	if pos.Status != domain.PositionStatusOpen {
		return fmt.Errorf("position_service: position %q already closed: %w", id, domain.ErrPolicyViolation)
	}

	now := time.Now().UTC()
	realizedPnLPct := pos.UnrealizedPnLPct(exitPrice)

	outcome := domain.TradeOutcome{
		ID:              uuid.NewString(),
		PositionID:      pos.ID,
		Symbol:          pos.Symbol,
		Sector:          pos.Sector,
		Side:            pos.Side,
		Regime:          pos.RegimeAtEntry,
		EntryComponents: pos.EntryComponents,
		EntryScore:      pos.EntryScore,
		ExitScore:       exitScore,
		RealizedPnLPct:  realizedPnLPct,
		CloseReason:     reason,
		OpenedAt:        pos.OpenedAt,
		ClosedAt:        now,
	}

	// Attribution first: the outcome row and journal line must exist before
	// the position leaves the open book.
	if err := s.outcomes.Append(ctx, outcome); err != nil {
		return fmt.Errorf("position_service: append outcome for %q: %w", id, err)
	}
	if s.jrnl != nil {
		if err := s.jrnl.Record(ctx, journal.ExitRecord(outcome)); err != nil {
			s.logger.ErrorContext(ctx, "exit journal write failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()))
		}
	}

	if err := s.positions.Close(ctx, id, exitPrice, realizedPnLPct, reason); err != nil {
		return fmt.Errorf("position_service: close %q: %w", id, err)
	}

	if s.sink != nil {
		s.sink.RecordOutcome(outcome)
		if s.met != nil {
			s.met.LearnerOutcomes.Inc()
		}
	}

	s.publishEvent(ctx, map[string]any{
		"event":            "position_closed",
		"position_id":      pos.ID,
		"symbol":           pos.Symbol,
		"exit_price":       exitPrice,
		"realized_pnl_pct": realizedPnLPct,
		"close_reason":     reason,
	})
	s.auditLog(ctx, "position_closed", map[string]any{
		"position_id":      pos.ID,
		"symbol":           pos.Symbol,
		"exit_price":       exitPrice,
		"entry_price":      pos.EntryPrice,
		"realized_pnl_pct": realizedPnLPct,
		"close_reason":     reason,
		"outcome_id":       outcome.ID,
	})
	if s.met != nil {
		s.met.OpenPositions.Dec()
	}

	s.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("realized_pnl_pct", realizedPnLPct),
		slog.String("close_reason", reason),
	)
	return nil
}

// GetOpen returns all open positions.
func (s *PositionService) GetOpen(ctx context.Context) ([]domain.Position, error) {
	positions, err := s.positions.GetOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("position_service: get open: %w", err)
	}
	return positions, nil
}

// GetByID returns one position.
func (s *PositionService) GetByID(ctx context.Context, id string) (domain.Position, error) {
	pos, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: get %q: %w", id, err)
	}
	return pos, nil
}

// ListHistory returns closed positions with pagination.
func (s *PositionService) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	positions, err := s.positions.ListHistory(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: list history: %w", err)
	}
	return positions, nil
}

func (s *PositionService) publishEvent(ctx context.Context, event map[string]any) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, BusChannelPositions, payload); err != nil {
		s.logger.WarnContext(ctx, "position event publish failed",
			slog.String("error", err.Error()))
	}
}

func (s *PositionService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}
