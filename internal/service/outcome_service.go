package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// OutcomeService serves realized trade outcomes to the ops API and the
// archiver. Outcomes are append-only; this service never mutates them.
type OutcomeService struct {
	outcomes domain.OutcomeStore
	logger   *slog.Logger
}

// NewOutcomeService creates an OutcomeService.
func NewOutcomeService(outcomes domain.OutcomeStore, logger *slog.Logger) *OutcomeService {
	return &OutcomeService{
		outcomes: outcomes,
		logger:   logger.With(slog.String("component", "outcome_service")),
	}
}

// ListRecent returns the most recently closed outcomes, newest first.
func (s *OutcomeService) ListRecent(ctx context.Context, limit int) ([]domain.TradeOutcome, error) {
	outcomes, err := s.outcomes.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("outcome_service: list recent: %w", err)
	}
	return outcomes, nil
}

// Stats summarizes the recent outcome population for the ops status surface.
type Stats struct {
	Count      int     `json:"count"`
	Wins       int     `json:"wins"`
	WinRate    float64 `json:"win_rate"`
	AvgPnLPct  float64 `json:"avg_pnl_pct"`
	BestPnLPct float64 `json:"best_pnl_pct"`
	WorstPnL   float64 `json:"worst_pnl_pct"`
}

// RecentStats computes win rate and P&L aggregates over the last limit
// outcomes.
func (s *OutcomeService) RecentStats(ctx context.Context, limit int) (Stats, error) {
	outcomes, err := s.outcomes.ListRecent(ctx, limit)
	if err != nil {
		return Stats{}, fmt.Errorf("outcome_service: stats: %w", err)
	}

	stats := Stats{Count: len(outcomes)}
	if len(outcomes) == 0 {
		return stats, nil
	}

	stats.BestPnLPct = outcomes[0].RealizedPnLPct
	stats.WorstPnL = outcomes[0].RealizedPnLPct
	var sum float64
	for _, o := range outcomes {
		if o.Win() {
			stats.Wins++
		}
		sum += o.RealizedPnLPct
		if o.RealizedPnLPct > stats.BestPnLPct {
			stats.BestPnLPct = o.RealizedPnLPct
		}
		if o.RealizedPnLPct < stats.WorstPnL {
			stats.WorstPnL = o.RealizedPnLPct
		}
	}
	stats.WinRate = float64(stats.Wins) / float64(len(outcomes))
	stats.AvgPnLPct = sum / float64(len(outcomes))
	return stats, nil
}

// ListBefore returns outcomes closed before the cutoff, oldest first. Used by
// the archiver to page aged rows out to blob storage.
func (s *OutcomeService) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.TradeOutcome, error) {
	outcomes, err := s.outcomes.ListBefore(ctx, before, limit)
	if err != nil {
		return nil, fmt.Errorf("outcome_service: list before %s: %w", before.Format(time.RFC3339), err)
	}
	return outcomes, nil
}

// DeleteBefore removes outcomes closed before the cutoff after they have been
// archived. Returns the number of rows removed.
func (s *OutcomeService) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.outcomes.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("outcome_service: delete before %s: %w", before.Format(time.RFC3339), err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "aged outcomes deleted", slog.Int64("rows", n))
	}
	return n, nil
}
