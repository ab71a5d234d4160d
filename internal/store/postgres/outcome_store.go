package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// OutcomeStore implements domain.OutcomeStore using PostgreSQL. Outcomes are
// append-only; the only delete path is the retention sweep after archival.
type OutcomeStore struct {
	pool *pgxpool.Pool
}

// NewOutcomeStore creates a new OutcomeStore backed by the given connection pool.
func NewOutcomeStore(pool *pgxpool.Pool) *OutcomeStore {
	return &OutcomeStore{pool: pool}
}

const outcomeSelectCols = `id, position_id, symbol, sector, side, regime,
	entry_components, entry_score, exit_score, realized_pnl_pct,
	close_reason, opened_at, closed_at`

// Append inserts a new trade outcome.
func (s *OutcomeStore) Append(ctx context.Context, o domain.TradeOutcome) error {
	componentsJSON, err := json.Marshal(o.EntryComponents)
	if err != nil {
		return fmt.Errorf("postgres: marshal outcome components %s: %w", o.ID, err)
	}

	const query = `
		INSERT INTO trade_outcomes (
			id, position_id, symbol, sector, side, regime,
			entry_components, entry_score, exit_score, realized_pnl_pct,
			close_reason, opened_at, closed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13
		)`

	_, err = s.pool.Exec(ctx, query,
		o.ID, o.PositionID, o.Symbol, o.Sector, string(o.Side), string(o.Regime),
		componentsJSON, o.EntryScore, o.ExitScore, o.RealizedPnLPct,
		o.CloseReason, o.OpenedAt, o.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append outcome %s: %w", o.ID, err)
	}
	return nil
}

func scanOutcomes(rows pgx.Rows) ([]domain.TradeOutcome, error) {
	var outcomes []domain.TradeOutcome
	for rows.Next() {
		var o domain.TradeOutcome
		var side, regime string
		var componentsJSON []byte

		if err := rows.Scan(
			&o.ID, &o.PositionID, &o.Symbol, &o.Sector, &side, &regime,
			&componentsJSON, &o.EntryScore, &o.ExitScore, &o.RealizedPnLPct,
			&o.CloseReason, &o.OpenedAt, &o.ClosedAt,
		); err != nil {
			return nil, err
		}
		o.Side = domain.Side(side)
		o.Regime = domain.Regime(regime)
		if len(componentsJSON) > 0 {
			if err := json.Unmarshal(componentsJSON, &o.EntryComponents); err != nil {
				return nil, fmt.Errorf("unmarshal outcome components %s: %w", o.ID, err)
			}
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// ListRecent returns the most recently closed outcomes, newest first.
func (s *OutcomeStore) ListRecent(ctx context.Context, limit int) ([]domain.TradeOutcome, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+outcomeSelectCols+` FROM trade_outcomes
		 ORDER BY closed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent outcomes: %w", err)
	}
	defer rows.Close()

	outcomes, err := scanOutcomes(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent outcomes: %w", err)
	}
	return outcomes, nil
}

// ListBefore returns outcomes closed strictly before the cutoff, oldest first.
// The archiver pages through this before DeleteBefore runs.
func (s *OutcomeStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.TradeOutcome, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+outcomeSelectCols+` FROM trade_outcomes
		 WHERE closed_at < $1
		 ORDER BY closed_at ASC LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outcomes before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	outcomes, err := scanOutcomes(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan outcomes before cutoff: %w", err)
	}
	return outcomes, nil
}

// DeleteBefore removes outcomes closed strictly before the cutoff and returns
// the number of rows deleted.
func (s *OutcomeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM trade_outcomes WHERE closed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete outcomes before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.OutcomeStore = (*OutcomeStore)(nil)
