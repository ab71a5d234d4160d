package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, symbol, sector, side, size,
	entry_price, mark_price, high_water,
	entry_score, entry_components, regime_at_entry, source,
	status, opened_at, closed_at, exit_price, close_reason, realized_pnl_pct`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var side, status, regime string
	var componentsJSON []byte

	err := row.Scan(
		&p.ID, &p.Symbol, &p.Sector, &side, &p.Size,
		&p.EntryPrice, &p.MarkPrice, &p.HighWater,
		&p.EntryScore, &componentsJSON, &regime, &p.Source,
		&status, &p.OpenedAt, &p.ClosedAt, &p.ExitPrice, &p.CloseReason, &p.RealizedPnLPct,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	p.RegimeAtEntry = domain.Regime(regime)
	if len(componentsJSON) > 0 {
		if err := json.Unmarshal(componentsJSON, &p.EntryComponents); err != nil {
			return domain.Position{}, fmt.Errorf("unmarshal entry components: %w", err)
		}
	}
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position. The entry-time snapshot (score, components,
// regime) is written here and never updated afterwards.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	componentsJSON, err := json.Marshal(p.EntryComponents)
	if err != nil {
		return fmt.Errorf("postgres: marshal entry components %s: %w", p.ID, err)
	}

	const query = `
		INSERT INTO positions (
			id, symbol, sector, side, size,
			entry_price, mark_price, high_water,
			entry_score, entry_components, regime_at_entry, source,
			status, opened_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, NOW()
		)`

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.Symbol, p.Sector, string(p.Side), p.Size,
		p.EntryPrice, p.MarkPrice, p.HighWater,
		p.EntryScore, componentsJSON, string(p.RegimeAtEntry), p.Source,
		string(p.Status), p.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// UpdateMarks updates the latest mark and high-water prices of an open
// position. These are the only fields the reconciliation loop mutates.
func (s *PositionStore) UpdateMarks(ctx context.Context, id string, mark, highWater float64) error {
	const query = `
		UPDATE positions SET
			mark_price = $2,
			high_water = $3,
			updated_at = NOW()
		WHERE id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, id, mark, highWater)
	if err != nil {
		return fmt.Errorf("postgres: update marks %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Reduce sets a smaller size on an open position after a partial exit.
func (s *PositionStore) Reduce(ctx context.Context, id string, newSize float64) error {
	const query = `
		UPDATE positions SET
			size       = $2,
			updated_at = NOW()
		WHERE id = $1 AND status = 'open' AND size > $2`

	tag, err := s.pool.Exec(ctx, query, id, newSize)
	if err != nil {
		return fmt.Errorf("postgres: reduce position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Close marks a position as closed, recording the exit price, realized P&L
// and the close reason.
func (s *PositionStore) Close(ctx context.Context, id string, exitPrice, realizedPnLPct float64, reason string) error {
	const query = `
		UPDATE positions SET
			status           = 'closed',
			exit_price       = $2,
			realized_pnl_pct = $3,
			close_reason     = $4,
			closed_at        = NOW(),
			updated_at       = NOW()
		WHERE id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, id, exitPrice, realizedPnLPct, reason)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetOpen returns all open positions, oldest first so the reconciliation loop
// visits long-held positions before fresh ones.
func (s *PositionStore) GetOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'open'
		 ORDER BY opened_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: get open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListHistory returns positions with pagination and optional time filtering.
func (s *PositionStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan position history: %w", err)
	}
	return positions, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
