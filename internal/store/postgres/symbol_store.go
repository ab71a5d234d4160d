package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// SymbolStore implements domain.SymbolStore using PostgreSQL.
type SymbolStore struct {
	pool *pgxpool.Pool
}

// NewSymbolStore creates a new SymbolStore backed by the given connection pool.
func NewSymbolStore(pool *pgxpool.Pool) *SymbolStore {
	return &SymbolStore{pool: pool}
}

// Upsert inserts a symbol or updates its reference data if it already exists.
// AddedAt is preserved on conflict.
func (s *SymbolStore) Upsert(ctx context.Context, info domain.SymbolInfo) error {
	const query = `
		INSERT INTO symbols (symbol, name, sector, avg_notional, active, added_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (symbol) DO UPDATE SET
			name         = EXCLUDED.name,
			sector       = EXCLUDED.sector,
			avg_notional = EXCLUDED.avg_notional,
			active       = EXCLUDED.active,
			updated_at   = NOW()`

	_, err := s.pool.Exec(ctx, query,
		info.Symbol, info.Name, info.Sector, info.AvgNotional, info.Active)
	if err != nil {
		return fmt.Errorf("postgres: upsert symbol %s: %w", info.Symbol, err)
	}
	return nil
}

// GetBySymbol retrieves a single symbol's reference data.
func (s *SymbolStore) GetBySymbol(ctx context.Context, symbol string) (domain.SymbolInfo, error) {
	const query = `
		SELECT symbol, name, sector, avg_notional, active, added_at, updated_at
		FROM symbols WHERE symbol = $1`

	var info domain.SymbolInfo
	err := s.pool.QueryRow(ctx, query, symbol).Scan(
		&info.Symbol, &info.Name, &info.Sector,
		&info.AvgNotional, &info.Active, &info.AddedAt, &info.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SymbolInfo{}, domain.ErrNotFound
		}
		return domain.SymbolInfo{}, fmt.Errorf("postgres: get symbol %s: %w", symbol, err)
	}
	return info, nil
}

// ListActive returns all active watchlist symbols in alphabetical order.
func (s *SymbolStore) ListActive(ctx context.Context) ([]domain.SymbolInfo, error) {
	const query = `
		SELECT symbol, name, sector, avg_notional, active, added_at, updated_at
		FROM symbols WHERE active ORDER BY symbol`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active symbols: %w", err)
	}
	defer rows.Close()

	var symbols []domain.SymbolInfo
	for rows.Next() {
		var info domain.SymbolInfo
		if err := rows.Scan(
			&info.Symbol, &info.Name, &info.Sector,
			&info.AvgNotional, &info.Active, &info.AddedAt, &info.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan symbol: %w", err)
		}
		symbols = append(symbols, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active symbols rows: %w", err)
	}
	return symbols, nil
}

// Compile-time interface check.
var _ domain.SymbolStore = (*SymbolStore)(nil)
