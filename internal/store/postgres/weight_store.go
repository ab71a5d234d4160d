package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// WeightStore implements domain.WeightStore using PostgreSQL.
//
// Load self-heals: rows whose keys do not parse or whose counters are
// malformed are skipped with a warning instead of failing the whole table, so
// the engine always starts with whatever valid state survives.
type WeightStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewWeightStore creates a new WeightStore backed by the given connection pool.
func NewWeightStore(pool *pgxpool.Pool, logger *slog.Logger) *WeightStore {
	return &WeightStore{
		pool:   pool,
		logger: logger.With(slog.String("component", "weight_store")),
	}
}

// Load reads all persisted weight bands. Malformed rows are skipped, never
// fatal.
func (s *WeightStore) Load(ctx context.Context) (map[domain.WeightKey]domain.WeightBand, error) {
	const query = `
		SELECT key, base_weight, multiplier, wins, losses,
		       ewma_win_rate, ewma_pnl, sample_count, pinned, updated_at
		FROM weight_bands`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: load weight bands: %w", err)
	}
	defer rows.Close()

	bands := make(map[domain.WeightKey]domain.WeightBand)
	skipped := 0
	for rows.Next() {
		var rawKey string
		var b domain.WeightBand
		if err := rows.Scan(
			&rawKey, &b.BaseWeight, &b.Multiplier, &b.Wins, &b.Losses,
			&b.EWMAWinRate, &b.EWMAPnL, &b.SampleCount, &b.Pinned, &b.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan weight band: %w", err)
		}

		key, err := domain.ParseWeightKey(rawKey)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping malformed weight band key",
				slog.String("key", rawKey),
				slog.String("error", err.Error()))
			skipped++
			continue
		}
		if b.Wins < 0 || b.Losses < 0 || b.SampleCount < 0 {
			s.logger.WarnContext(ctx, "skipping weight band with negative counters",
				slog.String("key", rawKey))
			skipped++
			continue
		}

		b.ClampMultiplier()
		bands[key] = b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load weight bands rows: %w", err)
	}

	if skipped > 0 {
		s.logger.WarnContext(ctx, "weight table loaded with malformed rows skipped",
			slog.Int("loaded", len(bands)),
			slog.Int("skipped", skipped))
	}
	return bands, nil
}

// Save upserts the full weight table in a single transaction.
func (s *WeightStore) Save(ctx context.Context, bands map[domain.WeightKey]domain.WeightBand) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: save weight bands: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const query = `
		INSERT INTO weight_bands (
			key, base_weight, multiplier, wins, losses,
			ewma_win_rate, ewma_pnl, sample_count, pinned, updated_at, saved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (key) DO UPDATE SET
			base_weight   = EXCLUDED.base_weight,
			multiplier    = EXCLUDED.multiplier,
			wins          = EXCLUDED.wins,
			losses        = EXCLUDED.losses,
			ewma_win_rate = EXCLUDED.ewma_win_rate,
			ewma_pnl      = EXCLUDED.ewma_pnl,
			sample_count  = EXCLUDED.sample_count,
			pinned        = EXCLUDED.pinned,
			updated_at    = EXCLUDED.updated_at,
			saved_at      = NOW()`

	for key, b := range bands {
		updatedAt := b.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = time.Now().UTC()
		}
		if _, err := tx.Exec(ctx, query,
			key.String(), b.BaseWeight, b.Multiplier, b.Wins, b.Losses,
			b.EWMAWinRate, b.EWMAPnL, b.SampleCount, b.Pinned, updatedAt,
		); err != nil {
			return fmt.Errorf("postgres: save weight band %s: %w", key.String(), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: save weight bands: commit: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.WeightStore = (*WeightStore)(nil)
