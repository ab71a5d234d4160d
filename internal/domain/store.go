package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists positions.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	UpdateMarks(ctx context.Context, id string, mark, highWater float64) error
	Reduce(ctx context.Context, id string, newSize float64) error
	Close(ctx context.Context, id string, exitPrice, realizedPnLPct float64, reason string) error
	GetOpen(ctx context.Context) ([]Position, error)
	GetByID(ctx context.Context, id string) (Position, error)
	ListHistory(ctx context.Context, opts ListOpts) ([]Position, error)
}

// OutcomeStore persists realized trade outcomes. Append-only: rows are never
// updated, only inserted, listed, and eventually archived away.
type OutcomeStore interface {
	Append(ctx context.Context, outcome TradeOutcome) error
	ListRecent(ctx context.Context, limit int) ([]TradeOutcome, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]TradeOutcome, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SymbolStore persists the watchlist and per-symbol reference data.
type SymbolStore interface {
	Upsert(ctx context.Context, info SymbolInfo) error
	GetBySymbol(ctx context.Context, symbol string) (SymbolInfo, error)
	ListActive(ctx context.Context) ([]SymbolInfo, error)
}

// WeightStore persists the learned weight-band table. Load must self-heal:
// corrupt or unparseable state is quarantined and an empty table returned,
// never an error the caller has to recover from scoring with.
type WeightStore interface {
	Load(ctx context.Context) (map[WeightKey]WeightBand, error)
	Save(ctx context.Context, bands map[WeightKey]WeightBand) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
