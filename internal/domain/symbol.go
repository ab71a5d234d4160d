package domain

import "time"

// SymbolInfo is a watchlist entry with the slow-moving reference data the
// engine needs per symbol (sector for outcome segmentation, average daily
// notional for normalizing dark-pool intensity).
type SymbolInfo struct {
	Symbol      string
	Name        string
	Sector      string
	AvgNotional float64 // trailing average daily traded notional, dollars
	Active      bool
	AddedAt     time.Time
	UpdatedAt   time.Time
}
