package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/service"
)

// OutcomeReader defines the methods the outcome handler requires.
type OutcomeReader interface {
	ListRecent(ctx context.Context, limit int) ([]domain.TradeOutcome, error)
	RecentStats(ctx context.Context, limit int) (service.Stats, error)
}

// OutcomeHandler serves realized trade outcomes and their aggregates.
type OutcomeHandler struct {
	outcomes OutcomeReader
	logger   *slog.Logger
}

// NewOutcomeHandler creates an OutcomeHandler.
func NewOutcomeHandler(outcomes OutcomeReader, logger *slog.Logger) *OutcomeHandler {
	return &OutcomeHandler{outcomes: outcomes, logger: logger}
}

// ListRecent returns the most recently closed outcomes, newest first.
// GET /api/v1/outcomes?limit=50
func (h *OutcomeHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	outcomes, err := h.outcomes.ListRecent(r.Context(), parseListOpts(r).Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list outcomes failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list outcomes")
		return
	}

	if outcomes == nil {
		outcomes = []domain.TradeOutcome{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"outcomes": outcomes})
}

// GetStats returns win-rate and P&L aggregates over the recent outcomes.
// GET /api/v1/outcomes/stats?limit=200
func (h *OutcomeHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	limit := parseListOpts(r).Limit
	if r.URL.Query().Get("limit") == "" {
		limit = 200
	}

	stats, err := h.outcomes.RecentStats(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: outcome stats failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to compute outcome stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
