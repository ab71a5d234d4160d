package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// RegimeReader exposes regime classification history.
type RegimeReader interface {
	History(ctx context.Context, limit int) ([]domain.RegimeState, error)
}

// RegimeHandler serves regime transition history for the ops dashboard.
type RegimeHandler struct {
	regimes RegimeReader
	logger  *slog.Logger
}

// NewRegimeHandler creates a RegimeHandler.
func NewRegimeHandler(regimes RegimeReader, logger *slog.Logger) *RegimeHandler {
	return &RegimeHandler{regimes: regimes, logger: logger}
}

// ListHistory returns recent regime classifications, newest first.
// GET /api/v1/regime/history?limit=50
func (h *RegimeHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	states, err := h.regimes.History(r.Context(), parseListOpts(r).Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: regime history failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read regime history")
		return
	}

	if states == nil {
		states = []domain.RegimeState{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"history": states})
}
