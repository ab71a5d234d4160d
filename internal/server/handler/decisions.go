package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// JournalTail reads the most recent records from the attribution journal.
type JournalTail interface {
	Tail(limit int, types ...string) ([]domain.JournalRecord, error)
}

// DecisionHandler serves the journal tail so operators can see why the engine
// opened, reduced, closed, or rejected.
type DecisionHandler struct {
	tail   JournalTail
	logger *slog.Logger
}

// NewDecisionHandler creates a DecisionHandler.
func NewDecisionHandler(tail JournalTail, logger *slog.Logger) *DecisionHandler {
	return &DecisionHandler{tail: tail, logger: logger}
}

// ListRecent returns the newest journal records, newest first. The optional
// type parameter filters to one record type (entry, exit, decision,
// weight_update).
// GET /api/v1/decisions?limit=50&type=decision
func (h *DecisionHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var types []string
	if t := r.URL.Query().Get("type"); t != "" {
		types = append(types, t)
	}

	records, err := h.tail.Tail(opts.Limit, types...)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: journal tail failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}

	if records == nil {
		records = []domain.JournalRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}
