package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/flowbot/internal/learner"
)

// LearnerRunner triggers a weight-update pass and reports learner state.
type LearnerRunner interface {
	RunUpdate(ctx context.Context) (learner.UpdateResult, error)
	OutcomeCount() int
}

// LearnerHandler serves the manual learner trigger for the ops API. The
// scheduled pass uses the same runner, so a manual run leaves the same
// journal and audit trail.
type LearnerHandler struct {
	runner LearnerRunner
	logger *slog.Logger
}

// NewLearnerHandler creates a LearnerHandler.
func NewLearnerHandler(runner LearnerRunner, logger *slog.Logger) *LearnerHandler {
	return &LearnerHandler{runner: runner, logger: logger}
}

// TriggerUpdate runs one weight-update pass and returns its summary.
// POST /api/v1/learner/update
func (h *LearnerHandler) TriggerUpdate(w http.ResponseWriter, r *http.Request) {
	res, err := h.runner.RunUpdate(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: manual weight update failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "weight update failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"adjusted":             res.AdjustedCount,
		"adjustments":          res.Adjustments,
		"skipped_insufficient": res.SkippedInsufficient,
		"skipped_no_new_data":  res.SkippedNoNewData,
		"outcomes_recorded":    h.runner.OutcomeCount(),
	})
}
