package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// RegimeStatus exposes the persisted regime classification.
type RegimeStatus interface {
	State(ctx context.Context) (domain.RegimeState, error)
}

// BookStatus exposes the open position book.
type BookStatus interface {
	GetOpen(ctx context.Context) ([]domain.Position, error)
}

// ExposureStatus exposes the marked notional of the book.
type ExposureStatus interface {
	Exposure(ctx context.Context) (float64, error)
}

// BreakerStatus exposes the intel provider circuit-breaker state.
type BreakerStatus interface {
	BreakerState() string
}

// StatusHandler serves the engine status snapshot for the ops dashboard.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	regimes   RegimeStatus
	book      BookStatus
	risk      ExposureStatus
	breaker   BreakerStatus
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler. breaker may be nil when the engine
// runs without a live intel connection.
func NewStatusHandler(mode string, startedAt time.Time, regimes RegimeStatus, book BookStatus, risk ExposureStatus, breaker BreakerStatus, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		startedAt: startedAt,
		regimes:   regimes,
		book:      book,
		risk:      risk,
		breaker:   breaker,
		logger:    logger,
	}
}

// GetStatus responds with mode, uptime, regime, book size, and breaker state.
// GET /api/v1/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}

	if state, err := h.regimes.State(ctx); err == nil {
		resp["regime"] = map[string]any{
			"regime":      state.Regime,
			"vol_index":   state.VolIndex,
			"index_trend": state.IndexTrend,
			"breadth":     state.Breadth,
			"as_of":       state.AsOf.Format(time.RFC3339),
		}
	} else {
		resp["regime"] = map[string]any{"regime": domain.RegimeNeutral, "stale": true}
	}

	open, err := h.book.GetOpen(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "handler: status book read failed",
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read position book")
		return
	}
	resp["open_positions"] = len(open)

	if exposure, err := h.risk.Exposure(ctx); err == nil {
		resp["exposure"] = exposure
	}

	if h.breaker != nil {
		resp["intel_breaker"] = h.breaker.BreakerState()
	}

	writeJSON(w, http.StatusOK, resp)
}
