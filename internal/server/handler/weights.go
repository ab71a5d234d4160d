package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/weights"
)

// WeightsHandler serves the learned weight-band table.
type WeightsHandler struct {
	table  *weights.Table
	logger *slog.Logger
}

// NewWeightsHandler creates a WeightsHandler over the live table.
func NewWeightsHandler(table *weights.Table, logger *slog.Logger) *WeightsHandler {
	return &WeightsHandler{table: table, logger: logger}
}

// GetWeights returns the weight bands, keyed "factor|REGIME". With ?regime=
// the response narrows to that regime, keyed by factor.
// GET /api/v1/weights?regime=RISK_ON
func (h *WeightsHandler) GetWeights(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("regime"); raw != "" {
		regime := domain.Regime(strings.ToUpper(strings.TrimSpace(raw)))
		if !regime.Valid() {
			writeError(w, http.StatusBadRequest, "unknown regime: "+raw)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"regime": regime,
			"bands":  h.table.Snapshot(regime),
		})
		return
	}

	all := h.table.All()
	bands := make(map[string]domain.WeightBand, len(all))
	for key, band := range all {
		bands[key.String()] = band
	}
	writeJSON(w, http.StatusOK, map[string]any{"bands": bands})
}
