package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// archiveMonthPattern validates the {month} path segment (YYYY-MM).
var archiveMonthPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// ArchiveHandler serves read access to archived blobs. Registered only when
// blob storage is configured.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler over the given blob reader.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: logger}
}

// List returns metadata for archived objects.
// GET /api/v1/archive
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	infos, err := h.blobs.List(r.Context(), "archive/")
	if err != nil {
		logHandler(h.logger, "archive").Error("list archive failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list archive")
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": infos})
}

// GetOutcomes streams one archived outcome segment as NDJSON.
// GET /api/v1/archive/outcomes/{month}
func (h *ArchiveHandler) GetOutcomes(w http.ResponseWriter, r *http.Request) {
	month := pathParam(r, "month")
	if !archiveMonthPattern.MatchString(month) {
		writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
		return
	}

	body, err := h.blobs.Get(r.Context(), "archive/outcomes/"+month+".jsonl")
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no archive for "+month)
			return
		}
		logHandler(h.logger, "archive").Error("get archive failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to fetch archive")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		logHandler(h.logger, "archive").Warn("stream archive interrupted", slog.String("error", err.Error()))
	}
}
