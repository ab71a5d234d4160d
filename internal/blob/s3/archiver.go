package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// archiveListLimit bounds one archival pass. The archiver runs daily; a pass
// that hits the limit simply leaves the remainder for the next run.
const archiveListLimit = 10000

// OutcomeArchiveStore is the slice of the outcome store the archiver needs:
// time-ranged reads plus the post-upload delete.
type OutcomeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.TradeOutcome, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// JournalSegments exposes the journal writer's closed day-segments.
type JournalSegments interface {
	ListSegmentsBefore(before time.Time) ([]string, error)
	RemoveSegment(path string) error
}

// ArchiveImpl implements domain.Archiver: aged trade outcomes and closed
// journal segments are serialized to JSONL and uploaded, then removed from
// hot storage. Each upload is recorded in the audit log so the move is
// traceable.
type ArchiveImpl struct {
	writer   domain.BlobWriter
	outcomes OutcomeArchiveStore
	segments JournalSegments
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewArchiver creates an ArchiveImpl. segments may be nil when the journal is
// disabled.
func NewArchiver(
	writer domain.BlobWriter,
	outcomes OutcomeArchiveStore,
	segments JournalSegments,
	audit domain.AuditStore,
	logger *slog.Logger,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:   writer,
		outcomes: outcomes,
		segments: segments,
		audit:    audit,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveOutcomes uploads outcomes closed before the cutoff to
// archive/outcomes/YYYY-MM.jsonl and deletes the uploaded rows. Deletion
// happens only after the upload succeeds.
func (a *ArchiveImpl) ArchiveOutcomes(ctx context.Context, before time.Time) (int64, error) {
	outcomes, err := a.outcomes.ListBefore(ctx, before, archiveListLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes query: %w", err)
	}
	if len(outcomes) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(outcomes)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes marshal: %w", err)
	}

	path := archivePath("outcomes", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes upload: %w", err)
	}

	// The cutoff for deletion is the newest archived row, not the requested
	// cutoff: when the list was truncated at the limit, rows beyond it must
	// survive until the next pass.
	deleteBefore := before
	if len(outcomes) == archiveListLimit {
		deleteBefore = outcomes[len(outcomes)-1].ClosedAt.Add(time.Nanosecond)
	}
	deleted, err := a.outcomes.DeleteBefore(ctx, deleteBefore)
	if err != nil {
		return int64(len(outcomes)), fmt.Errorf("s3blob: archive outcomes delete: %w", err)
	}

	count := int64(len(outcomes))
	a.auditLog(ctx, "archive.outcomes", map[string]any{
		"path":    path,
		"count":   count,
		"deleted": deleted,
		"before":  before.Format(time.RFC3339),
	})
	a.logger.InfoContext(ctx, "outcomes archived",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Int64("deleted", deleted),
	)
	return count, nil
}

// ArchiveJournal uploads closed journal segments older than the cutoff to
// archive/journal/<segment> and removes each local file after its upload
// succeeds. It returns the number of segments archived.
func (a *ArchiveImpl) ArchiveJournal(ctx context.Context, before time.Time) (int64, error) {
	if a.segments == nil {
		return 0, nil
	}
	paths, err := a.segments.ListSegmentsBefore(before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive journal list: %w", err)
	}

	var archived int64
	for _, local := range paths {
		if err := a.uploadSegment(ctx, local); err != nil {
			// Keep the local file; a partial pass retries next run.
			return archived, err
		}
		if err := a.segments.RemoveSegment(local); err != nil {
			return archived, fmt.Errorf("s3blob: remove segment %s: %w", local, err)
		}
		archived++
	}

	if archived > 0 {
		a.auditLog(ctx, "archive.journal", map[string]any{
			"segments": archived,
			"before":   before.Format(time.RFC3339),
		})
		a.logger.InfoContext(ctx, "journal segments archived", slog.Int64("segments", archived))
	}
	return archived, nil
}

func (a *ArchiveImpl) uploadSegment(ctx context.Context, local string) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("s3blob: open segment %s: %w", local, err)
	}
	defer f.Close()

	remote := "archive/journal/" + filepath.Base(local)
	if err := a.writer.Put(ctx, remote, f, "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: upload segment %s: %w", local, err)
	}
	return nil
}

func (a *ArchiveImpl) auditLog(ctx context.Context, event string, detail map[string]any) {
	if a.audit == nil {
		return
	}
	if err := a.audit.Log(ctx, event, detail); err != nil {
		a.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time, e.g. archive/outcomes/2026-08.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
