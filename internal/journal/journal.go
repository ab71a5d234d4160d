// Package journal implements the append-only JSONL attribution trail: one
// self-contained JSON record per line, day-segmented files, O_APPEND writes.
// Closed segments are immutable and feed the nightly archiver.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

const segmentExt = ".jsonl"

// Config controls where and how the journal writes.
type Config struct {
	// Dir is the segment directory.
	Dir string
	// Prefix names the segment files: <prefix>-2026-08-30.jsonl.
	Prefix string
	// FsyncEachWrite forces an fsync after every record. Durable but slow;
	// off by default since the OS flushes segments within seconds anyway.
	FsyncEachWrite bool
}

// DefaultConfig returns the journal defaults.
func DefaultConfig() Config {
	return Config{
		Dir:    "data/journal",
		Prefix: "journal",
	}
}

// Writer is the day-segmented JSONL journal. Safe for concurrent use.
type Writer struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	file    *os.File
	openDay string
}

// NewWriter creates the journal writer, creating the segment directory if
// needed. Files are opened lazily on first record.
func NewWriter(cfg Config, logger *slog.Logger) (*Writer, error) {
	if cfg.Dir == "" {
		cfg.Dir = DefaultConfig().Dir
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultConfig().Prefix
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}
	return &Writer{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "journal")),
	}, nil
}

// Record appends one record to the current day's segment. Missing ID and
// timestamp are filled in; the timestamp also selects the segment, so records
// carried across midnight land in the new day's file.
func (w *Writer) Record(ctx context.Context, rec domain.JournalRecord) error {
	if rec.Type == "" {
		return fmt.Errorf("journal: record without type: %w", domain.ErrPolicyViolation)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	rec.At = rec.At.UTC()

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("journal: marshal record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateLocked(rec.At); err != nil {
		return err
	}
	if _, err := w.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("journal: append record: %w", err)
	}
	if w.cfg.FsyncEachWrite {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("journal: fsync: %w", err)
		}
	}
	return nil
}

// ListSegmentsBefore returns the paths of closed segments whose day is
// strictly before the cutoff day, oldest first. The segment currently being
// written is never returned.
func (w *Writer) ListSegmentsBefore(before time.Time) ([]string, error) {
	cutoff := before.UTC().Format(time.DateOnly)

	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("journal: list segments: %w", err)
	}

	w.mu.Lock()
	openDay := w.openDay
	w.mu.Unlock()

	var out []string
	prefix := w.cfg.Prefix + "-"
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, segmentExt) {
			continue
		}
		day := strings.TrimSuffix(strings.TrimPrefix(name, prefix), segmentExt)
		if day >= cutoff || day == openDay {
			continue
		}
		out = append(out, filepath.Join(w.cfg.Dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// RemoveSegment deletes an archived segment. It refuses paths outside the
// journal directory.
func (w *Writer) RemoveSegment(path string) error {
	if filepath.Dir(path) != filepath.Clean(w.cfg.Dir) {
		return fmt.Errorf("journal: refusing to remove %s: outside journal dir", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("journal: remove segment: %w", err)
	}
	return nil
}

// Tail returns up to limit records from the newest segment, newest first.
// When types are given, only records of those types count. Malformed lines are
// skipped; a crashed writer may leave a torn final line and the tail should
// still serve.
func (w *Writer) Tail(limit int, types ...string) ([]domain.JournalRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	path, err := w.newestSegment()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return []domain.JournalRecord{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("journal: read segment: %w", err)
	}

	wantType := make(map[string]bool, len(types))
	for _, t := range types {
		wantType[t] = true
	}

	var records []domain.JournalRecord
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var rec domain.JournalRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			w.logger.Warn("skipping malformed journal line", slog.Any("error", err))
			continue
		}
		if len(wantType) > 0 && !wantType[rec.Type] {
			continue
		}
		records = append(records, rec)
	}

	if len(records) > limit {
		records = records[len(records)-limit:]
	}
	// Newest first.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// newestSegment returns the path of the most recent segment file, or "" when
// the journal is empty.
func (w *Writer) newestSegment() (string, error) {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return "", fmt.Errorf("journal: list segments: %w", err)
	}
	prefix := w.cfg.Prefix + "-"
	var newest string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, segmentExt) {
			continue
		}
		if name > newest {
			newest = name
		}
	}
	if newest == "" {
		return "", nil
	}
	return filepath.Join(w.cfg.Dir, newest), nil
}

// Close flushes and closes the open segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Sync()
	if closeErr := w.file.Close(); err == nil {
		err = closeErr
	}
	w.file = nil
	w.openDay = ""
	return err
}

// rotateLocked ensures the segment for the record's day is open. Caller holds
// the mutex.
func (w *Writer) rotateLocked(at time.Time) error {
	day := at.Format(time.DateOnly)
	if w.file != nil && day == w.openDay {
		return nil
	}
	if w.file != nil {
		if err := w.file.Sync(); err != nil {
			w.logger.Warn("sync on segment rotation failed", slog.Any("error", err))
		}
		if err := w.file.Close(); err != nil {
			w.logger.Warn("close on segment rotation failed", slog.Any("error", err))
		}
		w.file = nil
	}

	path := filepath.Join(w.cfg.Dir, w.cfg.Prefix+"-"+day+segmentExt)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open segment: %w", err)
	}
	w.file = f
	w.openDay = day
	w.logger.Info("journal segment opened", slog.String("path", path))
	return nil
}
