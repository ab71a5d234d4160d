package weights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// fileFormatVersion guards the on-disk schema.
const fileFormatVersion = 1

// fileState is the persisted JSON document. Bands are keyed by the
// "factor|REGIME" form of WeightKey.
type fileState struct {
	Version int                          `json:"version"`
	SavedAt time.Time                    `json:"saved_at"`
	Bands   map[string]domain.WeightBand `json:"bands"`
}

// FileStore persists the weight-band table as a single JSON file. It
// self-heals on load: corrupt or unparseable state is renamed aside to
// <path>.corrupt.<timestamp> and an empty table returned, so a crash mid-write
// or a truncated disk can degrade scoring to base weights but never take the
// engine down.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore creates a file-backed weight store at the given path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger.With(slog.String("component", "weight_filestore")),
	}
}

// Load reads the band table. A missing file is a fresh start, not an error.
// Corrupt state is quarantined and an empty table returned; the only errors
// that propagate are I/O failures reading an apparently healthy file.
func (s *FileStore) Load(ctx context.Context) (map[domain.WeightKey]domain.WeightBand, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.InfoContext(ctx, "no weight state on disk, starting fresh", slog.String("path", s.path))
		return map[domain.WeightKey]domain.WeightBand{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("weights: read state file: %w", err)
	}

	bands, err := decodeState(data)
	if err != nil {
		s.quarantine(ctx, err)
		return map[domain.WeightKey]domain.WeightBand{}, nil
	}
	return bands, nil
}

// Save writes the band table atomically: marshal to a temp file in the same
// directory, fsync, then rename over the live path.
func (s *FileStore) Save(ctx context.Context, bands map[domain.WeightKey]domain.WeightBand) error {
	state := fileState{
		Version: fileFormatVersion,
		SavedAt: time.Now().UTC(),
		Bands:   make(map[string]domain.WeightBand, len(bands)),
	}
	for k, b := range bands {
		state.Bands[k.String()] = b
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("weights: marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("weights: create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("weights: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("weights: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("weights: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("weights: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("weights: replace state file: %w", err)
	}

	s.logger.DebugContext(ctx, "weight state saved",
		slog.String("path", s.path),
		slog.Int("bands", len(bands)))
	return nil
}

// quarantine renames the corrupt state file aside so the next Save starts
// clean while the bad bytes stay available for inspection.
func (s *FileStore) quarantine(ctx context.Context, cause error) {
	quarantined := fmt.Sprintf("%s.corrupt.%d", s.path, time.Now().UTC().Unix())
	renameErr := os.Rename(s.path, quarantined)

	s.logger.WarnContext(ctx, "weight state corrupt, quarantined and reset to defaults",
		slog.String("path", s.path),
		slog.String("quarantined_to", quarantined),
		slog.Any("error", errors.Join(cause, domain.ErrMalformedState)),
		slog.Bool("rename_ok", renameErr == nil))
}

// decodeState parses and validates the persisted document.
func decodeState(data []byte) (map[domain.WeightKey]domain.WeightBand, error) {
	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("weights: decode state: %w", err)
	}
	if state.Version != fileFormatVersion {
		return nil, fmt.Errorf("weights: unsupported state version %d", state.Version)
	}

	bands := make(map[domain.WeightKey]domain.WeightBand, len(state.Bands))
	for raw, band := range state.Bands {
		key, err := domain.ParseWeightKey(raw)
		if err != nil {
			return nil, fmt.Errorf("weights: state key %q: %w", raw, err)
		}
		if band.BaseWeight < 0 || band.SampleCount < 0 || band.Wins < 0 || band.Losses < 0 {
			return nil, fmt.Errorf("weights: state band %q has negative counters", raw)
		}
		band.ClampMultiplier()
		bands[key] = band
	}
	return bands, nil
}
