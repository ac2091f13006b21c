package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/geojson"

	"asmwatch/internal/model"
)

// Merge folds validated detections into an existing history. Keys already
// present in the history, or seen earlier in the same batch, count as
// duplicates and are discarded; everything else is appended in input order.
// With overwrite set the existing history is ignored entirely.
func Merge(existing, incoming []model.Detection, overwrite bool) (merged, added []model.Detection, duplicates int) {
	if overwrite {
		existing = nil
	}
	seen := make(map[string]struct{}, len(existing))
	merged = make([]model.Detection, 0, len(existing)+len(incoming))
	for _, d := range existing {
		seen[d.Key()] = struct{}{}
		merged = append(merged, d)
	}
	for _, d := range incoming {
		key := d.Key()
		if _, dup := seen[key]; dup {
			duplicates++
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, d)
		added = append(added, d)
	}
	return merged, added, duplicates
}

// Store owns the persisted catalog file. It is the only writer; everything
// else reads the file or a derived mirror.
type Store struct {
	path   string
	logger *slog.Logger
}

func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logger}
}

func (s *Store) Path() string {
	return s.path
}

// Load reads the current history. A missing, corrupt or unparsable file is
// treated as an empty history with a warning: the pipeline stays available
// at the cost of one run's continuity.
func (s *Store) Load() []model.Detection {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) && s.logger != nil {
			s.logger.Warn("history unreadable, starting fresh", "path", s.path, "err", err)
		}
		return nil
	}
	dets, err := decodeCollection(data)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("history corrupt, starting fresh", "path", s.path, "err", err)
		}
		return nil
	}
	return dets
}

// Apply merges a validated batch into the persisted history and writes the
// result. Returns the appended detections, the duplicate count and the new
// total.
func (s *Store) Apply(incoming []model.Detection, overwrite bool) (added []model.Detection, duplicates, total int, err error) {
	existing := s.Load()
	merged, added, duplicates := Merge(existing, incoming, overwrite)
	if err := WriteFile(s.path, merged); err != nil {
		return nil, 0, 0, fmt.Errorf("persist history: %w", err)
	}
	return added, duplicates, len(merged), nil
}

// WriteFile persists detections as a GeoJSON FeatureCollection via a
// temp-file rename, so readers never observe a half-written catalog.
func WriteFile(path string, detections []model.Detection) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(model.Collection(detections), "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".history-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// ReadFile loads a detection FeatureCollection strictly, for callers whose
// input file is required to exist and parse.
func ReadFile(path string) ([]model.Detection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeCollection(data)
}

func decodeCollection(data []byte) ([]model.Detection, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, err
	}
	dets := make([]model.Detection, 0, len(fc.Features))
	for _, f := range fc.Features {
		if d, ok := model.DetectionFromFeature(f); ok {
			dets = append(dets, d)
		}
	}
	return dets, nil
}
