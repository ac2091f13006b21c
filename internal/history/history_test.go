package history

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"

	"asmwatch/internal/model"
)

func det(tileID, date string, confidence float64) model.Detection {
	return model.Detection{
		Point:      orb.Point{-2.0, 6.0},
		Confidence: confidence,
		District:   "Tarkwa-Nsuaem",
		Region:     "Western Region",
		Date:       date,
		AreaHa:     501.76,
		TileID:     tileID,
		AlertLevel: model.Classify(confidence),
	}
}

func TestMergeDeduplicatesAgainstHistoryAndBatch(t *testing.T) {
	existing := []model.Detection{det("tileA.tif", "2025-01-01", 0.9)}
	incoming := []model.Detection{
		det("tileA.tif", "2025-01-01", 0.9),
		det("tileA.tif", "2025-01-01", 0.7),
	}
	merged, added, duplicates := Merge(existing, incoming, false)
	if len(added) != 0 {
		t.Fatalf("expected 0 added, got %d", len(added))
	}
	if duplicates != 2 {
		t.Fatalf("expected 2 duplicates, got %d", duplicates)
	}
	if len(merged) != 1 {
		t.Fatalf("expected history of 1, got %d", len(merged))
	}
}

func TestMergeAppendsInInputOrder(t *testing.T) {
	existing := []model.Detection{det("tileA.tif", "2025-01-01", 0.9)}
	incoming := []model.Detection{
		det("tileB.tif", "2025-01-02", 0.6),
		det("tileC.tif", "2025-01-03", 0.4),
	}
	merged, added, duplicates := Merge(existing, incoming, false)
	if len(added) != 2 || duplicates != 0 {
		t.Fatalf("expected 2 added and 0 duplicates, got %d/%d", len(added), duplicates)
	}
	want := []string{"tileA.tif|2025-01-01", "tileB.tif|2025-01-02", "tileC.tif|2025-01-03"}
	for i, d := range merged {
		if d.Key() != want[i] {
			t.Fatalf("position %d: got %s want %s", i, d.Key(), want[i])
		}
	}
}

func TestMergeOverwriteDropsHistory(t *testing.T) {
	existing := []model.Detection{det("tileA.tif", "2025-01-01", 0.9)}
	incoming := []model.Detection{det("tileB.tif", "2025-01-02", 0.6)}
	merged, added, duplicates := Merge(existing, incoming, true)
	if len(merged) != 1 || len(added) != 1 || duplicates != 0 {
		t.Fatalf("overwrite merge wrong: %d merged, %d added, %d duplicates", len(merged), len(added), duplicates)
	}
	if merged[0].TileID != "tileB.tif" {
		t.Fatalf("expected only incoming tile, got %s", merged[0].TileID)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.geojson")
	store := NewStore(path, nil)
	batch := []model.Detection{
		det("tileA.tif", "2025-01-01", 0.9),
		det("tileB.tif", "2025-01-02", 0.6),
	}

	added, duplicates, total, err := store.Apply(batch, false)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if len(added) != 2 || duplicates != 0 || total != 2 {
		t.Fatalf("first apply: %d added %d duplicates %d total", len(added), duplicates, total)
	}

	added, duplicates, total, err = store.Apply(batch, false)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if len(added) != 0 || duplicates != 2 || total != 2 {
		t.Fatalf("second apply not a no-op: %d added %d duplicates %d total", len(added), duplicates, total)
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent.geojson"), nil)
	if got := store.Load(); len(got) != 0 {
		t.Fatalf("expected empty history, got %d", len(got))
	}
}

func TestLoadCorruptFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.geojson")
	if err := os.WriteFile(path, []byte("{this is not geojson"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	store := NewStore(path, nil)
	if got := store.Load(); len(got) != 0 {
		t.Fatalf("expected corrupt history treated as empty, got %d", len(got))
	}
	// A merge against the corrupt file still succeeds.
	added, _, total, err := store.Apply([]model.Detection{det("tileA.tif", "2025-01-01", 0.9)}, false)
	if err != nil {
		t.Fatalf("apply after corruption: %v", err)
	}
	if len(added) != 1 || total != 1 {
		t.Fatalf("expected fresh start, got %d added %d total", len(added), total)
	}
}

func TestWriteReadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "history.geojson")
	want := []model.Detection{
		det("tileA.tif", "2025-01-01", 0.9123),
		det("tileB.tif", "2025-01-02", 0.45),
	}
	if err := WriteFile(path, want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d detections, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("detection %d mismatch: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestAlertConsistencyAtRest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.geojson")
	store := NewStore(path, nil)
	batch := []model.Detection{
		det("tileA.tif", "2025-01-01", 0.81),
		det("tileB.tif", "2025-01-01", 0.80),
		det("tileC.tif", "2025-01-01", 0.51),
		det("tileD.tif", "2025-01-01", 0.50),
	}
	if _, _, _, err := store.Apply(batch, false); err != nil {
		t.Fatalf("apply: %v", err)
	}
	for _, d := range store.Load() {
		if d.AlertLevel != model.Classify(d.Confidence) {
			t.Fatalf("tile %s persisted with stale alert %s for confidence %v", d.TileID, d.AlertLevel, d.Confidence)
		}
	}
}
