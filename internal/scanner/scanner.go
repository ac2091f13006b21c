package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"asmwatch/internal/boundary"
	"asmwatch/internal/classify"
	"asmwatch/internal/model"
	"asmwatch/internal/raster"
)

type Options struct {
	WindowSize       int
	Stride           int
	Threshold        float64
	ReflectanceScale float64
	PixelSizeMeters  float64
	Workers          int
	// Date overrides the acquisition date attached to emitted detections.
	// Empty means derive it from the tile name, falling back to today.
	Date string
}

func (o *Options) normalize() error {
	if o.WindowSize <= 0 {
		return fmt.Errorf("window size must be > 0, got %d", o.WindowSize)
	}
	if o.Stride <= 0 {
		o.Stride = o.WindowSize
	}
	if o.ReflectanceScale <= 0 {
		o.ReflectanceScale = 10000
	}
	if o.PixelSizeMeters <= 0 {
		o.PixelSizeMeters = 10
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	return nil
}

type window struct {
	row, col int
}

// Scan slides a strided window over the raster, classifies each patch and
// emits one raw detection per window at or above the scan threshold.
// Windows that would cross the raster edge are dropped, not padded, so a
// trailing strip narrower than the window is never classified.
func Scan(ctx context.Context, r *raster.Raster, cls classify.Classifier, ix *boundary.Index, opts Options) ([]model.Detection, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if req, ok := cls.(interface{ RequiredBands() int }); ok {
		if need := req.RequiredBands(); need > r.Bands {
			return nil, fmt.Errorf("raster %s has %d bands, classifier reads band %d; check the configured band layout", r.TileID, r.Bands, need-1)
		}
	}

	var windows []window
	for row := 0; row+opts.WindowSize <= r.Height; row += opts.Stride {
		for col := 0; col+opts.WindowSize <= r.Width; col += opts.Stride {
			windows = append(windows, window{row: row, col: col})
		}
	}
	if len(windows) == 0 {
		return nil, nil
	}

	date := opts.Date
	if date == "" {
		date = time.Now().UTC().Format(model.DateFormat)
	}
	sideM := float64(opts.WindowSize) * opts.PixelSizeMeters
	areaHa := round(sideM*sideM/10000.0, 2)

	results := make([][]model.Detection, len(windows))
	classifyWindow := func(idx int) error {
		w := windows[idx]
		patch, err := r.Patch(w.row, w.col, opts.WindowSize)
		if err != nil {
			return err
		}
		if patch.Max() > 1 {
			patch.Rescale(opts.ReflectanceScale)
		}
		confidence, err := cls.Probability(patch)
		if err != nil {
			return fmt.Errorf("classify tile %s window (%d,%d): %w", r.TileID, w.row, w.col, err)
		}
		if confidence < opts.Threshold {
			return nil
		}
		cx := w.col + opts.WindowSize/2
		cy := w.row + opts.WindowSize/2
		lon, lat := r.Transform.Apply(float64(cx), float64(cy))
		pt := orb.Point{lon, lat}
		district, region := ix.Locate(pt)
		results[idx] = []model.Detection{{
			Point:      pt,
			Confidence: round(confidence, 4),
			District:   district,
			Region:     region,
			Date:       date,
			AreaHa:     areaHa,
			TileID:     r.TileID,
			AlertLevel: model.Classify(confidence),
		}}
		return nil
	}

	if opts.Workers > 1 {
		if err := runParallel(ctx, len(windows), opts.Workers, classifyWindow); err != nil {
			return nil, err
		}
	} else {
		for idx := range windows {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := classifyWindow(idx); err != nil {
				return nil, err
			}
		}
	}

	var out []model.Detection
	for _, dets := range results {
		out = append(out, dets...)
	}
	return out, nil
}

// runParallel fans window classification across workers. Output slots are
// indexed by window, so result order never depends on scheduling.
func runParallel(ctx context.Context, n, workers int, fn func(idx int) error) error {
	jobs := make(chan int, n)
	for idx := 0; idx < n; idx++ {
		jobs <- idx
	}
	close(jobs)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firstErr != nil
	}

	if workers > n {
		workers = n
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if failed() {
					return
				}
				if err := ctx.Err(); err != nil {
					fail(err)
					return
				}
				if err := fn(idx); err != nil {
					fail(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	return firstErr
}

// ScanFile scans one raster file. An unreadable raster is skipped with a
// warning and contributes zero detections; a classifier failure is fatal
// because it indicates a setup mismatch, not a data anomaly.
func ScanFile(ctx context.Context, path string, cls classify.Classifier, ix *boundary.Index, opts Options, logger *slog.Logger) ([]model.Detection, error) {
	r, err := raster.OpenGeoTIFF(path)
	if err != nil {
		if logger != nil {
			logger.Warn("skipping unreadable raster", "path", path, "err", err)
		}
		return nil, nil
	}
	if opts.Date == "" {
		if d, ok := DateFromTileName(r.TileID); ok {
			opts.Date = d
		} else {
			opts.Date = time.Now().UTC().Format(model.DateFormat)
			if logger != nil {
				logger.Warn("tile name carries no acquisition date, using run date", "tile_id", r.TileID, "date", opts.Date)
			}
		}
	}
	return Scan(ctx, r, cls, ix, opts)
}

// ScanDir scans every .tif in a directory in name order.
func ScanDir(ctx context.Context, dir string, cls classify.Classifier, ix *boundary.Index, opts Options, logger *slog.Logger) ([]model.Detection, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".tif" || ext == ".tiff" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		if logger != nil {
			logger.Warn("no rasters found", "dir", dir)
		}
		return nil, nil
	}

	var all []model.Detection
	for _, path := range paths {
		dets, err := ScanFile(ctx, path, cls, ix, opts, logger)
		if err != nil {
			return nil, err
		}
		if logger != nil {
			logger.Info("raster scanned", "path", path, "detections", len(dets))
		}
		all = append(all, dets...)
	}
	return all, nil
}

var tileDatePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// DateFromTileName pulls an ISO date out of an export-style tile name such
// as Ghana_Composite_2025-08-24-0000000000-0000000000.tif.
func DateFromTileName(name string) (string, bool) {
	m := tileDatePattern.FindString(name)
	if m == "" {
		return "", false
	}
	if _, err := time.Parse(model.DateFormat, m); err != nil {
		return "", false
	}
	return m, true
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
