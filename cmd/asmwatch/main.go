package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"asmwatch/internal/api"
	"asmwatch/internal/boundary"
	"asmwatch/internal/classify"
	"asmwatch/internal/config"
	"asmwatch/internal/history"
	"asmwatch/internal/logging"
	"asmwatch/internal/publish"
	"asmwatch/internal/sample"
	"asmwatch/internal/scanner"
	"asmwatch/internal/storage"
	"asmwatch/internal/validate"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "scan":
		err = runScan(os.Args[2:])
	case "validate":
		err = runValidate(os.Args[2:])
	case "sample":
		err = runSample(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `asmwatch - artisanal mining detection catalog

Usage:
  asmwatch scan     [-config path]                    scan rasters into raw detections
  asmwatch validate [-config path] [-overwrite] [input] [output]
                                                      validate and merge into the catalog
  asmwatch sample   [-config path] [-n count] [-days n] [-seed n] [-out path]
                                                      write a synthetic catalog
  asmwatch serve    [-config path] [-addr addr]       serve the catalog read-only
`)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat("asmwatch.yaml"); err == nil {
		return config.Load("asmwatch.yaml")
	}
	return config.DefaultConfig(), nil
}

func runScan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file path")
	inputDir := fs.String("input", "", "raster input directory (overrides config)")
	out := fs.String("out", "", "raw detections output path (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(cfg.LogLevel)

	dir := cfg.Scan.InputDir
	if *inputDir != "" {
		dir = *inputDir
	}
	dir = config.ResolvePath(dir)
	rawPath := cfg.History.RawPath
	if *out != "" {
		rawPath = *out
	}
	rawPath = config.ResolvePath(rawPath)

	ix := boundary.LoadIndex(cfg.Boundaries.RegionsPath, cfg.Boundaries.DistrictsPath, cfg.Boundaries.NameProperty, logger)
	cls := classify.NewBareSoil(cfg.Scan.RedBand, cfg.Scan.NIRBand)
	opts := scanner.Options{
		WindowSize:       cfg.Scan.WindowSize,
		Stride:           cfg.Scan.Stride,
		Threshold:        cfg.Scan.Threshold,
		ReflectanceScale: cfg.Scan.ReflectanceScale,
		PixelSizeMeters:  cfg.Scan.PixelSizeMeters,
		Workers:          cfg.Scan.Workers,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	detections, err := scanner.ScanDir(ctx, dir, cls, ix, opts, logger)
	if err != nil {
		return err
	}
	if err := history.WriteFile(rawPath, detections); err != nil {
		return err
	}
	logger.Info("scan complete", "detections", len(detections), "threshold", cfg.Scan.Threshold, "out", rawPath)
	return nil
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file path")
	overwrite := fs.Bool("overwrite", false, "replace the catalog instead of merging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(cfg.LogLevel)

	inputPath := cfg.History.RawPath
	outputPath := cfg.History.Path
	if fs.NArg() > 0 {
		inputPath = fs.Arg(0)
	}
	if fs.NArg() > 1 {
		outputPath = fs.Arg(1)
	}
	inputPath = config.ResolvePath(inputPath)
	outputPath = config.ResolvePath(outputPath)

	startedAt := time.Now().UTC()
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	var fallback []validate.FallbackRule
	for _, rule := range cfg.Validate.RegionFallback {
		fallback = append(fallback, validate.FallbackRule{Match: rule.Match, Region: rule.Region})
	}
	validator := validate.New(fallback)

	kept, report, err := validator.Collection(data)
	if err != nil {
		return err
	}
	for _, rej := range report.Rejections {
		logger.Warn("feature rejected", "index", rej.Index, "reason", string(rej.Code), "detail", rej.Detail)
	}

	store := history.NewStore(outputPath, logger)
	added, duplicates, total, err := store.Apply(kept, *overwrite)
	if err != nil {
		return err
	}

	mode := "append"
	if *overwrite {
		mode = "overwrite"
	}
	logger.Info("merge complete",
		"mode", mode,
		"raw", report.Raw,
		"kept", report.Kept,
		"rejected", report.RejectionCounts(),
		"added", len(added),
		"duplicates", duplicates,
		"history_total", total,
		"fixes", report.Fixes,
		"alerts", report.Alerts,
	)
	for _, region := range report.SortedRegions() {
		logger.Info("region breakdown", "region", region, "count", report.Regions[region])
	}

	ctx := context.Background()
	if db, err := storage.NewStore(cfg.Storage); err != nil {
		logger.Warn("storage mirror unavailable", "err", err)
	} else if db != nil {
		defer db.Close()
		summary := storage.RunSummary{
			StartedAt:    startedAt,
			Mode:         mode,
			Raw:          report.Raw,
			Kept:         report.Kept,
			Rejected:     len(report.Rejections),
			Added:        len(added),
			Duplicates:   duplicates,
			HistoryTotal: total,
		}
		if err := mirrorCatalog(ctx, db, store, summary); err != nil {
			logger.Warn("storage mirror failed", "err", err)
		}
	}
	if pub := publish.NewKafka(cfg.Publish, logger); pub != nil {
		defer pub.Close()
		if err := pub.PublishDetections(ctx, added); err != nil {
			logger.Warn("detection publish failed", "err", err)
		}
	}
	return nil
}

func mirrorCatalog(ctx context.Context, db storage.Store, store *history.Store, summary storage.RunSummary) error {
	if err := db.Init(ctx); err != nil {
		return err
	}
	if err := db.SaveDetections(ctx, store.Load()); err != nil {
		return err
	}
	return db.SaveRunSummary(ctx, summary)
}

func runSample(args []string) error {
	fs := flag.NewFlagSet("sample", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file path")
	n := fs.Int("n", 45, "number of detections")
	days := fs.Int("days", 30, "spread detections over the last N days")
	seed := fs.Int64("seed", time.Now().UnixNano(), "random seed")
	out := fs.String("out", "", "output path (defaults to the catalog path)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(cfg.LogLevel)

	path := cfg.History.Path
	if *out != "" {
		path = *out
	}
	path = config.ResolvePath(path)
	detections := sample.Generate(sample.Options{Count: *n, DaysBack: *days, Seed: *seed})
	if err := history.WriteFile(path, detections); err != nil {
		return err
	}
	logger.Info("sample catalog written", "path", path, "detections", len(detections), "seed", *seed)
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file path")
	addr := fs.String("addr", "", "listen address (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(cfg.LogLevel)

	listen := cfg.API.Addr
	if *addr != "" {
		listen = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := history.NewStore(config.ResolvePath(cfg.History.Path), logger)
	server := api.Start(ctx, listen, store, logger, version)
	if server == nil {
		return fmt.Errorf("api disabled, nothing to serve")
	}
	<-ctx.Done()
	return nil
}
