package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	Scan       ScanConfig       `json:"scan" yaml:"scan"`
	Boundaries BoundariesConfig `json:"boundaries" yaml:"boundaries"`
	Validate   ValidateConfig   `json:"validate" yaml:"validate"`
	History    HistoryConfig    `json:"history" yaml:"history"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Publish    PublishConfig    `json:"publish" yaml:"publish"`
	API        APIConfig        `json:"api" yaml:"api"`
}

type ScanConfig struct {
	InputDir         string  `json:"input_dir" yaml:"input_dir"`
	WindowSize       int     `json:"window_size" yaml:"window_size"`
	Stride           int     `json:"stride" yaml:"stride"`
	Bands            int     `json:"bands" yaml:"bands"`
	Threshold        float64 `json:"threshold" yaml:"threshold"`
	ReflectanceScale float64 `json:"reflectance_scale" yaml:"reflectance_scale"`
	PixelSizeMeters  float64 `json:"pixel_size_meters" yaml:"pixel_size_meters"`
	Workers          int     `json:"workers" yaml:"workers"`
	RedBand          int     `json:"red_band" yaml:"red_band"`
	NIRBand          int     `json:"nir_band" yaml:"nir_band"`
}

type BoundariesConfig struct {
	RegionsPath   string `json:"regions_path" yaml:"regions_path"`
	DistrictsPath string `json:"districts_path" yaml:"districts_path"`
	NameProperty  string `json:"name_property" yaml:"name_property"`
}

type ValidateConfig struct {
	RegionFallback []FallbackRule `json:"region_fallback" yaml:"region_fallback"`
}

// FallbackRule maps a district-name substring to a canonical region name.
// Rules are applied in order, first match wins.
type FallbackRule struct {
	Match  string `json:"match" yaml:"match"`
	Region string `json:"region" yaml:"region"`
}

type HistoryConfig struct {
	RawPath string `json:"raw_path" yaml:"raw_path"`
	Path    string `json:"path" yaml:"path"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type PublishConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type APIConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Scan: ScanConfig{
			InputDir:         "data/tif_input",
			WindowSize:       224,
			Stride:           224,
			// The TIFF reader decodes color imagery as three bands; input
			// composites are expected as (NIR, red, green).
			Bands:            3,
			Threshold:        0.3,
			ReflectanceScale: 10000,
			PixelSizeMeters:  10,
			Workers:          1,
			RedBand:          1,
			NIRBand:          0,
		},
		Boundaries: BoundariesConfig{
			RegionsPath:   "deployment/geoBoundaries-GHA-ADM1.geojson",
			DistrictsPath: "deployment/geoBoundaries-GHA-ADM2.geojson",
			NameProperty:  "shapeName",
		},
		History: HistoryConfig{
			RawPath: "asm_monitoring_results.geojson",
			Path:    "data/geojson/latest_detections.geojson",
		},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:asmwatch.db?_pragma=busy_timeout(5000)"},
		Publish: PublishConfig{Enabled: false},
		API:     APIConfig{Addr: ":8081"},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Scan.WindowSize <= 0 {
		cfg.Scan.WindowSize = 224
	}
	if cfg.Scan.Stride <= 0 {
		cfg.Scan.Stride = cfg.Scan.WindowSize
	}
	if cfg.Scan.Bands <= 0 {
		cfg.Scan.Bands = 3
	}
	if cfg.Scan.ReflectanceScale <= 0 {
		cfg.Scan.ReflectanceScale = 10000
	}
	if cfg.Scan.PixelSizeMeters <= 0 {
		cfg.Scan.PixelSizeMeters = 10
	}
	if cfg.Scan.Workers <= 0 {
		cfg.Scan.Workers = 1
	}
	if cfg.Boundaries.NameProperty == "" {
		cfg.Boundaries.NameProperty = "shapeName"
	}
	if cfg.History.RawPath == "" {
		cfg.History.RawPath = "asm_monitoring_results.geojson"
	}
	if cfg.History.Path == "" {
		cfg.History.Path = "data/geojson/latest_detections.geojson"
	}
}

func Validate(cfg *Config) error {
	if cfg.Scan.WindowSize <= 0 {
		return errors.New("scan.window_size must be > 0")
	}
	if cfg.Scan.Stride <= 0 {
		return errors.New("scan.stride must be > 0")
	}
	if cfg.Scan.Threshold < 0 || cfg.Scan.Threshold > 1 {
		return errors.New("scan.threshold must be within [0, 1]")
	}
	if cfg.Scan.RedBand < 0 || cfg.Scan.RedBand >= cfg.Scan.Bands {
		return fmt.Errorf("scan.red_band out of range for %d bands", cfg.Scan.Bands)
	}
	if cfg.Scan.NIRBand < 0 || cfg.Scan.NIRBand >= cfg.Scan.Bands {
		return fmt.Errorf("scan.nir_band out of range for %d bands", cfg.Scan.Bands)
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("storage.driver %q is not supported", cfg.Storage.Driver)
		}
	}
	if cfg.Publish.Enabled {
		if len(cfg.Publish.Brokers) == 0 || cfg.Publish.Topic == "" {
			return errors.New("publish requires brokers and topic")
		}
	}
	for i, rule := range cfg.Validate.RegionFallback {
		if strings.TrimSpace(rule.Match) == "" || strings.TrimSpace(rule.Region) == "" {
			return fmt.Errorf("validate.region_fallback[%d] requires match and region", i)
		}
	}
	return nil
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
