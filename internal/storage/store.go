package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"asmwatch/internal/config"
	"asmwatch/internal/model"
)

// Store mirrors the catalog into a relational database for operator
// queries. The GeoJSON history file stays the source of truth; mirror
// writes are idempotent on the (tile_id, date) dedup key.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveDetections(ctx context.Context, detections []model.Detection) error
	SaveRunSummary(ctx context.Context, summary RunSummary) error
}

type RunSummary struct {
	StartedAt    time.Time `json:"started_at"`
	Mode         string    `json:"mode"`
	Raw          int       `json:"raw"`
	Kept         int       `json:"kept"`
	Rejected     int       `json:"rejected"`
	Added        int       `json:"added"`
	Duplicates   int       `json:"duplicates"`
	HistoryTotal int       `json:"history_total"`
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
