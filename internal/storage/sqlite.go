package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"asmwatch/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:asmwatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS detections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tile_id TEXT NOT NULL,
			date TEXT NOT NULL,
			lon REAL NOT NULL,
			lat REAL NOT NULL,
			confidence REAL NOT NULL,
			district TEXT NOT NULL,
			region TEXT NOT NULL,
			area_ha REAL NOT NULL,
			alert_level TEXT NOT NULL,
			UNIQUE(tile_id, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_region ON detections(region)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_date ON detections(date)`,
		`CREATE TABLE IF NOT EXISTS run_summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at TEXT NOT NULL,
			mode TEXT NOT NULL,
			raw INTEGER NOT NULL,
			kept INTEGER NOT NULL,
			rejected INTEGER NOT NULL,
			added INTEGER NOT NULL,
			duplicates INTEGER NOT NULL,
			history_total INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveDetections(ctx context.Context, detections []model.Detection) error {
	if s.db == nil || len(detections) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO detections (tile_id, date, lon, lat, confidence, district, region, area_ha, alert_level)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, d := range detections {
		if _, err := stmt.ExecContext(ctx,
			d.TileID,
			d.Date,
			d.Point[0],
			d.Point[1],
			d.Confidence,
			d.District,
			d.Region,
			d.AreaHa,
			string(d.AlertLevel),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) SaveRunSummary(ctx context.Context, summary RunSummary) error {
	if s.db == nil {
		return nil
	}
	started := summary.StartedAt
	if started.IsZero() {
		started = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_summaries (started_at, mode, raw, kept, rejected, added, duplicates, history_total)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		started.UTC(),
		summary.Mode,
		summary.Raw,
		summary.Kept,
		summary.Rejected,
		summary.Added,
		summary.Duplicates,
		summary.HistoryTotal,
	)
	return err
}
