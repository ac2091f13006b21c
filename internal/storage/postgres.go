package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"asmwatch/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/asmwatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS detections (
			id BIGSERIAL PRIMARY KEY,
			tile_id TEXT NOT NULL,
			date TEXT NOT NULL,
			lon DOUBLE PRECISION NOT NULL,
			lat DOUBLE PRECISION NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			district TEXT NOT NULL,
			region TEXT NOT NULL,
			area_ha DOUBLE PRECISION NOT NULL,
			alert_level TEXT NOT NULL,
			UNIQUE(tile_id, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_region ON detections(region)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_date ON detections(date)`,
		`CREATE TABLE IF NOT EXISTS run_summaries (
			id BIGSERIAL PRIMARY KEY,
			started_at TIMESTAMPTZ NOT NULL,
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

func (s *postgresStore) SaveDetections(ctx context.Context, detections []model.Detection) error {
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
		`INSERT INTO detections (tile_id, date, lon, lat, confidence, district, region, area_ha, alert_level)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tile_id, date) DO NOTHING`)
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

func (s *postgresStore) SaveRunSummary(ctx context.Context, summary RunSummary) error {
	if s.db == nil {
		return nil
	}
	started := summary.StartedAt
	if started.IsZero() {
		started = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_summaries (started_at, mode, raw, kept, rejected, added, duplicates, history_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
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
