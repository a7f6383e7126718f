package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/abforge/abforge/internal/dataset"
)

// ErrNoRun means no dataset has been generated into this database yet.
var ErrNoRun = errors.New("no dataset run found")

type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    seed INTEGER NOT NULL,
    anchor INTEGER NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE TABLE IF NOT EXISTS experiment_info (
    experiment_id TEXT NOT NULL,
    variation TEXT NOT NULL,
    is_control INTEGER NOT NULL,
    PRIMARY KEY (experiment_id, variation)
);

CREATE TABLE IF NOT EXISTS attribution_windows (
    experiment_id TEXT NOT NULL,
    metric_id TEXT NOT NULL,
    attribution_window INTEGER NOT NULL,
    PRIMARY KEY (experiment_id, metric_id)
);

CREATE TABLE IF NOT EXISTS website_traffic (
    user_id INTEGER NOT NULL,
    visit_date INTEGER NOT NULL,
    path TEXT NOT NULL,
    PRIMARY KEY (user_id, visit_date, path)
);

CREATE INDEX IF NOT EXISTS idx_traffic_user ON website_traffic(user_id);

CREATE TABLE IF NOT EXISTS experiment_traffic (
    user_id INTEGER NOT NULL,
    first_joined_experiment INTEGER NOT NULL,
    path TEXT NOT NULL,
    experiment_id TEXT NOT NULL,
    variation TEXT NOT NULL,
    PRIMARY KEY (user_id, experiment_id)
);

CREATE INDEX IF NOT EXISTS idx_enrollment_experiment ON experiment_traffic(experiment_id);

CREATE TABLE IF NOT EXISTS conversion_events (
    user_id INTEGER NOT NULL,
    metric_id TEXT NOT NULL,
    conversion_date INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversion_user ON conversion_events(user_id);
`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveDataset wipes any previous run and inserts the new one in a single
// transaction. A failed run persists nothing.
func (s *SQLiteStore) SaveDataset(ctx context.Context, run RunInfo, ds *dataset.Dataset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"runs", "experiment_info", "attribution_windows", "website_traffic", "experiment_traffic", "conversion_events"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear table %s: %w", table, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, seed, anchor, created_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Seed, run.Anchor.Unix(), run.CreatedAt.Unix(),
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if err := s.insertTables(ctx, tx, ds); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dataset: %w", err)
	}
	return nil
}

func (s *SQLiteStore) insertTables(ctx context.Context, tx *sql.Tx, ds *dataset.Dataset) error {
	infoStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO experiment_info (experiment_id, variation, is_control) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare experiment_info insert: %w", err)
	}
	defer infoStmt.Close()
	for _, r := range ds.ExperimentInfo {
		if _, err := infoStmt.ExecContext(ctx, r.ExperimentID, r.Variation, boolToInt(r.IsControl)); err != nil {
			return fmt.Errorf("failed to insert experiment_info row: %w", err)
		}
	}

	windowStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO attribution_windows (experiment_id, metric_id, attribution_window) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare attribution_windows insert: %w", err)
	}
	defer windowStmt.Close()
	for _, r := range ds.AttributionWindows {
		if _, err := windowStmt.ExecContext(ctx, r.ExperimentID, r.MetricID, r.WindowDays); err != nil {
			return fmt.Errorf("failed to insert attribution_windows row: %w", err)
		}
	}

	trafficStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO website_traffic (user_id, visit_date, path) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare website_traffic insert: %w", err)
	}
	defer trafficStmt.Close()
	for _, r := range ds.WebsiteTraffic {
		if _, err := trafficStmt.ExecContext(ctx, r.UserID, r.VisitDate.Unix(), r.Path); err != nil {
			return fmt.Errorf("failed to insert website_traffic row: %w", err)
		}
	}

	enrollStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO experiment_traffic (user_id, first_joined_experiment, path, experiment_id, variation) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare experiment_traffic insert: %w", err)
	}
	defer enrollStmt.Close()
	for _, r := range ds.ExperimentTraffic {
		if _, err := enrollStmt.ExecContext(ctx, r.UserID, r.EnrolledAt.Unix(), r.Path, r.ExperimentID, r.Variation); err != nil {
			return fmt.Errorf("failed to insert experiment_traffic row: %w", err)
		}
	}

	convStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO conversion_events (user_id, metric_id, conversion_date) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare conversion_events insert: %w", err)
	}
	defer convStmt.Close()
	for _, r := range ds.ConversionEvents {
		if _, err := convStmt.ExecContext(ctx, r.UserID, r.MetricID, r.ConvertedAt.Unix()); err != nil {
			return fmt.Errorf("failed to insert conversion_events row: %w", err)
		}
	}

	return nil
}

func (s *SQLiteStore) LatestRun(ctx context.Context) (RunInfo, error) {
	var run RunInfo
	var anchor, created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, seed, anchor, created_at FROM runs ORDER BY created_at DESC LIMIT 1`,
	).Scan(&run.ID, &run.Seed, &anchor, &created)
	if err == sql.ErrNoRows {
		return RunInfo{}, ErrNoRun
	}
	if err != nil {
		return RunInfo{}, fmt.Errorf("failed to query runs: %w", err)
	}
	run.Anchor = time.Unix(anchor, 0).UTC()
	run.CreatedAt = time.Unix(created, 0).UTC()
	return run, nil
}

func (s *SQLiteStore) LoadDataset(ctx context.Context) (*dataset.Dataset, error) {
	info, err := s.LoadExperimentInfo(ctx)
	if err != nil {
		return nil, err
	}
	windows, err := s.LoadAttributionWindows(ctx)
	if err != nil {
		return nil, err
	}
	traffic, err := s.LoadWebsiteTraffic(ctx)
	if err != nil {
		return nil, err
	}
	enrollments, err := s.LoadExperimentTraffic(ctx)
	if err != nil {
		return nil, err
	}
	conversions, err := s.LoadConversionEvents(ctx)
	if err != nil {
		return nil, err
	}
	return &dataset.Dataset{
		ExperimentInfo:     info,
		AttributionWindows: windows,
		WebsiteTraffic:     traffic,
		ExperimentTraffic:  enrollments,
		ConversionEvents:   conversions,
	}, nil
}

func (s *SQLiteStore) LoadExperimentInfo(ctx context.Context) ([]dataset.VariationInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT experiment_id, variation, is_control FROM experiment_info ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query experiment_info: %w", err)
	}
	defer rows.Close()

	var out []dataset.VariationInfo
	for rows.Next() {
		var r dataset.VariationInfo
		var control int
		if err := rows.Scan(&r.ExperimentID, &r.Variation, &control); err != nil {
			return nil, fmt.Errorf("failed to scan experiment_info row: %w", err)
		}
		r.IsControl = control != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LoadAttributionWindows(ctx context.Context) ([]dataset.AttributionWindow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT experiment_id, metric_id, attribution_window FROM attribution_windows ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query attribution_windows: %w", err)
	}
	defer rows.Close()

	var out []dataset.AttributionWindow
	for rows.Next() {
		var r dataset.AttributionWindow
		if err := rows.Scan(&r.ExperimentID, &r.MetricID, &r.WindowDays); err != nil {
			return nil, fmt.Errorf("failed to scan attribution_windows row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LoadWebsiteTraffic(ctx context.Context) ([]dataset.TrafficEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, visit_date, path FROM website_traffic ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query website_traffic: %w", err)
	}
	defer rows.Close()

	var out []dataset.TrafficEvent
	for rows.Next() {
		var r dataset.TrafficEvent
		var ts int64
		if err := rows.Scan(&r.UserID, &ts, &r.Path); err != nil {
			return nil, fmt.Errorf("failed to scan website_traffic row: %w", err)
		}
		r.VisitDate = time.Unix(ts, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LoadExperimentTraffic(ctx context.Context) ([]dataset.EnrollmentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, first_joined_experiment, path, experiment_id, variation FROM experiment_traffic ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query experiment_traffic: %w", err)
	}
	defer rows.Close()

	var out []dataset.EnrollmentRecord
	for rows.Next() {
		var r dataset.EnrollmentRecord
		var ts int64
		if err := rows.Scan(&r.UserID, &ts, &r.Path, &r.ExperimentID, &r.Variation); err != nil {
			return nil, fmt.Errorf("failed to scan experiment_traffic row: %w", err)
		}
		r.EnrolledAt = time.Unix(ts, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LoadConversionEvents(ctx context.Context) ([]dataset.ConversionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, metric_id, conversion_date FROM conversion_events ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversion_events: %w", err)
	}
	defer rows.Close()

	var out []dataset.ConversionEvent
	for rows.Next() {
		var r dataset.ConversionEvent
		var ts int64
		if err := rows.Scan(&r.UserID, &r.MetricID, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan conversion_events row: %w", err)
		}
		r.ConvertedAt = time.Unix(ts, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// DB exposes the underlying connection for integration tests.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
