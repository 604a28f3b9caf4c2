// Package sqlite persists analysis runs and their per-lap
// reconstruction metrics to a local SQLite database, so successive
// parameter experiments on the same session can be compared.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/trajectory.report/internal/config"
	"github.com/banshee-data/trajectory.report/internal/recon"
	"github.com/banshee-data/trajectory.report/internal/timeutil"
)

// AnalysisRun is one pipeline invocation over a session file.
type AnalysisRun struct {
	RunID      string
	SourceFile string
	Seed       int64
	ConfigJSON string
	CreatedAt  time.Time
}

// LapMetricRow is one reconstructor's accuracy on one lap and path.
type LapMetricRow struct {
	RunID         string
	Lap           int
	Path          string // "clean" or "noisy"
	Reconstructor string
	RMSE          float64
	MAE           float64
	MaxError      float64
	MatchedCount  int
	OutlierCount  int
	Duration      float64
	TotalDistance float64
}

// ResultStore manages persistence for analysis runs and lap metrics.
type ResultStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewResultStore wraps an open database handle. The caller owns the
// handle's lifecycle; run MigrateUp (or EnsureSchema in tests) before
// first use.
func NewResultStore(db *sql.DB) *ResultStore {
	return &ResultStore{db: db, clock: timeutil.RealClock{}}
}

// NewResultStoreWithClock is NewResultStore with an injected clock for
// deterministic created_at stamps in tests.
func NewResultStoreWithClock(db *sql.DB, clock timeutil.Clock) *ResultStore {
	return &ResultStore{db: db, clock: clock}
}

// EnsureSchema creates the tables directly, bypassing the migration
// machinery. Intended for tests and throwaway databases.
func (s *ResultStore) EnsureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS analysis_runs (
			run_id TEXT PRIMARY KEY,
			source_file TEXT NOT NULL,
			seed INTEGER NOT NULL,
			config_json TEXT NOT NULL,
			created_at_unix_nanos INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS lap_metrics (
			run_id TEXT NOT NULL,
			lap INTEGER NOT NULL,
			path TEXT NOT NULL,
			reconstructor TEXT NOT NULL,
			rmse REAL NOT NULL,
			mae REAL NOT NULL,
			max_error REAL NOT NULL,
			matched_count INTEGER NOT NULL,
			outlier_count INTEGER NOT NULL,
			duration REAL NOT NULL,
			total_distance REAL NOT NULL,
			PRIMARY KEY (run_id, lap, path, reconstructor),
			FOREIGN KEY (run_id) REFERENCES analysis_runs(run_id)
		);
	`)
	return err
}

// SaveRun inserts a new analysis run plus every lap metric derived
// from results, and returns the generated run ID.
func (s *ResultStore) SaveRun(sourceFile string, cfg *config.TuningConfig, results *recon.Results) (string, error) {
	runID := uuid.New().String()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO analysis_runs (run_id, source_file, seed, config_json, created_at_unix_nanos)
		VALUES (?, ?, ?, ?, ?)`,
		runID, sourceFile, cfg.GetRandomSeed(), string(cfgJSON), s.clock.Now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("insert analysis run: %w", err)
	}

	for _, lap := range results.Laps {
		lr := results.PerLap[lap]
		if err := insertPathMetrics(tx, runID, lr, recon.PathClean, &lr.Clean, lr.Outliers.Clean); err != nil {
			return "", err
		}
		if lr.Noisy != nil {
			if err := insertPathMetrics(tx, runID, lr, recon.PathNoisy, lr.Noisy, lr.Outliers.Noisy); err != nil {
				return "", err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit run: %w", err)
	}
	return runID, nil
}

func insertPathMetrics(tx *sql.Tx, runID string, lr *recon.LapResult, path string, pr *recon.PathResult, outliers int) error {
	for name, m := range pr.Metrics {
		_, err := tx.Exec(`
			INSERT INTO lap_metrics (
				run_id, lap, path, reconstructor,
				rmse, mae, max_error, matched_count,
				outlier_count, duration, total_distance
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, lr.Lap, path, name,
			m.RMSE, m.MAE, m.MaxError, m.Count,
			outliers, lr.Duration, lr.TotalDistance)
		if err != nil {
			return fmt.Errorf("insert lap %d %s/%s metrics: %w", lr.Lap, path, name, err)
		}
	}
	return nil
}

// GetRun fetches one analysis run by ID.
func (s *ResultStore) GetRun(runID string) (*AnalysisRun, error) {
	row := s.db.QueryRow(`
		SELECT run_id, source_file, seed, config_json, created_at_unix_nanos
		FROM analysis_runs WHERE run_id = ?`, runID)

	var run AnalysisRun
	var nanos int64
	if err := row.Scan(&run.RunID, &run.SourceFile, &run.Seed, &run.ConfigJSON, &nanos); err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	run.CreatedAt = time.Unix(0, nanos)
	return &run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *ResultStore) ListRuns(limit int) ([]*AnalysisRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT run_id, source_file, seed, config_json, created_at_unix_nanos
		FROM analysis_runs ORDER BY created_at_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*AnalysisRun
	for rows.Next() {
		var run AnalysisRun
		var nanos int64
		if err := rows.Scan(&run.RunID, &run.SourceFile, &run.Seed, &run.ConfigJSON, &nanos); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.CreatedAt = time.Unix(0, nanos)
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// LapMetrics returns the persisted metrics of one run ordered by lap,
// path and reconstructor.
func (s *ResultStore) LapMetrics(runID string) ([]*LapMetricRow, error) {
	rows, err := s.db.Query(`
		SELECT run_id, lap, path, reconstructor,
			rmse, mae, max_error, matched_count,
			outlier_count, duration, total_distance
		FROM lap_metrics WHERE run_id = ?
		ORDER BY lap, path, reconstructor`, runID)
	if err != nil {
		return nil, fmt.Errorf("query lap metrics: %w", err)
	}
	defer rows.Close()

	var out []*LapMetricRow
	for rows.Next() {
		var r LapMetricRow
		if err := rows.Scan(&r.RunID, &r.Lap, &r.Path, &r.Reconstructor,
			&r.RMSE, &r.MAE, &r.MaxError, &r.MatchedCount,
			&r.OutlierCount, &r.Duration, &r.TotalDistance); err != nil {
			return nil, fmt.Errorf("scan lap metric: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// BestReconstructor returns the reconstructor with the smallest RMSE
// for a run's lap and path.
func (s *ResultStore) BestReconstructor(runID string, lap int, path string) (string, float64, error) {
	row := s.db.QueryRow(`
		SELECT reconstructor, rmse FROM lap_metrics
		WHERE run_id = ? AND lap = ? AND path = ?
		ORDER BY rmse ASC LIMIT 1`, runID, lap, path)

	var name string
	var rmse float64
	if err := row.Scan(&name, &rmse); err != nil {
		return "", 0, fmt.Errorf("best reconstructor for run %s lap %d: %w", runID, lap, err)
	}
	return name, rmse, nil
}
