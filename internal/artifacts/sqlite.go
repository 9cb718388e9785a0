package artifacts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/prsentry/prsentry/internal/models"
)

// SQLiteStore implements Store on a local SQLite database, for teams that
// want a queryable audit index instead of raw files.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite-backed artifact store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}

	// WAL for concurrent stage writers within one process
	db.Exec("PRAGMA journal_mode = WAL")
	db.Exec("PRAGMA foreign_keys = ON")

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stage_results (
		run_id TEXT NOT NULL,
		batch_index INTEGER NOT NULL,
		stage_name TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		verdict TEXT NOT NULL,
		findings TEXT,
		raw TEXT,
		error TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		PRIMARY KEY (run_id, batch_index, stage_name, attempt)
	);

	CREATE TABLE IF NOT EXISTS fix_results (
		run_id TEXT NOT NULL,
		batch_index INTEGER NOT NULL,
		attempt INTEGER NOT NULL,
		applied INTEGER,
		summary TEXT,
		raw TEXT,
		error TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		PRIMARY KEY (run_id, batch_index, attempt)
	);

	CREATE TABLE IF NOT EXISTS risk_reports (
		run_id TEXT PRIMARY KEY,
		report TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_status (
		run_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		started_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS blobs (
		run_id TEXT NOT NULL,
		name TEXT NOT NULL,
		data BLOB,
		PRIMARY KEY (run_id, name)
	);

	CREATE INDEX IF NOT EXISTS idx_stage_results_run ON stage_results(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// WriteStageResult appends one attempt; reusing an attempt number is a
// conflict, never an overwrite.
func (s *SQLiteStore) WriteStageResult(ctx context.Context, result models.StageResult) error {
	findings, err := json.Marshal(result.Findings)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}

	query := `
		INSERT INTO stage_results
		(run_id, batch_index, stage_name, attempt, verdict, findings, raw, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		result.RunID, result.BatchIndex, result.StageName, result.Attempt,
		result.Verdict, string(findings), result.Raw, result.Err,
		result.StartedAt, result.FinishedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s attempt %d", ErrConflict, result.StageName, result.Attempt)
	}
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if sqliteErr, ok := err.(sqlite3.Error); ok {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

type stageResultRow struct {
	RunID      string       `db:"run_id"`
	BatchIndex int          `db:"batch_index"`
	StageName  string       `db:"stage_name"`
	Attempt    int          `db:"attempt"`
	Verdict    string       `db:"verdict"`
	Findings   string       `db:"findings"`
	Raw        string       `db:"raw"`
	Err        string       `db:"error"`
	StartedAt  sql.NullTime `db:"started_at"`
	FinishedAt sql.NullTime `db:"finished_at"`
}

func (r stageResultRow) toModel() (models.StageResult, error) {
	res := models.StageResult{
		RunID:      r.RunID,
		BatchIndex: r.BatchIndex,
		StageName:  r.StageName,
		Attempt:    r.Attempt,
		Verdict:    models.Verdict(r.Verdict),
		Raw:        r.Raw,
		Err:        r.Err,
	}
	if r.StartedAt.Valid {
		res.StartedAt = r.StartedAt.Time
	}
	if r.FinishedAt.Valid {
		res.FinishedAt = r.FinishedAt.Time
	}
	if r.Findings != "" {
		if err := json.Unmarshal([]byte(r.Findings), &res.Findings); err != nil {
			return res, fmt.Errorf("unmarshal findings: %w", err)
		}
	}
	return res, nil
}

// ReadLatest returns the highest-numbered attempt for the key.
func (s *SQLiteStore) ReadLatest(ctx context.Context, runID string, batchIndex int, stage string) (models.StageResult, error) {
	var row stageResultRow
	query := `
		SELECT * FROM stage_results
		WHERE run_id = ? AND batch_index = ? AND stage_name = ?
		ORDER BY attempt DESC LIMIT 1
	`
	err := s.db.GetContext(ctx, &row, query, runID, batchIndex, stage)
	if err == sql.ErrNoRows {
		return models.StageResult{}, ErrNotFound
	}
	if err != nil {
		return models.StageResult{}, err
	}
	return row.toModel()
}

// ReadAttempts returns every attempt for the key in attempt order.
func (s *SQLiteStore) ReadAttempts(ctx context.Context, runID string, batchIndex int, stage string) ([]models.StageResult, error) {
	var rows []stageResultRow
	query := `
		SELECT * FROM stage_results
		WHERE run_id = ? AND batch_index = ? AND stage_name = ?
		ORDER BY attempt ASC
	`
	if err := s.db.SelectContext(ctx, &rows, query, runID, batchIndex, stage); err != nil {
		return nil, err
	}

	results := make([]models.StageResult, 0, len(rows))
	for _, row := range rows {
		res, err := row.toModel()
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// WriteFixResult appends one fix attempt.
func (s *SQLiteStore) WriteFixResult(ctx context.Context, result models.FixResult) error {
	query := `
		INSERT INTO fix_results
		(run_id, batch_index, attempt, applied, summary, raw, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		result.RunID, result.BatchIndex, result.Attempt, result.Applied,
		result.Summary, result.Raw, result.Err, result.StartedAt, result.FinishedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: fix attempt %d", ErrConflict, result.Attempt)
	}
	return err
}

// WriteRiskReport persists the run's risk report.
func (s *SQLiteStore) WriteRiskReport(ctx context.Context, report models.RiskReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal risk report: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO risk_reports (run_id, report) VALUES (?, ?)`,
		report.RunID, string(data))
	return err
}

// ReadRiskReport returns the run's risk report.
func (s *SQLiteStore) ReadRiskReport(ctx context.Context, runID string) (models.RiskReport, error) {
	var data string
	err := s.db.GetContext(ctx, &data, `SELECT report FROM risk_reports WHERE run_id = ?`, runID)
	if err == sql.ErrNoRows {
		return models.RiskReport{}, ErrNotFound
	}
	if err != nil {
		return models.RiskReport{}, err
	}
	var report models.RiskReport
	err = json.Unmarshal([]byte(data), &report)
	return report, err
}

// WriteRunStatus persists the run status record.
func (s *SQLiteStore) WriteRunStatus(ctx context.Context, status models.RunStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal run status: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO run_status (run_id, status, started_at) VALUES (?, ?, ?)`,
		status.RunID, string(data), status.StartedAt)
	return err
}

// ReadRunStatus returns the run status record.
func (s *SQLiteStore) ReadRunStatus(ctx context.Context, runID string) (models.RunStatus, error) {
	var data string
	err := s.db.GetContext(ctx, &data, `SELECT status FROM run_status WHERE run_id = ?`, runID)
	if err == sql.ErrNoRows {
		return models.RunStatus{}, ErrNotFound
	}
	if err != nil {
		return models.RunStatus{}, err
	}
	var status models.RunStatus
	err = json.Unmarshal([]byte(data), &status)
	return status, err
}

// WriteBlob stores a named auxiliary artifact.
func (s *SQLiteStore) WriteBlob(ctx context.Context, runID, name string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO blobs (run_id, name, data) VALUES (?, ?, ?)`,
		runID, name, data)
	return err
}

// ListRuns returns every run status, most recently started first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]models.RunStatus, error) {
	var blobs []string
	err := s.db.SelectContext(ctx, &blobs, `SELECT status FROM run_status ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}

	runs := make([]models.RunStatus, 0, len(blobs))
	for _, b := range blobs {
		var status models.RunStatus
		if err := json.Unmarshal([]byte(b), &status); err != nil {
			return nil, err
		}
		runs = append(runs, status)
	}
	return runs, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
