package artifacts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/prsentry/prsentry/internal/models"
)

// PostgresStore implements Store on PostgreSQL, for shared deployments where
// multiple reviewers or a CI fleet need one artifact index.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects to PostgreSQL using the given DSN.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &PostgresStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stage_results (
		run_id TEXT NOT NULL,
		batch_index INTEGER NOT NULL,
		stage_name TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		verdict TEXT NOT NULL,
		findings JSONB,
		raw TEXT,
		error TEXT,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		PRIMARY KEY (run_id, batch_index, stage_name, attempt)
	);

	CREATE TABLE IF NOT EXISTS fix_results (
		run_id TEXT NOT NULL,
		batch_index INTEGER NOT NULL,
		attempt INTEGER NOT NULL,
		applied BOOLEAN,
		summary TEXT,
		raw TEXT,
		error TEXT,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		PRIMARY KEY (run_id, batch_index, attempt)
	);

	CREATE TABLE IF NOT EXISTS risk_reports (
		run_id TEXT PRIMARY KEY,
		report JSONB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_status (
		run_id TEXT PRIMARY KEY,
		status JSONB NOT NULL,
		started_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS blobs (
		run_id TEXT NOT NULL,
		name TEXT NOT NULL,
		data BYTEA,
		PRIMARY KEY (run_id, name)
	);

	CREATE INDEX IF NOT EXISTS idx_stage_results_run ON stage_results(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// WriteStageResult appends one attempt; reusing an attempt number is a
// conflict, never an overwrite.
func (s *PostgresStore) WriteStageResult(ctx context.Context, result models.StageResult) error {
	findings, err := json.Marshal(result.Findings)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}

	query := `
		INSERT INTO stage_results
		(run_id, batch_index, stage_name, attempt, verdict, findings, raw, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(ctx, query,
		result.RunID, result.BatchIndex, result.StageName, result.Attempt,
		result.Verdict, string(findings), result.Raw, result.Err,
		result.StartedAt, result.FinishedAt)
	if isPgUniqueViolation(err) {
		return fmt.Errorf("%w: %s attempt %d", ErrConflict, result.StageName, result.Attempt)
	}
	return err
}

// ReadLatest returns the highest-numbered attempt for the key.
func (s *PostgresStore) ReadLatest(ctx context.Context, runID string, batchIndex int, stage string) (models.StageResult, error) {
	var row stageResultRow
	query := `
		SELECT * FROM stage_results
		WHERE run_id = $1 AND batch_index = $2 AND stage_name = $3
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
func (s *PostgresStore) ReadAttempts(ctx context.Context, runID string, batchIndex int, stage string) ([]models.StageResult, error) {
	var rows []stageResultRow
	query := `
		SELECT * FROM stage_results
		WHERE run_id = $1 AND batch_index = $2 AND stage_name = $3
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
func (s *PostgresStore) WriteFixResult(ctx context.Context, result models.FixResult) error {
	query := `
		INSERT INTO fix_results
		(run_id, batch_index, attempt, applied, summary, raw, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		result.RunID, result.BatchIndex, result.Attempt, result.Applied,
		result.Summary, result.Raw, result.Err, result.StartedAt, result.FinishedAt)
	if isPgUniqueViolation(err) {
		return fmt.Errorf("%w: fix attempt %d", ErrConflict, result.Attempt)
	}
	return err
}

// WriteRiskReport persists the run's risk report.
func (s *PostgresStore) WriteRiskReport(ctx context.Context, report models.RiskReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal risk report: %w", err)
	}
	query := `
		INSERT INTO risk_reports (run_id, report) VALUES ($1, $2)
		ON CONFLICT (run_id) DO UPDATE SET report = EXCLUDED.report
	`
	_, err = s.db.ExecContext(ctx, query, report.RunID, string(data))
	return err
}

// ReadRiskReport returns the run's risk report.
func (s *PostgresStore) ReadRiskReport(ctx context.Context, runID string) (models.RiskReport, error) {
	var data string
	err := s.db.GetContext(ctx, &data, `SELECT report FROM risk_reports WHERE run_id = $1`, runID)
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
func (s *PostgresStore) WriteRunStatus(ctx context.Context, status models.RunStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal run status: %w", err)
	}
	query := `
		INSERT INTO run_status (run_id, status, started_at) VALUES ($1, $2, $3)
		ON CONFLICT (run_id) DO UPDATE SET status = EXCLUDED.status, started_at = EXCLUDED.started_at
	`
	_, err = s.db.ExecContext(ctx, query, status.RunID, string(data), status.StartedAt)
	return err
}

// ReadRunStatus returns the run status record.
func (s *PostgresStore) ReadRunStatus(ctx context.Context, runID string) (models.RunStatus, error) {
	var data string
	err := s.db.GetContext(ctx, &data, `SELECT status FROM run_status WHERE run_id = $1`, runID)
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
func (s *PostgresStore) WriteBlob(ctx context.Context, runID, name string, data []byte) error {
	query := `
		INSERT INTO blobs (run_id, name, data) VALUES ($1, $2, $3)
		ON CONFLICT (run_id, name) DO UPDATE SET data = EXCLUDED.data
	`
	_, err := s.db.ExecContext(ctx, query, runID, name, data)
	return err
}

// ListRuns returns every run status, most recently started first.
func (s *PostgresStore) ListRuns(ctx context.Context) ([]models.RunStatus, error) {
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
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
