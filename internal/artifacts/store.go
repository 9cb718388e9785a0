package artifacts

import (
	"context"
	"errors"

	"github.com/prsentry/prsentry/internal/models"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a writer tries to reuse an attempt
	// number; attempts are append-only and never overwritten.
	ErrConflict = errors.New("attempt already recorded")
)

// Store persists every stage output for a run. Writes are append-only per
// (batch, stage) key and atomic per record; once a write returns, a read in
// the same process observes it. Records survive process restart so a run
// can be audited or resumed.
type Store interface {
	// WriteStageResult appends one attempt. result.Attempt must be the
	// next unused sequence number for its (batch, stage) key.
	WriteStageResult(ctx context.Context, result models.StageResult) error

	// ReadLatest returns the most recent attempt for the key, which is the
	// one that counts for gating.
	ReadLatest(ctx context.Context, runID string, batchIndex int, stage string) (models.StageResult, error)

	// ReadAttempts returns every recorded attempt for the key, in order.
	ReadAttempts(ctx context.Context, runID string, batchIndex int, stage string) ([]models.StageResult, error)

	// WriteFixResult appends one fix attempt for a batch.
	WriteFixResult(ctx context.Context, result models.FixResult) error

	// WriteRiskReport persists the run's risk report; written once per run.
	WriteRiskReport(ctx context.Context, report models.RiskReport) error

	// ReadRiskReport returns the run's risk report.
	ReadRiskReport(ctx context.Context, runID string) (models.RiskReport, error)

	// WriteRunStatus persists the run's final (or aborted) status record.
	WriteRunStatus(ctx context.Context, status models.RunStatus) error

	// ReadRunStatus returns the run's status record.
	ReadRunStatus(ctx context.Context, runID string) (models.RunStatus, error)

	// WriteBlob stores a named auxiliary artifact (comment payloads, test
	// command output) under the run's namespace.
	WriteBlob(ctx context.Context, runID, name string, data []byte) error

	// ListRuns returns every run's status, most recently started first.
	ListRuns(ctx context.Context) ([]models.RunStatus, error)

	// Close releases store resources.
	Close() error
}
