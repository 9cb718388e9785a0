package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prsentry/prsentry/internal/models"
)

func newStore(t *testing.T) *FSStore {
	t.Helper()
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func result(runID string, batch int, stage string, attempt int, verdict models.Verdict) models.StageResult {
	return models.StageResult{
		RunID:      runID,
		BatchIndex: batch,
		StageName:  stage,
		Attempt:    attempt,
		Verdict:    verdict,
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
	}
}

func TestStageResultReadYourWrites(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	res := result("run-1", 0, "security", 1, models.VerdictPass)
	res.Findings = []models.Finding{{Path: "a.go", Line: 3, Severity: models.SeverityWarn, Message: "m"}}
	require.NoError(t, store.WriteStageResult(ctx, res))

	got, err := store.ReadLatest(ctx, "run-1", 0, "security")
	require.NoError(t, err)
	assert.Equal(t, res.Verdict, got.Verdict)
	assert.Equal(t, res.Findings, got.Findings)
}

func TestStageResultAppendOnly(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.WriteStageResult(ctx, result("run-1", 0, "security", 1, models.VerdictFail)))

	// Reusing an attempt number is a conflict, never an overwrite.
	err := store.WriteStageResult(ctx, result("run-1", 0, "security", 1, models.VerdictPass))
	require.ErrorIs(t, err, ErrConflict)

	got, err := store.ReadLatest(ctx, "run-1", 0, "security")
	require.NoError(t, err)
	assert.Equal(t, models.VerdictFail, got.Verdict)
}

func TestReadAttemptsOrdered(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for _, attempt := range []int{2, 1, 3} {
		require.NoError(t, store.WriteStageResult(ctx, result("run-1", 1, "coverage", attempt, models.VerdictFail)))
	}

	attempts, err := store.ReadAttempts(ctx, "run-1", 1, "coverage")
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	for i, a := range attempts {
		assert.Equal(t, i+1, a.Attempt)
	}

	latest, err := store.ReadLatest(ctx, "run-1", 1, "coverage")
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Attempt)
}

func TestReadMissing(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.ReadLatest(ctx, "nope", 0, "security")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.ReadRiskReport(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.ReadRunStatus(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFixResultAppendOnly(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	fix := models.FixResult{RunID: "run-1", BatchIndex: 0, Attempt: 1, Applied: true}
	require.NoError(t, store.WriteFixResult(ctx, fix))
	require.ErrorIs(t, store.WriteFixResult(ctx, fix), ErrConflict)
}

func TestConcurrentWritersDistinctKeys(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	stages := []string{"performance", "security", "coverage"}
	var wg sync.WaitGroup
	errs := make([]error, len(stages))
	for i, stage := range stages {
		wg.Add(1)
		go func(i int, stage string) {
			defer wg.Done()
			errs[i] = store.WriteStageResult(ctx, result("run-1", 0, stage, 1, models.VerdictPass))
		}(i, stage)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	for _, stage := range stages {
		got, err := store.ReadLatest(ctx, "run-1", 0, stage)
		require.NoError(t, err)
		assert.Equal(t, models.VerdictPass, got.Verdict)
	}
}

func TestRiskReportAndRunStatusRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	report := models.RiskReport{
		RunID:    "run-1",
		TotalLOC: 42,
		Files:    []models.RiskEntry{{Path: "a.go", LOC: 42, Score: 1.5}},
	}
	require.NoError(t, store.WriteRiskReport(ctx, report))

	gotReport, err := store.ReadRiskReport(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, report.Files, gotReport.Files)

	status := models.RunStatus{
		RunID:       "run-1",
		Outcome:     models.OutcomeDirty,
		Batches:     2,
		BatchStates: map[int]models.BatchState{0: models.BatchDone, 1: models.BatchFailed},
		StartedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.WriteRunStatus(ctx, status))

	gotStatus, err := store.ReadRunStatus(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, status.Outcome, gotStatus.Outcome)
	assert.Equal(t, status.BatchStates, gotStatus.BatchStates)
}

func TestWriteBlob(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.WriteBlob(ctx, "run-1", "test_output.txt", []byte("ok\n")))

	data, err := os.ReadFile(filepath.Join(store.RunDir("run-1"), "test_output.txt"))
	require.NoError(t, err)
	assert.Equal(t, "ok\n", string(data))
}

func TestListRuns(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	older := models.RunStatus{RunID: "run-old", Outcome: models.OutcomeClean, StartedAt: time.Now().Add(-time.Hour)}
	newer := models.RunStatus{RunID: "run-new", Outcome: models.OutcomeDirty, StartedAt: time.Now()}
	require.NoError(t, store.WriteRunStatus(ctx, older))
	require.NoError(t, store.WriteRunStatus(ctx, newer))

	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-new", runs[0].RunID)
	assert.Equal(t, "run-old", runs[1].RunID)
}

func TestNoPartialRecords(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.WriteStageResult(ctx, result("run-1", 0, "security", 1, models.VerdictPass)))

	// Only complete records exist in the batch dir, no temp leftovers.
	entries, err := os.ReadDir(filepath.Join(store.RunDir("run-1"), "batch_0"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "security_attempt_1.json", entries[0].Name())
}
