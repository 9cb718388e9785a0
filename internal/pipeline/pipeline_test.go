package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prsentry/prsentry/internal/artifacts"
	"github.com/prsentry/prsentry/internal/config"
	"github.com/prsentry/prsentry/internal/diff"
	"github.com/prsentry/prsentry/internal/evaluator"
	"github.com/prsentry/prsentry/internal/models"
)

// scriptedEvaluator returns canned evaluations keyed by (stage, batch,
// attempt) and records every call.
type scriptedEvaluator struct {
	mu    sync.Mutex
	calls []string

	// evaluate decides the outcome of each stage call.
	evaluate func(stage string, bc models.BatchContext) (evaluator.Evaluation, error)
	// fixErr, when set, fails every fix call.
	fixErr error
	// onCall, when set, runs at the start of every stage call.
	onCall func(bc models.BatchContext)
}

func (f *scriptedEvaluator) Evaluate(ctx context.Context, stage string, bc models.BatchContext) (evaluator.Evaluation, error) {
	f.mu.Lock()
	f.calls = append(f.calls, stageKey(stage, bc))
	f.mu.Unlock()

	if f.onCall != nil {
		f.onCall(bc)
	}
	if err := ctx.Err(); err != nil {
		return evaluator.Evaluation{}, err
	}
	return f.evaluate(stage, bc)
}

func (f *scriptedEvaluator) Fix(ctx context.Context, bc models.BatchContext) (evaluator.FixProposal, error) {
	f.mu.Lock()
	f.calls = append(f.calls, stageKey("fix", bc))
	f.mu.Unlock()

	if f.fixErr != nil {
		return evaluator.FixProposal{}, f.fixErr
	}
	return evaluator.FixProposal{Summary: "proposed fix", Raw: "proposed fix\ndetails"}, nil
}

func stageKey(stage string, bc models.BatchContext) string {
	return stage + "/" + string(rune('0'+bc.Batch.Index)) + "/" + string(rune('0'+bc.Attempt))
}

func passAll(stage string, bc models.BatchContext) (evaluator.Evaluation, error) {
	return evaluator.Evaluation{Verdict: models.VerdictPass}, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Review.Stages = []string{config.StageSecurity, config.StagePerformance}
	cfg.Review.BatchBudgetLOC = 100
	cfg.Review.MaxFixAttempts = 2
	cfg.Review.StageTimeout = time.Second
	return cfg
}

func testStore(t *testing.T) artifacts.Store {
	t.Helper()
	store, err := artifacts.NewFSStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func entries(locs ...int) []diff.FileEntry {
	out := make([]diff.FileEntry, len(locs))
	for i, loc := range locs {
		out[i] = diff.FileEntry{Path: string(rune('a'+i)) + ".go", Added: loc}
	}
	return out
}

func TestRunCleanOutcome(t *testing.T) {
	cfg := testConfig()
	store := testStore(t)
	eval := &scriptedEvaluator{evaluate: passAll}

	orch := New(cfg, store, eval)
	status, err := orch.Run(context.Background(), models.PullRequest{Title: "t"}, entries(60, 60))

	require.NoError(t, err)
	assert.Equal(t, models.OutcomeClean, status.Outcome)
	assert.Equal(t, 2, status.Batches)
	assert.Equal(t, models.BatchDone, status.BatchStates[0])
	assert.Equal(t, models.BatchDone, status.BatchStates[1])

	// One attempt per stage per batch, persisted and readable.
	for batch := 0; batch < 2; batch++ {
		for _, stage := range cfg.Review.Stages {
			attempts, err := store.ReadAttempts(context.Background(), status.RunID, batch, stage)
			require.NoError(t, err)
			require.Len(t, attempts, 1)
			assert.Equal(t, models.VerdictPass, attempts[0].Verdict)
		}
	}

	// Risk report and run status are reconstructable from the store.
	report, err := store.ReadRiskReport(context.Background(), status.RunID)
	require.NoError(t, err)
	assert.Len(t, report.Files, 2)

	stored, err := store.ReadRunStatus(context.Background(), status.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeClean, stored.Outcome)
}

func TestRunHonorsWeightsFile(t *testing.T) {
	weightsPath := filepath.Join(t.TempDir(), "weights.yaml")
	require.NoError(t, os.WriteFile(weightsPath, []byte("keywords:\n  widgets: 100.0\n"), 0o644))

	cfg := testConfig()
	cfg.Risk.WeightsFile = weightsPath
	store := testStore(t)
	eval := &scriptedEvaluator{evaluate: passAll}

	orch := New(cfg, store, eval)
	status, err := orch.Run(context.Background(), models.PullRequest{}, []diff.FileEntry{
		{Path: "internal/widgets/x.go", Added: 10},
		{Path: "internal/things/x.go", Added: 10},
	})
	require.NoError(t, err)

	// The overridden keyword weight must separate the two otherwise
	// identical files.
	report, err := store.ReadRiskReport(context.Background(), status.RunID)
	require.NoError(t, err)
	require.Len(t, report.Files, 2)
	assert.Equal(t, "internal/widgets/x.go", report.Files[0].Path)
	assert.Greater(t, report.Files[0].Score, report.Files[1].Score+50)
}

func TestRunFixThenPass(t *testing.T) {
	cfg := testConfig()
	store := testStore(t)

	block := []models.Finding{{Path: "a.go", Line: 1, Severity: models.SeverityBlock, Message: "bad"}}
	eval := &scriptedEvaluator{
		evaluate: func(stage string, bc models.BatchContext) (evaluator.Evaluation, error) {
			if stage == config.StageSecurity && bc.Attempt == 1 {
				return evaluator.Evaluation{Verdict: models.VerdictFail, Findings: block}, nil
			}
			return evaluator.Evaluation{Verdict: models.VerdictPass}, nil
		},
	}

	orch := New(cfg, store, eval)
	status, err := orch.Run(context.Background(), models.PullRequest{}, entries(50))

	require.NoError(t, err)
	assert.Equal(t, models.OutcomeClean, status.Outcome)
	assert.Equal(t, models.BatchDone, status.BatchStates[0])

	attempts, err := store.ReadAttempts(context.Background(), status.RunID, 0, config.StageSecurity)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, models.VerdictFail, attempts[0].Verdict)
	assert.Equal(t, models.VerdictPass, attempts[1].Verdict)

	// The fix stage saw the blocking findings from the failed attempt.
	assert.Contains(t, eval.calls, "fix/0/1")
}

func TestRunFixFailureStillReviews(t *testing.T) {
	cfg := testConfig()
	store := testStore(t)

	// The fixer is down, but the re-review finds the issue resolved.
	eval := &scriptedEvaluator{
		fixErr: context.DeadlineExceeded,
		evaluate: func(stage string, bc models.BatchContext) (evaluator.Evaluation, error) {
			if stage == config.StageSecurity && bc.Attempt == 1 {
				return evaluator.Evaluation{
					Verdict:  models.VerdictFail,
					Findings: []models.Finding{{Path: "a.go", Severity: models.SeverityBlock, Message: "bad"}},
				}, nil
			}
			return evaluator.Evaluation{Verdict: models.VerdictPass}, nil
		},
	}

	orch := New(cfg, store, eval)
	status, err := orch.Run(context.Background(), models.PullRequest{}, entries(50))

	// A failed fix call burns the attempt, never the batch.
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeClean, status.Outcome)
	assert.Equal(t, models.BatchDone, status.BatchStates[0])
	assert.Contains(t, eval.calls, "fix/0/1")

	attempts, err := store.ReadAttempts(context.Background(), status.RunID, 0, config.StageSecurity)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, models.VerdictPass, attempts[1].Verdict)
}

func TestRunRetryExhaustion(t *testing.T) {
	cfg := testConfig()
	store := testStore(t)

	eval := &scriptedEvaluator{
		evaluate: func(stage string, bc models.BatchContext) (evaluator.Evaluation, error) {
			return evaluator.Evaluation{
				Verdict:  models.VerdictFail,
				Findings: []models.Finding{{Path: "a.go", Severity: models.SeverityBlock, Message: "still bad"}},
			}, nil
		},
	}

	orch := New(cfg, store, eval)
	status, err := orch.Run(context.Background(), models.PullRequest{}, entries(50))

	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDirty, status.Outcome)
	assert.Equal(t, models.BatchFailed, status.BatchStates[0])

	// Initial attempt plus one review per fix attempt, then stop.
	attempts, err := store.ReadAttempts(context.Background(), status.RunID, 0, config.StageSecurity)
	require.NoError(t, err)
	assert.Len(t, attempts, cfg.Review.MaxFixAttempts+1)

	// Exactly MaxFixAttempts fix calls were made.
	fixCalls := 0
	for _, c := range eval.calls {
		if c[:3] == "fix" {
			fixCalls++
		}
	}
	assert.Equal(t, cfg.Review.MaxFixAttempts, fixCalls)
}

func TestRunEvaluatorErrorIsRecorded(t *testing.T) {
	cfg := testConfig()
	cfg.Review.ReviewOnly = true
	store := testStore(t)

	eval := &scriptedEvaluator{
		evaluate: func(stage string, bc models.BatchContext) (evaluator.Evaluation, error) {
			if stage == config.StagePerformance {
				return evaluator.Evaluation{}, context.DeadlineExceeded
			}
			return evaluator.Evaluation{Verdict: models.VerdictPass}, nil
		},
	}

	orch := New(cfg, store, eval)
	status, err := orch.Run(context.Background(), models.PullRequest{}, entries(50))

	// A collaborator failure never aborts the run; it fails the gate.
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDirty, status.Outcome)
	assert.Equal(t, models.BatchFailed, status.BatchStates[0])

	res, err := store.ReadLatest(context.Background(), status.RunID, 0, config.StagePerformance)
	require.NoError(t, err)
	assert.Equal(t, models.VerdictError, res.Verdict)
	assert.NotEmpty(t, res.Err)

	// The healthy sibling stage still recorded its result.
	res, err = store.ReadLatest(context.Background(), status.RunID, 0, config.StageSecurity)
	require.NoError(t, err)
	assert.Equal(t, models.VerdictPass, res.Verdict)
}

func TestRunStageTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Review.ReviewOnly = true
	cfg.Review.StageTimeout = 20 * time.Millisecond
	store := testStore(t)

	eval := &scriptedEvaluator{
		evaluate: func(stage string, bc models.BatchContext) (evaluator.Evaluation, error) {
			time.Sleep(50 * time.Millisecond)
			return evaluator.Evaluation{Verdict: models.VerdictPass}, nil
		},
	}
	// The scripted evaluator checks ctx before evaluate; emulate a slow call
	// that honors cancellation the way the real evaluator does.
	eval.onCall = func(models.BatchContext) { time.Sleep(50 * time.Millisecond) }

	orch := New(cfg, store, eval)
	status, err := orch.Run(context.Background(), models.PullRequest{}, entries(50))

	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDirty, status.Outcome)

	res, err := store.ReadLatest(context.Background(), status.RunID, 0, config.StageSecurity)
	require.NoError(t, err)
	assert.Equal(t, models.VerdictError, res.Verdict)
}

func TestRunReviewOnlySkipsFixes(t *testing.T) {
	cfg := testConfig()
	cfg.Review.ReviewOnly = true
	store := testStore(t)

	eval := &scriptedEvaluator{
		evaluate: func(stage string, bc models.BatchContext) (evaluator.Evaluation, error) {
			return evaluator.Evaluation{
				Verdict:  models.VerdictFail,
				Findings: []models.Finding{{Path: "a.go", Severity: models.SeverityBlock, Message: "bad"}},
			}, nil
		},
	}

	orch := New(cfg, store, eval)
	status, err := orch.Run(context.Background(), models.PullRequest{}, entries(50))

	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDirty, status.Outcome)
	for _, c := range eval.calls {
		assert.NotContains(t, c, "fix")
	}
}

func TestRunBatchesSequential(t *testing.T) {
	cfg := testConfig()
	store := testStore(t)

	var mu sync.Mutex
	var order []int
	eval := &scriptedEvaluator{evaluate: passAll}
	eval.onCall = func(bc models.BatchContext) {
		mu.Lock()
		order = append(order, bc.Batch.Index)
		mu.Unlock()
	}

	orch := New(cfg, store, eval)
	_, err := orch.Run(context.Background(), models.PullRequest{}, entries(80, 80, 80))
	require.NoError(t, err)

	// Batch indices never interleave: once a higher index appears, no lower
	// index may follow.
	high := 0
	for _, idx := range order {
		assert.GreaterOrEqual(t, idx, high)
		if idx > high {
			high = idx
		}
	}
}

func TestRunCancellationBetweenBatches(t *testing.T) {
	cfg := testConfig()
	store := testStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	eval := &scriptedEvaluator{evaluate: passAll}
	eval.onCall = func(bc models.BatchContext) {
		if bc.Batch.Index == 0 {
			cancel()
		}
	}

	orch := New(cfg, store, eval)
	status, err := orch.Run(ctx, models.PullRequest{}, entries(80, 80))

	require.Error(t, err)
	assert.Equal(t, models.OutcomeAborted, status.Outcome)
	// The first batch ran; the second never started.
	for _, c := range eval.calls {
		assert.NotContains(t, c, "/1/")
	}
}

func TestRunMalformedChangesetAborts(t *testing.T) {
	cfg := testConfig()
	store := testStore(t)
	eval := &scriptedEvaluator{evaluate: passAll}

	orch := New(cfg, store, eval)
	status, err := orch.Run(context.Background(), models.PullRequest{}, []diff.FileEntry{{Added: 5}})

	require.Error(t, err)
	assert.Equal(t, models.OutcomeAborted, status.Outcome)
	assert.Empty(t, eval.calls)

	// The aborted status is still persisted for audit.
	stored, err := store.ReadRunStatus(context.Background(), status.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAborted, stored.Outcome)
}

// recordingEmitter counts emissions per mode.
type recordingEmitter struct {
	mu         sync.Mutex
	batches    int
	aggregates int
	summaries  int
}

func (e *recordingEmitter) EmitBatch(context.Context, models.PullRequest, models.Batch, []models.StageResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches++
	return nil
}

func (e *recordingEmitter) EmitAggregate(context.Context, models.PullRequest, []models.Batch, map[int][]models.StageResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aggregates++
	return nil
}

func (e *recordingEmitter) EmitSummary(context.Context, models.PullRequest, models.RunStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.summaries++
	return nil
}

func TestRunEmissionModes(t *testing.T) {
	t.Run("incremental posts per batch", func(t *testing.T) {
		cfg := testConfig()
		cfg.Comments.Incremental = true
		emitter := &recordingEmitter{}

		orch := New(cfg, testStore(t), &scriptedEvaluator{evaluate: passAll}, WithEmitter(emitter))
		_, err := orch.Run(context.Background(), models.PullRequest{}, entries(80, 80))
		require.NoError(t, err)

		assert.Equal(t, 2, emitter.batches)
		assert.Zero(t, emitter.aggregates)
		assert.Equal(t, 1, emitter.summaries)
	})

	t.Run("non-incremental posts one aggregate", func(t *testing.T) {
		cfg := testConfig()
		cfg.Comments.Incremental = false
		emitter := &recordingEmitter{}

		orch := New(cfg, testStore(t), &scriptedEvaluator{evaluate: passAll}, WithEmitter(emitter))
		_, err := orch.Run(context.Background(), models.PullRequest{}, entries(80, 80))
		require.NoError(t, err)

		assert.Zero(t, emitter.batches)
		assert.Equal(t, 1, emitter.aggregates)
		assert.Equal(t, 1, emitter.summaries)
	})
}

func TestGate(t *testing.T) {
	pass := models.StageResult{Verdict: models.VerdictPass}
	warn := models.StageResult{Verdict: models.VerdictPass, Findings: []models.Finding{{Severity: models.SeverityWarn}}}
	blocked := models.StageResult{Verdict: models.VerdictFail, Findings: []models.Finding{{Severity: models.SeverityBlock, Message: "x"}}}
	errored := models.StageResult{Verdict: models.VerdictError, Err: "timeout"}

	tests := []struct {
		name     string
		results  []models.StageResult
		wantPass bool
	}{
		{"all pass", []models.StageResult{pass, pass}, true},
		{"warnings do not block", []models.StageResult{pass, warn}, true},
		{"block finding fails", []models.StageResult{pass, blocked}, false},
		{"error verdict fails", []models.StageResult{pass, errored}, false},
		{"empty passes", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, blocking := gate(tt.results)
			assert.Equal(t, tt.wantPass, got)
			if !tt.wantPass && tt.results[1].Verdict == models.VerdictFail {
				assert.NotEmpty(t, blocking)
			}
		})
	}
}
