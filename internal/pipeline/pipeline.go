package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/prsentry/prsentry/internal/artifacts"
	"github.com/prsentry/prsentry/internal/batch"
	"github.com/prsentry/prsentry/internal/config"
	"github.com/prsentry/prsentry/internal/diff"
	"github.com/prsentry/prsentry/internal/errors"
	"github.com/prsentry/prsentry/internal/evaluator"
	"github.com/prsentry/prsentry/internal/models"
	"github.com/prsentry/prsentry/internal/risk"
	"github.com/prsentry/prsentry/internal/runner"
)

// Emitter publishes review results. The orchestrator never fails a run over
// an emitter error; publication is best effort.
type Emitter interface {
	EmitBatch(ctx context.Context, pr models.PullRequest, b models.Batch, results []models.StageResult) error
	EmitAggregate(ctx context.Context, pr models.PullRequest, batches []models.Batch, results map[int][]models.StageResult) error
	EmitSummary(ctx context.Context, pr models.PullRequest, status models.RunStatus) error
}

// Orchestrator drives a review run: triage, batching, the per-batch state
// machine, and final status. It is the only component that mutates run
// state; stages and emitters see immutable snapshots.
type Orchestrator struct {
	cfg        *config.Config
	store      artifacts.Store
	eval       evaluator.Evaluator
	normalizer *diff.Normalizer
	scorer     *risk.Scorer
	emitter    Emitter
	runner     *runner.Runner
	logger     *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEmitter attaches a comment emitter.
func WithEmitter(e Emitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// WithRunner attaches a verification command runner.
func WithRunner(r *runner.Runner) Option {
	return func(o *Orchestrator) { o.runner = r }
}

// WithScorer overrides the default risk scorer.
func WithScorer(s *risk.Scorer) Option {
	return func(o *Orchestrator) { o.scorer = s }
}

// New creates an orchestrator.
func New(cfg *config.Config, store artifacts.Store, eval evaluator.Evaluator, opts ...Option) *Orchestrator {
	logger := slog.Default().With("component", "pipeline")

	weights, err := config.LoadRiskWeights(cfg.Risk.WeightsFile)
	if err != nil {
		logger.Warn("load risk weights, using defaults", "file", cfg.Risk.WeightsFile, "error", err)
	}

	o := &Orchestrator{
		cfg:        cfg,
		store:      store,
		eval:       eval,
		normalizer: diff.NewNormalizer(diff.NewClassifier(cfg.Classify.TestGlobs, cfg.Classify.DocGlobs)),
		scorer:     risk.NewScorer(weights, cfg.Risk.MagnitudeWeight),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes a full review over the changeset. Malformed input and invalid
// configuration abort the run before any stage executes; collaborator
// failures during review are recorded as ERROR verdicts and never abort.
func (o *Orchestrator) Run(ctx context.Context, pr models.PullRequest, entries []diff.FileEntry) (models.RunStatus, error) {
	runID := uuid.New().String()
	started := time.Now().UTC()
	logger := o.logger.With("run_id", runID, "pr", prRef(pr))

	status := models.RunStatus{
		RunID:     runID,
		PR:        prRef(pr),
		StartedAt: started,
	}

	abort := func(err error) (models.RunStatus, error) {
		status.Outcome = models.OutcomeAborted
		status.Detail = err.Error()
		status.FinishedAt = time.Now().UTC()
		if werr := o.store.WriteRunStatus(ctx, status); werr != nil {
			logger.Error("write aborted run status", "error", werr)
		}
		return status, err
	}

	records, err := o.normalizer.Normalize(entries)
	if err != nil {
		return abort(err)
	}

	scores := o.scorer.ScoreAll(records)
	report := risk.BuildReport(runID, records, scores)
	if err := o.store.WriteRiskReport(ctx, report); err != nil {
		return abort(errors.Storage(err))
	}

	batches, err := batch.Split(records, o.cfg.Review.BatchBudgetLOC)
	if err != nil {
		return abort(err)
	}

	logger.Info("triage complete",
		"files", len(records),
		"total_loc", report.TotalLOC,
		"batches", len(batches),
	)

	state := models.NewRunState(runID, batches)
	status.Batches = len(batches)
	finalResults := make(map[int][]models.StageResult, len(batches))

	for _, b := range batches {
		// Cancellation is honored at batch boundaries; a batch in flight
		// finishes its current attempt first.
		if err := ctx.Err(); err != nil {
			status.BatchStates = snapshotStates(state)
			return abort(fmt.Errorf("run canceled before batch %d: %w", b.Index, err))
		}

		state.Cursor = b.Index
		results, err := o.runBatch(ctx, pr, state, b)
		if err != nil {
			status.BatchStates = snapshotStates(state)
			return abort(err)
		}
		finalResults[b.Index] = results
	}

	status.BatchStates = snapshotStates(state)
	status.Outcome = outcomeOf(state)
	status.FinishedAt = time.Now().UTC()

	o.runVerification(ctx, runID, &status)

	if err := o.store.WriteRunStatus(ctx, status); err != nil {
		return status, errors.Storage(err)
	}

	if o.emitter != nil {
		// Non-incremental mode holds all batch comments for one aggregate
		// review at run end.
		if !o.cfg.Comments.Incremental {
			if err := o.emitter.EmitAggregate(ctx, pr, batches, finalResults); err != nil {
				logger.Warn("emit aggregate review", "error", err)
			}
		}
		if err := o.emitter.EmitSummary(ctx, pr, status); err != nil {
			logger.Warn("emit summary", "error", err)
		}
	}

	logger.Info("run finished", "outcome", status.Outcome, "batches", status.Batches)
	return status, nil
}

// runVerification executes the configured test and coverage commands and
// stores their output as run blobs. Command failure marks the detail field
// but never rewrites the review outcome.
func (o *Orchestrator) runVerification(ctx context.Context, runID string, status *models.RunStatus) {
	if o.runner == nil {
		return
	}

	type job struct {
		name string
		cmd  string
	}
	jobs := []job{
		{"test_output.txt", o.cfg.Run.TestCmd},
		{"coverage_output.txt", o.cfg.Run.CoverageCmd},
	}

	for _, j := range jobs {
		if j.cmd == "" {
			continue
		}
		res, err := o.runner.Run(ctx, j.cmd)
		if err != nil {
			o.logger.Warn("verification command", "command", j.cmd, "error", err)
			continue
		}
		if err := o.store.WriteBlob(ctx, runID, j.name, []byte(res.Output)); err != nil {
			o.logger.Warn("store verification output", "name", j.name, "error", err)
		}
		if !res.Passed() {
			if status.Detail != "" {
				status.Detail += "; "
			}
			status.Detail += fmt.Sprintf("%q exited %d", j.cmd, res.ExitCode)
		}
	}
}

func snapshotStates(state *models.RunState) map[int]models.BatchState {
	out := make(map[int]models.BatchState, len(state.States))
	for k, v := range state.States {
		out[k] = v
	}
	return out
}

func outcomeOf(state *models.RunState) models.Outcome {
	for _, s := range state.States {
		if s == models.BatchFailed {
			return models.OutcomeDirty
		}
	}
	return models.OutcomeClean
}

func prRef(pr models.PullRequest) string {
	if pr.Owner == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s#%d", pr.Owner, pr.Repo, pr.Number)
}
