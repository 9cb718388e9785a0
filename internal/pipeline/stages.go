package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prsentry/prsentry/internal/errors"
	"github.com/prsentry/prsentry/internal/models"
)

// runBatch drives one batch through the state machine:
//
//	PENDING -> REVIEWING -> GATING -> DONE
//	                     \-> FIXING -> REVIEWING ... -> FAILED
//
// Stage and fixer failures are recorded as ERROR results; only storage
// failures propagate, since a run whose artifacts cannot be written has no
// trustworthy record.
func (o *Orchestrator) runBatch(ctx context.Context, pr models.PullRequest, state *models.RunState, b models.Batch) ([]models.StageResult, error) {
	logger := o.logger.With("run_id", state.RunID, "batch", b.Index)

	attempt := 1
	fixAttempts := 0
	var blocking []models.Finding

	state.States[b.Index] = models.BatchReviewing
	results, err := o.runStages(ctx, pr, state, b, attempt, nil)
	if err != nil {
		return nil, err
	}

	for {
		state.States[b.Index] = models.BatchGating
		pass, found := gate(results)
		blocking = found

		if pass {
			state.States[b.Index] = models.BatchDone
			logger.Info("batch passed", "attempt", attempt)
			break
		}

		if o.cfg.Review.ReviewOnly || fixAttempts >= o.cfg.Review.MaxFixAttempts {
			state.States[b.Index] = models.BatchFailed
			if !o.cfg.Review.ReviewOnly {
				logger.Warn("batch failed",
					"attempt", attempt,
					"error", errors.RetryExhausted(b.Index, fixAttempts),
				)
			} else {
				logger.Info("batch failed, review-only mode", "attempt", attempt)
			}
			break
		}

		state.States[b.Index] = models.BatchFixing
		fixAttempts++
		o.runFix(ctx, pr, state, b, fixAttempts, blocking)

		attempt++
		state.States[b.Index] = models.BatchReviewing
		results, err = o.runStages(ctx, pr, state, b, attempt, blocking)
		if err != nil {
			return nil, err
		}
	}

	if o.emitter != nil && o.cfg.Comments.Incremental {
		if err := o.emitter.EmitBatch(ctx, pr, b, results); err != nil {
			logger.Warn("emit batch comments", "error", err)
		}
	}

	return results, nil
}

// runStages runs every configured stage concurrently over the batch and
// persists one result per stage. The errgroup is a completion barrier; stage
// functions record their own failures and never return an error, so one
// failing stage cannot cancel its siblings.
func (o *Orchestrator) runStages(ctx context.Context, pr models.PullRequest, state *models.RunState, b models.Batch, attempt int, blocking []models.Finding) ([]models.StageResult, error) {
	stages := o.cfg.Review.Stages
	results := make([]models.StageResult, len(stages))

	bc := models.BatchContext{
		RunID:    state.RunID,
		PR:       pr,
		Batch:    b,
		Attempt:  attempt,
		Blocking: blocking,
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, stage := range stages {
		i, stage := i, stage
		g.Go(func() error {
			results[i] = o.evaluateStage(gctx, stage, bc)
			return nil
		})
	}
	g.Wait()

	// Persist after the barrier so the attempt's records land in stage
	// order; reads within this process see them immediately.
	for i := range results {
		if err := o.store.WriteStageResult(ctx, results[i]); err != nil {
			return nil, errors.Storage(err)
		}
		state.Record(results[i])
	}

	return results, nil
}

// evaluateStage runs one stage call under the per-stage timeout. A timeout
// or collaborator failure becomes an ERROR verdict on the result.
func (o *Orchestrator) evaluateStage(ctx context.Context, stage string, bc models.BatchContext) models.StageResult {
	sctx := ctx
	if o.cfg.Review.StageTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, o.cfg.Review.StageTimeout)
		defer cancel()
	}

	started := time.Now().UTC()
	ev, err := o.eval.Evaluate(sctx, stage, bc)

	result := models.StageResult{
		RunID:      bc.RunID,
		BatchIndex: bc.Batch.Index,
		StageName:  stage,
		Attempt:    bc.Attempt,
		Raw:        ev.Raw,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}

	if err != nil {
		result.Verdict = models.VerdictError
		result.Err = err.Error()
		o.logger.Warn("stage errored",
			"stage", stage,
			"batch", bc.Batch.Index,
			"attempt", bc.Attempt,
			"error", err,
		)
		return result
	}

	result.Verdict = ev.Verdict
	result.Findings = ev.Findings
	return result
}

// runFix asks the evaluator for remediation and records the outcome. Fixer
// failure is recorded on the fix artifact; the review loop continues either
// way.
func (o *Orchestrator) runFix(ctx context.Context, pr models.PullRequest, state *models.RunState, b models.Batch, fixAttempt int, blocking []models.Finding) {
	fctx := ctx
	if o.cfg.Review.StageTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, o.cfg.Review.StageTimeout)
		defer cancel()
	}

	bc := models.BatchContext{
		RunID:    state.RunID,
		PR:       pr,
		Batch:    b,
		Attempt:  fixAttempt,
		Blocking: blocking,
	}

	started := time.Now().UTC()
	proposal, err := o.eval.Fix(fctx, bc)

	result := models.FixResult{
		RunID:      state.RunID,
		BatchIndex: b.Index,
		Attempt:    fixAttempt,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	if err != nil {
		result.Err = err.Error()
		o.logger.Warn("fix attempt errored", "batch", b.Index, "attempt", fixAttempt, "error", err)
	} else {
		result.Applied = true
		result.Summary = proposal.Summary
		result.Raw = proposal.Raw
	}

	if werr := o.store.WriteFixResult(ctx, result); werr != nil {
		o.logger.Error("write fix result", "batch", b.Index, "attempt", fixAttempt, "error", werr)
	}
}

// gate decides whether a batch may advance. The gate passes only when no
// stage's latest attempt carries a BLOCK finding or an ERROR verdict; an
// evaluator that could not run is never treated as approval.
func gate(results []models.StageResult) (bool, []models.Finding) {
	pass := true
	var blocking []models.Finding

	for _, res := range results {
		if res.Verdict == models.VerdictError {
			pass = false
			continue
		}
		found := res.Blocking()
		if len(found) > 0 {
			pass = false
			blocking = append(blocking, found...)
		}
	}

	return pass, blocking
}
