package evaluator

import (
	"context"

	"github.com/prsentry/prsentry/internal/models"
)

// Evaluation is one stage's judgment over a batch.
type Evaluation struct {
	Verdict  models.Verdict
	Findings []models.Finding
	Raw      string
}

// FixProposal is the fixer's output for a batch with blocking findings.
type FixProposal struct {
	Summary string
	Raw     string
}

// Evaluator runs review stages and fix proposals over batch snapshots. An
// implementation must treat the snapshot as read-only; the orchestrator owns
// all run state.
type Evaluator interface {
	// Evaluate runs one named stage over the batch.
	Evaluate(ctx context.Context, stage string, bc models.BatchContext) (Evaluation, error)

	// Fix proposes remediation for the blocking findings in the snapshot.
	Fix(ctx context.Context, bc models.BatchContext) (FixProposal, error)
}
