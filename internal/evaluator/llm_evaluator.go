package evaluator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prsentry/prsentry/internal/config"
	"github.com/prsentry/prsentry/internal/errors"
	"github.com/prsentry/prsentry/internal/llm"
	"github.com/prsentry/prsentry/internal/models"
)

// LLMEvaluator runs review stages against an LLM provider.
type LLMEvaluator struct {
	client *llm.Client
	opts   PayloadOptions
	logger *slog.Logger
}

// NewLLMEvaluator builds the evaluator from configuration.
func NewLLMEvaluator(client *llm.Client, cfg *config.Config) *LLMEvaluator {
	return &LLMEvaluator{
		client: client,
		opts: PayloadOptions{
			MaxPatchLines: cfg.Review.MaxPatchLines,
			SkipTestFiles: cfg.Review.SkipTestFiles,
			SkipDocFiles:  cfg.Review.SkipDocFiles,
		},
		logger: slog.Default().With("component", "evaluator"),
	}
}

// Evaluate runs one stage over the batch. Any provider or parse failure is a
// collaborator error; the caller records it as an ERROR verdict rather than
// failing the run.
func (e *LLMEvaluator) Evaluate(ctx context.Context, stage string, bc models.BatchContext) (Evaluation, error) {
	prompt, err := StagePrompt(stage)
	if err != nil {
		return Evaluation{}, errors.InvalidConfigurationf("stage %q: %v", stage, err)
	}

	payload, err := BuildPayload(stage, bc, e.opts)
	if err != nil {
		return Evaluation{}, errors.Internal(err)
	}

	raw, err := e.client.CompleteJSON(ctx, prompt, payload)
	if err != nil {
		return Evaluation{}, err
	}

	verdict, findings, err := ParseStageResponse(raw)
	if err != nil {
		return Evaluation{Raw: raw}, errors.Collaborator(fmt.Errorf("stage %s response: %w", stage, err))
	}

	e.logger.Debug("stage evaluated",
		"stage", stage,
		"batch", bc.Batch.Index,
		"attempt", bc.Attempt,
		"verdict", verdict,
		"findings", len(findings),
	)

	return Evaluation{Verdict: verdict, Findings: findings, Raw: raw}, nil
}

// Fix asks the model for remediation of the batch's blocking findings.
func (e *LLMEvaluator) Fix(ctx context.Context, bc models.BatchContext) (FixProposal, error) {
	payload, err := BuildPayload("fix", bc, e.opts)
	if err != nil {
		return FixProposal{}, errors.Internal(err)
	}

	raw, err := e.client.CompleteFix(ctx, fixSystemPrompt, payload)
	if err != nil {
		return FixProposal{}, err
	}

	return FixProposal{Summary: firstLine(raw), Raw: raw}, nil
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
