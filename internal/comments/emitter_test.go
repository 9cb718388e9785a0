package comments

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prsentry/prsentry/internal/artifacts"
	"github.com/prsentry/prsentry/internal/config"
	"github.com/prsentry/prsentry/internal/github"
	"github.com/prsentry/prsentry/internal/models"
)

type recordingPoster struct {
	comments []string
	reviews  []string
	inline   [][]github.InlineComment
}

func (p *recordingPoster) PostIssueComment(_ context.Context, _ models.PullRequest, body string) error {
	p.comments = append(p.comments, body)
	return nil
}

func (p *recordingPoster) PostReview(_ context.Context, _ models.PullRequest, body string, inline []github.InlineComment) error {
	p.reviews = append(p.reviews, body)
	p.inline = append(p.inline, inline)
	return nil
}

const patch = "@@ -1,3 +1,4 @@\n line1\n+line2\n line3\n line4\n"

func sampleBatch() models.Batch {
	return models.Batch{
		Index:    0,
		TotalLOC: 1,
		Records:  []models.ChangeRecord{{Path: "a.go", AddedLines: 1, Patch: patch}},
	}
}

func sampleResults() []models.StageResult {
	return []models.StageResult{
		{
			RunID:     "run-1",
			StageName: "security",
			Attempt:   1,
			Verdict:   models.VerdictFail,
			Findings: []models.Finding{
				{Path: "a.go", Line: 2, Severity: models.SeverityBlock, Message: "hardcoded secret"},
				{Path: "a.go", Severity: models.SeverityInfo, Message: "general note"},
			},
		},
		{RunID: "run-1", StageName: "performance", Attempt: 1, Verdict: models.VerdictPass},
	}
}

func TestEmitBatchPostsReviewWithInlineComments(t *testing.T) {
	poster := &recordingPoster{}
	store, err := artifacts.NewFSStore(t.TempDir())
	require.NoError(t, err)

	e := NewEmitter(poster, store, config.CommentsConfig{Enabled: true})
	err = e.EmitBatch(context.Background(), models.PullRequest{}, sampleBatch(), sampleResults())
	require.NoError(t, err)

	require.Len(t, poster.reviews, 1)
	assert.Contains(t, poster.reviews[0], "hardcoded secret")
	assert.Contains(t, poster.reviews[0], "security")

	// The line-specific finding became an inline comment; the general one
	// stayed in the body only.
	require.Len(t, poster.inline, 1)
	require.Len(t, poster.inline[0], 1)
	assert.Equal(t, "a.go", poster.inline[0][0].Path)
	assert.Equal(t, 2, poster.inline[0][0].Position)
}

func TestEmitBatchPlainCommentWithoutInlineFindings(t *testing.T) {
	poster := &recordingPoster{}
	store, err := artifacts.NewFSStore(t.TempDir())
	require.NoError(t, err)

	results := []models.StageResult{
		{RunID: "run-1", StageName: "security", Attempt: 1, Verdict: models.VerdictPass},
	}

	e := NewEmitter(poster, store, config.CommentsConfig{Enabled: true})
	require.NoError(t, e.EmitBatch(context.Background(), models.PullRequest{}, sampleBatch(), results))

	assert.Empty(t, poster.reviews)
	require.Len(t, poster.comments, 1)
	assert.Contains(t, poster.comments[0], "No findings")
}

func TestEmitBatchDryRunStoresPayload(t *testing.T) {
	store, err := artifacts.NewFSStore(t.TempDir())
	require.NoError(t, err)

	// nil poster: dry run must never touch GitHub.
	e := NewEmitter(nil, store, config.CommentsConfig{DryRun: true})
	require.NoError(t, e.EmitBatch(context.Background(), models.PullRequest{}, sampleBatch(), sampleResults()))

	data, err := os.ReadFile(filepath.Join(store.RunDir("run-1"), "comments_batch_0.json"))
	require.NoError(t, err)

	var payload struct {
		Body   string                 `json:"body"`
		Inline []github.InlineComment `json:"inline"`
	}
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Contains(t, payload.Body, "hardcoded secret")
	require.Len(t, payload.Inline, 1)
	assert.Equal(t, 2, payload.Inline[0].Position)
}

func TestEmitAggregateMergesBatchesIntoOneReview(t *testing.T) {
	poster := &recordingPoster{}
	store, err := artifacts.NewFSStore(t.TempDir())
	require.NoError(t, err)

	second := models.Batch{
		Index:    1,
		TotalLOC: 1,
		Records:  []models.ChangeRecord{{Path: "b.go", AddedLines: 1, Patch: patch}},
	}
	results := map[int][]models.StageResult{
		0: sampleResults(),
		1: {
			{
				RunID:     "run-1",
				StageName: "security",
				Attempt:   1,
				Verdict:   models.VerdictFail,
				Findings: []models.Finding{
					{Path: "b.go", Line: 2, Severity: models.SeverityBlock, Message: "unchecked error"},
				},
			},
		},
	}

	e := NewEmitter(poster, store, config.CommentsConfig{Enabled: true})
	batches := []models.Batch{sampleBatch(), second}
	require.NoError(t, e.EmitAggregate(context.Background(), models.PullRequest{}, batches, results))

	// One review holds both batch sections and the pooled inline comments.
	assert.Empty(t, poster.comments)
	require.Len(t, poster.reviews, 1)
	assert.Contains(t, poster.reviews[0], "Review batch 1")
	assert.Contains(t, poster.reviews[0], "Review batch 2")
	assert.Contains(t, poster.reviews[0], "hardcoded secret")
	assert.Contains(t, poster.reviews[0], "unchecked error")

	require.Len(t, poster.inline, 1)
	require.Len(t, poster.inline[0], 2)
	assert.Equal(t, "a.go", poster.inline[0][0].Path)
	assert.Equal(t, "b.go", poster.inline[0][1].Path)
}

func TestEmitAggregateDryRunStoresPayload(t *testing.T) {
	store, err := artifacts.NewFSStore(t.TempDir())
	require.NoError(t, err)

	e := NewEmitter(nil, store, config.CommentsConfig{DryRun: true})
	results := map[int][]models.StageResult{0: sampleResults()}
	require.NoError(t, e.EmitAggregate(context.Background(), models.PullRequest{}, []models.Batch{sampleBatch()}, results))

	data, err := os.ReadFile(filepath.Join(store.RunDir("run-1"), "comments_aggregate.json"))
	require.NoError(t, err)

	var payload struct {
		Body   string                 `json:"body"`
		Inline []github.InlineComment `json:"inline"`
	}
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Contains(t, payload.Body, "hardcoded secret")
	require.Len(t, payload.Inline, 1)
}

func TestEmitSummary(t *testing.T) {
	poster := &recordingPoster{}
	store, err := artifacts.NewFSStore(t.TempDir())
	require.NoError(t, err)

	status := models.RunStatus{
		RunID:       "run-1",
		Outcome:     models.OutcomeDirty,
		Batches:     2,
		BatchStates: map[int]models.BatchState{0: models.BatchDone, 1: models.BatchFailed},
	}

	e := NewEmitter(poster, store, config.CommentsConfig{Enabled: true})
	require.NoError(t, e.EmitSummary(context.Background(), models.PullRequest{}, status))

	require.Len(t, poster.comments, 1)
	assert.Contains(t, poster.comments[0], "blocking issues")
	assert.Contains(t, poster.comments[0], "FAILED")
	assert.Contains(t, poster.comments[0], "run-1")
}

func TestEmitSummaryDryRun(t *testing.T) {
	store, err := artifacts.NewFSStore(t.TempDir())
	require.NoError(t, err)

	status := models.RunStatus{RunID: "run-2", Outcome: models.OutcomeClean, Batches: 1}

	e := NewEmitter(nil, store, config.CommentsConfig{DryRun: true})
	require.NoError(t, e.EmitSummary(context.Background(), models.PullRequest{}, status))

	_, err = os.Stat(filepath.Join(store.RunDir("run-2"), "comments_summary.json"))
	require.NoError(t, err)
}

func TestFormatBatchBodyErrorStage(t *testing.T) {
	results := []models.StageResult{
		{StageName: "coverage", Verdict: models.VerdictError, Err: "deadline exceeded"},
	}

	body := formatBatchBody(sampleBatch(), results)
	assert.Contains(t, body, "could not complete")
	assert.Contains(t, body, "deadline exceeded")
}
