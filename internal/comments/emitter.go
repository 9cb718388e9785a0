package comments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prsentry/prsentry/internal/artifacts"
	"github.com/prsentry/prsentry/internal/config"
	"github.com/prsentry/prsentry/internal/github"
	"github.com/prsentry/prsentry/internal/models"
)

// Poster is the subset of the GitHub client the emitter needs.
type Poster interface {
	PostIssueComment(ctx context.Context, pr models.PullRequest, body string) error
	PostReview(ctx context.Context, pr models.PullRequest, body string, comments []github.InlineComment) error
}

// Emitter publishes review results to the PR. In dry-run mode nothing
// reaches GitHub; the exact payloads are stored as run artifacts instead, so
// a dry run is a faithful rehearsal of a live one.
type Emitter struct {
	poster Poster
	store  artifacts.Store
	cfg    config.CommentsConfig
	logger *slog.Logger
}

// NewEmitter creates a comment emitter. poster may be nil only in dry-run
// mode.
func NewEmitter(poster Poster, store artifacts.Store, cfg config.CommentsConfig) *Emitter {
	return &Emitter{
		poster: poster,
		store:  store,
		cfg:    cfg,
		logger: slog.Default().With("component", "comments"),
	}
}

// batchPayload is the persisted form of one batch's comment emission.
type batchPayload struct {
	Body   string                 `json:"body"`
	Inline []github.InlineComment `json:"inline,omitempty"`
}

// EmitBatch publishes one batch's results: a review with inline comments
// when any finding resolves to a diff position, a plain comment otherwise.
func (e *Emitter) EmitBatch(ctx context.Context, pr models.PullRequest, b models.Batch, results []models.StageResult) error {
	if len(results) == 0 {
		return nil
	}
	runID := results[0].RunID

	body := formatBatchBody(b, results)
	inline := e.inlineComments(b, results)

	if e.cfg.DryRun {
		return e.storePayload(ctx, runID, fmt.Sprintf("comments_batch_%d.json", b.Index), batchPayload{
			Body:   body,
			Inline: inline,
		})
	}

	if e.poster == nil {
		return fmt.Errorf("no poster configured and dry-run disabled")
	}

	if len(inline) > 0 {
		return e.poster.PostReview(ctx, pr, body, inline)
	}
	return e.poster.PostIssueComment(ctx, pr, body)
}

// EmitAggregate publishes every batch's results as a single review at run
// end, merging the batch bodies and pooling the inline comments.
func (e *Emitter) EmitAggregate(ctx context.Context, pr models.PullRequest, batches []models.Batch, results map[int][]models.StageResult) error {
	var runID string
	var body strings.Builder
	var inline []github.InlineComment

	for _, b := range batches {
		res := results[b.Index]
		if len(res) == 0 {
			continue
		}
		if runID == "" {
			runID = res[0].RunID
		}
		body.WriteString(formatBatchBody(b, res))
		inline = append(inline, e.inlineComments(b, res)...)
	}
	if runID == "" {
		return nil
	}

	if e.cfg.DryRun {
		return e.storePayload(ctx, runID, "comments_aggregate.json", batchPayload{
			Body:   body.String(),
			Inline: inline,
		})
	}

	if e.poster == nil {
		return fmt.Errorf("no poster configured and dry-run disabled")
	}

	if len(inline) > 0 {
		return e.poster.PostReview(ctx, pr, body.String(), inline)
	}
	return e.poster.PostIssueComment(ctx, pr, body.String())
}

// EmitSummary publishes the run-level summary comment.
func (e *Emitter) EmitSummary(ctx context.Context, pr models.PullRequest, status models.RunStatus) error {
	body := formatSummaryBody(status)

	if e.cfg.DryRun {
		return e.storePayload(ctx, status.RunID, "comments_summary.json", batchPayload{Body: body})
	}

	if e.poster == nil {
		return fmt.Errorf("no poster configured and dry-run disabled")
	}
	return e.poster.PostIssueComment(ctx, pr, body)
}

// inlineComments pins line-specific findings to diff positions. Findings
// whose line cannot be resolved within the drift window fall back to the
// batch body, which already lists every finding.
func (e *Emitter) inlineComments(b models.Batch, results []models.StageResult) []github.InlineComment {
	maps := make(map[string]github.PositionMap, len(b.Records))
	for _, rec := range b.Records {
		if rec.Patch != "" {
			maps[rec.Path] = github.BuildPositionMap(rec.Patch)
		}
	}

	var inline []github.InlineComment
	for _, res := range results {
		for _, f := range res.Findings {
			if f.Line <= 0 {
				continue
			}
			pm, ok := maps[f.Path]
			if !ok {
				continue
			}
			pos, ok := pm.Resolve(f.Line)
			if !ok {
				e.logger.Debug("finding outside diff window", "path", f.Path, "line", f.Line)
				continue
			}
			inline = append(inline, github.InlineComment{
				Path:     f.Path,
				Position: pos,
				Body:     formatInlineBody(res.StageName, f),
			})
		}
	}
	return inline
}

func (e *Emitter) storePayload(ctx context.Context, runID, name string, payload batchPayload) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal comment payload: %w", err)
	}
	if err := e.store.WriteBlob(ctx, runID, name, data); err != nil {
		return fmt.Errorf("store comment payload: %w", err)
	}
	e.logger.Info("dry run, comment payload stored", "artifact", name)
	return nil
}
