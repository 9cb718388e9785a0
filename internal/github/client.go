package github

import (
	"context"
	"fmt"

	"github.com/google/go-github/v57/github"
	"golang.org/x/time/rate"

	"github.com/prsentry/prsentry/internal/diff"
	"github.com/prsentry/prsentry/internal/errors"
	"github.com/prsentry/prsentry/internal/models"
)

// Client wraps the GitHub API client with rate limiting.
type Client struct {
	client      *github.Client
	rateLimiter *rate.Limiter
}

// NewClient creates a GitHub client. rateLimit is requests per second.
func NewClient(token string, rateLimit int) *Client {
	client := github.NewClient(nil).WithAuthToken(token)

	return &Client{
		client:      client,
		rateLimiter: rate.NewLimiter(rate.Limit(rateLimit), 1),
	}
}

// FetchPullRequest gets the PR metadata the pipeline needs.
func (c *Client) FetchPullRequest(ctx context.Context, owner, repo string, number int) (models.PullRequest, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return models.PullRequest{}, fmt.Errorf("rate limiter: %w", err)
	}

	pr, _, err := c.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return models.PullRequest{}, errors.Collaborator(fmt.Errorf("fetch pull request %s/%s#%d: %w", owner, repo, number, err))
	}

	return models.PullRequest{
		Owner:       owner,
		Repo:        repo,
		Number:      number,
		Title:       pr.GetTitle(),
		Description: pr.GetBody(),
		HeadSHA:     pr.GetHead().GetSHA(),
	}, nil
}

// ListChangedFiles retrieves every changed file of the PR. Pagination is
// drained completely; a partial listing would silently shrink the changeset.
func (c *Client) ListChangedFiles(ctx context.Context, pr models.PullRequest) ([]diff.FileEntry, error) {
	opts := &github.ListOptions{PerPage: 100}

	var entries []diff.FileEntry
	for {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		files, resp, err := c.client.PullRequests.ListFiles(ctx, pr.Owner, pr.Repo, pr.Number, opts)
		if err != nil {
			return nil, errors.Collaborator(fmt.Errorf("list changed files %s/%s#%d: %w", pr.Owner, pr.Repo, pr.Number, err))
		}

		for _, f := range files {
			entries = append(entries, diff.FileEntry{
				Path:     f.GetFilename(),
				Added:    f.GetAdditions(),
				Removed:  f.GetDeletions(),
				Patch:    f.GetPatch(),
				Status:   f.GetStatus(),
				IsBinary: f.GetPatch() == "" && f.GetChanges() > 0,
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return entries, nil
}

// PostIssueComment posts a top-level comment on the PR conversation.
func (c *Client) PostIssueComment(ctx context.Context, pr models.PullRequest, body string) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	comment := &github.IssueComment{Body: github.String(body)}
	_, _, err := c.client.Issues.CreateComment(ctx, pr.Owner, pr.Repo, pr.Number, comment)
	if err != nil {
		return errors.Collaborator(fmt.Errorf("post comment %s/%s#%d: %w", pr.Owner, pr.Repo, pr.Number, err))
	}
	return nil
}

// InlineComment is one review comment pinned to a diff position.
type InlineComment struct {
	Path     string `json:"path"`
	Position int    `json:"position"`
	Body     string `json:"body"`
}

// PostReview submits a review with inline comments. Comments whose position
// could not be resolved should already have been dropped by the caller.
func (c *Client) PostReview(ctx context.Context, pr models.PullRequest, body string, comments []InlineComment) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	draft := make([]*github.DraftReviewComment, 0, len(comments))
	for _, cm := range comments {
		draft = append(draft, &github.DraftReviewComment{
			Path:     github.String(cm.Path),
			Position: github.Int(cm.Position),
			Body:     github.String(cm.Body),
		})
	}

	review := &github.PullRequestReviewRequest{
		CommitID: github.String(pr.HeadSHA),
		Body:     github.String(body),
		Event:    github.String("COMMENT"),
		Comments: draft,
	}

	_, _, err := c.client.PullRequests.CreateReview(ctx, pr.Owner, pr.Repo, pr.Number, review)
	if err != nil {
		return errors.Collaborator(fmt.Errorf("post review %s/%s#%d: %w", pr.Owner, pr.Repo, pr.Number, err))
	}
	return nil
}
