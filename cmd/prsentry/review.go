package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/prsentry/prsentry/internal/artifacts"
	"github.com/prsentry/prsentry/internal/comments"
	"github.com/prsentry/prsentry/internal/diff"
	"github.com/prsentry/prsentry/internal/evaluator"
	"github.com/prsentry/prsentry/internal/github"
	"github.com/prsentry/prsentry/internal/llm"
	"github.com/prsentry/prsentry/internal/models"
	"github.com/prsentry/prsentry/internal/pipeline"
	"github.com/prsentry/prsentry/internal/runner"
)

var (
	reviewDiffFile    string
	reviewContextFile string
	reviewRepoDir     string
)

// prContext is the saved-PR input shape: metadata plus the raw changed-file
// list, as captured by an earlier fetch.
type prContext struct {
	PR    models.PullRequest `json:"pr"`
	Files []diff.FileEntry   `json:"files"`
}

var reviewCmd = &cobra.Command{
	Use:   "review [owner/repo#number]",
	Short: "Run the full staged review over a pull request or local diff",
	Long: `Run triage, batching, and every configured review stage over a
changeset. The changeset comes from a GitHub pull request reference
(owner/repo#number) or, with --diff, from a local unified diff file.

Local diff runs never post to GitHub; comment payloads are stored as run
artifacts instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReview,
}

func init() {
	reviewCmd.Flags().StringVar(&reviewDiffFile, "diff", "", "review a local unified diff file instead of a PR")
	reviewCmd.Flags().StringVar(&reviewContextFile, "pr-context", "", "review a saved PR context JSON file instead of fetching")
	reviewCmd.Flags().StringVar(&reviewRepoDir, "dir", ".", "repository directory for verification commands")
	reviewCmd.Flags().Bool("dry-run", false, "do not post comments, store payloads as artifacts")
	reviewCmd.Flags().Bool("review-only", false, "skip fix attempts, report findings only")
}

func runReview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		cfg.Comments.DryRun = true
	}
	if reviewOnly, _ := cmd.Flags().GetBool("review-only"); reviewOnly {
		cfg.Review.ReviewOnly = true
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	store, err := artifacts.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}
	defer store.Close()

	var (
		pr      models.PullRequest
		entries []diff.FileEntry
		gh      *github.Client
	)

	switch {
	case reviewDiffFile != "":
		data, err := os.ReadFile(reviewDiffFile)
		if err != nil {
			return fmt.Errorf("read diff file: %w", err)
		}
		entries, err = diff.ParseUnifiedDiff(string(data))
		if err != nil {
			return err
		}
		pr = models.PullRequest{Title: fmt.Sprintf("local diff %s", reviewDiffFile)}
		// No PR to comment on.
		cfg.Comments.DryRun = true

	case reviewContextFile != "":
		data, err := os.ReadFile(reviewContextFile)
		if err != nil {
			return fmt.Errorf("read PR context file: %w", err)
		}
		var pc prContext
		if err := json.Unmarshal(data, &pc); err != nil {
			return fmt.Errorf("parse PR context file: %w", err)
		}
		pr = pc.PR
		entries = pc.Files
		// Saved context, no live client to post with.
		cfg.Comments.DryRun = true

	case len(args) == 1:
		if cfg.GitHub.Token == "" {
			return fmt.Errorf("no GitHub token configured; set GITHUB_TOKEN or run 'prsentry configure'")
		}
		owner, repo, number, err := parsePRRef(args[0])
		if err != nil {
			return err
		}
		gh = github.NewClient(cfg.GitHub.Token, cfg.GitHub.RateLimit)
		pr, err = gh.FetchPullRequest(ctx, owner, repo, number)
		if err != nil {
			return err
		}
		entries, err = gh.ListChangedFiles(ctx, pr)
		if err != nil {
			return err
		}

	default:
		return fmt.Errorf("a pull request reference, --diff, or --pr-context is required")
	}

	client, err := llm.NewClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	eval := evaluator.NewLLMEvaluator(client, cfg)

	opts := []pipeline.Option{}
	if cfg.Comments.Enabled || cfg.Comments.DryRun {
		var poster comments.Poster
		if gh != nil {
			poster = gh
		}
		opts = append(opts, pipeline.WithEmitter(comments.NewEmitter(poster, store, cfg.Comments)))
	}
	if cfg.Run.TestCmd != "" || cfg.Run.CoverageCmd != "" {
		opts = append(opts, pipeline.WithRunner(runner.New(reviewRepoDir, 0)))
	}

	orch := pipeline.New(cfg, store, eval, opts...)
	status, err := orch.Run(ctx, pr, entries)
	if err != nil {
		return err
	}

	printRunStatus(status)

	if status.Outcome == models.OutcomeDirty {
		return fmt.Errorf("review found blocking issues in %d batch(es)", countFailed(status))
	}
	return nil
}

func countFailed(status models.RunStatus) int {
	n := 0
	for _, s := range status.BatchStates {
		if s == models.BatchFailed {
			n++
		}
	}
	return n
}

func printRunStatus(status models.RunStatus) {
	fmt.Printf("\nRun %s: %s (%d batches)\n", status.RunID, status.Outcome, status.Batches)
	for i := 0; i < status.Batches; i++ {
		fmt.Printf("  batch %d: %s\n", i+1, status.BatchStates[i])
	}
	if status.Detail != "" {
		fmt.Printf("  detail: %s\n", status.Detail)
	}
}

// parsePRRef parses "owner/repo#number" or a full pull request URL.
func parsePRRef(ref string) (string, string, int, error) {
	if after, ok := strings.CutPrefix(ref, "https://github.com/"); ok {
		parts := strings.Split(strings.TrimSuffix(after, "/"), "/")
		if len(parts) >= 4 && parts[2] == "pull" {
			number, err := strconv.Atoi(parts[3])
			if err == nil && number > 0 {
				return parts[0], parts[1], number, nil
			}
		}
		return "", "", 0, fmt.Errorf("invalid pull request URL %q", ref)
	}

	slash := strings.Index(ref, "/")
	hash := strings.LastIndex(ref, "#")
	if slash <= 0 || hash <= slash+1 || hash == len(ref)-1 {
		return "", "", 0, fmt.Errorf("invalid pull request reference %q, expected owner/repo#number", ref)
	}

	number, err := strconv.Atoi(ref[hash+1:])
	if err != nil || number <= 0 {
		return "", "", 0, fmt.Errorf("invalid pull request number in %q", ref)
	}

	return ref[:slash], ref[slash+1 : hash], number, nil
}
