package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/prsentry/prsentry/internal/batch"
	"github.com/prsentry/prsentry/internal/config"
	"github.com/prsentry/prsentry/internal/diff"
	"github.com/prsentry/prsentry/internal/github"
	"github.com/prsentry/prsentry/internal/models"
	"github.com/prsentry/prsentry/internal/risk"
)

var planDiffFile string

var planCmd = &cobra.Command{
	Use:   "plan [owner/repo#number]",
	Short: "Show the batch plan and risk ranking without running any stage",
	Long: `Run triage only: normalize the changeset, score every file, and
print the deterministic batch plan. No LLM calls, no comments, no
artifacts. The same changeset and budget always print the same plan.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planDiffFile, "diff", "", "plan from a local unified diff file instead of a PR")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if err := cfg.Validate(); err != nil {
		return err
	}

	var entries []diff.FileEntry

	switch {
	case planDiffFile != "":
		data, err := os.ReadFile(planDiffFile)
		if err != nil {
			return fmt.Errorf("read diff file: %w", err)
		}
		entries, err = diff.ParseUnifiedDiff(string(data))
		if err != nil {
			return err
		}

	case len(args) == 1:
		if cfg.GitHub.Token == "" {
			return fmt.Errorf("no GitHub token configured; set GITHUB_TOKEN or run 'prsentry configure'")
		}
		owner, repo, number, err := parsePRRef(args[0])
		if err != nil {
			return err
		}
		gh := github.NewClient(cfg.GitHub.Token, cfg.GitHub.RateLimit)
		pr, err := gh.FetchPullRequest(ctx, owner, repo, number)
		if err != nil {
			return err
		}
		entries, err = gh.ListChangedFiles(ctx, pr)
		if err != nil {
			return err
		}

	default:
		return fmt.Errorf("either a pull request reference or --diff is required")
	}

	normalizer := diff.NewNormalizer(diff.NewClassifier(cfg.Classify.TestGlobs, cfg.Classify.DocGlobs))
	records, err := normalizer.Normalize(entries)
	if err != nil {
		return err
	}

	weights := config.DefaultRiskWeights()
	if cfg.Risk.WeightsFile != "" {
		weights, err = config.LoadRiskWeights(cfg.Risk.WeightsFile)
		if err != nil {
			return err
		}
	}
	scorer := risk.NewScorer(weights, cfg.Risk.MagnitudeWeight)
	report := risk.BuildReport("", records, scorer.ScoreAll(records))

	batches, err := batch.Split(records, cfg.Review.BatchBudgetLOC)
	if err != nil {
		return err
	}

	printPlan(report, batches, cfg.Review.BatchBudgetLOC)
	return nil
}

func printPlan(report models.RiskReport, batches []models.Batch, budget int) {
	fmt.Printf("Changeset: %d files, %d changed lines, budget %d lines/batch\n\n", len(report.Files), report.TotalLOC, budget)

	fmt.Println("Risk ranking:")
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  SCORE\tLOC\tPATH\tREASONS")
	for _, f := range report.Files {
		reasons := ""
		if len(f.Reasons) > 0 {
			reasons = f.Reasons[0]
			if len(f.Reasons) > 1 {
				reasons += fmt.Sprintf(" (+%d more)", len(f.Reasons)-1)
			}
		}
		fmt.Fprintf(w, "  %.2f\t%d\t%s\t%s\n", f.Score, f.LOC, f.Path, reasons)
	}
	w.Flush()

	fmt.Printf("\nBatch plan (%d batches):\n", len(batches))
	for _, b := range batches {
		marker := ""
		if b.TotalLOC > budget {
			marker = " (oversized singleton)"
		}
		fmt.Printf("  batch %d: %d files, %d lines%s\n", b.Index+1, len(b.Records), b.TotalLOC, marker)
		for _, p := range b.Paths() {
			fmt.Printf("    %s\n", p)
		}
	}
}
