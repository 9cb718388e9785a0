package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/prsentry/prsentry/internal/artifacts"
	"github.com/prsentry/prsentry/internal/models"
)

var reportList bool

var reportCmd = &cobra.Command{
	Use:   "report [run-id]",
	Short: "Inspect stored run artifacts",
	Long: `Reconstruct a run's outcome from its persisted artifacts: risk
report, per-batch stage attempts, fix attempts, and final status. With
--list, show every stored run instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().BoolVar(&reportList, "list", false, "list all stored runs")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := artifacts.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}
	defer store.Close()

	if reportList || len(args) == 0 {
		runs, err := store.ListRuns(ctx)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		if len(runs) == 0 {
			fmt.Println("No stored runs.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tPR\tOUTCOME\tBATCHES\tSTARTED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				r.RunID, r.PR, r.Outcome, r.Batches, r.StartedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	}

	runID := args[0]

	status, err := store.ReadRunStatus(ctx, runID)
	if err != nil {
		return fmt.Errorf("read run %s: %w", runID, err)
	}

	fmt.Printf("Run %s\n", status.RunID)
	if status.PR != "" {
		fmt.Printf("  PR:      %s\n", status.PR)
	}
	fmt.Printf("  Outcome: %s\n", status.Outcome)
	fmt.Printf("  Started: %s\n", status.StartedAt.Format("2006-01-02 15:04:05"))
	if status.Detail != "" {
		fmt.Printf("  Detail:  %s\n", status.Detail)
	}

	if report, err := store.ReadRiskReport(ctx, runID); err == nil {
		fmt.Printf("\nRisk report: %d files, %d changed lines\n", len(report.Files), report.TotalLOC)
		top := report.Files
		if len(top) > 5 {
			top = top[:5]
		}
		for _, f := range top {
			fmt.Printf("  %.2f  %s\n", f.Score, f.Path)
		}
	}

	indices := make([]int, 0, len(status.BatchStates))
	for i := range status.BatchStates {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	for _, i := range indices {
		fmt.Printf("\nBatch %d: %s\n", i+1, status.BatchStates[i])
		for _, stage := range cfg.Review.Stages {
			attempts, err := store.ReadAttempts(ctx, runID, i, stage)
			if err != nil || len(attempts) == 0 {
				continue
			}
			for _, a := range attempts {
				line := fmt.Sprintf("  %s attempt %d: %s", a.StageName, a.Attempt, a.Verdict)
				if blocking := a.Blocking(); len(blocking) > 0 {
					line += fmt.Sprintf(" (%d blocking)", len(blocking))
				}
				if a.Verdict == models.VerdictError && a.Err != "" {
					line += fmt.Sprintf(" [%s]", a.Err)
				}
				fmt.Println(line)
			}
		}
	}

	return nil
}
