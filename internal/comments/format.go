package comments

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prsentry/prsentry/internal/models"
)

func verdictBadge(v models.Verdict) string {
	switch v {
	case models.VerdictPass:
		return "✅ PASS"
	case models.VerdictFail:
		return "❌ FAIL"
	case models.VerdictError:
		return "⚠️ ERROR"
	default:
		return string(v)
	}
}

func severityBadge(s models.Severity) string {
	switch s {
	case models.SeverityBlock:
		return "🚫 BLOCK"
	case models.SeverityWarn:
		return "⚠️ WARN"
	default:
		return "ℹ️ INFO"
	}
}

// formatBatchBody renders one batch's results as a markdown comment.
func formatBatchBody(b models.Batch, results []models.StageResult) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "## Review batch %d (%d files, %d changed lines)\n\n", b.Index+1, len(b.Records), b.TotalLOC)

	for _, res := range results {
		fmt.Fprintf(&sb, "### %s — %s\n\n", res.StageName, verdictBadge(res.Verdict))

		if res.Verdict == models.VerdictError {
			fmt.Fprintf(&sb, "Stage could not complete: %s\n\n", res.Err)
			continue
		}
		if len(res.Findings) == 0 {
			sb.WriteString("No findings.\n\n")
			continue
		}

		for _, f := range res.Findings {
			loc := f.Path
			if f.Line > 0 {
				loc = fmt.Sprintf("%s:%d", f.Path, f.Line)
			}
			fmt.Fprintf(&sb, "- %s `%s` %s\n", severityBadge(f.Severity), loc, f.Message)
			if f.Suggestion != "" {
				fmt.Fprintf(&sb, "  - Suggestion: %s\n", f.Suggestion)
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// formatInlineBody renders one finding as an inline review comment.
func formatInlineBody(stage string, f models.Finding) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**[%s] %s**\n\n%s", stage, severityBadge(f.Severity), f.Message)
	if f.Suggestion != "" {
		fmt.Fprintf(&sb, "\n\n**Suggestion:** %s", f.Suggestion)
	}
	return sb.String()
}

// formatSummaryBody renders the run-level summary comment.
func formatSummaryBody(status models.RunStatus) string {
	var sb strings.Builder

	switch status.Outcome {
	case models.OutcomeClean:
		sb.WriteString("## ✅ Automated review passed\n\n")
	case models.OutcomeDirty:
		sb.WriteString("## ❌ Automated review found blocking issues\n\n")
	default:
		sb.WriteString("## ⚠️ Automated review aborted\n\n")
	}

	fmt.Fprintf(&sb, "%d batch(es) reviewed.\n\n", status.Batches)

	if len(status.BatchStates) > 0 {
		indices := make([]int, 0, len(status.BatchStates))
		for i := range status.BatchStates {
			indices = append(indices, i)
		}
		sort.Ints(indices)

		sb.WriteString("| Batch | State |\n|---|---|\n")
		for _, i := range indices {
			fmt.Fprintf(&sb, "| %d | %s |\n", i+1, status.BatchStates[i])
		}
		sb.WriteString("\n")
	}

	if status.Detail != "" {
		fmt.Fprintf(&sb, "Details: %s\n", status.Detail)
	}

	fmt.Fprintf(&sb, "\n<sub>run `%s`</sub>\n", status.RunID)
	return sb.String()
}
