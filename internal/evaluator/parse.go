package evaluator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/prsentry/prsentry/internal/models"
)

type stageResponse struct {
	Verdict  string            `json:"verdict"`
	Findings []findingResponse `json:"findings"`
}

type findingResponse struct {
	Path       string `json:"path"`
	Line       int    `json:"line"`
	Severity   string `json:"severity"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

// ParseStageResponse decodes a model response into a verdict and findings.
// Models sometimes wrap JSON in markdown fences even in JSON mode, so fences
// are stripped first. A response that cannot be decoded is an evaluator
// failure, not a review verdict.
func ParseStageResponse(raw string) (models.Verdict, []models.Finding, error) {
	cleaned := stripFences(raw)

	var resp stageResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return "", nil, fmt.Errorf("decode stage response: %w", err)
	}

	verdict := models.Verdict(strings.ToUpper(strings.TrimSpace(resp.Verdict)))
	findings := make([]models.Finding, 0, len(resp.Findings))
	hasBlock := false
	for _, f := range resp.Findings {
		sev := normalizeSeverity(f.Severity)
		if sev == models.SeverityBlock {
			hasBlock = true
		}
		findings = append(findings, models.Finding{
			Path:       f.Path,
			Line:       f.Line,
			Severity:   sev,
			Message:    f.Message,
			Suggestion: f.Suggestion,
		})
	}

	// The verdict must agree with the findings; a stray BLOCK finding under
	// a PASS verdict still fails the batch.
	switch verdict {
	case models.VerdictPass:
		if hasBlock {
			verdict = models.VerdictFail
		}
	case models.VerdictFail:
	default:
		return "", nil, fmt.Errorf("unrecognized verdict %q", resp.Verdict)
	}

	return verdict, findings, nil
}

func normalizeSeverity(s string) models.Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BLOCK", "BLOCKER", "CRITICAL", "HIGH":
		return models.SeverityBlock
	case "WARN", "WARNING", "MEDIUM":
		return models.SeverityWarn
	default:
		return models.SeverityInfo
	}
}

// stripFences removes a surrounding markdown code fence, if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
