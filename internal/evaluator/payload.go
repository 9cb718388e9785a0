package evaluator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/prsentry/prsentry/internal/config"
	"github.com/prsentry/prsentry/internal/models"
)

// PayloadOptions controls how a batch snapshot is rendered for the model.
type PayloadOptions struct {
	MaxPatchLines int
	SkipTestFiles bool
	SkipDocFiles  bool
}

// filePayload is one file as the model sees it.
type filePayload struct {
	Path    string `json:"path"`
	Status  string `json:"status,omitempty"`
	Added   int    `json:"added_lines"`
	Removed int    `json:"removed_lines"`
	IsTest  bool   `json:"is_test,omitempty"`
	IsDoc   bool   `json:"is_doc,omitempty"`
	Patch   string `json:"patch,omitempty"`
	Note    string `json:"note,omitempty"`
}

type batchPayload struct {
	PRTitle       string        `json:"pr_title"`
	PRDescription string        `json:"pr_description,omitempty"`
	BatchIndex    int           `json:"batch_index"`
	Attempt       int           `json:"attempt"`
	Files         []filePayload `json:"files"`
	PriorBlocking []fixFinding  `json:"prior_blocking_findings,omitempty"`
}

type fixFinding struct {
	Path     string `json:"path"`
	Line     int    `json:"line,omitempty"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// BuildPayload renders the batch snapshot as the JSON document a stage
// prompt operates on. Review stages omit test and doc patches when
// configured. The coverage stage inverts that: test patches stay visible
// since its whole job is relating code changes to tests, while code patches
// are stripped down to line counts.
func BuildPayload(stage string, bc models.BatchContext, opts PayloadOptions) (string, error) {
	payload := batchPayload{
		PRTitle:       bc.PR.Title,
		PRDescription: bc.PR.Description,
		BatchIndex:    bc.Batch.Index,
		Attempt:       bc.Attempt,
	}

	for _, rec := range bc.Batch.Records {
		fp := filePayload{
			Path:    rec.Path,
			Status:  rec.Status,
			Added:   rec.AddedLines,
			Removed: rec.RemovedLines,
			IsTest:  rec.IsTest,
			IsDoc:   rec.IsDoc,
		}

		switch {
		case rec.IsBinary:
			fp.Note = "binary file, no patch"
		case stage == config.StageCoverage && rec.IsTest:
			fp.Patch = truncatePatch(rec.Patch, opts.MaxPatchLines)
		case stage == config.StageCoverage && !rec.IsDoc:
			fp.Note = "patch stripped, line counts only"
		case rec.IsTest && opts.SkipTestFiles:
			fp.Note = "test file, patch omitted"
		case rec.IsDoc && opts.SkipDocFiles:
			fp.Note = "documentation file, patch omitted"
		default:
			fp.Patch = truncatePatch(rec.Patch, opts.MaxPatchLines)
		}

		payload.Files = append(payload.Files, fp)
	}

	for _, f := range bc.Blocking {
		payload.PriorBlocking = append(payload.PriorBlocking, fixFinding{
			Path:     f.Path,
			Line:     f.Line,
			Severity: string(f.Severity),
			Message:  f.Message,
		})
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal batch payload: %w", err)
	}
	return string(data), nil
}

// truncatePatch caps a patch at maxLines, appending a marker so the model
// knows content was cut.
func truncatePatch(patch string, maxLines int) string {
	if maxLines <= 0 || patch == "" {
		return patch
	}
	lines := strings.Split(patch, "\n")
	if len(lines) <= maxLines {
		return patch
	}
	truncated := lines[:maxLines]
	return strings.Join(truncated, "\n") + fmt.Sprintf("\n... (%d lines truncated)", len(lines)-maxLines)
}
