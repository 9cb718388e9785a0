package risk

import (
	"sort"
	"time"

	"github.com/prsentry/prsentry/internal/models"
)

// BuildReport assembles the run-level risk report: every file, ordered by
// score descending with LOC and path tiebreaks so identical inputs always
// produce identical reports. Written once at triage completion, before any
// review stage runs.
func BuildReport(runID string, records []models.ChangeRecord, scores []models.RiskScore) models.RiskReport {
	byPath := make(map[string]models.RiskScore, len(scores))
	for _, sc := range scores {
		byPath[sc.Path] = sc
	}

	entries := make([]models.RiskEntry, 0, len(records))
	totalLOC := 0
	for _, rec := range records {
		sc := byPath[rec.Path]
		totalLOC += rec.LOC()
		entries = append(entries, models.RiskEntry{
			Path:    rec.Path,
			LOC:     rec.LOC(),
			IsTest:  rec.IsTest,
			IsDoc:   rec.IsDoc,
			Score:   sc.Score,
			Reasons: sc.Reasons,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if entries[i].LOC != entries[j].LOC {
			return entries[i].LOC > entries[j].LOC
		}
		return entries[i].Path < entries[j].Path
	})

	return models.RiskReport{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		TotalLOC:    totalLOC,
		Files:       entries,
	}
}
