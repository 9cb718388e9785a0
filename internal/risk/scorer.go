package risk

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/prsentry/prsentry/internal/config"
	"github.com/prsentry/prsentry/internal/models"
)

// Scorer assigns heuristic risk scores to change records. It is fully
// offline: no collaborator calls, so scores are reproducible in tests and
// on replay.
type Scorer struct {
	weights         config.RiskWeights
	magnitudeWeight float64
	// uncovered marks files with no test coverage signal; supplied
	// externally when available, nil otherwise.
	uncovered map[string]bool
}

// NewScorer creates a scorer with the given weight table.
func NewScorer(weights config.RiskWeights, magnitudeWeight float64) *Scorer {
	if magnitudeWeight <= 0 {
		magnitudeWeight = 0.6
	}
	return &Scorer{
		weights:         weights,
		magnitudeWeight: magnitudeWeight,
	}
}

// WithCoverageSignal supplies an external per-path "has no test coverage"
// signal. Paths marked true receive the uncovered boost.
func (s *Scorer) WithCoverageSignal(uncovered map[string]bool) *Scorer {
	s.uncovered = uncovered
	return s
}

// Score computes the additive risk score for one record. For a fixed
// classification the score is monotonic in added+removed lines: the
// magnitude term uses log1p, which is increasing, and no other term
// depends on magnitude.
func (s *Scorer) Score(rec models.ChangeRecord) models.RiskScore {
	score := 0.0
	var reasons []string

	lower := strings.ToLower(rec.Path)
	keywords := make([]string, 0, len(s.weights.Keywords))
	for kw := range s.weights.Keywords {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords) // deterministic reason ordering

	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			score += s.weights.Keywords[kw]
			reasons = append(reasons, fmt.Sprintf("path matches %q", kw))
		}
	}

	magnitude := s.magnitudeWeight * math.Log1p(float64(rec.LOC()))
	score += magnitude
	if rec.LOC() > 0 {
		reasons = append(reasons, fmt.Sprintf("%d changed lines", rec.LOC()))
	}

	switch {
	case rec.IsTest:
		score *= s.weights.TestDamp
		reasons = append(reasons, "test file")
	case rec.IsDoc:
		score *= s.weights.DocDamp
		reasons = append(reasons, "doc file")
	}

	if s.uncovered != nil && s.uncovered[rec.Path] {
		score += s.weights.Uncovered
		reasons = append(reasons, "no test coverage signal")
	}

	return models.RiskScore{
		Path:    rec.Path,
		Score:   score,
		Reasons: reasons,
	}
}

// ScoreAll scores every record, preserving input order.
func (s *Scorer) ScoreAll(records []models.ChangeRecord) []models.RiskScore {
	scores := make([]models.RiskScore, len(records))
	for i, rec := range records {
		scores[i] = s.Score(rec)
	}
	return scores
}
