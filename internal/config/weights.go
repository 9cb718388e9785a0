package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RiskWeights holds the tunable keyword weight table for the risk scorer.
// Exact numbers are tunables, not invariants; teams override them via a
// YAML file referenced by risk.weights_file.
type RiskWeights struct {
	Keywords  map[string]float64 `yaml:"keywords"`
	TestDamp  float64            `yaml:"test_damp"`
	DocDamp   float64            `yaml:"doc_damp"`
	Uncovered float64            `yaml:"uncovered_boost"`
}

// DefaultRiskWeights returns the built-in keyword weight table. The keyword
// set mirrors the path patterns historically correlated with risky changes:
// auth, data, network, and build surfaces.
func DefaultRiskWeights() RiskWeights {
	return RiskWeights{
		Keywords: map[string]float64{
			"auth":       3.0,
			"login":      3.0,
			"security":   3.0,
			"crypto":     3.0,
			"permission": 2.5,
			"acl":        2.5,
			"role":       2.0,
			"db":         2.0,
			"sql":        2.0,
			"orm":        1.5,
			"migration":  2.5,
			"network":    1.5,
			"http":       1.5,
			"api":        1.5,
			"config":     2.0,
			"build":      1.0,
			"infra":      1.5,
		},
		TestDamp:  0.5,
		DocDamp:   0.25,
		Uncovered: 1.5,
	}
}

// LoadRiskWeights reads a weights file, falling back to defaults for any
// field the file omits.
func LoadRiskWeights(path string) (RiskWeights, error) {
	weights := DefaultRiskWeights()
	if path == "" {
		return weights, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return weights, fmt.Errorf("read weights file %s: %w", path, err)
	}

	var overrides RiskWeights
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return weights, fmt.Errorf("parse weights file %s: %w", path, err)
	}

	if len(overrides.Keywords) > 0 {
		weights.Keywords = overrides.Keywords
	}
	if overrides.TestDamp > 0 {
		weights.TestDamp = overrides.TestDamp
	}
	if overrides.DocDamp > 0 {
		weights.DocDamp = overrides.DocDamp
	}
	if overrides.Uncovered > 0 {
		weights.Uncovered = overrides.Uncovered
	}

	return weights, nil
}
