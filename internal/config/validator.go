package config

import (
	"github.com/prsentry/prsentry/internal/errors"
)

// Validate checks the settings the pipeline depends on. Called once at
// startup; any failure is fatal before batch work begins.
func (c *Config) Validate() error {
	if c.Review.BatchBudgetLOC <= 0 {
		return errors.InvalidConfigurationf("review.batch_budget_loc must be positive, got %d", c.Review.BatchBudgetLOC)
	}
	if c.Review.MaxFixAttempts < 0 {
		return errors.InvalidConfigurationf("review.max_fix_attempts must be >= 0, got %d", c.Review.MaxFixAttempts)
	}
	if c.Review.StageTimeout <= 0 {
		return errors.InvalidConfigurationf("review.stage_timeout must be positive, got %s", c.Review.StageTimeout)
	}
	if len(c.Review.Stages) == 0 {
		return errors.InvalidConfiguration("review.stages must enable at least one stage")
	}
	for _, stage := range c.Review.Stages {
		if !knownStage(stage) {
			return errors.InvalidConfigurationf("unknown review stage %q (known: %v)", stage, KnownStages)
		}
	}
	if c.Review.MaxPatchLines < 0 {
		return errors.InvalidConfigurationf("review.max_patch_lines must be >= 0, got %d", c.Review.MaxPatchLines)
	}

	switch c.Storage.Type {
	case "fs", "sqlite", "postgres":
	default:
		return errors.InvalidConfigurationf("storage.type must be fs, sqlite, or postgres, got %q", c.Storage.Type)
	}
	if c.Storage.Type == "postgres" && c.Storage.PostgresDSN == "" {
		return errors.InvalidConfiguration("storage.postgres_dsn is required when storage.type is postgres")
	}

	if c.GitHub.RateLimit <= 0 {
		return errors.InvalidConfigurationf("github.rate_limit must be positive, got %d", c.GitHub.RateLimit)
	}

	return nil
}

func knownStage(name string) bool {
	for _, s := range KnownStages {
		if s == name {
			return true
		}
	}
	return false
}
