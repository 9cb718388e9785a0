package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Stage names form a closed set; enabling a stage means listing it here.
const (
	StagePerformance = "performance"
	StageSecurity    = "security"
	StageCoverage    = "coverage"
)

// KnownStages lists every review stage the pipeline can run.
var KnownStages = []string{StagePerformance, StageSecurity, StageCoverage}

// Config holds all configuration settings
type Config struct {
	// Review pipeline settings
	Review ReviewConfig `yaml:"review" mapstructure:"review"`

	// Path classification globs
	Classify ClassifyConfig `yaml:"classify" mapstructure:"classify"`

	// Risk scoring tunables
	Risk RiskConfig `yaml:"risk" mapstructure:"risk"`

	// Artifact storage configuration
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// GitHub configuration
	GitHub GitHubConfig `yaml:"github" mapstructure:"github"`

	// Comment emitter settings
	Comments CommentsConfig `yaml:"comments" mapstructure:"comments"`

	// LLM evaluator settings
	LLM LLMConfig `yaml:"llm" mapstructure:"llm"`

	// Shared rate limiter settings
	Limiter LimiterConfig `yaml:"limiter" mapstructure:"limiter"`

	// Post-run commands
	Run RunConfig `yaml:"run" mapstructure:"run"`
}

type ReviewConfig struct {
	BatchBudgetLOC int           `yaml:"batch_budget_loc" mapstructure:"batch_budget_loc"`
	Stages         []string      `yaml:"stages" mapstructure:"stages"`
	MaxFixAttempts int           `yaml:"max_fix_attempts" mapstructure:"max_fix_attempts"`
	ReviewOnly     bool          `yaml:"review_only" mapstructure:"review_only"`
	StageTimeout   time.Duration `yaml:"stage_timeout" mapstructure:"stage_timeout"`
	MaxPatchLines  int           `yaml:"max_patch_lines" mapstructure:"max_patch_lines"`
	SkipTestFiles  bool          `yaml:"skip_test_files" mapstructure:"skip_test_files"`
	SkipDocFiles   bool          `yaml:"skip_doc_files" mapstructure:"skip_doc_files"`
}

type ClassifyConfig struct {
	TestGlobs []string `yaml:"test_globs" mapstructure:"test_globs"`
	DocGlobs  []string `yaml:"doc_globs" mapstructure:"doc_globs"`
}

type RiskConfig struct {
	WeightsFile     string  `yaml:"weights_file" mapstructure:"weights_file"`
	MagnitudeWeight float64 `yaml:"magnitude_weight" mapstructure:"magnitude_weight"`
}

type StorageConfig struct {
	Type        string `yaml:"type" mapstructure:"type"` // "fs", "sqlite", "postgres"
	Dir         string `yaml:"dir" mapstructure:"dir"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn" mapstructure:"postgres_dsn"`
}

type GitHubConfig struct {
	Token     string `yaml:"token" mapstructure:"token"`
	RateLimit int    `yaml:"rate_limit" mapstructure:"rate_limit"` // Requests per second
}

type CommentsConfig struct {
	Enabled     bool `yaml:"enabled" mapstructure:"enabled"`
	Incremental bool `yaml:"incremental" mapstructure:"incremental"`
	DryRun      bool `yaml:"dry_run" mapstructure:"dry_run"`
}

type LLMConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"` // "openai", "gemini"
	APIKey   string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	Model    string `yaml:"model" mapstructure:"model"`
	FixModel string `yaml:"fix_model" mapstructure:"fix_model"`
}

type LimiterConfig struct {
	RedisAddr string `yaml:"redis_addr" mapstructure:"redis_addr"`
}

type RunConfig struct {
	TestCmd     string `yaml:"test_cmd" mapstructure:"test_cmd"`
	CoverageCmd string `yaml:"coverage_cmd" mapstructure:"coverage_cmd"`
}

// Default returns default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Review: ReviewConfig{
			BatchBudgetLOC: 2000,
			Stages:         append([]string(nil), KnownStages...),
			MaxFixAttempts: 2,
			StageTimeout:   2 * time.Minute,
			MaxPatchLines:  500,
			SkipTestFiles:  true,
			SkipDocFiles:   true,
		},
		Classify: ClassifyConfig{
			TestGlobs: []string{
				"**/test/**", "**/tests/**", "**/__tests__/**",
				"*_test.*", "*.spec.*", "*.test.*", "test_*",
			},
			DocGlobs: []string{"*.md", "*.mdx", "docs/**"},
		},
		Risk: RiskConfig{
			MagnitudeWeight: 0.6,
		},
		Storage: StorageConfig{
			Type:       "fs",
			Dir:        filepath.Join(homeDir, ".prsentry", "runs"),
			SQLitePath: filepath.Join(homeDir, ".prsentry", "artifacts.db"),
		},
		GitHub: GitHubConfig{
			RateLimit: 10,
		},
		Comments: CommentsConfig{
			Incremental: true,
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			FixModel: "gpt-4o",
		},
	}
}

// Load loads configuration from file, environment, and defaults
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("review", cfg.Review)
	v.SetDefault("classify", cfg.Classify)
	v.SetDefault("risk", cfg.Risk)
	v.SetDefault("storage", cfg.Storage)
	v.SetDefault("github", cfg.GitHub)
	v.SetDefault("comments", cfg.Comments)
	v.SetDefault("llm", cfg.LLM)
	v.SetDefault("limiter", cfg.Limiter)
	v.SetDefault("run", cfg.Run)

	v.SetEnvPrefix("PRSENTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".prsentry")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".prsentry"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence
func loadEnvFiles() {
	envFiles := []string{
		".env.local",
		".env",
	}

	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}

	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".prsentry", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies environment variable overrides to config.
// Precedence: env var (highest), then keychain, then config file.
func applyEnvOverrides(cfg *Config) {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		cfg.GitHub.Token = token
	} else if cfg.GitHub.Token == "" {
		km := NewKeyringManager()
		if km.IsAvailable() {
			if token, err := km.GetGitHubToken(); err == nil && token != "" {
				cfg.GitHub.Token = token
			}
		}
	}
	if rateLimit := os.Getenv("GITHUB_RATE_LIMIT"); rateLimit != "" {
		if rate, err := strconv.Atoi(rateLimit); err == nil {
			cfg.GitHub.RateLimit = rate
		}
	}

	if key := os.Getenv("LLM_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.LLM.Provider == "openai" {
		cfg.LLM.APIKey = key
	} else if key := os.Getenv("GEMINI_API_KEY"); key != "" && cfg.LLM.Provider == "gemini" {
		cfg.LLM.APIKey = key
	} else if cfg.LLM.APIKey == "" {
		km := NewKeyringManager()
		if km.IsAvailable() {
			if key, err := km.GetAPIKey(); err == nil && key != "" {
				cfg.LLM.APIKey = key
			}
		}
	}

	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		cfg.LLM.Provider = provider
	}
	if url := os.Getenv("LLM_BASE_URL"); url != "" {
		cfg.LLM.BaseURL = url
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		cfg.LLM.Model = model
	}

	if budget := os.Getenv("MAX_LOC_PER_BATCH"); budget != "" {
		if loc, err := strconv.Atoi(budget); err == nil {
			cfg.Review.BatchBudgetLOC = loc
		}
	}
	if reviewOnly := os.Getenv("REVIEW_ONLY"); reviewOnly != "" {
		cfg.Review.ReviewOnly = reviewOnly == "true"
	}
	if dryRun := os.Getenv("DRY_RUN_COMMENTS"); dryRun != "" {
		cfg.Comments.DryRun = dryRun == "true"
	}
	if incremental := os.Getenv("INCREMENTAL_COMMENTS"); incremental != "" {
		cfg.Comments.Incremental = incremental == "true"
	}

	if storageType := os.Getenv("STORAGE_TYPE"); storageType != "" {
		cfg.Storage.Type = storageType
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		cfg.Storage.PostgresDSN = dsn
	}
	if dir := os.Getenv("OUT_DIR"); dir != "" {
		cfg.Storage.Dir = expandPath(dir)
	}

	if addr := os.Getenv("LIMITER_REDIS_ADDR"); addr != "" {
		cfg.Limiter.RedisAddr = addr
	}

	if cmd := os.Getenv("TEST_CMD"); cmd != "" {
		cfg.Run.TestCmd = cmd
	}
	if cmd := os.Getenv("COVERAGE_CMD"); cmd != "" {
		cfg.Run.CoverageCmd = cmd
	}
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("review", c.Review)
	v.Set("classify", c.Classify)
	v.Set("risk", c.Risk)
	v.Set("storage", c.Storage)
	v.Set("github", c.GitHub)
	v.Set("comments", c.Comments)
	v.Set("llm", c.LLM)
	v.Set("limiter", c.Limiter)
	v.Set("run", c.Run)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
