package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/prsentry/prsentry/internal/config"
	"github.com/prsentry/prsentry/internal/logging"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	verbose bool
	logger  *logrus.Logger
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "prsentry",
	Short: "PRSentry - staged automated review for pull requests",
	Long: `PRSentry triages a pull request's changeset, splits it into
budget-bounded batches, and runs each batch through configurable review
stages with a blocking-issue gate and bounded fix attempts. Every stage
output is persisted so a run can be audited after the fact.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = logrus.New()
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}

		if err := logging.Initialize(logging.DefaultConfig(verbose)); err != nil {
			logger.WithError(err).Warn("Failed to initialize structured logging")
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			logger.WithError(err).Warn("Failed to load config, using defaults")
			cfg = config.Default()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .prsentry/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.SetVersionTemplate(`PRSentry {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(configureCmd)
}
