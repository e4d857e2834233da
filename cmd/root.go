// Package cmd defines and implements the CLI commands for the harvester
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lexindo/harvester/internal/config"
	"github.com/lexindo/harvester/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvests the peraturan.go.id regional regulation catalog",
		Long: `harvester walks the paginated regional regulation catalog on
peraturan.go.id with a bounded worker pool, validates every page, downloads
regulation PDFs, and consolidates per-worker shards into one SQLite store.
Interrupted runs resume from a JSON checkpoint.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults + HARVESTER_* env)")

	cmd.AddCommand(newHarvestCmd())
	cmd.AddCommand(newMergeCmd())
	cmd.AddCommand(newStatsCmd())

	return cmd
}

// loadConfig reads the config file named by --config plus environment
// overrides, and builds the run logger.
func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
