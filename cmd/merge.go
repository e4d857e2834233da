package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lexindo/harvester/internal/store/sqlite"
)

// newMergeCmd creates the 'merge' subcommand. A harvest run merges its own
// shards on exit; this command exists for shards left behind by a crash.
func newMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merges leftover worker shards into the canonical store",
		RunE:  runMergeCommand,
	}
	return cmd
}

func runMergeCommand(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	shards, err := sqlite.FindShards(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("find shards: %w", err)
	}
	if len(shards) == 0 {
		logger.Info("no shards to merge")
		return nil
	}

	store, err := sqlite.Open(cfg.Store.Path, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	result, err := store.MergeShards(cmd.Context(), shards)
	if err != nil {
		return fmt.Errorf("merge shards: %w", err)
	}

	logger.Info("merge finished",
		zap.Int("shards_merged", result.ShardsMerged),
		zap.Int("shards_failed", result.ShardsFailed),
		zap.Int("records_merged", result.RecordsMerged),
	)
	if result.ShardsFailed > 0 {
		return fmt.Errorf("%d shard(s) failed to merge: %v", result.ShardsFailed, result.Failed)
	}
	return nil
}
