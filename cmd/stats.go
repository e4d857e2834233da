package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexindo/harvester/internal/store/sqlite"
)

// newStatsCmd creates the 'stats' subcommand for inspecting a harvested
// store.
func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Prints summary statistics for the canonical store",
		RunE:  runStatsCommand,
	}
	return cmd
}

func runStatsCommand(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	store, err := sqlite.Open(cfg.Store.Path, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	stats, err := store.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("compute stats: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "records:   %d\n", stats.TotalRecords)
	fmt.Fprintf(out, "regions:   %d\n", stats.TotalRegions)
	fmt.Fprintf(out, "years:     %d\n", stats.TotalYears)
	fmt.Fprintf(out, "artifacts: %d\n", stats.Artifacts)
	if len(stats.TopRegions) > 0 {
		fmt.Fprintln(out, "top regions:")
		for _, rc := range stats.TopRegions {
			fmt.Fprintf(out, "  %-40s %d\n", rc.Region, rc.Count)
		}
	}
	return nil
}
