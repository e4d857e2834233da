package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lexindo/harvester/internal/api"
	"github.com/lexindo/harvester/internal/backoff"
	"github.com/lexindo/harvester/internal/config"
	"github.com/lexindo/harvester/internal/engine"
	"github.com/lexindo/harvester/internal/harvest"
	"github.com/lexindo/harvester/internal/progress"
	"github.com/lexindo/harvester/internal/progress/sinks"
	"github.com/lexindo/harvester/internal/ratelimit"
	"github.com/lexindo/harvester/internal/source/bpk"
	"github.com/lexindo/harvester/internal/source/peraturan"
)

// newHarvestCmd creates the 'harvest' subcommand, the main entry point for
// a crawl run.
func newHarvestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Runs the catalog harvest",
		Long: `Walks every listing page of the catalog with a bounded worker pool.
A SIGINT saves a checkpoint and merges the shards collected so far; rerunning
the command resumes from that checkpoint.`,
		RunE: runHarvestCommand,
	}
	return cmd
}

func runHarvestCommand(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	snapshot := sinks.NewSnapshotSink()

	hub := progress.NewHub(progress.Config{Logger: logger},
		sinks.NewLogSink(logger),
		promSink,
		snapshot,
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
	}()

	eng := engine.New(engineConfig(cfg), newSource(cfg, logger), hub, logger)

	if cfg.Server.Enabled {
		server, err := api.NewServer(registry, snapshot, eng.Scheduler(), eng.Tracker(), logger)
		if err != nil {
			return fmt.Errorf("init observability server: %w", err)
		}
		go func() {
			if err := server.Serve(ctx, cfg.Server.Port); err != nil {
				logger.Error("observability server failed", zap.Error(err))
			}
		}()
	}

	summary, err := eng.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run harvest: %w", err)
	}

	logger.Info("harvest command finished",
		zap.Int("total_items", summary.TotalItems),
		zap.Int("scraped_pages", summary.ScrapedPages),
		zap.Int("failed_pages", len(summary.FailedPages)),
	)
	return nil
}

// newSource builds the site implementation named by harvest.source. Config
// validation guarantees the name is known.
func newSource(cfg config.Config, logger *zap.Logger) harvest.Source {
	if cfg.Harvest.Source == "bpk" {
		return bpk.New(bpk.Config{
			UserAgent:     cfg.HTTP.UserAgent,
			ExpectedPages: cfg.Harvest.ExpectedPages,
			Timeout:       cfg.HTTPTimeout(),
		}, logger)
	}
	return peraturan.New(peraturan.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		PageSize:      cfg.Harvest.PageSize,
		ExpectedItems: cfg.Harvest.ExpectedItems,
		Timeout:       cfg.HTTPTimeout(),
	}, logger)
}

func engineConfig(cfg config.Config) engine.Config {
	return engine.Config{
		MaxWorkers:        cfg.Harvest.MaxWorkers,
		MaxRetries:        cfg.Harvest.MaxRetries,
		MinItemsPerPage:   cfg.Harvest.MinItemsPerPage,
		ExpectedItems:     cfg.Harvest.ExpectedItems,
		DownloadArtifacts: cfg.Artifacts.Enabled,
		StorePath:         cfg.Store.Path,
		ArtifactDir:       cfg.Artifacts.Dir,
		ArtifactTimeout:   time.Duration(cfg.Artifacts.TimeoutSeconds) * time.Second,
		CheckpointPath:    cfg.Store.CheckpointPath,
		CheckpointEvery:   time.Duration(cfg.Harvest.CheckpointEverySec) * time.Second,
		RateLimit: ratelimit.Config{
			MaxInFlight: cfg.RateLimit.MaxInFlight,
			MinInterval: cfg.MinInterval(),
		},
		Backoff: backoff.Policy{
			MaxAttempts: cfg.HTTP.MaxAttempts,
			BaseDelay:   time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
			Multiplier:  2,
			Jitter:      cfg.HTTP.BackoffJitter,
		},
	}
}
