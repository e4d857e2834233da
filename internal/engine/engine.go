// Package engine orchestrates a harvest run: checkpoint resume, page
// scheduling, the worker pool, and the final shard merge.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lexindo/harvester/internal/backoff"
	"github.com/lexindo/harvester/internal/checkpoint"
	"github.com/lexindo/harvester/internal/harvest"
	"github.com/lexindo/harvester/internal/progress"
	"github.com/lexindo/harvester/internal/ratelimit"
	"github.com/lexindo/harvester/internal/scheduler"
	"github.com/lexindo/harvester/internal/store/sqlite"
	"github.com/lexindo/harvester/internal/worker"
)

// Config controls one harvest run.
type Config struct {
	MaxWorkers        int
	MaxRetries        int
	MinItemsPerPage   int
	ExpectedItems     int
	DownloadArtifacts bool
	StorePath         string
	ArtifactDir       string
	ArtifactTimeout   time.Duration
	CheckpointPath    string
	// CheckpointEvery throttles periodic checkpoint writes. Zero disables
	// the periodic saver; the run-end save still happens.
	CheckpointEvery time.Duration

	RateLimit ratelimit.Config
	Backoff   backoff.Policy
}

// Summary reports what a run accomplished.
type Summary struct {
	RunID         [16]byte
	Resumed       bool
	TotalPages    int
	ScrapedPages  int
	DegradedPages []int
	FailedPages   map[int]harvest.FailureInfo
	TotalItems    int
	Merge         sqlite.MergeResult
	Errors        []harvest.CategorySummary
	Elapsed       time.Duration
}

// Engine wires the run pipeline together. Build one per run.
type Engine struct {
	cfg         Config
	source      harvest.Source
	scheduler   *scheduler.Scheduler
	tracker     *harvest.ErrorTracker
	checkpoints *checkpoint.Store
	emitter     progress.Emitter
	runID       [16]byte
	logger      *zap.Logger
}

// New constructs an Engine. The emitter may be nil when progress reporting
// is not wired.
func New(cfg Config, source harvest.Source, emitter progress.Emitter, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg,
		source: source,
		scheduler: scheduler.New(scheduler.Config{
			MaxRetries:    cfg.MaxRetries,
			ExpectedItems: cfg.ExpectedItems,
		}, logger),
		tracker:     harvest.NewErrorTracker(logger),
		checkpoints: checkpoint.NewStore(cfg.CheckpointPath, logger),
		emitter:     emitter,
		runID:       progress.NewRunID(),
		logger:      logger,
	}
}

// Scheduler exposes live run state for progress endpoints.
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.scheduler }

// Tracker exposes the error tracker for progress endpoints.
func (e *Engine) Tracker() *harvest.ErrorTracker { return e.tracker }

// Run executes the harvest until the catalog drains or ctx is canceled.
// Interrupted runs save a checkpoint and merge whatever shards exist, so a
// subsequent Run resumes where this one stopped.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	start := time.Now()

	prior, resumed := e.checkpoints.Load()
	if resumed {
		e.logger.Info("resuming from checkpoint",
			zap.Int("scraped_pages", len(prior.ScrapedPages)),
			zap.Int("failed_pages", len(prior.FailedPages)),
			zap.Int("total_items", prior.TotalItems),
			zap.Time("saved_at", prior.Timestamp),
		)
	}

	totalPages, err := e.source.TotalPages(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("discover total pages: %w", err)
	}
	e.logger.Info("run starting",
		zap.String("source", e.source.Name()),
		zap.Int("total_pages", totalPages),
		zap.Int("workers", e.cfg.MaxWorkers),
	)

	scraped := prior.ScrapedSet()
	e.scheduler.Seed(totalPages, func(page int) bool {
		if scraped[page] {
			return true
		}
		// Pages that exhausted retries in a prior run stay failed; anything
		// else that failed gets a fresh shot.
		if info, ok := prior.FailedPages[page]; ok && info.FinalFailure {
			return true
		}
		return false
	})
	// Prior permanent failures stay enumerable: they were skipped at seed
	// time, so they would otherwise vanish from the next checkpoint.
	e.scheduler.RestoreFailures(prior.FailedPages)
	e.scheduler.SetItemCount(prior.TotalItems)

	e.emitRun(progress.StageRunStart, totalPages)

	stopSaver := e.startCheckpointSaver(ctx)
	defer stopSaver()

	pool := worker.New(
		e.source,
		e.scheduler,
		harvest.NewValidator(e.cfg.MinItemsPerPage, e.logger),
		e.tracker,
		ratelimit.New(e.cfg.RateLimit),
		e.cfg.Backoff,
		e.emitter,
		e.runID,
		worker.Config{
			MaxWorkers:        e.cfg.MaxWorkers,
			DownloadArtifacts: e.cfg.DownloadArtifacts,
			StorePath:         e.cfg.StorePath,
			ArtifactDir:       e.cfg.ArtifactDir,
			ArtifactTimeout:   e.cfg.ArtifactTimeout,
		},
		e.logger,
	)
	runErr := pool.Run(ctx)

	if err := e.saveCheckpoint(); err != nil {
		e.logger.Error("checkpoint save failed", zap.Error(err))
	}

	// Merge shards even on an interrupted run; partial shards hold real
	// records and the merge is idempotent.
	merge, mergeErr := e.mergeShards(context.WithoutCancel(ctx))
	if mergeErr != nil {
		e.logger.Error("shard merge failed", zap.Error(mergeErr))
	}

	summary := Summary{
		RunID:         e.runID,
		Resumed:       resumed,
		TotalPages:    totalPages,
		ScrapedPages:  len(e.scheduler.ScrapedPages()),
		DegradedPages: e.scheduler.DegradedPages(),
		FailedPages:   e.scheduler.FailedPages(),
		TotalItems:    e.scheduler.TotalItems(),
		Merge:         merge,
		Errors:        e.tracker.Summary(),
		Elapsed:       time.Since(start),
	}
	e.logSummary(summary)
	e.emitRun(progress.StageRunDone, totalPages)

	if runErr != nil {
		return summary, runErr
	}
	return summary, mergeErr
}

// startCheckpointSaver periodically persists progress so a hard kill loses
// at most one interval of work. Returns a stop function.
func (e *Engine) startCheckpointSaver(ctx context.Context) func() {
	if e.cfg.CheckpointEvery <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(e.cfg.CheckpointEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := e.saveCheckpoint(); err != nil {
					e.logger.Warn("periodic checkpoint save failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func (e *Engine) saveCheckpoint() error {
	return e.checkpoints.Save(checkpoint.RunState{
		ScrapedPages: e.scheduler.ScrapedPages(),
		FailedPages:  e.scheduler.FailedPages(),
		TotalItems:   e.scheduler.TotalItems(),
		Timestamp:    time.Now().UTC(),
	})
}

func (e *Engine) mergeShards(ctx context.Context) (sqlite.MergeResult, error) {
	shards, err := sqlite.FindShards(e.cfg.StorePath)
	if err != nil {
		return sqlite.MergeResult{}, fmt.Errorf("find shards: %w", err)
	}
	if len(shards) == 0 {
		return sqlite.MergeResult{}, nil
	}

	canonical, err := sqlite.Open(e.cfg.StorePath, e.logger)
	if err != nil {
		return sqlite.MergeResult{}, fmt.Errorf("open canonical store: %w", err)
	}
	defer canonical.Close()

	return canonical.MergeShards(ctx, shards)
}

func (e *Engine) logSummary(s Summary) {
	fields := []zap.Field{
		zap.Int("total_pages", s.TotalPages),
		zap.Int("scraped_pages", s.ScrapedPages),
		zap.Int("degraded_pages", len(s.DegradedPages)),
		zap.Int("failed_pages", len(s.FailedPages)),
		zap.Int("total_items", s.TotalItems),
		zap.Int("shards_merged", s.Merge.ShardsMerged),
		zap.Int("records_merged", s.Merge.RecordsMerged),
		zap.Duration("elapsed", s.Elapsed),
	}
	if s.Merge.ShardsFailed > 0 {
		fields = append(fields, zap.Strings("failed_shards", s.Merge.Failed))
	}
	e.logger.Info("run finished", fields...)

	for _, cat := range s.Errors {
		e.logger.Info("error category",
			zap.String("category", string(cat.Category)),
			zap.Int("total", cat.Total),
			zap.Int("resolved", cat.Resolved),
			zap.String("suggestion", e.tracker.Suggest(cat.Category)),
		)
	}
	for page, info := range s.FailedPages {
		if info.FinalFailure {
			e.logger.Warn("page permanently failed",
				zap.Int("page", page),
				zap.Int("retries", info.RetryCount),
				zap.String("error", info.Error),
			)
		}
	}
}

func (e *Engine) emitRun(stage progress.Stage, totalPages int) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(progress.Event{
		RunID:  e.runID,
		TS:     time.Now().UTC(),
		Stage:  stage,
		Worker: -1,
		Items:  totalPages,
	})
}
