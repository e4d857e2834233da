// Package worker implements the page harvesting execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lexindo/harvester/internal/artifact"
	"github.com/lexindo/harvester/internal/backoff"
	"github.com/lexindo/harvester/internal/harvest"
	"github.com/lexindo/harvester/internal/progress"
	"github.com/lexindo/harvester/internal/ratelimit"
	"github.com/lexindo/harvester/internal/scheduler"
	"github.com/lexindo/harvester/internal/store/sqlite"
)

// Config controls Pool behavior.
type Config struct {
	MaxWorkers        int
	DownloadArtifacts bool
	StorePath         string
	ArtifactDir       string
	ArtifactTimeout   time.Duration
}

// Pool runs a fixed set of workers against the page scheduler. Each worker
// owns its own source session, shard store, throttle, and artifact
// downloader, so nothing in the hot path is shared under a lock.
type Pool struct {
	cfg       Config
	source    harvest.Source
	scheduler *scheduler.Scheduler
	validator *harvest.Validator
	tracker   *harvest.ErrorTracker
	gate      *ratelimit.Gate
	retry     backoff.Policy
	emitter   progress.Emitter
	runID     [16]byte
	logger    *zap.Logger
}

// New constructs a Pool.
func New(
	source harvest.Source,
	sched *scheduler.Scheduler,
	validator *harvest.Validator,
	tracker *harvest.ErrorTracker,
	gate *ratelimit.Gate,
	retry backoff.Policy,
	emitter progress.Emitter,
	runID [16]byte,
	cfg Config,
	logger *zap.Logger,
) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cfg.ArtifactTimeout <= 0 {
		cfg.ArtifactTimeout = 60 * time.Second
	}
	return &Pool{
		cfg:       cfg,
		source:    source,
		scheduler: sched,
		validator: validator,
		tracker:   tracker,
		gate:      gate,
		retry:     retry,
		emitter:   emitter,
		runID:     runID,
		logger:    logger,
	}
}

// Run starts MaxWorkers workers and blocks until the scheduler drains or the
// context is canceled. The first worker setup or persistence error aborts
// the run; page level fetch errors are handled per task and never propagate
// here.
func (p *Pool) Run(ctx context.Context) error {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		first error
	)

	// Unblock workers parked in scheduler.Next when the run is canceled.
	stopWatch := context.AfterFunc(ctx, p.scheduler.Stop)
	defer stopWatch()

	for i := 0; i < p.cfg.MaxWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := p.runWorker(ctx, id); err != nil {
				mu.Lock()
				if first == nil {
					first = err
				}
				mu.Unlock()
				p.scheduler.Stop()
			}
		}(i)
	}
	wg.Wait()

	if first != nil {
		return first
	}
	return ctx.Err()
}

func (p *Pool) runWorker(ctx context.Context, id int) error {
	logger := p.logger.With(zap.Int("worker", id))

	session, err := p.source.NewSession(id)
	if err != nil {
		return fmt.Errorf("worker %d: open session: %w", id, err)
	}
	defer session.Close()

	shard, err := sqlite.OpenShard(p.cfg.StorePath, id, logger)
	if err != nil {
		return fmt.Errorf("worker %d: open shard: %w", id, err)
	}
	defer shard.Close()

	w := &worker{
		pool:     p,
		id:       id,
		session:  session,
		shard:    shard,
		throttle: p.gate.NewThrottle(),
		logger:   logger,
	}
	if p.cfg.DownloadArtifacts {
		w.downloader = artifact.New(artifact.Config{
			BaseDir: p.cfg.ArtifactDir,
			Timeout: p.cfg.ArtifactTimeout,
		}, logger)
	}

	logger.Info("worker started", zap.String("shard", filepath.Base(shard.Path())))
	for {
		task, ok := p.scheduler.Next()
		if !ok {
			logger.Info("worker finished")
			return nil
		}
		if err := w.processPage(ctx, task); err != nil {
			return fmt.Errorf("worker %d: %w", id, err)
		}
	}
}

// worker is the per-goroutine state. Nothing here is shared.
type worker struct {
	pool       *Pool
	id         int
	session    harvest.Session
	shard      *sqlite.Store
	throttle   *ratelimit.Throttle
	downloader *artifact.Downloader
	logger     *zap.Logger
}

// processPage runs one task to a terminal or requeued state. A non-nil
// return means the worker itself can no longer make progress (its shard is
// unwritable) and the pool must stop.
func (w *worker) processPage(ctx context.Context, task harvest.PageTask) error {
	start := time.Now()

	records, err := w.fetchPage(ctx, task)
	if err != nil {
		w.handleFetchError(ctx, task, err)
		return nil
	}

	if !w.pool.validator.Validate(records, task.PageNum, task.IsLastPage) {
		verr := harvest.NewRequestError(harvest.CategoryLowItems, task.PageNum,
			fmt.Errorf("page %d returned %d items, expected at least %d",
				task.PageNum, len(records), w.pool.validator.MinItems()))
		if task.RetryCount < w.pool.scheduler.MaxRetries() {
			w.rejectPage(ctx, task, verr)
			return nil
		}
		// Retries exhausted on a thin page: keep what we got rather than
		// discarding real records.
		return w.acceptPage(ctx, task, records, true, start)
	}

	return w.acceptPage(ctx, task, records, false, start)
}

// fetchPage runs one rate-limited, retried page fetch. The gate bounds
// global in-flight requests; the throttle spaces this worker's requests.
func (w *worker) fetchPage(ctx context.Context, task harvest.PageTask) ([]harvest.Record, error) {
	var records []harvest.Record
	err := w.pool.retry.Do(ctx, func() error {
		if err := w.throttle.Wait(ctx); err != nil {
			return err
		}
		if err := w.pool.gate.Acquire(ctx); err != nil {
			return err
		}
		defer w.pool.gate.Release()

		var err error
		records, err = w.session.ParsePage(ctx, task.PageNum)
		return err
	})
	return records, err
}

func (w *worker) handleFetchError(ctx context.Context, task harvest.PageTask, err error) {
	if errors.Is(err, context.Canceled) {
		w.pool.scheduler.RequeueCanceled(task)
		return
	}

	category := harvest.Categorize(err)
	remedy := w.pool.tracker.Record(category, task.PageNum, err.Error())

	if task.RetryCount < w.pool.scheduler.MaxRetries() {
		w.logger.Warn("page fetch failed, requeueing",
			zap.Int("page", task.PageNum),
			zap.Int("retry", task.RetryCount),
			zap.String("category", string(category)),
			zap.String("remedy", remedy),
			zap.Error(err),
		)
		w.logActivity(ctx, task.PageNum, 0, "failed", err)
		w.pool.scheduler.Requeue(task, string(category))
		w.emit(progress.StagePageRetry, task, 0, false, string(category), 0, err.Error())
		return
	}

	w.logger.Error("page failed permanently",
		zap.Int("page", task.PageNum),
		zap.Int("retries", task.RetryCount),
		zap.String("category", string(category)),
		zap.Error(err),
	)
	w.logActivity(ctx, task.PageNum, 0, "failed", err)
	w.pool.scheduler.FailPermanently(task.PageNum, err.Error(), task.RetryCount)
	w.emit(progress.StagePageFailed, task, 0, false, string(category), 0, err.Error())
}

func (w *worker) rejectPage(ctx context.Context, task harvest.PageTask, verr error) {
	remedy := w.pool.tracker.Record(harvest.CategoryLowItems, task.PageNum, verr.Error())

	w.logger.Warn("page rejected by validation",
		zap.Int("page", task.PageNum),
		zap.Int("retry", task.RetryCount),
		zap.String("remedy", remedy),
		zap.Error(verr),
	)
	w.logActivity(ctx, task.PageNum, 0, "invalid", verr)
	w.pool.scheduler.Requeue(task, string(harvest.CategoryLowItems))
	w.emit(progress.StagePageRetry, task, 0, false, string(harvest.CategoryLowItems), 0, verr.Error())
}

func (w *worker) acceptPage(
	ctx context.Context,
	task harvest.PageTask,
	records []harvest.Record,
	degraded bool,
	start time.Time,
) error {
	if w.downloader != nil {
		w.fetchArtifacts(ctx, task, records)
	}

	if err := w.shard.UpsertRecords(ctx, records); err != nil {
		// The page content was fine; a shard that cannot be written means
		// the disk or database is broken, not the site. The page stays in
		// the active set so a resumed run fetches it again.
		return fmt.Errorf("persist page %d: %w", task.PageNum, err)
	}

	status := "success"
	if degraded {
		status = "degraded"
		w.logger.Warn("accepting degraded page",
			zap.Int("page", task.PageNum),
			zap.Int("items", len(records)),
			zap.Int("retries", task.RetryCount),
		)
	}
	w.logActivity(ctx, task.PageNum, len(records), status, nil)

	w.pool.tracker.ResolveAll(task.PageNum)
	w.pool.scheduler.Complete(task.PageNum, len(records), degraded)

	w.logger.Info("page done",
		zap.Int("page", task.PageNum),
		zap.Int("items", len(records)),
		zap.Bool("degraded", degraded),
		zap.Duration("dur", time.Since(start)),
	)
	w.emit(progress.StagePageDone, task, len(records), degraded, "", time.Since(start), "")
	return nil
}

// fetchArtifacts downloads the PDF for each record that has one. Artifact
// failures are logged and counted but never fail the page: the record ships
// without a local path and a later run picks the file up.
func (w *worker) fetchArtifacts(ctx context.Context, task harvest.PageTask, records []harvest.Record) {
	for i := range records {
		rec := &records[i]
		if rec.PDFURL == "" && rec.DetailURL != "" {
			url, err := w.session.ResolveArtifactURL(ctx, rec.DetailURL)
			if err != nil {
				w.logger.Debug("artifact url lookup failed",
					zap.String("detail_url", rec.DetailURL),
					zap.Error(err),
				)
				w.emit(progress.StageArtifactErr, task, 0, false, "", 0, rec.DetailURL)
				continue
			}
			rec.PDFURL = url
		}
		if rec.PDFURL == "" {
			continue
		}

		path, err := w.downloader.Fetch(ctx, rec.PDFURL, rec.Year, rec.RegionName, rec.Title)
		if err != nil {
			w.logger.Warn("artifact download failed",
				zap.String("url", rec.PDFURL),
				zap.Error(err),
			)
			w.emit(progress.StageArtifactErr, task, 0, false, "", 0, rec.PDFURL)
			continue
		}
		rec.PDFPath = path
		w.emit(progress.StageArtifactDone, task, 0, false, "", 0, path)
	}
}

func (w *worker) logActivity(ctx context.Context, page, items int, status string, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := w.shard.LogActivity(ctx, page, items, status, msg); err != nil {
		w.logger.Debug("activity log write failed", zap.Int("page", page), zap.Error(err))
	}
}

func (w *worker) emit(
	stage progress.Stage,
	task harvest.PageTask,
	items int,
	degraded bool,
	category string,
	dur time.Duration,
	note string,
) {
	if w.pool.emitter == nil {
		return
	}
	w.pool.emitter.Emit(progress.Event{
		RunID:    w.pool.runID,
		TS:       time.Now().UTC(),
		Stage:    stage,
		Worker:   w.id,
		Page:     task.PageNum,
		Items:    items,
		Retry:    task.RetryCount,
		Degraded: degraded,
		Category: category,
		Dur:      dur,
		Note:     note,
	})
}
