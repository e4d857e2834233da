// Package scheduler implements the page-task priority queue with
// validation-driven retry.
package scheduler

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lexindo/harvester/internal/harvest"
)

// pageHeap is a min-heap over PageTask.Priority. Only the priority
// participates in ordering; the rest of the task is payload.
type pageHeap []harvest.PageTask

func (h pageHeap) Len() int           { return len(h) }
func (h pageHeap) Less(i, j int) bool { return h[i].Priority < h[j].Priority }
func (h pageHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *pageHeap) Push(x any)        { *h = append(*h, x.(harvest.PageTask)) }
func (h *pageHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	*h = old[:n-1]
	return task
}

// Config controls scheduler behavior.
type Config struct {
	// MaxRetries bounds how many times a page is re-queued before it is
	// either accepted degraded or failed permanently.
	MaxRetries int
	// ExpectedItems enables the early-exit optimization when > 0. It is not
	// correctness critical; zero disables it.
	ExpectedItems int
}

// Scheduler seeds page tasks once, hands them to workers in ascending page
// order, and re-queues rejected pages until retries are exhausted. Retry
// tasks are drawn preferentially so no worker idles while retries are
// pending. Safe for concurrent use.
type Scheduler struct {
	mu       sync.Mutex
	cond     *sync.Cond
	fresh    pageHeap
	retries  []harvest.PageTask
	active   map[int]struct{}
	scraped  map[int]struct{}
	degraded map[int]struct{}
	failed   map[int]harvest.FailureInfo
	items    int
	stopped  bool

	cfg    Config
	logger *zap.Logger
}

// New builds an empty Scheduler.
func New(cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		active:   make(map[int]struct{}),
		scraped:  make(map[int]struct{}),
		degraded: make(map[int]struct{}),
		failed:   make(map[int]harvest.FailureInfo),
		cfg:      cfg,
		logger:   logger,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Seed enqueues pages 1..totalPages, skipping pages for which skip returns
// true (already completed in a prior run). The final page is flagged so the
// validator can apply the relaxed rule. Seed must be called once, before
// workers start.
func (s *Scheduler) Seed(totalPages int, skip func(page int) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for page := 1; page <= totalPages; page++ {
		if skip != nil && skip(page) {
			continue
		}
		task := harvest.NewPageTask(page)
		task.IsLastPage = page == totalPages
		heap.Push(&s.fresh, task)
		s.active[page] = struct{}{}
	}
	s.logger.Info("scheduler seeded",
		zap.Int("total_pages", totalPages),
		zap.Int("pending", len(s.active)),
	)
	s.cond.Broadcast()
}

// SetItemCount primes the items-scraped counter, used when resuming a run
// that already collected records.
func (s *Scheduler) SetItemCount(items int) {
	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
}

// Next blocks until a task is available and returns it, or returns false
// when the run is over: the active set drained, the expected item total was
// reached, or Stop was called.
func (s *Scheduler) Next() (harvest.PageTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.finishedLocked() {
			// Wake any other waiters so they observe completion too.
			s.cond.Broadcast()
			return harvest.PageTask{}, false
		}
		if len(s.retries) > 0 {
			task := s.retries[0]
			s.retries = s.retries[1:]
			return task, true
		}
		if s.fresh.Len() > 0 {
			return heap.Pop(&s.fresh).(harvest.PageTask), true
		}
		// Nothing queued but pages are still in flight; a failure may yet
		// be re-queued.
		s.cond.Wait()
	}
}

func (s *Scheduler) finishedLocked() bool {
	if s.stopped {
		return true
	}
	if len(s.active) == 0 {
		return true
	}
	return s.cfg.ExpectedItems > 0 && s.items >= s.cfg.ExpectedItems
}

// Requeue puts a rejected task back with an incremented retry count. The
// caller must have checked RetryCount < MaxRetries.
func (s *Scheduler) Requeue(task harvest.PageTask, reason string) {
	task.RetryCount++
	task.LastError = reason
	task.RetryReason = "retry due to: " + reason

	s.mu.Lock()
	s.retries = append(s.retries, task)
	s.mu.Unlock()
	s.cond.Broadcast()

	s.logger.Info("page queued for retry",
		zap.Int("page", task.PageNum),
		zap.Int("retry", task.RetryCount),
		zap.String("reason", reason),
	)
}

// RequeueCanceled puts an interrupted task back without consuming retry
// budget. Cancellation is an operator action, not a site failure, so the
// task keeps its RetryCount for the resumed run.
func (s *Scheduler) RequeueCanceled(task harvest.PageTask) {
	s.mu.Lock()
	s.retries = append(s.retries, task)
	s.mu.Unlock()
	s.cond.Broadcast()

	s.logger.Info("page requeued after cancellation",
		zap.Int("page", task.PageNum),
		zap.Int("retry", task.RetryCount),
	)
}

// RestoreFailures primes the permanent-failure map from a prior run's
// checkpoint, keeping those pages enumerable for manual re-runs. Pages that
// were re-seeded for another attempt are left alone.
func (s *Scheduler) RestoreFailures(failures map[int]harvest.FailureInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for page, info := range failures {
		if !info.FinalFailure {
			continue
		}
		if _, ok := s.active[page]; ok {
			continue
		}
		s.failed[page] = info
	}
}

// Complete marks a page terminally successful and credits its item count.
// Degraded acceptance (validation still failing after retries) is flagged
// but counts as completion.
func (s *Scheduler) Complete(pageNum, items int, degraded bool) {
	s.mu.Lock()
	delete(s.active, pageNum)
	delete(s.failed, pageNum)
	s.scraped[pageNum] = struct{}{}
	if degraded {
		s.degraded[pageNum] = struct{}{}
	}
	s.items += items
	s.mu.Unlock()
	s.cond.Broadcast()
}

// FailPermanently removes a page from the active set and records the final
// failure. The page stays enumerable for manual re-runs.
func (s *Scheduler) FailPermanently(pageNum int, reason string, retryCount int) {
	s.mu.Lock()
	delete(s.active, pageNum)
	delete(s.scraped, pageNum)
	s.failed[pageNum] = harvest.FailureInfo{
		Error:        reason,
		RetryCount:   retryCount,
		Timestamp:    time.Now().UTC(),
		FinalFailure: true,
	}
	s.mu.Unlock()
	s.cond.Broadcast()

	s.logger.Error("page failed permanently",
		zap.Int("page", pageNum),
		zap.Int("retries", retryCount),
		zap.String("reason", reason),
	)
}

// Stop wakes all blocked workers and makes Next return false. Used on
// interrupt.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// MaxRetries exposes the configured retry bound.
func (s *Scheduler) MaxRetries() int { return s.cfg.MaxRetries }

// ScrapedPages returns a copy of the completed page set.
func (s *Scheduler) ScrapedPages() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.scraped)
}

// DegradedPages returns pages accepted below the validation threshold.
func (s *Scheduler) DegradedPages() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.degraded)
}

// FailedPages returns a copy of the permanent failure map.
func (s *Scheduler) FailedPages() map[int]harvest.FailureInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]harvest.FailureInfo, len(s.failed))
	for page, info := range s.failed {
		out[page] = info
	}
	return out
}

// TotalItems returns the running item count.
func (s *Scheduler) TotalItems() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items
}

// Pending returns how many tasks are queued but not yet handed out.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fresh.Len() + len(s.retries)
}

func sortedKeys(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for page := range set {
		out = append(out, page)
	}
	sort.Ints(out)
	return out
}
