// Package ratelimit bounds outbound request pressure: a global cap on
// concurrent in-flight requests plus a per-worker minimum interval between
// consecutive requests.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds gate configuration.
type Config struct {
	// MaxInFlight caps simultaneously outstanding requests across all
	// workers. It should be below the worker count so the site never sees
	// the full pool at once.
	MaxInFlight int
	// MinInterval is the floor between consecutive requests issued by the
	// same worker.
	MinInterval time.Duration
}

// Gate is the global admission gate shared by all workers.
type Gate struct {
	sem *semaphore.Weighted
	cfg Config
}

// New builds a Gate.
func New(cfg Config) *Gate {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 8
	}
	return &Gate{
		sem: semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		cfg: cfg,
	}
}

// Acquire blocks until an in-flight slot is free. Every Acquire must be
// paired with Release.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire request slot: %w", err)
	}
	return nil
}

// Release frees an in-flight slot.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// NewThrottle creates the per-worker interval throttle for this gate's
// configuration. The throttle is exclusively owned by one worker and needs
// no locking.
func (g *Gate) NewThrottle() *Throttle {
	interval := g.cfg.MinInterval
	if interval <= 0 {
		return &Throttle{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Throttle enforces the minimum spacing between one worker's requests.
type Throttle struct {
	limiter *rate.Limiter
}

// Wait blocks until the worker may issue its next request.
func (t *Throttle) Wait(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("throttle wait: %w", err)
	}
	return nil
}
