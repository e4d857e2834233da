// Package backoff implements an explicit retry loop with jittered
// exponential backoff.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/lexindo/harvester/internal/harvest"
)

// Policy parameterizes the retry loop. Delay for attempt n (0-based) is
// BaseDelay * Multiplier^n, capped at MaxDelay, with up to Jitter fraction
// of random spread added.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64
}

// Default returns the policy applied to page fetches.
func Default() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		Multiplier:  2,
		Jitter:      0.5,
	}
}

// Delay computes the wait before retrying after the given 0-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 1 {
		mult = 2
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt))
	if limit := float64(p.MaxDelay); p.MaxDelay > 0 && d > limit {
		d = limit
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * rand.Float64()
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, the error is not retryable, attempts are
// exhausted, or ctx ends. A RateLimitError's server-suggested pause
// overrides the computed delay when it is longer.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !harvest.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}
		delay := p.Delay(attempt)
		var rlErr *harvest.RateLimitError
		if errors.As(lastErr, &rlErr) && rlErr.RetryAfter > delay {
			delay = rlErr.RetryAfter
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
