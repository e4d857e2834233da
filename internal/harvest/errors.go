package harvest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Category classifies a page failure for tracking and retry decisions.
type Category string

// Failure categories. LowItems is a validation failure and is eligible for
// degraded acceptance; the others are request-level and fail permanently
// once retries are exhausted.
const (
	CategoryTimeout    Category = "timeout"
	CategoryRateLimit  Category = "rate_limit"
	CategoryParse      Category = "parse_error"
	CategoryLowItems   Category = "low_items"
	CategoryConnection Category = "connection"
	CategoryEmpty      Category = "empty_response"
)

// DegradedEligible reports whether a page that exhausted retries in this
// category may be accepted with partial data instead of failing.
func (c Category) DegradedEligible() bool {
	return c == CategoryLowItems
}

// RequestError is a categorized fetch or parse failure raised by a Session.
type RequestError struct {
	Category Category
	PageNum  int
	Err      error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("page %d: %s: %v", e.PageNum, e.Category, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// NewRequestError wraps err with a category and page number.
func NewRequestError(category Category, pageNum int, err error) *RequestError {
	return &RequestError{Category: category, PageNum: pageNum, Err: err}
}

// RateLimitError signals the server asked us to slow down. RetryAfter
// carries the server-suggested pause, zero when the server gave none.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Categorize maps an arbitrary error onto a failure Category. Explicit
// RequestError categories win; otherwise the error chain is inspected.
func Categorize(err error) Category {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Category
	}
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return CategoryRateLimit
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryConnection
	}
	return CategoryConnection
}

// Retryable reports whether the error is worth another attempt inside a
// single task execution. Context cancellation is never retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch Categorize(err) {
	case CategoryTimeout, CategoryConnection, CategoryRateLimit, CategoryEmpty:
		return true
	default:
		return false
	}
}
