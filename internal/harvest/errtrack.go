package harvest

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrorRecord is one tracked failure occurrence.
type ErrorRecord struct {
	PageNum     int       `json:"page_num"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Remediation string    `json:"remediation,omitempty"`
	Resolved    bool      `json:"resolved"`
}

// CategorySummary aggregates occurrences for the run-end report.
type CategorySummary struct {
	Category Category `json:"category"`
	Total    int      `json:"total"`
	Resolved int      `json:"resolved"`
}

// remediations maps each category to advisory strategies. A suggestion is
// picked at random for diagnostic variety; it is never applied
// automatically.
var remediations = map[Category][]string{
	CategoryTimeout:    {"reduce workers", "increase timeout", "add delays"},
	CategoryRateLimit:  {"increase delays", "reduce concurrent requests", "add backoff"},
	CategoryParse:      {"retry with different parser", "skip malformed data"},
	CategoryLowItems:   {"retry page", "check page structure", "validate selectors"},
	CategoryConnection: {"retry request", "check network", "use different session"},
	CategoryEmpty:      {"retry request", "verify page exists"},
}

// ErrorTracker records categorized failures and their eventual resolution.
// It is safe for concurrent use by all workers.
type ErrorTracker struct {
	mu     sync.Mutex
	errors map[Category][]*ErrorRecord
	logger *zap.Logger
}

// NewErrorTracker builds an empty tracker.
func NewErrorTracker(logger *zap.Logger) *ErrorTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorTracker{
		errors: make(map[Category][]*ErrorRecord),
		logger: logger,
	}
}

// Record stores a failure occurrence and returns the remediation that was
// suggested for it.
func (t *ErrorTracker) Record(category Category, pageNum int, message string) string {
	remedy := t.Suggest(category)

	t.mu.Lock()
	t.errors[category] = append(t.errors[category], &ErrorRecord{
		PageNum:     pageNum,
		Message:     message,
		Timestamp:   time.Now().UTC(),
		Remediation: remedy,
	})
	t.mu.Unlock()

	t.logger.Warn("error recorded",
		zap.String("category", string(category)),
		zap.Int("page", pageNum),
		zap.String("message", message),
		zap.String("remediation", remedy),
	)
	return remedy
}

// Suggest picks an advisory remediation for the category.
func (t *ErrorTracker) Suggest(category Category) string {
	options := remediations[category]
	if len(options) == 0 {
		return "generic retry"
	}
	return options[rand.Intn(len(options))]
}

// MarkResolved flags the oldest unresolved occurrence for the category and
// page. Called when a previously failing page later succeeds.
func (t *ErrorTracker) MarkResolved(category Category, pageNum int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range t.errors[category] {
		if rec.PageNum == pageNum && !rec.Resolved {
			rec.Resolved = true
			return
		}
	}
}

// ResolveAll marks every tracked category resolved for the page. Used after
// a page reaches terminal success.
func (t *ErrorTracker) ResolveAll(pageNum int) {
	for category := range remediations {
		t.MarkResolved(category, pageNum)
	}
}

// Summary returns per-category totals for the trailing report, ordered by
// descending total.
func (t *ErrorTracker) Summary() []CategorySummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]CategorySummary, 0, len(t.errors))
	for category, records := range t.errors {
		s := CategorySummary{Category: category, Total: len(records)}
		for _, rec := range records {
			if rec.Resolved {
				s.Resolved++
			}
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	return out
}

// Records returns a copy of all occurrences for a category.
func (t *ErrorTracker) Records(category Category) []ErrorRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ErrorRecord, 0, len(t.errors[category]))
	for _, rec := range t.errors[category] {
		out = append(out, *rec)
	}
	return out
}
