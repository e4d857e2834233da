package harvest

import "context"

// Source describes a remote paginated catalog. Implementations live outside
// the orchestration core (one per remote site) and are the only place that
// understands the site's HTML.
type Source interface {
	// Name identifies the source in records and logs.
	Name() string
	// TotalPages reports how many listing pages the catalog currently has.
	TotalPages(ctx context.Context) (int, error)
	// NewSession creates a dedicated fetch session for one worker. Sessions
	// are never shared between workers.
	NewSession(workerID int) (Session, error)
}

// Session is a worker-owned handle for fetching and parsing pages. All
// methods are called from a single goroutine.
type Session interface {
	// ParsePage fetches the given listing page and returns its records.
	// Failures must be RequestErrors so the core can categorize them.
	ParsePage(ctx context.Context, pageNum int) ([]Record, error)
	// ResolveArtifactURL fills in a missing binary artifact URL by visiting
	// the record's detail page. It returns "" when none is found.
	ResolveArtifactURL(ctx context.Context, detailURL string) (string, error)
	Close() error
}

// RecordStore persists accepted records. Both canonical and shard stores
// satisfy it.
type RecordStore interface {
	UpsertRecords(ctx context.Context, records []Record) error
	LogActivity(ctx context.Context, pageNum, itemsCount int, status, errMsg string) error
	Close() error
}
