// Package harvest defines the core types shared across the crawl
// orchestration subsystems.
package harvest

import "time"

// PageTask is the unit of scheduling: one remote listing page to fetch and
// validate. Priority is the only ordering key; the remaining fields are
// payload carried through retries.
type PageTask struct {
	Priority    int
	PageNum     int
	RetryCount  int
	LastError   string
	RetryReason string
	IsLastPage  bool
}

// NewPageTask builds a fresh task for a page. Priority equals the page
// number so the queue drains in ascending page order.
func NewPageTask(pageNum int) PageTask {
	return PageTask{Priority: pageNum, PageNum: pageNum}
}

// Record is a single catalog listing extracted from a page. Identity is
// DetailURL; a record is immutable once written to a shard except for
// PDFPath, which the artifact downloader fills in.
type Record struct {
	Title         string    `json:"title"`
	Number        string    `json:"number,omitempty"`
	Year          int       `json:"year,omitempty"`
	RegionName    string    `json:"region_name,omitempty"`
	RegionType    string    `json:"region_type,omitempty"`
	RegionCode    string    `json:"region_code,omitempty"`
	Category      string    `json:"category,omitempty"`
	Subject       string    `json:"subject,omitempty"`
	Status        string    `json:"status,omitempty"`
	Source        string    `json:"source,omitempty"`
	DetailURL     string    `json:"detail_url"`
	PDFURL        string    `json:"pdf_url,omitempty"`
	PDFPath       string    `json:"pdf_path,omitempty"`
	Description   string    `json:"description,omitempty"`
	EnactedDate   string    `json:"enacted_date,omitempty"`
	PublishedDate string    `json:"published_date,omitempty"`
	Metadata      string    `json:"metadata,omitempty"`
	ScrapedAt     time.Time `json:"scraped_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PageStatus classifies the terminal state of a processed page.
type PageStatus string

// Terminal page states recorded by the scheduler and checkpoint.
const (
	// PageAccepted means the page passed validation.
	PageAccepted PageStatus = "accepted"
	// PageDegraded means validation kept failing but the partial result
	// was accepted after retries were exhausted.
	PageDegraded PageStatus = "degraded"
	// PageFailed means the page failed permanently.
	PageFailed PageStatus = "failed"
)

// FailureInfo captures why a page failed, for checkpointing and the run
// summary. FinalFailure pages are not re-seeded on resume.
type FailureInfo struct {
	Error        string    `json:"error"`
	RetryCount   int       `json:"retry_count"`
	Timestamp    time.Time `json:"timestamp"`
	FinalFailure bool      `json:"final_failure"`
}

// PageOutcome is the typed result a worker reports for one task attempt.
type PageOutcome struct {
	PageNum   int
	Status    PageStatus
	Items     int
	Degraded  bool
	Category  Category
	Err       error
	Artifacts int
	Duration  time.Duration
}
