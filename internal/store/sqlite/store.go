// Package sqlite implements the canonical record store and the per-worker
// shard stores. Shards share the canonical schema but live in separate
// database files, so workers never contend on a write lock.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/lexindo/harvester/internal/harvest"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	number TEXT,
	year INTEGER,
	region_name TEXT,
	region_type TEXT,
	region_code TEXT,
	category TEXT,
	subject TEXT,
	status TEXT,
	source TEXT,
	detail_url TEXT UNIQUE,
	pdf_url TEXT,
	pdf_path TEXT,
	description TEXT,
	enacted_date TEXT,
	published_date TEXT,
	metadata TEXT,
	scraped_at TEXT,
	updated_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_records_year ON records(year);
CREATE INDEX IF NOT EXISTS idx_records_region ON records(region_name);
CREATE INDEX IF NOT EXISTS idx_records_source ON records(source);

CREATE TABLE IF NOT EXISTS activity_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	page_number INTEGER,
	items_count INTEGER,
	status TEXT,
	error_message TEXT,
	logged_at TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
);
`

// Store wraps one SQLite database file, either the canonical store or a
// worker shard.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open opens or creates the database at path and ensures the schema.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite supports one writer; a single pooled connection avoids
	// SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, path: path, logger: logger}, nil
}

// ShardPath derives the shard file name for a worker ordinal from the
// canonical path: perda.db -> perda_worker_3.db.
func ShardPath(canonicalPath string, workerID int) string {
	dir := filepath.Dir(canonicalPath)
	base := filepath.Base(canonicalPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, fmt.Sprintf("%s_worker_%d%s", stem, workerID, ext))
}

// OpenShard opens the shard store for a worker ordinal.
func OpenShard(canonicalPath string, workerID int, logger *zap.Logger) (*Store, error) {
	return Open(ShardPath(canonicalPath, workerID), logger)
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const upsertRecord = `
INSERT INTO records (
	title, number, year, region_name, region_type, region_code,
	category, subject, status, source, detail_url, pdf_url, pdf_path,
	description, enacted_date, published_date, metadata, scraped_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(detail_url) DO UPDATE SET
	title = excluded.title,
	number = excluded.number,
	year = excluded.year,
	region_name = excluded.region_name,
	region_type = excluded.region_type,
	region_code = excluded.region_code,
	category = excluded.category,
	subject = excluded.subject,
	status = excluded.status,
	source = excluded.source,
	pdf_url = excluded.pdf_url,
	pdf_path = excluded.pdf_path,
	description = excluded.description,
	enacted_date = excluded.enacted_date,
	published_date = excluded.published_date,
	metadata = excluded.metadata,
	updated_at = excluded.updated_at
WHERE excluded.updated_at >= records.updated_at
`

// UpsertRecords writes records keyed by detail_url inside one transaction.
// On conflict the newer updated_at wins, which makes re-running a merge
// idempotent.
func (s *Store) UpsertRecords(ctx context.Context, records []harvest.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertRecord)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if rec.DetailURL == "" {
			continue
		}
		_, err := stmt.ExecContext(ctx,
			rec.Title, rec.Number, nullableInt(rec.Year), rec.RegionName,
			rec.RegionType, rec.RegionCode, rec.Category, rec.Subject,
			rec.Status, rec.Source, rec.DetailURL, rec.PDFURL, rec.PDFPath,
			rec.Description, rec.EnactedDate, rec.PublishedDate, rec.Metadata,
			timeText(rec.ScrapedAt), timeText(rec.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert record %s: %w", rec.DetailURL, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert tx: %w", err)
	}
	return nil
}

// LogActivity appends one scrape-activity row.
func (s *Store) LogActivity(ctx context.Context, pageNum, itemsCount int, status, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_log (page_number, items_count, status, error_message, logged_at)
		 VALUES (?, ?, ?, ?, ?)`,
		pageNum, itemsCount, status, nullableText(errMsg), timeText(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("log activity: %w", err)
	}
	return nil
}

// Count returns how many records the store holds.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// RecordByURL fetches one record by identity, or nil when absent.
func (s *Store) RecordByURL(ctx context.Context, detailURL string) (*harvest.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT title, number, COALESCE(year, 0), region_name, region_type,
		       region_code, category, subject, status, source, detail_url,
		       pdf_url, pdf_path, description, enacted_date, published_date,
		       metadata, scraped_at, updated_at
		FROM records WHERE detail_url = ?`, detailURL)

	var rec harvest.Record
	var scrapedAt, updatedAt string
	err := row.Scan(
		&rec.Title, &rec.Number, &rec.Year, &rec.RegionName, &rec.RegionType,
		&rec.RegionCode, &rec.Category, &rec.Subject, &rec.Status, &rec.Source,
		&rec.DetailURL, &rec.PDFURL, &rec.PDFPath, &rec.Description,
		&rec.EnactedDate, &rec.PublishedDate, &rec.Metadata,
		&scrapedAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}
	rec.ScrapedAt, _ = time.Parse(time.RFC3339, scrapedAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &rec, nil
}

// Stats summarizes the canonical store for the stats subcommand.
type Stats struct {
	TotalRecords int
	TotalRegions int
	TotalYears   int
	Artifacts    int
	TopRegions   []RegionCount
}

// RegionCount pairs a region with its record count.
type RegionCount struct {
	Region string
	Count  int
}

// Stats computes summary counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM records", &st.TotalRecords},
		{"SELECT COUNT(DISTINCT region_name) FROM records WHERE region_name != ''", &st.TotalRegions},
		{"SELECT COUNT(DISTINCT year) FROM records WHERE year IS NOT NULL", &st.TotalYears},
		{"SELECT COUNT(*) FROM records WHERE pdf_path != ''", &st.Artifacts},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return Stats{}, fmt.Errorf("store stats: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT region_name, COUNT(*) AS n FROM records
		WHERE region_name != ''
		GROUP BY region_name ORDER BY n DESC LIMIT 10`)
	if err != nil {
		return Stats{}, fmt.Errorf("top regions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rc RegionCount
		if err := rows.Scan(&rc.Region, &rc.Count); err != nil {
			return Stats{}, fmt.Errorf("scan region count: %w", err)
		}
		st.TopRegions = append(st.TopRegions, rc)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate regions: %w", err)
	}
	return st, nil
}

func timeText(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(time.RFC3339)
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}
