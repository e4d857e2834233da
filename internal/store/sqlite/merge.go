package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// MergeResult reports what a merge pass accomplished.
type MergeResult struct {
	ShardsMerged  int
	ShardsFailed  int
	RecordsMerged int
	Failed        []string
}

const mergeRecords = `
INSERT INTO records (
	title, number, year, region_name, region_type, region_code,
	category, subject, status, source, detail_url, pdf_url, pdf_path,
	description, enacted_date, published_date, metadata, scraped_at, updated_at
)
SELECT
	title, number, year, region_name, region_type, region_code,
	category, subject, status, source, detail_url, pdf_url, pdf_path,
	description, enacted_date, published_date, metadata, scraped_at, updated_at
FROM shard.records WHERE shard.records.detail_url IS NOT NULL
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

const mergeActivity = `
INSERT INTO activity_log (page_number, items_count, status, error_message, logged_at)
SELECT page_number, items_count, status, error_message, logged_at
FROM shard.activity_log
`

// FindShards lists shard files belonging to the canonical path, excluding
// SQLite sidecar files.
func FindShards(canonicalPath string) ([]string, error) {
	dir := filepath.Dir(canonicalPath)
	base := filepath.Base(canonicalPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	matches, err := filepath.Glob(filepath.Join(dir, stem+"_worker_*"+ext))
	if err != nil {
		return nil, fmt.Errorf("glob shards: %w", err)
	}
	return matches, nil
}

// MergeShards consolidates every shard into the canonical store: attach,
// upsert records by detail_url, copy activity rows, detach, delete the
// shard and its -wal/-shm sidecars. One shard's failure never aborts the
// others; failed shards are left intact for a later retry, and re-running
// the merge cannot duplicate records because the upsert is idempotent.
func (s *Store) MergeShards(ctx context.Context, shardPaths []string) (MergeResult, error) {
	var res MergeResult
	for _, shardPath := range shardPaths {
		merged, err := s.mergeOne(ctx, shardPath)
		if err != nil {
			res.ShardsFailed++
			res.Failed = append(res.Failed, shardPath)
			s.logger.Error("shard merge failed, shard kept for retry",
				zap.String("shard", shardPath), zap.Error(err))
			continue
		}
		if err := RemoveShard(shardPath); err != nil {
			// Data is safe in the canonical store; the leftover file will be
			// re-merged (idempotently) on the next pass.
			s.logger.Warn("merged shard left on disk",
				zap.String("shard", shardPath), zap.Error(err))
		}
		res.ShardsMerged++
		res.RecordsMerged += merged
		s.logger.Info("shard merged",
			zap.String("shard", shardPath), zap.Int("records", merged))
	}
	return res, ctx.Err()
}

func (s *Store) mergeOne(ctx context.Context, shardPath string) (merged int, err error) {
	if _, err := os.Stat(shardPath); err != nil {
		return 0, fmt.Errorf("stat shard: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "ATTACH DATABASE ? AS shard", shardPath); err != nil {
		return 0, fmt.Errorf("attach shard: %w", err)
	}
	defer func() {
		if _, derr := s.db.ExecContext(ctx, "DETACH DATABASE shard"); derr != nil && err == nil {
			err = fmt.Errorf("detach shard: %w", derr)
		}
	}()

	result, err := s.db.ExecContext(ctx, mergeRecords)
	if err != nil {
		return 0, fmt.Errorf("merge records: %w", err)
	}
	rows, raErr := result.RowsAffected()
	if raErr != nil {
		rows = 0
	}

	if _, err := s.db.ExecContext(ctx, mergeActivity); err != nil {
		return 0, fmt.Errorf("merge activity log: %w", err)
	}

	return int(rows), nil
}

// RemoveShard deletes a fully merged shard file and its SQLite sidecars.
func RemoveShard(shardPath string) error {
	if err := os.Remove(shardPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove shard: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(shardPath + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove shard sidecar: %w", err)
		}
	}
	return nil
}
