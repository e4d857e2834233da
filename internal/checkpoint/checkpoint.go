// Package checkpoint persists run progress so an interrupted harvest can
// resume without re-fetching completed pages.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/lexindo/harvester/internal/harvest"
)

// RunState is the durable snapshot of a run. It is the sole object that
// survives process restart.
type RunState struct {
	ScrapedPages []int                       `json:"scraped_pages"`
	FailedPages  map[int]harvest.FailureInfo `json:"failed_pages"`
	TotalItems   int                         `json:"total_items"`
	Timestamp    time.Time                   `json:"timestamp"`
}

// Empty returns a zero-progress state.
func Empty() RunState {
	return RunState{FailedPages: make(map[int]harvest.FailureInfo)}
}

// ScrapedSet returns the completed pages as a set for fast resume lookups.
func (s RunState) ScrapedSet() map[int]bool {
	out := make(map[int]bool, len(s.ScrapedPages))
	for _, page := range s.ScrapedPages {
		out[page] = true
	}
	return out
}

// Store reads and writes RunState snapshots at a fixed path.
type Store struct {
	path   string
	logger *zap.Logger
}

// NewStore builds a Store writing to path.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger}
}

// Save writes the state atomically: marshal to a temp file in the same
// directory, fsync, then rename over the destination so a crash never
// leaves a truncated checkpoint.
func (s *Store) Save(state RunState) error {
	state.Timestamp = time.Now().UTC()
	sort.Ints(state.ScrapedPages)

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}

	s.logger.Info("checkpoint saved",
		zap.String("path", s.path),
		zap.Int("scraped_pages", len(state.ScrapedPages)),
		zap.Int("failed_pages", len(state.FailedPages)),
		zap.Int("total_items", state.TotalItems),
	)
	return nil
}

// Load returns the last saved state. A missing or corrupt file yields an
// empty state and ok=false rather than an error; only I/O problems other
// than absence are reported.
func (s *Store) Load() (RunState, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("checkpoint unreadable, starting fresh",
				zap.String("path", s.path), zap.Error(err))
		}
		return Empty(), false
	}

	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn("checkpoint corrupt, starting fresh",
			zap.String("path", s.path), zap.Error(err))
		return Empty(), false
	}
	if state.FailedPages == nil {
		state.FailedPages = make(map[int]harvest.FailureInfo)
	}

	s.logger.Info("checkpoint loaded",
		zap.String("path", s.path),
		zap.Int("scraped_pages", len(state.ScrapedPages)),
		zap.Int("failed_pages", len(state.FailedPages)),
	)
	return state, true
}
