package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/lexindo/harvester/internal/progress"
)

// Snapshot is a point-in-time view of run progress served by the API.
type Snapshot struct {
	RunID          string    `json:"run_id"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	FinishedAt     time.Time `json:"finished_at,omitempty"`
	PagesAccepted  int       `json:"pages_accepted"`
	PagesDegraded  int       `json:"pages_degraded"`
	PagesFailed    int       `json:"pages_failed"`
	Retries        int       `json:"retries"`
	TotalItems     int       `json:"total_items"`
	ArtifactsOK    int       `json:"artifacts_ok"`
	ArtifactErrors int       `json:"artifact_errors"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SnapshotSink folds the event stream into a live Snapshot for the
// observability API.
type SnapshotSink struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewSnapshotSink builds an empty SnapshotSink.
func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{}
}

// Consume folds the batch into the snapshot.
func (s *SnapshotSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.snap.RunID = evt.RunUUID().String()
		s.snap.UpdatedAt = evt.TS
		switch evt.Stage {
		case progress.StageRunStart:
			s.snap.StartedAt = evt.TS
		case progress.StageRunDone:
			s.snap.FinishedAt = evt.TS
		case progress.StagePageDone:
			if evt.Degraded {
				s.snap.PagesDegraded++
			} else {
				s.snap.PagesAccepted++
			}
			s.snap.TotalItems += evt.Items
		case progress.StagePageRetry:
			s.snap.Retries++
		case progress.StagePageFailed:
			s.snap.PagesFailed++
		case progress.StageArtifactDone:
			s.snap.ArtifactsOK++
		case progress.StageArtifactErr:
			s.snap.ArtifactErrors++
		}
	}
	return nil
}

// Snapshot returns a copy of the current view.
func (s *SnapshotSink) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Close implements the Sink interface; it performs no action.
func (s *SnapshotSink) Close(context.Context) error {
	return nil
}
