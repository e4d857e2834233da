package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart     Stage = "RUN_START"
	StageRunDone      Stage = "RUN_DONE"
	StagePageDone     Stage = "PAGE_DONE"
	StagePageRetry    Stage = "PAGE_RETRY"
	StagePageFailed   Stage = "PAGE_FAILED"
	StageArtifactDone Stage = "ARTIFACT_DONE"
	StageArtifactErr  Stage = "ARTIFACT_ERROR"
)

// Event captures a single milestone in a harvest run.
type Event struct {
	// RunID uniquely identifies the run in 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage is the milestone kind.
	Stage Stage
	// Worker is the emitting worker ordinal; -1 for run-level events.
	Worker int
	// Page is the listing page number for page-scoped events.
	Page int
	// Items is the record count delta carried by PAGE_DONE events.
	Items int
	// Retry is the retry ordinal for PAGE_RETRY events.
	Retry int
	// Degraded flags a PAGE_DONE accepted below the validation threshold.
	Degraded bool
	// Category carries the failure category for retry/failure events.
	Category string
	// Dur is the execution latency of the milestone.
	Dur time.Duration
	// Note attaches low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StagePageDone, StagePageRetry, StagePageFailed:
		if e.Page <= 0 {
			return fmt.Errorf("%s requires a page number", e.Stage)
		}
	case StageArtifactDone, StageArtifactErr:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// NewRunID generates a run identifier in Event form.
func NewRunID() [16]byte {
	id := uuid.New()
	var out [16]byte
	copy(out[:], id[:])
	return out
}
