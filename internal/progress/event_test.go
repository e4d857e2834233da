package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventValidate(t *testing.T) {
	t.Parallel()

	valid := Event{
		RunID:  NewRunID(),
		TS:     time.Now().UTC(),
		Stage:  StagePageDone,
		Worker: 0,
		Page:   1,
	}

	cases := []struct {
		name    string
		mutate  func(*Event)
		wantErr string
	}{
		{name: "valid page event", mutate: func(*Event) {}},
		{name: "run level event needs no page", mutate: func(e *Event) {
			e.Stage = StageRunStart
			e.Page = 0
			e.Worker = -1
		}},
		{name: "artifact event needs no page", mutate: func(e *Event) {
			e.Stage = StageArtifactDone
			e.Page = 0
		}},
		{name: "missing run id", mutate: func(e *Event) {
			e.RunID = [16]byte{}
		}, wantErr: "run id is required"},
		{name: "missing timestamp", mutate: func(e *Event) {
			e.TS = time.Time{}
		}, wantErr: "timestamp is required"},
		{name: "page event without page", mutate: func(e *Event) {
			e.Page = 0
		}, wantErr: "requires a page number"},
		{name: "retry event without page", mutate: func(e *Event) {
			e.Stage = StagePageRetry
			e.Page = 0
		}, wantErr: "requires a page number"},
		{name: "unknown stage", mutate: func(e *Event) {
			e.Stage = Stage("BOGUS")
		}, wantErr: `unknown stage "BOGUS"`},
		{name: "negative duration", mutate: func(e *Event) {
			e.Dur = -time.Second
		}, wantErr: "duration must be >= 0"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			evt := valid
			tc.mutate(&evt)
			err := evt.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestNewRunIDUnique(t *testing.T) {
	t.Parallel()

	a := NewRunID()
	b := NewRunID()
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, [16]byte{}, a)
}

func TestRunUUIDRoundTrip(t *testing.T) {
	t.Parallel()

	id := NewRunID()
	evt := Event{RunID: id}
	assert.Equal(t, id, [16]byte(evt.RunUUID()))
	assert.NotEmpty(t, evt.RunUUID().String())
}
