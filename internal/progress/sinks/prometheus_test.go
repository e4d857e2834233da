package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexindo/harvester/internal/progress"
)

func TestPrometheusSinkCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.NewRunID()
	evt := func(stage progress.Stage) progress.Event {
		return progress.Event{
			RunID:  runID,
			TS:     time.Now().UTC(),
			Stage:  stage,
			Worker: 0,
			Page:   1,
		}
	}

	batch := []progress.Event{
		evt(progress.StageRunStart),
		func() progress.Event {
			e := evt(progress.StagePageDone)
			e.Items = 20
			e.Dur = 750 * time.Millisecond
			return e
		}(),
		func() progress.Event {
			e := evt(progress.StagePageDone)
			e.Items = 12
			e.Degraded = true
			return e
		}(),
		func() progress.Event {
			e := evt(progress.StagePageRetry)
			e.Category = "rate_limit"
			return e
		}(),
		evt(progress.StagePageRetry), // empty category folds into "unknown"
		evt(progress.StagePageFailed),
		evt(progress.StageArtifactDone),
		evt(progress.StageArtifactErr),
		evt(progress.StageRunDone),
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	assert.Equal(t, 1.0, testutil.ToFloat64(sink.pagesDone.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.pagesDone.WithLabelValues("degraded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.pagesDone.WithLabelValues("failed")))
	assert.Equal(t, 32.0, testutil.ToFloat64(sink.itemsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.pageRetries.WithLabelValues("rate_limit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.pageRetries.WithLabelValues("unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.artifacts.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.artifacts.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	_, err = NewPrometheusSink(reg)
	assert.Error(t, err, "same registry must reject a second sink")
}
