package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lexindo/harvester/internal/progress"
)

// PrometheusSink exports harvest progress via Prometheus. It owns the
// collectors for page outcomes, item totals, retries, and artifacts.
type PrometheusSink struct {
	pagesDone     *prometheus.CounterVec
	pageRetries   *prometheus.CounterVec
	itemsTotal    prometheus.Counter
	artifacts     *prometheus.CounterVec
	pageDuration  prometheus.Histogram
	runsStarted   prometheus.Counter
	runsCompleted prometheus.Counter
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		pagesDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_pages_total",
			Help: "Terminal page outcomes partitioned by result.",
		}, []string{"result"}),
		pageRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_page_retries_total",
			Help: "Page retries partitioned by failure category.",
		}, []string{"category"}),
		itemsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_items_total",
			Help: "Total records accepted across all pages.",
		}),
		artifacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_artifacts_total",
			Help: "Artifact download completions partitioned by result.",
		}, []string{"result"}),
		pageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvester_page_duration_seconds",
			Help:    "Wall time per completed page.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_runs_started_total",
			Help: "Total harvest runs started.",
		}),
		runsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_runs_completed_total",
			Help: "Total harvest runs completed.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.pagesDone,
		s.pageRetries,
		s.itemsTotal,
		s.artifacts,
		s.pageDuration,
		s.runsStarted,
		s.runsCompleted,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
	case progress.StageRunDone:
		s.runsCompleted.Inc()
	case progress.StagePageDone:
		result := "accepted"
		if evt.Degraded {
			result = "degraded"
		}
		s.pagesDone.WithLabelValues(result).Inc()
		s.itemsTotal.Add(float64(evt.Items))
		if evt.Dur > 0 {
			s.pageDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StagePageFailed:
		s.pagesDone.WithLabelValues("failed").Inc()
	case progress.StagePageRetry:
		category := evt.Category
		if category == "" {
			category = "unknown"
		}
		s.pageRetries.WithLabelValues(category).Inc()
	case progress.StageArtifactDone:
		s.artifacts.WithLabelValues("ok").Inc()
	case progress.StageArtifactErr:
		s.artifacts.WithLabelValues("error").Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
