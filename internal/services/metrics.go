// Package services – pipeline metrics.
//
// Prometheus instrumentation for the generation pipeline, complementing the
// HTTP-level metrics in the middleware package. Label cardinality is fixed:
// "stage" is one of extract|synthesize|persist and "outcome" is one of
// ok|extract_error|write_error|persist_error.
package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	stageExtract    = "extract"
	stageSynthesize = "synthesize"
	stagePersist    = "persist"

	outcomeOK           = "ok"
	outcomeExtractError = "extract_error"
	outcomeWriteError   = "write_error"
	outcomePersistError = "persist_error"
)

var (
	// storyGenerations counts completed pipeline runs by outcome.
	storyGenerations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_generations_total",
			Help: "Total number of story generation pipeline runs by outcome.",
		},
		[]string{"outcome"},
	)

	// stageDuration records per-stage latency. Model stages dominate, so
	// buckets stretch well past the default HTTP range.
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_pipeline_stage_duration_seconds",
			Help:    "Duration of story pipeline stages in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"stage"},
	)

	// extractionFallbacks counts runs where the model's structured output
	// was unusable and the documented default elements were substituted.
	extractionFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "story_extraction_fallbacks_total",
			Help: "Total number of extraction runs that fell back to default story elements.",
		},
	)
)

func init() {
	prometheus.MustRegister(storyGenerations, stageDuration, extractionFallbacks)
}

// observeStage records the latency of one pipeline stage.
func observeStage(stage string, start time.Time) {
	stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
