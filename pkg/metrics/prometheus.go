// Package metrics records detection telemetry in Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements repository.Metrics.
type Recorder struct {
	runs       *prometheus.CounterVec
	iterations *prometheus.HistogramVec
	outliers   *prometheus.HistogramVec
	runSeconds *prometheus.HistogramVec
	errorsTot  *prometheus.CounterVec
	cache      *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// New registers the recorder's collectors on reg, or the default registry when reg is nil.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outlier_runs_total",
				Help: "Completed detection runs by method and final state",
			},
			[]string{"method", "state"},
		),
		iterations: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outlier_run_iterations",
				Help:    "Fit iterations per run",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 50, 100},
			},
			[]string{"method"},
		),
		outliers: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outlier_run_flagged_points",
				Help:    "Points flagged per run",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"method"},
		),
		runSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outlier_run_duration_seconds",
				Help:    "Wall time of a detection run",
				Buckets: prometheus.ExponentialBuckets(0.001, 2.5, 12),
			},
			[]string{"method"},
		),
		errorsTot: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outlier_errors_total",
				Help: "Errors by kind",
			},
			[]string{"kind"},
		),
		cache: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outlier_cache_requests_total",
				Help: "Result cache lookups by result",
			},
			[]string{"result"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outlier_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordRun(method, state string, iterations, outliers int, took time.Duration) {
	r.runs.WithLabelValues(method, state).Inc()
	r.iterations.WithLabelValues(method).Observe(float64(iterations))
	r.outliers.WithLabelValues(method).Observe(float64(outliers))
	r.runSeconds.WithLabelValues(method).Observe(took.Seconds())
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTot.WithLabelValues(kind).Inc()
}

// RecordCache counts a lookup; result is "hit", "miss" or "error".
func (r *Recorder) RecordCache(result string) {
	r.cache.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
