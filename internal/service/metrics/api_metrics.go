// Package metrics holds API-level metrics for the outlier endpoints.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// API tracks request sizes and error codes per endpoint.
type API struct {
	points  *prometheus.HistogramVec
	errors  *prometheus.CounterVec
	streams prometheus.Gauge
	jobs    *prometheus.CounterVec
}

func NewAPI(reg prometheus.Registerer) *API {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &API{
		points: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "outlier",
				Subsystem: "api",
				Name:      "series_points",
				Help:      "Points per submitted series",
				Buckets:   prometheus.ExponentialBuckets(8, 2, 14),
			},
			[]string{"endpoint"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "outlier",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Errors by endpoint and code",
			},
			[]string{"endpoint", "code"},
		),
		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "outlier",
			Subsystem: "api",
			Name:      "open_streams",
			Help:      "Open websocket streams",
		}),
		jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "outlier",
				Subsystem: "api",
				Name:      "jobs_total",
				Help:      "Queued jobs by outcome",
			},
			[]string{"outcome"},
		),
	}
	a.points = register(reg, a.points)
	a.errors = register(reg, a.errors)
	a.streams = register(reg, a.streams)
	a.jobs = register(reg, a.jobs)
	return a
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (a *API) ObservePoints(endpoint string, n int) {
	a.points.WithLabelValues(endpoint).Observe(float64(n))
}

func (a *API) Error(endpoint, code string) {
	a.errors.WithLabelValues(endpoint, code).Inc()
}

func (a *API) StreamOpened() { a.streams.Inc() }
func (a *API) StreamClosed() { a.streams.Dec() }

// Job counts queue events: "enqueued", "rejected".
func (a *API) Job(outcome string) {
	a.jobs.WithLabelValues(outcome).Inc()
}
