package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors the worker loop updates each
// iteration, registered against a private registry so /metrics exposes
// exactly the outbox-dispatch surface and nothing else.
type Metrics struct {
	Registry *prometheus.Registry

	ClaimsTotal        *prometheus.CounterVec
	JobsProcessedTotal *prometheus.CounterVec
	PollDuration       prometheus.Histogram
	JobDuration        *prometheus.HistogramVec
	BacklogGauge       prometheus.Gauge
	OldestUnprocessed  prometheus.Gauge
}

// NewMetrics builds and registers a fresh Metrics instance.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		ClaimsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_claims_total",
			Help: "Number of claim attempts by outcome (ok, empty, error).",
		}, []string{"outcome"}),
		JobsProcessedTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_jobs_processed_total",
			Help: "Number of dispatched outbox events by status and event_type.",
		}, []string{"status", "event_type"}),
		PollDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "outbox_poll_duration_seconds",
			Help:    "Duration of a single poll iteration (claim plus dispatch of the claimed batch).",
			Buckets: prometheus.DefBuckets,
		}),
		JobDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "outbox_job_duration_seconds",
			Help:    "Duration of a single event's dispatch, labeled by event_type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_type"}),
		BacklogGauge: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "outbox_unprocessed_total",
			Help: "Number of outbox rows currently in PENDING or PROCESSING.",
		}),
		OldestUnprocessed: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "outbox_oldest_unprocessed_age_seconds",
			Help: "Age in seconds of the oldest unprocessed outbox row, 0 if none.",
		}),
	}

	return m
}
