// Package metrics holds the Prometheus collectors of a migration run.
//
// Each App owns its own registry, so tests and parallel runs never collide
// on the global default registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vk/orgmigrate/internal/entity"
)

// Metrics is the set of collectors updated by the orchestrator. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal        *prometheus.CounterVec
	pollAttempts     *prometheus.CounterVec
	recordsProcessed prometheus.Counter
	recordsFailed    prometheus.Counter
	entityDuration   *prometheus.HistogramVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgmigrate_jobs_total",
				Help: "Total number of bulk jobs that reached a terminal state",
			},
			[]string{"kind", "state"},
		),
		pollAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgmigrate_poll_attempts_total",
				Help: "Total number of job status polls",
			},
			[]string{"kind"},
		),
		recordsProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orgmigrate_records_processed_total",
				Help: "Total number of records processed by ingest jobs",
			},
		),
		recordsFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orgmigrate_records_failed_total",
				Help: "Total number of records rejected by ingest jobs",
			},
		),
		entityDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orgmigrate_entity_duration_seconds",
				Help:    "Duration of one entity's job lifecycle in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"kind"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsTotal,
		m.pollAttempts,
		m.recordsProcessed,
		m.recordsFailed,
		m.entityDuration,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// PollAttempt counts one status poll.
func (m *Metrics) PollAttempt(kind entity.JobKind) {
	if m == nil {
		return
	}
	m.pollAttempts.WithLabelValues(string(kind)).Inc()
}

// JobFinished records a job's terminal status and how long the entity took.
func (m *Metrics) JobFinished(kind entity.JobKind, status *entity.JobStatus, took time.Duration) {
	if m == nil || status == nil {
		return
	}
	m.jobsTotal.WithLabelValues(string(kind), string(status.State)).Inc()
	m.entityDuration.WithLabelValues(string(kind)).Observe(took.Seconds())
	if kind == entity.KindIngest {
		m.recordsProcessed.Add(float64(status.NumberRecordsProcessed))
		m.recordsFailed.Add(float64(status.NumberRecordsFailed))
	}
}
