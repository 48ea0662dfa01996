// Package metrics provides Prometheus metrics for ingestion and retrieval.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job outcomes recorded by JobsTotal.
const (
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobRetried   = "retried"
	JobDead      = "dead"
	JobPoison    = "poison"
	JobSkipped   = "skipped"
)

// Metrics holds all Prometheus metrics for the service
type Metrics struct {
	// Ingestion
	JobsTotal      *prometheus.CounterVec
	JobDuration    prometheus.Histogram
	ChunksWritten  prometheus.Counter
	EmbedCalls     *prometheus.CounterVec
	WorkersRunning prometheus.Gauge

	// Retrieval
	RetrievalsTotal    *prometheus.CounterVec
	RetrievalFallbacks prometheus.Counter
	DroppedCandidates  prometheus.Counter

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers every metric on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{}

	m.JobsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contexta_ingest_jobs_total",
			Help: "Ingestion jobs by outcome",
		},
		[]string{"outcome"},
	)
	m.JobDuration = f.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "contexta_ingest_job_duration_seconds",
			Help:    "Time spent processing one ingestion job",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)
	m.ChunksWritten = f.NewCounter(
		prometheus.CounterOpts{
			Name: "contexta_chunks_written_total",
			Help: "Vector records written by the ingestion pipeline",
		},
	)
	m.EmbedCalls = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contexta_embed_calls_total",
			Help: "Embedding API calls by status",
		},
		[]string{"status"},
	)
	m.WorkersRunning = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "contexta_ingest_workers_running",
			Help: "Ingestion workers currently running",
		},
	)

	m.RetrievalsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contexta_retrievals_total",
			Help: "Retrieval calls by outcome",
		},
		[]string{"outcome"},
	)
	m.RetrievalFallbacks = f.NewCounter(
		prometheus.CounterOpts{
			Name: "contexta_retrieval_fallbacks_total",
			Help: "Searches retried without the document clause",
		},
	)
	m.DroppedCandidates = f.NewCounter(
		prometheus.CounterOpts{
			Name: "contexta_retrieval_dropped_candidates_total",
			Help: "Requested document ids not owned by the caller",
		},
	)

	m.HTTPRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contexta_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)
	m.HTTPRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contexta_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	return m
}

// ObserveJob records one finished job.
func (m *Metrics) ObserveJob(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(outcome).Inc()
	m.JobDuration.Observe(time.Since(started).Seconds())
}

// Discard returns metrics registered on a private registry.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}
