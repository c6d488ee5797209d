// Package telemetry holds the Prometheus collectors and the OpenTelemetry
// tracer used by the ingestion pipeline.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const namespace = "wellspend"

// TracerName is the instrumentation scope of every span the service opens.
const TracerName = "github.com/FACorreiaa/wellspend"

// Upload outcomes as reported on the uploads_total counter.
const (
	OutcomeProcessed = "processed"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// Tracer returns the service tracer from the global provider. Without a
// configured provider spans are no-ops.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// Metrics groups the pipeline collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	uploads      *prometheus.CounterVec
	rows         prometheus.Counter
	aggregations *prometheus.CounterVec
	duration     prometheus.Histogram
	requests     *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Uploads by final outcome.",
		}, []string{"outcome"}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_persisted_total",
			Help:      "Data records written by the record persister.",
		}),
		aggregations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_aggregations_total",
			Help:      "Metric aggregation attempts by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Time from accepted upload to final status.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by status code and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"code", "method"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.uploads,
		m.rows,
		m.aggregations,
		m.duration,
		m.requests,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveUpload records the outcome of one upload and how long the pipeline
// took.
func (m *Metrics) ObserveUpload(outcome string, records int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(outcome).Inc()
	if records > 0 {
		m.rows.Add(float64(records))
	}
	if elapsed > 0 {
		m.duration.Observe(elapsed.Seconds())
	}
}

// ObserveRejection counts an upload refused by the gate.
func (m *Metrics) ObserveRejection() {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(OutcomeRejected).Inc()
}

// ObserveAggregation counts one aggregator result.
func (m *Metrics) ObserveAggregation(outcome string) {
	if m == nil {
		return
	}
	m.aggregations.WithLabelValues(outcome).Inc()
}

// Instrument wraps next with request latency tracking.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return promhttp.InstrumentHandlerDuration(m.requests, next)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
