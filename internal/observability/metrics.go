// Package observability provides Prometheus metrics for the dashboard.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Gateway metrics
	BrokerRequests *prometheus.CounterVec
	BrokerLatency  *prometheus.HistogramVec

	// Watchlist metrics
	Enrichments     *prometheus.CounterVec
	Resolutions     *prometheus.CounterVec
	StoreOperations *prometheus.CounterVec

	// Staging metrics
	BatchesStaged        prometheus.Counter
	InstrumentsConfirmed prometheus.Counter

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// NewMetrics creates a Metrics instance backed by its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "ibkr_dashboard"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		BrokerRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "requests_total",
			Help:      "Total gateway requests by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		BrokerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "request_duration_seconds",
			Help:      "Gateway request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),

		Enrichments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchlist",
			Name:      "enrichments_total",
			Help:      "Price enrichment attempts by status",
		}, []string{"status"}),
		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchlist",
			Name:      "resolutions_total",
			Help:      "Symbol resolution attempts by outcome",
		}, []string{"outcome"}),
		StoreOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchlist",
			Name:      "store_operations_total",
			Help:      "Watchlist store operations by operation and outcome",
		}, []string{"operation", "outcome"}),

		BatchesStaged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "staging",
			Name:      "batches_total",
			Help:      "Total CSV uploads staged for review",
		}),
		InstrumentsConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "staging",
			Name:      "instruments_confirmed_total",
			Help:      "Total staged instruments added to watchlists",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveBrokerCall records one gateway request.
func (m *Metrics) ObserveBrokerCall(endpoint string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.BrokerRequests.WithLabelValues(endpoint, outcome(err)).Inc()
	m.BrokerLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

// RecordEnrichment counts an enrichment with the given status.
func (m *Metrics) RecordEnrichment(status string) {
	if m == nil {
		return
	}
	m.Enrichments.WithLabelValues(status).Inc()
}

// RecordResolution counts a symbol resolution.
func (m *Metrics) RecordResolution(err error) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(outcome(err)).Inc()
}

// RecordStoreOp counts a watchlist store operation.
func (m *Metrics) RecordStoreOp(op string, err error) {
	if m == nil {
		return
	}
	m.StoreOperations.WithLabelValues(op, outcome(err)).Inc()
}

// RecordStaged counts a staged upload.
func (m *Metrics) RecordStaged() {
	if m == nil {
		return
	}
	m.BatchesStaged.Inc()
}

// RecordConfirmed adds n confirmed instruments.
func (m *Metrics) RecordConfirmed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.InstrumentsConfirmed.Add(float64(n))
}

// RecordHTTP records one served HTTP request.
func (m *Metrics) RecordHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
