// Package metrics provides Prometheus metrics collection for apiforge.
package metrics

import (
	"net/http"
	"time"

	"github.com/artpar/apiforge/core/apierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "apiforge"

// Collector holds all Prometheus metrics for apiforge.
type Collector struct {
	// Operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	RequestsInFlight  prometheus.Gauge
	HTTPRequestsTotal *prometheus.CounterVec

	// Registry metrics
	RegistryReloads    *prometheus.CounterVec
	RegistryVersion    prometheus.Gauge
	RegistryOperations prometheus.Gauge
	RegistryLastReload prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewWithRegistry creates a collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of synthesized operations executed",
			},
			[]string{"entity", "operation", "outcome"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Operation duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"entity", "operation"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by method and status class",
			},
			[]string{"method", "status"},
		),
		RegistryReloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registry_reloads_total",
				Help:      "Total number of schema registrations by result",
			},
			[]string{"result"},
		),
		RegistryVersion: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registry_version",
				Help:      "Version of the active registry snapshot",
			},
		),
		RegistryOperations: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registry_operations",
				Help:      "Number of operations served by the active snapshot",
			},
		),
		RegistryLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registry_last_reload_timestamp",
				Help:      "Unix timestamp of the last published snapshot",
			},
		),
		gatherer: gatherer,
	}
}

// ObserveOperation records one executed operation.
func (c *Collector) ObserveOperation(entity, operation string, err error, d time.Duration) {
	c.OperationsTotal.WithLabelValues(entity, operation, Outcome(err)).Inc()
	c.OperationDuration.WithLabelValues(entity, operation).Observe(d.Seconds())
}

// ObserveRequest records one served HTTP request. status is a class label
// such as "2xx".
func (c *Collector) ObserveRequest(method, status string) {
	c.HTTPRequestsTotal.WithLabelValues(method, status).Inc()
}

// RegistryReload records the result of one registration: published, kept
// or rejected.
func (c *Collector) RegistryReload(result string) {
	c.RegistryReloads.WithLabelValues(result).Inc()
}

// RegistryActive records the snapshot now serving.
func (c *Collector) RegistryActive(version, operations int) {
	c.RegistryVersion.Set(float64(version))
	c.RegistryOperations.Set(float64(operations))
	c.RegistryLastReload.SetToCurrentTime()
}

// Handler serves the metrics of the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// InFlight wraps next, tracking the number of requests being served.
func (c *Collector) InFlight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.RequestsInFlight.Inc()
		defer c.RequestsInFlight.Dec()
		next.ServeHTTP(w, r)
	})
}

// Outcome classifies err into a low-cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case apierror.IsValidation(err):
		return "invalid"
	case apierror.IsPolicyDenied(err):
		return "denied"
	case apierror.IsNotFound(err):
		return "not_found"
	case apierror.IsConflict(err):
		return "conflict"
	case apierror.IsUnavailable(err):
		return "unavailable"
	}
	return "error"
}
