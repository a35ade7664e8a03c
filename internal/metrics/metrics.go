// Package metrics holds the Prometheus collectors shared by the cache, auth and HTTP layers.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg prometheus.Gatherer

	CacheOps     *prometheus.CounterVec
	AuthEvents   *prometheus.CounterVec
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them in reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		reg: reg,
		CacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_cache_operations_total",
			Help: "Cache operations by driver, operation and result.",
		}, []string{"driver", "op", "result"}),
		AuthEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_auth_events_total",
			Help: "Authentication outcomes by operation.",
		}, []string{"op", "result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
	reg.MustRegister(m.CacheOps, m.AuthEvents, m.HTTPRequests, m.HTTPDuration)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Cache counts a cache operation.
func (m *Metrics) Cache(driver, op, result string) {
	if m == nil {
		return
	}
	m.CacheOps.WithLabelValues(driver, op, result).Inc()
}

// Auth counts an authentication outcome.
func (m *Metrics) Auth(op, result string) {
	if m == nil {
		return
	}
	m.AuthEvents.WithLabelValues(op, result).Inc()
}
