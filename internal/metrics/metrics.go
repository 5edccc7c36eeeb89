// Package metrics exposes Prometheus collectors for the HTTP layer and the
// auth lifecycle. All methods are safe on a nil *Metrics so components can
// be built without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "filevault"

// Metrics groups every collector the server registers.
type Metrics struct {
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	AuthEvents      *prometheus.CounterVec
	TokensPurged    prometheus.Counter
	UploadedBytes   prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on a fresh registry
// together with the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		AuthEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "events_total",
				Help:      "Login, refresh and logout attempts by outcome",
			},
			[]string{"operation", "outcome"},
		),
		TokensPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "refresh_tokens_purged_total",
			Help:      "Expired refresh tokens deleted by the sweeper",
		}),
		UploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "files",
			Name:      "uploaded_bytes_total",
			Help:      "Bytes accepted by the upload endpoint",
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.RequestCount, m.RequestDuration, m.AuthEvents, m.TokensPurged, m.UploadedBytes)
	return m
}

// Auth records one auth operation outcome.
func (m *Metrics) Auth(operation string, ok bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	m.AuthEvents.WithLabelValues(operation, outcome).Inc()
}

// Purged adds n to the purged refresh token counter.
func (m *Metrics) Purged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.TokensPurged.Add(float64(n))
}

// Uploaded adds n bytes to the upload counter.
func (m *Metrics) Uploaded(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.UploadedBytes.Add(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
