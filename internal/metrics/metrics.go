// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

// Package metrics holds the controller's Prometheus collectors. Collectors
// are registered on an explicit registry so tests and multiple controllers
// in one process never collide on the default one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fleetmaster"

// Metrics groups every collector the controller exports.
type Metrics struct {
	registry *prometheus.Registry

	HeartbeatTotal   prometheus.Counter
	HeartbeatErrors  *prometheus.CounterVec
	HeartbeatLatency prometheus.Histogram

	EnrollmentsTotal   *prometheus.CounterVec
	EnrollmentDuration prometheus.Histogram

	StateTransitions *prometheus.CounterVec
	HostsByState     *prometheus.GaugeVec

	HTTPRequestsTotal *prometheus.CounterVec
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HeartbeatTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_total",
			Help:      "Total heartbeat probes sent",
		}),
		HeartbeatErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_errors_total",
			Help:      "Failed heartbeat probes by gRPC status code",
		}, []string{"code"}),
		HeartbeatLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "heartbeat_latency_seconds",
			Help:      "Heartbeat round-trip latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		EnrollmentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrollments_total",
			Help:      "Enrollments by result (ok or the failing step)",
		}, []string{"result"}),
		EnrollmentDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "enrollment_duration_seconds",
			Help:      "Wall time of the enrollment pipeline",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Host state changes",
		}, []string{"from", "to"}),
		HostsByState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hosts",
			Help:      "Hosts by state as of the last full refresh",
		}, []string{"state"}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Operator API requests by route and status",
		}, []string{"route", "status"}),
	}
}

// Registry exposes the underlying registry for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
