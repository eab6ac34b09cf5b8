// Package metrics exposes Prometheus instruments for the cascade, the
// funnel and the HTTP API on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "grants"

// Metrics holds every instrument. A nil *Metrics is valid and records
// nothing, so components can be built without metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	completionCalls    *prometheus.CounterVec
	completionDuration *prometheus.HistogramVec
	completionCost     *prometheus.CounterVec
	fallbacks          *prometheus.CounterVec
	candidates         *prometheus.CounterVec
	transitions        *prometheus.CounterVec
	runs               *prometheus.CounterVec
	requests           *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
}

// New registers all instruments on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		completionCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "completion",
			Name:      "calls_total",
			Help:      "Completion calls by cascade stage and outcome.",
		}, []string{"stage", "outcome"}),
		completionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "completion",
			Name:      "duration_seconds",
			Help:      "Completion call latency including retries.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120},
		}, []string{"stage"}),
		completionCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "completion",
			Name:      "cost_usd_total",
			Help:      "Estimated completion spend in USD.",
		}, []string{"stage"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cascade",
			Name:      "fallbacks_total",
			Help:      "Fallback analyses produced by stage and failure kind.",
		}, []string{"stage", "kind"}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "candidates_total",
			Help:      "Discovered candidates by outcome.",
		}, []string{"status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "funnel",
			Name:      "transitions_total",
			Help:      "Committed funnel stage transitions.",
		}, []string{"from", "to", "decision"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "runs_total",
			Help:      "Discovery runs by result.",
		}, []string{"result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.completionCalls,
		m.completionDuration,
		m.completionCost,
		m.fallbacks,
		m.candidates,
		m.transitions,
		m.runs,
		m.requests,
		m.requestDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCompletion records one completion call.
func (m *Metrics) RecordCompletion(stage, outcome string, d time.Duration, costUSD float64) {
	if m == nil {
		return
	}
	m.completionCalls.WithLabelValues(stage, outcome).Inc()
	m.completionDuration.WithLabelValues(stage).Observe(d.Seconds())
	if costUSD > 0 {
		m.completionCost.WithLabelValues(stage).Add(costUSD)
	}
}

// RecordFallback records a fallback analysis.
func (m *Metrics) RecordFallback(stage, kind string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(stage, kind).Inc()
}

// RecordCandidate records a candidate outcome.
func (m *Metrics) RecordCandidate(status string) {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues(status).Inc()
}

// RecordTransition records a committed stage change.
func (m *Metrics) RecordTransition(from, to, decision string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	m.transitions.WithLabelValues(from, to, decision).Inc()
}

// RecordRun records a finished discovery run.
func (m *Metrics) RecordRun(result string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
}

// RecordRequest records a served HTTP request.
func (m *Metrics) RecordRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
