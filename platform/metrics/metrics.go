// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crewcommand"

// Metrics groups every collector the service records.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	mutationsTotal *prometheus.CounterVec

	dispatchMessagesTotal *prometheus.CounterVec
	dispatchRunDuration   prometheus.Histogram

	feedRowsTotal prometheus.Counter
}

// New creates the collectors on a dedicated registry that also exposes Go
// runtime and process metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		mutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_mutations_total",
				Help:      "Device mutations by entity type and outcome",
			},
			[]string{"entity_type", "outcome"},
		),
		dispatchMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "followup_dispatch_messages_total",
				Help:      "Follow-up messages handled by the dispatcher by outcome",
			},
			[]string{"outcome"},
		),
		dispatchRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "followup_dispatch_run_duration_seconds",
				Help:      "Duration of dispatcher batch runs",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		feedRowsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_feed_rows_total",
				Help:      "Rows returned by the change feed",
			},
		),
	}

	reg.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.mutationsTotal,
		m.dispatchMessagesTotal,
		m.dispatchRunDuration,
		m.feedRowsTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency keyed by the matched route
// template, so path parameters do not explode label cardinality.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		m.httpRequestsTotal.WithLabelValues(method, route, status).Inc()
		m.httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// RecordMutation counts one processed device mutation.
func (m *Metrics) RecordMutation(entityType, outcome string) {
	if m == nil {
		return
	}
	m.mutationsTotal.WithLabelValues(entityType, outcome).Inc()
}

// RecordFeedRows counts rows handed to devices by a pull.
func (m *Metrics) RecordFeedRows(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.feedRowsTotal.Add(float64(n))
}

// DispatchOutcome is the per-run tally reported by the dispatcher.
type DispatchOutcome struct {
	Sent     int
	Retried  int
	Failed   int
	Deferred int
	Skipped  int
	Errored  int
}

// RecordDispatchRun adds one run's tallies and its duration.
func (m *Metrics) RecordDispatchRun(out DispatchOutcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.dispatchMessagesTotal.WithLabelValues("sent").Add(float64(out.Sent))
	m.dispatchMessagesTotal.WithLabelValues("retried").Add(float64(out.Retried))
	m.dispatchMessagesTotal.WithLabelValues("failed").Add(float64(out.Failed))
	m.dispatchMessagesTotal.WithLabelValues("deferred").Add(float64(out.Deferred))
	m.dispatchMessagesTotal.WithLabelValues("skipped").Add(float64(out.Skipped))
	m.dispatchMessagesTotal.WithLabelValues("errored").Add(float64(out.Errored))
	m.dispatchRunDuration.Observe(elapsed.Seconds())
}
