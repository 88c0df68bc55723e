// Package metrics holds the Prometheus collectors shared by the HTTP server,
// the SMS router, the outbound worker and the batch jobs.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "imam"

// Metrics is safe to use as a nil pointer; every Record method is a no-op
// then, which keeps tests free of registry setup.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec

	NotificationsQueued *prometheus.CounterVec
	DeliveriesTotal     *prometheus.CounterVec
	QueueDepth          prometheus.Gauge

	StateJobsTotal *prometheus.CounterVec
	StateRows      *prometheus.GaugeVec

	ScheduledRuns     *prometheus.CounterVec
	ScheduledDuration *prometheus.HistogramVec
}

// New builds a registry with the Go and process collectors plus the
// application metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	m.CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sms",
			Name:      "commands_total",
			Help:      "Inbound SMS commands by handler and outcome",
		},
		[]string{"command", "outcome"},
	)
	m.CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sms",
			Name:      "command_duration_seconds",
			Help:      "Time from inbound text to reply",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"command"},
	)

	m.NotificationsQueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "queued_total",
			Help:      "Alert messages handed to the outbound queue",
		},
		[]string{"timing"},
	)
	m.DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Per-recipient delivery attempts by result",
		},
		[]string{"status"},
	)
	m.QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "queue_depth",
			Help:      "Outbound messages waiting for their dispatch time",
		},
	)

	m.StateJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "jobs_total",
			Help:      "Location program state batch runs",
		},
		[]string{"job", "status"},
	)
	m.StateRows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "rows_processed",
			Help:      "Rows written by the last batch run",
		},
		[]string{"job"},
	)

	m.ScheduledRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "runs_total",
			Help:      "Scheduled job runs by result",
		},
		[]string{"job", "status"},
	)
	m.ScheduledDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "run_duration_seconds",
			Help:      "Scheduled job run time",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"job"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CommandsTotal,
		m.CommandDuration,
		m.NotificationsQueued,
		m.DeliveriesTotal,
		m.QueueDepth,
		m.StateJobsTotal,
		m.StateRows,
		m.ScheduledRuns,
		m.ScheduledDuration,
	)
	return m
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Middleware records request counts and latency keyed by the route pattern.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			m.RecordHTTPRequest(c.Request().Method, c.Path(), c.Response().Status, time.Since(start))
			return nil
		}
	}
}

func (m *Metrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func (m *Metrics) RecordCommand(command, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(command, outcome).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(d.Seconds())
}

func (m *Metrics) RecordQueued(deferred bool) {
	if m == nil {
		return
	}
	timing := "immediate"
	if deferred {
		timing = "deferred"
	}
	m.NotificationsQueued.WithLabelValues(timing).Inc()
}

func (m *Metrics) RecordDelivery(success bool) {
	if m == nil {
		return
	}
	status := "sent"
	if !success {
		status = "failed"
	}
	m.DeliveriesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) SetQueueDepth(n int64) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) RecordStateJob(job string, rows int, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.StateJobsTotal.WithLabelValues(job, status).Inc()
	m.StateRows.WithLabelValues(job).Set(float64(rows))
}

// RecordScheduledRun counts one cron run. A skipped run is one that found the
// previous run of the same job still going.
func (m *Metrics) RecordScheduledRun(job, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ScheduledRuns.WithLabelValues(job, status).Inc()
	if status != "skipped" {
		m.ScheduledDuration.WithLabelValues(job).Observe(d.Seconds())
	}
}
