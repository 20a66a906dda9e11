// Copyright 2025 Certen Protocol
//
// Prometheus metrics for the planner and worker processes. Grounded on
// the teacher's pkg/core health-logging module (a registry plus a
// handful of named gauges/counters wired into a promhttp endpoint),
// adapted from node/ledger health signals to block-planning and
// proving signals.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge/histogram this system exports.
type Metrics struct {
	registry *prometheus.Registry

	BlocksPlanned      prometheus.Counter
	RequestsDropped    prometheus.Counter
	LeavesEnqueued     prometheus.Counter
	PlanDuration       prometheus.Histogram
	QueueDepthJob      prometheus.Gauge
	QueueDepthNotify   prometheus.Gauge
	JobsCompleted      *prometheus.CounterVec
	ProveDuration      *prometheus.HistogramVec
	ProveErrors        *prometheus.CounterVec
	JobsQuarantined    prometheus.Counter
}

// New constructs and registers a fresh Metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		BlocksPlanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cityrollup_blocks_planned_total",
			Help: "Number of planning rounds completed.",
		}),
		RequestsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cityrollup_requests_dropped_total",
			Help: "Number of requests dropped by C3 validation during planning.",
		}),
		LeavesEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cityrollup_leaves_enqueued_total",
			Help: "Number of leaf job IDs pushed onto Q_JOB.",
		}),
		PlanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cityrollup_plan_duration_seconds",
			Help:    "Wall-clock time of a single Plan() call.",
			Buckets: prometheus.DefBuckets,
		}),
		QueueDepthJob: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cityrollup_queue_depth_job",
			Help: "1 while Q_JOB holds any ready or in-flight message, 0 when it is empty.",
		}),
		QueueDepthNotify: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cityrollup_queue_depth_notifications",
			Help: "Approximate number of ready+in-flight messages on Q_NOTIFICATIONS.",
		}),
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cityrollup_jobs_completed_total",
			Help: "Number of jobs whose output was successfully written, by circuit type.",
		}, []string{"circuit_type"}),
		ProveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cityrollup_prove_duration_seconds",
			Help:    "Wall-clock time of a single proof-engine Prove call, by circuit type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"circuit_type"}),
		ProveErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cityrollup_prove_errors_total",
			Help: "Number of prove errors, by circuit type.",
		}, []string{"circuit_type"}),
		JobsQuarantined: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cityrollup_jobs_quarantined_total",
			Help: "Number of jobs abandoned after exhausting their retry budget.",
		}),
	}

	reg.MustRegister(
		m.BlocksPlanned,
		m.RequestsDropped,
		m.LeavesEnqueued,
		m.PlanDuration,
		m.QueueDepthJob,
		m.QueueDepthNotify,
		m.JobsCompleted,
		m.ProveDuration,
		m.ProveErrors,
		m.JobsQuarantined,
	)

	return m
}

// ObserveProve records a single Prove call's outcome and duration.
func (m *Metrics) ObserveProve(circuitType string, duration time.Duration, err error) {
	m.ProveDuration.WithLabelValues(circuitType).Observe(duration.Seconds())
	if err != nil {
		m.ProveErrors.WithLabelValues(circuitType).Inc()
		return
	}
	m.JobsCompleted.WithLabelValues(circuitType).Inc()
}

// Handler returns the http.Handler serving this registry's /metrics page.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
