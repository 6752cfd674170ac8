// Package metrics holds the Prometheus collectors shared by the orchestration
// components. Collectors live on an explicit registry so tests can build as many
// instances as they like.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "assetflow"

type Metrics struct {
	Registry *prometheus.Registry

	StageInvocations    *prometheus.CounterVec
	StageDuration       *prometheus.HistogramVec
	PipelineTransitions *prometheus.CounterVec
	PipelineConflicts   prometheus.Counter

	TasksEnqueued     *prometheus.CounterVec
	TasksDispatched   *prometheus.CounterVec
	TaskStatusUpdates *prometheus.CounterVec
	TaskRetries       *prometheus.CounterVec

	CallbackEvents     *prometheus.CounterVec
	CallbackQueueDepth prometheus.Gauge

	HTTPRequests    *prometheus.CounterVec
	RateLimited     *prometheus.CounterVec
	PanicsRecovered prometheus.Counter
}

// New creates the collectors on a fresh registry, together with the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		StageInvocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_invocations_total",
			Help:      "Stage invocations by stage, phase and resulting status.",
		}, []string{"stage", "phase", "status"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of stage invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"stage", "phase"}),
		PipelineTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_status_transitions_total",
			Help:      "Persisted pipeline status changes by new status.",
		}, []string{"status"}),
		PipelineConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_update_conflicts_total",
			Help:      "Pipeline updates rejected because another writer won.",
		}),
		TasksEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_enqueued_total",
			Help:      "Tasks added to the queue by type and backend.",
		}, []string{"type", "backend"}),
		TasksDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dispatched_total",
			Help:      "Tasks handed to workers by type.",
		}, []string{"type"}),
		TaskStatusUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_status_updates_total",
			Help:      "Worker status reports by task type and status.",
		}, []string{"type", "status"}),
		TaskRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_retries_total",
			Help:      "Clean task failures that were requeued.",
		}, []string{"type"}),
		CallbackEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_events_total",
			Help:      "Callback events delivered by listener and result.",
		}, []string{"listener", "result"}),
		CallbackQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "callback_queue_depth",
			Help:      "Events waiting for delivery across all shards.",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "Requests rejected by the rate limiter by granting scope.",
		}, []string{"scope"}),
		PanicsRecovered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_panics_recovered_total",
			Help:      "Handler panics turned into 500 responses.",
		}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
		Registry:      m.Registry,
	})
}
