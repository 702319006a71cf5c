// Package metrics exposes Prometheus collectors for the runner service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksTotal           *prometheus.CounterVec
	taskDurationSeconds  *prometheus.HistogramVec
	invalidMessagesTotal prometheus.Counter
	uploadsTotal         *prometheus.CounterVec
	reportsTotal         *prometheus.CounterVec
	queueOpsTotal        *prometheus.CounterVec
	activeWorkers        prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runner_tasks_total",
				Help: "Total number of tasks processed, labeled by type and status.",
			},
			[]string{"type", "status"},
		)

		taskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "runner_task_duration_seconds",
				Help:    "Histogram of task execution durations, labeled by type.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"type"},
		)

		invalidMessagesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "runner_invalid_messages_total",
				Help: "Total number of queue messages rejected as invalid.",
			},
		)

		uploadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runner_artifact_uploads_total",
				Help: "Total number of artifact uploads, labeled by status.",
			},
			[]string{"status"},
		)

		reportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runner_reports_total",
				Help: "Total number of session result reports, labeled by status.",
			},
			[]string{"status"},
		)

		queueOpsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runner_queue_ops_total",
				Help: "Total number of queue operations, labeled by op and status.",
			},
			[]string{"op", "status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "runner_active_workers",
				Help: "Number of workers currently executing a task.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTask records one finished task attempt.
func ObserveTask(taskType, status string, duration time.Duration) {
	if tasksTotal == nil {
		return
	}
	tasksTotal.WithLabelValues(taskType, status).Inc()
	taskDurationSeconds.WithLabelValues(taskType).Observe(duration.Seconds())
}

// ObserveInvalidMessage counts a message rejected during classification.
func ObserveInvalidMessage() {
	if invalidMessagesTotal == nil {
		return
	}
	invalidMessagesTotal.Inc()
}

// ObserveUpload counts one artifact upload outcome.
func ObserveUpload(ok bool) {
	if uploadsTotal == nil {
		return
	}
	uploadsTotal.WithLabelValues(statusLabel(ok)).Inc()
}

// ObserveReport counts one session result report outcome.
func ObserveReport(ok bool) {
	if reportsTotal == nil {
		return
	}
	reportsTotal.WithLabelValues(statusLabel(ok)).Inc()
}

// ObserveQueueOp counts one queue operation outcome.
func ObserveQueueOp(op string, err error) {
	if queueOpsTotal == nil {
		return
	}
	queueOpsTotal.WithLabelValues(op, statusLabel(err == nil)).Inc()
}

// WorkerStarted increments the active worker gauge.
func WorkerStarted() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Inc()
}

// WorkerFinished decrements the active worker gauge.
func WorkerFinished() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Dec()
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
