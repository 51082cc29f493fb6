// Package metrics exposes Prometheus collectors for the node agent.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	workerRestartsTotal  prometheus.Counter
	workerActive         prometheus.Gauge
	nodePhase            *prometheus.GaugeVec
	statusRequestsTotal  *prometheus.CounterVec
	bootstrapStepsTotal  *prometheus.CounterVec
	cleanupAttemptsTotal prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		workerRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "fantine_worker_restarts_total",
			Help: "Total number of workload process restarts after a crash.",
		})

		workerActive = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fantine_worker_active",
			Help: "Whether the workload process is currently running (1) or not (0).",
		})

		nodePhase = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fantine_node_phase",
				Help: "Current node lifecycle phase (exactly one label is 1).",
			},
			[]string{"phase"},
		)

		statusRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fantine_status_requests_total",
				Help: "Total number of health queries served, labeled by code.",
			},
			[]string{"code"},
		)

		bootstrapStepsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fantine_bootstrap_steps_total",
				Help: "Bootstrap steps executed, labeled by step and result.",
			},
			[]string{"step", "result"},
		)

		cleanupAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "fantine_cleanup_attempts_total",
			Help: "Total number of cleanup controller invocations.",
		})
	})
}

// Handler returns the HTTP handler that serves the metrics registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// WorkerRestarted increments the restart counter.
func WorkerRestarted() {
	if workerRestartsTotal != nil {
		workerRestartsTotal.Inc()
	}
}

// SetWorkerActive records whether the workload process is running.
func SetWorkerActive(active bool) {
	if workerActive == nil {
		return
	}
	if active {
		workerActive.Set(1)
		return
	}
	workerActive.Set(0)
}

// SetNodePhase marks the given phase as current.
func SetNodePhase(phase string) {
	if nodePhase == nil {
		return
	}
	nodePhase.Reset()
	nodePhase.WithLabelValues(phase).Set(1)
}

// StatusRequest counts one served health query.
func StatusRequest(code string) {
	if statusRequestsTotal != nil {
		statusRequestsTotal.WithLabelValues(code).Inc()
	}
}

// BootstrapStep counts one executed bootstrap step.
func BootstrapStep(step, result string) {
	if bootstrapStepsTotal != nil {
		bootstrapStepsTotal.WithLabelValues(step, result).Inc()
	}
}

// CleanupAttempt counts one cleanup controller invocation.
func CleanupAttempt() {
	if cleanupAttemptsTotal != nil {
		cleanupAttemptsTotal.Inc()
	}
}
