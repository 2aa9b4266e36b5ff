// Package metrics provides Prometheus metrics for process supervision and the
// capture lifecycle. Labels carry tool labels and outcomes only, never VOD or
// job identifiers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	processSpawnTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livestreamdvr_process_spawn_total",
		Help: "External process spawn attempts, by tool label and result.",
	}, []string{"label", "result"})

	processExitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livestreamdvr_process_exit_total",
		Help: "External process exits, by tool label and outcome (ok/nonzero/stopped).",
	}, []string{"label", "outcome"})

	processSignalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livestreamdvr_process_signal_total",
		Help: "Signals sent to process groups, by signal and result.",
	}, []string{"signal", "result"})

	processDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livestreamdvr_process_duration_seconds",
		Help:    "Wall-clock runtime of external processes, by tool label.",
		Buckets: []float64{0.1, 1, 5, 30, 120, 600, 3600, 4 * 3600, 12 * 3600},
	}, []string{"label"})

	runningProcesses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livestreamdvr_running_processes",
		Help: "External processes currently registered with the runner.",
	})

	activeJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livestreamdvr_active_jobs",
		Help: "Supervised jobs currently held by the registry.",
	})

	orphanedJobsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livestreamdvr_orphaned_jobs_total",
		Help: "Persisted jobs whose process was gone at startup.",
	})

	pipelineOpTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livestreamdvr_pipeline_op_total",
		Help: "Media pipeline operations, by operation and outcome.",
	}, []string{"op", "outcome"})

	vodTransitionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livestreamdvr_vod_transition_total",
		Help: "Capture lifecycle transitions, by source and target state.",
	}, []string{"from", "to"})

	captureRetryTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livestreamdvr_capture_retry_total",
		Help: "Capture restarts after a retryable failure.",
	})

	timelineAnomalyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livestreamdvr_timeline_anomaly_total",
		Help: "Chapter events skipped because they were out of order.",
	})

	notificationDropTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livestreamdvr_notification_drop_total",
		Help: "Notifications dropped, by sink and reason.",
	}, []string{"sink", "reason"})

	inboxCommandTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livestreamdvr_inbox_command_total",
		Help: "Inbox trigger files processed, by command type and result.",
	}, []string{"type", "result"})
)

func IncProcessSpawn(label, result string) { processSpawnTotal.WithLabelValues(label, result).Inc() }

// ObserveProcessExit records the outcome and runtime of one external process.
func ObserveProcessExit(label, outcome string, runtime time.Duration) {
	processExitTotal.WithLabelValues(label, outcome).Inc()
	processDuration.WithLabelValues(label).Observe(runtime.Seconds())
}

func IncProcessSignal(signal, result string) { processSignalTotal.WithLabelValues(signal, result).Inc() }

func SetRunningProcesses(n int) { runningProcesses.Set(float64(n)) }

func SetActiveJobs(n int) { activeJobs.Set(float64(n)) }

func IncOrphanedJob() { orphanedJobsTotal.Inc() }

func IncPipelineOp(op, outcome string) { pipelineOpTotal.WithLabelValues(op, outcome).Inc() }

func IncVODTransition(from, to string) { vodTransitionTotal.WithLabelValues(from, to).Inc() }

func IncCaptureRetry() { captureRetryTotal.Inc() }

func IncTimelineAnomaly() { timelineAnomalyTotal.Inc() }

func IncNotificationDrop(sink, reason string) {
	notificationDropTotal.WithLabelValues(sink, reason).Inc()
}

func IncInboxCommand(kind, result string) { inboxCommandTotal.WithLabelValues(kind, result).Inc() }
