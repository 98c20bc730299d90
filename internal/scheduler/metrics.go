package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "escalator"

var (
	taskRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "task_runs_total",
			Help:      "Completed task runs",
		},
		[]string{"task"},
	)

	taskLastRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "task_last_run_timestamp_seconds",
			Help:      "Unix time of the last completed task run",
		},
		[]string{"task"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "task_duration_seconds",
			Help:      "Task run duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"task"},
	)
)

func recordRun(task string, d time.Duration) {
	taskRuns.WithLabelValues(task).Inc()
	taskLastRun.WithLabelValues(task).SetToCurrentTime()
	taskDuration.WithLabelValues(task).Observe(d.Seconds())
}
