package notifications

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "escalator"

var (
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "dispatch_total",
			Help:      "Dispatched chat and SMS operations by result",
		},
		[]string{"channel", "operation", "status"},
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "dispatch_duration_seconds",
			Help:      "Time to perform a dispatch operation",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel", "operation"},
	)
)

// recordDispatch records the outcome and duration of one operation.
func recordDispatch(channel, operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	dispatchTotal.WithLabelValues(channel, operation, status).Inc()
	dispatchDuration.WithLabelValues(channel, operation).Observe(duration.Seconds())
}
