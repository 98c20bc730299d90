package escalation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "escalator"

var (
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "cycles_total",
			Help:      "Escalation cycles by result",
		},
		[]string{"result"},
	)

	cycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "cycle_duration_seconds",
			Help:      "Time spent in one escalation cycle",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	openEscalations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "open_records",
			Help:      "Escalation records not yet resolved, as of the last cycle",
		},
	)

	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "transitions_total",
			Help:      "Persisted state machine transitions by action",
		},
		[]string{"action"},
	)

	dispatchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "dispatch_failures_total",
			Help:      "Notifications lost after their transition was persisted",
		},
		[]string{"action"},
	)
)

func recordCycle(result string) {
	cyclesTotal.WithLabelValues(result).Inc()
}

func recordCycleDuration(d time.Duration) {
	cycleDuration.Observe(d.Seconds())
}

func setOpenEscalations(n int) {
	openEscalations.Set(float64(n))
}

func recordTransition(a Action) {
	transitionsTotal.WithLabelValues(a.String()).Inc()
}

func recordDispatchFailure(action string) {
	dispatchFailures.WithLabelValues(action).Inc()
}
