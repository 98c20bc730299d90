package ingest

import (
	"time"

	"github.com/bissquit/incident-escalator/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "escalator"

var (
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "cycles_total",
			Help:      "Ingestion cycles by result",
		},
		[]string{"result"},
	)

	cycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "cycle_duration_seconds",
			Help:      "Time spent in one ingestion cycle",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	incidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "incidents_created_total",
			Help:      "Incident records created by impact",
		},
		[]string{"impact"},
	)

	storeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "store_errors_total",
			Help:      "Per-incident store failures during ingestion",
		},
	)

	monitoringFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "monitoring_failures_total",
			Help:      "Monitoring failure incidents raised after consecutive feed failures",
		},
	)
)

func recordCycle(result string) {
	cyclesTotal.WithLabelValues(result).Inc()
}

func recordCycleDuration(d time.Duration) {
	cycleDuration.Observe(d.Seconds())
}

func recordIncidentCreated(impact domain.Impact) {
	incidentsCreated.WithLabelValues(string(impact)).Inc()
}

func recordStoreError() {
	storeErrors.Inc()
}

func recordMonitoringFailure() {
	monitoringFailures.Inc()
}
