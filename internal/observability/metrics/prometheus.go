// Package metrics provides Prometheus metrics for the recommendation service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	RunsCompleted       prometheus.Counter
	RunsFailed          prometheus.Counter
	PatientsScored      prometheus.Counter
	PatientsSkipped     *prometheus.CounterVec
	NoViableCandidate   prometheus.Counter
	RunDuration         prometheus.Histogram
	ForecastFallbacks   prometheus.Counter
	KafkaMessagesOut    prometheus.Counter
	KafkaMessagesIn     prometheus.Counter
	OutboxPending       prometheus.Gauge
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		RunsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discharge_runs_completed_total",
			Help: "Total recommendation runs completed",
		}),
		RunsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discharge_runs_failed_total",
			Help: "Total recommendation runs that failed",
		}),
		PatientsScored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discharge_patients_scored_total",
			Help: "Total patients scored across all runs",
		}),
		PatientsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discharge_patients_skipped_total",
			Help: "Patients skipped during scoring, by reason",
		}, []string{"reason"}),
		NoViableCandidate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discharge_no_viable_candidate_total",
			Help: "Patients whose every candidate was hard-excluded",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "discharge_run_duration_seconds",
			Help:    "Recommendation run duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		ForecastFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "occupancy_forecast_fallbacks_total",
			Help: "Occupancy lookups that used the constant fallback rate",
		}),
		KafkaMessagesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.RunsCompleted,
		m.RunsFailed,
		m.PatientsScored,
		m.PatientsSkipped,
		m.NoViableCandidate,
		m.RunDuration,
		m.ForecastFallbacks,
		m.KafkaMessagesOut,
		m.KafkaMessagesIn,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
