// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Simulation metrics
	SimulationRunsTotal    *prometheus.CounterVec
	SimulationDuration     prometheus.Histogram
	TradeEventsSimulated   prometheus.Counter
	InstrumentFailures     prometheus.Counter
	AnomaliesDetected      *prometheus.CounterVec
	CircuitBreakerTriggers *prometheus.CounterVec

	// Experiment metrics
	ExperimentsTotal    *prometheus.CounterVec
	ExperimentDuration  prometheus.Histogram
	ArtifactsPublished  *prometheus.CounterVec
	ArtifactsSuperseded prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulExperiment prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "backtest_lab"
	}

	return &Metrics{
		// Simulation metrics
		SimulationRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "runs_total",
			Help:      "Total number of simulation runs by status",
		}, []string{"status"}),
		SimulationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "duration_seconds",
			Help:      "Simulation run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}),
		TradeEventsSimulated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "trade_events_total",
			Help:      "Total number of trade events simulated",
		}),
		InstrumentFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "instrument_failures_total",
			Help:      "Total number of per-instrument simulation failures",
		}),
		AnomaliesDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "anomalies_detected_total",
			Help:      "Total number of execution-quality anomalies by flag",
		}, []string{"flag"}),
		CircuitBreakerTriggers: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "circuit_breaker_triggers_total",
			Help:      "Total number of circuit breaker triggers by reason",
		}, []string{"reason"}),

		// Experiment metrics
		ExperimentsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "experiment",
			Name:      "runs_total",
			Help:      "Total number of experiment executions by status",
		}, []string{"status"}),
		ExperimentDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "experiment",
			Name:      "duration_seconds",
			Help:      "Experiment execution duration in seconds",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		}),
		ArtifactsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "experiment",
			Name:      "artifacts_published_total",
			Help:      "Total number of artifacts published by type and dedup outcome",
		}, []string{"artifact_type", "deduped"}),
		ArtifactsSuperseded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "experiment",
			Name:      "artifacts_superseded_total",
			Help:      "Total number of artifacts marked superseded during compensation",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulExperiment: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_experiment_timestamp",
			Help:      "Unix timestamp of last successful experiment",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordSimulationRun records a completed simulation run.
func RecordSimulationRun(status string, durationSeconds float64, events int) {
	DefaultMetrics.SimulationRunsTotal.WithLabelValues(status).Inc()
	DefaultMetrics.SimulationDuration.Observe(durationSeconds)
	DefaultMetrics.TradeEventsSimulated.Add(float64(events))
}

// RecordInstrumentFailure increments the per-instrument failure counter.
func RecordInstrumentFailure() {
	DefaultMetrics.InstrumentFailures.Inc()
}

// RecordAnomaly records one anomaly detector flag.
func RecordAnomaly(flag string) {
	DefaultMetrics.AnomaliesDetected.WithLabelValues(flag).Inc()
}

// RecordBreakerTrigger records one circuit breaker trigger.
func RecordBreakerTrigger(reason string) {
	DefaultMetrics.CircuitBreakerTriggers.WithLabelValues(reason).Inc()
}

// RecordExperiment records an experiment execution.
func RecordExperiment(status string, durationSeconds float64) {
	DefaultMetrics.ExperimentsTotal.WithLabelValues(status).Inc()
	DefaultMetrics.ExperimentDuration.Observe(durationSeconds)
}

// RecordArtifactPublished records one artifact publish.
func RecordArtifactPublished(artifactType string, deduped bool) {
	label := "false"
	if deduped {
		label = "true"
	}
	DefaultMetrics.ArtifactsPublished.WithLabelValues(artifactType, label).Inc()
}

// RecordArtifactSuperseded increments the supersede counter.
func RecordArtifactSuperseded() {
	DefaultMetrics.ArtifactsSuperseded.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
