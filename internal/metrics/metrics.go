// Package metrics provides Prometheus metrics for WattMon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "wattmon"
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks concurrent HTTP requests.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)
)

// Ingest metrics
var (
	// ReadingsIngestedTotal counts stored and skipped readings by transport.
	ReadingsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "readings_total",
			Help:      "Total readings received",
		},
		[]string{"transport", "result"}, // http|mqtt, stored|skipped
	)

	// IngestValidationFailures counts rejected batches.
	IngestValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "validation_failures_total",
			Help:      "Total batches rejected by validation",
		},
		[]string{"transport"},
	)

	// MQTTMessagesTotal counts messages received from the broker.
	MQTTMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "messages_total",
			Help:      "Total MQTT messages received",
		},
	)
)

// Alerting metrics
var (
	// ReadingsEvaluated counts readings run through the rule evaluator.
	ReadingsEvaluated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "readings_evaluated_total",
			Help:      "Total readings evaluated against alert rules",
		},
	)

	// AlertsRaisedTotal counts created alerts by type and severity.
	AlertsRaisedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "alerts_raised_total",
			Help:      "Total alerts created",
		},
		[]string{"type", "severity"},
	)

	// AlertsSuppressedTotal counts candidates dropped by deduplication.
	AlertsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "alerts_suppressed_total",
			Help:      "Total alert candidates suppressed as duplicates",
		},
		[]string{"type"},
	)

	// AlertsResolvedTotal counts automatically resolved alerts.
	AlertsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "alerts_resolved_total",
			Help:      "Total alerts resolved automatically",
		},
		[]string{"type"},
	)

	// EvaluationErrors counts failed rule evaluations.
	EvaluationErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "evaluation_errors_total",
			Help:      "Total alert rule evaluation errors",
		},
	)

	// RulesReloadsTotal counts rules file reloads by result.
	RulesReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "rules_reloads_total",
			Help:      "Total rules file reloads",
		},
		[]string{"result"}, // success, failure
	)
)

// Notification metrics
var (
	// NotificationsTotal counts digest deliveries by result.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "digests_total",
			Help:      "Total alert digests dispatched",
		},
		[]string{"result"}, // sent, partial, failed, rate_limited, no_recipient
	)
)

// Watchdog metrics
var (
	// WatchdogSweepsTotal counts completed sweeps.
	WatchdogSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "sweeps_total",
			Help:      "Total offline watchdog sweeps",
		},
	)

	// WatchdogSweepDuration tracks sweep latency.
	WatchdogSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "sweep_duration_seconds",
			Help:      "Offline watchdog sweep duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// SensorsOnline reports the sensor status from the last sweep.
	SensorsOnline = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "sensors",
			Help:      "Active sensors by status at the last sweep",
		},
		[]string{"status"}, // online, offline
	)
)

// Storage metrics
var (
	// StorageErrors counts storage operation errors.
	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "errors_total",
			Help:      "Total storage operation errors",
		},
		[]string{"operation"},
	)
)

// Auth metrics
var (
	// AuthAttemptsTotal counts authentication attempts.
	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Total authentication attempts",
		},
		[]string{"result"}, // success, failure
	)

	// AuthTokensIssued counts issued tokens.
	AuthTokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "tokens_issued_total",
			Help:      "Total tokens issued",
		},
		[]string{"type"}, // access
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
