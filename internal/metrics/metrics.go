// Package metrics records rotation and consistency outcomes as Prometheus
// metrics. rekey is a CLI, so metrics are written in the node_exporter
// textfile-collector format instead of being served.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Invariant gauge values.
const (
	InvariantMatch    = 1.0
	InvariantMismatch = 0.0
	InvariantUnknown  = -1.0
)

// Metrics holds a private registry. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	rotationStarted   *prometheus.CounterVec
	rotationCompleted *prometheus.CounterVec
	rotationDuration  *prometheus.HistogramVec
	secretEpoch       *prometheus.GaugeVec
	lastRotation      *prometheus.GaugeVec
	invariantStatus   *prometheus.GaugeVec
	checkRuns         prometheus.Counter
	checkTimestamp    prometheus.Gauge
	notifications     *prometheus.CounterVec
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		rotationStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rekey_rotation_started_total",
				Help: "Total number of rotations that reached execution",
			},
			[]string{"class"},
		),
		rotationCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rekey_rotation_completed_total",
				Help: "Total number of rotations finished, by outcome",
			},
			[]string{"class", "status"},
		),
		rotationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rekey_rotation_duration_seconds",
				Help:    "Duration of rotation execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120},
			},
			[]string{"class"},
		),
		secretEpoch: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rekey_secret_epoch",
				Help: "Current epoch of each secret class",
			},
			[]string{"class"},
		),
		lastRotation: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rekey_last_rotation_timestamp_seconds",
				Help: "Unix time of the last successful rotation",
			},
			[]string{"class"},
		),
		invariantStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rekey_invariant_status",
				Help: "Consistency invariant outcome (1=match, 0=mismatch, -1=unknown)",
			},
			[]string{"invariant"},
		),
		checkRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "rekey_check_runs_total",
			Help: "Total number of consistency checks run",
		}),
		checkTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rekey_last_check_timestamp_seconds",
			Help: "Unix time of the last consistency check",
		}),
		notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rekey_notifications_total",
				Help: "Notifications sent, by notifier and result",
			},
			[]string{"notifier", "result"},
		),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRotationStarted records that a rotation began executing.
func (m *Metrics) RecordRotationStarted(class string) {
	if m == nil {
		return
	}
	m.rotationStarted.WithLabelValues(class).Inc()
}

// RecordRotationCompleted records the outcome of an executed rotation.
func (m *Metrics) RecordRotationCompleted(class, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.rotationCompleted.WithLabelValues(class, status).Inc()
	m.rotationDuration.WithLabelValues(class).Observe(duration.Seconds())
}

// RecordEpoch publishes the current epoch of a class.
func (m *Metrics) RecordEpoch(class string, epoch int, at time.Time) {
	if m == nil {
		return
	}
	m.secretEpoch.WithLabelValues(class).Set(float64(epoch))
	if !at.IsZero() {
		m.lastRotation.WithLabelValues(class).Set(float64(at.Unix()))
	}
}

// RecordInvariant publishes one consistency finding.
func (m *Metrics) RecordInvariant(name string, value float64) {
	if m == nil {
		return
	}
	m.invariantStatus.WithLabelValues(name).Set(value)
}

// RecordCheckRun counts a consistency check.
func (m *Metrics) RecordCheckRun(at time.Time) {
	if m == nil {
		return
	}
	m.checkRuns.Inc()
	m.checkTimestamp.Set(float64(at.Unix()))
}

// RecordNotification counts one delivery attempt; result is "sent" or
// "failed".
func (m *Metrics) RecordNotification(notifier, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(notifier, result).Inc()
}

// WriteTextfile writes every metric to path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
