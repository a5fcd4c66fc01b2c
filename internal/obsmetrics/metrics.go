// Package obsmetrics exposes Prometheus counters and histograms for the
// engine's session/attempt activity, surfaced via the --stats CLI action.
// Grounded on the teacher's pkg/metrics/retry.go
// (promauto.NewCounterVec/NewHistogramVec pattern, namespace/subsystem
// naming).
package obsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks block-engine activity.
//
// Metrics:
//   - twitter_bulk_blocker_attempts_total: attempts by outcome and error kind
//   - twitter_bulk_blocker_retry_backoff_seconds: backoff delays by error kind
//   - twitter_bulk_blocker_session_duration_seconds: wall-clock duration of a session
type Metrics struct {
	AttemptsTotal          *prometheus.CounterVec
	RetryBackoffSeconds    *prometheus.HistogramVec
	SessionDurationSeconds prometheus.Histogram
	RecoveriesTotal        *prometheus.CounterVec
}

// New creates and registers the blocker's metrics against reg. Pass
// prometheus.NewRegistry() for test isolation, or
// prometheus.DefaultRegisterer for a real process.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "twitter_bulk_blocker",
				Name:      "attempts_total",
				Help:      "Total number of block attempts by outcome and error kind",
			},
			[]string{"outcome", "error_kind"},
		),
		RetryBackoffSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "twitter_bulk_blocker",
				Name:      "retry_backoff_seconds",
				Help:      "Computed backoff delay before a retry, by error kind",
				Buckets:   []float64{5, 10, 30, 60, 120, 300, 600, 1200, 1800},
			},
			[]string{"error_kind"},
		),
		SessionDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "twitter_bulk_blocker",
				Name:      "session_duration_seconds",
				Help:      "Wall-clock duration of a completed processing session",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
		RecoveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "twitter_bulk_blocker",
				Name:      "recoveries_total",
				Help:      "Total number of recovery-coordinator interventions by kind",
			},
			[]string{"kind"},
		),
	}
}

// RecordAttempt records one terminal attempt outcome.
func (m *Metrics) RecordAttempt(outcome, errorKind string) {
	m.AttemptsTotal.WithLabelValues(outcome, errorKind).Inc()
}

// RecordBackoff records a computed retry delay.
func (m *Metrics) RecordBackoff(errorKind string, seconds float64) {
	m.RetryBackoffSeconds.WithLabelValues(errorKind).Observe(seconds)
}

// RecordRecovery records one recovery-coordinator intervention ("auth",
// "burst", or "threshold").
func (m *Metrics) RecordRecovery(kind string) {
	m.RecoveriesTotal.WithLabelValues(kind).Inc()
}
