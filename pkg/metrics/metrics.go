package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the fraud filter
type Metrics struct {
	// Validation outcomes
	Validations        *prometheus.CounterVec
	ValidationDuration *prometheus.HistogramVec
	RiskScore          prometheus.Histogram

	// Degradation
	DegradedModel    prometheus.Counter
	KVFetchFailed    *prometheus.CounterVec
	PersistFailed    prometheus.Counter
	WebhookFailed    prometheus.Counter
	ChecksumRejected *prometheus.CounterVec

	// MX resolution
	MXLookups  *prometheus.CounterVec
	MXTimeouts prometheus.Counter

	// Artifact cache
	CacheRefresh *prometheus.CounterVec
}

// New creates and registers all metrics on a registry. Pass
// prometheus.DefaultRegisterer in production wiring.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Validations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraudfilter_validations_total",
				Help: "Validation requests by decision and block reason",
			},
			[]string{"decision", "reason"},
		),

		ValidationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fraudfilter_validation_duration_seconds",
				Help:    "End to end evaluation latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"decision"},
		),

		RiskScore: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fraudfilter_risk_score",
				Help:    "Distribution of final risk scores",
				Buckets: []float64{0.05, 0.1, 0.15, 0.2, 0.25, 0.3, 0.35, 0.4, 0.5, 0.65, 0.8, 1.0},
			},
		),

		DegradedModel: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fraudfilter_degraded_model_total",
				Help: "Evaluations served under the degraded model floor",
			},
		),

		KVFetchFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraudfilter_kv_fetch_failed_total",
				Help: "Artifact fetch failures by kind; stale snapshots stay in service",
			},
			[]string{"kind"},
		),

		PersistFailed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fraudfilter_persistence_failed_total",
				Help: "Validation rows that could not be written",
			},
		),

		WebhookFailed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fraudfilter_webhook_failed_total",
				Help: "Alert webhook deliveries that failed after retries",
			},
		),

		ChecksumRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraudfilter_artifact_checksum_rejected_total",
				Help: "Artifact snapshots rejected on SHA-256 mismatch",
			},
			[]string{"kind"},
		),

		MXLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraudfilter_mx_lookups_total",
				Help: "MX resolutions by outcome",
			},
			[]string{"outcome"}, // hit, miss, error, timeout
		),

		MXTimeouts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fraudfilter_mx_timeouts_total",
				Help: "MX lookups that exceeded the per-request budget",
			},
		),

		CacheRefresh: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraudfilter_artifact_refresh_total",
				Help: "Artifact cache refreshes by kind and result",
			},
			[]string{"kind", "result"}, // result: ok, error
		),
	}
}
