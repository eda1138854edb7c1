package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for recipient resolution.
//
// All methods are safe on a nil *Metrics, so callers that do not want
// metrics simply pass nil.
type Metrics struct {
	// Resolutions by decision rule and outcome kind
	Resolutions *prometheus.CounterVec

	// Constraint conflicts that triggered a re-resolve
	Retries prometheus.Counter

	// Conflicts that persisted after the retry, or violated preconditions
	Inconsistencies prometheus.Counter

	// Recipient and thread remaps recorded by merges, by kind
	Remaps *prometheus.CounterVec

	// Dependent rows re-pointed during merges, by store
	RemappedRows *prometheus.CounterVec

	// Full resolve-and-merge latency including retries
	ResolveLatency prometheus.Histogram
}

// New registers the resolution metrics with reg. A nil reg registers with
// the default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idmerge_resolutions_total",
			Help: "Resolved identifier pairs by decision rule and outcome kind",
		}, []string{"rule", "outcome"}),

		Retries: factory.NewCounter(prometheus.CounterOpts{
			Name: "idmerge_conflict_retries_total",
			Help: "Constraint conflicts recovered by re-resolving in a fresh transaction",
		}),

		Inconsistencies: factory.NewCounter(prometheus.CounterOpts{
			Name: "idmerge_inconsistent_state_total",
			Help: "Resolutions that failed with an inconsistent state",
		}),

		Remaps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idmerge_remaps_total",
			Help: "Remap entries recorded by merges",
		}, []string{"kind"}), // kind: "recipient", "thread"

		RemappedRows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idmerge_remapped_rows_total",
			Help: "Dependent rows re-pointed from a retired recipient",
		}, []string{"store"}),

		ResolveLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "idmerge_resolve_duration_seconds",
			Help:    "Duration of resolve-and-merge calls including retries",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}),
	}
}

// IncrementResolution records one successful resolution.
func (m *Metrics) IncrementResolution(rule, outcome string) {
	if m != nil {
		m.Resolutions.WithLabelValues(rule, outcome).Inc()
	}
}

// IncrementRetry records a conflict that was retried.
func (m *Metrics) IncrementRetry() {
	if m != nil {
		m.Retries.Inc()
	}
}

// IncrementInconsistent records an inconsistent-state failure.
func (m *Metrics) IncrementInconsistent() {
	if m != nil {
		m.Inconsistencies.Inc()
	}
}

// IncrementRemap records a recipient or thread remap.
func (m *Metrics) IncrementRemap(kind string) {
	if m != nil {
		m.Remaps.WithLabelValues(kind).Inc()
	}
}

// AddRemappedRows records rows one dependent store re-pointed.
func (m *Metrics) AddRemappedRows(store string, n int64) {
	if m != nil && n > 0 {
		m.RemappedRows.WithLabelValues(store).Add(float64(n))
	}
}

// ObserveResolveLatency records the duration of one resolve-and-merge call.
func (m *Metrics) ObserveResolveLatency(d time.Duration) {
	if m != nil {
		m.ResolveLatency.Observe(d.Seconds())
	}
}
