package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics records escrow, split and settlement activity.
type SettlementMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	value        *prometheus.CounterVec
	roundingDust *prometheus.CounterVec
}

var (
	settlementOnce     sync.Once
	settlementRegistry *SettlementMetrics
)

// Settlement returns the lazily-initialised settlement metrics registry.
func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "accesspay",
				Subsystem: "settlement",
				Name:      "operations_total",
				Help:      "Count of settlement operations segmented by module, operation and outcome.",
			}, []string{"module", "operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "accesspay",
				Subsystem: "settlement",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution of settlement operations including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "operation"}),
			value: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "accesspay",
				Subsystem: "settlement",
				Name:      "value_moved_total",
				Help:      "Smallest-unit value moved by committed operations, by medium and recipient class.",
			}, []string{"module", "medium", "recipient"}),
			roundingDust: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "accesspay",
				Subsystem: "settlement",
				Name:      "rounding_remainder_total",
				Help:      "Rounding remainder absorbed by creators during distributions.",
			}, []string{"medium"}),
		}
		prometheus.MustRegister(
			settlementRegistry.operations,
			settlementRegistry.latency,
			settlementRegistry.value,
			settlementRegistry.roundingDust,
		)
	})
	return settlementRegistry
}

// Outcome labels an operation error with a stable string. Known sentinel
// errors map to their own label so dashboards can split aborts by cause.
func Outcome(err error, known map[string]error) string {
	if err == nil {
		return "success"
	}
	for label, target := range known {
		if errors.Is(err, target) {
			return label
		}
	}
	return "error"
}

// ObserveOperation records one operation attempt.
func (m *SettlementMetrics) ObserveOperation(module, operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "success"
	}
	m.operations.WithLabelValues(module, operation, outcome).Inc()
	m.latency.WithLabelValues(module, operation).Observe(duration.Seconds())
}

// AddValue records value moved to a recipient class (vault, buyer, platform,
// collaborator, creator).
func (m *SettlementMetrics) AddValue(module, medium, recipient string, amount uint64) {
	if m == nil || amount == 0 {
		return
	}
	m.value.WithLabelValues(module, medium, recipient).Add(float64(amount))
}

// AddRoundingDust records the remainder a creator absorbed in a distribution.
func (m *SettlementMetrics) AddRoundingDust(medium string, amount uint64) {
	if m == nil || amount == 0 {
		return
	}
	m.roundingDust.WithLabelValues(medium).Add(float64(amount))
}
