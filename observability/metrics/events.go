package metrics

import (
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"accesspay/core/events"
)

// EventMetrics counts committed ledger events as they leave the state manager.
type EventMetrics struct {
	committed *prometheus.CounterVec
	transfers *prometheus.CounterVec
	volume    *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *EventMetrics
)

// Events returns the metrics registry tracking committed events.
func Events() *EventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &EventMetrics{
			committed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "accesspay",
				Subsystem: "events",
				Name:      "committed_total",
				Help:      "Count of committed ledger events segmented by type.",
			}, []string{"type"}),
			transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "accesspay",
				Subsystem: "events",
				Name:      "transfers_total",
				Help:      "Count of committed value transfers segmented by payment medium.",
			}, []string{"medium"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "accesspay",
				Subsystem: "events",
				Name:      "transfer_volume_total",
				Help:      "Smallest-unit value carried by committed transfers.",
			}, []string{"medium"}),
		}
		prometheus.MustRegister(eventRegistry.committed, eventRegistry.transfers, eventRegistry.volume)
	})
	return eventRegistry
}

// Emit implements events.Emitter.
func (m *EventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	kind := strings.TrimSpace(evt.EventType())
	if kind == "" {
		kind = "unknown"
	}
	m.committed.WithLabelValues(kind).Inc()
	if kind != events.TypeTransfer {
		return
	}
	payload, ok := events.Payload(evt)
	if !ok {
		return
	}
	amount, _ := strconv.ParseUint(payload.Attributes["amount"], 10, 64)
	m.RecordTransfer(payload.Attributes["medium"], amount)
}

// RecordTransfer increments the transfer counters for the supplied medium.
func (m *EventMetrics) RecordTransfer(medium string, amount uint64) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(medium))
	if normalized == "" {
		normalized = "unknown"
	}
	m.transfers.WithLabelValues(normalized).Inc()
	if amount > 0 {
		m.volume.WithLabelValues(normalized).Add(float64(amount))
	}
}
