package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"accesspay/core/events"
	"accesspay/core/types"
)

func TestOutcome(t *testing.T) {
	errFoo := errors.New("foo")
	known := map[string]error{"foo": errFoo}
	require.Equal(t, "success", Outcome(nil, known))
	require.Equal(t, "foo", Outcome(fmt.Errorf("wrapped: %w", errFoo), known))
	require.Equal(t, "error", Outcome(errors.New("other"), known))
}

func TestSettlementMetricsRecord(t *testing.T) {
	m := Settlement()
	require.Same(t, m, Settlement())

	m.ObserveOperation("escrow", "buy_and_mint", "success", 3*time.Millisecond)
	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("escrow", "buy_and_mint", "success")))

	m.AddValue("split", "native", "creator", 7500)
	m.AddValue("split", "native", "creator", 0)
	require.Equal(t, 7500.0, testutil.ToFloat64(m.value.WithLabelValues("split", "native", "creator")))

	m.AddRoundingDust("native", 2)
	require.Equal(t, 2.0, testutil.ToFloat64(m.roundingDust.WithLabelValues("native")))
}

func TestNilSettlementMetricsAreSafe(t *testing.T) {
	var m *SettlementMetrics
	m.ObserveOperation("escrow", "cancel_escrow", "error", time.Second)
	m.AddValue("escrow", "native", "buyer", 1)
	m.AddRoundingDust("native", 1)
}

func TestEventMetricsCountTransfers(t *testing.T) {
	m := Events()
	require.Same(t, m, Events())

	before := testutil.ToFloat64(m.volume.WithLabelValues("token"))
	m.Emit(events.Transfer{Medium: "token", Amount: 40})
	m.Emit(events.Typed{Evt: &types.Event{Type: "escrow.completed"}})

	require.Equal(t, before+40, testutil.ToFloat64(m.volume.WithLabelValues("token")))
	require.GreaterOrEqual(t, testutil.ToFloat64(m.committed.WithLabelValues("escrow.completed")), 1.0)
	require.GreaterOrEqual(t, testutil.ToFloat64(m.transfers.WithLabelValues("token")), 1.0)

	var nilMetrics *EventMetrics
	nilMetrics.Emit(events.Transfer{Medium: "native", Amount: 1})
}

func TestHTTPMetricsObserve(t *testing.T) {
	m := HTTP()
	m.Observe("/escrows/{id}", "GET", 404, time.Millisecond)
	require.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("/escrows/{id}", "GET", "404")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/escrows/{id}", "GET", "error")))

	m.RecordThrottle("", "")
	require.Equal(t, 1.0, testutil.ToFloat64(m.throttles.WithLabelValues("unknown", "unspecified")))
}
