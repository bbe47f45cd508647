package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"bondledger/core/events"
)

func TestExecutorMetricsSplitOutcomes(t *testing.T) {
	m := Executor()
	committed := m.operations.WithLabelValues("borrow", "committed")
	rejected := m.operations.WithLabelValues("borrow", "rejected")
	beforeOK, beforeErr := testutil.ToFloat64(committed), testutil.ToFloat64(rejected)

	m.ObserveOperation("borrow", nil, time.Millisecond)
	m.ObserveOperation(" borrow ", errors.New("boom"), time.Millisecond)
	m.ObserveRejectedEnvelope("")

	require.Equal(t, beforeOK+1, testutil.ToFloat64(committed))
	require.Equal(t, beforeErr+1, testutil.ToFloat64(rejected))
	require.GreaterOrEqual(t, testutil.ToFloat64(m.nonces.WithLabelValues("unknown")), float64(1))
}

func TestEventMetricsCountByType(t *testing.T) {
	m := Events()
	counter := m.emitted.WithLabelValues(events.TypeDeleteFeed)
	before := testutil.ToFloat64(counter)
	m.Emit(events.DeleteFeed{Symbol: "weth"})
	m.Emit(nil)
	require.Equal(t, before+1, testutil.ToFloat64(counter))

	var nilMetrics *eventMetrics
	nilMetrics.Emit(events.DeleteFeed{Symbol: "weth"})
}
