package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type executorMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	nonces     *prometheus.CounterVec
}

var (
	executorMetricsOnce sync.Once
	executorRegistry    *executorMetrics
)

// Executor returns the lazily-initialised metrics registry recording ledger
// operations.
func Executor() *executorMetrics {
	executorMetricsOnce.Do(func() {
		executorRegistry = &executorMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bondledger",
				Subsystem: "executor",
				Name:      "operations_total",
				Help:      "Total ledger operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "bondledger",
				Subsystem: "executor",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for ledger operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			nonces: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bondledger",
				Subsystem: "executor",
				Name:      "rejected_envelopes_total",
				Help:      "Envelopes rejected before execution segmented by reason.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			executorRegistry.operations,
			executorRegistry.latency,
			executorRegistry.nonces,
		)
	})
	return executorRegistry
}

func normalizeLabel(v string) string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

// ObserveOperation records the outcome and latency of a ledger operation.
func (m *executorMetrics) ObserveOperation(op string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	op = normalizeLabel(op)
	outcome := "committed"
	if err != nil {
		outcome = "rejected"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// ObserveRejectedEnvelope records an envelope rejected before execution, e.g.
// for a bad signature or nonce.
func (m *executorMetrics) ObserveRejectedEnvelope(reason string) {
	if m == nil {
		return
	}
	m.nonces.WithLabelValues(normalizeLabel(reason)).Inc()
}
