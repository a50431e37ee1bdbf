package metrics

import (
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics tracks escrow ledger activity for the node and its RPC surface.
type EscrowMetrics struct {
	operations    *prometheus.CounterVec
	failures      *prometheus.CounterVec
	value         *prometheus.CounterVec
	height        prometheus.Gauge
	rpcLatency    *prometheus.HistogramVec
	subscribers   prometheus.Gauge
	eventsDropped prometheus.Counter
	archived      *prometheus.CounterVec
}

var (
	escrowOnce     sync.Once
	escrowRegistry *EscrowMetrics
)

// Escrow returns the lazily registered escrow metrics.
func Escrow() *EscrowMetrics {
	escrowOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Name:      "operations_total",
				Help:      "Count of escrow state transitions by operation and outcome.",
			}, []string{"op", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Name:      "errors_total",
				Help:      "Count of rejected escrow transitions by operation and error kind.",
			}, []string{"op", "kind"}),
			value: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Name:      "value_total",
				Help:      "Cumulative value moved through escrow by flow (locked, released, refunded).",
			}, []string{"flow"}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "escrow",
				Name:      "height",
				Help:      "Current logical clock height.",
			}),
			rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "escrow",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency of JSON-RPC requests by method and outcome.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method", "outcome"}),
			subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "escrow",
				Subsystem: "events",
				Name:      "subscribers",
				Help:      "Number of live event stream subscribers.",
			}),
			eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Events dropped because a subscriber fell behind.",
			}),
			archived: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "archive",
				Name:      "records_total",
				Help:      "Events appended to the audit archive by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			escrowRegistry.operations,
			escrowRegistry.failures,
			escrowRegistry.value,
			escrowRegistry.height,
			escrowRegistry.rpcLatency,
			escrowRegistry.subscribers,
			escrowRegistry.eventsDropped,
			escrowRegistry.archived,
		)
	})
	return escrowRegistry
}

// ObserveOperation records the outcome of a state transition. kind is the
// error kind name and is ignored on success.
func (m *EscrowMetrics) ObserveOperation(op string, err error, kind string) {
	if m == nil {
		return
	}
	op = normalise(op)
	if err == nil {
		m.operations.WithLabelValues(op, "ok").Inc()
		return
	}
	m.operations.WithLabelValues(op, "error").Inc()
	m.failures.WithLabelValues(op, normalise(kind)).Inc()
}

// AddValue accumulates amount under flow. Values beyond float64 precision are
// approximated.
func (m *EscrowMetrics) AddValue(flow string, amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	m.value.WithLabelValues(normalise(flow)).Add(f)
}

func (m *EscrowMetrics) SetHeight(height uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
}

func (m *EscrowMetrics) ObserveRPC(method string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.rpcLatency.WithLabelValues(normalise(method), outcome).Observe(elapsed.Seconds())
}

func (m *EscrowMetrics) SubscriberJoined() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *EscrowMetrics) SubscriberLeft() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}

func (m *EscrowMetrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

func (m *EscrowMetrics) ObserveArchive(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.archived.WithLabelValues("error").Inc()
		return
	}
	m.archived.WithLabelValues("ok").Inc()
}

// Operations exposes the operation counter for assertions in tests.
func (m *EscrowMetrics) Operations() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.operations
}

// Failures exposes the error counter for assertions in tests.
func (m *EscrowMetrics) Failures() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.failures
}

func normalise(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "unknown"
	}
	return label
}
