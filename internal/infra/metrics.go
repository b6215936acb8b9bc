package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight in-process counters for the order service.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	ordersSubmitted     atomic.Uint64
	fillsApplied        atomic.Uint64
	ordersFilled        atomic.Uint64
	tradesCreated       atomic.Uint64
	ordersCancelled     atomic.Uint64
	conflictsRetried    atomic.Uint64
	integrityViolations atomic.Uint64
	transientFailures   atomic.Uint64
	errorsTotal         atomic.Uint64

	// Latency tracking (successful mutations)
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	inFlightRequests atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordLatency records the duration of one successful mutation.
func (m *Metrics) RecordLatency(d time.Duration) {
	m.latencySumNs.Add(d.Nanoseconds())
	m.latencyCount.Add(1)
}

// RecordOrderSubmitted records an accepted order.
func (m *Metrics) RecordOrderSubmitted() {
	m.ordersSubmitted.Add(1)
}

// RecordFill records an applied fill event. filled is the number of legs
// that reached FILLED with it.
func (m *Metrics) RecordFill(filled int) {
	m.fillsApplied.Add(1)
	m.tradesCreated.Add(1)
	if filled > 0 {
		m.ordersFilled.Add(uint64(filled))
	}
}

// RecordCancel records a cancelled order.
func (m *Metrics) RecordCancel() {
	m.ordersCancelled.Add(1)
}

// RecordRetry records one retried storage attempt.
func (m *Metrics) RecordRetry() {
	m.conflictsRetried.Add(1)
}

// RecordIntegrityViolation records a fill rejected for disagreeing with stored state.
func (m *Metrics) RecordIntegrityViolation() {
	m.integrityViolations.Add(1)
}

// RecordTransient records an operation that exhausted its retries.
func (m *Metrics) RecordTransient() {
	m.transientFailures.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// IncrementInFlight increments in-flight requests by 1.
func (m *Metrics) IncrementInFlight() {
	m.inFlightRequests.Add(1)
}

// DecrementInFlight decrements in-flight requests by 1.
func (m *Metrics) DecrementInFlight() {
	m.inFlightRequests.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	OrdersSubmitted     uint64    `json:"orders_submitted"`
	FillsApplied        uint64    `json:"fills_applied"`
	OrdersFilled        uint64    `json:"orders_filled"`
	TradesCreated       uint64    `json:"trades_created"`
	OrdersCancelled     uint64    `json:"orders_cancelled"`
	ConflictsRetried    uint64    `json:"conflicts_retried"`
	IntegrityViolations uint64    `json:"integrity_violations"`
	TransientFailures   uint64    `json:"transient_failures"`
	ErrorsTotal         uint64    `json:"errors_total"`
	AvgLatencyNs        int64     `json:"avg_latency_ns"`
	InFlightRequests    int32     `json:"in_flight_requests"`
	Timestamp           time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		OrdersSubmitted:     m.ordersSubmitted.Load(),
		FillsApplied:        m.fillsApplied.Load(),
		OrdersFilled:        m.ordersFilled.Load(),
		TradesCreated:       m.tradesCreated.Load(),
		OrdersCancelled:     m.ordersCancelled.Load(),
		ConflictsRetried:    m.conflictsRetried.Load(),
		IntegrityViolations: m.integrityViolations.Load(),
		TransientFailures:   m.transientFailures.Load(),
		ErrorsTotal:         m.errorsTotal.Load(),
		AvgLatencyNs:        avgLatency,
		InFlightRequests:    m.inFlightRequests.Load(),
		Timestamp:           time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.ordersSubmitted.Store(0)
	m.fillsApplied.Store(0)
	m.ordersFilled.Store(0)
	m.tradesCreated.Store(0)
	m.ordersCancelled.Store(0)
	m.conflictsRetried.Store(0)
	m.integrityViolations.Store(0)
	m.transientFailures.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.inFlightRequests.Store(0)
}
