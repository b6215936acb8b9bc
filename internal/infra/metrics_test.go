package infra

import (
	"testing"
	"time"
)

func TestMetrics_RecordLatency(t *testing.T) {
	m := &Metrics{}

	m.RecordLatency(1000 * time.Nanosecond)
	m.RecordLatency(2000 * time.Nanosecond)
	m.RecordLatency(3000 * time.Nanosecond)

	snap := m.Snapshot()

	// Average latency: (1000 + 2000 + 3000) / 3 = 2000
	if snap.AvgLatencyNs != 2000 {
		t.Errorf("Expected avg latency 2000, got %d", snap.AvgLatencyNs)
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := &Metrics{}

	m.RecordOrderSubmitted()
	m.RecordOrderSubmitted()
	m.RecordFill(0)
	m.RecordFill(2)
	m.RecordCancel()
	m.RecordRetry()
	m.RecordIntegrityViolation()
	m.RecordTransient()

	snap := m.Snapshot()
	if snap.OrdersSubmitted != 2 {
		t.Errorf("Expected 2 orders submitted, got %d", snap.OrdersSubmitted)
	}
	if snap.FillsApplied != 2 || snap.TradesCreated != 2 {
		t.Errorf("Expected 2 fills and trades, got %d/%d", snap.FillsApplied, snap.TradesCreated)
	}
	if snap.OrdersFilled != 2 {
		t.Errorf("Expected 2 orders filled, got %d", snap.OrdersFilled)
	}
	if snap.OrdersCancelled != 1 || snap.ConflictsRetried != 1 {
		t.Errorf("Expected 1 cancel and 1 retry, got %d/%d", snap.OrdersCancelled, snap.ConflictsRetried)
	}
	if snap.IntegrityViolations != 1 || snap.TransientFailures != 1 {
		t.Errorf("Expected 1 violation and 1 transient, got %d/%d", snap.IntegrityViolations, snap.TransientFailures)
	}
}

func TestMetrics_InFlight(t *testing.T) {
	m := &Metrics{}

	m.IncrementInFlight()
	m.IncrementInFlight()
	m.IncrementInFlight()

	snap := m.Snapshot()
	if snap.InFlightRequests != 3 {
		t.Errorf("Expected 3 in-flight requests, got %d", snap.InFlightRequests)
	}

	m.DecrementInFlight()
	snap = m.Snapshot()
	if snap.InFlightRequests != 2 {
		t.Errorf("Expected 2 in-flight requests, got %d", snap.InFlightRequests)
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := &Metrics{}

	m.RecordOrderSubmitted()
	m.RecordError()
	m.RecordLatency(time.Millisecond)
	m.IncrementInFlight()

	m.Reset()
	snap := m.Snapshot()

	if snap.OrdersSubmitted != 0 {
		t.Error("Expected 0 orders after reset")
	}
	if snap.ErrorsTotal != 0 {
		t.Error("Expected 0 errors after reset")
	}
	if snap.AvgLatencyNs != 0 {
		t.Error("Expected 0 latency after reset")
	}
	if snap.InFlightRequests != 0 {
		t.Error("Expected 0 in-flight requests after reset")
	}
}
