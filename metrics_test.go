package anscheduler

import (
	"testing"
)

func TestMetricsDispatchAndLatency(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.DispatchCount != 0 {
		t.Errorf("Expected 0 initial dispatches, got %d", snap.DispatchCount)
	}

	m.RecordDispatch(500)
	m.RecordDispatch(5_000)
	m.RecordDispatch(50_000)

	snap = m.Snapshot()
	if snap.DispatchCount != 3 {
		t.Errorf("Expected 3 dispatches, got %d", snap.DispatchCount)
	}
	if snap.AvgLatencyNs == 0 {
		t.Error("Expected nonzero average latency")
	}
}

func TestMetricsQueueDepth(t *testing.T) {
	m := NewMetrics()

	m.RecordQueueDepth(10)
	m.RecordQueueDepth(20)
	m.RecordQueueDepth(5)

	snap := m.Snapshot()
	if snap.MaxQueueDepth != 20 {
		t.Errorf("Expected MaxQueueDepth=20, got %d", snap.MaxQueueDepth)
	}
	wantAvg := float64(10+20+5) / 3
	if snap.AvgQueueDepth != wantAvg {
		t.Errorf("Expected AvgQueueDepth=%.2f, got %.2f", wantAvg, snap.AvgQueueDepth)
	}
}

func TestMetricsBackpressureAndMessages(t *testing.T) {
	m := NewMetrics()

	m.RecordMessage(true)
	m.RecordMessage(true)
	m.RecordMessage(false)

	snap := m.Snapshot()
	if snap.MessagesSent != 2 {
		t.Errorf("Expected MessagesSent=2, got %d", snap.MessagesSent)
	}
	if snap.BackpressureDrops != 1 {
		t.Errorf("Expected BackpressureDrops=1, got %d", snap.BackpressureDrops)
	}
}

func TestMetricsSocketLifecycle(t *testing.T) {
	m := NewMetrics()

	m.RecordSocketCreated()
	m.RecordSocketCreated()
	m.RecordSocketDestroyed()

	snap := m.Snapshot()
	if snap.SocketsCreated != 2 {
		t.Errorf("Expected SocketsCreated=2, got %d", snap.SocketsCreated)
	}
	if snap.SocketsDestroyed != 1 {
		t.Errorf("Expected SocketsDestroyed=1, got %d", snap.SocketsDestroyed)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordDispatch(1000)
	m.RecordKillJob()
	m.Reset()

	snap := m.Snapshot()
	if snap.DispatchCount != 0 || snap.KillJobs != 0 {
		t.Error("Expected all counters zero after Reset")
	}
}

func TestNoOpObserver(t *testing.T) {
	var o Observer = NoOpObserver{}
	o.ObserveDispatch(1)
	o.ObserveTimerTick()
	o.ObserveKillJob()
	o.ObservePageFault(true)
	o.ObserveMessage(false)
	o.ObserveSocketCreated()
	o.ObserveSocketDestroyed()
	o.ObserveQueueDepth(3)
}

func TestMetricsObserver(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObserveDispatch(1000)
	o.ObserveKillJob()
	o.ObserveMessage(true)
	o.ObserveSocketCreated()

	snap := m.Snapshot()
	if snap.DispatchCount != 1 {
		t.Errorf("Expected DispatchCount=1, got %d", snap.DispatchCount)
	}
	if snap.KillJobs != 1 {
		t.Errorf("Expected KillJobs=1, got %d", snap.KillJobs)
	}
	if snap.MessagesSent != 1 {
		t.Errorf("Expected MessagesSent=1, got %d", snap.MessagesSent)
	}
	if snap.SocketsCreated != 1 {
		t.Errorf("Expected SocketsCreated=1, got %d", snap.SocketsCreated)
	}
}
