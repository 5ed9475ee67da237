package anscheduler

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the context-switch latency histogram buckets in
// nanoseconds, from 1us to 10ms with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
}

const numLatencyBuckets = 5

// Metrics tracks scheduler-core performance and operational statistics.
type Metrics struct {
	// Dispatch counters
	DispatchCount  atomic.Uint64 // threads handed execution by the run loop
	TimerTicks     atomic.Uint64 // quanta that expired before the running thread paused
	KillJobs       atomic.Uint64 // kill jobs run to completion
	PageFaults     atomic.Uint64 // page faults routed through the interrupt router
	LazyAllocs     atomic.Uint64 // UNALLOC faults resolved by lazy page allocation

	// Socket IPC counters
	MessagesSent      atomic.Uint64 // successful socket_msg calls
	BackpressureDrops atomic.Uint64 // socket_msg calls refused for a full queue
	SocketsCreated    atomic.Uint64
	SocketsDestroyed  atomic.Uint64

	// Ready-queue depth sampling
	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	// Context-switch latency
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordDispatch records a thread handed to a CPU, with the latency the
// caller measured; the dispatcher passes the time from resuming the
// thread until it paused.
func (m *Metrics) RecordDispatch(latencyNs uint64) {
	m.DispatchCount.Add(1)
	m.recordLatency(latencyNs)
}

// RecordTimerTick records a quantum that expired while a thread was
// still running; the thread itself is not preempted.
func (m *Metrics) RecordTimerTick() {
	m.TimerTicks.Add(1)
}

// RecordKillJob records a completed kill-job teardown.
func (m *Metrics) RecordKillJob() {
	m.KillJobs.Add(1)
}

// RecordPageFault records a page fault, noting whether it was resolved
// by lazy allocation.
func (m *Metrics) RecordPageFault(lazyAlloc bool) {
	m.PageFaults.Add(1)
	if lazyAlloc {
		m.LazyAllocs.Add(1)
	}
}

// RecordMessage records a socket_msg outcome.
func (m *Metrics) RecordMessage(accepted bool) {
	if accepted {
		m.MessagesSent.Add(1)
	} else {
		m.BackpressureDrops.Add(1)
	}
}

// RecordSocketCreated records a new socket link allocation.
func (m *Metrics) RecordSocketCreated() {
	m.SocketsCreated.Add(1)
}

// RecordSocketDestroyed records a socket reaching zero references.
func (m *Metrics) RecordSocketDestroyed() {
	m.SocketsDestroyed.Add(1)
}

// RecordQueueDepth records a ready-queue depth sample.
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)

	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the kernel as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	DispatchCount  uint64
	TimerTicks     uint64
	KillJobs       uint64
	PageFaults     uint64
	LazyAllocs     uint64

	MessagesSent      uint64
	BackpressureDrops uint64
	SocketsCreated    uint64
	SocketsDestroyed  uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyHistogram [numLatencyBuckets]uint64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		DispatchCount:     m.DispatchCount.Load(),
		TimerTicks:        m.TimerTicks.Load(),
		KillJobs:          m.KillJobs.Load(),
		PageFaults:        m.PageFaults.Load(),
		LazyAllocs:        m.LazyAllocs.Load(),
		MessagesSent:      m.MessagesSent.Load(),
		BackpressureDrops: m.BackpressureDrops.Load(),
		SocketsCreated:    m.SocketsCreated.Load(),
		SocketsDestroyed:  m.SocketsDestroyed.Load(),
		MaxQueueDepth:     m.MaxQueueDepth.Load(),
	}

	queueDepthTotal := m.QueueDepthTotal.Load()
	queueDepthCount := m.QueueDepthCount.Load()
	if queueDepthCount > 0 {
		snap.AvgQueueDepth = float64(queueDepthTotal) / float64(queueDepthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	return snap
}

// Reset resets all metrics counters. Useful for testing.
func (m *Metrics) Reset() {
	m.DispatchCount.Store(0)
	m.TimerTicks.Store(0)
	m.KillJobs.Store(0)
	m.PageFaults.Store(0)
	m.LazyAllocs.Store(0)
	m.MessagesSent.Store(0)
	m.BackpressureDrops.Store(0)
	m.SocketsCreated.Store(0)
	m.SocketsDestroyed.Store(0)
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection for the scheduler core.
type Observer interface {
	ObserveDispatch(latencyNs uint64)
	ObserveTimerTick()
	ObserveKillJob()
	ObservePageFault(lazyAlloc bool)
	ObserveMessage(accepted bool)
	ObserveSocketCreated()
	ObserveSocketDestroyed()
	ObserveQueueDepth(depth uint32)
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveDispatch(uint64)     {}
func (NoOpObserver) ObserveTimerTick()          {}
func (NoOpObserver) ObserveKillJob()            {}
func (NoOpObserver) ObservePageFault(bool)      {}
func (NoOpObserver) ObserveMessage(bool)        {}
func (NoOpObserver) ObserveSocketCreated()      {}
func (NoOpObserver) ObserveSocketDestroyed()    {}
func (NoOpObserver) ObserveQueueDepth(uint32)   {}

// MetricsObserver implements Observer using the built-in Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveDispatch(latencyNs uint64)  { o.metrics.RecordDispatch(latencyNs) }
func (o *MetricsObserver) ObserveTimerTick()                 { o.metrics.RecordTimerTick() }
func (o *MetricsObserver) ObserveKillJob()                   { o.metrics.RecordKillJob() }
func (o *MetricsObserver) ObservePageFault(lazyAlloc bool)   { o.metrics.RecordPageFault(lazyAlloc) }
func (o *MetricsObserver) ObserveMessage(accepted bool)      { o.metrics.RecordMessage(accepted) }
func (o *MetricsObserver) ObserveSocketCreated()             { o.metrics.RecordSocketCreated() }
func (o *MetricsObserver) ObserveSocketDestroyed()           { o.metrics.RecordSocketDestroyed() }
func (o *MetricsObserver) ObserveQueueDepth(depth uint32)    { o.metrics.RecordQueueDepth(depth) }

// Compile-time interface checks.
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
