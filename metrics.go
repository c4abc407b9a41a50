package iosched

import (
	"sync/atomic"
	"time"
)

// WaitBuckets defines the queue wait histogram buckets in nanoseconds.
// Wait is the time from admission to dispatch.
var WaitBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numWaitBuckets = 8

// Metrics tracks scheduling and I/O statistics for a device
type Metrics struct {
	// Admission
	Adds           atomic.Uint64 // Requests admitted
	AddRejects     atomic.Uint64 // Requests refused because the queue was full
	Merges         atomic.Uint64 // Requests absorbed by a neighbour
	DroppedOnClose atomic.Uint64 // Requests still queued at teardown

	// Dispatch decisions
	ReadDispatches  atomic.Uint64 // Requests dispatched from the read class
	WriteDispatches atomic.Uint64 // Requests dispatched from the write class
	IdleDispatches  atomic.Uint64 // Dispatch calls that returned no request

	// Configuration events
	ElevatorSwitches atomic.Uint64 // Successful elevator switches
	SwitchFailures   atomic.Uint64 // Elevator switches that kept the old elevator
	TunableRejects   atomic.Uint64 // Attribute writes rejected as invalid

	// Executed I/O
	ReadOps     atomic.Uint64
	WriteOps    atomic.Uint64 // Writes, discards and write-zeroes
	FlushOps    atomic.Uint64
	ReadBytes   atomic.Uint64
	WriteBytes  atomic.Uint64
	IOErrors    atomic.Uint64
	IOLatencyNs atomic.Uint64 // Cumulative execution latency

	// Queue depth sampled at each admission
	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	// Wait histogram (cumulative counts).
	// Each bucket[i] counts dispatches with wait <= WaitBuckets[i]
	WaitBuckets [numWaitBuckets]atomic.Uint64
	TotalWaitNs atomic.Uint64
	WaitCount   atomic.Uint64

	// Lifecycle
	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64 // UnixNano
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordAdd records an admission and the queue depth after it
func (m *Metrics) RecordAdd(depth uint32) {
	m.Adds.Add(1)
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)

	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current || m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

// RecordDispatch records a dispatched request and how long it waited
func (m *Metrics) RecordDispatch(dir Direction, waitNs uint64) {
	if dir == DirectionRead {
		m.ReadDispatches.Add(1)
	} else {
		m.WriteDispatches.Add(1)
	}

	m.TotalWaitNs.Add(waitNs)
	m.WaitCount.Add(1)
	for i, bucket := range WaitBuckets {
		if waitNs <= bucket {
			m.WaitBuckets[i].Add(1)
		}
	}
}

// RecordIO records an executed request
func (m *Metrics) RecordIO(op Op, bytes uint64, latencyNs uint64, success bool) {
	switch op {
	case OpRead:
		m.ReadOps.Add(1)
		if success {
			m.ReadBytes.Add(bytes)
		}
	case OpFlush:
		m.FlushOps.Add(1)
	default:
		m.WriteOps.Add(1)
		if success {
			m.WriteBytes.Add(bytes)
		}
	}
	if !success {
		m.IOErrors.Add(1)
	}
	m.IOLatencyNs.Add(latencyNs)
}

// RecordError counts a rejected operation by category. ErrQueueClosed
// counts requests failed at teardown.
func (m *Metrics) RecordError(code ErrorCode) {
	switch code {
	case ErrQueueFull:
		m.AddRejects.Add(1)
	case ErrQueueClosed:
		m.DroppedOnClose.Add(1)
	case ErrInvalidInput:
		m.TunableRejects.Add(1)
	case ErrOutOfMemory, ErrUnknownElevator:
		m.SwitchFailures.Add(1)
	}
}

// Reset zeroes all counters and restarts the uptime clock
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Uint64{
		&m.Adds, &m.AddRejects, &m.Merges, &m.DroppedOnClose,
		&m.ReadDispatches, &m.WriteDispatches, &m.IdleDispatches,
		&m.ElevatorSwitches, &m.SwitchFailures, &m.TunableRejects,
		&m.ReadOps, &m.WriteOps, &m.FlushOps, &m.ReadBytes, &m.WriteBytes,
		&m.IOErrors, &m.IOLatencyNs,
		&m.QueueDepthTotal, &m.QueueDepthCount,
		&m.TotalWaitNs, &m.WaitCount,
	} {
		c.Store(0)
	}
	for i := range m.WaitBuckets {
		m.WaitBuckets[i].Store(0)
	}
	m.MaxQueueDepth.Store(0)
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Stop marks the device as stopped
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics with derived values
type MetricsSnapshot struct {
	Adds           uint64
	AddRejects     uint64
	Merges         uint64
	DroppedOnClose uint64

	ReadDispatches  uint64
	WriteDispatches uint64
	IdleDispatches  uint64

	ElevatorSwitches uint64
	SwitchFailures   uint64
	TunableRejects   uint64

	ReadOps    uint64
	WriteOps   uint64
	FlushOps   uint64
	ReadBytes  uint64
	WriteBytes uint64
	IOErrors   uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	// Queue wait
	AvgWaitNs     uint64
	WaitP50Ns     uint64
	WaitP99Ns     uint64
	WaitHistogram [numWaitBuckets]uint64

	AvgIOLatencyNs uint64
	UptimeNs       uint64

	// ReadShare is the fraction of dispatches that were reads
	ReadShare float64
	TotalOps  uint64
	IOPS      float64
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Adds:             m.Adds.Load(),
		AddRejects:       m.AddRejects.Load(),
		Merges:           m.Merges.Load(),
		DroppedOnClose:   m.DroppedOnClose.Load(),
		ReadDispatches:   m.ReadDispatches.Load(),
		WriteDispatches:  m.WriteDispatches.Load(),
		IdleDispatches:   m.IdleDispatches.Load(),
		ElevatorSwitches: m.ElevatorSwitches.Load(),
		SwitchFailures:   m.SwitchFailures.Load(),
		TunableRejects:   m.TunableRejects.Load(),
		ReadOps:          m.ReadOps.Load(),
		WriteOps:         m.WriteOps.Load(),
		FlushOps:         m.FlushOps.Load(),
		ReadBytes:        m.ReadBytes.Load(),
		WriteBytes:       m.WriteBytes.Load(),
		IOErrors:         m.IOErrors.Load(),
		MaxQueueDepth:    m.MaxQueueDepth.Load(),
	}

	if count := m.QueueDepthCount.Load(); count > 0 {
		snap.AvgQueueDepth = float64(m.QueueDepthTotal.Load()) / float64(count)
	}

	waitCount := m.WaitCount.Load()
	if waitCount > 0 {
		snap.AvgWaitNs = m.TotalWaitNs.Load() / waitCount
		snap.WaitP50Ns = m.waitPercentile(0.50)
		snap.WaitP99Ns = m.waitPercentile(0.99)
	}
	for i := 0; i < numWaitBuckets; i++ {
		snap.WaitHistogram[i] = m.WaitBuckets[i].Load()
	}

	if dispatched := snap.ReadDispatches + snap.WriteDispatches; dispatched > 0 {
		snap.ReadShare = float64(snap.ReadDispatches) / float64(dispatched)
	}

	snap.TotalOps = snap.ReadOps + snap.WriteOps + snap.FlushOps
	if snap.TotalOps > 0 {
		snap.AvgIOLatencyNs = m.IOLatencyNs.Load() / snap.TotalOps
	}

	startTime := m.StartTime.Load()
	if stopTime := m.StopTime.Load(); stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}
	if snap.UptimeNs > 0 {
		snap.IOPS = float64(snap.TotalOps) / (float64(snap.UptimeNs) / 1e9)
	}

	return snap
}

// waitPercentile estimates the wait at the given percentile (0.0-1.0)
// by linear interpolation between histogram buckets
func (m *Metrics) waitPercentile(percentile float64) uint64 {
	total := m.WaitCount.Load()
	if total == 0 {
		return 0
	}
	target := uint64(float64(total) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range WaitBuckets {
		count := m.WaitBuckets[i].Load()
		if count >= target {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.WaitBuckets[i-1].Load()
			}
			if count == prevCount {
				return bucket
			}
			fraction := float64(target-prevCount) / float64(count-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return WaitBuckets[numWaitBuckets-1]
}

// Observer receives scheduling and I/O events from a device
type Observer interface {
	// ObserveAdd is called after each admission with the new queue depth
	ObserveAdd(depth uint32)

	// ObserveDispatch is called for each dispatched request
	ObserveDispatch(dir Direction, waitNs uint64)

	// ObserveIdle is called when a dispatch returned no request
	ObserveIdle()

	// ObserveMerge is called when a queued request is merged away
	ObserveMerge()

	// ObserveIO is called when the runner finishes a request
	ObserveIO(op Op, bytes uint64, latencyNs uint64, success bool)

	// ObserveSwitch is called after the active elevator changes
	ObserveSwitch(from, to string)

	// ObserveError is called when an operation is rejected
	ObserveError(code ErrorCode)
}

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObserveAdd(uint32)                  {}
func (NoOpObserver) ObserveDispatch(Direction, uint64)  {}
func (NoOpObserver) ObserveIdle()                       {}
func (NoOpObserver) ObserveMerge()                      {}
func (NoOpObserver) ObserveIO(Op, uint64, uint64, bool) {}
func (NoOpObserver) ObserveSwitch(string, string)       {}
func (NoOpObserver) ObserveError(ErrorCode)             {}

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveAdd(depth uint32) {
	o.metrics.RecordAdd(depth)
}

func (o *MetricsObserver) ObserveDispatch(dir Direction, waitNs uint64) {
	o.metrics.RecordDispatch(dir, waitNs)
}

func (o *MetricsObserver) ObserveIdle() {
	o.metrics.IdleDispatches.Add(1)
}

func (o *MetricsObserver) ObserveMerge() {
	o.metrics.Merges.Add(1)
}

func (o *MetricsObserver) ObserveIO(op Op, bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordIO(op, bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveSwitch(string, string) {
	o.metrics.ElevatorSwitches.Add(1)
}

func (o *MetricsObserver) ObserveError(code ErrorCode) {
	o.metrics.RecordError(code)
}

// Compile-time interface checks
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
