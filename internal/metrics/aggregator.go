package metrics

import (
	"runtime"
	"sync"
	"time"

	"codeberg.org/mutker/telemetryd/internal/clock"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
)

// Aggregator holds the process-wide counters. Counters are never reset
// during the process lifetime.
type Aggregator struct {
	mu    sync.Mutex
	clock clock.Clock
	start time.Time

	received      uint64
	sent          uint64
	decodeErrors  uint64
	sendErrors    uint64
	droppedFrames uint64
	avgLatency    float64
	connections   int64

	memoryUsage func() uint64
}

// NewAggregator creates an Aggregator whose start time is the clock's now.
func NewAggregator(c clock.Clock) *Aggregator {
	c = clock.OrReal(c)
	return &Aggregator{
		clock:       c,
		start:       c.Now(),
		memoryUsage: heapAlloc,
	}
}

// RecordReceive counts one decoded datagram and folds its processing
// latency into the running average as avg' = (avg + sample) / 2.
func (a *Aggregator) RecordReceive(latency time.Duration) {
	sample := telemetry.Milliseconds(latency)

	a.mu.Lock()
	a.received++
	a.avgLatency = (a.avgLatency + sample) / 2
	a.mu.Unlock()
}

// RecordSend counts one event handed to the broadcaster.
func (a *Aggregator) RecordSend() {
	a.mu.Lock()
	a.sent++
	a.mu.Unlock()
}

// RecordDecodeError counts one dropped malformed datagram.
func (a *Aggregator) RecordDecodeError() {
	a.mu.Lock()
	a.decodeErrors++
	a.mu.Unlock()
}

// RecordSendError counts one generator send failure.
func (a *Aggregator) RecordSendError() {
	a.mu.Lock()
	a.sendErrors++
	a.mu.Unlock()
}

// RecordDroppedFrame counts one frame dropped for a slow subscriber.
func (a *Aggregator) RecordDroppedFrame() {
	a.mu.Lock()
	a.droppedFrames++
	a.mu.Unlock()
}

// Connect counts a new subscriber.
func (a *Aggregator) Connect() {
	a.mu.Lock()
	a.connections++
	a.mu.Unlock()
}

// Disconnect counts a departed subscriber. It refuses to go below zero.
func (a *Aggregator) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.connections == 0 {
		return errors.New().New(errors.ErrConnectionsBelow0)
	}
	a.connections--
	return nil
}

// Snapshot returns a consistent copy of all counters.
func (a *Aggregator) Snapshot() Snapshot {
	now := a.clock.Now()
	mem := a.memoryUsage()

	a.mu.Lock()
	defer a.mu.Unlock()

	uptime := now.Sub(a.start).Seconds()
	throughput := 0.0
	if uptime > 0 {
		throughput = float64(a.received) / uptime
	}

	return Snapshot{
		MessagesReceived: a.received,
		MessagesSent:     a.sent,
		DecodeErrors:     a.decodeErrors,
		SendErrors:       a.sendErrors,
		DroppedFrames:    a.droppedFrames,
		AvgLatency:       a.avgLatency,
		ConnectionsCount: a.connections,
		MemoryUsage:      mem,
		StartTime:        a.start,
		Timestamp:        now,
		UptimeSeconds:    uptime,
		Throughput:       throughput,
	}
}

func heapAlloc() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}
