package metrics

import (
	"context"
	"time"
)

// Recorder persists periodic Snapshots. The default is a no-op.
type Recorder interface {
	Record(ctx context.Context, snapshot *Snapshot) error
	Close() error
}

// HistoryRepository is the storage behind an enabled Recorder.
type HistoryRepository interface {
	Record(snapshot *Snapshot) error
	Close() error
}

// Snapshot is a point-in-time copy of the process-wide counters.
// Uptime and Throughput are derived when the snapshot is taken.
type Snapshot struct {
	MessagesReceived uint64    `json:"messagesReceived"`
	MessagesSent     uint64    `json:"messagesSent"`
	DecodeErrors     uint64    `json:"decodeErrors"`
	SendErrors       uint64    `json:"sendErrors"`
	DroppedFrames    uint64    `json:"droppedFrames"`
	AvgLatency       float64   `json:"avgLatency"`
	ConnectionsCount int64     `json:"connectionsCount"`
	MemoryUsage      uint64    `json:"memoryUsage"`
	StartTime        time.Time `json:"startTime"`
	Timestamp        time.Time `json:"timestamp"`
	UptimeSeconds    float64   `json:"uptime"`
	Throughput       float64   `json:"throughput"`
}
