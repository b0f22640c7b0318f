// Package client receives the fan-out stream and renders it at a bounded
// rate regardless of how fast events arrive.
package client

import (
	"time"

	"codeberg.org/mutker/telemetryd/internal/telemetry"
)

const (
	QueueCapacity  = 50
	BatchSize      = 5
	RenderCapacity = 250
)

// Queue is a drop-oldest FIFO of events. It is not safe for concurrent
// use; Consumer serializes access.
type Queue struct {
	items    []telemetry.Event
	capacity int
	dropped  uint64
}

// NewQueue creates a queue holding at most capacity events.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = QueueCapacity
	}
	return &Queue{
		items:    make([]telemetry.Event, 0, capacity+1),
		capacity: capacity,
	}
}

// Push appends ev. When that overflows the queue it is cut back to the
// most recent entries and the number evicted is returned.
func (q *Queue) Push(ev telemetry.Event) int {
	q.items = append(q.items, ev)

	excess := len(q.items) - q.capacity
	if excess <= 0 {
		return 0
	}

	n := copy(q.items, q.items[excess:])
	clear(q.items[n:])
	q.items = q.items[:n]
	q.dropped += uint64(excess)
	return excess
}

// DrainRecent removes everything. It returns up to n of the most recent
// entries in arrival order, and how many older entries were discarded.
func (q *Queue) DrainRecent(n int) ([]telemetry.Event, int) {
	if len(q.items) == 0 {
		return nil, 0
	}

	start := len(q.items) - n
	if start < 0 {
		start = 0
	}

	batch := make([]telemetry.Event, len(q.items)-start)
	copy(batch, q.items[start:])

	clear(q.items)
	q.items = q.items[:0]
	return batch, start
}

func (q *Queue) Len() int { return len(q.items) }

// Dropped counts entries evicted by overflow.
func (q *Queue) Dropped() uint64 { return q.dropped }

// Items returns a copy of the queued events, oldest first.
func (q *Queue) Items() []telemetry.Event {
	out := make([]telemetry.Event, len(q.items))
	copy(out, q.items)
	return out
}

// RenderBuffer keeps the most recent rendered events.
type RenderBuffer struct {
	items    []telemetry.Event
	capacity int
}

func NewRenderBuffer(capacity int) *RenderBuffer {
	if capacity <= 0 {
		capacity = RenderCapacity
	}
	return &RenderBuffer{capacity: capacity}
}

// Append adds events in order, evicting the oldest beyond capacity.
func (b *RenderBuffer) Append(events ...telemetry.Event) {
	b.items = append(b.items, events...)
	if excess := len(b.items) - b.capacity; excess > 0 {
		n := copy(b.items, b.items[excess:])
		clear(b.items[n:])
		b.items = b.items[:n]
	}
}

func (b *RenderBuffer) Len() int { return len(b.items) }

// Items returns a copy of the buffer, oldest first.
func (b *RenderBuffer) Items() []telemetry.Event {
	out := make([]telemetry.Event, len(b.items))
	copy(out, b.items)
	return out
}

// DrainInterval picks the next drain period from the backlog: heavier
// backlogs are drained sooner.
func DrainInterval(queued int) time.Duration {
	switch {
	case queued > 30:
		return 50 * time.Millisecond
	case queued > 15:
		return 75 * time.Millisecond
	default:
		return 100 * time.Millisecond
	}
}
