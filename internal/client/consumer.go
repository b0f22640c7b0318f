package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
)

// Renderer is the display surface fed by the consumer and the stream.
type Renderer interface {
	RenderBatch(batch []telemetry.Event, stats Stats)
	RenderStatus(event string, data json.RawMessage)
}

// Stats describes the consumer at the end of a drain. OverflowDropped
// counts capacity evictions; BatchDiscarded counts entries cleared by a
// drain without being selected.
type Stats struct {
	QueueLength     int    `json:"queueLength"`
	BufferLength    int    `json:"bufferLength"`
	OverflowDropped uint64 `json:"overflowDropped"`
	BatchDiscarded  uint64 `json:"batchDiscarded"`
	Rejected        uint64 `json:"rejected"`
	Rendered        uint64 `json:"rendered"`
	Paused          bool   `json:"paused"`
}

// Consumer decouples arrival from rendering. Arrive and Drain are
// mutually exclusive.
type Consumer struct {
	mu       sync.Mutex
	queue    *Queue
	buffer   *RenderBuffer
	renderer Renderer
	log      logger.Logger

	paused    bool
	rejected  uint64
	discarded uint64
	rendered  uint64
}

type ConsumerOption func(*Consumer)

func WithConsumerLogger(log logger.Logger) ConsumerOption {
	return func(c *Consumer) { c.log = log }
}

func NewConsumer(renderer Renderer, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		queue:    NewQueue(QueueCapacity),
		buffer:   NewRenderBuffer(RenderCapacity),
		renderer: renderer,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Arrive queues ev. It returns false when the consumer is paused and the
// event was rejected.
func (c *Consumer) Arrive(ev telemetry.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.paused {
		c.rejected++
		return false
	}

	if evicted := c.queue.Push(ev); evicted > 0 {
		c.log.Debug().Int("evicted", evicted).Uint64("dropped", c.queue.Dropped()).Msg("Queue overflow")
	}
	return true
}

// Drain moves up to BatchSize of the most recent events into the render
// buffer, clears the queue and hands the batch to the renderer. It
// returns the batch size; paused or empty drains return 0.
func (c *Consumer) Drain() int {
	c.mu.Lock()
	if c.paused || c.queue.Len() == 0 {
		c.mu.Unlock()
		return 0
	}

	batch, discarded := c.queue.DrainRecent(BatchSize)
	c.discarded += uint64(discarded)
	c.buffer.Append(batch...)
	c.rendered += uint64(len(batch))
	stats := c.statsLocked()
	c.mu.Unlock()

	if c.renderer != nil {
		c.renderer.RenderBatch(batch, stats)
	}
	return len(batch)
}

// Run drains on an adaptive timer until ctx is done.
func (c *Consumer) Run(ctx context.Context) {
	timer := time.NewTimer(c.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			c.Drain()
			timer.Reset(c.nextInterval())
		}
	}
}

func (c *Consumer) nextInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return DrainInterval(c.queue.Len())
}

// Pause makes the consumer reject arrivals and skip drains.
func (c *Consumer) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

func (c *Consumer) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

func (c *Consumer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

func (c *Consumer) statsLocked() Stats {
	return Stats{
		QueueLength:     c.queue.Len(),
		BufferLength:    c.buffer.Len(),
		OverflowDropped: c.queue.Dropped(),
		BatchDiscarded:  c.discarded,
		Rejected:        c.rejected,
		Rendered:        c.rendered,
		Paused:          c.paused,
	}
}

// Queued returns a copy of the pending events, oldest first.
func (c *Consumer) Queued() []telemetry.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Items()
}

// Rendered returns a copy of the render buffer, oldest first.
func (c *Consumer) Rendered() []telemetry.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer.Items()
}
