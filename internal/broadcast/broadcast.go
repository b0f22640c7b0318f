// Package broadcast fans out named event frames to every subscriber.
package broadcast

import (
	"sync"
	"sync/atomic"

	"codeberg.org/mutker/telemetryd/internal/logger"
	"github.com/google/uuid"
)

// Event names carried in Frame.Event.
const (
	EventTelemetryData      = "telemetryData"
	EventPerformanceMetrics = "performanceMetrics"
	EventPerformanceUpdate  = "performanceUpdate"
	EventUDPConnections     = "udpConnections"
	EventSimulatorStatus    = "simulatorStatus"
	EventStressModeChanged  = "stressModeChanged"
)

// DefaultBufferSize is the per-subscriber frame backlog. A subscriber
// that falls this far behind loses frames rather than stalling others.
const DefaultBufferSize = 64

// Frame is one event delivered to a subscriber.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Subscription is one subscriber's view of the stream.
type Subscription struct {
	id      uuid.UUID
	frames  chan Frame
	done    chan struct{}
	dropped atomic.Uint64
}

func (s *Subscription) ID() uuid.UUID { return s.id }

// Frames yields the initial snapshot followed by broadcast frames.
func (s *Subscription) Frames() <-chan Frame { return s.frames }

// Done is closed once the subscription is removed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Dropped counts frames this subscriber missed because its backlog was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Broadcaster holds the subscriber set. Subscribe and Unsubscribe take
// the write lock; Publish takes the read lock, so a new subscriber's
// snapshot is queued before any frame published after it joined.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscription

	bufferSize int
	snapshot   func() []Frame
	onJoin     func()
	onLeave    func()
	onDrop     func(id uuid.UUID)
	log        logger.Logger
}

type Option func(*Broadcaster)

// WithSnapshot sets the frames every new subscriber receives first. fn
// runs under the broadcaster lock and must not publish.
func WithSnapshot(fn func() []Frame) Option {
	return func(b *Broadcaster) { b.snapshot = fn }
}

// WithMembershipHooks registers callbacks run when a subscriber joins
// (before its snapshot is built) or leaves.
func WithMembershipHooks(onJoin, onLeave func()) Option {
	return func(b *Broadcaster) {
		b.onJoin = onJoin
		b.onLeave = onLeave
	}
}

// WithDropHandler is called for every frame a slow subscriber misses.
func WithDropHandler(fn func(id uuid.UUID)) Option {
	return func(b *Broadcaster) { b.onDrop = fn }
}

func WithBufferSize(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

func WithLogger(log logger.Logger) Option {
	return func(b *Broadcaster) { b.log = log }
}

func New(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		subs:       make(map[uuid.UUID]*Subscription),
		bufferSize: DefaultBufferSize,
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe adds a subscriber and queues its initial snapshot.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.onJoin != nil {
		b.onJoin()
	}

	var initial []Frame
	if b.snapshot != nil {
		initial = b.snapshot()
	}

	size := b.bufferSize
	if len(initial) > size {
		size = len(initial)
	}

	sub := &Subscription{
		id:     uuid.New(),
		frames: make(chan Frame, size),
		done:   make(chan struct{}),
	}
	for _, f := range initial {
		sub.frames <- f
	}

	b.subs[sub.id] = sub
	b.log.Debug().Str("subscriber", sub.id.String()).Int("subscribers", len(b.subs)).Msg("Subscriber joined")

	return sub
}

// Unsubscribe removes sub. Removing an unknown or already removed
// subscription is a no-op.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	close(sub.done)

	if b.onLeave != nil {
		b.onLeave()
	}
	b.log.Debug().
		Str("subscriber", sub.id.String()).
		Uint64("dropped", sub.Dropped()).
		Int("subscribers", len(b.subs)).
		Msg("Subscriber left")
}

// Publish offers frame to every current subscriber without blocking.
// It returns how many subscribers accepted it.
func (b *Broadcaster) Publish(event string, data any) int {
	frame := Frame{Event: event, Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for id, sub := range b.subs {
		select {
		case sub.frames <- frame:
			delivered++
		default:
			sub.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop(id)
			}
		}
	}
	return delivered
}

// Count returns the number of current subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close removes every subscriber.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		b.Unsubscribe(sub)
	}
}
