// Package generator produces synthetic telemetry datagrams on a schedule
// driven by the current stress profile.
package generator

import (
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/telemetryd/internal/clock"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
)

type State int

const (
	StateStopped State = iota
	StateRunning
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return "stopped"
	}
}

// Status is the generator run-state reported to control callers and
// subscribers.
type Status struct {
	IsRunning    bool    `json:"isRunning"`
	IsPaused     bool    `json:"isPaused"`
	State        string  `json:"state"`
	Mode         Mode    `json:"mode"`
	Profile      Profile `json:"profile"`
	MessagesSent uint64  `json:"messagesSent"`
	SendErrors   uint64  `json:"sendErrors"`
}

type activeProfile struct {
	mode    Mode
	profile Profile
}

// Generator sends one record per tick. Each tick is a one-shot timer
// tagged with the epoch it was scheduled in; stop and pause bump the
// epoch and cancel the timer, so a tick that lost the race to the lock
// sees a stale epoch and does nothing.
type Generator struct {
	mu     sync.Mutex
	conn   io.Writer
	closer io.Closer
	model  *Model
	rng    *rand.Rand
	clock  clock.Clock
	log    logger.Logger

	onSendError func(error)

	state State
	epoch uint64
	timer *time.Timer

	profile    atomic.Pointer[activeProfile]
	sent       atomic.Uint64
	sendErrors atomic.Uint64
}

type Option func(*Generator)

func WithLogger(log logger.Logger) Option {
	return func(g *Generator) { g.log = log }
}

func WithClock(c clock.Clock) Option {
	return func(g *Generator) { g.clock = clock.OrReal(c) }
}

// WithSeed makes jitter and signal noise reproducible.
func WithSeed(seed int64) Option {
	return func(g *Generator) { g.rng = rand.New(rand.NewSource(seed)) }
}

// WithSendErrorHandler registers a callback for failed sends. It runs
// on the send loop and must not block.
func WithSendErrorHandler(fn func(error)) Option {
	return func(g *Generator) { g.onSendError = fn }
}

// New creates a stopped generator writing datagrams to w, with the
// normal profile selected.
func New(w io.Writer, opts ...Option) *Generator {
	g := &Generator{
		conn:  w,
		clock: clock.Real{},
		log:   logger.Nop(),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if c, ok := w.(io.Closer); ok {
		g.closer = c
	}
	for _, opt := range opts {
		opt(g)
	}

	g.model = NewModel(g.clock.Now(), g.rng)
	g.profile.Store(&activeProfile{mode: ModeNormal, profile: profiles[ModeNormal]})
	return g
}

// Dial creates a generator sending to the datagram address target.
func Dial(target string, opts ...Option) (*Generator, error) {
	conn, err := net.Dial("udp", target)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrInitFailed, err).WithMessage("failed to dial " + target)
	}
	return New(conn, opts...), nil
}

// Start begins the send loop. It is a no-op while running.
func (g *Generator) Start() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateRunning {
		g.state = StateRunning
		g.schedule(0)
		g.log.Info().Str("mode", string(g.profile.Load().mode)).Msg("Generator started")
	}
	return g.statusLocked()
}

// Stop cancels the pending tick. No send happens after Stop returns.
func (g *Generator) Stop() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateStopped {
		g.state = StateStopped
		g.cancel()
		g.log.Info().Uint64("sent", g.sent.Load()).Msg("Generator stopped")
	}
	return g.statusLocked()
}

// Pause suspends a running generator.
func (g *Generator) Pause() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateRunning {
		g.state = StatePaused
		g.cancel()
		g.log.Info().Msg("Generator paused")
	}
	return g.statusLocked()
}

// Resume continues a paused generator. It does nothing otherwise.
func (g *Generator) Resume() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StatePaused {
		g.state = StateRunning
		g.schedule(0)
		g.log.Info().Msg("Generator resumed")
	}
	return g.statusLocked()
}

// SetProfile switches the stress profile by name. The switch is a single
// pointer swap and applies from the next tick.
func (g *Generator) SetProfile(name string) (Status, error) {
	mode, p, err := LookupProfile(name)
	if err != nil {
		return g.Status(), err
	}

	g.profile.Store(&activeProfile{mode: mode, profile: p})
	g.log.Info().
		Str("mode", string(mode)).
		Dur("interval", p.Interval).
		Dur("jitter", p.Jitter).
		Msg("Stress profile changed")

	return g.Status(), nil
}

// Profile returns the current mode and profile as one consistent pair.
func (g *Generator) Profile() (Mode, Profile) {
	active := g.profile.Load()
	return active.mode, active.profile
}

func (g *Generator) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusLocked()
}

// Close stops the generator and releases its socket.
func (g *Generator) Close() error {
	g.Stop()
	if g.closer != nil {
		return g.closer.Close()
	}
	return nil
}

func (g *Generator) statusLocked() Status {
	active := g.profile.Load()
	return Status{
		IsRunning:    g.state == StateRunning,
		IsPaused:     g.state == StatePaused,
		State:        g.state.String(),
		Mode:         active.mode,
		Profile:      active.profile,
		MessagesSent: g.sent.Load(),
		SendErrors:   g.sendErrors.Load(),
	}
}

// schedule arms the next tick in a fresh epoch. Caller holds g.mu.
func (g *Generator) schedule(delay time.Duration) {
	g.cancel()
	epoch := g.epoch
	g.timer = time.AfterFunc(delay, func() { g.tick(epoch) })
}

// cancel invalidates any armed tick. Caller holds g.mu.
func (g *Generator) cancel() {
	g.epoch++
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

func (g *Generator) tick(epoch uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if epoch != g.epoch || g.state != StateRunning {
		return
	}

	g.send()

	delay := g.profile.Load().profile.NextDelay(g.rng)
	g.timer = time.AfterFunc(delay, func() { g.tick(epoch) })
}

// send emits one record. Failures are counted and logged; the loop
// carries on with the next tick. Caller holds g.mu.
func (g *Generator) send() {
	rec := g.model.Sample(g.clock.Now())

	payload, err := telemetry.Encode(rec)
	if err == nil {
		_, err = g.conn.Write(payload)
	}
	if err != nil {
		g.sendErrors.Add(1)
		wrapped := errors.New().Wrap(errors.ErrSendFailed, err)
		g.log.ErrorWithCode(wrapped).Msg("Failed to send telemetry datagram")
		if g.onSendError != nil {
			g.onSendError(wrapped)
		}
		return
	}

	g.sent.Add(1)
}
