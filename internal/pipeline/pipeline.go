// Package pipeline owns the ingest, aggregate and fan-out components and
// the control operations exposed to the outside.
package pipeline

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/telemetryd/internal/broadcast"
	"codeberg.org/mutker/telemetryd/internal/clock"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/generator"
	"codeberg.org/mutker/telemetryd/internal/listener"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/metrics"
	"codeberg.org/mutker/telemetryd/internal/peers"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
	"github.com/google/uuid"
)

const (
	DefaultStatusInterval = 5 * time.Second
	DefaultProfile        = string(generator.ModeNormal)
)

// Config selects addresses and timings. Zero values fall back to the
// defaults.
type Config struct {
	UDPAddress     string
	Profile        string
	Target         string // generator destination; empty means the listener
	Autostart      bool
	LivenessWindow time.Duration
	StatusInterval time.Duration
}

type Option func(*Pipeline)

func WithLogger(log logger.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) { p.clock = clock.OrReal(c) }
}

// WithRecorder sets where periodic snapshots are recorded.
func WithRecorder(r metrics.Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithGeneratorOptions passes extra options to the traffic generator.
func WithGeneratorOptions(opts ...generator.Option) Option {
	return func(p *Pipeline) { p.genOpts = append(p.genOpts, opts...) }
}

// Pipeline ties the listener, peer tracker, metrics, generator and
// broadcaster together.
type Pipeline struct {
	cfg      Config
	log      logger.Logger
	clock    clock.Clock
	recorder metrics.Recorder
	genOpts  []generator.Option

	listener    *listener.Listener
	generator   *generator.Generator
	peers       *peers.Tracker
	metrics     *metrics.Aggregator
	broadcaster *broadcast.Broadcaster

	seq       atomic.Uint64
	startedAt time.Time

	closeOnce sync.Once
}

// Open binds the listener and prepares the generator. A bind failure is
// returned unchanged so the caller can treat it as fatal.
func Open(cfg Config, opts ...Option) (*Pipeline, error) {
	if cfg.Profile == "" {
		cfg.Profile = DefaultProfile
	}
	if cfg.LivenessWindow <= 0 {
		cfg.LivenessWindow = peers.DefaultLivenessWindow
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}

	p := &Pipeline{
		cfg:      cfg,
		log:      logger.Nop(),
		clock:    clock.Real{},
		recorder: metrics.NopRecorder(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.startedAt = p.clock.Now()
	p.metrics = metrics.NewAggregator(p.clock)
	p.peers = peers.NewTracker(p.clock, cfg.LivenessWindow)
	p.broadcaster = broadcast.New(
		broadcast.WithSnapshot(p.initialFrames),
		broadcast.WithMembershipHooks(p.metrics.Connect, p.subscriberLeft),
		broadcast.WithDropHandler(func(uuid.UUID) { p.metrics.RecordDroppedFrame() }),
		broadcast.WithLogger(p.log.With("broadcast")),
	)

	l, err := listener.Listen(cfg.UDPAddress, p, p.log.With("listener"))
	if err != nil {
		return nil, err
	}
	p.listener = l
	p.peers.Bind(l.LocalAddr())

	target := cfg.Target
	if target == "" {
		target = loopbackTarget(l.LocalAddr()).String()
	}

	genOpts := append([]generator.Option{
		generator.WithLogger(p.log.With("generator")),
		generator.WithClock(p.clock),
		generator.WithSendErrorHandler(func(error) { p.metrics.RecordSendError() }),
	}, p.genOpts...)

	gen, err := generator.Dial(target, genOpts...)
	if err != nil {
		_ = l.Close()
		return nil, err
	}
	if _, err := gen.SetProfile(cfg.Profile); err != nil {
		_ = gen.Close()
		_ = l.Close()
		return nil, err
	}
	p.generator = gen

	p.log.Info().
		Str("udp", l.LocalAddr().String()).
		Str("target", target).
		Str("profile", cfg.Profile).
		Msg("Pipeline ready")

	return p, nil
}

// loopbackTarget maps a wildcard bind address to loopback so the
// generator has somewhere concrete to send.
func loopbackTarget(local netip.AddrPort) netip.AddrPort {
	addr := local.Addr()
	if addr.IsUnspecified() {
		if addr.Is6() {
			addr = netip.IPv6Loopback()
		} else {
			addr = netip.AddrFrom4([4]byte{127, 0, 0, 1})
		}
	}
	return netip.AddrPortFrom(addr, local.Port())
}

// Run serves datagrams and emits periodic status until ctx is done, then
// shuts every component down.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- p.listener.Serve(ctx) }()

	if p.cfg.Autostart {
		p.Start()
	}

	ticker := time.NewTicker(p.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.Close()
			return <-serveErr
		case err := <-serveErr:
			p.Close()
			return err
		case <-ticker.C:
			p.StatusTick(ctx)
		}
	}
}

// StatusTick runs one liveness sweep and publishes the metrics snapshot
// and the peer list.
func (p *Pipeline) StatusTick(ctx context.Context) {
	if n := p.peers.Sweep(p.clock.Now()); n > 0 {
		p.log.Debug().Int("inactive", n).Msg("Peers marked inactive")
	}

	snapshot := p.metrics.Snapshot()
	p.broadcaster.Publish(broadcast.EventPerformanceUpdate, snapshot)
	p.broadcaster.Publish(broadcast.EventUDPConnections, p.peers.Snapshot())

	if err := p.recorder.Record(ctx, &snapshot); err != nil {
		p.log.ErrorWithCode(err).Msg("Failed to record metrics snapshot")
	}
}

// HandleRecord implements listener.Sink.
func (p *Pipeline) HandleRecord(rec telemetry.Record, origin netip.AddrPort, arrival time.Time) {
	peer := p.peers.Upsert(origin)

	latency := time.Since(arrival)
	p.metrics.RecordReceive(latency)

	event := telemetry.NewEvent(rec, latency, p.seq.Add(1), peer.Key)
	p.broadcaster.Publish(broadcast.EventTelemetryData, event)
	p.metrics.RecordSend()
}

// HandleDecodeError implements listener.Sink.
func (p *Pipeline) HandleDecodeError(_ error, _ netip.AddrPort) {
	p.metrics.RecordDecodeError()
}

func (p *Pipeline) subscriberLeft() {
	if err := p.metrics.Disconnect(); err != nil {
		p.log.ErrorWithCode(err).Msg("Subscriber count out of balance")
	}
}

// initialFrames is the synchronous snapshot a new subscriber receives.
func (p *Pipeline) initialFrames() []broadcast.Frame {
	return []broadcast.Frame{
		{Event: broadcast.EventPerformanceMetrics, Data: p.metrics.Snapshot()},
		{Event: broadcast.EventUDPConnections, Data: p.peers.Snapshot()},
		{Event: broadcast.EventSimulatorStatus, Data: p.generator.Status()},
	}
}

// Start starts the generator and announces the new run-state.
func (p *Pipeline) Start() generator.Status {
	return p.announce(p.generator.Start())
}

func (p *Pipeline) Stop() generator.Status {
	return p.announce(p.generator.Stop())
}

func (p *Pipeline) Pause() generator.Status {
	return p.announce(p.generator.Pause())
}

func (p *Pipeline) Resume() generator.Status {
	return p.announce(p.generator.Resume())
}

func (p *Pipeline) announce(st generator.Status) generator.Status {
	p.broadcaster.Publish(broadcast.EventSimulatorStatus, st)
	return st
}

// StressModeChange is the payload of a stressModeChanged frame.
type StressModeChange struct {
	Mode    generator.Mode    `json:"mode"`
	Profile generator.Profile `json:"profile"`
}

// SetStressMode selects a stress profile by name. An unknown name leaves
// the current profile in place and returns an invalid_profile error that
// lists the valid names.
func (p *Pipeline) SetStressMode(name string) (generator.Status, error) {
	st, err := p.generator.SetProfile(name)
	if err != nil {
		return st, err
	}
	p.broadcaster.Publish(broadcast.EventStressModeChanged, StressModeChange{Mode: st.Mode, Profile: st.Profile})
	return st, nil
}

// Status returns the generator run-state.
func (p *Pipeline) Status() generator.Status {
	return p.generator.Status()
}

// Connections is the peer view plus the addresses the listener can be
// reached on.
type Connections struct {
	Peers     []peers.Peer `json:"connections"`
	Addresses []string     `json:"addresses"`
	Port      uint16       `json:"port"`
}

func (p *Pipeline) Connections() Connections {
	port := p.listener.LocalAddr().Port()
	return Connections{
		Peers:     p.peers.Snapshot(),
		Addresses: reachableAddresses(port),
		Port:      port,
	}
}

// reachableAddresses lists non-loopback IPv4 interface addresses with
// the bound port. Interface lookup failures yield an empty list.
func reachableAddresses(port uint16) []string {
	out := []string{}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return out
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip, ok := netip.AddrFromSlice(ipnet.IP)
		if !ok {
			continue
		}
		ip = ip.Unmap()
		if !ip.Is4() || ip.IsLoopback() {
			continue
		}
		out = append(out, netip.AddrPortFrom(ip, port).String())
	}
	return out
}

// Metrics returns the current aggregator snapshot.
func (p *Pipeline) Metrics() metrics.Snapshot {
	return p.metrics.Snapshot()
}

// Health is the liveness probe result. It never fails.
type Health struct {
	Status      string           `json:"status"`
	Timestamp   time.Time        `json:"timestamp"`
	Uptime      float64          `json:"uptime"`
	Generator   generator.Status `json:"generator"`
	Subscribers int              `json:"subscribers"`
	UDPAddress  string           `json:"udpAddress"`
}

func (p *Pipeline) Health() Health {
	now := p.clock.Now()
	return Health{
		Status:      "ok",
		Timestamp:   now,
		Uptime:      now.Sub(p.startedAt).Seconds(),
		Generator:   p.generator.Status(),
		Subscribers: p.broadcaster.Count(),
		UDPAddress:  p.listener.LocalAddr().String(),
	}
}

// Subscribe registers a subscriber; its first frames are the current
// metrics, peers and generator status.
func (p *Pipeline) Subscribe() *broadcast.Subscription {
	return p.broadcaster.Subscribe()
}

func (p *Pipeline) Unsubscribe(sub *broadcast.Subscription) {
	p.broadcaster.Unsubscribe(sub)
}

// LocalAddr is the listener's bound address.
func (p *Pipeline) LocalAddr() netip.AddrPort {
	return p.listener.LocalAddr()
}

// Close stops the generator, drops subscribers and releases sockets and
// storage. It is safe to call more than once.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		if err := p.generator.Close(); err != nil {
			p.log.Warn().Err(err).Msg("Failed to close generator socket")
		}
		p.broadcaster.Close()
		if err := p.listener.Close(); err != nil {
			p.log.Warn().Err(err).Msg("Failed to close listener")
		}
		if err := p.recorder.Close(); err != nil {
			p.log.ErrorWithCode(errors.New().Wrap(errors.ErrShutdownFailed, err)).Msg("Failed to close metrics history")
		}
		p.log.Info().Msg("Pipeline closed")
	})
}
