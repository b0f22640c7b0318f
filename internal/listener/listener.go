// Package listener receives telemetry datagrams and hands decoded records
// to a Sink.
package listener

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"time"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
	"golang.org/x/time/rate"
)

// Sink consumes listener output. Calls are made from the read loop, one
// at a time, in arrival order.
type Sink interface {
	HandleRecord(rec telemetry.Record, origin netip.AddrPort, arrival time.Time)
	HandleDecodeError(err error, origin netip.AddrPort)
}

// Listener owns the bound datagram socket.
type Listener struct {
	conn      *net.UDPConn
	requested netip.Addr
	sink      Sink
	log       logger.Logger

	// diagnostics throttles decode-failure logging; the counters still
	// see every failure.
	diagnostics *rate.Limiter

	closeOnce sync.Once
	closeErr  error
}

// Listen binds address (e.g. "0.0.0.0:41234" or "127.0.0.1:0"). A bind
// failure is returned as bind_failed.
func Listen(address string, sink Sink, log logger.Logger) (*Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrInvalidAddress, err).WithMessage("invalid listen address " + address)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrBindFailed, err)
	}

	if log == nil {
		log = logger.Nop()
	}

	requested, _ := netip.AddrFromSlice(udpAddr.IP)

	l := &Listener{
		conn:        conn,
		requested:   requested.Unmap(),
		sink:        sink,
		log:         log,
		diagnostics: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	l.log.Info().Str("address", l.LocalAddr().String()).Msg("Telemetry listener bound")

	return l, nil
}

// LocalAddr returns the bound address with the actual port. A wildcard
// bind reports the wildcard that was asked for, not the dual-stack one
// the kernel may have used.
func (l *Listener) LocalAddr() netip.AddrPort {
	if l == nil || l.conn == nil {
		return netip.AddrPort{}
	}
	bound := l.conn.LocalAddr().(*net.UDPAddr).AddrPort()
	addr := bound.Addr().Unmap()
	if addr.IsUnspecified() && l.requested.IsValid() {
		addr = l.requested
	}
	return netip.AddrPortFrom(addr, bound.Port())
}

// Serve reads datagrams until ctx is cancelled or the listener is closed.
// Each datagram is decoded on its own; a bad payload never stops the loop.
func (l *Listener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	buf := make([]byte, telemetry.MaxDatagramSize)
	for {
		n, origin, err := l.conn.ReadFromUDPAddrPort(buf)
		arrival := time.Now()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			l.log.ErrorWithCode(errors.New().Wrap(errors.ErrReadFailed, err)).Msg("Datagram read failed")
			continue
		}

		origin = netip.AddrPortFrom(origin.Addr().Unmap(), origin.Port())

		rec, err := telemetry.Decode(buf[:n])
		if err != nil {
			if l.diagnostics.Allow() {
				l.log.Warn().
					Err(err).
					Str("origin", origin.String()).
					Int("bytes", n).
					Msg("Discarding undecodable datagram")
			}
			l.sink.HandleDecodeError(err, origin)
			continue
		}

		l.sink.HandleRecord(rec, origin, arrival)
	}
}

// Close releases the socket. It is safe to call more than once.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}
