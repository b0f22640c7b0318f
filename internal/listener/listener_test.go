package listener_test

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/listener"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu      sync.Mutex
	records []telemetry.Record
	origins []netip.AddrPort
	failed  []error
}

func (s *captureSink) HandleRecord(rec telemetry.Record, origin netip.AddrPort, _ time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	s.origins = append(s.origins, origin)
}

func (s *captureSink) HandleDecodeError(err error, _ netip.AddrPort) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, err)
}

func (s *captureSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records), len(s.failed)
}

func sample() telemetry.Record {
	return telemetry.Record{
		Timestamp:         time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Altitude:          35000,
		SpeedX:            450,
		SpeedY:            360,
		SpeedZ:            270,
		Heading:           90,
		Latitude:          40.7,
		Longitude:         -74,
		Temperature:       -45,
		BatteryPercentage: 99,
	}
}

func startListener(t *testing.T, sink listener.Sink) *listener.Listener {
	t.Helper()
	l, err := listener.Listen("127.0.0.1:0", sink, logger.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return after cancel")
		}
	})
	return l
}

func TestListenerDeliversRecords(t *testing.T) {
	sink := &captureSink{}
	l := startListener(t, sink)

	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(l.LocalAddr()))
	require.NoError(t, err)
	defer conn.Close()

	payload, err := telemetry.Encode(sample())
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n, _ := sink.counts()
		return n == 1
	}, 2*time.Second, 5*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, sample().Altitude, sink.records[0].Altitude)
	assert.Equal(t, conn.LocalAddr().(*net.UDPAddr).AddrPort().Port(), sink.origins[0].Port())
	assert.True(t, sink.origins[0].Addr().Is4())
}

func TestListenerSurvivesMalformedDatagrams(t *testing.T) {
	sink := &captureSink{}
	l := startListener(t, sink)

	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(l.LocalAddr()))
	require.NoError(t, err)
	defer conn.Close()

	good, err := telemetry.Encode(sample())
	require.NoError(t, err)

	for _, p := range [][]byte{[]byte("not json"), []byte(`{"altitude":1}`), good} {
		_, err = conn.Write(p)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		ok, bad := sink.counts()
		return ok == 1 && bad == 2
	}, 2*time.Second, 5*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.True(t, errors.HasCode(sink.failed[0], errors.ErrDecodeFailed))
	assert.True(t, errors.HasCode(sink.failed[1], errors.ErrInvalidRecord))
}

func TestListenBindConflict(t *testing.T) {
	first, err := listener.Listen("127.0.0.1:0", &captureSink{}, nil)
	require.NoError(t, err)
	defer first.Close()

	_, err = listener.Listen(first.LocalAddr().String(), &captureSink{}, nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrBindFailed))
}

func TestCloseIsIdempotent(t *testing.T) {
	l, err := listener.Listen("127.0.0.1:0", &captureSink{}, nil)
	require.NoError(t, err)
	require.NoError(t, l.Close())
	assert.NoError(t, l.Close())
}
