package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/telemetryd/internal/broadcast"
	"codeberg.org/mutker/telemetryd/internal/client"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureRenderer struct {
	mu       sync.Mutex
	batches  [][]telemetry.Event
	stats    []client.Stats
	statuses []string
}

func (r *captureRenderer) RenderBatch(batch []telemetry.Event, stats client.Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	r.stats = append(r.stats, stats)
}

func (r *captureRenderer) RenderStatus(event string, _ json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, event)
}

func (r *captureRenderer) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func TestConsumerDrainSelectsRecentBatch(t *testing.T) {
	r := &captureRenderer{}
	c := client.NewConsumer(r)

	for i := uint64(1); i <= 60; i++ {
		require.True(t, c.Arrive(ev(i)))
	}
	stats := c.Stats()
	assert.Equal(t, 50, stats.QueueLength)
	assert.Equal(t, uint64(10), stats.OverflowDropped)

	assert.Equal(t, 5, c.Drain())
	require.Len(t, r.batches, 1)
	assert.Equal(t, span(56, 60), seqs(r.batches[0]))

	stats = r.stats[0]
	assert.Zero(t, stats.QueueLength)
	assert.Equal(t, 5, stats.BufferLength)
	assert.Equal(t, uint64(10), stats.OverflowDropped)
	assert.Equal(t, uint64(45), stats.BatchDiscarded)
	assert.Equal(t, uint64(5), stats.Rendered)
	assert.Equal(t, span(56, 60), seqs(c.Rendered()))

	assert.Zero(t, c.Drain(), "empty drain")
	assert.Len(t, r.batches, 1)
}

func TestConsumerPause(t *testing.T) {
	r := &captureRenderer{}
	c := client.NewConsumer(r)

	c.Arrive(ev(1))
	c.Pause()

	assert.False(t, c.Arrive(ev(2)))
	assert.Zero(t, c.Drain())
	stats := c.Stats()
	assert.True(t, stats.Paused)
	assert.Equal(t, uint64(1), stats.Rejected)
	assert.Equal(t, 1, stats.QueueLength)
	assert.Empty(t, r.batches)

	c.Resume()
	assert.True(t, c.Arrive(ev(3)))
	assert.Equal(t, 2, c.Drain())
	assert.Equal(t, []uint64{1, 3}, seqs(r.batches[0]))
}

func TestConsumerRunDrainsOnTimer(t *testing.T) {
	r := &captureRenderer{}
	c := client.NewConsumer(r)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	for i := uint64(1); i <= 40; i++ {
		c.Arrive(ev(i))
	}

	require.Eventually(t, func() bool { return r.batchCount() >= 1 }, time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, len(c.Queued()), client.QueueCapacity)

	r.mu.Lock()
	assert.LessOrEqual(t, len(r.batches[0]), client.BatchSize)
	r.mu.Unlock()
}

func TestStreamDispatchesFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteJSON(broadcast.Frame{Event: broadcast.EventSimulatorStatus, Data: map[string]bool{"isRunning": false}})
		for i := uint64(1); i <= 3; i++ {
			e := telemetry.NewEvent(telemetry.Record{Timestamp: time.Now().UTC(), Altitude: 35000}, time.Millisecond, i, "127.0.0.1:9")
			_ = conn.WriteJSON(broadcast.Frame{Event: broadcast.EventTelemetryData, Data: e})
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(50 * time.Millisecond)
	}))
	defer ts.Close()

	r := &captureRenderer{}
	c := client.NewConsumer(r)
	s := client.NewStream("ws"+strings.TrimPrefix(ts.URL, "http"), c, r, nil)

	require.NoError(t, s.Run(context.Background()))

	queued := c.Queued()
	assert.Equal(t, []uint64{1, 2, 3}, seqs(queued))
	assert.Equal(t, 35000.0, queued[0].Altitude)
	assert.Equal(t, "127.0.0.1:9", queued[0].Source)

	r.mu.Lock()
	assert.Equal(t, []string{broadcast.EventSimulatorStatus}, r.statuses)
	r.mu.Unlock()
}

func TestStreamDialFailure(t *testing.T) {
	s := client.NewStream("ws://127.0.0.1:1/ws", client.NewConsumer(nil), nil, nil)
	assert.Error(t, s.Run(context.Background()))
}
