package client_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/telemetryd/internal/client"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ev(seq uint64) telemetry.Event {
	return telemetry.Event{SequenceID: seq}
}

func seqs(events []telemetry.Event) []uint64 {
	out := make([]uint64, len(events))
	for i, e := range events {
		out[i] = e.SequenceID
	}
	return out
}

func span(from, to uint64) []uint64 {
	var out []uint64
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func TestQueueOverflowKeepsMostRecent(t *testing.T) {
	q := client.NewQueue(client.QueueCapacity)

	evicted := 0
	for i := uint64(1); i <= 60; i++ {
		evicted += q.Push(ev(i))
		assert.LessOrEqual(t, q.Len(), client.QueueCapacity)
	}

	assert.Equal(t, 50, q.Len())
	assert.Equal(t, 10, evicted)
	assert.Equal(t, uint64(10), q.Dropped())
	assert.Equal(t, span(11, 60), seqs(q.Items()))
}

func TestQueueDrainRecent(t *testing.T) {
	q := client.NewQueue(client.QueueCapacity)
	for i := uint64(1); i <= 12; i++ {
		q.Push(ev(i))
	}

	batch, discarded := q.DrainRecent(client.BatchSize)
	assert.Equal(t, span(8, 12), seqs(batch))
	assert.Equal(t, 7, discarded)
	assert.Zero(t, q.Len())
	assert.Zero(t, q.Dropped(), "drain discards are not overflow drops")

	q.Push(ev(13))
	batch, discarded = q.DrainRecent(client.BatchSize)
	assert.Equal(t, []uint64{13}, seqs(batch))
	assert.Zero(t, discarded)

	batch, discarded = q.DrainRecent(client.BatchSize)
	assert.Empty(t, batch)
	assert.Zero(t, discarded)
}

func TestRenderBufferEvictsOldest(t *testing.T) {
	b := client.NewRenderBuffer(client.RenderCapacity)
	for i := uint64(1); i <= 300; i += 5 {
		b.Append(ev(i), ev(i+1), ev(i+2), ev(i+3), ev(i+4))
	}

	require.Equal(t, 250, b.Len())
	items := b.Items()
	assert.Equal(t, uint64(51), items[0].SequenceID)
	assert.Equal(t, uint64(300), items[249].SequenceID)
}

func TestDrainInterval(t *testing.T) {
	tests := []struct {
		queued int
		want   time.Duration
	}{
		{0, 100 * time.Millisecond},
		{15, 100 * time.Millisecond},
		{16, 75 * time.Millisecond},
		{30, 75 * time.Millisecond},
		{31, 50 * time.Millisecond},
		{50, 50 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, client.DrainInterval(tt.queued), "queued=%d", tt.queued)
	}
}
