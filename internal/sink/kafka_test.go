package sink_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/telemetryd/internal/broadcast"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/sink"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

type fakeProducer struct {
	mu      sync.Mutex
	records []*kgo.Record
	fail    error
	flushed bool
	closed  bool
}

func (p *fakeProducer) TryProduce(_ context.Context, r *kgo.Record, promise func(*kgo.Record, error)) {
	p.mu.Lock()
	p.records = append(p.records, r)
	fail := p.fail
	p.mu.Unlock()
	promise(r, fail)
}

func (p *fakeProducer) Flush(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushed = true
	return nil
}

func (p *fakeProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakeProducer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

func event(seq uint64) telemetry.Event {
	rec := telemetry.Record{Timestamp: time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC), Altitude: 35000}
	return telemetry.NewEvent(rec, time.Millisecond, seq, "10.0.0.7:5000")
}

func TestKafkaForwardsTelemetryOnly(t *testing.T) {
	b := broadcast.New()
	producer := &fakeProducer{}
	k := sink.NewKafka(producer, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx, b) }()

	require.Eventually(t, func() bool { return b.Count() == 1 }, time.Second, 5*time.Millisecond)

	b.Publish(broadcast.EventPerformanceUpdate, "ignored")
	b.Publish(broadcast.EventTelemetryData, event(1))
	b.Publish(broadcast.EventTelemetryData, event(2))

	require.Eventually(t, func() bool { return producer.count() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	producer.mu.Lock()
	defer producer.mu.Unlock()
	assert.True(t, producer.flushed)
	assert.True(t, producer.closed)
	first := producer.records[0]
	assert.Equal(t, sink.DefaultTopic, first.Topic)
	assert.Equal(t, "10.0.0.7:5000", string(first.Key))
	assert.Contains(t, string(first.Value), `"sequenceId":1`)
	assert.Equal(t, uint64(2), k.Produced())
	assert.Equal(t, 0, b.Count())
}

func TestKafkaCountsProduceFailures(t *testing.T) {
	b := broadcast.New()
	producer := &fakeProducer{fail: stderrors.New("broker unavailable")}
	k := sink.NewKafka(producer, "events", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx, b) }()

	require.Eventually(t, func() bool { return b.Count() == 1 }, time.Second, 5*time.Millisecond)
	b.Publish(broadcast.EventTelemetryData, event(1))

	require.Eventually(t, func() bool { return k.Failed() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, k.Produced())

	// Removing every subscriber ends the sink.
	b.Close()
	require.NoError(t, <-done)
}

func TestNewKafkaProducerRequiresBrokers(t *testing.T) {
	_, err := sink.NewKafkaProducer(sink.Config{})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrSinkInit))
}
