// Package sink forwards telemetry events from the broadcaster to Kafka.
package sink

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/telemetryd/internal/broadcast"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	DefaultTopic = "telemetry"

	flushTimeout = 5 * time.Second
)

// Producer is the part of *kgo.Client the sink uses.
type Producer interface {
	TryProduce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

// Source hands out broadcast subscriptions.
type Source interface {
	Subscribe() *broadcast.Subscription
	Unsubscribe(sub *broadcast.Subscription)
}

type Config struct {
	Brokers []string
	Topic   string
}

// NewKafkaProducer creates a franz-go client producing to cfg.Topic.
func NewKafkaProducer(cfg Config) (*kgo.Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New().WithMessage(errors.ErrSinkInit, "no kafka brokers configured")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ClientID("telemetryd"),
		kgo.ProducerLinger(20*time.Millisecond),
	)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrSinkInit, err)
	}
	return client, nil
}

// Kafka subscribes to the broadcaster like any other subscriber and
// produces each telemetryData event. Produce never waits for buffer
// space; a full buffer fails the record instead.
type Kafka struct {
	producer Producer
	topic    string
	log      logger.Logger

	produced atomic.Uint64
	failed   atomic.Uint64
}

func NewKafka(producer Producer, topic string, log logger.Logger) *Kafka {
	if topic == "" {
		topic = DefaultTopic
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Kafka{producer: producer, topic: topic, log: log}
}

// Run forwards events until ctx is done or the subscription is removed,
// then flushes outstanding records and closes the producer.
func (k *Kafka) Run(ctx context.Context, src Source) error {
	sub := src.Subscribe()
	defer src.Unsubscribe(sub)
	defer k.shutdown()

	k.log.Info().Str("topic", k.topic).Msg("Kafka sink started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
			return nil
		case frame := <-sub.Frames():
			if frame.Event != broadcast.EventTelemetryData {
				continue
			}
			k.forward(ctx, frame.Data)
		}
	}
}

func (k *Kafka) forward(ctx context.Context, data any) {
	value, err := json.Marshal(data)
	if err != nil {
		k.failed.Add(1)
		k.log.ErrorWithCode(errors.New().Wrap(errors.ErrEncodeFailed, err)).Msg("Failed to encode event for Kafka")
		return
	}

	rec := &kgo.Record{Topic: k.topic, Value: value}
	if ev, ok := data.(telemetry.Event); ok {
		rec.Key = []byte(ev.Source)
		rec.Timestamp = ev.Timestamp
	}

	k.producer.TryProduce(ctx, rec, k.promise)
}

func (k *Kafka) promise(_ *kgo.Record, err error) {
	if err != nil {
		k.failed.Add(1)
		k.log.ErrorWithCode(errors.New().Wrap(errors.ErrSinkProduce, err)).Msg("Kafka produce failed")
		return
	}
	k.produced.Add(1)
}

func (k *Kafka) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := k.producer.Flush(ctx); err != nil {
		k.log.Warn().Err(err).Msg("Kafka flush incomplete")
	}
	k.producer.Close()
	k.log.Info().
		Uint64("produced", k.produced.Load()).
		Uint64("failed", k.failed.Load()).
		Msg("Kafka sink stopped")
}

// Produced counts records acknowledged by the brokers.
func (k *Kafka) Produced() uint64 { return k.produced.Load() }

// Failed counts records that could not be encoded or produced.
func (k *Kafka) Failed() uint64 { return k.failed.Load() }
