package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/telemetryd/internal/client"
	"codeberg.org/mutker/telemetryd/internal/config"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/telemetry"
	"github.com/spf13/pflag"
)

const reconnectDelay = 2 * time.Second

var cfg *config.DashConfig

func init() {
	var err error
	cfg, err = config.LoadDash(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Printf("failed to parse log level: %v\n", err)
		os.Exit(1)
	}
	logger.Init(level, logger.IsService())
}

// logRenderer prints batches and status frames through the logger.
type logRenderer struct {
	log logger.Logger
}

func (r *logRenderer) RenderBatch(batch []telemetry.Event, stats client.Stats) {
	last := batch[len(batch)-1]
	r.log.Info().
		Int("batch", len(batch)).
		Uint64("seq", last.SequenceID).
		Float64("altitude", last.Altitude).
		Float64("heading", last.Heading).
		Float64("battery", last.BatteryPercentage).
		Float64("latency_ms", last.ProcessingLatency).
		Int("queued", stats.QueueLength).
		Uint64("overflow_dropped", stats.OverflowDropped).
		Uint64("batch_discarded", stats.BatchDiscarded).
		Msg("Telemetry")
}

func (r *logRenderer) RenderStatus(event string, data json.RawMessage) {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	r.log.Debug().Str("event", event).RawJSON("data", data).Msg("Status")
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	renderer := &logRenderer{log: logger.Component("render")}
	consumer := client.NewConsumer(renderer, client.WithConsumerLogger(logger.Component("consumer")))
	go consumer.Run(ctx)

	stream := client.NewStream(cfg.URL, consumer, renderer, logger.Component("stream"))
	for {
		if err := stream.Run(ctx); err != nil {
			logger.ErrorWithCode(err).Msg("Stream disconnected")
		}

		select {
		case <-ctx.Done():
			stats := consumer.Stats()
			logger.Info().
				Uint64("rendered", stats.Rendered).
				Uint64("overflow_dropped", stats.OverflowDropped).
				Uint64("batch_discarded", stats.BatchDiscarded).
				Msg("Exiting...")
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
