package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"codeberg.org/mutker/telemetryd/internal/config"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/metrics"
	"codeberg.org/mutker/telemetryd/internal/pid"
	"codeberg.org/mutker/telemetryd/internal/pipeline"
	"codeberg.org/mutker/telemetryd/internal/server"
	"codeberg.org/mutker/telemetryd/internal/sink"
	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load(os.Args[1:])
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
	logger.Debug().Msg("Config loaded")

	if level != logger.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
}

func main() {
	if err := pid.Write(cfg.PIDFile); err != nil {
		logger.FatalWithCode(err).Str("pid_file", cfg.PIDFile).Msg("Failed to write PID file")
	}
	defer func() {
		if err := pid.Remove(cfg.PIDFile); err != nil {
			logger.ErrorWithCode(err).Msg("Failed to remove PID file")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := run(ctx, cancel); err != nil {
		logger.ErrorWithCode(err).Msg("Error in main loop")
	}
	logger.Info().Msg("Exiting...")
}

func run(ctx context.Context, cancel context.CancelFunc) error {
	recorder, err := metrics.NewRecorder(cfg.Metrics.History, logger.Component("metrics"))
	if err != nil {
		return err
	}

	p, err := pipeline.Open(cfg.Pipeline(),
		pipeline.WithLogger(logger.Component("pipeline")),
		pipeline.WithRecorder(recorder),
	)
	if err != nil {
		_ = recorder.Close()
		if errors.HasCode(err, errors.ErrBindFailed) {
			logger.FatalWithCode(err).Str("address", cfg.UDP.Address).Msg("Failed to bind telemetry listener")
		}
		return err
	}

	srv, err := server.NewServer(p,
		server.WithAddress(cfg.HTTP.Address),
		server.WithLogger(logger.Component("http")),
	)
	if err != nil {
		p.Close()
		return err
	}

	var wg sync.WaitGroup
	errs := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(ctx); err != nil {
			errs <- err
			cancel()
		}
	}()

	if cfg.Kafka.Enabled {
		producer, err := sink.NewKafkaProducer(sink.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			logger.ErrorWithCode(err).Msg("Kafka sink disabled")
		} else {
			k := sink.NewKafka(producer, cfg.Kafka.Topic, logger.Component("kafka"))
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := k.Run(ctx, p); err != nil {
					errs <- err
				}
			}()
		}
	}

	err = p.Run(ctx)
	cancel()
	wg.Wait()
	close(errs)

	if err != nil {
		return err
	}
	if e, ok := <-errs; ok {
		return e
	}
	return nil
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
