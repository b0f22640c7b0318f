package server

import (
	"time"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
)

const (
	DefaultAddress = ":8080"

	defaultPingInterval    = 30 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

type serverConfig struct {
	Address         string
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Logger          logger.Logger
}

type ConfigOption func(*serverConfig) error

func WithAddress(address string) ConfigOption {
	return func(c *serverConfig) error {
		if address == "" {
			return errors.New().WithMessage(errors.ErrInvalidAddress, "http address must not be empty")
		}
		c.Address = address
		return nil
	}
}

// WithPingInterval sets how often idle stream connections are pinged.
// A peer that misses two pings is dropped.
func WithPingInterval(d time.Duration) ConfigOption {
	return func(c *serverConfig) error {
		if d <= 0 {
			return errors.New().WithData(errors.ErrInvalidInterval, d.String())
		}
		c.PingInterval = d
		return nil
	}
}

func WithLogger(log logger.Logger) ConfigOption {
	return func(c *serverConfig) error {
		c.Logger = log
		return nil
	}
}
