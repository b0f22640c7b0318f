package metrics

import (
	"time"

	"codeberg.org/mutker/telemetryd/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm       = 0o755
	defaultDBPath        = "/var/lib/telemetryd/metrics.db"
	defaultBatchSize     = 10
	defaultFlushInterval = 30 * time.Second
)

// HistoryConfig controls the optional metrics-history recorder.
type HistoryConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	DBPath        string        `mapstructure:"db_path"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		DBPath:        defaultDBPath,
		BatchSize:     defaultBatchSize,
		FlushInterval: defaultFlushInterval,
		Enabled:       false, // Disabled by default
	}
}

func (c HistoryConfig) Validate() error {
	errFactory := errors.New()

	// Only validate storage settings if history is enabled
	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize <= 0 {
		return errFactory.WithData(ErrInvalidConfig, "batch size must be positive")
	}
	if c.FlushInterval <= 0 {
		return errFactory.WithData(ErrInvalidConfig, "flush interval must be positive")
	}
	return nil
}
