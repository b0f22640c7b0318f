// Package config loads daemon and dashboard settings from defaults, a
// TOML file, TELEMETRYD_* environment variables and flags, in rising
// order of precedence.
package config

import (
	"net"
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/generator"
	"codeberg.org/mutker/telemetryd/internal/metrics"
	"codeberg.org/mutker/telemetryd/internal/pipeline"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix      = "TELEMETRYD"
	DefaultUDPAddress     = "0.0.0.0:41234"
	DefaultHTTPAddress    = ":8080"
	DefaultLogLevel       = "info"
	DefaultProfile        = "normal"
	DefaultLivenessWindow = 30 * time.Second
	DefaultStatusInterval = 5 * time.Second
	DefaultKafkaTopic     = "telemetry"
	DefaultPIDFile        = "/run/telemetryd.pid"
	DefaultDashURL        = "ws://localhost:8080/ws"

	configName = "telemetryd"
	configType = "toml"
)

type Config struct {
	UDP       UDPConfig       `mapstructure:"udp"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	LogLevel  string          `mapstructure:"log_level"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Peers     PeersConfig     `mapstructure:"peers"`
	Status    StatusConfig    `mapstructure:"status"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	PIDFile   string          `mapstructure:"pid_file"`
}

type UDPConfig struct {
	Address string `mapstructure:"address"`
}

type HTTPConfig struct {
	Address string `mapstructure:"address"`
}

type GeneratorConfig struct {
	Profile   string `mapstructure:"profile"`
	Target    string `mapstructure:"target"`
	Autostart bool   `mapstructure:"autostart"`
}

type PeersConfig struct {
	LivenessWindow time.Duration `mapstructure:"liveness_window"`
}

type StatusConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type MetricsConfig struct {
	History metrics.HistoryConfig `mapstructure:"history"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// DashConfig configures the dashboard client.
type DashConfig struct {
	URL      string `mapstructure:"url"`
	LogLevel string `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	history := metrics.DefaultHistoryConfig()

	v.SetDefault("udp.address", DefaultUDPAddress)
	v.SetDefault("http.address", DefaultHTTPAddress)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("generator.profile", DefaultProfile)
	v.SetDefault("generator.target", "")
	v.SetDefault("generator.autostart", false)
	v.SetDefault("peers.liveness_window", DefaultLivenessWindow)
	v.SetDefault("status.interval", DefaultStatusInterval)
	v.SetDefault("metrics.history.enabled", history.Enabled)
	v.SetDefault("metrics.history.db_path", history.DBPath)
	v.SetDefault("metrics.history.batch_size", history.BatchSize)
	v.SetDefault("metrics.history.flush_interval", history.FlushInterval)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", DefaultKafkaTopic)
	v.SetDefault("pid_file", DefaultPIDFile)
	v.SetDefault("dash.url", DefaultDashURL)
	v.SetDefault("dash.log_level", DefaultLogLevel)
}

// Load builds the daemon configuration from args (without the program
// name) and the environment, and validates it.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	fs := pflag.NewFlagSet("telemetryd", pflag.ContinueOnError)
	fs.String("config", "", "Path to the configuration file")
	fs.String("udp-address", DefaultUDPAddress, "Datagram listen address")
	fs.String("http-address", DefaultHTTPAddress, "HTTP listen address")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warn, error)")
	fs.String("profile", DefaultProfile, "Initial stress profile")
	fs.String("target", "", "Generator destination (default: the listener)")
	fs.Bool("autostart", false, "Start the traffic generator immediately")
	fs.String("pid-file", DefaultPIDFile, "PID file path")
	fs.Bool("metrics-history", false, "Record periodic metrics snapshots to sqlite")
	fs.Bool("kafka", false, "Forward telemetry events to Kafka")
	fs.StringSlice("kafka-brokers", nil, "Kafka seed brokers")

	v, err := newViper(fs, args, opts, map[string]string{
		"udp.address":             "udp-address",
		"http.address":            "http-address",
		"log_level":               "log-level",
		"generator.profile":       "profile",
		"generator.target":        "target",
		"generator.autostart":     "autostart",
		"pid_file":                "pid-file",
		"metrics.history.enabled": "metrics-history",
		"kafka.enabled":           "kafka",
		"kafka.brokers":           "kafka-brokers",
	})
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadDash builds the dashboard configuration. It reads the [dash]
// table of the same file.
func LoadDash(args []string, opts ...Option) (*DashConfig, error) {
	errFactory := errors.New()

	fs := pflag.NewFlagSet("telemetry-dash", pflag.ContinueOnError)
	fs.String("config", "", "Path to the configuration file")
	fs.String("url", DefaultDashURL, "Daemon stream URL")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warn, error)")

	v, err := newViper(fs, args, opts, map[string]string{
		"dash.url":       "url",
		"dash.log_level": "log-level",
	})
	if err != nil {
		return nil, err
	}

	cfg := DashConfig{
		URL:      v.GetString("dash.url"),
		LogLevel: v.GetString("dash.log_level"),
	}

	if cfg.URL == "" {
		return nil, errFactory.WithMessage(errors.ErrInvalidAddress, "dash url must not be empty")
	}
	if !LogLevel(strings.ToLower(cfg.LogLevel)).IsValid() {
		return nil, errFactory.WithData(errors.ErrInvalidLogLevel, cfg.LogLevel)
	}

	return &cfg, nil
}

func newViper(fs *pflag.FlagSet, args []string, opts []Option, flagKeys map[string]string) (*viper.Viper, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, err
		}
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, name := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	path := o.configPath
	if f := fs.Lookup("config"); f != nil && f.Changed {
		path = f.Value.String()
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(configType)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath("/etc/telemetryd")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	return v, nil
}

// Validate rejects unusable addresses, intervals, log levels and
// profile names.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if err := validateAddress("udp.address", c.UDP.Address); err != nil {
		return err
	}
	if err := validateAddress("http.address", c.HTTP.Address); err != nil {
		return err
	}
	if c.Generator.Target != "" {
		if err := validateAddress("generator.target", c.Generator.Target); err != nil {
			return err
		}
	}

	if !LogLevel(strings.ToLower(c.LogLevel)).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if _, _, err := generator.LookupProfile(c.Generator.Profile); err != nil {
		return err
	}

	if c.Peers.LivenessWindow <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, "peers.liveness_window must be positive")
	}
	if c.Status.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, "status.interval must be positive")
	}

	if err := c.Metrics.History.Validate(); err != nil {
		return errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "kafka.brokers required when kafka is enabled")
	}

	return nil
}

func validateAddress(key, address string) error {
	if address == "" {
		return errors.New().WithData(errors.ErrInvalidAddress, key+" must not be empty")
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		return errors.New().Wrap(errors.ErrInvalidAddress, err).WithMessage("invalid " + key)
	}
	return nil
}

// Pipeline returns the pipeline settings.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		UDPAddress:     c.UDP.Address,
		Profile:        c.Generator.Profile,
		Target:         c.Generator.Target,
		Autostart:      c.Generator.Autostart,
		LivenessWindow: c.Peers.LivenessWindow,
		StatusInterval: c.Status.Interval,
	}
}
