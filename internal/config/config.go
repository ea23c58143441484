// Package config loads the settings shared by the binaries from the
// environment.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/notify-go/adapters/memory"
	"github.com/codewandler/notify-go/adapters/nats"
	"github.com/codewandler/notify-go/ports/channel"
)

const Prefix = "NOTIFY"

const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
)

type Config struct {
	Backend string `envconfig:"BACKEND" default:"nats"`
	NATS    NATSConfig
	Memory  MemoryConfig
	Log     LogConfig
	Metrics MetricsConfig
}

type NATSConfig struct {
	URL    string `envconfig:"URL" default:"nats://localhost:4222"`
	Bucket string `envconfig:"BUCKET" default:"notify_states"`
	// Memory keeps the bucket in server memory instead of on disk.
	Memory bool `envconfig:"MEMORY" default:"false"`
}

type MemoryConfig struct {
	// MaxPending bounds queued notifications per registration; 0 is unbounded.
	MaxPending int `envconfig:"MAX_PENDING" default:"0"`
}

type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"text"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `envconfig:"ADDR"`
}

// Load reads NOTIFY_BACKEND, NOTIFY_NATS_URL, NOTIFY_NATS_BUCKET,
// NOTIFY_NATS_MEMORY, NOTIFY_MEMORY_MAX_PENDING, NOTIFY_LOG_LEVEL,
// NOTIFY_LOG_FORMAT and NOTIFY_METRICS_ADDR.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendNATS:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Memory.MaxPending < 0 {
		return fmt.Errorf("memory max pending must not be negative, got %d", c.Memory.MaxPending)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// OpenChannel connects the configured backend.
func (c *Config) OpenChannel(log *slog.Logger) (channel.Channel, error) {
	switch c.Backend {
	case BackendMemory:
		return memory.New(memory.WithLog(log), memory.WithMaxPending(c.Memory.MaxPending)), nil
	case BackendNATS:
		cfg := nats.ChannelConfig{
			Connect: nats.ConnectURL(c.NATS.URL),
			Bucket:  c.NATS.Bucket,
			Log:     log,
		}
		if c.NATS.Memory {
			cfg.Storage = jetstream.MemoryStorage
		}
		return nats.NewChannel(cfg)
	default:
		return nil, fmt.Errorf("unknown backend %q", c.Backend)
	}
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return l, nil
}
