package config

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/notify-go/adapters/memory"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendNATS, cfg.Backend)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "notify_states", cfg.NATS.Bucket)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("NOTIFY_BACKEND", "memory")
	t.Setenv("NOTIFY_NATS_URL", "nats://example:4222")
	t.Setenv("NOTIFY_NATS_MEMORY", "true")
	t.Setenv("NOTIFY_MEMORY_MAX_PENDING", "64")
	t.Setenv("NOTIFY_LOG_LEVEL", "debug")
	t.Setenv("NOTIFY_METRICS_ADDR", ":9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, "nats://example:4222", cfg.NATS.URL)
	assert.True(t, cfg.NATS.Memory)
	assert.Equal(t, 64, cfg.Memory.MaxPending)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("backend", func(t *testing.T) {
		t.Setenv("NOTIFY_BACKEND", "etcd")
		_, err := Load()
		require.Error(t, err)
	})
	t.Run("level", func(t *testing.T) {
		t.Setenv("NOTIFY_LOG_LEVEL", "loud")
		_, err := Load()
		require.Error(t, err)
	})
	t.Run("max pending", func(t *testing.T) {
		t.Setenv("NOTIFY_MEMORY_MAX_PENDING", "-1")
		_, err := Load()
		require.Error(t, err)
	})
}

func TestConfig_Logger(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "warn", Format: "json"}}
	var buf bytes.Buffer
	log := cfg.Logger(&buf)

	log.Info("hidden")
	log.Warn("shown", slog.Int("n", 1))
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestConfig_OpenChannel_Memory(t *testing.T) {
	cfg := &Config{Backend: BackendMemory}
	ch, err := cfg.OpenChannel(slog.Default())
	require.NoError(t, err)
	defer ch.Close()
	assert.IsType(t, &memory.Channel{}, ch)
}
