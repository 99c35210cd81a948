package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "app:\n  env: test\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "keel", cfg.App.Strategy)
	assert.Equal(t, 5*time.Second, cfg.Engine.MonitorInterval)
	assert.Equal(t, time.Second, cfg.Engine.DebounceWindow)
	assert.Equal(t, 24*time.Hour, cfg.Engine.OrderRetention)
	assert.Equal(t, 300*time.Second, cfg.Engine.LimitsTTL)
	assert.Equal(t, 5, cfg.Resilience.BreakerThreshold)
	assert.Equal(t, 10.0, cfg.Resilience.RateLimitPerSecond)
	assert.Equal(t, "data/keel.db", cfg.Store.Path)
	assert.Equal(t, ":8080", cfg.HTTP.Listen)
}

func TestLoadParsesDurationsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
app:
  log_level: debug
engine:
  monitor_interval: 2s
  debounce_window: 500ms
  order_retention: 48h
resilience:
  breaker_threshold: 7
  rate_limit_per_second: 25
http:
  enabled: true
  listen: ":9090"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.Engine.MonitorInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.DebounceWindow)
	assert.Equal(t, 48*time.Hour, cfg.Engine.OrderRetention)
	assert.Equal(t, 7, cfg.Resilience.BreakerThreshold)
	assert.Equal(t, 25.0, cfg.Resilience.RateLimitPerSecond)
	assert.True(t, cfg.HTTP.Enabled)
	assert.Equal(t, ":9090", cfg.HTTP.Listen)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"monitor interval too short", "engine:\n  monitor_interval: 100ms\n"},
		{"debounce window too short", "engine:\n  debounce_window: 10ms\n"},
		{"retention too short", "engine:\n  order_retention: 5m\n"},
		{"rate limit over venue budget", "resilience:\n  rate_limit_per_second: 500\n"},
		{"unknown log level", "app:\n  log_level: chatty\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
	_, err = Load("")
	assert.Error(t, err)
}
