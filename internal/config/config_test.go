package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":7681", cfg.Server.ListenAddr)
	assert.Equal(t, 80, cfg.Session.DefaultCols)
	assert.Equal(t, 24, cfg.Session.DefaultRows)
	assert.Equal(t, 1048576, cfg.Session.HistoryLimit)
	assert.Equal(t, 100, cfg.Session.MaxExecutions)
	assert.Equal(t, 15*time.Second, cfg.Session.PingInterval)
	assert.Equal(t, 2*time.Second, cfg.Prober.Interval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)
}

func TestLoadOrDefault_NoEnv(t *testing.T) {
	cfg := LoadOrDefault()
	assert.NotNil(t, cfg)
	assert.Equal(t, ":7681", cfg.Server.ListenAddr)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"LISTEN_ADDR":       "0.0.0.0:9000",
		"DEFAULT_COLS":      "120",
		"DEFAULT_ROWS":      "40",
		"HISTORY_LIMIT":     "2048",
		"MAX_EXECUTIONS":    "50",
		"CLIENT_QUEUE_SIZE": "64",
		"PING_INTERVAL":     "30s",
		"PROBER_INTERVAL":   "5s",
		"LOG_LEVEL":         "debug",
		"LOG_DEV":           "true",
	}
	for k, v := range envVars {
		require.NoError(t, os.Setenv(k, v))
		defer os.Unsetenv(k)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.ListenAddr)
	assert.Equal(t, 120, cfg.Session.DefaultCols)
	assert.Equal(t, 40, cfg.Session.DefaultRows)
	assert.Equal(t, 2048, cfg.Session.HistoryLimit)
	assert.Equal(t, 50, cfg.Session.MaxExecutions)
	assert.Equal(t, 64, cfg.Session.ClientQueueSize)
	assert.Equal(t, 30*time.Second, cfg.Session.PingInterval)
	assert.Equal(t, 5*time.Second, cfg.Prober.Interval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
}

func TestLoadWithPartialEnvironmentVariables(t *testing.T) {
	require.NoError(t, os.Setenv("LOG_LEVEL", "warn"))
	defer os.Unsetenv("LOG_LEVEL")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, ":7681", cfg.Server.ListenAddr)
	assert.Equal(t, 80, cfg.Session.DefaultCols)
}

func TestLoadOrDefault_FallsBackOnMalformedValue(t *testing.T) {
	require.NoError(t, os.Setenv("DEFAULT_COLS", "not-a-number"))
	defer os.Unsetenv("DEFAULT_COLS")

	cfg := LoadOrDefault()
	assert.Equal(t, 80, cfg.Session.DefaultCols)
}
