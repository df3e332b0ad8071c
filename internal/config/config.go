// Package config provides 12-factor configuration management for the
// tabminal core.
//
// Configuration is loaded from environment variables with sensible
// defaults; nothing in this package reads a config file or CLI flag — that
// belongs to whatever outer binary embeds the core.
//
// Configuration sections:
//   - Server: listen address for the REST+WebSocket transport.
//   - Session: default terminal geometry, history limit, execution cap.
//   - Prober: foreground-process probing interval.
//   - Logging: log level and output format.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full set of environment-tunable knobs for the core.
type Config struct {
	Server  ServerConfig
	Session SessionConfig
	Prober  ProberConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":7681"`
}

type SessionConfig struct {
	DefaultCols     int           `envconfig:"DEFAULT_COLS" default:"80"`
	DefaultRows     int           `envconfig:"DEFAULT_ROWS" default:"24"`
	HistoryLimit    int           `envconfig:"HISTORY_LIMIT" default:"1048576"`
	MaxExecutions   int           `envconfig:"MAX_EXECUTIONS" default:"100"`
	ClientQueueSize int           `envconfig:"CLIENT_QUEUE_SIZE" default:"256"`
	PingInterval    time.Duration `envconfig:"PING_INTERVAL" default:"15s"`
}

type ProberConfig struct {
	Interval time.Duration `envconfig:"PROBER_INTERVAL" default:"2s"`
}

type LoggingConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Default returns the zero-environment configuration: every field at its
// documented default.
func Default() *Config {
	// Kept in step with the `default` struct tags above; the environment
	// is not consulted here.
	return &Config{
		Server: ServerConfig{ListenAddr: ":7681"},
		Session: SessionConfig{
			DefaultCols:     80,
			DefaultRows:     24,
			HistoryLimit:    1048576,
			MaxExecutions:   100,
			ClientQueueSize: 256,
			PingInterval:    15 * time.Second,
		},
		Prober:  ProberConfig{Interval: 2 * time.Second},
		Logging: LoggingConfig{Level: "info", Development: false},
	}
}

// Load reads Config from the environment, falling back to the defaults
// above for anything unset.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault reads Config from the environment and falls back to
// Default() if loading fails for any reason (e.g. a malformed duration).
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}
