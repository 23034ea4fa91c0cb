package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Scheduler SchedulerConfig
	Rerun     RerunConfig
	Sequencer SequencerConfig
	Terminal  TerminalConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"7420"`
	Host string `envconfig:"HOST" default:"127.0.0.1"`
}

// StorageConfig locates persisted state. An empty DataDir resolves to the
// user config dir.
type StorageConfig struct {
	DataDir string `envconfig:"TERMSTACK_DATA_DIR"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// SchedulerConfig tunes health-check polling at stack startup.
type SchedulerConfig struct {
	Interval time.Duration `envconfig:"SCHED_INTERVAL" default:"1s"`
	Limit    int           `envconfig:"SCHED_LIMIT" default:"240"`
}

// RerunConfig bounds automatic restarts.
type RerunConfig struct {
	Backoff    time.Duration `envconfig:"RERUN_BACKOFF" default:"1s"`
	MinUptime  time.Duration `envconfig:"RERUN_MIN_UPTIME" default:"5s"`
	MaxCrashes int           `envconfig:"RERUN_MAX_CRASHES" default:"5"`
	Cooldown   time.Duration `envconfig:"RERUN_COOLDOWN" default:"30s"`
}

// SequencerConfig tunes prompt replay.
type SequencerConfig struct {
	ReplyDelay time.Duration `envconfig:"SEQ_REPLY_DELAY" default:"600ms"`
}

// TerminalConfig holds the initial terminal size.
type TerminalConfig struct {
	Cols int `envconfig:"TERM_COLS" default:"80"`
	Rows int `envconfig:"TERM_ROWS" default:"24"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "7420",
			Host: "127.0.0.1",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Scheduler: SchedulerConfig{
			Interval: time.Second,
			Limit:    240,
		},
		Rerun: RerunConfig{
			Backoff:    time.Second,
			MinUptime:  5 * time.Second,
			MaxCrashes: 5,
			Cooldown:   30 * time.Second,
		},
		Sequencer: SequencerConfig{
			ReplyDelay: 600 * time.Millisecond,
		},
		Terminal: TerminalConfig{
			Cols: 80,
			Rows: 24,
		},
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// DataDir returns the configured data dir, falling back to
// <user config dir>/termstack.
func (c *Config) DataDir() (string, error) {
	if c.Storage.DataDir != "" {
		return c.Storage.DataDir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve data dir: %w", err)
	}
	return filepath.Join(base, "termstack"), nil
}
