// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the check-in
// service.
//
// Configuration is loaded from a single YAML file specified by:
//   - CHECKIN_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. The config file is
// the single source of truth; environment variables never override
// file values.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/checkin/lib/ref"
)

// Config is the master configuration for the check-in service.
type Config struct {
	// Matrix configures the homeserver connection.
	Matrix MatrixConfig `yaml:"matrix"`

	// Storage configures state persistence.
	Storage StorageConfig `yaml:"storage"`

	// Scheduler configures the daily posting loop.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Admin configures the operator socket.
	Admin AdminConfig `yaml:"admin"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// MatrixConfig configures the homeserver connection.
type MatrixConfig struct {
	// HomeserverURL is the base URL of the homeserver, e.g.
	// https://matrix.example.org.
	HomeserverURL string `yaml:"homeserver_url"`

	// UserID is the service's full Matrix user ID.
	UserID string `yaml:"user_id"`

	// TokenFile is the path to a file holding the access token. A
	// file rather than an inline value so the config can be committed
	// without the credential.
	TokenFile string `yaml:"token_file"`
}

// StorageConfig configures state persistence.
type StorageConfig struct {
	// StatePath is where the state snapshot is written. A .zst suffix
	// enables compression.
	StatePath string `yaml:"state_path"`
}

// SchedulerConfig configures the daily posting loop.
type SchedulerConfig struct {
	// TickInterval is the sweep resolution as a Go duration string.
	// Default: 1m.
	TickInterval string `yaml:"tick_interval"`
}

// AdminConfig configures the operator socket.
type AdminConfig struct {
	// SocketPath is the Unix socket the admin CLI connects to.
	SocketPath string `yaml:"socket_path"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Default: info.
	Level string `yaml:"level"`
}

// Default returns the default configuration, used as the base before
// the config file is merged in. The Matrix section has no defaults;
// it must come from the file.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			StatePath: "/var/lib/checkin/state.json.zst",
		},
		Scheduler: SchedulerConfig{
			TickInterval: "1m",
		},
		Admin: AdminConfig{
			SocketPath: "/run/checkin/admin.sock",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the path in the CHECKIN_CONFIG
// environment variable. Fails if the variable is not set.
func Load() (*Config, error) {
	path := os.Getenv("CHECKIN_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("CHECKIN_CONFIG environment variable not set; " +
			"set it to the path of your checkin.yaml config file, or use --config flag")
	}
	return LoadFile(path)
}

// LoadFile loads and validates configuration from a specific file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that every required field is present and
// well-formed.
func (c *Config) Validate() error {
	parsed, err := url.Parse(c.Matrix.HomeserverURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("matrix.homeserver_url %q is not a valid URL", c.Matrix.HomeserverURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("matrix.homeserver_url scheme must be http or https, got %q", parsed.Scheme)
	}
	if _, err := ref.ParseUserID(c.Matrix.UserID); err != nil {
		return fmt.Errorf("matrix.user_id: %w", err)
	}
	if c.Matrix.TokenFile == "" {
		return fmt.Errorf("matrix.token_file is required")
	}
	if c.Storage.StatePath == "" {
		return fmt.Errorf("storage.state_path is required")
	}
	if interval, err := c.TickInterval(); err != nil {
		return err
	} else if interval < time.Second {
		return fmt.Errorf("scheduler.tick_interval %s is below the 1s minimum", interval)
	}
	if c.Admin.SocketPath == "" {
		return fmt.Errorf("admin.socket_path is required")
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// TickInterval parses the scheduler tick interval.
func (c *Config) TickInterval() (time.Duration, error) {
	interval, err := time.ParseDuration(c.Scheduler.TickInterval)
	if err != nil {
		return 0, fmt.Errorf("scheduler.tick_interval: %w", err)
	}
	return interval, nil
}

// LogLevel parses the configured log level name.
func (c *Config) LogLevel() (slog.Level, error) {
	switch c.Logging.Level {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
}
