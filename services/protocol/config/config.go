// Copyright (C) 2025 Crucible Labs (oss@crucible-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the crucible server configuration from
// a YAML file, with an optional live-reload watch.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Blocking BlockingConfig `yaml:"blocking"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP API surface.
type ServerConfig struct {
	// Host is the listen address.
	Host string `yaml:"host"`

	// Port is the listen port.
	Port int `yaml:"port" validate:"min=1,max=65535"`

	// RateLimitRPS caps API requests per second per server.
	RateLimitRPS float64 `yaml:"rate_limit_rps" validate:"gt=0"`

	// RateLimitBurst is the rate limiter's burst budget.
	RateLimitBurst int `yaml:"rate_limit_burst" validate:"min=1"`
}

// SessionConfig configures session identity and persistence.
type SessionConfig struct {
	// ID is the workflow instance identifier.
	ID string `yaml:"id" validate:"required"`

	// Project names the ledger's project. Defaults to ID.
	Project string `yaml:"project"`

	// DataDir holds the ledger and snapshot files. Supports ~ expansion.
	// Empty uses ~/.crucible/sessions.
	DataDir string `yaml:"data_dir"`

	// TickIntervalMs is how often the serve loop polls blocking timeouts.
	TickIntervalMs int `yaml:"tick_interval_ms" validate:"min=100"`
}

// BlockingConfig configures timeout handling.
type BlockingConfig struct {
	// TimeoutStrategy is escalate, default or fail.
	TimeoutStrategy string `yaml:"timeout_strategy" validate:"oneof=escalate default fail"`

	// DefaultResponse is the answer applied by the default strategy.
	DefaultResponse string `yaml:"default_response"`

	// DefaultTimeoutMs is the timeout applied to blocking queries created
	// without one. Zero disables the implicit timeout.
	DefaultTimeoutMs int64 `yaml:"default_timeout_ms" validate:"min=0"`
}

// LoggingConfig configures the logging layer.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Dir enables file logging when set. Supports ~ expansion.
	Dir string `yaml:"dir"`

	// JSON switches stderr output to JSON.
	JSON bool `yaml:"json"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8750,
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		Session: SessionConfig{
			ID:             "default",
			TickIntervalMs: 1000,
		},
		Blocking: BlockingConfig{
			TimeoutStrategy: "escalate",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

var validate = validator.New()

// Validate checks field constraints plus cross-field consistency.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if c.Blocking.TimeoutStrategy == "default" && c.Blocking.DefaultResponse == "" {
		return fmt.Errorf("config validation: blocking.default_response is required when timeout_strategy is default")
	}
	return nil
}

// DefaultPath returns the standard config file location
// (~/.crucible/crucible.yaml).
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".crucible", "crucible.yaml"), nil
}

// Load reads the config at path, creating it with defaults on first run.
//
// # Description
//
// Values are layered defaults-first, so a partial file only overrides what it
// names. The merged result is validated before being returned.
//
// # Inputs
//
//   - path: Config file location. Empty uses DefaultPath. Supports ~ expansion.
//
// # Outputs
//
//   - Config: The merged, validated configuration.
//   - error: Non-nil on read, parse or validation failure.
func Load(path string) (Config, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return Config{}, err
		}
	}
	path = expandPath(path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefault(path); err != nil {
			return Config{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	if cfg.Session.Project == "" {
		cfg.Session.Project = cfg.Session.ID
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// writeDefault creates the config file with default values.
func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	defaults := Default()
	data, err := yaml.Marshal(defaults)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

// Watch reloads the config whenever the file changes and hands valid reloads
// to onChange. Invalid or unreadable versions are skipped; the previous
// config stays in effect. Blocks until ctx is done.
//
// # Inputs
//
//   - ctx: Cancels the watch.
//   - path: The config file to watch. Empty uses DefaultPath.
//   - onChange: Called with each successfully reloaded config.
//
// # Outputs
//
//   - error: Non-nil if the watcher cannot be created.
func Watch(ctx context.Context, path string, onChange func(Config)) error {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return err
		}
	}
	path = expandPath(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()
	// Watch the directory: editors often replace the file via rename, which
	// would drop a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch config directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				continue
			}
			onChange(cfg)
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
