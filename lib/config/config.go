// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar is the environment variable naming the config file. A
// --config flag value takes precedence over it.
const EnvVar = "RUNLOG_CONFIG"

// Service is the record service configuration.
type Service struct {
	// LogPath is the log path the service owns. The data file is
	// LogPath + ".log", the index file LogPath + ".idx".
	LogPath string `yaml:"log_path"`

	// SocketPath is the Unix socket to listen on. Empty disables the
	// Unix listener.
	SocketPath string `yaml:"socket_path"`

	// ListenAddr is the TCP address to listen on ("host:port"). Empty
	// disables the TCP listener. At least one of SocketPath and
	// ListenAddr must be set.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel sets slog verbosity: debug, info, warn, or error.
	// Default: info.
	LogLevel string `yaml:"log_level"`

	// ShutdownGrace bounds how long the service waits for active
	// connections to drain on shutdown. Default: 10s.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// Load reads the service configuration from flagPath if non-empty,
// otherwise from the RUNLOG_CONFIG environment variable. The loaded
// config is variable-expanded, defaulted, and validated.
func Load(flagPath string) (*Service, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return nil, fmt.Errorf("no config file: set %s or pass --config", EnvVar)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Service{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills unset optional fields.
func (c *Service) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = 10 * time.Second
	}
}

// expandVariables expands ${VAR} patterns in path values.
func (c *Service) expandVariables() {
	c.LogPath = expandVars(c.LogPath)
	c.SocketPath = expandVars(c.SocketPath)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

// Validate checks the configuration for errors.
func (c *Service) Validate() error {
	var errs []error

	if c.LogPath == "" {
		errs = append(errs, errors.New("log_path is required"))
	}
	if c.SocketPath == "" && c.ListenAddr == "" {
		errs = append(errs, errors.New("at least one of socket_path and listen_addr is required"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log_level %q (debug, info, warn, error)", c.LogLevel))
	}
	if c.ShutdownGrace < 0 {
		errs = append(errs, fmt.Errorf("shutdown_grace must not be negative, got %v", c.ShutdownGrace))
	}

	return errors.Join(errs...)
}
