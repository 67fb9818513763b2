// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from the given path.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Parse HJSON to intermediate map
	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	// Convert to JSON and unmarshal to struct (for type safety)
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config with default values applied.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	cfg, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

// Default returns a config with all defaults applied, used when no config
// file exists on disk.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// FindConfig searches for a config file in the current directory and the
// state directory. Returns empty string (not an error) when none exists;
// the daemon then runs on defaults.
func (l *Loader) FindConfig() string {
	candidates := []string{
		"burrow.hjson",
		"burrow.json",
		filepath.Join(defaultStateDir(), "burrow.hjson"),
	}

	for _, name := range candidates {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 4411
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}

	// State defaults
	if cfg.State.Dir == "" {
		cfg.State.Dir = defaultStateDir()
	}

	// Worktree defaults
	if cfg.Worktree.BaseDir == "" {
		cfg.Worktree.BaseDir = filepath.Join(cfg.State.Dir, "worktrees")
	}

	// Container defaults
	if cfg.Container.Image == "" {
		cfg.Container.Image = "burrow-env:latest"
	}
	if cfg.Container.CPUs == 0 {
		cfg.Container.CPUs = 2
	}
	if cfg.Container.MemoryMB == 0 {
		cfg.Container.MemoryMB = 4096
	}
	if cfg.Container.StopGraceSeconds == 0 {
		cfg.Container.StopGraceSeconds = 10
	}

	// Supervisor defaults
	if cfg.Supervisor.HealthInterval == "" {
		cfg.Supervisor.HealthInterval = "200ms"
	}
	if cfg.Supervisor.HealthMaxAttempts == 0 {
		cfg.Supervisor.HealthMaxAttempts = 75
	}
	if cfg.Supervisor.PortRangeStart == 0 {
		cfg.Supervisor.PortRangeStart = 14096
	}
	if cfg.Supervisor.PortRangeEnd == 0 {
		cfg.Supervisor.PortRangeEnd = 15096
	}
	if len(cfg.Supervisor.AgentCommand) == 0 {
		cfg.Supervisor.AgentCommand = []string{"burrow-agent", "serve", "--port", "{port}"}
	}
	if len(cfg.Supervisor.BridgeCommand) == 0 {
		cfg.Supervisor.BridgeCommand = []string{"burrow-bridge", "serve", "--port", "{port}"}
	}

	// Events defaults
	if cfg.Events.History.MaxEvents == 0 {
		cfg.Events.History.MaxEvents = 10000
	}
	if cfg.Events.History.MaxAge == "" {
		cfg.Events.History.MaxAge = "1h"
	}
}
