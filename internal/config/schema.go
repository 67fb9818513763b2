// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading for the Burrow daemon.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration structure for Burrow.
type Config struct {
	Version    string           `json:"version"`
	Server     ServerConfig     `json:"server"`
	State      StateConfig      `json:"state"`
	Worktree   WorktreeConfig   `json:"worktree"`
	Container  ContainerConfig  `json:"container"`
	Supervisor SupervisorConfig `json:"supervisor"`
	Events     EventsConfig     `json:"events"`
}

// ServerConfig configures the HTTP server the desktop UI talks to.
type ServerConfig struct {
	Port int    `json:"port"`
	Host string `json:"host"`
}

// StateConfig configures where persisted documents and session buffers live.
type StateConfig struct {
	Dir string `json:"dir"` // Defaults to ~/.burrow
}

// WorktreeConfig configures worktree provisioning for Local environments.
type WorktreeConfig struct {
	BaseDir string `json:"base_dir"` // Directory where worktrees are created (defaults to <state dir>/worktrees)
}

// ContainerConfig configures the container backend.
type ContainerConfig struct {
	Image            string   `json:"image"`             // Image used for new environments
	CPUs             float64  `json:"cpus"`              // CPU limit per container
	MemoryMB         int64    `json:"memory_mb"`         // Memory limit per container
	CredentialMounts []string `json:"credential_mounts"` // Host directories bind-mounted read-only (e.g. ~/.claude)
	StopGraceSeconds int      `json:"stop_grace_seconds"`
}

// SupervisorConfig configures native server supervision.
type SupervisorConfig struct {
	HealthInterval    string `json:"health_interval"`     // Poll interval for the health endpoint
	HealthMaxAttempts int    `json:"health_max_attempts"` // Attempts before the start flow gives up
	PortRangeStart    int    `json:"port_range_start"`
	PortRangeEnd      int    `json:"port_range_end"`

	// Command lines for the two native servers. The literal "{port}" in any
	// argument is replaced with the allocated port.
	AgentCommand  []string `json:"agent_command"`
	BridgeCommand []string `json:"bridge_command"`
}

// EventsConfig configures the event system.
type EventsConfig struct {
	History EventHistoryConfig `json:"history"`
}

// EventHistoryConfig configures event history retention.
type EventHistoryConfig struct {
	MaxEvents int    `json:"max_events"`
	MaxAge    string `json:"max_age"`
}

// HealthIntervalDuration returns the health poll interval as a duration.
func (c SupervisorConfig) HealthIntervalDuration() time.Duration {
	return ParseDuration(c.HealthInterval, 200*time.Millisecond)
}

// ParseDuration parses a duration string, returning def on empty or invalid input.
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".burrow"
	}
	return filepath.Join(home, ".burrow")
}
