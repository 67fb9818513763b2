// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "burrow.hjson")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoader_Load(t *testing.T) {
	path := writeConfig(t, `{
		// server settings
		server: {
			port: 5500
			host: "0.0.0.0"
		}
		container: {
			image: "my-env:dev"
			cpus: 4
		}
	}`)

	cfg, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 5500, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "my-env:dev", cfg.Container.Image)
	assert.Equal(t, float64(4), cfg.Container.CPUs)
}

func TestLoader_LoadMissingFile(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), filepath.Join(t.TempDir(), "nope.hjson"))
	assert.Error(t, err)
}

func TestLoader_LoadWithDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := NewLoader().LoadWithDefaults(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 4411, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 14096, cfg.Supervisor.PortRangeStart)
	assert.Equal(t, 15096, cfg.Supervisor.PortRangeEnd)
	assert.Equal(t, 75, cfg.Supervisor.HealthMaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Supervisor.HealthIntervalDuration())
	assert.NotEmpty(t, cfg.State.Dir)
	assert.Equal(t, filepath.Join(cfg.State.Dir, "worktrees"), cfg.Worktree.BaseDir)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "burrow-env:latest", cfg.Container.Image)
	assert.Equal(t, 10, cfg.Container.StopGraceSeconds)
	assert.Equal(t, 10000, cfg.Events.History.MaxEvents)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, time.Second, ParseDuration("", time.Second))
	assert.Equal(t, time.Second, ParseDuration("bogus", time.Second))
	assert.Equal(t, 5*time.Minute, ParseDuration("5m", time.Second))
}
