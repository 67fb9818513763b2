// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package env

import (
	"context"
	"errors"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/wingedpig/burrow/internal/container"
	"github.com/wingedpig/burrow/internal/events"
	"github.com/wingedpig/burrow/internal/store"
	"github.com/wingedpig/burrow/internal/supervisor"
)

// Recover re-attaches supervisor handles to PIDs persisted by a previous
// daemon lifetime, then reconciles. Called once at startup.
func (m *Manager) Recover(ctx context.Context) error {
	for _, e := range m.store.Environments.Load() {
		if e.Backend != store.BackendLocal || e.Local == nil {
			continue
		}
		if e.Local.AgentPID > 0 {
			if m.sup.RecoverFromPid(e.ID, supervisor.AgentServer, e.Local.AgentPID) {
				log.Printf("env: recovered agent server of %s (pid %d)", e.ID, e.Local.AgentPID)
			}
		}
		if e.Local.BridgePID > 0 {
			if m.sup.RecoverFromPid(e.ID, supervisor.BridgeServer, e.Local.BridgePID) {
				log.Printf("env: recovered bridge server of %s (pid %d)", e.ID, e.Local.BridgePID)
			}
		}
	}
	return m.Reconcile(ctx)
}

// Reconcile compares each environment's persisted status against the
// backend's observed truth and writes drift back through the store.
// Environments mid-transition (creating, stopping) are left alone.
func (m *Manager) Reconcile(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, e := range m.store.Environments.Load() {
		e := e
		if e.Status == store.EnvStatusCreating || e.Status == store.EnvStatusStopping {
			continue
		}
		g.Go(func() error {
			observed, err := m.observe(ctx, e)
			if err != nil {
				return err
			}
			if observed == e.Status {
				return nil
			}

			log.Printf("env: %s drifted from %s to %s", e.ID, e.Status, observed)
			if _, err := m.store.Environments.Update(e.ID, map[string]interface{}{"status": string(observed)}); err != nil {
				return err
			}
			m.publish(ctx, events.EventEnvironmentDrift, e.ID, map[string]interface{}{
				"from": string(e.Status),
				"to":   string(observed),
			})
			return nil
		})
	}
	return g.Wait()
}

// observe asks the backend what state the environment is actually in.
func (m *Manager) observe(ctx context.Context, e store.Environment) (store.EnvironmentStatus, error) {
	switch e.Backend {
	case store.BackendContainerized:
		if m.containers == nil || e.Container == nil || e.Container.ContainerID == "" {
			return store.EnvStatusStopped, nil
		}
		status, err := m.containers.EnvironmentStatus(ctx, e.Container.ContainerID)
		if errors.Is(err, container.ErrContainerNotFound) {
			// The container vanished underneath us; the record is stale,
			// not the call.
			return store.EnvStatusStopped, nil
		}
		if err != nil {
			return "", err
		}
		return status, nil

	case store.BackendLocal:
		if m.sup.IsRunning(e.ID, supervisor.AgentServer) || m.sup.IsRunning(e.ID, supervisor.BridgeServer) {
			return store.EnvStatusRunning, nil
		}
		return store.EnvStatusStopped, nil

	default:
		return store.EnvStatusError, nil
	}
}
