// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package env is the environment-lifecycle orchestrator: it dispatches
// create/start/stop/delete to the worktree provisioner or the container
// backend depending on backend kind, persists every transition through the
// store, and reconciles persisted status against backend truth.
package env

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wingedpig/burrow/internal/config"
	"github.com/wingedpig/burrow/internal/container"
	"github.com/wingedpig/burrow/internal/events"
	"github.com/wingedpig/burrow/internal/ports"
	"github.com/wingedpig/burrow/internal/store"
	"github.com/wingedpig/burrow/internal/supervisor"
	"github.com/wingedpig/burrow/internal/worktree"
)

// ContainerBackend is the slice of the container backend the orchestrator
// drives.
type ContainerBackend interface {
	Create(ctx context.Context, spec container.CreateSpec) (string, error)
	Start(ctx context.Context, containerID string) error
	Stop(ctx context.Context, containerID string) error
	Remove(ctx context.Context, containerID string) error
	EnvironmentStatus(ctx context.Context, containerID string) (store.EnvironmentStatus, error)
	MappedPorts(ctx context.Context, containerID string) (store.PortPair, error)
}

// WorktreeProvisioner is the slice of the worktree provisioner the
// orchestrator drives.
type WorktreeProvisioner interface {
	Create(ctx context.Context, sourceRepo, desiredBranch, projectName string) (worktree.Result, error)
	Delete(ctx context.Context, sourceRepo, worktreePath string) error
	CopyEnvFiles(sourceRepo, worktreePath string)
	RenameBranch(ctx context.Context, worktreePath, oldName, newName string) error
}

// ProcessSupervisor is the slice of the supervisor the orchestrator drives.
type ProcessSupervisor interface {
	StartServer(ctx context.Context, req supervisor.StartRequest) (supervisor.StartResult, error)
	Kill(ctx context.Context, envID string, kind supervisor.ProcessKind) error
	IsRunning(envID string, kind supervisor.ProcessKind) bool
	RecoverFromPid(envID string, kind supervisor.ProcessKind, pid int) bool
	TrackedPID(envID string, kind supervisor.ProcessKind) int
	Tail(envID string, kind supervisor.ProcessKind, n int) []string
}

// Manager orchestrates environment lifecycles across both backends.
type Manager struct {
	store      *store.Dir
	bus        events.EventBus
	alloc      *ports.Allocator
	sup        ProcessSupervisor
	trees      WorktreeProvisioner
	containers ContainerBackend

	cfgMu sync.RWMutex
	cfg   *config.Config
}

// NewManager wires the orchestrator. All collaborators are required except
// containers, which may be nil when no container runtime is reachable; in
// that case Containerized operations fail with a clear error.
func NewManager(st *store.Dir, bus events.EventBus, alloc *ports.Allocator, sup ProcessSupervisor, trees WorktreeProvisioner, containers ContainerBackend, cfg *config.Config) *Manager {
	return &Manager{
		store:      st,
		bus:        bus,
		alloc:      alloc,
		sup:        sup,
		trees:      trees,
		containers: containers,
		cfg:        cfg,
	}
}

// SetConfig swaps in a reloaded daemon config. Settings are read per
// operation, so the next create or start picks up the new values.
func (m *Manager) SetConfig(cfg *config.Config) {
	m.cfgMu.Lock()
	m.cfg = cfg
	m.cfgMu.Unlock()
}

func (m *Manager) config() *config.Config {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

// CreateRequest describes a new environment.
type CreateRequest struct {
	ProjectID string
	Name      string
	Backend   store.BackendKind
}

// Create registers the environment record and provisions its backend
// resource. The environment ends Stopped on success and Error on
// provisioning failure; the record exists either way so failures are
// visible and deletable.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (store.Environment, error) {
	project, err := m.store.Projects.Get(req.ProjectID)
	if err != nil {
		return store.Environment{}, fmt.Errorf("project %s: %w", req.ProjectID, err)
	}
	if req.Name == "" {
		return store.Environment{}, fmt.Errorf("environment name is required")
	}

	envRecord := store.Environment{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		Name:      req.Name,
		Branch:    req.Name,
		Backend:   req.Backend,
		Status:    store.EnvStatusCreating,
		CreatedAt: time.Now().UTC(),
	}
	envRecord, err = m.store.Environments.Add(envRecord)
	if err != nil {
		return store.Environment{}, fmt.Errorf("persist environment: %w", err)
	}

	var patch map[string]interface{}
	switch req.Backend {
	case store.BackendContainerized:
		patch, err = m.provisionContainer(ctx, envRecord, project)
	case store.BackendLocal:
		patch, err = m.provisionWorktree(ctx, envRecord, project)
	default:
		err = fmt.Errorf("unknown backend kind %q", req.Backend)
	}

	if err != nil {
		if _, uerr := m.store.Environments.Update(envRecord.ID, map[string]interface{}{"status": string(store.EnvStatusError)}); uerr != nil {
			log.Printf("env: marking %s as errored failed: %v", envRecord.ID, uerr)
		}
		return store.Environment{}, fmt.Errorf("provision %s environment %q: %w", req.Backend, req.Name, err)
	}

	patch["status"] = string(store.EnvStatusStopped)
	envRecord, err = m.store.Environments.Update(envRecord.ID, patch)
	if err != nil {
		return store.Environment{}, fmt.Errorf("persist provisioning result: %w", err)
	}

	m.publish(ctx, events.EventEnvironmentCreated, envRecord.ID, map[string]interface{}{
		"name":    envRecord.Name,
		"backend": string(envRecord.Backend),
	})
	return envRecord, nil
}

func (m *Manager) provisionContainer(ctx context.Context, envRecord store.Environment, project store.Project) (map[string]interface{}, error) {
	if m.containers == nil {
		return nil, fmt.Errorf("container runtime unavailable")
	}

	cfg := m.config()
	appCfg := m.store.Config.Load()
	image := appCfg.DefaultImage
	if image == "" {
		image = cfg.Container.Image
	}

	spec := container.CreateSpec{
		Name:  containerName(envRecord),
		Image: image,
	}
	for _, dir := range cfg.Container.CredentialMounts {
		spec.Mounts = append(spec.Mounts, container.Mount{Source: dir, Target: dir, ReadOnly: true})
	}
	// Untracked env files don't come along with the branch; mount the
	// project's copies read-only.
	for _, name := range []string{".env", ".env.local"} {
		src := filepath.Join(project.RepoPath, name)
		if _, err := os.Stat(src); err == nil {
			spec.Mounts = append(spec.Mounts, container.Mount{
				Source:   src,
				Target:   filepath.Join(container.WorkDir, name),
				ReadOnly: true,
			})
		}
	}
	for _, port := range appCfg.DeclaredPorts {
		spec.Ports = append(spec.Ports, container.PortBinding{ContainerPort: port, HostPort: port})
	}

	containerID, err := m.containers.Create(ctx, spec)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"containerId": containerID}, nil
}

func (m *Manager) provisionWorktree(ctx context.Context, envRecord store.Environment, project store.Project) (map[string]interface{}, error) {
	res, err := m.trees.Create(ctx, project.RepoPath, envRecord.Branch, project.Name)
	if err != nil {
		return nil, err
	}
	m.trees.CopyEnvFiles(project.RepoPath, res.Path)

	agentPort, bridgePort, err := m.alloc.AllocatePair(m.recordedPorts())
	if err != nil {
		// The worktree exists but the environment cannot run; tear it back
		// down rather than leaving a half-provisioned record.
		if derr := m.trees.Delete(ctx, project.RepoPath, res.Path); derr != nil {
			log.Printf("env: cleanup of %s after port exhaustion failed: %v", res.Path, derr)
		}
		return nil, err
	}

	return map[string]interface{}{
		"worktreePath": res.Path,
		"branch":       res.ActualBranch,
		"agentPort":    agentPort,
		"bridgePort":   bridgePort,
	}, nil
}

// recordedPorts collects every port already persisted on some environment.
func (m *Manager) recordedPorts() map[int]bool {
	taken := make(map[int]bool)
	for _, e := range m.store.Environments.Load() {
		if e.Local != nil && e.Local.Ports != nil {
			taken[e.Local.Ports.AgentPort] = true
			taken[e.Local.Ports.BridgePort] = true
		}
	}
	return taken
}

// Start brings an environment's backend up and moves it to Running.
func (m *Manager) Start(ctx context.Context, id string) (store.Environment, error) {
	envRecord, err := m.store.Environments.Get(id)
	if err != nil {
		return store.Environment{}, err
	}

	var payload map[string]interface{}
	switch envRecord.Backend {
	case store.BackendContainerized:
		if m.containers == nil {
			return store.Environment{}, fmt.Errorf("container runtime unavailable")
		}
		if envRecord.Container == nil || envRecord.Container.ContainerID == "" {
			return store.Environment{}, fmt.Errorf("environment %s has no container", id)
		}
		if err := m.containers.Start(ctx, envRecord.Container.ContainerID); err != nil {
			return store.Environment{}, err
		}
		// The host side of the internal service ports is assigned at start;
		// surface it so the UI can reach the servers.
		if pair, perr := m.containers.MappedPorts(ctx, envRecord.Container.ContainerID); perr == nil {
			payload = map[string]interface{}{"agentPort": pair.AgentPort, "bridgePort": pair.BridgePort}
		} else {
			log.Printf("env: reading mapped ports of %s: %v", id, perr)
		}
	case store.BackendLocal:
		if err := m.startLocalServers(ctx, envRecord); err != nil {
			return store.Environment{}, err
		}
	default:
		return store.Environment{}, fmt.Errorf("unknown backend kind %q", envRecord.Backend)
	}

	envRecord, err = m.store.Environments.Update(id, map[string]interface{}{"status": string(store.EnvStatusRunning)})
	if err != nil {
		return store.Environment{}, err
	}
	m.publish(ctx, events.EventEnvironmentStarted, id, payload)
	return envRecord, nil
}

// startLocalServers runs the health-checked start flow for both native
// servers, persisting port and PID changes as they happen.
func (m *Manager) startLocalServers(ctx context.Context, envRecord store.Environment) error {
	if envRecord.Local == nil || envRecord.Local.WorktreePath == "" {
		return fmt.Errorf("environment %s has no worktree", envRecord.ID)
	}

	type serverDef struct {
		kind    supervisor.ProcessKind
		command []string
		port    int
		pid     int
		portKey string
		pidKey  string
	}

	cfg := m.config()
	local := envRecord.Local
	servers := []serverDef{
		{kind: supervisor.AgentServer, command: cfg.Supervisor.AgentCommand, pid: local.AgentPID, portKey: "agentPort", pidKey: "agentPid"},
		{kind: supervisor.BridgeServer, command: cfg.Supervisor.BridgeCommand, pid: local.BridgePID, portKey: "bridgePort", pidKey: "bridgePid"},
	}
	if local.Ports != nil {
		servers[0].port = local.Ports.AgentPort
		servers[1].port = local.Ports.BridgePort
	}

	for _, srv := range servers {
		srv := srv
		_, err := m.sup.StartServer(ctx, supervisor.StartRequest{
			EnvID: envRecord.ID,
			Kind:  srv.kind,
			Port:  srv.port,
			PID:   srv.pid,
			Spawn: func(port int) supervisor.SpawnSpec {
				return spawnSpec(srv.command, port, local.WorktreePath)
			},
			PersistPort: func(port int) error {
				_, err := m.store.Environments.Update(envRecord.ID, map[string]interface{}{srv.portKey: port})
				return err
			},
			PersistPID: func(pid int) error {
				_, err := m.store.Environments.Update(envRecord.ID, map[string]interface{}{srv.pidKey: pid})
				return err
			},
			Allocator: m.alloc,
			Recorded:  m.recordedPorts,
		})
		if err != nil {
			return fmt.Errorf("start %s server: %w", srv.kind, err)
		}
	}
	return nil
}

// spawnSpec expands a configured command template for a port.
func spawnSpec(command []string, port int, dir string) supervisor.SpawnSpec {
	if len(command) == 0 {
		return supervisor.SpawnSpec{}
	}
	args := make([]string, 0, len(command)-1)
	for _, arg := range command[1:] {
		args = append(args, strings.ReplaceAll(arg, "{port}", fmt.Sprintf("%d", port)))
	}
	return supervisor.SpawnSpec{
		Command: command[0],
		Args:    args,
		Dir:     dir,
		Env:     map[string]string{"PORT": fmt.Sprintf("%d", port)},
	}
}

// Stop takes an environment's backend down and moves it to Stopped.
func (m *Manager) Stop(ctx context.Context, id string) (store.Environment, error) {
	envRecord, err := m.store.Environments.Get(id)
	if err != nil {
		return store.Environment{}, err
	}

	if _, err := m.store.Environments.Update(id, map[string]interface{}{"status": string(store.EnvStatusStopping)}); err != nil {
		return store.Environment{}, err
	}

	switch envRecord.Backend {
	case store.BackendContainerized:
		if m.containers != nil && envRecord.Container != nil && envRecord.Container.ContainerID != "" {
			if err := m.containers.Stop(ctx, envRecord.Container.ContainerID); err != nil {
				log.Printf("env: stopping container of %s: %v", id, err)
			}
		}
	case store.BackendLocal:
		if err := m.sup.Kill(ctx, id, supervisor.AgentServer); err != nil {
			log.Printf("env: killing agent server of %s: %v", id, err)
		}
		if err := m.sup.Kill(ctx, id, supervisor.BridgeServer); err != nil {
			log.Printf("env: killing bridge server of %s: %v", id, err)
		}
	}

	envRecord, err = m.store.Environments.Update(id, map[string]interface{}{"status": string(store.EnvStatusStopped)})
	if err != nil {
		return store.Environment{}, err
	}
	m.publish(ctx, events.EventEnvironmentStopped, id, nil)
	return envRecord, nil
}

// Delete tears an environment down. Every cleanup step is best effort and
// only logged on failure; removing the persisted record is the one step
// whose failure the caller sees.
func (m *Manager) Delete(ctx context.Context, id string) error {
	envRecord, err := m.store.Environments.Get(id)
	if err != nil {
		return err
	}

	switch envRecord.Backend {
	case store.BackendContainerized:
		if m.containers != nil && envRecord.Container != nil && envRecord.Container.ContainerID != "" {
			cid := envRecord.Container.ContainerID
			if err := m.containers.Stop(ctx, cid); err != nil {
				log.Printf("env: stopping container of %s during delete: %v", id, err)
			}
			if err := m.containers.Remove(ctx, cid); err != nil {
				log.Printf("env: removing container of %s during delete: %v", id, err)
			}
		}
	case store.BackendLocal:
		if err := m.sup.Kill(ctx, id, supervisor.AgentServer); err != nil {
			log.Printf("env: killing agent server of %s during delete: %v", id, err)
		}
		if err := m.sup.Kill(ctx, id, supervisor.BridgeServer); err != nil {
			log.Printf("env: killing bridge server of %s during delete: %v", id, err)
		}
		if envRecord.Local != nil && envRecord.Local.WorktreePath != "" {
			repoPath := ""
			if project, perr := m.store.Projects.Get(envRecord.ProjectID); perr == nil {
				repoPath = project.RepoPath
			}
			if err := m.trees.Delete(ctx, repoPath, envRecord.Local.WorktreePath); err != nil {
				log.Printf("env: deleting worktree of %s: %v", id, err)
			}
		}
	}

	for _, session := range m.store.Sessions.Filter(func(s store.Session) bool { return s.EnvironmentID == id }) {
		if err := m.store.Sessions.Delete(session.ID); err != nil {
			log.Printf("env: deleting session %s of %s: %v", session.ID, id, err)
		}
		if err := m.store.Buffers.Delete(session.ID); err != nil {
			log.Printf("env: deleting buffer %s of %s: %v", session.ID, id, err)
		}
	}

	if err := m.store.Environments.Delete(id); err != nil {
		return fmt.Errorf("remove environment record: %w", err)
	}
	m.publish(ctx, events.EventEnvironmentDeleted, id, nil)
	return nil
}

// Rename changes an environment's name and keeps the branch equal to it.
// For Local environments the worktree branch is renamed too.
func (m *Manager) Rename(ctx context.Context, id, newName string) (store.Environment, error) {
	if err := worktree.ValidateBranchName(newName); err != nil {
		return store.Environment{}, err
	}

	envRecord, err := m.store.Environments.Get(id)
	if err != nil {
		return store.Environment{}, err
	}

	if envRecord.Backend == store.BackendLocal && envRecord.Local != nil && envRecord.Local.WorktreePath != "" {
		if err := m.trees.RenameBranch(ctx, envRecord.Local.WorktreePath, envRecord.Branch, newName); err != nil {
			return store.Environment{}, fmt.Errorf("rename branch: %w", err)
		}
	}

	return m.store.Environments.Update(id, map[string]interface{}{
		"name":   newName,
		"branch": newName,
	})
}

// Reorder rewrites the display order of a project's environments to match
// the given id sequence.
func (m *Manager) Reorder(ctx context.Context, projectID string, orderedIDs []string) error {
	existing := m.store.Environments.Filter(func(e store.Environment) bool { return e.ProjectID == projectID })
	byID := make(map[string]bool, len(existing))
	for _, e := range existing {
		byID[e.ID] = true
	}
	if len(orderedIDs) != len(existing) {
		return fmt.Errorf("reorder must name all %d environments of the project", len(existing))
	}
	for _, id := range orderedIDs {
		if !byID[id] {
			return fmt.Errorf("environment %s does not belong to project %s", id, projectID)
		}
	}

	for i, id := range orderedIDs {
		if _, err := m.store.Environments.Update(id, map[string]interface{}{"order": i}); err != nil {
			return err
		}
	}
	return nil
}

// ProcessStatus describes one native server of a Local environment.
type ProcessStatus struct {
	Kind    string   `json:"kind"`
	Running bool     `json:"running"`
	PID     int      `json:"pid,omitempty"`
	Tail    []string `json:"tail,omitempty"`
}

// Processes reports the native servers of a Local environment with a tail of
// their recent output. Containerized environments have none.
func (m *Manager) Processes(id string) ([]ProcessStatus, error) {
	envRecord, err := m.store.Environments.Get(id)
	if err != nil {
		return nil, err
	}
	if envRecord.Backend != store.BackendLocal {
		return []ProcessStatus{}, nil
	}

	statuses := make([]ProcessStatus, 0, 2)
	for _, kind := range []supervisor.ProcessKind{supervisor.AgentServer, supervisor.BridgeServer} {
		statuses = append(statuses, ProcessStatus{
			Kind:    kind.String(),
			Running: m.sup.IsRunning(id, kind),
			PID:     m.sup.TrackedPID(id, kind),
			Tail:    m.sup.Tail(id, kind, 50),
		})
	}
	return statuses, nil
}

// DefaultBackend is the backend used when a create request does not name
// one. It comes from the app config document and falls back to Local.
func (m *Manager) DefaultBackend() store.BackendKind {
	if kind := m.store.Config.Load().DefaultBackend; kind != "" {
		return kind
	}
	return store.BackendLocal
}

// Get returns one environment.
func (m *Manager) Get(id string) (store.Environment, error) {
	return m.store.Environments.Get(id)
}

// List returns all environments, optionally scoped to a project.
func (m *Manager) List(projectID string) []store.Environment {
	if projectID == "" {
		return m.store.Environments.Load()
	}
	return m.store.Environments.Filter(func(e store.Environment) bool { return e.ProjectID == projectID })
}

func containerName(envRecord store.Environment) string {
	id := envRecord.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return "burrow-" + id
}

func (m *Manager) publish(ctx context.Context, eventType, envID string, payload map[string]interface{}) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(ctx, events.Event{
		Type:        eventType,
		Environment: envID,
		Payload:     payload,
	})
}
