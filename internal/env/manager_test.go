// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package env

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/burrow/internal/config"
	"github.com/wingedpig/burrow/internal/container"
	"github.com/wingedpig/burrow/internal/events"
	"github.com/wingedpig/burrow/internal/ports"
	"github.com/wingedpig/burrow/internal/store"
	"github.com/wingedpig/burrow/internal/supervisor"
	"github.com/wingedpig/burrow/internal/worktree"
)

type fakeContainers struct {
	calls     []string
	createErr error
	stopErr   error
	status    store.EnvironmentStatus
	statusErr error
}

func (f *fakeContainers) Create(ctx context.Context, spec container.CreateSpec) (string, error) {
	f.calls = append(f.calls, "create")
	if f.createErr != nil {
		return "", f.createErr
	}
	return "container-1", nil
}

func (f *fakeContainers) Start(ctx context.Context, id string) error {
	f.calls = append(f.calls, "start")
	return nil
}

func (f *fakeContainers) Stop(ctx context.Context, id string) error {
	f.calls = append(f.calls, "stop")
	return f.stopErr
}

func (f *fakeContainers) Remove(ctx context.Context, id string) error {
	f.calls = append(f.calls, "remove")
	return nil
}

func (f *fakeContainers) EnvironmentStatus(ctx context.Context, id string) (store.EnvironmentStatus, error) {
	if f.statusErr != nil {
		return "", f.statusErr
	}
	return f.status, nil
}

func (f *fakeContainers) MappedPorts(ctx context.Context, id string) (store.PortPair, error) {
	return store.PortPair{AgentPort: 32001, BridgePort: 32002}, nil
}

type fakeTrees struct {
	createErr error
	deleted   []string
	renamed   [][2]string
}

func (f *fakeTrees) Create(ctx context.Context, repo, branch, project string) (worktree.Result, error) {
	if f.createErr != nil {
		return worktree.Result{}, f.createErr
	}
	return worktree.Result{Path: "/trees/" + project, ActualBranch: branch + "-1"}, nil
}

func (f *fakeTrees) Delete(ctx context.Context, repo, path string) error {
	f.deleted = append(f.deleted, path)
	return nil
}

func (f *fakeTrees) CopyEnvFiles(repo, path string) {}

func (f *fakeTrees) RenameBranch(ctx context.Context, path, oldName, newName string) error {
	f.renamed = append(f.renamed, [2]string{oldName, newName})
	return nil
}

type fakeSup struct {
	started   []supervisor.ProcessKind
	commands  []string
	killed    []supervisor.ProcessKind
	recovered []int
	running   map[supervisor.ProcessKind]bool
	startErr  error
}

func (f *fakeSup) StartServer(ctx context.Context, req supervisor.StartRequest) (supervisor.StartResult, error) {
	if f.startErr != nil {
		return supervisor.StartResult{}, f.startErr
	}
	f.started = append(f.started, req.Kind)
	f.commands = append(f.commands, req.Spawn(14100).Command)
	port := req.Port
	if port == 0 {
		port = 14100
	}
	if req.PersistPID != nil {
		if err := req.PersistPID(4242); err != nil {
			return supervisor.StartResult{}, err
		}
	}
	return supervisor.StartResult{Port: port, PID: 4242}, nil
}

func (f *fakeSup) Kill(ctx context.Context, envID string, kind supervisor.ProcessKind) error {
	f.killed = append(f.killed, kind)
	return nil
}

func (f *fakeSup) IsRunning(envID string, kind supervisor.ProcessKind) bool {
	return f.running[kind]
}

func (f *fakeSup) RecoverFromPid(envID string, kind supervisor.ProcessKind, pid int) bool {
	f.recovered = append(f.recovered, pid)
	return true
}

func (f *fakeSup) TrackedPID(envID string, kind supervisor.ProcessKind) int { return 0 }

func (f *fakeSup) Tail(envID string, kind supervisor.ProcessKind, n int) []string { return nil }

type fixture struct {
	m          *Manager
	store      *store.Dir
	containers *fakeContainers
	trees      *fakeTrees
	sup        *fakeSup
	bus        *events.MemoryEventBus
	project    store.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.NewDir(t.TempDir())
	bus := events.NewMemoryEventBus(events.MemoryBusConfig{})
	t.Cleanup(func() { bus.Close() })

	project, err := st.Projects.Add(store.Project{ID: "p1", Name: "myproj", RepoPath: "/repos/myproj"})
	require.NoError(t, err)

	f := &fixture{
		store:      st,
		containers: &fakeContainers{status: store.EnvStatusRunning},
		trees:      &fakeTrees{},
		sup:        &fakeSup{running: map[supervisor.ProcessKind]bool{}},
		bus:        bus,
		project:    project,
	}
	f.m = NewManager(st, bus, ports.NewAllocator(21000, 21100), f.sup, f.trees, f.containers, config.Default())
	return f
}

func TestCreateLocalEnvironment(t *testing.T) {
	f := newFixture(t)

	envRecord, err := f.m.Create(context.Background(), CreateRequest{
		ProjectID: "p1",
		Name:      "feature-x",
		Backend:   store.BackendLocal,
	})
	require.NoError(t, err)

	assert.Equal(t, store.EnvStatusStopped, envRecord.Status)
	// Disambiguation result is persisted, not the requested branch.
	assert.Equal(t, "feature-x-1", envRecord.Branch)
	assert.Equal(t, "feature-x", envRecord.Name)

	require.NotNil(t, envRecord.Local)
	assert.Equal(t, "/trees/myproj", envRecord.Local.WorktreePath)
	require.NotNil(t, envRecord.Local.Ports)
	assert.NotEqual(t, envRecord.Local.Ports.AgentPort, envRecord.Local.Ports.BridgePort)
	assert.Nil(t, envRecord.Container, "containerized fields must be absent on a Local environment")
}

func TestCreateContainerizedEnvironment(t *testing.T) {
	f := newFixture(t)

	envRecord, err := f.m.Create(context.Background(), CreateRequest{
		ProjectID: "p1",
		Name:      "boxed",
		Backend:   store.BackendContainerized,
	})
	require.NoError(t, err)

	assert.Equal(t, store.EnvStatusStopped, envRecord.Status)
	require.NotNil(t, envRecord.Container)
	assert.Equal(t, "container-1", envRecord.Container.ContainerID)
	assert.Nil(t, envRecord.Local, "local fields must be absent on a Containerized environment")
}

func TestCreateFailureMarksError(t *testing.T) {
	f := newFixture(t)
	f.trees.createErr = errors.New("git exploded")

	_, err := f.m.Create(context.Background(), CreateRequest{
		ProjectID: "p1",
		Name:      "doomed",
		Backend:   store.BackendLocal,
	})
	require.Error(t, err)

	records := f.store.Environments.Load()
	require.Len(t, records, 1)
	assert.Equal(t, store.EnvStatusError, records[0].Status)
}

func TestCreateUnknownProject(t *testing.T) {
	f := newFixture(t)

	_, err := f.m.Create(context.Background(), CreateRequest{ProjectID: "nope", Name: "x", Backend: store.BackendLocal})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStartLocalRunsBothServers(t *testing.T) {
	f := newFixture(t)
	envRecord, err := f.m.Create(context.Background(), CreateRequest{ProjectID: "p1", Name: "feature", Backend: store.BackendLocal})
	require.NoError(t, err)

	started, err := f.m.Start(context.Background(), envRecord.ID)
	require.NoError(t, err)

	assert.Equal(t, store.EnvStatusRunning, started.Status)
	assert.Equal(t, []supervisor.ProcessKind{supervisor.AgentServer, supervisor.BridgeServer}, f.sup.started)
	require.NotNil(t, started.Local)
	assert.Equal(t, 4242, started.Local.AgentPID)
	assert.Equal(t, 4242, started.Local.BridgePID)
}

func TestSetConfigAppliesToNextStart(t *testing.T) {
	f := newFixture(t)
	envRecord, err := f.m.Create(context.Background(), CreateRequest{ProjectID: "p1", Name: "feature", Backend: store.BackendLocal})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Supervisor.AgentCommand = []string{"/opt/new/agent-server", "--port", "{port}"}
	cfg.Supervisor.BridgeCommand = []string{"/opt/new/bridge-server", "--port", "{port}"}
	f.m.SetConfig(cfg)

	_, err = f.m.Start(context.Background(), envRecord.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"/opt/new/agent-server", "/opt/new/bridge-server"}, f.sup.commands)
}

func TestStopLocalKillsBothServers(t *testing.T) {
	f := newFixture(t)
	envRecord, err := f.m.Create(context.Background(), CreateRequest{ProjectID: "p1", Name: "feature", Backend: store.BackendLocal})
	require.NoError(t, err)

	stopped, err := f.m.Stop(context.Background(), envRecord.ID)
	require.NoError(t, err)

	assert.Equal(t, store.EnvStatusStopped, stopped.Status)
	assert.ElementsMatch(t, []supervisor.ProcessKind{supervisor.AgentServer, supervisor.BridgeServer}, f.sup.killed)
}

func TestDeleteProceedsDespiteBackendFailure(t *testing.T) {
	f := newFixture(t)
	f.containers.stopErr = errors.New("runtime unreachable")

	envRecord, err := f.m.Create(context.Background(), CreateRequest{ProjectID: "p1", Name: "boxed", Backend: store.BackendContainerized})
	require.NoError(t, err)

	session, err := f.m.AttachSession(context.Background(), AttachRequest{EnvironmentID: envRecord.ID, TabID: "tab1"})
	require.NoError(t, err)

	require.NoError(t, f.m.Delete(context.Background(), envRecord.ID))

	_, err = f.store.Environments.Get(envRecord.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.store.Sessions.Get(session.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteLocalRemovesWorktree(t *testing.T) {
	f := newFixture(t)
	envRecord, err := f.m.Create(context.Background(), CreateRequest{ProjectID: "p1", Name: "feature", Backend: store.BackendLocal})
	require.NoError(t, err)

	require.NoError(t, f.m.Delete(context.Background(), envRecord.ID))
	assert.Equal(t, []string{"/trees/myproj"}, f.trees.deleted)
}

func TestRenameLocalRenamesBranch(t *testing.T) {
	f := newFixture(t)
	envRecord, err := f.m.Create(context.Background(), CreateRequest{ProjectID: "p1", Name: "old-name", Backend: store.BackendLocal})
	require.NoError(t, err)

	renamed, err := f.m.Rename(context.Background(), envRecord.ID, "new-name")
	require.NoError(t, err)

	assert.Equal(t, "new-name", renamed.Name)
	assert.Equal(t, "new-name", renamed.Branch)
	assert.Equal(t, [][2]string{{"old-name-1", "new-name"}}, f.trees.renamed)
}

func TestReorderValidatesMembership(t *testing.T) {
	f := newFixture(t)
	a, err := f.m.Create(context.Background(), CreateRequest{ProjectID: "p1", Name: "a", Backend: store.BackendLocal})
	require.NoError(t, err)
	b, err := f.m.Create(context.Background(), CreateRequest{ProjectID: "p1", Name: "b", Backend: store.BackendLocal})
	require.NoError(t, err)

	require.Error(t, f.m.Reorder(context.Background(), "p1", []string{a.ID}))
	require.Error(t, f.m.Reorder(context.Background(), "p1", []string{a.ID, "stranger"}))

	require.NoError(t, f.m.Reorder(context.Background(), "p1", []string{b.ID, a.ID}))
	got, err := f.m.Get(b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Order)
}

func TestReconcileWritesDrift(t *testing.T) {
	f := newFixture(t)
	envRecord, err := f.m.Create(context.Background(), CreateRequest{ProjectID: "p1", Name: "boxed", Backend: store.BackendContainerized})
	require.NoError(t, err)

	_, err = f.store.Environments.Update(envRecord.ID, map[string]interface{}{"status": string(store.EnvStatusRunning)})
	require.NoError(t, err)
	f.containers.status = store.EnvStatusStopped

	require.NoError(t, f.m.Reconcile(context.Background()))

	got, err := f.m.Get(envRecord.ID)
	require.NoError(t, err)
	assert.Equal(t, store.EnvStatusStopped, got.Status)
}

func TestReconcileTreatsMissingContainerAsStopped(t *testing.T) {
	f := newFixture(t)
	envRecord, err := f.m.Create(context.Background(), CreateRequest{ProjectID: "p1", Name: "boxed", Backend: store.BackendContainerized})
	require.NoError(t, err)

	_, err = f.store.Environments.Update(envRecord.ID, map[string]interface{}{"status": string(store.EnvStatusRunning)})
	require.NoError(t, err)
	f.containers.statusErr = container.ErrContainerNotFound

	require.NoError(t, f.m.Reconcile(context.Background()))

	got, err := f.m.Get(envRecord.ID)
	require.NoError(t, err)
	assert.Equal(t, store.EnvStatusStopped, got.Status)
}

func TestRecoverReattachesPersistedPids(t *testing.T) {
	f := newFixture(t)
	envRecord, err := f.m.Create(context.Background(), CreateRequest{ProjectID: "p1", Name: "feature", Backend: store.BackendLocal})
	require.NoError(t, err)

	_, err = f.store.Environments.Update(envRecord.ID, map[string]interface{}{"agentPid": 1111, "bridgePid": 2222})
	require.NoError(t, err)

	require.NoError(t, f.m.Recover(context.Background()))
	assert.ElementsMatch(t, []int{1111, 2222}, f.sup.recovered)
}

func TestSessionEvictionOnAttach(t *testing.T) {
	f := newFixture(t)
	envRecord, err := f.m.Create(context.Background(), CreateRequest{ProjectID: "p1", Name: "feature", Backend: store.BackendLocal})
	require.NoError(t, err)

	var first store.Session
	for i := 0; i < store.MaxSessionsPerEnvironment; i++ {
		s, err := f.m.AttachSession(context.Background(), AttachRequest{EnvironmentID: envRecord.ID, TabID: fmt.Sprintf("tab-%d", i)})
		require.NoError(t, err)
		if i == 0 {
			first = s
		}
		require.NoError(t, f.m.DetachSession(context.Background(), s.ID))
	}

	_, err = f.m.AttachSession(context.Background(), AttachRequest{EnvironmentID: envRecord.ID, TabID: "one-too-many"})
	require.NoError(t, err)

	remaining := f.m.Sessions(envRecord.ID)
	assert.Len(t, remaining, store.MaxSessionsPerEnvironment)
	_, err = f.store.Sessions.Get(first.ID)
	assert.ErrorIs(t, err, store.ErrNotFound, "oldest disconnected session should be evicted")
}
