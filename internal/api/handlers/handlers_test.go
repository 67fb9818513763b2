// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/burrow/internal/config"
	"github.com/wingedpig/burrow/internal/container"
	"github.com/wingedpig/burrow/internal/env"
	"github.com/wingedpig/burrow/internal/events"
	"github.com/wingedpig/burrow/internal/ports"
	"github.com/wingedpig/burrow/internal/store"
	"github.com/wingedpig/burrow/internal/supervisor"
	"github.com/wingedpig/burrow/internal/worktree"
)

// Mock implementations

type mockContainers struct{}

func (m *mockContainers) Create(ctx context.Context, spec container.CreateSpec) (string, error) {
	return "container-1", nil
}
func (m *mockContainers) Start(ctx context.Context, id string) error  { return nil }
func (m *mockContainers) Stop(ctx context.Context, id string) error   { return nil }
func (m *mockContainers) Remove(ctx context.Context, id string) error { return nil }
func (m *mockContainers) EnvironmentStatus(ctx context.Context, id string) (store.EnvironmentStatus, error) {
	return store.EnvStatusRunning, nil
}
func (m *mockContainers) MappedPorts(ctx context.Context, id string) (store.PortPair, error) {
	return store.PortPair{}, nil
}

type mockTrees struct{}

func (m *mockTrees) Create(ctx context.Context, repo, branch, project string) (worktree.Result, error) {
	return worktree.Result{Path: "/trees/" + project, ActualBranch: branch}, nil
}
func (m *mockTrees) Delete(ctx context.Context, repo, path string) error { return nil }
func (m *mockTrees) CopyEnvFiles(repo, path string)                      {}
func (m *mockTrees) RenameBranch(ctx context.Context, path, oldName, newName string) error {
	return nil
}

type mockSup struct{}

func (m *mockSup) StartServer(ctx context.Context, req supervisor.StartRequest) (supervisor.StartResult, error) {
	return supervisor.StartResult{Port: req.Port, PID: 100}, nil
}
func (m *mockSup) Kill(ctx context.Context, envID string, kind supervisor.ProcessKind) error {
	return nil
}
func (m *mockSup) IsRunning(envID string, kind supervisor.ProcessKind) bool { return false }
func (m *mockSup) RecoverFromPid(envID string, kind supervisor.ProcessKind, pid int) bool {
	return false
}
func (m *mockSup) TrackedPID(envID string, kind supervisor.ProcessKind) int       { return 0 }
func (m *mockSup) Tail(envID string, kind supervisor.ProcessKind, n int) []string { return nil }

type apiFixture struct {
	router  *mux.Router
	store   *store.Dir
	project store.Project
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	st := store.NewDir(t.TempDir())
	bus := events.NewMemoryEventBus(events.MemoryBusConfig{})
	t.Cleanup(func() { bus.Close() })

	repoPath := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(repoPath, ".git"), 0o755))

	project, err := st.Projects.Add(store.Project{ID: "p1", Name: "myproj", RepoPath: repoPath})
	require.NoError(t, err)

	envs := env.NewManager(st, bus, ports.NewAllocator(22000, 22100), &mockSup{}, &mockTrees{}, &mockContainers{}, config.Default())

	r := mux.NewRouter()
	projectHandler := NewProjectHandler(st, envs)
	r.HandleFunc("/projects", projectHandler.List).Methods("GET")
	r.HandleFunc("/projects", projectHandler.Create).Methods("POST")
	r.HandleFunc("/projects/{id}", projectHandler.Delete).Methods("DELETE")

	envHandler := NewEnvironmentHandler(envs)
	r.HandleFunc("/environments", envHandler.List).Methods("GET")
	r.HandleFunc("/environments", envHandler.Create).Methods("POST")
	r.HandleFunc("/environments/{id}", envHandler.Get).Methods("GET")
	r.HandleFunc("/environments/{id}/start", envHandler.Start).Methods("POST")
	r.HandleFunc("/environments/{id}/stop", envHandler.Stop).Methods("POST")
	r.HandleFunc("/environments/{id}/rename", envHandler.Rename).Methods("POST")

	sessionHandler := NewSessionHandler(envs)
	r.HandleFunc("/environments/{id}/sessions", sessionHandler.List).Methods("GET")
	r.HandleFunc("/environments/{id}/sessions", sessionHandler.Attach).Methods("POST")
	r.HandleFunc("/sessions/{id}/detach", sessionHandler.Detach).Methods("POST")

	configHandler := NewAppConfigHandler(st)
	r.HandleFunc("/config", configHandler.Get).Methods("GET")
	r.HandleFunc("/config", configHandler.Put).Methods("PUT")

	statusHandler := NewStatusHandler("test")
	r.HandleFunc("/healthz", statusHandler.Get).Methods("GET")

	return &apiFixture{router: r, store: st, project: project}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(method, path, reader))
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NoError(t, json.Unmarshal(resp.Data, out))
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestCreateProjectValidation(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "POST", "/projects", map[string]string{"name": "bad/name", "repoPath": "/tmp"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "POST", "/projects", map[string]string{"name": "ok", "repoPath": "relative/path"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "POST", "/projects", map[string]string{"name": "myproj", "repoPath": f.project.RepoPath})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateProject(t *testing.T) {
	f := newAPIFixture(t)

	repo := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(repo, ".git"), 0o755))

	rec := f.do(t, "POST", "/projects", map[string]string{"name": "second", "repoPath": repo})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created store.Project
	decodeData(t, rec, &created)
	assert.Equal(t, "second", created.Name)
	assert.NotEmpty(t, created.ID)
}

func TestEnvironmentLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "POST", "/environments", map[string]string{
		"projectId": "p1",
		"name":      "feature",
		"backend":   "local",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created store.Environment
	decodeData(t, rec, &created)
	assert.Equal(t, store.EnvStatusStopped, created.Status)

	rec = f.do(t, "POST", "/environments/"+created.ID+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var started store.Environment
	decodeData(t, rec, &started)
	assert.Equal(t, store.EnvStatusRunning, started.Status)

	rec = f.do(t, "POST", "/environments/"+created.ID+"/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "POST", "/environments/"+created.ID+"/rename", map[string]string{"name": "renamed"})
	require.Equal(t, http.StatusOK, rec.Code)
	var renamed store.Environment
	decodeData(t, rec, &renamed)
	assert.Equal(t, "renamed", renamed.Name)
}

func TestCreateEnvironmentRejectsUnknownBackend(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "POST", "/environments", map[string]string{
		"projectId": "p1",
		"name":      "feature",
		"backend":   "vm",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEnvironmentNotFound(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, "GET", "/environments/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionAttachDetach(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "POST", "/environments", map[string]string{
		"projectId": "p1", "name": "feature", "backend": "local",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var envRecord store.Environment
	decodeData(t, rec, &envRecord)

	rec = f.do(t, "POST", "/environments/"+envRecord.ID+"/sessions", map[string]string{"tabId": "tab1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var session store.Session
	decodeData(t, rec, &session)
	assert.Equal(t, store.SessionConnected, session.Status)

	rec = f.do(t, "POST", "/sessions/"+session.ID+"/detach", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "GET", "/environments/"+envRecord.ID+"/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions []store.Session
	decodeData(t, rec, &sessions)
	require.Len(t, sessions, 1)
	assert.Equal(t, store.SessionDisconnected, sessions[0].Status)
}

func TestAppConfigRoundTrip(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "PUT", "/config", store.AppConfig{DefaultBackend: store.BackendContainerized, DefaultImage: "img:1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "GET", "/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg store.AppConfig
	decodeData(t, rec, &cfg)
	assert.Equal(t, store.BackendContainerized, cfg.DefaultBackend)
	assert.Equal(t, "img:1", cfg.DefaultImage)

	rec = f.do(t, "PUT", "/config", store.AppConfig{DefaultBackend: "vm"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteProjectCascades(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "POST", "/environments", map[string]string{
		"projectId": "p1", "name": "feature", "backend": "local",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, "DELETE", "/projects/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Empty(t, f.store.Environments.Load())
	assert.Empty(t, f.store.Projects.Load())
}
