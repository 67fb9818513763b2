// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/wingedpig/burrow/internal/env"
	"github.com/wingedpig/burrow/internal/store"
	"github.com/wingedpig/burrow/internal/worktree"
)

// ProjectHandler handles project CRUD.
type ProjectHandler struct {
	store *store.Dir
	envs  *env.Manager
}

// NewProjectHandler creates a new project handler.
func NewProjectHandler(st *store.Dir, envs *env.Manager) *ProjectHandler {
	return &ProjectHandler{store: st, envs: envs}
}

// List returns all registered projects.
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.store.Projects.Load())
}

// Get returns one project.
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	project, err := h.store.Projects.Get(mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, project)
}

type createProjectRequest struct {
	Name     string `json:"name"`
	RepoPath string `json:"repoPath"`
}

// Create registers a source repository as a project.
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON body")
		return
	}

	if err := worktree.ValidateProjectName(req.Name); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	if !filepath.IsAbs(req.RepoPath) {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "repoPath must be absolute")
		return
	}
	if fi, err := os.Stat(filepath.Join(req.RepoPath, ".git")); err != nil || !fi.IsDir() {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "repoPath is not a git repository")
		return
	}
	for _, existing := range h.store.Projects.Load() {
		if existing.Name == req.Name {
			WriteError(w, http.StatusConflict, ErrConflict, "a project with that name already exists")
			return
		}
	}

	project, err := h.store.Projects.Add(store.Project{
		ID:       uuid.NewString(),
		Name:     req.Name,
		RepoPath: req.RepoPath,
	})
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, project)
}

type updateProjectRequest struct {
	Name string `json:"name"`
}

// Update renames a project.
func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON body")
		return
	}
	if err := worktree.ValidateProjectName(req.Name); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}

	project, err := h.store.Projects.Update(mux.Vars(r)["id"], map[string]interface{}{"name": req.Name})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, project)
}

// Delete removes a project and tears down all of its environments.
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.store.Projects.Get(id); err != nil {
		writeStoreError(w, err)
		return
	}

	for _, e := range h.envs.List(id) {
		if err := h.envs.Delete(r.Context(), e.ID); err != nil {
			log.Printf("api: deleting environment %s of project %s: %v", e.ID, id, err)
		}
	}

	if err := h.store.Projects.Delete(id); err != nil {
		writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"id": id})
}

type reorderRequest struct {
	IDs []string `json:"ids"`
}

// Reorder rewrites the display order of all projects.
func (h *ProjectHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON body")
		return
	}

	existing := h.store.Projects.Load()
	if len(req.IDs) != len(existing) {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "reorder must name every project")
		return
	}
	byID := make(map[string]bool, len(existing))
	for _, p := range existing {
		byID[p.ID] = true
	}
	for _, id := range req.IDs {
		if !byID[id] {
			WriteError(w, http.StatusBadRequest, ErrBadRequest, "unknown project id "+id)
			return
		}
	}

	for i, id := range req.IDs {
		if _, err := h.store.Projects.Update(id, map[string]interface{}{"order": i}); err != nil {
			WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
			return
		}
	}
	WriteJSON(w, http.StatusOK, h.store.Projects.Load())
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
		return
	}
	WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
}
