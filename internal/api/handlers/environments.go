// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wingedpig/burrow/internal/env"
	"github.com/wingedpig/burrow/internal/store"
)

// EnvironmentHandler handles environment lifecycle requests.
type EnvironmentHandler struct {
	envs *env.Manager
}

// NewEnvironmentHandler creates a new environment handler.
func NewEnvironmentHandler(envs *env.Manager) *EnvironmentHandler {
	return &EnvironmentHandler{envs: envs}
}

// List returns environments, optionally filtered by ?project=.
func (h *EnvironmentHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.envs.List(r.URL.Query().Get("project")))
}

// Get returns one environment.
func (h *EnvironmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	envRecord, err := h.envs.Get(mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, envRecord)
}

type createEnvironmentRequest struct {
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
	Backend   string `json:"backend"`
}

// Create provisions a new environment.
func (h *EnvironmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEnvironmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON body")
		return
	}

	backend := store.BackendKind(req.Backend)
	if backend == "" {
		backend = h.envs.DefaultBackend()
	}
	if backend != store.BackendContainerized && backend != store.BackendLocal {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "backend must be containerized or local")
		return
	}

	envRecord, err := h.envs.Create(r.Context(), env.CreateRequest{
		ProjectID: req.ProjectID,
		Name:      req.Name,
		Backend:   backend,
	})
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrEnvironmentError, err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, envRecord)
}

// Start brings an environment up.
func (h *EnvironmentHandler) Start(w http.ResponseWriter, r *http.Request) {
	envRecord, err := h.envs.Start(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrEnvironmentError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, envRecord)
}

// Stop takes an environment down.
func (h *EnvironmentHandler) Stop(w http.ResponseWriter, r *http.Request) {
	envRecord, err := h.envs.Stop(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrEnvironmentError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, envRecord)
}

// Delete tears an environment down and removes its record.
func (h *EnvironmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.envs.Delete(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"id": id})
}

// Processes reports the native servers of a Local environment.
func (h *EnvironmentHandler) Processes(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.envs.Processes(mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, statuses)
}

type renameRequest struct {
	Name string `json:"name"`
}

// Rename changes an environment's name and branch.
func (h *EnvironmentHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON body")
		return
	}

	envRecord, err := h.envs.Rename(r.Context(), mux.Vars(r)["id"], req.Name)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrEnvironmentError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, envRecord)
}

// Reorder rewrites the display order of a project's environments.
func (h *EnvironmentHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON body")
		return
	}

	projectID := mux.Vars(r)["id"]
	if err := h.envs.Reorder(r.Context(), projectID, req.IDs); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, h.envs.List(projectID))
}
