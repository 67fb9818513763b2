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

// SessionHandler handles the persisted terminal session records.
type SessionHandler struct {
	envs *env.Manager
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(envs *env.Manager) *SessionHandler {
	return &SessionHandler{envs: envs}
}

// List returns the sessions of an environment.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.envs.Sessions(mux.Vars(r)["id"]))
}

type attachSessionRequest struct {
	TabID string `json:"tabId"`
	Type  string `json:"type"`
	Name  string `json:"name"`
}

// Attach creates a Connected session record for a terminal tab.
func (h *SessionHandler) Attach(w http.ResponseWriter, r *http.Request) {
	var req attachSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON body")
		return
	}

	session, err := h.envs.AttachSession(r.Context(), env.AttachRequest{
		EnvironmentID: mux.Vars(r)["id"],
		TabID:         req.TabID,
		Type:          store.SessionType(req.Type),
		Name:          req.Name,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, session)
}

// Detach marks a session Disconnected without deleting it.
func (h *SessionHandler) Detach(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.envs.DetachSession(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"id": id})
}

// Rename sets a session's saved name.
func (h *SessionHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON body")
		return
	}
	if err := h.envs.RenameSession(mux.Vars(r)["id"], req.Name); err != nil {
		writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"id": mux.Vars(r)["id"]})
}

// MarkLaunched records that the session's initial command has run.
func (h *SessionHandler) MarkLaunched(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.envs.MarkSessionLaunched(id); err != nil {
		writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"id": id})
}

// Reorder rewrites the display order of an environment's sessions.
func (h *SessionHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON body")
		return
	}
	if err := h.envs.ReorderSessions(mux.Vars(r)["id"], req.IDs); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, h.envs.Sessions(mux.Vars(r)["id"]))
}

// Buffer returns a session's saved scrollback.
func (h *SessionHandler) Buffer(w http.ResponseWriter, r *http.Request) {
	data, err := h.envs.ReadSessionBuffer(mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
