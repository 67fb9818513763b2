// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/wingedpig/burrow/internal/store"
)

// AppConfigHandler serves the UI-editable config document.
type AppConfigHandler struct {
	store *store.Dir
}

// NewAppConfigHandler creates a new app config handler.
func NewAppConfigHandler(st *store.Dir) *AppConfigHandler {
	return &AppConfigHandler{store: st}
}

// Get returns the config document.
func (h *AppConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.store.Config.Load())
}

// Put replaces the config document.
func (h *AppConfigHandler) Put(w http.ResponseWriter, r *http.Request) {
	var cfg store.AppConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON body")
		return
	}
	if cfg.DefaultBackend != "" && cfg.DefaultBackend != store.BackendContainerized && cfg.DefaultBackend != store.BackendLocal {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "defaultBackend must be containerized or local")
		return
	}
	if err := h.store.Config.Save(cfg); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, cfg)
}

// StatusHandler reports daemon liveness and version.
type StatusHandler struct {
	version string
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(version string) *StatusHandler {
	return &StatusHandler{version: version}
}

// Get answers health probes.
func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}
