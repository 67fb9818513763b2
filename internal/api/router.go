// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api assembles the daemon's HTTP surface.
package api

import (
	"github.com/gorilla/mux"

	"github.com/wingedpig/burrow/internal/api/handlers"
	"github.com/wingedpig/burrow/internal/api/middleware"
	"github.com/wingedpig/burrow/internal/env"
	"github.com/wingedpig/burrow/internal/events"
	"github.com/wingedpig/burrow/internal/store"
	"github.com/wingedpig/burrow/internal/terminal"
)

// Dependencies holds all dependencies for API handlers.
type Dependencies struct {
	Store        *store.Dir
	Environments *env.Manager
	Terminals    *terminal.Manager
	EventBus     events.EventBus

	// ContainerExecer is nil when no container runtime is reachable.
	ContainerExecer terminal.ContainerExecer

	Version string
}

// Router bundles the mux with the handlers that need shutdown hooks.
type Router struct {
	*mux.Router
	Terminal *handlers.TerminalHandler
}

// NewRouter creates the API router.
func NewRouter(deps Dependencies) *Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)

	statusHandler := handlers.NewStatusHandler(deps.Version)
	r.HandleFunc("/healthz", statusHandler.Get).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", statusHandler.Get).Methods("GET")

	projectHandler := handlers.NewProjectHandler(deps.Store, deps.Environments)
	api.HandleFunc("/projects", projectHandler.List).Methods("GET")
	api.HandleFunc("/projects", projectHandler.Create).Methods("POST")
	api.HandleFunc("/projects/reorder", projectHandler.Reorder).Methods("POST")
	api.HandleFunc("/projects/{id}", projectHandler.Get).Methods("GET")
	api.HandleFunc("/projects/{id}", projectHandler.Update).Methods("PUT")
	api.HandleFunc("/projects/{id}", projectHandler.Delete).Methods("DELETE")

	envHandler := handlers.NewEnvironmentHandler(deps.Environments)
	api.HandleFunc("/environments", envHandler.List).Methods("GET")
	api.HandleFunc("/environments", envHandler.Create).Methods("POST")
	api.HandleFunc("/environments/{id}", envHandler.Get).Methods("GET")
	api.HandleFunc("/environments/{id}", envHandler.Delete).Methods("DELETE")
	api.HandleFunc("/environments/{id}/start", envHandler.Start).Methods("POST")
	api.HandleFunc("/environments/{id}/stop", envHandler.Stop).Methods("POST")
	api.HandleFunc("/environments/{id}/rename", envHandler.Rename).Methods("POST")
	api.HandleFunc("/environments/{id}/processes", envHandler.Processes).Methods("GET")
	api.HandleFunc("/projects/{id}/environments/reorder", envHandler.Reorder).Methods("POST")

	sessionHandler := handlers.NewSessionHandler(deps.Environments)
	api.HandleFunc("/environments/{id}/sessions", sessionHandler.List).Methods("GET")
	api.HandleFunc("/environments/{id}/sessions", sessionHandler.Attach).Methods("POST")
	api.HandleFunc("/environments/{id}/sessions/reorder", sessionHandler.Reorder).Methods("POST")
	api.HandleFunc("/sessions/{id}/detach", sessionHandler.Detach).Methods("POST")
	api.HandleFunc("/sessions/{id}/rename", sessionHandler.Rename).Methods("POST")
	api.HandleFunc("/sessions/{id}/launched", sessionHandler.MarkLaunched).Methods("POST")
	api.HandleFunc("/sessions/{id}/buffer", sessionHandler.Buffer).Methods("GET")

	configHandler := handlers.NewAppConfigHandler(deps.Store)
	api.HandleFunc("/config", configHandler.Get).Methods("GET")
	api.HandleFunc("/config", configHandler.Put).Methods("PUT")

	eventHandler := handlers.NewEventHandler(deps.EventBus)
	api.HandleFunc("/events", eventHandler.History).Methods("GET")
	api.HandleFunc("/events/ws", eventHandler.WebSocket).Methods("GET")

	terminalHandler := handlers.NewTerminalHandler(deps.Environments, deps.Terminals, deps.ContainerExecer)
	api.HandleFunc("/terminal/ws", terminalHandler.WebSocket).Methods("GET")

	return &Router{Router: r, Terminal: terminalHandler}
}
