// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package store persists Burrow's documents (projects, environments,
// sessions, config) as pretty-printed JSON files, with corruption
// self-repair and per-session text buffers.
package store

import "time"

// BackendKind identifies which backend an environment runs on.
type BackendKind string

const (
	BackendContainerized BackendKind = "containerized"
	BackendLocal         BackendKind = "local"
)

// EnvironmentStatus is the persisted lifecycle status of an environment.
type EnvironmentStatus string

const (
	EnvStatusStopped  EnvironmentStatus = "stopped"
	EnvStatusCreating EnvironmentStatus = "creating"
	EnvStatusRunning  EnvironmentStatus = "running"
	EnvStatusStopping EnvironmentStatus = "stopping"
	EnvStatusError    EnvironmentStatus = "error"
)

// SessionType identifies what kind of terminal tab a session record describes.
type SessionType string

const (
	SessionPlain           SessionType = "plain"
	SessionAgent           SessionType = "agent"
	SessionAgentPrivileged SessionType = "agent_privileged"
)

// SessionStatus is the persisted connection state of a session.
type SessionStatus string

const (
	SessionConnected    SessionStatus = "connected"
	SessionDisconnected SessionStatus = "disconnected"
)

// Project is a registered source repository.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	RepoPath  string    `json:"repoPath"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ContainerFields holds the backend fields valid only for Containerized
// environments.
type ContainerFields struct {
	ContainerID string `json:"containerId"`
}

// PortPair is the pair of distinct local ports assigned to a Local
// environment's servers.
type PortPair struct {
	AgentPort  int `json:"agentPort"`
	BridgePort int `json:"bridgePort"`
}

// LocalFields holds the backend fields valid only for Local environments.
type LocalFields struct {
	WorktreePath string    `json:"worktreePath"`
	AgentPID     int       `json:"agentPid,omitempty"`
	BridgePID    int       `json:"bridgePid,omitempty"`
	Ports        *PortPair `json:"ports,omitempty"`
}

// Environment is one isolated coding workspace. Exactly one of Container or
// Local is set, matching Backend.
type Environment struct {
	ID        string            `json:"id"`
	ProjectID string            `json:"projectId"`
	Name      string            `json:"name"`
	Branch    string            `json:"branch"`
	Backend   BackendKind       `json:"backend"`
	Status    EnvironmentStatus `json:"status"`
	Container *ContainerFields  `json:"container,omitempty"`
	Local     *LocalFields      `json:"local,omitempty"`
	Order     int               `json:"order"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Session is the persisted record of one terminal tab. It outlives any
// single terminal attach; disconnecting does not delete it.
type Session struct {
	ID                 string        `json:"id"`
	EnvironmentID      string        `json:"environmentId"`
	ContainerID        string        `json:"containerId,omitempty"`
	TabID              string        `json:"tabId"`
	Type               SessionType   `json:"type"`
	Status             SessionStatus `json:"status"`
	Order              int           `json:"order"`
	Name               string        `json:"name,omitempty"`
	HasLaunchedCommand bool          `json:"hasLaunchedCommand"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

// AppConfig is the single config document edited through the UI.
type AppConfig struct {
	DefaultBackend BackendKind `json:"defaultBackend"`
	DefaultImage   string      `json:"defaultImage"`
	Editor         string      `json:"editor,omitempty"`
	DeclaredPorts  []int       `json:"declaredPorts,omitempty"`
}
