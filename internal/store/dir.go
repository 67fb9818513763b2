// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"path/filepath"
	"time"
)

// Dir owns the state directory layout: the four JSON documents plus the
// per-session buffer directory.
type Dir struct {
	base string

	Projects     *Collection[Project]
	Environments *Collection[Environment]
	Sessions     *Collection[Session]
	Config       *Document[AppConfig]
	Buffers      *BufferStore
}

// NewDir creates the stores rooted at the given base directory.
func NewDir(base string) *Dir {
	return &Dir{
		base:         base,
		Projects:     NewCollection(filepath.Join(base, "projects.json"), projectSpec()),
		Environments: NewCollection(filepath.Join(base, "environments.json"), environmentSpec()),
		Sessions:     NewCollection(filepath.Join(base, "sessions.json"), sessionSpec()),
		Config:       NewDocument[AppConfig](filepath.Join(base, "config.json")),
		Buffers:      NewBufferStore(filepath.Join(base, "buffers")),
	}
}

// Base returns the state directory path.
func (d *Dir) Base() string {
	return d.base
}

func projectSpec() CollectionSpec[Project] {
	return CollectionSpec[Project]{
		ID:       func(p Project) string { return p.ID },
		Parent:   func(p Project) string { return "" }, // projects share one global order scope
		GetOrder: func(p Project) int { return p.Order },
		SetOrder: func(p *Project, o int) { p.Order = o },
		Patch: func(p *Project, patch map[string]interface{}) {
			patchString(patch, "name", &p.Name)
			patchString(patch, "repoPath", &p.RepoPath)
			patchInt(patch, "order", &p.Order)
			p.UpdatedAt = time.Now()
		},
	}
}

func environmentSpec() CollectionSpec[Environment] {
	return CollectionSpec[Environment]{
		ID:       func(e Environment) string { return e.ID },
		Parent:   func(e Environment) string { return e.ProjectID },
		GetOrder: func(e Environment) int { return e.Order },
		SetOrder: func(e *Environment, o int) { e.Order = o },
		Patch: func(e *Environment, patch map[string]interface{}) {
			patchString(patch, "name", &e.Name)
			patchString(patch, "branch", &e.Branch)
			patchInt(patch, "order", &e.Order)
			if v, ok := patch["status"].(string); ok {
				e.Status = EnvironmentStatus(v)
			}
			if v, ok := patch["containerId"].(string); ok {
				if e.Container == nil {
					e.Container = &ContainerFields{}
				}
				e.Container.ContainerID = v
			}
			if e.Local != nil || patch["worktreePath"] != nil {
				if e.Local == nil {
					e.Local = &LocalFields{}
				}
				patchString(patch, "worktreePath", &e.Local.WorktreePath)
				patchInt(patch, "agentPid", &e.Local.AgentPID)
				patchInt(patch, "bridgePid", &e.Local.BridgePID)
				if agent, ok := intValue(patch, "agentPort"); ok {
					if e.Local.Ports == nil {
						e.Local.Ports = &PortPair{}
					}
					e.Local.Ports.AgentPort = agent
				}
				if bridge, ok := intValue(patch, "bridgePort"); ok {
					if e.Local.Ports == nil {
						e.Local.Ports = &PortPair{}
					}
					e.Local.Ports.BridgePort = bridge
				}
			}
			e.UpdatedAt = time.Now()
		},
	}
}

func sessionSpec() CollectionSpec[Session] {
	return CollectionSpec[Session]{
		ID:       func(s Session) string { return s.ID },
		Parent:   func(s Session) string { return s.EnvironmentID },
		GetOrder: func(s Session) int { return s.Order },
		SetOrder: func(s *Session, o int) { s.Order = o },
		Patch: func(s *Session, patch map[string]interface{}) {
			patchString(patch, "name", &s.Name)
			patchString(patch, "tabId", &s.TabID)
			patchString(patch, "containerId", &s.ContainerID)
			patchInt(patch, "order", &s.Order)
			patchBool(patch, "hasLaunchedCommand", &s.HasLaunchedCommand)
			if v, ok := patch["status"].(string); ok {
				s.Status = SessionStatus(v)
			}
			if v, ok := patch["type"].(string); ok {
				s.Type = SessionType(v)
			}
			s.UpdatedAt = time.Now()
		},
	}
}

func patchString(patch map[string]interface{}, key string, dst *string) {
	if v, ok := patch[key].(string); ok {
		*dst = v
	}
}

func patchBool(patch map[string]interface{}, key string, dst *bool) {
	if v, ok := patch[key].(bool); ok {
		*dst = v
	}
}

// patchInt accepts both int and float64 since JSON-decoded patches carry
// numbers as float64.
func patchInt(patch map[string]interface{}, key string, dst *int) {
	if v, ok := intValue(patch, key); ok {
		*dst = v
	}
}

func intValue(patch map[string]interface{}, key string) (int, bool) {
	switch v := patch[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
