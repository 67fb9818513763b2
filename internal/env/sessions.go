// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package env

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wingedpig/burrow/internal/events"
	"github.com/wingedpig/burrow/internal/store"
)

// AttachRequest describes a terminal tab attaching to an environment.
type AttachRequest struct {
	EnvironmentID string
	TabID         string
	Type          store.SessionType
	Name          string
}

// AttachSession persists a Connected session record for a tab and evicts
// the oldest disconnected sessions past the per-environment bound.
func (m *Manager) AttachSession(ctx context.Context, req AttachRequest) (store.Session, error) {
	envRecord, err := m.store.Environments.Get(req.EnvironmentID)
	if err != nil {
		return store.Session{}, err
	}

	sessionType := req.Type
	if sessionType == "" {
		sessionType = store.SessionPlain
	}

	record := store.Session{
		ID:            uuid.NewString(),
		EnvironmentID: envRecord.ID,
		TabID:         req.TabID,
		Type:          sessionType,
		Status:        store.SessionConnected,
		Name:          req.Name,
		CreatedAt:     time.Now().UTC(),
	}
	if envRecord.Container != nil {
		record.ContainerID = envRecord.Container.ContainerID
	}

	record, err = m.store.Sessions.Add(record)
	if err != nil {
		return store.Session{}, fmt.Errorf("persist session: %w", err)
	}

	for _, evicted := range m.store.EvictExcessSessions(envRecord.ID) {
		m.publish(ctx, events.EventSessionEvicted, envRecord.ID, map[string]interface{}{"sessionId": evicted})
	}

	m.publish(ctx, events.EventSessionAttached, envRecord.ID, map[string]interface{}{"sessionId": record.ID})
	return record, nil
}

// DetachSession marks a session Disconnected. The record and its buffer
// survive for a later re-attach.
func (m *Manager) DetachSession(ctx context.Context, sessionID string) error {
	record, err := m.store.Sessions.Update(sessionID, map[string]interface{}{
		"status": string(store.SessionDisconnected),
	})
	if err != nil {
		return err
	}
	m.publish(ctx, events.EventSessionDetached, record.EnvironmentID, map[string]interface{}{"sessionId": sessionID})
	return nil
}

// MarkSessionLaunched records that the session's initial command has run,
// so a re-attach does not launch it again.
func (m *Manager) MarkSessionLaunched(sessionID string) error {
	_, err := m.store.Sessions.Update(sessionID, map[string]interface{}{"hasLaunchedCommand": true})
	return err
}

// RenameSession sets a session's saved name.
func (m *Manager) RenameSession(sessionID, name string) error {
	_, err := m.store.Sessions.Update(sessionID, map[string]interface{}{"name": name})
	return err
}

// ReorderSessions rewrites the display order of an environment's sessions.
func (m *Manager) ReorderSessions(environmentID string, orderedIDs []string) error {
	existing := m.store.Sessions.Filter(func(s store.Session) bool { return s.EnvironmentID == environmentID })
	byID := make(map[string]bool, len(existing))
	for _, s := range existing {
		byID[s.ID] = true
	}
	if len(orderedIDs) != len(existing) {
		return fmt.Errorf("reorder must name all %d sessions of the environment", len(existing))
	}
	for _, id := range orderedIDs {
		if !byID[id] {
			return fmt.Errorf("session %s does not belong to environment %s", id, environmentID)
		}
	}

	for i, id := range orderedIDs {
		if _, err := m.store.Sessions.Update(id, map[string]interface{}{"order": i}); err != nil {
			return err
		}
	}
	return nil
}

// Session returns one persisted session.
func (m *Manager) Session(sessionID string) (store.Session, error) {
	return m.store.Sessions.Get(sessionID)
}

// Sessions returns the persisted sessions of an environment.
func (m *Manager) Sessions(environmentID string) []store.Session {
	return m.store.Sessions.Filter(func(s store.Session) bool { return s.EnvironmentID == environmentID })
}

// AppendSessionBuffer adds terminal output to a session's saved buffer.
func (m *Manager) AppendSessionBuffer(sessionID string, data []byte) error {
	return m.store.Buffers.Append(sessionID, data)
}

// ReadSessionBuffer returns a session's saved buffer.
func (m *Manager) ReadSessionBuffer(sessionID string) ([]byte, error) {
	return m.store.Buffers.Read(sessionID)
}
