// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events provides the event bus for Burrow.
package events

import (
	"context"
	"time"
)

// Event represents an immutable event record.
type Event struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	Timestamp   time.Time              `json:"timestamp"`
	Environment string                 `json:"environment,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

// EventHandler processes received events.
type EventHandler func(ctx context.Context, event Event) error

// SubscriptionID uniquely identifies a subscription.
type SubscriptionID string

// EventFilter for querying event history.
type EventFilter struct {
	Types       []string  // Event types to match (supports wildcards)
	Environment string    // Filter by environment id
	Since       time.Time // Events after this time
	Until       time.Time // Events before this time
	Limit       int       // Maximum events to return
}

// EventBus is the core event pub/sub system.
type EventBus interface {
	// Publish emits an event to all matching subscribers.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a synchronous handler for events matching pattern.
	Subscribe(pattern string, handler EventHandler) (SubscriptionID, error)

	// SubscribeAsync registers an async handler with buffered channel.
	SubscribeAsync(pattern string, handler EventHandler, bufferSize int) (SubscriptionID, error)

	// Unsubscribe removes a subscription.
	Unsubscribe(id SubscriptionID) error

	// History retrieves past events matching filter.
	History(filter EventFilter) ([]Event, error)

	// Close shuts down the event bus gracefully.
	Close() error
}

// Common event types
const (
	// Environment lifecycle events
	EventEnvironmentCreated = "environment.created"
	EventEnvironmentStarted = "environment.started"
	EventEnvironmentStopped = "environment.stopped"
	EventEnvironmentDeleted = "environment.deleted"
	EventEnvironmentDrift   = "environment.drift"

	// Terminal session events
	EventSessionAttached = "session.attached"
	EventSessionDetached = "session.detached"
	EventSessionEvicted  = "session.evicted"

	// Native process events
	EventProcessStarted   = "process.started"
	EventProcessExited    = "process.exited"
	EventProcessRecovered = "process.recovered"

	// Config events
	EventConfigReloaded = "config.reloaded"
)
