// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryEventBus_Publish(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()

	event := Event{
		Type:        EventEnvironmentCreated,
		Environment: "env-1",
	}

	err := bus.Publish(context.Background(), event)
	assert.NoError(t, err)
}

func TestMemoryEventBus_Publish_AssignsID(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()

	var receivedEvent Event
	_, err := bus.Subscribe("*", func(ctx context.Context, e Event) error {
		receivedEvent = e
		return nil
	})
	require.NoError(t, err)

	err = bus.Publish(context.Background(), Event{Type: EventEnvironmentStarted})
	require.NoError(t, err)

	assert.NotEmpty(t, receivedEvent.ID)
	assert.False(t, receivedEvent.Timestamp.IsZero())
}

func TestMemoryEventBus_Subscribe_PatternFiltering(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()

	received := make(chan Event, 4)
	_, err := bus.Subscribe("environment.*", func(ctx context.Context, e Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)

	bus.Publish(context.Background(), Event{Type: EventEnvironmentCreated})
	bus.Publish(context.Background(), Event{Type: EventProcessStarted})
	bus.Publish(context.Background(), Event{Type: EventEnvironmentDeleted})

	require.Len(t, received, 2)
	assert.Equal(t, EventEnvironmentCreated, (<-received).Type)
	assert.Equal(t, EventEnvironmentDeleted, (<-received).Type)
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()

	count := 0
	id, err := bus.Subscribe("*", func(ctx context.Context, e Event) error {
		count++
		return nil
	})
	require.NoError(t, err)

	bus.Publish(context.Background(), Event{Type: EventSessionAttached})
	require.NoError(t, bus.Unsubscribe(id))
	bus.Publish(context.Background(), Event{Type: EventSessionAttached})

	assert.Equal(t, 1, count)
}

func TestMemoryEventBus_Unsubscribe_NotFound(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()

	err := bus.Unsubscribe(SubscriptionID("missing"))
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestMemoryEventBus_SubscribeAsync(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()

	received := make(chan Event, 1)
	_, err := bus.SubscribeAsync("process.*", func(ctx context.Context, e Event) error {
		received <- e
		return nil
	}, 10)
	require.NoError(t, err)

	bus.Publish(context.Background(), Event{Type: EventProcessExited, Environment: "env-2"})

	select {
	case e := <-received:
		assert.Equal(t, "env-2", e.Environment)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async event")
	}
}

func TestMemoryEventBus_History(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{HistoryMaxEvents: 100})
	defer bus.Close()

	bus.Publish(context.Background(), Event{Type: EventEnvironmentCreated, Environment: "a"})
	bus.Publish(context.Background(), Event{Type: EventEnvironmentCreated, Environment: "b"})
	bus.Publish(context.Background(), Event{Type: EventProcessStarted, Environment: "a"})

	got, err := bus.History(EventFilter{Environment: "a"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = bus.History(EventFilter{Types: []string{"environment.*"}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Environment)
}

func TestMemoryEventBus_PublishAfterClose(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	require.NoError(t, bus.Close())

	err := bus.Publish(context.Background(), Event{Type: EventEnvironmentCreated})
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestPatternMatcher_Match(t *testing.T) {
	pm := NewPatternMatcher()

	tests := []struct {
		eventType string
		pattern   string
		want      bool
	}{
		{"environment.created", "*", true},
		{"environment.created", "environment.created", true},
		{"environment.created", "environment.*", true},
		{"process.exited", "environment.*", false},
		{"process.exited", "*.exited", true},
		{"process.exited", "*.started", false},
		{"", "*", false},
		{"environment.created", "", false},
	}

	for _, tt := range tests {
		if got := pm.Match(tt.eventType, tt.pattern); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.eventType, tt.pattern, got, tt.want)
		}
	}
}
