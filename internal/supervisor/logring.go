// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"strings"
	"sync"
)

const defaultLogRingSize = 1000

// LogRing is a thread-safe ring buffer holding the most recent output lines
// of a supervised process. Its tail is attached to health-timeout errors so
// a failed start can be diagnosed without re-running.
type LogRing struct {
	mu       sync.RWMutex
	lines    []string
	capacity int
	size     int
	head     int // next write position
}

// NewLogRing creates a ring buffer with the given capacity.
func NewLogRing(capacity int) *LogRing {
	if capacity <= 0 {
		capacity = defaultLogRingSize
	}
	return &LogRing{
		lines:    make([]string, capacity),
		capacity: capacity,
	}
}

// Write adds a single line to the buffer.
func (r *LogRing) Write(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines[r.head] = line
	r.head = (r.head + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// Lines returns the last n lines in chronological order.
func (r *LogRing) Lines(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n > r.size {
		n = r.size
	}

	result := make([]string, 0, n)
	start := (r.head - n + r.capacity) % r.capacity
	for i := 0; i < n; i++ {
		result = append(result, r.lines[(start+i)%r.capacity])
	}
	return result
}

// Tail returns the last n lines joined with newlines, for error messages.
func (r *LogRing) Tail(n int) string {
	return strings.Join(r.Lines(n), "\n")
}

// Size returns the number of buffered lines.
func (r *LogRing) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}
