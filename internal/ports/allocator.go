// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ports assigns local TCP ports to Local-backend environments.
package ports

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// Default port range contract: Local-backend servers only ever bind within
// this range.
const (
	DefaultRangeStart = 14096
	DefaultRangeEnd   = 15096
)

// ErrExhausted is returned when every port in the range is recorded or
// unbindable.
var ErrExhausted = errors.New("port range exhausted")

// Allocator hands out distinct, bindable ports from a fixed range.
type Allocator struct {
	mu    sync.Mutex
	start int
	end   int
	next  int

	// probe reports whether a port is actually bindable. Overridable in
	// tests.
	probe func(port int) bool
}

// NewAllocator creates an allocator over [start, end]. Zero values select
// the default range.
func NewAllocator(start, end int) *Allocator {
	if start == 0 {
		start = DefaultRangeStart
	}
	if end == 0 {
		end = DefaultRangeEnd
	}
	return &Allocator{
		start: start,
		end:   end,
		next:  start,
		probe: bindable,
	}
}

// AllocatePair returns two distinct ports, each absent from recorded (the
// ports already persisted on other environments) and verified bindable.
// Membership in the recorded set alone is not trusted: a port can be held
// by an unrelated process, and a recorded port can belong to a dead one.
func (a *Allocator) AllocatePair(recorded map[int]bool) (int, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	first, err := a.allocateLocked(recorded)
	if err != nil {
		return 0, 0, err
	}
	second, err := a.allocateLocked(map[int]bool{first: true}, recorded)
	if err != nil {
		return 0, 0, err
	}
	return first, second, nil
}

// Allocate returns a single free port.
func (a *Allocator) Allocate(recorded map[int]bool) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocateLocked(recorded)
}

func (a *Allocator) allocateLocked(recordedSets ...map[int]bool) (int, error) {
	size := a.end - a.start + 1

	for i := 0; i < size; i++ {
		port := a.next
		a.next++
		if a.next > a.end {
			a.next = a.start
		}

		if recorded(recordedSets, port) {
			continue
		}
		if !a.probe(port) {
			continue
		}
		return port, nil
	}

	return 0, fmt.Errorf("no bindable port in %d-%d: %w", a.start, a.end, ErrExhausted)
}

func recorded(sets []map[int]bool, port int) bool {
	for _, set := range sets {
		if set[port] {
			return true
		}
	}
	return false
}

// bindable checks that a listener can actually be opened on the port.
func bindable(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}
