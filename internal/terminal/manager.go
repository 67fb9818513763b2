// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package terminal multiplexes live interactive terminal I/O for attached
// sessions. A transient session moves Created -> Started -> Closed and is
// backed either by an interactive container exec or by a native PTY; the
// consumer sees the same channel shape regardless of the backend.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
)

var (
	// ErrSessionNotFound means the session id is unknown (or already closed).
	ErrSessionNotFound = errors.New("terminal session not found")

	// ErrSessionExists means a session with this id was already created.
	ErrSessionExists = errors.New("terminal session already exists")

	// ErrSessionNotStarted means the session has no live stream yet.
	ErrSessionNotStarted = errors.New("terminal session not started")
)

const (
	inputQueueSize  = 64
	outputQueueSize = 64
	readChunkSize   = 4096
)

// resizeFunc propagates new terminal dimensions to a live backend handle.
type resizeFunc func(ctx context.Context, cols, rows int) error

// backend launches the concrete terminal for a session. Implementations are
// the container-exec backend and the native-PTY backend.
type backend interface {
	start(ctx context.Context, cols, rows int) (io.ReadWriteCloser, resizeFunc, error)
}

type sessionState int

const (
	stateCreated sessionState = iota
	stateStarted
)

type session struct {
	id      string
	state   sessionState
	backend backend

	cols int
	rows int

	stream io.ReadWriteCloser
	resize resizeFunc
	input  chan []byte
	output chan []byte
	done   chan struct{}
}

// Manager owns all transient terminal sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*session)}
}

// create registers a session in Created state.
func (m *Manager) create(id string, b backend, cols, rows int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	m.sessions[id] = &session{id: id, backend: b, cols: cols, rows: rows}
	return nil
}

// Start launches the backend and begins streaming. Exactly one reader and
// one writer goroutine run per started session; both end when the stream
// dies or Close signals done.
func (m *Manager) Start(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if s.state == stateStarted {
		m.mu.Unlock()
		return nil
	}
	cols, rows := s.cols, s.rows
	m.mu.Unlock()

	stream, resize, err := s.backend.start(ctx, cols, rows)
	if err != nil {
		return fmt.Errorf("start session %s: %w", id, err)
	}

	m.mu.Lock()
	s.stream = stream
	s.resize = resize
	s.input = make(chan []byte, inputQueueSize)
	s.output = make(chan []byte, outputQueueSize)
	s.done = make(chan struct{})
	s.state = stateStarted
	m.mu.Unlock()

	go readLoop(stream, s.output, s.done)
	go writeLoop(stream, s.input, s.done)

	return nil
}

// readLoop forwards backend output to the output channel in production
// order, closing it when the stream ends. The done channel bounds the send:
// a consumer that stopped draining must not pin this goroutine past Close.
func readLoop(stream io.Reader, output chan<- []byte, done <-chan struct{}) {
	defer close(output)
	for {
		buf := make([]byte, readChunkSize)
		n, err := stream.Read(buf)
		if n > 0 {
			select {
			case output <- buf[:n]:
			case <-done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// writeLoop drains the input channel into the backend in order, ending when
// Close signals done or the stream dies.
func writeLoop(stream io.Writer, input <-chan []byte, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case data := <-input:
			if _, err := stream.Write(data); err != nil {
				return
			}
		}
	}
}

// Output returns the session's output channel. The channel closes when the
// backend stream ends.
func (m *Manager) Output(id string) (<-chan []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if s.state != stateStarted {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotStarted, id)
	}
	return s.output, nil
}

// Write enqueues bytes for the session's backend.
func (m *Manager) Write(id string, data []byte) error {
	m.mu.RLock()
	s, ok := m.sessions[id]
	started := ok && s.state == stateStarted
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if !started {
		return fmt.Errorf("%w: %s", ErrSessionNotStarted, id)
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case s.input <- buf:
		return nil
	case <-s.done:
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
}

// Resize records new dimensions and propagates them to the backend when the
// handle is live. Propagation failure is logged, not returned: a terminal
// with stale dimensions degrades gracefully.
func (m *Manager) Resize(ctx context.Context, id string, cols, rows int) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.cols, s.rows = cols, rows
	resize := s.resize
	started := s.state == stateStarted
	m.mu.Unlock()

	if started && resize != nil {
		if err := resize(ctx, cols, rows); err != nil {
			log.Printf("terminal: resize of %s to %dx%d failed: %v", id, cols, rows, err)
		}
	}
	return nil
}

// Close releases the session. The input channel closes (ending the writer),
// the stream closes (ending the reader), and the record is removed. Closing
// an unknown or already-closed id returns ErrSessionNotFound.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	teardown(s)
	return nil
}

// CloseAll closes every session, for daemon shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	for _, s := range sessions {
		teardown(s)
	}
}

func teardown(s *session) {
	if s.state != stateStarted {
		return
	}
	close(s.done)
	if err := s.stream.Close(); err != nil {
		log.Printf("terminal: closing stream of %s: %v", s.id, err)
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
