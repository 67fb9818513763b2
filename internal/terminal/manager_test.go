// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package terminal

import (
	"context"
	"io"
	"net"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoBackend loops every written byte straight back, standing in for a
// shell.
type echoBackend struct {
	resizes [][2]int
	stream  net.Conn
}

func (b *echoBackend) start(ctx context.Context, cols, rows int) (io.ReadWriteCloser, resizeFunc, error) {
	local, remote := net.Pipe()
	go io.Copy(remote, remote)
	b.stream = local
	resize := func(ctx context.Context, cols, rows int) error {
		b.resizes = append(b.resizes, [2]int{cols, rows})
		return nil
	}
	return local, resize, nil
}

func startEchoSession(t *testing.T, m *Manager, id string) *echoBackend {
	t.Helper()
	b := &echoBackend{}
	require.NoError(t, m.create(id, b, 80, 24))
	require.NoError(t, m.Start(context.Background(), id))
	return b
}

func collect(t *testing.T, output <-chan []byte, want string) string {
	t.Helper()
	var sb strings.Builder
	deadline := time.After(5 * time.Second)
	for !strings.Contains(sb.String(), want) {
		select {
		case chunk, ok := <-output:
			if !ok {
				t.Fatalf("output closed before %q arrived, got %q", want, sb.String())
			}
			sb.Write(chunk)
		case <-deadline:
			t.Fatalf("timed out waiting for %q, got %q", want, sb.String())
		}
	}
	return sb.String()
}

func TestRoundTripInOrder(t *testing.T) {
	m := NewManager()
	startEchoSession(t, m, "s1")

	out, err := m.Output("s1")
	require.NoError(t, err)

	require.NoError(t, m.Write("s1", []byte("first ")))
	require.NoError(t, m.Write("s1", []byte("second ")))
	require.NoError(t, m.Write("s1", []byte("third")))

	got := collect(t, out, "third")
	assert.Contains(t, got, "first second third")

	require.NoError(t, m.Close("s1"))
}

func TestWriteUnknownSession(t *testing.T) {
	m := NewManager()
	assert.ErrorIs(t, m.Write("nope", []byte("x")), ErrSessionNotFound)
}

func TestWriteBeforeStart(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.create("s1", &echoBackend{}, 80, 24))
	assert.ErrorIs(t, m.Write("s1", []byte("x")), ErrSessionNotStarted)
	_, err := m.Output("s1")
	assert.ErrorIs(t, err, ErrSessionNotStarted)
}

func TestDuplicateCreate(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.create("s1", &echoBackend{}, 80, 24))
	assert.ErrorIs(t, m.create("s1", &echoBackend{}, 80, 24), ErrSessionExists)
}

func TestCloseTwice(t *testing.T) {
	m := NewManager()
	startEchoSession(t, m, "s1")

	require.NoError(t, m.Close("s1"))
	assert.ErrorIs(t, m.Close("s1"), ErrSessionNotFound)
	assert.Equal(t, 0, m.Count())
}

func TestCloseEndsOutput(t *testing.T) {
	m := NewManager()
	startEchoSession(t, m, "s1")

	out, err := m.Output("s1")
	require.NoError(t, err)
	require.NoError(t, m.Close("s1"))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-out:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("output channel never closed")
		}
	}
}

// floodStream produces output endlessly until closed, so the reader
// goroutine is guaranteed to fill the output buffer and block on the send.
type floodStream struct {
	once sync.Once
	done chan struct{}
}

func (f *floodStream) Read(p []byte) (int, error) {
	select {
	case <-f.done:
		return 0, io.EOF
	default:
	}
	for i := range p {
		p[i] = 'x'
	}
	return len(p), nil
}

func (f *floodStream) Write(p []byte) (int, error) { return len(p), nil }

func (f *floodStream) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

type floodBackend struct{}

func (b *floodBackend) start(ctx context.Context, cols, rows int) (io.ReadWriteCloser, resizeFunc, error) {
	return &floodStream{done: make(chan struct{})}, nil, nil
}

func TestCloseUnblocksStalledReader(t *testing.T) {
	m := NewManager()
	before := runtime.NumGoroutine()

	require.NoError(t, m.create("s1", &floodBackend{}, 80, 24))
	require.NoError(t, m.Start(context.Background(), "s1"))

	// Nobody drains the output channel, so the reader ends up stalled on a
	// full buffer. Close must still release it.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, m.Close("s1"))

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 5*time.Second, 20*time.Millisecond, "session goroutines survived Close")
}

func TestResizePropagates(t *testing.T) {
	m := NewManager()
	b := startEchoSession(t, m, "s1")

	require.NoError(t, m.Resize(context.Background(), "s1", 120, 40))
	assert.Equal(t, [][2]int{{120, 40}}, b.resizes)

	assert.ErrorIs(t, m.Resize(context.Background(), "missing", 1, 1), ErrSessionNotFound)
}

func TestResizeBeforeStartIsStored(t *testing.T) {
	m := NewManager()
	b := &echoBackend{}
	require.NoError(t, m.create("s1", b, 80, 24))

	require.NoError(t, m.Resize(context.Background(), "s1", 132, 50))
	require.NoError(t, m.Start(context.Background(), "s1"))

	m.mu.RLock()
	s := m.sessions["s1"]
	m.mu.RUnlock()
	assert.Equal(t, 132, s.cols)
	assert.Equal(t, 50, s.rows)
}

func TestPTYShellRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a real shell")
	}

	m := NewManager()
	require.NoError(t, m.CreatePTYSession("pty1", PTYSessionSpec{
		WorkDir: t.TempDir(),
		Shell:   "/bin/sh",
		Cols:    80,
		Rows:    24,
	}))
	require.NoError(t, m.Start(context.Background(), "pty1"))
	defer m.Close("pty1")

	out, err := m.Output("pty1")
	require.NoError(t, err)

	require.NoError(t, m.Write("pty1", []byte("echo burrow_ok\n")))
	collect(t, out, "burrow_ok")
}
