// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/wingedpig/burrow/internal/events"
)

const (
	ownedStopTimeout     = 10 * time.Second
	recoveredStopTimeout = 3 * time.Second
	maxLogLineLen        = 1024 * 1024
)

// Supervisor tracks native server processes per (environment, kind).
type Supervisor struct {
	mu    sync.Mutex
	procs map[procKey]processHandle
	rings map[procKey]*LogRing
	bus   events.EventBus

	startMu    sync.Mutex
	startLocks map[string]*sync.Mutex

	healthMu          sync.RWMutex
	healthInterval    time.Duration
	healthMaxAttempts int
}

// New creates a supervisor with the given health-poll settings.
func New(bus events.EventBus, healthInterval time.Duration, healthMaxAttempts int) *Supervisor {
	s := &Supervisor{
		procs:      make(map[procKey]processHandle),
		rings:      make(map[procKey]*LogRing),
		bus:        bus,
		startLocks: make(map[string]*sync.Mutex),
	}
	s.SetHealthPolicy(healthInterval, healthMaxAttempts)
	return s
}

// SetHealthPolicy replaces the health-poll settings used by subsequent
// server starts. Zero or negative values select the defaults.
func (s *Supervisor) SetHealthPolicy(interval time.Duration, maxAttempts int) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	if maxAttempts <= 0 {
		maxAttempts = 75
	}
	s.healthMu.Lock()
	s.healthInterval = interval
	s.healthMaxAttempts = maxAttempts
	s.healthMu.Unlock()
}

func (s *Supervisor) healthPolicy() (time.Duration, int) {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.healthInterval, s.healthMaxAttempts
}

// Spawn launches a process with captured output and tracks it as owned.
// Returns the PID.
func (s *Supervisor) Spawn(ctx context.Context, envID string, kind ProcessKind, spec SpawnSpec) (int, error) {
	key := procKey{envID: envID, kind: kind}

	ring := NewLogRing(defaultLogRingSize)

	cmd := buildCommand(spec)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("stderr pipe: %w", err)
	}

	ring.Write(fmt.Sprintf("[burrow] Starting %s: %s %v (workdir: %s)", kind, spec.Command, spec.Args, spec.Dir))

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s server: %w", kind, err)
	}

	handle := &ownedHandle{
		cmd:      cmd,
		logs:     ring,
		waitDone: make(chan struct{}),
		started:  time.Now(),
	}

	s.mu.Lock()
	s.procs[key] = handle
	s.rings[key] = ring
	s.mu.Unlock()

	// Wait must not run until both pipes hit EOF, or it closes them under
	// the readers and drops tail output.
	var readers sync.WaitGroup
	readers.Add(2)
	go func() { defer readers.Done(); s.captureOutput(ring, stdout) }()
	go func() { defer readers.Done(); s.captureOutput(ring, stderr) }()
	go s.waitForExit(key, handle, &readers)

	pid := cmd.Process.Pid

	if s.bus != nil {
		s.bus.Publish(ctx, events.Event{
			Type:        events.EventProcessStarted,
			Environment: envID,
			Payload:     map[string]interface{}{"kind": kind.String(), "pid": pid},
		})
	}

	return pid, nil
}

// IsRunning reports whether the tracked process for the key is alive. This
// is a liveness probe (signal 0), not a supervision guarantee: a crashed
// process is treated as dead once the probe fails.
func (s *Supervisor) IsRunning(envID string, kind ProcessKind) bool {
	s.mu.Lock()
	handle, ok := s.procs[procKey{envID: envID, kind: kind}]
	s.mu.Unlock()

	if !ok {
		return false
	}
	return pidAlive(handle.pid())
}

// TrackedPID returns the tracked PID, or 0 when none is tracked.
func (s *Supervisor) TrackedPID(envID string, kind ProcessKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if handle, ok := s.procs[procKey{envID: envID, kind: kind}]; ok {
		return handle.pid()
	}
	return 0
}

// RecoverFromPid re-attaches a tracking handle to a PID persisted by a
// previous daemon lifetime, if the PID is still alive. Used at startup and
// before a fresh spawn to avoid orphaning a server that is already up.
func (s *Supervisor) RecoverFromPid(envID string, kind ProcessKind, pid int) bool {
	if pid <= 0 || !pidAlive(pid) {
		return false
	}

	key := procKey{envID: envID, kind: kind}
	s.mu.Lock()
	s.procs[key] = &recoveredHandle{processID: pid}
	if s.rings[key] == nil {
		s.rings[key] = NewLogRing(defaultLogRingSize)
	}
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(context.Background(), events.Event{
			Type:        events.EventProcessRecovered,
			Environment: envID,
			Payload:     map[string]interface{}{"kind": kind.String(), "pid": pid},
		})
	}
	return true
}

// Kill terminates the tracked process for the key. Killing an untracked key
// is a no-op success. Owned handles get a graceful stop with escalation;
// recovered handles get SIGTERM, a short wait, then SIGKILL.
func (s *Supervisor) Kill(ctx context.Context, envID string, kind ProcessKind) error {
	key := procKey{envID: envID, kind: kind}

	s.mu.Lock()
	handle, ok := s.procs[key]
	delete(s.procs, key)
	s.mu.Unlock()

	if !ok {
		return nil
	}

	switch h := handle.(type) {
	case *ownedHandle:
		return s.killOwned(ctx, h)
	case *recoveredHandle:
		return killRecovered(h.processID)
	default:
		return fmt.Errorf("unknown handle type %T", handle)
	}
}

func (s *Supervisor) killOwned(ctx context.Context, h *ownedHandle) error {
	if h.cmd == nil || h.cmd.Process == nil {
		return nil
	}

	// Signal the process group (negative PID) to take children down too
	pgid := h.cmd.Process.Pid
	syscall.Kill(-pgid, syscall.SIGTERM)

	select {
	case <-h.waitDone:
	case <-time.After(ownedStopTimeout):
		syscall.Kill(-pgid, syscall.SIGKILL)
		<-h.waitDone
	case <-ctx.Done():
		syscall.Kill(-pgid, syscall.SIGKILL)
		<-h.waitDone
	}
	return nil
}

func killRecovered(pid int) error {
	if !pidAlive(pid) {
		return nil
	}

	syscall.Kill(pid, syscall.SIGTERM)

	deadline := time.Now().Add(recoveredStopTimeout)
	for time.Now().Before(deadline) {
		if !pidAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	syscall.Kill(pid, syscall.SIGKILL)
	return nil
}

// Tail returns the last n log lines for a tracked (or recently tracked)
// process.
func (s *Supervisor) Tail(envID string, kind ProcessKind, n int) []string {
	s.mu.Lock()
	ring := s.rings[procKey{envID: envID, kind: kind}]
	s.mu.Unlock()

	if ring == nil {
		return nil
	}
	return ring.Lines(n)
}

func (s *Supervisor) captureOutput(ring *LogRing, r io.Reader) {
	br := bufio.NewReader(r)

	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimSuffix(line, "\n")
			line = strings.TrimSuffix(line, "\r")
			if len(line) > maxLogLineLen {
				line = line[:maxLogLineLen] + "... [truncated]"
			}
			ring.Write(line)
		}
		if err != nil {
			if err != io.EOF {
				ring.Write(fmt.Sprintf("[burrow] Output read error: %v", err))
			}
			break
		}
	}
}

func (s *Supervisor) waitForExit(key procKey, h *ownedHandle, readers *sync.WaitGroup) {
	readers.Wait()
	err := h.cmd.Wait()

	if err != nil {
		h.logs.Write(fmt.Sprintf("[burrow] Process exited with error: %v", err))
	} else {
		h.logs.Write("[burrow] Process exited cleanly")
	}

	// Drop the handle if it is still ours; Kill may already have replaced
	// or removed it
	s.mu.Lock()
	if s.procs[key] == h {
		delete(s.procs, key)
	}
	s.mu.Unlock()

	close(h.waitDone)

	if s.bus != nil {
		exitCode := 0
		if err != nil {
			exitCode = -1
			if exitErr, ok := err.(interface{ ExitCode() int }); ok {
				exitCode = exitErr.ExitCode()
			}
		}
		s.bus.Publish(context.Background(), events.Event{
			Type:        events.EventProcessExited,
			Environment: key.envID,
			Payload:     map[string]interface{}{"kind": key.kind.String(), "exitCode": exitCode},
		})
	}
}

// startLock returns the per-environment lock serializing the whole
// check-spawn-poll start sequence.
func (s *Supervisor) startLock(envID string) *sync.Mutex {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	lock, ok := s.startLocks[envID]
	if !ok {
		lock = &sync.Mutex{}
		s.startLocks[envID] = lock
	}
	return lock
}

// pidAlive probes a PID with signal 0.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// augmentedEnv builds the child environment from the parent's, overlaying
// extra variables and extending PATH with common install locations.
// Packaged desktop apps frequently launch with a minimal PATH that misses
// user-installed tools.
func augmentedEnv(extra map[string]string) []string {
	env := os.Environ()

	pathExtras := []string{"/usr/local/bin", "/opt/homebrew/bin"}
	if home, err := os.UserHomeDir(); err == nil {
		pathExtras = append(pathExtras, filepath.Join(home, ".local", "bin"))
	}

	for i, kv := range env {
		if !strings.HasPrefix(kv, "PATH=") {
			continue
		}
		path := strings.TrimPrefix(kv, "PATH=")
		for _, extraDir := range pathExtras {
			if !containsPathDir(path, extraDir) {
				path = path + string(os.PathListSeparator) + extraDir
			}
		}
		env[i] = "PATH=" + path
		break
	}

	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

func containsPathDir(path, dir string) bool {
	for _, p := range filepath.SplitList(path) {
		if p == dir {
			return true
		}
	}
	return false
}
