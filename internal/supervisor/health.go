// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	ps "github.com/mitchellh/go-ps"

	"github.com/wingedpig/burrow/internal/ports"
)

// StartRequest describes one server start. Port and PID carry values
// persisted by a previous daemon lifetime and may be zero.
type StartRequest struct {
	EnvID string
	Kind  ProcessKind

	// Previously persisted state, zero when the environment has never run.
	Port int
	PID  int

	// Spawn builds the spawn spec for the port the server must listen on.
	Spawn func(port int) SpawnSpec

	// PersistPort and PersistPID record allocation results so a later
	// daemon lifetime can find the server again. Persist failures abort
	// the start; an unrecorded server is worse than a failed start.
	PersistPort func(port int) error
	PersistPID  func(pid int) error

	Allocator *ports.Allocator

	// Recorded returns the ports already persisted on other environments,
	// so a reallocation cannot collide with a server that is merely
	// stopped at the moment.
	Recorded func() map[int]bool
}

// StartServer brings a server up for an environment: reuse a still-healthy
// process from a previous lifetime, otherwise clear stale state, pick a
// port, spawn, and poll the health endpoint until the server answers.
// The whole sequence holds the per-environment start lock, so concurrent
// starts of the same environment serialize and the second caller sees the
// first one's result.
func (s *Supervisor) StartServer(ctx context.Context, req StartRequest) (StartResult, error) {
	lock := s.startLock(req.EnvID)
	lock.Lock()
	defer lock.Unlock()

	// A process from a previous lifetime that still answers health checks
	// is reused as-is.
	if req.PID > 0 && pidAlive(req.PID) && s.processMatches(req.PID, req.Spawn, req.Port) {
		if req.Port > 0 && healthOK(ctx, req.Port) {
			s.RecoverFromPid(req.EnvID, req.Kind, req.PID)
			log.Printf("supervisor: reusing healthy %s server for %s (pid %d, port %d)", req.Kind, req.EnvID, req.PID, req.Port)
			return StartResult{Port: req.Port, PID: req.PID, WasRunning: true}, nil
		}
		// Alive but not healthy: take it down before spawning fresh.
		log.Printf("supervisor: killing unhealthy %s server for %s (pid %d)", req.Kind, req.EnvID, req.PID)
		if err := killRecovered(req.PID); err != nil {
			return StartResult{}, fmt.Errorf("kill stale %s server (pid %d): %w", req.Kind, req.PID, err)
		}
	}

	port, err := s.pickPort(req)
	if err != nil {
		return StartResult{}, err
	}
	if port != req.Port && req.PersistPort != nil {
		if err := req.PersistPort(port); err != nil {
			return StartResult{}, fmt.Errorf("persist %s port: %w", req.Kind, err)
		}
	}

	pid, err := s.Spawn(ctx, req.EnvID, req.Kind, req.Spawn(port))
	if err != nil {
		return StartResult{}, err
	}
	if req.PersistPID != nil {
		if err := req.PersistPID(pid); err != nil {
			s.Kill(context.Background(), req.EnvID, req.Kind)
			return StartResult{}, fmt.Errorf("persist %s pid: %w", req.Kind, err)
		}
	}

	if err := s.awaitHealthy(ctx, req.EnvID, req.Kind, port); err != nil {
		return StartResult{}, err
	}

	return StartResult{Port: port, PID: pid}, nil
}

// pickPort reuses the persisted port when it is still free, otherwise
// allocates a fresh one. A busy persisted port means some other process
// claimed it while the environment was down; the server moves rather than
// fighting over it.
func (s *Supervisor) pickPort(req StartRequest) (int, error) {
	if req.Port > 0 && portFree(req.Port) {
		return req.Port, nil
	}
	if req.Port > 0 {
		log.Printf("supervisor: persisted port %d for %s/%s is in use, reallocating", req.Port, req.EnvID, req.Kind)
	}
	if req.Allocator == nil {
		return 0, fmt.Errorf("no free port for %s server and no allocator configured", req.Kind)
	}
	var recorded map[int]bool
	if req.Recorded != nil {
		recorded = req.Recorded()
	}
	return req.Allocator.Allocate(recorded)
}

func (s *Supervisor) awaitHealthy(ctx context.Context, envID string, kind ProcessKind, port int) error {
	interval, maxAttempts := s.healthPolicy()
	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			s.Kill(context.Background(), envID, kind)
			return ctx.Err()
		case <-time.After(interval):
		}

		if healthOK(ctx, port) {
			return nil
		}
		if !s.IsRunning(envID, kind) {
			return fmt.Errorf("%s server exited before becoming healthy:\n%s",
				kind, strings.Join(s.Tail(envID, kind, 20), "\n"))
		}
	}

	tail := strings.Join(s.Tail(envID, kind, 20), "\n")
	s.Kill(context.Background(), envID, kind)
	return fmt.Errorf("%s server on port %d did not become healthy within %v:\n%s",
		kind, port, time.Duration(maxAttempts)*interval, tail)
}

// processMatches guards against PID reuse: the persisted PID may now belong
// to an unrelated process, which must not be killed or trusted.
func (s *Supervisor) processMatches(pid int, spawn func(int) SpawnSpec, port int) bool {
	proc, err := ps.FindProcess(pid)
	if err != nil || proc == nil {
		return false
	}
	want := filepath.Base(spawn(port).Command)
	got := filepath.Base(proc.Executable())
	// Executable names are truncated on some platforms; prefix match both
	// ways.
	return strings.HasPrefix(want, got) || strings.HasPrefix(got, want)
}

func healthOK(ctx context.Context, port int) bool {
	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://127.0.0.1:%d/global/health", port)
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func portFree(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
