// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package supervisor owns the mapping from (environment, process kind) to a
// running native server process: spawning, liveness probing, recovery from
// persisted PIDs, and termination.
package supervisor

import (
	"os/exec"
	"time"
)

// ProcessKind identifies which server a tracked process is.
type ProcessKind int

const (
	AgentServer ProcessKind = iota
	BridgeServer
)

func (k ProcessKind) String() string {
	switch k {
	case AgentServer:
		return "agent"
	case BridgeServer:
		return "bridge"
	default:
		return "unknown"
	}
}

// SpawnSpec describes a process to launch. The command is always an explicit
// argv array; nothing is ever passed through a shell.
type SpawnSpec struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
}

// StartResult reports the outcome of a health-checked server start.
type StartResult struct {
	Port       int
	PID        int
	WasRunning bool
}

// processHandle is the tracked state for one process. The two variants are
// deliberately distinct types: kill semantics differ between a child this
// process spawned and a PID recovered from a previous run, and a type switch
// keeps that logic exhaustive.
type processHandle interface {
	pid() int
}

// ownedHandle wraps a child process spawned by this supervisor instance.
type ownedHandle struct {
	cmd      *exec.Cmd
	logs     *LogRing
	waitDone chan struct{}
	started  time.Time
}

func (h *ownedHandle) pid() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// recoveredHandle references a PID persisted by a previous daemon lifetime.
// There is no child handle to wait on; only signals apply.
type recoveredHandle struct {
	processID int
}

func (h *recoveredHandle) pid() int {
	return h.processID
}

type procKey struct {
	envID string
	kind  ProcessKind
}
