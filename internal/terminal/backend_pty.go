// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package terminal

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// PTYSessionSpec describes a terminal backed by a native pseudo-terminal
// running the user's login shell in a worktree.
type PTYSessionSpec struct {
	// WorkDir is the worktree path the shell starts in.
	WorkDir string

	// Shell overrides the user's shell; empty consults $SHELL then falls
	// back to /bin/bash.
	Shell string

	Env []string

	Cols int
	Rows int
}

// CreatePTYSession registers a Created session backed by a native PTY.
func (m *Manager) CreatePTYSession(id string, spec PTYSessionSpec) error {
	return m.create(id, &ptyBackend{spec: spec}, spec.Cols, spec.Rows)
}

type ptyBackend struct {
	spec PTYSessionSpec
}

func (b *ptyBackend) start(ctx context.Context, cols, rows int) (io.ReadWriteCloser, resizeFunc, error) {
	shell := b.spec.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/bash"
	}

	cmd := exec.Command(shell, "-l")
	cmd.Dir = b.spec.WorkDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	cmd.Env = append(cmd.Env, b.spec.Env...)

	size := &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}
	if cols <= 0 || rows <= 0 {
		size = &pty.Winsize{Cols: 80, Rows: 24}
	}

	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, nil, fmt.Errorf("start shell %s: %w", shell, err)
	}

	// Reap the shell once the PTY is torn down, so closed sessions do not
	// accumulate zombies.
	go cmd.Wait()

	resize := func(ctx context.Context, cols, rows int) error {
		return pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	}
	return ptmx, resize, nil
}
