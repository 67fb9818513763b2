// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package terminal

import (
	"context"
	"io"

	"github.com/wingedpig/burrow/internal/container"
)

// ContainerSessionSpec describes a terminal attached to an environment
// container.
type ContainerSessionSpec struct {
	ContainerID string
	WorkDir     string

	// Cmd is the setup-then-shell command launched inside the exec.
	Cmd []string

	// Env is the extra environment for the exec, on top of the container's
	// declared environment.
	Env []string

	Cols int
	Rows int
}

// ContainerExecer is the slice of the container backend terminal sessions
// need.
type ContainerExecer interface {
	CreateInteractiveExec(ctx context.Context, containerID string, spec container.InteractiveExecSpec) (string, error)
	AttachExec(ctx context.Context, execID string) (io.ReadWriteCloser, error)
	ResizeExec(ctx context.Context, execID string, cols, rows int) error
}

// CreateContainerSession registers a Created session backed by a container
// exec.
func (m *Manager) CreateContainerSession(id string, execer ContainerExecer, spec ContainerSessionSpec) error {
	return m.create(id, &containerBackend{execer: execer, spec: spec}, spec.Cols, spec.Rows)
}

type containerBackend struct {
	execer ContainerExecer
	spec   ContainerSessionSpec
}

func (b *containerBackend) start(ctx context.Context, cols, rows int) (io.ReadWriteCloser, resizeFunc, error) {
	execID, err := b.execer.CreateInteractiveExec(ctx, b.spec.ContainerID, container.InteractiveExecSpec{
		WorkDir: b.spec.WorkDir,
		Cmd:     b.spec.Cmd,
		Env:     b.spec.Env,
		Cols:    cols,
		Rows:    rows,
	})
	if err != nil {
		return nil, nil, err
	}

	stream, err := b.execer.AttachExec(ctx, execID)
	if err != nil {
		return nil, nil, err
	}

	resize := func(ctx context.Context, cols, rows int) error {
		return b.execer.ResizeExec(ctx, execID, cols, rows)
	}
	return stream, resize, nil
}
