// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	containertypes "github.com/docker/docker/api/types/container"
)

// InteractiveExecSpec describes an interactive TTY exec for a terminal
// session.
type InteractiveExecSpec struct {
	WorkDir string
	Cmd     []string
	Env     []string
	Cols    int
	Rows    int
}

// CreateInteractiveExec creates (but does not attach) a TTY exec. The
// terminal dimensions ride along as COLUMNS/LINES so full-screen programs
// start with the right size before the first resize call lands.
func (b *Backend) CreateInteractiveExec(ctx context.Context, containerID string, spec InteractiveExecSpec) (string, error) {
	env := append([]string{}, spec.Env...)
	if spec.Cols > 0 && spec.Rows > 0 {
		env = append(env, fmt.Sprintf("COLUMNS=%d", spec.Cols), fmt.Sprintf("LINES=%d", spec.Rows))
	}

	created, err := b.cli.ContainerExecCreate(ctx, containerID, containertypes.ExecOptions{
		Cmd:          spec.Cmd,
		WorkingDir:   spec.WorkDir,
		Env:          env,
		Tty:          true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if isNotFound(err) {
			return "", ErrContainerNotFound
		}
		return "", fmt.Errorf("create interactive exec: %w", err)
	}
	return created.ID, nil
}

// AttachExec attaches to a created exec and returns its raw TTY stream.
// With a TTY the stream is not multiplexed; bytes pass through untouched.
func (b *Backend) AttachExec(ctx context.Context, execID string) (io.ReadWriteCloser, error) {
	resp, err := b.cli.ContainerExecAttach(ctx, execID, containertypes.ExecAttachOptions{Tty: true})
	if err != nil {
		return nil, fmt.Errorf("attach exec: %w", err)
	}
	return &hijackStream{resp: resp}, nil
}

// ResizeExec retargets the exec's reported terminal dimensions.
func (b *Backend) ResizeExec(ctx context.Context, execID string, cols, rows int) error {
	return b.cli.ContainerExecResize(ctx, execID, containertypes.ResizeOptions{
		Width:  uint(cols),
		Height: uint(rows),
	})
}

// hijackStream adapts a hijacked connection to io.ReadWriteCloser.
type hijackStream struct {
	resp types.HijackedResponse
}

func (s *hijackStream) Read(p []byte) (int, error) { return s.resp.Reader.Read(p) }

func (s *hijackStream) Write(p []byte) (int, error) { return s.resp.Conn.Write(p) }

func (s *hijackStream) Close() error {
	s.resp.Close()
	return nil
}
