// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"bytes"
	"context"
	"fmt"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

// ExecResult is the outcome of a one-shot command run inside a container.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Exec runs a command inside a container and returns its combined output.
// There is no exit code here; callers that need reliable success/failure use
// ExecWithExitStatus instead of sniffing output for error strings.
func (b *Backend) Exec(ctx context.Context, containerID string, argv []string) (string, error) {
	res, err := b.ExecWithExitStatus(ctx, containerID, argv)
	if err != nil {
		return "", err
	}
	return res.Stdout + res.Stderr, nil
}

// ExecWithExitStatus runs a command inside a container and returns split
// stdout/stderr plus the exit code. Deadlines come from ctx; a canceled
// context abandons the stream and surfaces ctx's error.
func (b *Backend) ExecWithExitStatus(ctx context.Context, containerID string, argv []string) (ExecResult, error) {
	if len(argv) == 0 {
		return ExecResult{}, fmt.Errorf("exec requires a command")
	}

	created, err := b.cli.ContainerExecCreate(ctx, containerID, containertypes.ExecOptions{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if isNotFound(err) {
			return ExecResult{}, ErrContainerNotFound
		}
		return ExecResult{}, fmt.Errorf("create exec: %w", err)
	}

	attached, err := b.cli.ContainerExecAttach(ctx, created.ID, containertypes.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("attach exec: %w", err)
	}
	defer attached.Close()

	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		// The stream is multiplexed when the exec has no TTY.
		_, copyErr := stdcopy.StdCopy(&stdout, &stderr, attached.Reader)
		copyDone <- copyErr
	}()

	select {
	case err := <-copyDone:
		if err != nil {
			return ExecResult{}, fmt.Errorf("read exec output: %w", err)
		}
	case <-ctx.Done():
		return ExecResult{}, ctx.Err()
	}

	inspect, err := b.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("inspect exec: %w", err)
	}

	return ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}
