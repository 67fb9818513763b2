// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"os/exec"
	"syscall"
)

// buildCommand builds the exec.Cmd for a spawn spec. The command and its
// arguments are passed as an argv array, never through a shell. The child
// gets its own process group so the whole tree can be signaled at once.
// The child is deliberately not bound to a context: servers outlive the
// request that started them and are stopped only through Kill.
func buildCommand(spec SpawnSpec) *exec.Cmd {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = augmentedEnv(spec.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}
