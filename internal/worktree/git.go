// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package worktree

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// GitExecutor abstracts the git operations the provisioner needs, so tests
// can substitute a fake without a real repository.
type GitExecutor interface {
	// DefaultBranch returns the repository's default branch name.
	DefaultBranch(ctx context.Context, repoDir string) string

	// Fetch fetches a branch from origin.
	Fetch(ctx context.Context, repoDir, branch string) error

	// BranchExists reports whether a local branch exists.
	BranchExists(ctx context.Context, repoDir, branch string) bool

	// RefExists reports whether an arbitrary ref (e.g. origin/main) resolves.
	RefExists(ctx context.Context, repoDir, ref string) bool

	// CheckedOutBranches maps branch name to worktree path for every branch
	// currently checked out in some worktree of the repository.
	CheckedOutBranches(ctx context.Context, repoDir string) (map[string]string, error)

	// WorktreeAddExisting checks an existing local branch out into a new
	// worktree at path.
	WorktreeAddExisting(ctx context.Context, repoDir, path, branch string) error

	// WorktreeAddNew creates branch at startRef and checks it out into a new
	// worktree at path.
	WorktreeAddNew(ctx context.Context, repoDir, path, branch, startRef string) error

	// WorktreeRemove removes a worktree, discarding local changes.
	WorktreeRemove(ctx context.Context, repoDir, path string) error

	// WorktreePrune drops worktree metadata whose directories are gone.
	WorktreePrune(ctx context.Context, repoDir string) error

	// RenameBranch renames a branch within the worktree checked out at dir.
	RenameBranch(ctx context.Context, dir, oldName, newName string) error
}

// RealGitExecutor runs real git commands. Everything uses explicit -C
// arguments; nothing changes the daemon's working directory or goes through
// a shell.
type RealGitExecutor struct{}

// NewRealGitExecutor creates a new git executor.
func NewRealGitExecutor() *RealGitExecutor {
	return &RealGitExecutor{}
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	full := append([]string{"-C", dir}, args...)
	cmd := exec.CommandContext(ctx, "git", full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// DefaultBranch prefers the remote's symbolic HEAD, then main, then master.
func (e *RealGitExecutor) DefaultBranch(ctx context.Context, repoDir string) string {
	if out, err := runGit(ctx, repoDir, "symbolic-ref", "refs/remotes/origin/HEAD"); err == nil {
		ref := strings.TrimSpace(out)
		parts := strings.Split(ref, "/")
		if len(parts) > 0 {
			candidate := parts[len(parts)-1]
			if candidate != "" && e.BranchExists(ctx, repoDir, candidate) {
				return candidate
			}
			// Stale origin/HEAD; fall through to main/master.
		}
	}

	if e.BranchExists(ctx, repoDir, "main") {
		return "main"
	}
	if e.BranchExists(ctx, repoDir, "master") {
		return "master"
	}
	return "main"
}

func (e *RealGitExecutor) Fetch(ctx context.Context, repoDir, branch string) error {
	_, err := runGit(ctx, repoDir, "fetch", "origin", branch)
	return err
}

func (e *RealGitExecutor) BranchExists(ctx context.Context, repoDir, branch string) bool {
	return e.RefExists(ctx, repoDir, "refs/heads/"+branch)
}

func (e *RealGitExecutor) RefExists(ctx context.Context, repoDir, ref string) bool {
	_, err := runGit(ctx, repoDir, "rev-parse", "--verify", "--quiet", ref)
	return err == nil
}

// CheckedOutBranches parses `git worktree list --porcelain`, which handles
// paths with spaces.
func (e *RealGitExecutor) CheckedOutBranches(ctx context.Context, repoDir string) (map[string]string, error) {
	out, err := runGit(ctx, repoDir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseCheckedOutBranches(out), nil
}

func parseCheckedOutBranches(output string) map[string]string {
	result := make(map[string]string)

	var path string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "worktree "):
			path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "branch "):
			ref := strings.TrimPrefix(line, "branch ")
			branch := strings.TrimPrefix(ref, "refs/heads/")
			if branch != "" && path != "" {
				result[branch] = path
			}
		case line == "":
			path = ""
		}
	}
	return result
}

func (e *RealGitExecutor) WorktreeAddExisting(ctx context.Context, repoDir, path, branch string) error {
	_, err := runGit(ctx, repoDir, "worktree", "add", path, branch)
	return err
}

func (e *RealGitExecutor) WorktreeAddNew(ctx context.Context, repoDir, path, branch, startRef string) error {
	_, err := runGit(ctx, repoDir, "worktree", "add", "-b", branch, path, startRef)
	return err
}

func (e *RealGitExecutor) WorktreeRemove(ctx context.Context, repoDir, path string) error {
	_, err := runGit(ctx, repoDir, "worktree", "remove", "--force", path)
	return err
}

func (e *RealGitExecutor) WorktreePrune(ctx context.Context, repoDir string) error {
	_, err := runGit(ctx, repoDir, "worktree", "prune")
	return err
}

func (e *RealGitExecutor) RenameBranch(ctx context.Context, dir, oldName, newName string) error {
	_, err := runGit(ctx, dir, "branch", "-m", oldName, newName)
	return err
}

// isCollisionError reports whether a worktree-add failure is a name
// collision that disambiguation should retry past, as opposed to a real
// failure.
func isCollisionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already checked out") ||
		strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "already used by worktree")
}
