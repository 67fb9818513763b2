// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package worktree provisions git worktrees for locally-backed environments:
// one directory per environment under a fixed base directory, with automatic
// disambiguation of both directory names and branch names.
package worktree

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

const (
	// maxBranchAttempts caps the desiredBranch, desiredBranch-1, ... retry
	// sequence when branches collide.
	maxBranchAttempts = 50

	// maxDirAttempts caps random-suffix retries when the project directory
	// name is taken.
	maxDirAttempts = 100
)

// Result reports what a create actually produced. ActualBranch may differ
// from the requested branch when disambiguation kicked in; callers must
// persist it rather than assume the request was honored.
type Result struct {
	Path         string
	ActualBranch string
}

// Provisioner creates and destroys worktrees under a base directory.
type Provisioner struct {
	git     GitExecutor
	baseDir string
}

// NewProvisioner creates a provisioner rooted at baseDir.
func NewProvisioner(git GitExecutor, baseDir string) *Provisioner {
	return &Provisioner{git: git, baseDir: baseDir}
}

// Create provisions a worktree of sourceRepo for desiredBranch. The worktree
// directory is named after the project, disambiguated with a random suffix
// when taken. The branch is the existing local desiredBranch when it is free,
// otherwise a new branch based on the fetched default branch; when
// desiredBranch is checked out elsewhere or collides, desiredBranch-N is
// tried for increasing N.
func (p *Provisioner) Create(ctx context.Context, sourceRepo, desiredBranch, projectName string) (Result, error) {
	if err := ValidateBranchName(desiredBranch); err != nil {
		return Result{}, err
	}
	if err := ValidateProjectName(projectName); err != nil {
		return Result{}, err
	}

	defaultBranch := p.git.DefaultBranch(ctx, sourceRepo)

	// Best effort: an unreachable remote must not block creating a worktree
	// from local refs.
	if err := p.git.Fetch(ctx, sourceRepo, defaultBranch); err != nil {
		log.Printf("worktree: fetch of %s failed, using local refs: %v", defaultBranch, err)
	}

	path, err := p.pickDirectory(projectName)
	if err != nil {
		return Result{}, err
	}

	startRef := defaultBranch
	if p.git.RefExists(ctx, sourceRepo, "origin/"+defaultBranch) {
		startRef = "origin/" + defaultBranch
	}

	checkedOut, err := p.git.CheckedOutBranches(ctx, sourceRepo)
	if err != nil {
		return Result{}, fmt.Errorf("list worktrees: %w", err)
	}

	for attempt := 0; attempt <= maxBranchAttempts; attempt++ {
		branch := desiredBranch
		if attempt > 0 {
			branch = fmt.Sprintf("%s-%d", desiredBranch, attempt)
		}

		if _, busy := checkedOut[branch]; busy {
			continue
		}

		var addErr error
		if p.git.BranchExists(ctx, sourceRepo, branch) {
			addErr = p.git.WorktreeAddExisting(ctx, sourceRepo, path, branch)
		} else {
			addErr = p.git.WorktreeAddNew(ctx, sourceRepo, path, branch, startRef)
		}

		if addErr == nil {
			if branch != desiredBranch {
				log.Printf("worktree: branch %q was taken, using %q", desiredBranch, branch)
			}
			return Result{Path: path, ActualBranch: branch}, nil
		}
		if !isCollisionError(addErr) {
			return Result{}, fmt.Errorf("create worktree at %s: %w", path, addErr)
		}
	}

	return Result{}, fmt.Errorf("no free branch name for %q after %d attempts", desiredBranch, maxBranchAttempts)
}

// pickDirectory reserves a directory name under baseDir: the project name
// when free, otherwise project-XXXXXX with a random hex suffix.
func (p *Provisioner) pickDirectory(projectName string) (string, error) {
	if err := os.MkdirAll(p.baseDir, 0o755); err != nil {
		return "", fmt.Errorf("create worktree base dir: %w", err)
	}

	candidate := filepath.Join(p.baseDir, projectName)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate, nil
	}

	for attempt := 0; attempt < maxDirAttempts; attempt++ {
		candidate = filepath.Join(p.baseDir, projectName+"-"+randomSuffix())
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free directory name for project %q after %d attempts", projectName, maxDirAttempts)
}

func randomSuffix() string {
	var b [3]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Delete removes a worktree. When git refuses, the directory is force-removed
// and stale worktree metadata pruned. Cleanup failure is reported but callers
// treat it as non-fatal; the environment record goes away regardless.
func (p *Provisioner) Delete(ctx context.Context, sourceRepo, worktreePath string) error {
	if err := p.git.WorktreeRemove(ctx, sourceRepo, worktreePath); err == nil {
		return nil
	} else {
		log.Printf("worktree: git removal of %s failed, force-deleting: %v", worktreePath, err)
	}

	if err := os.RemoveAll(worktreePath); err != nil {
		return fmt.Errorf("force-delete worktree %s: %w", worktreePath, err)
	}
	if err := p.git.WorktreePrune(ctx, sourceRepo); err != nil {
		log.Printf("worktree: prune after removing %s failed: %v", worktreePath, err)
	}
	return nil
}

// RenameBranch renames the branch checked out in a worktree.
func (p *Provisioner) RenameBranch(ctx context.Context, worktreePath, oldName, newName string) error {
	if err := ValidateBranchName(newName); err != nil {
		return err
	}
	return p.git.RenameBranch(ctx, worktreePath, oldName, newName)
}

// CopyEnvFiles copies untracked env files from the source repository root
// into a new worktree. These files are gitignored, so a fresh worktree
// starts without them. Best effort: a missing file is normal, a copy failure
// is logged.
func (p *Provisioner) CopyEnvFiles(sourceRepo, worktreePath string) {
	for _, name := range []string{".env", ".env.local"} {
		src := filepath.Join(sourceRepo, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := copyFile(src, filepath.Join(worktreePath, name)); err != nil {
			log.Printf("worktree: copying %s into %s failed: %v", name, worktreePath, err)
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
