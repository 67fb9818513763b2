// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGit is an in-memory GitExecutor for provisioner tests.
type fakeGit struct {
	defaultBranch string
	branches      map[string]bool
	refs          map[string]bool
	checkedOut    map[string]string
	addErrs       map[string]error

	fetched    []string
	addedNew   []string
	addedExist []string
	removeErr  error
	removed    []string
	pruned     bool
	renamed    [][2]string
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		defaultBranch: "main",
		branches:      map[string]bool{"main": true},
		refs:          map[string]bool{},
		checkedOut:    map[string]string{},
		addErrs:       map[string]error{},
	}
}

func (f *fakeGit) DefaultBranch(ctx context.Context, repoDir string) string { return f.defaultBranch }

func (f *fakeGit) Fetch(ctx context.Context, repoDir, branch string) error {
	f.fetched = append(f.fetched, branch)
	return nil
}

func (f *fakeGit) BranchExists(ctx context.Context, repoDir, branch string) bool {
	return f.branches[branch]
}

func (f *fakeGit) RefExists(ctx context.Context, repoDir, ref string) bool { return f.refs[ref] }

func (f *fakeGit) CheckedOutBranches(ctx context.Context, repoDir string) (map[string]string, error) {
	return f.checkedOut, nil
}

func (f *fakeGit) WorktreeAddExisting(ctx context.Context, repoDir, path, branch string) error {
	if err := f.addErrs[branch]; err != nil {
		return err
	}
	f.addedExist = append(f.addedExist, branch)
	return nil
}

func (f *fakeGit) WorktreeAddNew(ctx context.Context, repoDir, path, branch, startRef string) error {
	if err := f.addErrs[branch]; err != nil {
		return err
	}
	f.addedNew = append(f.addedNew, branch)
	return nil
}

func (f *fakeGit) WorktreeRemove(ctx context.Context, repoDir, path string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, path)
	return nil
}

func (f *fakeGit) WorktreePrune(ctx context.Context, repoDir string) error {
	f.pruned = true
	return nil
}

func (f *fakeGit) RenameBranch(ctx context.Context, dir, oldName, newName string) error {
	f.renamed = append(f.renamed, [2]string{oldName, newName})
	return nil
}

func TestCreateNewBranchFromRemoteRef(t *testing.T) {
	git := newFakeGit()
	git.refs["origin/main"] = true
	p := NewProvisioner(git, t.TempDir())

	res, err := p.Create(context.Background(), "/repo", "feature-x", "myproj")
	require.NoError(t, err)

	assert.Equal(t, "feature-x", res.ActualBranch)
	assert.Equal(t, filepath.Base(res.Path), "myproj")
	assert.Equal(t, []string{"feature-x"}, git.addedNew)
	assert.Equal(t, []string{"main"}, git.fetched)
}

func TestCreateReusesExistingLocalBranch(t *testing.T) {
	git := newFakeGit()
	git.branches["feature-x"] = true
	p := NewProvisioner(git, t.TempDir())

	res, err := p.Create(context.Background(), "/repo", "feature-x", "myproj")
	require.NoError(t, err)

	assert.Equal(t, "feature-x", res.ActualBranch)
	assert.Equal(t, []string{"feature-x"}, git.addedExist)
	assert.Empty(t, git.addedNew)
}

func TestCreateDisambiguatesCheckedOutBranch(t *testing.T) {
	git := newFakeGit()
	git.checkedOut["feature-x"] = "/elsewhere/myproj"
	p := NewProvisioner(git, t.TempDir())

	res, err := p.Create(context.Background(), "/repo", "feature-x", "myproj")
	require.NoError(t, err)

	assert.Equal(t, "feature-x-1", res.ActualBranch)
}

func TestCreateRetriesPastCollisionError(t *testing.T) {
	git := newFakeGit()
	git.addErrs["feature-x"] = errors.New("branch 'feature-x' is already checked out at '/other'")
	p := NewProvisioner(git, t.TempDir())

	res, err := p.Create(context.Background(), "/repo", "feature-x", "myproj")
	require.NoError(t, err)
	assert.Equal(t, "feature-x-1", res.ActualBranch)
}

func TestCreateSurfacesRealFailures(t *testing.T) {
	git := newFakeGit()
	git.addErrs["feature-x"] = errors.New("fatal: not a git repository")
	p := NewProvisioner(git, t.TempDir())

	_, err := p.Create(context.Background(), "/repo", "feature-x", "myproj")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a git repository")
}

func TestCreateExhaustsBranchAttempts(t *testing.T) {
	git := newFakeGit()
	for i := 0; i <= maxBranchAttempts; i++ {
		name := "feature-x"
		if i > 0 {
			name = fmt.Sprintf("feature-x-%d", i)
		}
		git.checkedOut[name] = "/elsewhere"
	}
	p := NewProvisioner(git, t.TempDir())

	_, err := p.Create(context.Background(), "/repo", "feature-x", "myproj")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no free branch name")
}

func TestCreateRejectsUnsafeNames(t *testing.T) {
	p := NewProvisioner(newFakeGit(), t.TempDir())

	for _, branch := range []string{"", "a;rm -rf /", "a b", "../../etc", "-flag", "a..b"} {
		_, err := p.Create(context.Background(), "/repo", branch, "myproj")
		assert.Error(t, err, "branch %q", branch)
	}

	_, err := p.Create(context.Background(), "/repo", "ok", "bad/project")
	assert.Error(t, err)
}

func TestPickDirectorySuffixOnCollision(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(base, "myproj"), 0o755))
	p := NewProvisioner(newFakeGit(), base)

	path, err := p.pickDirectory("myproj")
	require.NoError(t, err)

	name := filepath.Base(path)
	assert.NotEqual(t, "myproj", name)
	assert.Regexp(t, `^myproj-[0-9a-f]{6}$`, name)
}

func TestDeleteFallsBackToForceRemoval(t *testing.T) {
	git := newFakeGit()
	git.removeErr = errors.New("worktree is locked")
	p := NewProvisioner(git, t.TempDir())

	dir := filepath.Join(t.TempDir(), "wt")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))

	require.NoError(t, p.Delete(context.Background(), "/repo", dir))
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	assert.True(t, git.pruned)
}

func TestCopyEnvFiles(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, ".env"), []byte("A=1\n"), 0o600))

	p := NewProvisioner(newFakeGit(), t.TempDir())
	p.CopyEnvFiles(src, dst)

	data, err := os.ReadFile(filepath.Join(dst, ".env"))
	require.NoError(t, err)
	assert.Equal(t, "A=1\n", string(data))

	// .env.local absent in the source is not an error and creates nothing.
	_, err = os.Stat(filepath.Join(dst, ".env.local"))
	assert.True(t, os.IsNotExist(err))
}

func TestParseCheckedOutBranches(t *testing.T) {
	output := "worktree /path/to/main\nHEAD abc123\nbranch refs/heads/main\n\n" +
		"worktree /path/with space/feat\nHEAD def456\nbranch refs/heads/feature/x\n\n" +
		"worktree /path/detached\nHEAD 999888\ndetached\n"

	got := parseCheckedOutBranches(output)
	assert.Equal(t, map[string]string{
		"main":      "/path/to/main",
		"feature/x": "/path/with space/feat",
	}, got)
}
