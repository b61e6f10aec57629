package worktree

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Iron-Ham/caspian/internal/errors"
	"github.com/Iron-Ham/caspian/internal/testutil"
)

func newTestManager(t *testing.T, repoDir string) *Manager {
	t.Helper()
	m, err := New(repoDir, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestManager_CreateAndRemove(t *testing.T) {
	testutil.SkipIfNoGit(t)
	ctx := context.Background()

	repo := testutil.SetupTestRepo(t)
	m := newTestManager(t, repo)

	path := m.PathFor("amber-falcon-abcde")
	if err := m.CreateFromBranch(ctx, path, "amber-falcon-abcde", "main"); err != nil {
		t.Fatalf("CreateFromBranch: %v", err)
	}
	if !Exists(path) {
		t.Fatal("worktree should exist on disk")
	}
	if _, err := os.Stat(filepath.Join(path, "README.md")); err != nil {
		t.Errorf("worktree not checked out: %v", err)
	}

	list, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("List() = %v, want main checkout plus new worktree", list)
	}

	err = m.CreateFromBranch(ctx, path, "other", "main")
	if !errors.Is(err, errors.ErrWorktreeExists) {
		t.Errorf("second create err = %v, want ErrWorktreeExists", err)
	}

	if err := m.Remove(ctx, path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if Exists(path) {
		t.Error("worktree should be gone")
	}
	if err := m.DeleteBranch(ctx, "amber-falcon-abcde"); err != nil {
		t.Fatalf("DeleteBranch: %v", err)
	}
	if testutil.BranchExists(t, repo, "amber-falcon-abcde") {
		t.Error("branch should be deleted")
	}
}

func TestManager_CreateFromMissingBranch(t *testing.T) {
	testutil.SkipIfNoGit(t)

	repo := testutil.SetupTestRepo(t)
	m := newTestManager(t, repo)

	err := m.CreateFromBranch(context.Background(), m.PathFor("x"), "x", "does-not-exist")
	if !errors.Is(err, errors.ErrBranchNotFound) {
		t.Errorf("err = %v, want ErrBranchNotFound", err)
	}
}

func TestManager_FetchRemoteParent(t *testing.T) {
	testutil.SkipIfNoGit(t)
	ctx := context.Background()

	repo, remote := testutil.SetupTestRepoWithRemote(t)

	// Advance the remote through a second clone so origin/main is stale locally.
	clone := t.TempDir()
	testutil.RunGit(t, clone, "clone", remote, ".")
	testutil.RunGit(t, clone, "config", "user.email", "test@caspian.dev")
	testutil.RunGit(t, clone, "config", "user.name", "Caspian Test")
	testutil.CommitFile(t, clone, "new.txt", "fresh\n", "Add new file")
	testutil.RunGit(t, clone, "push", "origin", "HEAD:main")

	m := newTestManager(t, repo)
	if err := m.Fetch(ctx, "origin", "main"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	path := m.PathFor("from-remote")
	if err := m.CreateFromBranch(ctx, path, "from-remote", "origin/main"); err != nil {
		t.Fatalf("CreateFromBranch: %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, "new.txt")); err != nil {
		t.Errorf("worktree should include the fetched commit: %v", err)
	}
}

func TestManager_BranchExists(t *testing.T) {
	testutil.SkipIfNoGit(t)
	ctx := context.Background()

	repo := testutil.SetupTestRepo(t)
	testutil.CreateBranch(t, repo, "feature/x")
	m := newTestManager(t, repo)

	if !m.BranchExists(ctx, "main") || !m.BranchExists(ctx, "feature/x") {
		t.Error("existing branches not found")
	}
	if m.BranchExists(ctx, "missing") {
		t.Error("missing branch reported as existing")
	}
}

func TestManager_RenameBranchAndMove(t *testing.T) {
	testutil.SkipIfNoGit(t)
	ctx := context.Background()

	repo := testutil.SetupTestRepo(t)
	m := newTestManager(t, repo)

	oldPath := m.PathFor("amber-falcon-abcde")
	if err := m.CreateFromBranch(ctx, oldPath, "amber-falcon-abcde", "main"); err != nil {
		t.Fatalf("CreateFromBranch: %v", err)
	}

	if err := m.RenameBranch(ctx, "amber-falcon-abcde", "login-page"); err != nil {
		t.Fatalf("RenameBranch: %v", err)
	}
	if testutil.BranchExists(t, repo, "amber-falcon-abcde") || !testutil.BranchExists(t, repo, "login-page") {
		t.Error("branch should be renamed")
	}

	newPath := m.PathFor("login-page")
	if err := m.Move(ctx, oldPath, newPath); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if Exists(oldPath) || !Exists(newPath) {
		t.Errorf("worktree should have moved from %s to %s", oldPath, newPath)
	}
	if got := strings.TrimSpace(testutil.RunGit(t, newPath, "rev-parse", "--abbrev-ref", "HEAD")); got != "login-page" {
		t.Errorf("moved worktree is on %q, want login-page", got)
	}

	if err := m.Move(ctx, newPath, newPath); !errors.Is(err, errors.ErrWorktreeExists) {
		t.Errorf("move onto an existing path: err = %v, want ErrWorktreeExists", err)
	}
}
