package node

import (
	"context"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/Iron-Ham/caspian/internal/errors"
)

func TestManager_Prune(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	ready, err := h.mgr.Create(ctx, h.repo.ID, "main")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	h.mgr.Wait()

	stray := h.git.PathFor("leftover")
	if err := os.MkdirAll(stray, 0755); err != nil {
		t.Fatal(err)
	}

	interrupted := Node{
		ID:             NewID(),
		RepositoryID:   h.repo.ID,
		Name:           "quiet-harbor-abcde",
		Branch:         "quiet-harbor-abcde",
		ParentBranch:   "main",
		WorktreeStatus: StatusCreating,
		CreatedAt:      time.Now(),
	}
	interrupted.WorktreePath = h.git.PathFor(interrupted.Branch)
	if err := os.MkdirAll(interrupted.WorktreePath, 0755); err != nil {
		t.Fatal(err)
	}
	if err := h.store.SaveNode(interrupted); err != nil {
		t.Fatalf("SaveNode: %v", err)
	}

	res, err := h.mgr.Prune(ctx, h.repo.ID, true)
	if err != nil {
		t.Fatalf("Prune dry run: %v", err)
	}
	if !slices.Equal(res.StaleWorktrees, []string{stray}) {
		t.Errorf("StaleWorktrees = %v, want [%s]", res.StaleWorktrees, stray)
	}
	if len(res.Interrupted) != 1 || res.Interrupted[0].ID != interrupted.ID {
		t.Errorf("Interrupted = %+v", res.Interrupted)
	}
	if _, err := os.Stat(stray); err != nil {
		t.Error("dry run should not remove anything")
	}
	if h.status(t, interrupted.ID) != StatusCreating {
		t.Error("dry run should not change node status")
	}

	res, err = h.mgr.Prune(ctx, h.repo.ID, false)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(res.Errors) != 0 {
		t.Errorf("unexpected errors: %v", res.Errors)
	}
	if _, err := os.Stat(stray); !os.IsNotExist(err) {
		t.Errorf("stale worktree should be removed, stat err = %v", err)
	}
	if _, err := os.Stat(interrupted.WorktreePath); !os.IsNotExist(err) {
		t.Errorf("partial worktree should be rolled back, stat err = %v", err)
	}
	if h.status(t, interrupted.ID) != StatusFailed {
		t.Errorf("interrupted node status = %s, want failed", h.status(t, interrupted.ID))
	}
	if calls := h.git.snapshot(); !slices.Contains(calls.deleted, interrupted.Branch) {
		t.Errorf("branch %s should be deleted, deleted = %v", interrupted.Branch, calls.deleted)
	}
	if _, err := h.mgr.UsablePath(ready.ID); err != nil {
		t.Errorf("ready node should be untouched: %v", err)
	}

	if err := h.mgr.Retry(ctx, interrupted.ID); err != nil {
		t.Fatalf("Retry after prune: %v", err)
	}
	h.mgr.Wait()
	if _, err := h.mgr.UsablePath(interrupted.ID); err != nil {
		t.Errorf("UsablePath after retry: %v", err)
	}
}

func TestManager_PruneSkipsRunningJobs(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	entered, release := h.blockCreate()
	defer release()

	n, err := h.mgr.Create(ctx, h.repo.ID, "main")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitEntered(t, entered)

	type pruneOutcome struct {
		res PruneResult
		err error
	}
	done := make(chan pruneOutcome, 1)
	go func() {
		res, err := h.mgr.Prune(ctx, h.repo.ID, false)
		done <- pruneOutcome{res, err}
	}()

	// Prune waits for the repository lock held by the running job.
	select {
	case <-done:
		t.Fatal("Prune should wait for the repository lock")
	case <-time.After(50 * time.Millisecond):
	}
	release()

	out := <-done
	if out.err != nil {
		t.Fatalf("Prune: %v", out.err)
	}
	if len(out.res.Interrupted) != 0 || len(out.res.StaleWorktrees) != 0 {
		t.Errorf("running job should not be pruned: %+v", out.res)
	}

	h.mgr.Wait()
	if h.status(t, n.ID) != StatusReady {
		t.Errorf("status = %s, want ready", h.status(t, n.ID))
	}
}

func TestManager_PruneUnknownRepository(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.mgr.Prune(context.Background(), "missing", true); !errors.Is(err, errors.ErrRepositoryNotFound) {
		t.Errorf("Prune err = %v, want ErrRepositoryNotFound", err)
	}
}
