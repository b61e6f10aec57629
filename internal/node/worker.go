package node

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/caspian/internal/errors"
	"github.com/Iron-Ham/caspian/internal/logging"
	"github.com/Iron-Ham/caspian/internal/nodeinit"
	"github.com/Iron-Ham/caspian/internal/worktree"
)

var errCancelled = errors.Wrap(errors.ErrCanceled, "initialization cancelled")

// spawn runs initialization for n in the background. The job must already be
// registered with StartJob.
func (m *Manager) spawn(n Node, repo Repository) {
	m.workers.Go(func() {
		m.runInit(n, repo)
	})
}

// runInit drives one init job to ready or failed. The completion signal is
// always resolved, even if the worker panics.
func (m *Manager) runInit(n Node, repo Repository) {
	defer m.coord.FinalizeJob(n.ID)
	log := m.logger.WithNode(n.ID).WithRepository(repo.ID)

	var path string
	var err error
	var pc panics.Catcher
	pc.Try(func() {
		path, err = m.initWorktree(m.ctx, n, repo, log)
	})
	if r := pc.Recovered(); r != nil {
		log.Error("init worker panicked", "panic", fmt.Sprint(r.Value), "stack", string(r.Stack))
		err = errors.NewNodeError("initialization crashed", r.AsError()).WithNodeID(n.ID)
	}

	if err == nil {
		if serr := m.store.UpdateNodeStatus(n.ID, StatusReady, path); serr != nil {
			log.Warn("failed to persist ready status", "error", serr.Error())
		}
		m.coord.UpdateProgress(n.ID, nodeinit.StepReady, "Worktree ready", nil)
		log.Info("node initialized", "path", path)
		return
	}

	if serr := m.store.UpdateNodeStatus(n.ID, StatusFailed, ""); serr != nil {
		log.Warn("failed to persist failed status", "error", serr.Error())
	}
	if errors.Is(err, errors.ErrCanceled) {
		m.coord.UpdateProgress(n.ID, nodeinit.StepFailed, "Cancelled", err)
		log.Info("node initialization cancelled")
		return
	}
	m.coord.UpdateProgress(n.ID, nodeinit.StepFailed, "Failed to create worktree", err)
	log.Error("node initialization failed", "error", err.Error())
}

// initWorktree builds the worktree under the repository lock, retrying
// transient failures, and rolls it back if the job does not reach ready.
func (m *Manager) initWorktree(ctx context.Context, n Node, repo Repository, log *logging.Logger) (string, error) {
	git, err := m.openGit(repo.Path)
	if err != nil {
		return "", err
	}
	path := git.PathFor(n.Branch)

	if err := m.store.UpdateNodeStatus(n.ID, StatusCreating, ""); err != nil {
		log.Warn("failed to persist creating status", "error", err.Error())
	}
	if m.settings.IgnoreEntry != "" {
		if err := git.EnsureIgnored(m.settings.IgnoreEntry); err != nil {
			log.Warn("failed to update .gitignore", "entry", m.settings.IgnoreEntry, "error", err.Error())
		}
	}

	if m.coord.IsRepositoryLocked(repo.ID) {
		ahead := m.coord.RepositoryLockWaiters(repo.ID) + 1
		m.coord.UpdateProgress(n.ID, nodeinit.StepPending,
			fmt.Sprintf("Waiting for %d other worktree(s) in %s", ahead, repo.Name), nil)
	}
	err = m.coord.WithRepositoryLock(ctx, repo.ID, func() error {
		created := false
		err := m.withRetries(ctx, n.ID, log, func() error {
			return m.attempt(ctx, git, n, path, &created, log)
		})
		if err != nil && (created || m.coord.WasWorktreeCreated(n.ID)) {
			m.rollback(git, n, path, log)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// withRetries runs fn until it succeeds, fails permanently, or the attempt
// budget is spent. Backoff grows linearly with the attempt number and ends
// early on cancellation.
func (m *Manager) withRetries(ctx context.Context, nodeID string, log *logging.Logger, fn func() error) error {
	maxAttempts := max(m.settings.MaxRetries, 1)
	for attempt := 1; ; attempt++ {
		m.coord.SetAttempt(nodeID, attempt, maxAttempts)
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= maxAttempts || !errors.IsRetryable(err) {
			return err
		}

		log.Warn("worktree attempt failed, retrying", "attempt", attempt, "max_attempts", maxAttempts, "error", err.Error())
		m.coord.SetAttempt(nodeID, attempt+1, maxAttempts)
		m.coord.UpdateProgress(nodeID, nodeinit.StepRetrying,
			fmt.Sprintf("Retrying (attempt %d/%d)", attempt+1, maxAttempts), err)

		if !m.sleep(ctx, nodeID, m.settings.RetryBackoff*time.Duration(attempt)) {
			return errCancelled
		}
	}
}

// sleep waits for d and reports false if the job was cancelled first.
func (m *Manager) sleep(ctx context.Context, nodeID string, d time.Duration) bool {
	if d <= 0 {
		return !m.coord.IsCancellationRequested(nodeID)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return !m.coord.IsCancellationRequested(nodeID)
	case <-m.coord.CancellationRequested(nodeID):
		return false
	case <-ctx.Done():
		return false
	}
}

// attempt runs the init steps once. Cancellation is checked between steps;
// a step already running is allowed to finish.
func (m *Manager) attempt(ctx context.Context, git worktree.Git, n Node, path string, created *bool, log *logging.Logger) error {
	if m.cancelled(ctx, n.ID) {
		return errCancelled
	}

	if m.settings.FetchRemoteParents && worktree.IsRemoteRef(n.ParentBranch) {
		remote, branch, _ := strings.Cut(n.ParentBranch, "/")
		m.coord.UpdateProgress(n.ID, nodeinit.StepFetching, "Fetching "+n.ParentBranch, nil)
		if err := git.Fetch(ctx, remote, branch); err != nil {
			// The cached remote-tracking ref may still be usable.
			log.Warn("fetch failed, using local copy of remote ref", "ref", n.ParentBranch, "error", err.Error())
		}
		if m.cancelled(ctx, n.ID) {
			return errCancelled
		}
	}

	if !*created {
		m.coord.UpdateProgress(n.ID, nodeinit.StepCreatingWorktree,
			fmt.Sprintf("Creating branch %s from %s", n.Branch, n.ParentBranch), nil)
		if err := git.CreateFromBranch(ctx, path, n.Branch, n.ParentBranch); err != nil {
			return err
		}
		*created = true
		m.coord.MarkWorktreeCreated(n.ID)
		if err := m.store.UpdateNodeStatus(n.ID, StatusCreating, path); err != nil {
			log.Warn("failed to persist worktree path", "error", err.Error())
		}
	}
	if m.cancelled(ctx, n.ID) {
		return errCancelled
	}

	if len(m.settings.CopyPatterns) > 0 {
		m.coord.UpdateProgress(n.ID, nodeinit.StepCopyingFiles, "Copying local files", nil)
		copied, err := git.CopyFiles(path, m.settings.CopyPatterns)
		if err != nil {
			log.Warn("failed to copy local files", "error", err.Error())
		} else if len(copied) > 0 {
			log.Debug("copied local files", "files", copied)
		}
		if m.cancelled(ctx, n.ID) {
			return errCancelled
		}
	}
	return nil
}

func (m *Manager) cancelled(ctx context.Context, nodeID string) bool {
	return ctx.Err() != nil || m.coord.IsCancellationRequested(nodeID)
}

// rollback removes a worktree and branch left behind by a job that did not
// reach ready. It runs with the repository lock held, and uses a fresh
// context so a shutdown does not leave half-removed worktrees.
func (m *Manager) rollback(git worktree.Git, n Node, path string, log *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := git.Remove(ctx, path); err != nil {
		log.Error("failed to roll back worktree", "path", path, "error", err.Error())
		return
	}
	if err := git.DeleteBranch(ctx, n.Branch); err != nil {
		log.Warn("failed to delete branch during rollback", "branch", n.Branch, "error", err.Error())
	}
	log.Info("rolled back worktree", "path", path)
}
