package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/caspian/internal/errors"
)

// PruneResult reports what Prune found. On a dry run nothing listed was
// touched.
type PruneResult struct {
	// StaleWorktrees are worktrees under the node worktree directory that no
	// node owns.
	StaleWorktrees []string
	// Interrupted are nodes left pending or creating with no init job
	// running, typically because the process that created them exited.
	Interrupted []Node
	// Errors holds per-item failures; pruning continues past them.
	Errors []string
}

// Prune reconciles a repository's nodes with what is on disk. Worktrees in
// the node worktree directory that no node owns are removed. Interrupted
// nodes have any partial worktree and branch rolled back and are marked
// failed so Retry can rebuild them.
//
// Init jobs only live in this process, so Prune must not run while another
// caspian process is creating nodes in the same repository.
func (m *Manager) Prune(ctx context.Context, repositoryID string, dryRun bool) (PruneResult, error) {
	var res PruneResult

	repo, err := m.store.GetRepository(repositoryID)
	if err != nil {
		return res, err
	}
	git, err := m.openGit(repo.Path)
	if err != nil {
		return res, err
	}
	nodes, err := m.store.ListNodes(repo.ID)
	if err != nil {
		return res, err
	}
	log := m.logger.WithRepository(repo.ID)

	owned := make(map[string]bool)
	for _, n := range nodes {
		owned[canonicalPath(git.PathFor(n.Branch))] = true
		if n.WorktreePath != "" {
			owned[canonicalPath(n.WorktreePath)] = true
		}
		if (n.WorktreeStatus == StatusPending || n.WorktreeStatus == StatusCreating) && !m.coord.IsInitializing(n.ID) {
			res.Interrupted = append(res.Interrupted, n)
		}
	}

	err = m.coord.WithRepositoryLock(ctx, repo.ID, func() error {
		paths, err := git.List(ctx)
		if err != nil {
			return err
		}
		root := canonicalPath(git.WorktreeDir())
		for _, p := range paths {
			cp := canonicalPath(p)
			if owned[cp] || !isWithin(root, cp) {
				continue
			}
			res.StaleWorktrees = append(res.StaleWorktrees, p)
			if dryRun {
				continue
			}
			if err := git.Remove(ctx, p); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("failed to remove worktree %s: %v", filepath.Base(p), err))
				continue
			}
			log.Info("removed stale worktree", "path", p)
		}

		if dryRun {
			return nil
		}
		for i, n := range res.Interrupted {
			path := n.WorktreePath
			if path == "" {
				path = git.PathFor(n.Branch)
			}
			if _, err := os.Stat(path); err == nil {
				if err := git.Remove(ctx, path); err != nil {
					res.Errors = append(res.Errors, fmt.Sprintf("failed to roll back %s: %v", n.Name, err))
					continue
				}
			}
			if err := git.DeleteBranch(ctx, n.Branch); err != nil {
				log.Debug("branch not deleted", "node_id", n.ID, "branch", n.Branch, "error", err.Error())
			}
			if err := m.store.UpdateNodeStatus(n.ID, StatusFailed, ""); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("failed to mark %s failed: %v", n.Name, err))
				continue
			}
			res.Interrupted[i].WorktreeStatus = StatusFailed
			log.Info("marked interrupted node failed", "node_id", n.ID)
		}
		return nil
	})
	if err != nil {
		return res, errors.Wrapf(err, "prune %s", repo.Name)
	}
	return res, nil
}

// canonicalPath resolves symlinks when the path exists so paths reported by
// git compare equal to the ones caspian computed.
func canonicalPath(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	return filepath.Clean(p)
}

func isWithin(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}
