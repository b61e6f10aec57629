package node

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/caspian/internal/errors"
	"github.com/Iron-Ham/caspian/internal/logging"
	"github.com/Iron-Ham/caspian/internal/worktree"
)

// Rename changes a node's display name. With renameBranch the git branch is
// renamed to match the new name and the worktree moved to that branch's
// path; commits are never rewritten. A branch name already taken by another
// branch gets a numeric suffix.
//
// Rename runs under the repository lock and refuses while the node is
// initializing.
func (m *Manager) Rename(ctx context.Context, nodeID, newName string, renameBranch bool) (Node, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return Node{}, errors.NewValidationError("name is required").WithField("name")
	}
	n, err := m.store.GetNode(nodeID)
	if err != nil {
		return Node{}, err
	}
	repo, err := m.store.GetRepository(n.RepositoryID)
	if err != nil {
		return Node{}, err
	}
	log := m.logger.WithNode(n.ID).WithRepository(repo.ID)

	err = m.coord.WithRepositoryLock(ctx, repo.ID, func() error {
		// A retry may have started since the node was read.
		if m.coord.IsInitializing(n.ID) {
			return errors.NewNodeError("cannot rename", errors.ErrNodeInitializing).
				WithNodeID(n.ID).
				WithSeverity(errors.SeverityWarning)
		}
		fresh, err := m.store.GetNode(n.ID)
		if err != nil {
			return err
		}
		n = fresh
		oldName := n.Name
		n.Name = newName
		if renameBranch {
			git, err := m.openGit(repo.Path)
			if err != nil {
				return err
			}
			if err := m.moveBranch(ctx, git, &n, log); err != nil {
				return err
			}
		}
		if err := m.store.SaveNode(n); err != nil {
			return err
		}
		log.Info("node renamed", "from", oldName, "to", n.Name, "branch", n.Branch)
		return nil
	})
	if err != nil {
		return Node{}, err
	}
	return n, nil
}

// moveBranch renames n's branch after n.Name and moves its worktree along.
// If the move fails the branch rename is undone.
func (m *Manager) moveBranch(ctx context.Context, git worktree.Git, n *Node, log *logging.Logger) error {
	slug := BranchSlug(n.Name)
	if slug == "" {
		return errors.NewValidationError("name has no characters usable in a branch name").
			WithField("name").
			WithValue(n.Name)
	}
	branch := slug
	if m.settings.BranchPrefix != "" {
		branch = m.settings.BranchPrefix + "/" + slug
	}
	if branch == n.Branch {
		return nil
	}
	base := branch
	for i := 2; git.BranchExists(ctx, branch); i++ {
		branch = fmt.Sprintf("%s-%d", base, i)
		if branch == n.Branch {
			return nil
		}
	}

	if err := git.RenameBranch(ctx, n.Branch, branch); err != nil {
		return errors.NewNodeError("cannot rename branch", err).WithNodeID(n.ID)
	}
	if n.WorktreePath != "" && worktree.Exists(n.WorktreePath) {
		newPath := git.PathFor(branch)
		if err := git.Move(ctx, n.WorktreePath, newPath); err != nil {
			if rerr := git.RenameBranch(ctx, branch, n.Branch); rerr != nil {
				log.Error("failed to restore branch name", "branch", n.Branch, "error", rerr.Error())
			}
			return errors.NewNodeError("cannot move worktree", err).WithNodeID(n.ID)
		}
		n.WorktreePath = newPath
	}
	n.Branch = branch
	return nil
}

// SetParentBranch changes the branch a node was created from. It only
// affects bookkeeping and later retries; the existing worktree is left as is.
func (m *Manager) SetParentBranch(ctx context.Context, nodeID, parentBranch string) error {
	parentBranch = strings.TrimSpace(parentBranch)
	if parentBranch == "" {
		return errors.NewValidationError("parent branch is required").WithField("parent")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := m.store.GetNode(nodeID)
	if err != nil {
		return err
	}
	if m.coord.IsInitializing(n.ID) {
		return errors.NewNodeError("cannot change parent branch", errors.ErrNodeInitializing).
			WithNodeID(n.ID).
			WithSeverity(errors.SeverityWarning)
	}
	n.ParentBranch = parentBranch
	if err := m.store.SaveNode(n); err != nil {
		return err
	}
	m.logger.Info("node parent changed", "node_id", n.ID, "parent", parentBranch)
	return nil
}
