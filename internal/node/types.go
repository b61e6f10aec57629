package node

import (
	"fmt"
	"time"
)

// WorktreeStatus is the persisted state of a node's worktree. It survives
// restarts, unlike the in-memory init job.
type WorktreeStatus string

const (
	StatusPending  WorktreeStatus = "pending"
	StatusCreating WorktreeStatus = "creating"
	StatusReady    WorktreeStatus = "ready"
	StatusFailed   WorktreeStatus = "failed"
)

// ParseWorktreeStatus converts a string to a WorktreeStatus.
func ParseWorktreeStatus(s string) (WorktreeStatus, error) {
	switch WorktreeStatus(s) {
	case StatusPending, StatusCreating, StatusReady, StatusFailed:
		return WorktreeStatus(s), nil
	}
	return "", fmt.Errorf("unknown worktree status %q", s)
}

// Repository is a source git repository nodes are created from.
type Repository struct {
	ID        string    `yaml:"id"`
	Name      string    `yaml:"name"`
	Path      string    `yaml:"path"`
	CreatedAt time.Time `yaml:"created_at"`
}

// Node is an isolated unit of work: a branch checked out in its own worktree.
type Node struct {
	ID             string         `yaml:"id"`
	RepositoryID   string         `yaml:"repository_id"`
	Name           string         `yaml:"name"`
	Branch         string         `yaml:"branch"`
	ParentBranch   string         `yaml:"parent_branch"`
	WorktreePath   string         `yaml:"worktree_path,omitempty"`
	WorktreeStatus WorktreeStatus `yaml:"worktree_status"`
	CreatedAt      time.Time      `yaml:"created_at"`
	UpdatedAt      time.Time      `yaml:"updated_at"`
}
