package worktree

import "context"

// Creator is the subset of Manager that node initialization needs to build a
// worktree. The node package depends on this rather than on Manager so its
// tests can substitute a fake.
type Creator interface {
	RepoDir() string
	PathFor(branch string) string
	EnsureIgnored(entry string) error
	Fetch(ctx context.Context, remote, branch string) error
	CreateFromBranch(ctx context.Context, path, newBranch, baseBranch string) error
	CopyFiles(dst string, patterns []string) ([]string, error)
}

// Remover is the subset of Manager used to tear a worktree down.
type Remover interface {
	Remove(ctx context.Context, path string) error
	DeleteBranch(ctx context.Context, branch string) error
}

// Lister finds worktrees that exist on disk, for pruning ones nothing owns.
type Lister interface {
	WorktreeDir() string
	List(ctx context.Context) ([]string, error)
}

// Renamer moves a node's branch and worktree to a new name.
type Renamer interface {
	BranchExists(ctx context.Context, ref string) bool
	RenameBranch(ctx context.Context, oldName, newName string) error
	Move(ctx context.Context, from, to string) error
}

// Git combines everything node lifecycle operations use.
type Git interface {
	Creator
	Remover
	Lister
	Renamer
}

var (
	_ Creator = (*Manager)(nil)
	_ Remover = (*Manager)(nil)
	_ Lister  = (*Manager)(nil)
	_ Renamer = (*Manager)(nil)
	_ Git     = (*Manager)(nil)
)
