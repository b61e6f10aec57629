package worktree

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/caspian/internal/errors"
	"github.com/Iron-Ham/caspian/internal/logging"
)

// DefaultWorktreeDir is where node worktrees live, relative to the repository root.
const DefaultWorktreeDir = ".caspian/worktrees"

// Manager handles git worktree operations for one repository.
type Manager struct {
	repoDir     string
	worktreeDir string
	executor    CommandExecutor
	logger      *logging.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithExecutor replaces the git command executor. Used by tests.
func WithExecutor(executor CommandExecutor) Option {
	return func(m *Manager) {
		m.executor = executor
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger.WithComponent("worktree")
		}
	}
}

// FindGitRoot finds the root of the git repository by traversing up from startDir.
// It returns the directory containing .git (either a directory or a file for worktrees).
func FindGitRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.ErrNotGitRepository
		}
		dir = parent
	}
}

// New creates a Manager for the repository containing repoDir. worktreeDir
// may be absolute or relative to the repository root; empty means
// DefaultWorktreeDir.
func New(repoDir, worktreeDir string, opts ...Option) (*Manager, error) {
	gitRoot, err := FindGitRoot(repoDir)
	if err != nil {
		return nil, errors.NewGitError("cannot open repository", err).WithRepository(repoDir)
	}

	if worktreeDir == "" {
		worktreeDir = DefaultWorktreeDir
	}
	if !filepath.IsAbs(worktreeDir) {
		worktreeDir = filepath.Join(gitRoot, worktreeDir)
	}

	m := &Manager{
		repoDir:     gitRoot,
		worktreeDir: worktreeDir,
		executor:    NewCLICommandExecutor(),
		logger:      logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// RepoDir returns the repository root.
func (m *Manager) RepoDir() string { return m.repoDir }

// WorktreeDir returns the directory node worktrees are created in.
func (m *Manager) WorktreeDir() string { return m.worktreeDir }

// PathFor returns the worktree path for a branch. Slashes in the branch name
// become dashes so every worktree is a direct child of WorktreeDir.
func (m *Manager) PathFor(branch string) string {
	return filepath.Join(m.worktreeDir, strings.ReplaceAll(branch, "/", "-"))
}

// EnsureIgnored adds entry to the repository's .gitignore unless it is
// already listed (with or without a trailing slash).
func (m *Manager) EnsureIgnored(entry string) error {
	path := filepath.Join(m.repoDir, ".gitignore")

	content, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read .gitignore: %w", err)
	}

	scanner := bufio.NewScanner(strings.NewReader(string(content)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == entry || line == entry+"/" {
			return nil
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open .gitignore: %w", err)
	}
	defer func() { _ = f.Close() }()

	prefix := ""
	if len(content) > 0 && !strings.HasSuffix(string(content), "\n") {
		prefix = "\n"
	}
	if _, err := f.WriteString(prefix + entry + "\n"); err != nil {
		return fmt.Errorf("write .gitignore: %w", err)
	}
	m.logger.Info("added entry to .gitignore", "entry", entry, "repo", m.repoDir)
	return nil
}

// IsRemoteRef reports whether ref names a remote-tracking branch such as
// origin/main.
func IsRemoteRef(ref string) bool {
	return strings.Contains(ref, "/")
}

// BranchExists reports whether ref resolves to a commit.
func (m *Manager) BranchExists(ctx context.Context, ref string) bool {
	return m.executor.RunQuiet(ctx, m.repoDir, "git", "rev-parse", "--verify", "--quiet", ref+"^{commit}") == nil
}

// Fetch updates a single branch from remote.
func (m *Manager) Fetch(ctx context.Context, remote, branch string) error {
	output, err := m.executor.Run(ctx, m.repoDir, "git", "fetch", remote, branch)
	if err != nil {
		return errors.NewGitError(fmt.Sprintf("failed to fetch %s/%s", remote, branch), err).
			WithRepository(m.repoDir).
			WithBranch(branch).
			WithGitOutput(string(output))
	}
	return nil
}

// CreateFromBranch creates a worktree at path on a new branch starting from
// baseBranch. It fails with ErrWorktreeExists if anything already exists at
// path and with ErrBranchNotFound if baseBranch does not resolve.
func (m *Manager) CreateFromBranch(ctx context.Context, path, newBranch, baseBranch string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.NewGitError("cannot create worktree", errors.ErrWorktreeExists).
			WithWorktree(path).
			WithBranch(newBranch)
	}
	if !m.BranchExists(ctx, baseBranch) {
		return errors.NewGitError("cannot create worktree", errors.ErrBranchNotFound).
			WithRepository(m.repoDir).
			WithBranch(baseBranch)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.NewGitError("failed to create worktree directory", err).
			WithWorktree(path).
			WithRetryable(true)
	}

	output, err := m.executor.Run(ctx, m.repoDir, "git", "worktree", "add", "-b", newBranch, path, baseBranch)
	if err != nil {
		return errors.NewGitError(fmt.Sprintf("failed to create worktree from branch %s", baseBranch), err).
			WithRepository(m.repoDir).
			WithBranch(newBranch).
			WithWorktree(path).
			WithGitOutput(string(output))
	}
	m.logger.Info("worktree created", "path", path, "branch", newBranch, "base", baseBranch)
	return nil
}

// Remove removes a worktree. If git refuses, the directory is deleted and
// stale worktree metadata pruned; an error is returned only if the directory
// is still there afterwards.
func (m *Manager) Remove(ctx context.Context, path string) error {
	output, err := m.executor.Run(ctx, m.repoDir, "git", "worktree", "remove", "--force", path)
	if err == nil {
		return nil
	}

	m.logger.Warn("git worktree remove failed, removing directory",
		"path", path, "error", err.Error(), "output", strings.TrimSpace(string(output)))
	rmErr := os.RemoveAll(path)
	_ = m.executor.RunQuiet(ctx, m.repoDir, "git", "worktree", "prune")

	if _, statErr := os.Stat(path); statErr == nil {
		return errors.NewGitError("failed to remove worktree", errors.Join(err, rmErr)).
			WithWorktree(path).
			WithGitOutput(string(output))
	}
	return nil
}

// DeleteBranch force-deletes a local branch.
func (m *Manager) DeleteBranch(ctx context.Context, branch string) error {
	output, err := m.executor.Run(ctx, m.repoDir, "git", "branch", "-D", branch)
	if err != nil {
		return errors.NewGitError("failed to delete branch", err).
			WithRepository(m.repoDir).
			WithBranch(branch).
			WithGitOutput(string(output))
	}
	return nil
}

// RenameBranch renames a local branch. Commits are untouched.
func (m *Manager) RenameBranch(ctx context.Context, oldName, newName string) error {
	output, err := m.executor.Run(ctx, m.repoDir, "git", "branch", "-m", oldName, newName)
	if err != nil {
		return errors.NewGitError(fmt.Sprintf("failed to rename branch to %s", newName), err).
			WithRepository(m.repoDir).
			WithBranch(oldName).
			WithGitOutput(string(output))
	}
	m.logger.Info("branch renamed", "from", oldName, "to", newName)
	return nil
}

// Move relocates a worktree, keeping git's worktree metadata in step.
func (m *Manager) Move(ctx context.Context, from, to string) error {
	if _, err := os.Stat(to); err == nil {
		return errors.NewGitError("cannot move worktree", errors.ErrWorktreeExists).WithWorktree(to)
	}
	if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return errors.NewGitError("failed to create worktree directory", err).
			WithWorktree(to).
			WithRetryable(true)
	}
	output, err := m.executor.Run(ctx, m.repoDir, "git", "worktree", "move", from, to)
	if err != nil {
		return errors.NewGitError("failed to move worktree", err).
			WithRepository(m.repoDir).
			WithWorktree(from).
			WithGitOutput(string(output))
	}
	m.logger.Info("worktree moved", "from", from, "to", to)
	return nil
}

// List returns the paths of all worktrees, the main checkout included.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	output, err := m.executor.Run(ctx, m.repoDir, "git", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, errors.NewGitError("failed to list worktrees", err).
			WithRepository(m.repoDir).
			WithGitOutput(string(output))
	}

	var worktrees []string
	for _, line := range strings.Split(string(output), "\n") {
		if path, ok := strings.CutPrefix(line, "worktree "); ok {
			worktrees = append(worktrees, path)
		}
	}
	return worktrees, nil
}

// Exists reports whether path holds a checked-out worktree.
func Exists(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil && info.Mode().IsRegular()
}
