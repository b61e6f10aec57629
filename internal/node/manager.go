package node

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/caspian/internal/config"
	"github.com/Iron-Ham/caspian/internal/errors"
	"github.com/Iron-Ham/caspian/internal/event"
	"github.com/Iron-Ham/caspian/internal/logging"
	"github.com/Iron-Ham/caspian/internal/nodeinit"
	"github.com/Iron-Ham/caspian/internal/worktree"
)

// Settings controls how node worktrees are built and torn down.
type Settings struct {
	WorktreeDir        string
	Remote             string
	MaxRetries         int
	RetryBackoff       time.Duration
	CopyPatterns       []string
	FetchRemoteParents bool
	IgnoreEntry        string
	BranchPrefix       string
	WaitTimeout        time.Duration
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return SettingsFromConfig(config.Default())
}

// SettingsFromConfig extracts node settings from the loaded configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		WorktreeDir:        cfg.Paths.WorktreeDir,
		Remote:             "origin",
		MaxRetries:         cfg.Worktree.MaxRetries,
		RetryBackoff:       cfg.Worktree.RetryBackoff(),
		CopyPatterns:       cfg.Worktree.CopyPatterns,
		FetchRemoteParents: cfg.Worktree.FetchRemoteParents,
		IgnoreEntry:        cfg.Worktree.IgnoreEntry,
		BranchPrefix:       cfg.Naming.BranchPrefix,
		WaitTimeout:        cfg.Init.WaitTimeout(),
	}
}

// GitOpener returns git plumbing for the repository at repoPath.
type GitOpener func(repoPath string) (worktree.Git, error)

// Manager creates, retries, and deletes nodes. Worktree creation runs in the
// background; progress is reported through the coordinator.
type Manager struct {
	store    Store
	coord    *nodeinit.Coordinator
	bus      *event.Bus
	openGit  GitOpener
	settings Settings
	logger   *logging.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	workers conc.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSettings replaces DefaultSettings.
func WithSettings(s Settings) ManagerOption {
	return func(m *Manager) { m.settings = s }
}

// WithGitOpener replaces the git CLI backed worktree manager.
func WithGitOpener(open GitOpener) ManagerOption {
	return func(m *Manager) { m.openGit = open }
}

// WithManagerLogger sets the logger.
func WithManagerLogger(logger *logging.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger.WithComponent("node")
		}
	}
}

// NewManager creates a Manager. bus receives removal events and should be
// the bus coord publishes progress on.
func NewManager(store Store, coord *nodeinit.Coordinator, bus *event.Bus, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:    store,
		coord:    coord,
		bus:      bus,
		settings: DefaultSettings(),
		logger:   logging.NopLogger(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.openGit == nil {
		m.openGit = func(repoPath string) (worktree.Git, error) {
			return worktree.New(repoPath, m.settings.WorktreeDir, worktree.WithLogger(m.logger))
		}
	}
	return m
}

// Coordinator returns the init job coordinator.
func (m *Manager) Coordinator() *nodeinit.Coordinator { return m.coord }

// Wait blocks until every background worker has returned.
func (m *Manager) Wait() {
	m.workers.Wait()
}

// Shutdown aborts in-flight git commands and waits for workers. Unlike
// Coordinator.Cancel it interrupts I/O; use it only when the process exits.
func (m *Manager) Shutdown() {
	m.cancel()
	m.workers.Wait()
}

// AddRepository registers the git repository containing path.
func (m *Manager) AddRepository(path string) (Repository, error) {
	root, err := worktree.FindGitRoot(path)
	if err != nil {
		return Repository{}, errors.NewGitError("cannot add repository", err).WithRepository(path)
	}
	return m.store.AddRepository(Repository{Path: root})
}

// Create persists a new pending node branching from parentBranch and starts
// building its worktree in the background. It returns as soon as the job is
// registered; use the coordinator to follow progress.
func (m *Manager) Create(ctx context.Context, repositoryID, parentBranch string) (Node, error) {
	if parentBranch == "" {
		return Node{}, errors.NewValidationError("parent branch is required").WithField("parent")
	}
	if err := ctx.Err(); err != nil {
		return Node{}, err
	}

	repo, err := m.store.GetRepository(repositoryID)
	if err != nil {
		return Node{}, err
	}
	existing, err := m.store.ListNodes(repo.ID)
	if err != nil {
		return Node{}, err
	}
	branches := make([]string, 0, len(existing))
	for _, n := range existing {
		branches = append(branches, n.Name)
	}

	name := GenerateName(branches)
	branch := name
	if m.settings.BranchPrefix != "" {
		branch = m.settings.BranchPrefix + "/" + name
	}

	now := time.Now()
	n := Node{
		ID:             NewID(),
		RepositoryID:   repo.ID,
		Name:           name,
		Branch:         branch,
		ParentBranch:   parentBranch,
		WorktreeStatus: StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.store.SaveNode(n); err != nil {
		return Node{}, err
	}

	if err := m.coord.StartJob(n.ID, repo.ID); err != nil {
		return Node{}, errors.NewNodeError("cannot start initialization", err).WithNodeID(n.ID)
	}
	m.logger.Info("node created", "node_id", n.ID, "name", n.Name, "parent", parentBranch)
	m.spawn(n, repo)
	return n, nil
}

// Retry restarts initialization for a node whose worktree failed, or whose
// job was lost (pending in the store with no live job, e.g. after a restart).
func (m *Manager) Retry(ctx context.Context, nodeID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := m.store.GetNode(nodeID)
	if err != nil {
		return err
	}
	if m.coord.IsInitializing(n.ID) {
		return errors.NewNodeError("cannot retry", errors.ErrNodeInitializing).
			WithNodeID(n.ID).
			WithSeverity(errors.SeverityWarning)
	}
	if n.WorktreeStatus != StatusFailed && n.WorktreeStatus != StatusPending && n.WorktreeStatus != StatusCreating {
		return errors.NewNodeError(
			fmt.Sprintf("cannot retry worktree creation for node with status '%s'", n.WorktreeStatus),
			errors.ErrInvalidStatus,
		).WithNodeID(n.ID)
	}
	repo, err := m.store.GetRepository(n.RepositoryID)
	if err != nil {
		return err
	}

	// StartJob replaces the old record itself and rejects without touching
	// it while the previous worker has not finalized.
	if err := m.coord.StartJob(n.ID, repo.ID); err != nil {
		if errors.Is(err, nodeinit.ErrJobInProgress) {
			return errors.NewNodeError("cannot retry", errors.Join(errors.ErrNodeInitializing, err)).
				WithNodeID(n.ID).
				WithSeverity(errors.SeverityWarning)
		}
		return errors.NewNodeError("cannot retry", err).WithNodeID(n.ID)
	}
	if err := m.store.UpdateNodeStatus(n.ID, StatusPending, ""); err != nil {
		m.logger.Warn("failed to reset node status", "node_id", n.ID, "error", err.Error())
	}

	m.logger.Info("node retry started", "node_id", n.ID)
	m.spawn(n, repo)
	return nil
}

// Delete cancels any in-flight initialization, waits for it to stop, removes
// the worktree and branch under the repository lock, and forgets the node.
//
// If the job is still running when the wait times out, the node is left in
// place with cancellation requested and a timeout error is returned.
func (m *Manager) Delete(ctx context.Context, nodeID string) error {
	n, err := m.store.GetNode(nodeID)
	if err != nil {
		return err
	}
	log := m.logger.WithNode(n.ID).WithRepository(n.RepositoryID)

	m.coord.Cancel(n.ID)
	if !m.coord.WaitForInit(ctx, n.ID, m.settings.WaitTimeout) && m.coord.IsInitializing(n.ID) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return errors.NewNodeError("initialization did not stop in time", errors.NewTimeoutError("waiting for node init", m.settings.WaitTimeout)).
			WithNodeID(n.ID)
	}

	// The worker may have recorded a worktree path before it stopped.
	if fresh, err := m.store.GetNode(n.ID); err == nil {
		n = fresh
	}

	repo, repoErr := m.store.GetRepository(n.RepositoryID)
	if repoErr != nil {
		log.Warn("repository missing, removing node record only", "error", repoErr.Error())
	} else {
		if err := m.removeWorktree(ctx, n, repo); err != nil {
			return err
		}
	}

	if err := m.store.DeleteNode(n.ID); err != nil {
		return err
	}
	m.coord.ClearJob(n.ID)
	log.Info("node deleted")
	return nil
}

func (m *Manager) removeWorktree(ctx context.Context, n Node, repo Repository) error {
	git, err := m.openGit(repo.Path)
	if err != nil {
		return err
	}
	path := n.WorktreePath
	if path == "" {
		path = git.PathFor(n.Branch)
	}

	m.bus.Publish(event.NewNodeRemovalEvent(n.ID, repo.ID, event.RemovalStageRemoving, "Removing worktree"))
	err = m.coord.WithRepositoryLock(ctx, repo.ID, func() error {
		if err := git.Remove(ctx, path); err != nil {
			return err
		}
		m.bus.Publish(event.NewNodeRemovalEvent(n.ID, repo.ID, event.RemovalStageRemoving, "Cleaning up git references"))
		if err := git.DeleteBranch(ctx, n.Branch); err != nil {
			m.logger.Debug("branch not deleted", "node_id", n.ID, "branch", n.Branch, "error", err.Error())
		}
		return nil
	})
	if err != nil {
		return errors.NewNodeError("failed to remove worktree", err).WithNodeID(n.ID).WithRepositoryID(repo.ID)
	}
	m.bus.Publish(event.NewNodeRemovalEvent(n.ID, repo.ID, event.RemovalStageRemoved, "Worktree removed"))
	return nil
}

// UsablePath returns the node's worktree path if it is safe to use: the
// node is not initializing, has not failed, and its worktree is on disk.
func (m *Manager) UsablePath(nodeID string) (string, error) {
	n, err := m.store.GetNode(nodeID)
	if err != nil {
		return "", err
	}

	if m.coord.IsInitializing(n.ID) {
		msg := "node is still initializing"
		if p, ok := m.coord.GetProgress(n.ID); ok {
			msg = fmt.Sprintf("node is still initializing (%s: %s)", p.Step, p.Message)
		}
		return "", errors.NewNodeError(msg, errors.ErrNodeInitializing).
			WithNodeID(n.ID).
			WithSeverity(errors.SeverityWarning)
	}
	if m.coord.HasFailed(n.ID) {
		msg := "node initialization failed"
		if p, ok := m.coord.GetProgress(n.ID); ok && p.Error != "" {
			msg = "node initialization failed: " + p.Error
		}
		return "", errors.NewNodeError(msg, errors.ErrNodeInitFailed).WithNodeID(n.ID)
	}

	switch n.WorktreeStatus {
	case StatusReady:
	case StatusFailed:
		return "", errors.NewNodeError("node initialization failed; retry it", errors.ErrNodeInitFailed).WithNodeID(n.ID)
	default:
		return "", errors.NewNodeError("node initialization was interrupted; retry it", errors.ErrNodeInitFailed).WithNodeID(n.ID)
	}

	if n.WorktreePath == "" || !worktree.Exists(n.WorktreePath) {
		return "", errors.NewNodeError("worktree is missing on disk", errors.ErrWorktreeMissing).WithNodeID(n.ID)
	}
	return n.WorktreePath, nil
}

// Outcome reports how a node's last init job ended, from the store. It is
// for jobs whose coordinator record has already been cleaned up; the store
// is written before the final progress event, so it is never behind. ok is
// false while the stored status is not ready or failed.
func (m *Manager) Outcome(nodeID string) (p nodeinit.Progress, ok bool) {
	n, err := m.store.GetNode(nodeID)
	if err != nil {
		return nodeinit.Progress{}, false
	}
	p = nodeinit.Progress{NodeID: n.ID, RepositoryID: n.RepositoryID, UpdatedAt: n.UpdatedAt}
	switch n.WorktreeStatus {
	case StatusReady:
		p.Step, p.Message = nodeinit.StepReady, "Worktree ready"
	case StatusFailed:
		p.Step, p.Message = nodeinit.StepFailed, "Failed to create worktree"
		p.Error = "see 'caspian logs' for details"
	default:
		return nodeinit.Progress{}, false
	}
	return p, true
}

// List returns nodes for a repository, or all nodes if repositoryID is empty.
func (m *Manager) List(repositoryID string) ([]Node, error) {
	return m.store.ListNodes(repositoryID)
}
