// Package internal contains integration tests that verify the node manager,
// the init coordinator, the event bus, and the progress view work together
// against a real git repository.
package internal

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/caspian/internal/errors"
	"github.com/Iron-Ham/caspian/internal/event"
	"github.com/Iron-Ham/caspian/internal/node"
	"github.com/Iron-Ham/caspian/internal/nodeinit"
	"github.com/Iron-Ham/caspian/internal/testutil"
	"github.com/Iron-Ham/caspian/internal/tui/progress"
)

type stack struct {
	bus   *event.Bus
	coord *nodeinit.Coordinator
	store *node.FileStore
	nodes *node.Manager
	repo  node.Repository

	mu     sync.Mutex
	events []event.Event
}

func newStack(t *testing.T) *stack {
	t.Helper()
	testutil.SkipIfNoGit(t)

	repoDir := testutil.SetupTestRepo(t)
	testutil.CommitFile(t, repoDir, ".env.example", "TOKEN=\n", "Add env example")
	testutil.WriteFile(t, repoDir, ".env", "TOKEN=secret\n")

	store, err := node.NewFileStore(filepath.Join(t.TempDir(), "nodes.yaml"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	s := &stack{bus: event.NewBus(), store: store}
	s.coord = nodeinit.New(s.bus, nodeinit.WithReadyCleanupDelay(time.Minute))
	s.bus.SubscribeAll(func(e event.Event) {
		s.mu.Lock()
		s.events = append(s.events, e)
		s.mu.Unlock()
	})

	settings := node.DefaultSettings()
	settings.RetryBackoff = 10 * time.Millisecond
	settings.WaitTimeout = 10 * time.Second
	s.nodes = node.NewManager(store, s.coord, s.bus, node.WithSettings(settings))
	t.Cleanup(s.nodes.Shutdown)

	s.repo, err = s.nodes.AddRepository(repoDir)
	if err != nil {
		t.Fatalf("AddRepository: %v", err)
	}
	return s
}

func (s *stack) progressSteps(nodeID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var steps []string
	for _, e := range s.events {
		if p, ok := e.(event.NodeProgressEvent); ok && p.NodeID == nodeID {
			steps = append(steps, p.Step)
		}
	}
	return steps
}

func (s *stack) removalMessages(nodeID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var msgs []string
	for _, e := range s.events {
		if r, ok := e.(event.NodeRemovalEvent); ok && r.NodeID == nodeID {
			msgs = append(msgs, r.Message)
		}
	}
	return msgs
}

// TestNodeLifecycleIntegration drives one node from creation to deletion and
// follows it with the plain progress renderer, as the CLI does.
func TestNodeLifecycleIntegration(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	n, err := s.nodes.Create(ctx, s.repo.ID, "main")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var out bytes.Buffer
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	res, err := progress.RunPlain(runCtx, &out, s.coord, []string{n.ID},
		progress.WithNames(map[string]string{n.ID: n.Name}))
	if err != nil {
		t.Fatalf("RunPlain: %v\n%s", err, out.String())
	}
	if len(res.Failed()) != 0 {
		t.Fatalf("unexpected failures: %+v", res.Failed())
	}
	if !strings.Contains(out.String(), n.Name+": ready") {
		t.Errorf("plain output should report ready:\n%s", out.String())
	}

	s.nodes.Wait()

	path, err := s.nodes.UsablePath(n.ID)
	if err != nil {
		t.Fatalf("UsablePath: %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, "README.md")); err != nil {
		t.Errorf("worktree should contain the parent's files: %v", err)
	}
	if data, err := os.ReadFile(filepath.Join(path, ".env")); err != nil || string(data) != "TOKEN=secret\n" {
		t.Errorf(".env should be copied into the worktree, got %q (%v)", data, err)
	}
	if !testutil.BranchExists(t, s.repo.Path, n.Branch) {
		t.Errorf("branch %s should exist", n.Branch)
	}

	steps := strings.Join(s.progressSteps(n.ID), ",")
	if steps != "pending,creating_worktree,copying_files,ready" {
		t.Errorf("progress steps = %s", steps)
	}

	if err := s.nodes.Delete(ctx, n.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("worktree directory should be gone, stat err = %v", err)
	}
	if testutil.BranchExists(t, s.repo.Path, n.Branch) {
		t.Errorf("branch %s should be deleted", n.Branch)
	}
	if _, err := s.store.GetNode(n.ID); !errors.Is(err, errors.ErrNodeNotFound) {
		t.Errorf("GetNode after delete = %v, want ErrNodeNotFound", err)
	}
	if _, ok := s.coord.GetProgress(n.ID); ok {
		t.Error("job should be cleared after delete")
	}

	msgs := s.removalMessages(n.ID)
	if len(msgs) == 0 || msgs[len(msgs)-1] != "Worktree removed" {
		t.Errorf("removal messages = %v", msgs)
	}
}

// TestConcurrentCreatesIntegration creates several nodes in one repository at
// once. The repository lock keeps git from tripping over its own index lock.
func TestConcurrentCreatesIntegration(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	const count = 4
	ids := make([]string, count)
	var g errgroup.Group
	for i := range count {
		g.Go(func() error {
			n, err := s.nodes.Create(ctx, s.repo.ID, "main")
			if err != nil {
				return err
			}
			ids[i] = n.ID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.nodes.Wait()

	paths := make(map[string]bool)
	for _, id := range ids {
		path, err := s.nodes.UsablePath(id)
		if err != nil {
			t.Errorf("UsablePath(%s): %v", id, err)
			continue
		}
		paths[path] = true
	}
	if len(paths) != count {
		t.Errorf("expected %d distinct worktrees, got %d", count, len(paths))
	}
	if s.coord.IsRepositoryLocked(s.repo.ID) {
		t.Error("repository lock should be released once every job finished")
	}

	worktrees := testutil.ListWorktrees(t, s.repo.Path)
	if len(worktrees) != count+1 {
		t.Errorf("git worktree list = %v, want main checkout plus %d", worktrees, count)
	}
}

// TestFailedCreateIntegration checks that a bad parent branch fails the job,
// leaves nothing behind, and can be retried once the branch exists.
func TestFailedCreateIntegration(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	n, err := s.nodes.Create(ctx, s.repo.ID, "release")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !s.coord.WaitForInit(ctx, n.ID, 30*time.Second) {
		t.Fatal("init did not finish")
	}
	s.nodes.Wait()

	if !s.coord.HasFailed(n.ID) {
		t.Fatal("create from a missing branch should fail")
	}
	if _, err := s.nodes.UsablePath(n.ID); !errors.Is(err, errors.ErrNodeInitFailed) {
		t.Errorf("UsablePath = %v, want ErrNodeInitFailed", err)
	}
	if testutil.BranchExists(t, s.repo.Path, n.Branch) {
		t.Error("failed create should not leave a branch behind")
	}

	testutil.CreateBranch(t, s.repo.Path, "release")
	if err := s.nodes.Retry(ctx, n.ID); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if !s.coord.WaitForInit(ctx, n.ID, 30*time.Second) {
		t.Fatal("retry did not finish")
	}
	s.nodes.Wait()

	if _, err := s.nodes.UsablePath(n.ID); err != nil {
		t.Errorf("UsablePath after retry: %v", err)
	}
}
