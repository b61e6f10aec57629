package node

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Iron-Ham/caspian/internal/worktree"
)

// fakeGit is an in-memory worktree.Git. CreateFromBranch writes a .git file
// so worktree.Exists sees the result.
type fakeGit struct {
	root string

	mu          sync.Mutex
	createErrs  []error // consumed one per CreateFromBranch call
	createHook  func()  // runs at the start of CreateFromBranch, outside mu
	createCalls int
	fetches     []string
	removed     []string
	deleted     []string
	renamed     []string
	copies      int
	active      int
	maxActive   int
	branches    map[string]bool
	moveErr     error
}

func newFakeGit(root string) *fakeGit {
	return &fakeGit{root: root, branches: map[string]bool{"main": true}}
}

func (f *fakeGit) RepoDir() string { return f.root }

func (f *fakeGit) WorktreeDir() string {
	return filepath.Join(f.root, ".caspian", "worktrees")
}

func (f *fakeGit) PathFor(branch string) string {
	return filepath.Join(f.WorktreeDir(), strings.ReplaceAll(branch, "/", "-"))
}

// List reports the main checkout plus every directory under WorktreeDir.
func (f *fakeGit) List(context.Context) ([]string, error) {
	paths := []string{f.root}
	entries, err := os.ReadDir(f.WorktreeDir())
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			paths = append(paths, filepath.Join(f.WorktreeDir(), e.Name()))
		}
	}
	return paths, nil
}

func (f *fakeGit) EnsureIgnored(string) error { return nil }

func (f *fakeGit) Fetch(_ context.Context, remote, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, remote+"/"+branch)
	return nil
}

func (f *fakeGit) CreateFromBranch(_ context.Context, path, newBranch, _ string) error {
	f.mu.Lock()
	f.createCalls++
	f.active++
	f.maxActive = max(f.maxActive, f.active)
	hook := f.createHook
	var err error
	if len(f.createErrs) > 0 {
		err = f.createErrs[0]
		f.createErrs = f.createErrs[1:]
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if hook != nil {
		hook()
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return err
	}
	f.mu.Lock()
	f.branches[newBranch] = true
	f.mu.Unlock()
	return os.WriteFile(filepath.Join(path, ".git"), []byte("gitdir: fake\n"), 0644)
}

func (f *fakeGit) CopyFiles(string, []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies++
	return nil, nil
}

func (f *fakeGit) Remove(_ context.Context, path string) error {
	f.mu.Lock()
	f.removed = append(f.removed, path)
	f.mu.Unlock()
	return os.RemoveAll(path)
}

func (f *fakeGit) DeleteBranch(_ context.Context, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, branch)
	delete(f.branches, branch)
	return nil
}

func (f *fakeGit) BranchExists(_ context.Context, ref string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.branches[ref]
}

func (f *fakeGit) RenameBranch(_ context.Context, oldName, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renamed = append(f.renamed, oldName+"->"+newName)
	delete(f.branches, oldName)
	f.branches[newName] = true
	return nil
}

func (f *fakeGit) Move(_ context.Context, from, to string) error {
	f.mu.Lock()
	err := f.moveErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return err
	}
	return os.Rename(from, to)
}

func (f *fakeGit) addBranch(branch string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches[branch] = true
}

func (f *fakeGit) failMove(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moveErr = err
}

func (f *fakeGit) failCreate(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErrs = append(f.createErrs, errs...)
}

func (f *fakeGit) setCreateHook(hook func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createHook = hook
}

// gitCalls is a point-in-time copy of what fakeGit recorded.
type gitCalls struct {
	createCalls int
	fetches     []string
	removed     []string
	deleted     []string
	renamed     []string
	copies      int
	maxActive   int
}

func (f *fakeGit) snapshot() gitCalls {
	f.mu.Lock()
	defer f.mu.Unlock()
	return gitCalls{
		createCalls: f.createCalls,
		fetches:     append([]string(nil), f.fetches...),
		removed:     append([]string(nil), f.removed...),
		deleted:     append([]string(nil), f.deleted...),
		renamed:     append([]string(nil), f.renamed...),
		copies:      f.copies,
		maxActive:   f.maxActive,
	}
}

var _ worktree.Git = (*fakeGit)(nil)
