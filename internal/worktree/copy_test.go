package worktree

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/Iron-Ham/caspian/internal/testutil"
)

func TestCopyFiles(t *testing.T) {
	m := newMockManager(t, newMockExecutor())
	repo := m.RepoDir()

	testutil.WriteFile(t, repo, ".env", "SECRET=1\n")
	testutil.WriteFile(t, repo, ".env.local", "LOCAL=1\n")
	testutil.WriteFile(t, repo, "config/.env", "NESTED=1\n")
	testutil.WriteFile(t, repo, "README.md", "readme\n")
	testutil.WriteFile(t, repo, "node_modules/pkg/.env", "skip\n")
	testutil.WriteFile(t, repo, ".caspian/worktrees/other/.env", "skip\n")

	dst := m.PathFor("n1")
	testutil.WriteFile(t, dst, ".env.local", "ALREADY=1\n")

	copied, err := m.CopyFiles(dst, []string{".env", ".env.*", "config/*"})
	if err != nil {
		t.Fatalf("CopyFiles: %v", err)
	}
	sort.Strings(copied)

	want := []string{".env", "config/.env"}
	if strings.Join(copied, ",") != strings.Join(want, ",") {
		t.Errorf("copied = %v, want %v", copied, want)
	}

	data, _ := os.ReadFile(filepath.Join(dst, ".env.local"))
	if string(data) != "ALREADY=1\n" {
		t.Errorf("existing file overwritten: %q", data)
	}
	if _, err := os.Stat(filepath.Join(dst, "README.md")); !os.IsNotExist(err) {
		t.Error("unmatched file was copied")
	}
}

func TestCopyFiles_PreservesMode(t *testing.T) {
	m := newMockManager(t, newMockExecutor())
	src := filepath.Join(m.RepoDir(), "run.sh")
	if err := os.WriteFile(src, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}

	dst := t.TempDir()
	if _, err := m.CopyFiles(dst, []string{"*.sh"}); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(filepath.Join(dst, "run.sh"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0755 {
		t.Errorf("mode = %v, want 0755", info.Mode().Perm())
	}
}

func TestCopyFiles_InvalidPattern(t *testing.T) {
	m := newMockManager(t, newMockExecutor())
	if _, err := m.CopyFiles(t.TempDir(), []string{"[unclosed"}); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestCopyFiles_NoPatterns(t *testing.T) {
	m := newMockManager(t, newMockExecutor())
	copied, err := m.CopyFiles(t.TempDir(), nil)
	if err != nil || copied != nil {
		t.Errorf("CopyFiles(nil) = %v, %v", copied, err)
	}
}
