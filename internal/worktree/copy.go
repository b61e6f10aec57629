package worktree

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"
)

// skippedDirs are never descended into when looking for files to copy.
var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
}

// CopyFiles copies files from the repository root into dst whose
// slash-separated relative path matches any of patterns (gobwas/glob syntax,
// with '/' as separator). Files already present in dst are left alone, so
// tracked files checked out by git win. The worktree directory itself is
// skipped. Returns the relative paths that were copied.
func (m *Manager) CopyFiles(dst string, patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		return nil, nil
	}

	matchers := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid copy pattern %q: %w", p, err)
		}
		matchers = append(matchers, g)
	}

	var copied []string
	err := filepath.WalkDir(m.repoDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != m.repoDir && (skippedDirs[d.Name()] || path == m.worktreeDir) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(m.repoDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !matchAny(matchers, rel) {
			return nil
		}

		target := filepath.Join(dst, filepath.FromSlash(rel))
		if _, err := os.Stat(target); err == nil {
			return nil
		}
		if err := copyFile(path, target); err != nil {
			return err
		}
		copied = append(copied, rel)
		return nil
	})
	if err != nil {
		return copied, fmt.Errorf("copy files into %s: %w", dst, err)
	}
	return copied, nil
}

func matchAny(matchers []glob.Glob, s string) bool {
	for _, g := range matchers {
		if g.Match(s) {
			return true
		}
	}
	return false
}

// copyFile copies src to dst, creating parent directories and keeping the
// source file mode.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
