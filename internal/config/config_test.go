package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Paths.WorktreeDir != ".caspian/worktrees" {
		t.Errorf("Paths.WorktreeDir = %q", cfg.Paths.WorktreeDir)
	}
	if cfg.Worktree.MaxRetries != 3 {
		t.Errorf("Worktree.MaxRetries = %d, want 3", cfg.Worktree.MaxRetries)
	}
	if cfg.Worktree.RetryBackoff() != 500*time.Millisecond {
		t.Errorf("Worktree.RetryBackoff() = %v, want 500ms", cfg.Worktree.RetryBackoff())
	}
	if !cfg.Worktree.FetchRemoteParents {
		t.Error("Worktree.FetchRemoteParents should be true by default")
	}
	if cfg.Worktree.IgnoreEntry != ".caspian" {
		t.Errorf("Worktree.IgnoreEntry = %q", cfg.Worktree.IgnoreEntry)
	}
	if cfg.Init.ReadyCleanupDelay() != 2*time.Second {
		t.Errorf("Init.ReadyCleanupDelay() = %v, want 2s", cfg.Init.ReadyCleanupDelay())
	}
	if cfg.Init.WaitTimeout() != 30*time.Second {
		t.Errorf("Init.WaitTimeout() = %v, want 30s", cfg.Init.WaitTimeout())
	}
	if !cfg.Logging.Enabled || cfg.Logging.Level != "info" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}

	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("defaults should validate, got %v", errs)
	}
}

func TestLoadFrom(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
worktree:
  max_retries: 5
  copy_patterns: [".env", "secrets/*.json"]
init:
  wait_timeout_ms: 1000
naming:
  branch_prefix: caspian
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Worktree.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.Worktree.MaxRetries)
	}
	if len(cfg.Worktree.CopyPatterns) != 2 || cfg.Worktree.CopyPatterns[1] != "secrets/*.json" {
		t.Errorf("CopyPatterns = %v", cfg.Worktree.CopyPatterns)
	}
	if cfg.Init.WaitTimeout() != time.Second {
		t.Errorf("WaitTimeout = %v", cfg.Init.WaitTimeout())
	}
	if cfg.Init.ReadyCleanupMs != 2000 {
		t.Errorf("unset keys should keep defaults, ReadyCleanupMs = %d", cfg.Init.ReadyCleanupMs)
	}
	if cfg.Naming.BranchPrefix != "caspian" {
		t.Errorf("BranchPrefix = %q", cfg.Naming.BranchPrefix)
	}
}

func TestLoadFrom_Invalid(t *testing.T) {
	v := viper.New()
	for k, val := range map[string]any{
		"worktree.max_retries":  0,
		"logging.level":         "loud",
		"logging.max_size_mb":   10,
		"init.ready_cleanup_ms": 1,
		"init.wait_timeout_ms":  1,
	} {
		v.Set(k, val)
	}

	_, err := LoadFrom(v)
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("err = %T %v, want ValidationErrors", err, err)
	}
	fields := make([]string, len(verrs))
	for i, e := range verrs {
		fields[i] = e.Field
	}
	joined := strings.Join(fields, ",")
	for _, want := range []string{"worktree.max_retries", "logging.level"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing error for %s in %v", want, fields)
		}
	}
}

func TestResolveWorktreeDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"empty", "", "/repo/.caspian/worktrees"},
		{"relative", "trees", "/repo/trees"},
		{"absolute", "/srv/trees", "/srv/trees"},
		{"home", "~/trees", filepath.Join(home, "trees")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PathsConfig{WorktreeDir: tt.value}
			if got := p.ResolveWorktreeDir("/repo"); got != tt.want {
				t.Errorf("ResolveWorktreeDir() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := ConfigDir(); got != "/xdg/caspian" {
		t.Errorf("ConfigDir() = %q", got)
	}
	if got := ConfigFile(); got != "/xdg/caspian/config.yaml" {
		t.Errorf("ConfigFile() = %q", got)
	}

	p := PathsConfig{}
	if got := p.ResolveStoreFile(); got != "/xdg/caspian/nodes.yaml" {
		t.Errorf("ResolveStoreFile() = %q", got)
	}
	if got := p.ResolveLogDir(); got != "/xdg/caspian/logs" {
		t.Errorf("ResolveLogDir() = %q", got)
	}
}
