package config

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantField string
	}{
		{"retries too low", func(c *Config) { c.Worktree.MaxRetries = 0 }, "worktree.max_retries"},
		{"retries too high", func(c *Config) { c.Worktree.MaxRetries = 11 }, "worktree.max_retries"},
		{"negative backoff", func(c *Config) { c.Worktree.RetryBackoffMs = -1 }, "worktree.retry_backoff_ms"},
		{"bad glob", func(c *Config) { c.Worktree.CopyPatterns = []string{".env", "[oops"} }, "worktree.copy_patterns[1]"},
		{"multiline ignore entry", func(c *Config) { c.Worktree.IgnoreEntry = ".caspian\n*" }, "worktree.ignore_entry"},
		{"zero cleanup", func(c *Config) { c.Init.ReadyCleanupMs = 0 }, "init.ready_cleanup_ms"},
		{"zero wait", func(c *Config) { c.Init.WaitTimeoutMs = 0 }, "init.wait_timeout_ms"},
		{"bad prefix", func(c *Config) { c.Naming.BranchPrefix = "9lives" }, "naming.branch_prefix"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"huge log", func(c *Config) { c.Logging.MaxSizeMB = 5000 }, "logging.max_size_mb"},
		{"negative backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups"},
		{"null in path", func(c *Config) { c.Paths.StoreFile = "a\x00b" }, "paths.store_file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("Validate() = %v, want exactly one error", errs)
			}
			if errs[0].Field != tt.wantField {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.wantField)
			}
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	if got := (ValidationErrors{}).Error(); got != "" {
		t.Errorf("empty = %q", got)
	}

	one := ValidationErrors{{Field: "a", Value: 1, Message: "bad"}}
	if got := one.Error(); got != "a: bad (got: 1)" {
		t.Errorf("single = %q", got)
	}

	two := append(one, ValidationError{Field: "b", Value: "x", Message: "worse"})
	got := two.Error()
	if !strings.HasPrefix(got, "2 validation errors:") || !strings.Contains(got, "2. b: worse (got: x)") {
		t.Errorf("multiple = %q", got)
	}
}
