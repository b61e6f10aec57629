package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "worktree.max_retries")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// branchPrefixRegex validates branch prefix characters
var branchPrefixRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validatePaths()...)
	errors = append(errors, c.validateWorktree()...)
	errors = append(errors, c.validateInit()...)
	errors = append(errors, c.validateNaming()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError

	const maxPathLength = 4096
	for field, path := range map[string]string{
		"paths.worktree_dir": c.Paths.WorktreeDir,
		"paths.store_file":   c.Paths.StoreFile,
		"paths.log_dir":      c.Paths.LogDir,
	} {
		if strings.ContainsRune(path, '\x00') {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   path,
				Message: "path contains invalid null character",
			})
		}
		if len(path) > maxPathLength {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   path,
				Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
			})
		}
	}

	// Map iteration order is random; keep output stable.
	slices.SortFunc(errors, func(a, b ValidationError) int { return strings.Compare(a.Field, b.Field) })
	return errors
}

func (c *Config) validateWorktree() []ValidationError {
	var errors []ValidationError

	if c.Worktree.MaxRetries < 1 || c.Worktree.MaxRetries > 10 {
		errors = append(errors, ValidationError{
			Field:   "worktree.max_retries",
			Value:   c.Worktree.MaxRetries,
			Message: "must be between 1 and 10",
		})
	}

	if c.Worktree.RetryBackoffMs < 0 || c.Worktree.RetryBackoffMs > 60000 {
		errors = append(errors, ValidationError{
			Field:   "worktree.retry_backoff_ms",
			Value:   c.Worktree.RetryBackoffMs,
			Message: "must be between 0 and 60000",
		})
	}

	for i, pattern := range c.Worktree.CopyPatterns {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("worktree.copy_patterns[%d]", i),
				Value:   pattern,
				Message: fmt.Sprintf("invalid glob pattern: %v", err),
			})
		}
	}

	if strings.ContainsAny(c.Worktree.IgnoreEntry, "\n\r") {
		errors = append(errors, ValidationError{
			Field:   "worktree.ignore_entry",
			Value:   c.Worktree.IgnoreEntry,
			Message: "must be a single line",
		})
	}

	return errors
}

func (c *Config) validateInit() []ValidationError {
	var errors []ValidationError

	if c.Init.ReadyCleanupMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "init.ready_cleanup_ms",
			Value:   c.Init.ReadyCleanupMs,
			Message: "must be positive",
		})
	}
	if c.Init.WaitTimeoutMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "init.wait_timeout_ms",
			Value:   c.Init.WaitTimeoutMs,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateNaming() []ValidationError {
	if c.Naming.BranchPrefix == "" || branchPrefixRegex.MatchString(c.Naming.BranchPrefix) {
		return nil
	}
	return []ValidationError{{
		Field:   "naming.branch_prefix",
		Value:   c.Naming.BranchPrefix,
		Message: "must start with a letter and contain only letters, digits, hyphens, or underscores",
	}}
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
