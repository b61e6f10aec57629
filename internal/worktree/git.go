// Package worktree provides the git plumbing used to create and remove node
// worktrees. All git access goes through a CommandExecutor so tests can
// replace the git binary.
package worktree

import (
	"context"
	"os"
	"os/exec"
)

// CommandExecutor abstracts command execution for testability.
type CommandExecutor interface {
	// Run executes a command and returns combined output.
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)

	// RunQuiet executes a command and returns only the error.
	RunQuiet(ctx context.Context, dir string, name string, args ...string) error
}

// CLICommandExecutor executes commands using os/exec.
type CLICommandExecutor struct {
	env []string
}

// NewCLICommandExecutor creates a new CLI command executor.
// Git never prompts for credentials; a fetch that needs them fails instead.
func NewCLICommandExecutor() *CLICommandExecutor {
	return &CLICommandExecutor{
		env: append(os.Environ(), "GIT_TERMINAL_PROMPT=0"),
	}
}

// Run executes a command and returns combined output.
func (e *CLICommandExecutor) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = e.env
	return cmd.CombinedOutput()
}

// RunQuiet executes a command and returns only the error.
func (e *CLICommandExecutor) RunQuiet(ctx context.Context, dir string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = e.env
	return cmd.Run()
}
