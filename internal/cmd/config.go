package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/caspian/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify Caspian configuration",
	Long: `View or modify Caspian configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  caspian config set worktree.max_retries 5
  caspian config set naming.branch_prefix caspian

Valid keys:
  paths.worktree_dir            - Where node worktrees are created
  paths.store_file              - YAML file holding repositories and nodes
  paths.log_dir                 - Directory for caspian.log
  worktree.max_retries          - Attempts for transient git failures (1-10)
  worktree.retry_backoff_ms     - Base retry backoff in milliseconds
  worktree.fetch_remote_parents - Fetch origin/... parents first (true/false)
  worktree.ignore_entry         - Entry added to .gitignore (empty disables)
  init.ready_cleanup_ms         - How long finished jobs stay visible
  init.wait_timeout_ms          - How long delete waits for a running job
  naming.branch_prefix          - Prefix for generated branch names
  logging.enabled               - File logging (true/false)
  logging.level                 - debug, info, warn, error`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/caspian/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	settings := viper.AllSettings()
	delete(settings, "config")
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

var configKeyTypes = map[string]string{
	"paths.worktree_dir":            "string",
	"paths.store_file":              "string",
	"paths.log_dir":                 "string",
	"worktree.max_retries":          "int",
	"worktree.retry_backoff_ms":     "int",
	"worktree.fetch_remote_parents": "bool",
	"worktree.ignore_entry":         "string",
	"init.ready_cleanup_ms":         "int",
	"init.wait_timeout_ms":          "int",
	"naming.branch_prefix":          "string",
	"logging.enabled":               "bool",
	"logging.level":                 "string",
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	keyType, ok := configKeyTypes[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nRun 'caspian config set --help' to see valid keys", key)
	}

	var typedValue any
	switch keyType {
	case "string":
		typedValue = value
	case "bool":
		if value != "true" && value != "false" {
			return fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		typedValue = value == "true"
	case "int":
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected integer", key)
		}
		typedValue = intVal
	}

	previous := viper.Get(key)
	viper.Set(key, typedValue)
	if _, err := config.Load(); err != nil {
		viper.Set(key, previous)
		return err
	}

	// Ensure config directory exists
	if err := os.MkdirAll(config.ConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)
	return nil
}

const defaultConfigContent = `# Caspian Configuration

paths:
  # Where node worktrees are created, relative to the repository root
  worktree_dir: .caspian/worktrees
  # Repositories and nodes (default: <config dir>/nodes.yaml)
  # store_file: ~/.config/caspian/nodes.yaml
  # log_dir: ~/.config/caspian/logs

worktree:
  # Attempts for transient git failures such as index.lock contention
  max_retries: 3
  # Attempt n waits n times this long before retrying
  retry_backoff_ms: 500
  # Untracked files copied into every new worktree
  copy_patterns:
    - .env
    - .env.*
  # Fetch the parent first when it is a remote branch like origin/main
  fetch_remote_parents: true
  # Added to .gitignore so worktrees stay out of git status
  ignore_entry: .caspian

init:
  # How long a ready job stays visible before it is dropped
  ready_cleanup_ms: 2000
  # How long delete waits for a running job to stop
  wait_timeout_ms: 30000

naming:
  # Prefix for generated branch names, e.g. "caspian" gives caspian/river-storm-abcde
  branch_prefix: ""

logging:
  enabled: true
  level: info
  max_size_mb: 10
  max_backups: 3
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'caspian config set' to modify values", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintln(out, "  2. ./config.yaml (current directory)")
	fmt.Fprintln(out, "\nEnvironment variables: CASPIAN_* (e.g., CASPIAN_WORKTREE_MAX_RETRIES)")
	return nil
}
