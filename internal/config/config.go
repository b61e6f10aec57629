package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete Caspian configuration
type Config struct {
	Paths    PathsConfig    `mapstructure:"paths"`
	Worktree WorktreeConfig `mapstructure:"worktree"`
	Init     InitConfig     `mapstructure:"init"`
	Naming   NamingConfig   `mapstructure:"naming"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// PathsConfig controls where Caspian keeps its files
type PathsConfig struct {
	// WorktreeDir is where node worktrees are created. Relative paths are
	// resolved against the repository root; ~ expands to the home directory.
	// Default: .caspian/worktrees
	WorktreeDir string `mapstructure:"worktree_dir"`

	// StoreFile is the YAML file holding repositories and nodes.
	// Default: <config dir>/nodes.yaml
	StoreFile string `mapstructure:"store_file"`

	// LogDir is where caspian.log is written. Default: <config dir>/logs
	LogDir string `mapstructure:"log_dir"`
}

// WorktreeConfig controls how node worktrees are built
type WorktreeConfig struct {
	// MaxRetries is how many times a transient git failure (index.lock
	// contention, timeouts) is attempted before the node fails.
	MaxRetries int `mapstructure:"max_retries"`

	// RetryBackoffMs is the base backoff; attempt n waits n times this long.
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`

	// CopyPatterns are glob patterns, relative to the repository root, of
	// untracked files copied into each new worktree (e.g. .env files).
	CopyPatterns []string `mapstructure:"copy_patterns"`

	// FetchRemoteParents fetches the parent branch first when it names a
	// remote-tracking branch such as origin/main.
	FetchRemoteParents bool `mapstructure:"fetch_remote_parents"`

	// IgnoreEntry is added to the repository's .gitignore so worktrees do not
	// show up in git status. Empty disables the edit.
	IgnoreEntry string `mapstructure:"ignore_entry"`
}

// InitConfig controls the init job coordinator
type InitConfig struct {
	// ReadyCleanupMs is how long a ready job stays visible before it is dropped.
	ReadyCleanupMs int `mapstructure:"ready_cleanup_ms"`

	// WaitTimeoutMs bounds how long deletion waits for an in-flight job.
	WaitTimeoutMs int `mapstructure:"wait_timeout_ms"`
}

// NamingConfig controls generated node branch names
type NamingConfig struct {
	// BranchPrefix is prepended to generated names, separated by "/".
	BranchPrefix string `mapstructure:"branch_prefix"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled turns on file logging (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is one of debug, info, warn, error (default: info)
	Level string `mapstructure:"level"`
	// MaxSizeMB is the size at which caspian.log is rotated (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is how many rotated files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// RetryBackoff returns the base retry backoff as a Duration.
func (c *WorktreeConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

// ReadyCleanupDelay returns ReadyCleanupMs as a Duration.
func (c *InitConfig) ReadyCleanupDelay() time.Duration {
	return time.Duration(c.ReadyCleanupMs) * time.Millisecond
}

// WaitTimeout returns WaitTimeoutMs as a Duration.
func (c *InitConfig) WaitTimeout() time.Duration {
	return time.Duration(c.WaitTimeoutMs) * time.Millisecond
}

// ResolveWorktreeDir returns the worktree directory for a repository rooted
// at repoDir. Relative paths are resolved against repoDir.
func (p *PathsConfig) ResolveWorktreeDir(repoDir string) string {
	if p.WorktreeDir == "" {
		return filepath.Join(repoDir, ".caspian", "worktrees")
	}
	path := expandHome(p.WorktreeDir)
	if !filepath.IsAbs(path) {
		path = filepath.Join(repoDir, path)
	}
	return path
}

// ResolveStoreFile returns the store path, defaulting to nodes.yaml in ConfigDir.
func (p *PathsConfig) ResolveStoreFile() string {
	if p.StoreFile == "" {
		return filepath.Join(ConfigDir(), "nodes.yaml")
	}
	return expandHome(p.StoreFile)
}

// ResolveLogDir returns the log directory, defaulting to ConfigDir/logs.
func (p *PathsConfig) ResolveLogDir() string {
	if p.LogDir == "" {
		return filepath.Join(ConfigDir(), "logs")
	}
	return expandHome(p.LogDir)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			WorktreeDir: ".caspian/worktrees",
		},
		Worktree: WorktreeConfig{
			MaxRetries:         3,
			RetryBackoffMs:     500,
			CopyPatterns:       []string{".env", ".env.*"},
			FetchRemoteParents: true,
			IgnoreEntry:        ".caspian",
		},
		Init: InitConfig{
			ReadyCleanupMs: 2000,
			WaitTimeoutMs:  30000,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("paths.worktree_dir", defaults.Paths.WorktreeDir)
	viper.SetDefault("paths.store_file", defaults.Paths.StoreFile)
	viper.SetDefault("paths.log_dir", defaults.Paths.LogDir)

	viper.SetDefault("worktree.max_retries", defaults.Worktree.MaxRetries)
	viper.SetDefault("worktree.retry_backoff_ms", defaults.Worktree.RetryBackoffMs)
	viper.SetDefault("worktree.copy_patterns", defaults.Worktree.CopyPatterns)
	viper.SetDefault("worktree.fetch_remote_parents", defaults.Worktree.FetchRemoteParents)
	viper.SetDefault("worktree.ignore_entry", defaults.Worktree.IgnoreEntry)

	viper.SetDefault("init.ready_cleanup_ms", defaults.Init.ReadyCleanupMs)
	viper.SetDefault("init.wait_timeout_ms", defaults.Init.WaitTimeoutMs)

	viper.SetDefault("naming.branch_prefix", defaults.Naming.BranchPrefix)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load for an explicit viper instance, so tests need not touch
// the global one.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults if it
// cannot be loaded
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "caspian")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".caspian"
	}
	return filepath.Join(home, ".config", "caspian")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
