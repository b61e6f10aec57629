package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Iron-Ham/caspian/internal/config"
	"github.com/Iron-Ham/caspian/internal/errors"
	"github.com/Iron-Ham/caspian/internal/event"
	"github.com/Iron-Ham/caspian/internal/logging"
	"github.com/Iron-Ham/caspian/internal/node"
	"github.com/Iron-Ham/caspian/internal/nodeinit"
	"github.com/Iron-Ham/caspian/internal/worktree"
)

// app wires the collaborators one command invocation needs. Init jobs live
// in memory, so a command that starts work must wait for it before exiting.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	store  *node.FileStore
	bus    *event.Bus
	coord  *nodeinit.Coordinator
	nodes  *node.Manager
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := CreateLogger(cfg).WithComponent("cli")

	store, err := node.NewFileStore(cfg.Paths.ResolveStoreFile())
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	bus := event.NewBus(event.WithBusLogger(logger))
	coord := nodeinit.New(bus,
		nodeinit.WithLogger(logger),
		nodeinit.WithReadyCleanupDelay(cfg.Init.ReadyCleanupDelay()),
		nodeinit.WithDefaultWaitTimeout(cfg.Init.WaitTimeout()),
	)
	nodes := node.NewManager(store, coord, bus,
		node.WithSettings(node.SettingsFromConfig(cfg)),
		node.WithManagerLogger(logger),
	)

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		bus:    bus,
		coord:  coord,
		nodes:  nodes,
	}, nil
}

// Close waits for background workers and flushes the log.
func (a *app) Close() {
	a.nodes.Wait()
	_ = a.logger.Close()
}

// CreateLogger creates a logger based on the configuration.
// Returns a NopLogger if logging is disabled or if creation fails.
func CreateLogger(cfg *config.Config) *logging.Logger {
	// Check if logging is enabled
	if !cfg.Logging.Enabled {
		return logging.NopLogger()
	}

	rotationConfig := logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	}

	logger, err := logging.NewLoggerWithRotation(cfg.Paths.ResolveLogDir(), cfg.Logging.Level, rotationConfig)
	if err != nil {
		// Log creation failure shouldn't prevent the application from starting
		fmt.Fprintf(os.Stderr, "Warning: failed to create logger: %v\n", err)
		return logging.NopLogger()
	}
	return logger
}

// resolveRepository finds a registered repository by ID, ID prefix, name, or
// path. An empty ref means the repository containing the working directory.
func (a *app) resolveRepository(ref string) (node.Repository, error) {
	if ref != "" {
		repo, err := a.store.GetRepository(ref)
		if err == nil {
			return repo, nil
		}
		if !errors.Is(err, errors.ErrRepositoryNotFound) {
			return node.Repository{}, err
		}
	}

	path := ref
	if path == "" {
		path = "."
	}
	repos, err := a.store.ListRepositories()
	if err != nil {
		return node.Repository{}, err
	}
	for _, r := range repos {
		if r.Name == ref && ref != "" {
			return r, nil
		}
	}
	if root, err := worktree.FindGitRoot(path); err == nil {
		for _, r := range repos {
			if filepath.Clean(r.Path) == root {
				return r, nil
			}
		}
	}

	if ref == "" {
		return node.Repository{}, fmt.Errorf("current directory is not a registered repository; run 'caspian repo add' first: %w", errors.ErrRepositoryNotFound)
	}
	return node.Repository{}, errors.NewNotFoundError("repository", ref).WithCause(errors.ErrRepositoryNotFound)
}
