package nodeinit

import (
	"time"

	"github.com/Iron-Ham/caspian/internal/logging"
)

// Defaults used when no option overrides them.
const (
	DefaultReadyCleanupDelay = 2 * time.Second
	DefaultWaitTimeout       = 30 * time.Second
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Entries are tagged with component=nodeinit.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger.WithComponent("nodeinit")
		}
	}
}

// WithReadyCleanupDelay sets how long a ready job stays queryable before it
// removes itself. Non-positive values keep the default.
func WithReadyCleanupDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.readyCleanupDelay = d
		}
	}
}

// WithDefaultWaitTimeout sets the timeout WaitForInit uses when called with a
// non-positive timeout.
func WithDefaultWaitTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.defaultWaitTimeout = d
		}
	}
}
