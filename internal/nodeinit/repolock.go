package nodeinit

import (
	"context"
	"fmt"
	"sync"
)

// repoSlot exists only while its repository lock is held. Ownership passes
// directly from the holder to waiters[0] on release.
type repoSlot struct {
	waiters []chan struct{}
}

type repoLocks struct {
	mu    sync.Mutex
	slots map[string]*repoSlot
}

func newRepoLocks() *repoLocks {
	return &repoLocks{slots: make(map[string]*repoSlot)}
}

func (l *repoLocks) acquire(ctx context.Context, repositoryID string) error {
	l.mu.Lock()
	slot, held := l.slots[repositoryID]
	if !held {
		l.slots[repositoryID] = &repoSlot{}
		l.mu.Unlock()
		return nil
	}
	granted := make(chan struct{})
	slot.waiters = append(slot.waiters, granted)
	l.mu.Unlock()

	select {
	case <-granted:
		return nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	if l.removeWaiterLocked(repositoryID, granted) {
		l.mu.Unlock()
		return ctx.Err()
	}
	l.mu.Unlock()

	// Ownership was handed over while ctx ended; pass it on.
	<-granted
	l.release(repositoryID)
	return ctx.Err()
}

func (l *repoLocks) removeWaiterLocked(repositoryID string, granted chan struct{}) bool {
	slot, ok := l.slots[repositoryID]
	if !ok {
		return false
	}
	for i, w := range slot.waiters {
		if w == granted {
			slot.waiters = append(slot.waiters[:i], slot.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// release returns false if the lock was not held.
func (l *repoLocks) release(repositoryID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.slots[repositoryID]
	if !ok {
		return false
	}
	if len(slot.waiters) == 0 {
		delete(l.slots, repositoryID)
		return true
	}
	next := slot.waiters[0]
	slot.waiters = slot.waiters[1:]
	close(next)
	return true
}

func (l *repoLocks) isHeld(repositoryID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.slots[repositoryID]
	return ok
}

func (l *repoLocks) queued(repositoryID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if slot, ok := l.slots[repositoryID]; ok {
		return len(slot.waiters)
	}
	return 0
}

// AcquireRepositoryLock blocks until the caller holds the lock for
// repositoryID. Waiters are granted the lock in the order they called.
//
// With a context that is never done this cannot fail. If ctx ends first the
// caller leaves the queue without the lock and ctx.Err() is returned.
func (c *Coordinator) AcquireRepositoryLock(ctx context.Context, repositoryID string) error {
	if err := c.locks.acquire(ctx, repositoryID); err != nil {
		c.logger.Debug("repository lock wait abandoned", "repository_id", repositoryID, "error", err.Error())
		return err
	}
	return nil
}

// ReleaseRepositoryLock releases the lock for repositoryID, handing it to the
// oldest waiter if there is one. Releasing a lock that is not held is logged
// and ignored.
func (c *Coordinator) ReleaseRepositoryLock(repositoryID string) {
	if !c.locks.release(repositoryID) {
		c.logger.Warn("release of repository lock that is not held", "repository_id", repositoryID)
	}
}

// IsRepositoryLocked reports whether any job currently holds the lock.
func (c *Coordinator) IsRepositoryLocked(repositoryID string) bool {
	return c.locks.isHeld(repositoryID)
}

// RepositoryLockWaiters returns how many callers are queued behind the
// current holder of the lock.
func (c *Coordinator) RepositoryLockWaiters(repositoryID string) int {
	return c.locks.queued(repositoryID)
}

// WithRepositoryLock runs fn while holding the repository lock. The lock is
// released on every exit path, including a panic in fn, which is re-raised
// after release.
func (c *Coordinator) WithRepositoryLock(ctx context.Context, repositoryID string, fn func() error) error {
	if err := c.AcquireRepositoryLock(ctx, repositoryID); err != nil {
		return fmt.Errorf("acquire repository lock %s: %w", repositoryID, err)
	}
	defer c.ReleaseRepositoryLock(repositoryID)
	return fn()
}
