package nodeinit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Iron-Ham/caspian/internal/event"
	"github.com/Iron-Ham/caspian/internal/logging"
)

var (
	// ErrJobInProgress is returned by StartJob while the node's previous job
	// has not been finalized.
	ErrJobInProgress = errors.New("init job still in progress")

	// ErrInvalidJob is returned by StartJob for empty identifiers.
	ErrInvalidJob = errors.New("node and repository IDs are required")
)

type job struct {
	progress        Progress
	cancelled       bool
	worktreeCreated bool
	generation      uint64
	cleanup         *time.Timer
}

type cancellation struct {
	requested bool
	signal    chan struct{} // closed when requested becomes true
}

// Coordinator owns the in-memory state shared by node initialization jobs:
// job records, repository locks, cancellation flags, and completion signals.
type Coordinator struct {
	bus    *event.Bus
	logger *logging.Logger
	locks  *repoLocks

	readyCleanupDelay  time.Duration
	defaultWaitTimeout time.Duration

	// emitMu serializes state change plus publish, so subscribers see events
	// in the order the changes were made. Always taken before mu.
	emitMu sync.Mutex

	mu            sync.RWMutex
	jobs          map[string]*job
	cancellations map[string]*cancellation
	completions   map[string]chan struct{}
	generation    uint64
}

// New creates a Coordinator publishing progress on bus. A nil bus gets a
// private one, which is only useful in tests.
func New(bus *event.Bus, opts ...Option) *Coordinator {
	if bus == nil {
		bus = event.NewBus()
	}
	c := &Coordinator{
		bus:                bus,
		logger:             logging.NopLogger(),
		locks:              newRepoLocks(),
		readyCleanupDelay:  DefaultReadyCleanupDelay,
		defaultWaitTimeout: DefaultWaitTimeout,
		jobs:               make(map[string]*job),
		cancellations:      make(map[string]*cancellation),
		completions:        make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartJob registers a new pending job for nodeID and publishes its first
// progress event. It clears any stale cancellation request and creates the
// completion signal that FinalizeJob resolves.
//
// If the node's previous job has not been finalized yet, StartJob returns
// ErrJobInProgress and changes nothing, whatever step the record is at. Once
// the previous job is finalized its record is replaced, so callers restarting
// a node need no separate ClearJob.
func (c *Coordinator) StartJob(nodeID, repositoryID string) error {
	if nodeID == "" || repositoryID == "" {
		return ErrInvalidJob
	}

	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if _, running := c.completions[nodeID]; running {
		c.mu.Unlock()
		c.logger.Warn("start rejected, previous job not finalized", "node_id", nodeID)
		return ErrJobInProgress
	}
	if old, ok := c.jobs[nodeID]; ok {
		stopCleanup(old)
	}
	c.resetCancellationLocked(nodeID)

	c.generation++
	j := &job{
		progress: Progress{
			NodeID:       nodeID,
			RepositoryID: repositoryID,
			Step:         StepPending,
			Message:      "Preparing worktree",
			UpdatedAt:    time.Now(),
		},
		generation: c.generation,
	}
	c.jobs[nodeID] = j
	c.completions[nodeID] = make(chan struct{})
	snapshot := j.progress
	c.mu.Unlock()

	c.logger.Info("init job started", "node_id", nodeID, "repository_id", repositoryID)
	c.bus.Publish(snapshot.toEvent())
	return nil
}

// UpdateProgress replaces the job's step, message, and error, then publishes a
// progress event. A nil err clears any previous error. Transition legality is
// not checked. Updates for unknown nodes are logged and ignored.
//
// Reaching StepReady schedules removal of the record after the ready cleanup
// delay, unless the job is restarted or cleared first.
func (c *Coordinator) UpdateProgress(nodeID string, step Step, message string, err error) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	j, ok := c.jobs[nodeID]
	if !ok {
		c.mu.Unlock()
		c.logger.Warn("progress update for unknown job", "node_id", nodeID, "step", string(step))
		return
	}

	j.progress.Step = step
	j.progress.Message = message
	j.progress.Error = ""
	if err != nil {
		j.progress.Error = err.Error()
	}
	j.progress.UpdatedAt = time.Now()

	stopCleanup(j)
	if step == StepReady {
		gen := j.generation
		j.cleanup = time.AfterFunc(c.readyCleanupDelay, func() {
			c.cleanupReady(nodeID, gen)
		})
	}
	snapshot := j.progress
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("init job progress", "node_id", nodeID, "step", string(step), "message", message, "error", err.Error())
	} else {
		c.logger.Debug("init job progress", "node_id", nodeID, "step", string(step), "message", message)
	}
	c.bus.Publish(snapshot.toEvent())
}

// SetAttempt records retry counters carried by the job's next progress events.
func (c *Coordinator) SetAttempt(nodeID string, attempt, maxAttempts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if j, ok := c.jobs[nodeID]; ok {
		j.progress.Attempt = attempt
		j.progress.MaxAttempts = maxAttempts
	}
}

func (c *Coordinator) cleanupReady(nodeID string, generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	j, ok := c.jobs[nodeID]
	if !ok || j.generation != generation || j.progress.Step != StepReady {
		return
	}
	delete(c.jobs, nodeID)
	if cr, ok := c.cancellations[nodeID]; ok && !cr.requested {
		delete(c.cancellations, nodeID)
	}
	c.logger.Debug("ready job cleaned up", "node_id", nodeID)
}

func stopCleanup(j *job) {
	if j.cleanup != nil {
		j.cleanup.Stop()
		j.cleanup = nil
	}
}

// IsInitializing reports whether a job exists for nodeID and has not reached
// ready or failed.
func (c *Coordinator) IsInitializing(nodeID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	j, ok := c.jobs[nodeID]
	return ok && !j.progress.Step.IsTerminal()
}

// HasFailed reports whether a job exists for nodeID and has failed.
func (c *Coordinator) HasFailed(nodeID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	j, ok := c.jobs[nodeID]
	return ok && j.progress.Step == StepFailed
}

// GetProgress returns a snapshot of the job for nodeID.
func (c *Coordinator) GetProgress(nodeID string) (Progress, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	j, ok := c.jobs[nodeID]
	if !ok {
		return Progress{}, false
	}
	return j.progress, true
}

// GetAllProgress returns snapshots of every job record, sorted by node ID.
func (c *Coordinator) GetAllProgress() []Progress {
	c.mu.RLock()
	all := make([]Progress, 0, len(c.jobs))
	for _, j := range c.jobs {
		all = append(all, j.progress)
	}
	c.mu.RUnlock()

	sort.Slice(all, func(i, k int) bool { return all[i].NodeID < all[k].NodeID })
	return all
}

// MarkWorktreeCreated records that the job has created its worktree on disk,
// so a failure handler knows to roll it back.
func (c *Coordinator) MarkWorktreeCreated(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if j, ok := c.jobs[nodeID]; ok {
		j.worktreeCreated = true
		return
	}
	c.logger.Warn("worktree mark for unknown job", "node_id", nodeID)
}

// WasWorktreeCreated reports whether MarkWorktreeCreated was called for the
// current job.
func (c *Coordinator) WasWorktreeCreated(nodeID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	j, ok := c.jobs[nodeID]
	return ok && j.worktreeCreated
}

// Cancel requests cooperative cancellation of the node's job. The request is
// durable: it stays set after the job record is gone, until ClearJob or the
// next StartJob. It does not interrupt in-flight work. Idempotent.
func (c *Coordinator) Cancel(nodeID string) {
	c.mu.Lock()
	cr := c.cancellationLocked(nodeID)
	alreadyRequested := cr.requested
	if !alreadyRequested {
		cr.requested = true
		close(cr.signal)
	}
	if j, ok := c.jobs[nodeID]; ok {
		j.cancelled = true
	}
	c.mu.Unlock()

	if !alreadyRequested {
		c.logger.Info("cancellation requested", "node_id", nodeID)
	}
}

// IsCancellationRequested reports the durable cancellation flag. Workers poll
// this rather than the job record, which may already have been cleared.
func (c *Coordinator) IsCancellationRequested(nodeID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cr, ok := c.cancellations[nodeID]
	return ok && cr.requested
}

// CancellationRequested returns a channel that is closed once cancellation is
// requested for nodeID. Workers select on it to wake from backoff sleeps.
func (c *Coordinator) CancellationRequested(nodeID string) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancellationLocked(nodeID).signal
}

func (c *Coordinator) cancellationLocked(nodeID string) *cancellation {
	cr, ok := c.cancellations[nodeID]
	if !ok {
		cr = &cancellation{signal: make(chan struct{})}
		c.cancellations[nodeID] = cr
	}
	return cr
}

// resetCancellationLocked drops a satisfied cancellation request. An
// unrequested entry is kept: a worker may still be selecting on its signal,
// and a later Cancel must close that same channel.
func (c *Coordinator) resetCancellationLocked(nodeID string) {
	if cr, ok := c.cancellations[nodeID]; ok && cr.requested {
		delete(c.cancellations, nodeID)
	}
}

// ClearJob removes the job record and the durable cancellation flag, and
// stops any pending ready cleanup. The completion signal is left alone: only
// FinalizeJob resolves it.
func (c *Coordinator) ClearJob(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if j, ok := c.jobs[nodeID]; ok {
		stopCleanup(j)
		delete(c.jobs, nodeID)
	}
	c.resetCancellationLocked(nodeID)
}

// FinalizeJob resolves the node's completion signal, releasing WaitForInit
// callers. Every worker must call it exactly once on every exit path. It never
// touches the cancellation flag. No-op if no signal is registered.
func (c *Coordinator) FinalizeJob(nodeID string) {
	c.mu.Lock()
	done, ok := c.completions[nodeID]
	if ok {
		delete(c.completions, nodeID)
	}
	c.mu.Unlock()

	if ok {
		close(done)
	}
}

// WaitForInit blocks until the node's job is finalized, the timeout elapses,
// or ctx ends. A non-positive timeout uses the default (30s). It returns true
// if the job was finalized or none was registered.
//
// A timeout is not an error and does not stop the job: it is logged and false
// is returned. Callers re-check IsInitializing and HasFailed afterwards.
func (c *Coordinator) WaitForInit(ctx context.Context, nodeID string, timeout time.Duration) bool {
	c.mu.RLock()
	done, ok := c.completions[nodeID]
	c.mu.RUnlock()
	if !ok {
		return true
	}

	if timeout <= 0 {
		timeout = c.defaultWaitTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		c.logger.Warn("timed out waiting for init job", "node_id", nodeID, "timeout", timeout.String())
		return false
	case <-ctx.Done():
		c.logger.Debug("wait for init job abandoned", "node_id", nodeID, "error", ctx.Err().Error())
		return false
	}
}

// SubscribeProgress registers fn for every progress event with a known step
// and returns a function that removes the subscription. fn runs on the goroutine that made
// the change and must not call mutating Coordinator methods.
func (c *Coordinator) SubscribeProgress(fn func(Progress)) (unsubscribe func()) {
	id := c.bus.Subscribe(event.TypeNodeProgress, func(e event.Event) {
		pe, ok := e.(event.NodeProgressEvent)
		if !ok {
			return
		}
		// Anyone can publish on the bus; drop steps no job can be in.
		if _, err := ParseStep(pe.Step); err != nil {
			c.logger.Warn("ignoring progress event", "node_id", pe.NodeID, "error", err.Error())
			return
		}
		fn(ProgressFromEvent(pe))
	})
	return func() { c.bus.Unsubscribe(id) }
}
