// Package nodeinit coordinates node initialization jobs.
//
// A node is a git worktree/branch pair. Creating one runs a background job
// that fetches, adds the worktree, and copies local files. The [Coordinator]
// owns all in-memory state those jobs share:
//
//   - a per-repository lock so git worktree operations against the same
//     repository never overlap, granted in call order
//   - the job state machine (pending, intermediate steps, then ready or failed),
//     with progress events published on an [event.Bus]
//   - durable cancellation flags that outlive the job record
//   - a completion barrier that lets node deletion wait for a job to finish
//
// The coordinator does no I/O of its own. A worker calls [Coordinator.StartJob],
// takes the repository lock, reports steps with [Coordinator.UpdateProgress],
// checks [Coordinator.IsCancellationRequested] between steps, and always calls
// [Coordinator.FinalizeJob] before it returns:
//
//	if err := coord.StartJob(nodeID, repoID); err != nil {
//	    return err
//	}
//	go func() {
//	    defer coord.FinalizeJob(nodeID)
//	    err := coord.WithRepositoryLock(ctx, repoID, func() error {
//	        coord.UpdateProgress(nodeID, nodeinit.StepCreatingWorktree, "Creating worktree", nil)
//	        return createWorktree(ctx)
//	    })
//	    if err != nil {
//	        coord.UpdateProgress(nodeID, nodeinit.StepFailed, "Initialization failed", err)
//	        return
//	    }
//	    coord.UpdateProgress(nodeID, nodeinit.StepReady, "Ready", nil)
//	}()
//
// A deleter calls [Coordinator.Cancel], then [Coordinator.WaitForInit], and
// finally [Coordinator.ClearJob] once the node's records are gone.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Only AcquireRepositoryLock,
// WithRepositoryLock, and WaitForInit block. Progress events are published
// synchronously and in emission order; subscribers may call the read methods
// but must not call mutating methods from inside a handler.
package nodeinit
