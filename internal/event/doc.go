// Package event provides a synchronous pub-sub event bus that carries node
// lifecycle notifications from the initialization coordinator to whoever is
// listening (the progress view, the CLI, tests).
//
// # Main Types
//
//   - [Event]: Interface that all events implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Types
//
//   - [NodeProgressEvent] ("node.progress"): a node's init job started or changed step
//   - [NodeRemovalEvent] ("node.removal"): a node's worktree is being removed
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Handlers are called synchronously on the
// publishing goroutine and are protected against panics. A handler that
// blocks stalls the publisher, so long-running consumers should hand events
// off to a channel.
//
// # Basic Usage
//
//	bus := event.NewBus()
//
//	bus.Subscribe(event.TypeNodeProgress, func(e event.Event) {
//	    p := e.(event.NodeProgressEvent)
//	    fmt.Printf("%s: %s\n", p.NodeID, p.Step)
//	})
//
//	bus.Publish(event.NewNodeProgressEvent("n1", "r1", "fetching", "Fetching origin/main"))
package event
