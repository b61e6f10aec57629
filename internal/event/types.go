package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "node.progress").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeNodeProgress = "node.progress"
	TypeNodeRemoval  = "node.removal"
)

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Node Events
// -----------------------------------------------------------------------------

// NodeProgressEvent is emitted every time a node's initialization job is
// started or moves to a new step. It is a snapshot: later changes to the job
// do not affect an event already delivered.
type NodeProgressEvent struct {
	baseEvent
	NodeID       string
	RepositoryID string
	Step         string // pending, fetching, creating_worktree, copying_files, retrying, ready, failed
	Message      string
	Error        string // empty unless the step carries a failure
	Attempt      int    // current attempt when retrying, 0 otherwise
	MaxAttempts  int
}

// NodeProgressOption sets an optional field on a NodeProgressEvent.
type NodeProgressOption func(*NodeProgressEvent)

// WithAttempt attaches retry counters to a progress event.
func WithAttempt(attempt, maxAttempts int) NodeProgressOption {
	return func(e *NodeProgressEvent) {
		e.Attempt = attempt
		e.MaxAttempts = maxAttempts
	}
}

// WithErrorText attaches an error description to a progress event.
func WithErrorText(text string) NodeProgressOption {
	return func(e *NodeProgressEvent) {
		e.Error = text
	}
}

// NewNodeProgressEvent creates a NodeProgressEvent.
func NewNodeProgressEvent(nodeID, repositoryID, step, message string, opts ...NodeProgressOption) NodeProgressEvent {
	e := NodeProgressEvent{
		baseEvent:    newBaseEvent(TypeNodeProgress),
		NodeID:       nodeID,
		RepositoryID: repositoryID,
		Step:         step,
		Message:      message,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Removal stages reported while a node is being deleted.
const (
	RemovalStageRemoving = "removing"
	RemovalStageRemoved  = "removed"
)

// NodeRemovalEvent is emitted while a node's worktree is torn down.
type NodeRemovalEvent struct {
	baseEvent
	NodeID       string
	RepositoryID string
	Stage        string // removing or removed
	Message      string
}

// NewNodeRemovalEvent creates a NodeRemovalEvent.
func NewNodeRemovalEvent(nodeID, repositoryID, stage, message string) NodeRemovalEvent {
	return NodeRemovalEvent{
		baseEvent:    newBaseEvent(TypeNodeRemoval),
		NodeID:       nodeID,
		RepositoryID: repositoryID,
		Stage:        stage,
		Message:      message,
	}
}
