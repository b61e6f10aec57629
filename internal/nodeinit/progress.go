package nodeinit

import (
	"time"

	"github.com/Iron-Ham/caspian/internal/event"
)

// Progress is a snapshot of one node's initialization job.
type Progress struct {
	NodeID       string
	RepositoryID string
	Step         Step
	Message      string
	Error        string // empty unless the job reported an error
	Attempt      int
	MaxAttempts  int
	UpdatedAt    time.Time
}

// Terminal reports whether the job has reached ready or failed.
func (p Progress) Terminal() bool {
	return p.Step.IsTerminal()
}

func (p Progress) toEvent() event.NodeProgressEvent {
	opts := []event.NodeProgressOption{event.WithErrorText(p.Error)}
	if p.MaxAttempts > 0 {
		opts = append(opts, event.WithAttempt(p.Attempt, p.MaxAttempts))
	}
	return event.NewNodeProgressEvent(p.NodeID, p.RepositoryID, string(p.Step), p.Message, opts...)
}

// ProgressFromEvent converts a bus event back into a Progress snapshot.
func ProgressFromEvent(e event.NodeProgressEvent) Progress {
	return Progress{
		NodeID:       e.NodeID,
		RepositoryID: e.RepositoryID,
		Step:         Step(e.Step),
		Message:      e.Message,
		Error:        e.Error,
		Attempt:      e.Attempt,
		MaxAttempts:  e.MaxAttempts,
		UpdatedAt:    e.Timestamp(),
	}
}
