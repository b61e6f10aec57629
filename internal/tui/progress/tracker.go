package progress

import (
	"fmt"

	"github.com/Iron-Ham/caspian/internal/nodeinit"
)

// tracker holds the latest progress for the jobs a view follows. With no
// node IDs given it follows every job it hears about.
type tracker struct {
	order   []string
	all     bool
	names   map[string]string
	jobs    map[string]nodeinit.Progress
	resolve Resolver
	settled bool
}

func newTracker(nodeIDs []string, names map[string]string) *tracker {
	t := &tracker{
		order: append([]string(nil), nodeIDs...),
		all:   len(nodeIDs) == 0,
		names: names,
		jobs:  make(map[string]nodeinit.Progress),
	}
	if t.names == nil {
		t.names = make(map[string]string)
	}
	return t
}

// apply records p and reports whether anything visible changed.
func (t *tracker) apply(p nodeinit.Progress) bool {
	prev, seen := t.jobs[p.NodeID]
	if !seen {
		if !t.all && !t.follows(p.NodeID) {
			return false
		}
		if t.all {
			t.order = append(t.order, p.NodeID)
		}
	}
	t.jobs[p.NodeID] = p
	return !seen || prev.Step != p.Step || prev.Message != p.Message ||
		prev.Error != p.Error || prev.Attempt != p.Attempt
}

func (t *tracker) follows(nodeID string) bool {
	for _, id := range t.order {
		if id == nodeID {
			return true
		}
	}
	return false
}

// settle runs once, after the first drain of the bridge. Followed jobs were
// started before the view subscribed, so any still without a record had it
// removed first, usually by the ready cleanup. Their outcome comes from the
// resolver. Settled jobs are applied and returned.
func (t *tracker) settle() []nodeinit.Progress {
	if t.settled {
		return nil
	}
	t.settled = true

	var out []nodeinit.Progress
	for _, id := range t.order {
		if _, ok := t.jobs[id]; ok {
			continue
		}
		var p nodeinit.Progress
		ok := false
		if t.resolve != nil {
			p, ok = t.resolve(id)
		}
		if !ok || !p.Terminal() {
			p = nodeinit.Progress{
				Step:    nodeinit.StepFailed,
				Message: "No longer tracked",
				Error:   "init job record was removed before its outcome was seen",
			}
		}
		p.NodeID = id
		t.jobs[id] = p
		out = append(out, p)
	}
	return out
}

// finished reports whether every followed job reached ready or failed.
func (t *tracker) finished() bool {
	if len(t.order) == 0 {
		return false
	}
	for _, id := range t.order {
		p, ok := t.jobs[id]
		if !ok || !p.Terminal() {
			return false
		}
	}
	return true
}

func (t *tracker) results() []nodeinit.Progress {
	out := make([]nodeinit.Progress, 0, len(t.order))
	for _, id := range t.order {
		if p, ok := t.jobs[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (t *tracker) name(nodeID string) string {
	if n, ok := t.names[nodeID]; ok && n != "" {
		return n
	}
	if len(nodeID) > 8 {
		return nodeID[:8]
	}
	return nodeID
}

// describe renders the message and retry counters of p.
func describe(p nodeinit.Progress) string {
	msg := p.Message
	if p.Step == nodeinit.StepRetrying || (!p.Terminal() && p.Attempt > 1) {
		if p.MaxAttempts > 0 {
			msg += fmt.Sprintf(" (attempt %d/%d)", p.Attempt, p.MaxAttempts)
		}
	}
	return msg
}
