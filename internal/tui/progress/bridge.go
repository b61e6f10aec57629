package progress

import (
	"slices"
	"strings"
	"sync"

	"github.com/Iron-Ham/caspian/internal/nodeinit"
)

// Source is the part of nodeinit.Coordinator the progress views read.
type Source interface {
	GetAllProgress() []nodeinit.Progress
	SubscribeProgress(fn func(nodeinit.Progress)) (unsubscribe func())
}

var _ Source = (*nodeinit.Coordinator)(nil)

// Bridge moves progress events off the publishing goroutine. Events are
// coalesced per node, so a slow view sees the latest state of each job and
// never blocks the coordinator.
type Bridge struct {
	mu      sync.Mutex
	pending map[string]nodeinit.Progress
	notify  chan struct{}
	done    chan struct{}
	once    sync.Once
	unsub   func()
}

// NewBridge subscribes to src and seeds the bridge with the current state of
// every job, so nothing that happened before the view started is missed.
func NewBridge(src Source) *Bridge {
	b := &Bridge{
		pending: make(map[string]nodeinit.Progress),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	b.unsub = src.SubscribeProgress(b.push)

	// Events delivered before this point are no newer than the snapshot.
	b.mu.Lock()
	for _, p := range src.GetAllProgress() {
		b.pending[p.NodeID] = p
	}
	b.mu.Unlock()
	b.signal()
	return b
}

func (b *Bridge) push(p nodeinit.Progress) {
	b.mu.Lock()
	b.pending[p.NodeID] = p
	b.mu.Unlock()
	b.signal()
}

func (b *Bridge) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Drain returns and forgets the updates received since the last call,
// ordered by node ID.
func (b *Bridge) Drain() []nodeinit.Progress {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]nodeinit.Progress, 0, len(b.pending))
	for _, p := range b.pending {
		out = append(out, p)
	}
	clear(b.pending)
	slices.SortFunc(out, func(a, c nodeinit.Progress) int { return strings.Compare(a.NodeID, c.NodeID) })
	return out
}

// Ready is signalled whenever Drain has something new.
func (b *Bridge) Ready() <-chan struct{} { return b.notify }

// Done is closed by Close.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Close unsubscribes from the source. It is safe to call more than once.
func (b *Bridge) Close() {
	b.once.Do(func() {
		b.unsub()
		close(b.done)
	})
}
