package event

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/Iron-Ham/caspian/internal/logging"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()

	called := false
	id := bus.Subscribe("test.event", func(e Event) {
		called = true
	})

	if id == "" {
		t.Error("Subscribe should return a non-empty ID")
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("Expected 1 subscription, got %d", bus.SubscriptionCount())
	}
	if called {
		t.Error("Handler should not be called until an event is published")
	}
}

func TestBus_UniqueIDs(t *testing.T) {
	bus := NewBus()
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		id := bus.Subscribe("test.event", func(Event) {})
		if seen[id] {
			t.Fatalf("duplicate subscription ID %q", id)
		}
		seen[id] = true
	}
}

func TestBus_Publish(t *testing.T) {
	bus := NewBus()

	var received Event
	bus.Subscribe(TypeNodeProgress, func(e Event) {
		received = e
	})

	bus.Publish(NewNodeProgressEvent("n1", "r1", "fetching", "Fetching origin/main"))

	if received == nil {
		t.Fatal("Handler should have received the event")
	}
	progress, ok := received.(NodeProgressEvent)
	if !ok {
		t.Fatalf("expected NodeProgressEvent, got %T", received)
	}
	if progress.NodeID != "n1" || progress.RepositoryID != "r1" || progress.Step != "fetching" {
		t.Errorf("unexpected event payload: %+v", progress)
	}
}

func TestBus_PublishNoMatchingHandlers(t *testing.T) {
	bus := NewBus()

	bus.Subscribe(TypeNodeRemoval, func(e Event) {
		t.Error("Handler should not be called for non-matching event type")
	})

	bus.Publish(newBaseEvent(TypeNodeProgress))
}

func TestBus_SubscribeAllOrder(t *testing.T) {
	bus := NewBus()

	var order []string
	bus.SubscribeAll(func(e Event) {
		order = append(order, "wildcard:"+e.EventType())
	})
	bus.Subscribe("event.one", func(e Event) {
		order = append(order, "specific:"+e.EventType())
	})

	bus.Publish(newBaseEvent("event.one"))
	bus.Publish(newBaseEvent("event.two"))

	want := []string{"specific:event.one", "wildcard:event.one", "wildcard:event.two"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	called := false
	id := bus.Subscribe("test.event", func(e Event) {
		called = true
	})

	if !bus.Unsubscribe(id) {
		t.Error("Unsubscribe should return true when subscription exists")
	}
	if bus.Unsubscribe(id) {
		t.Error("Unsubscribe should return false for an unknown ID")
	}
	if bus.SubscriptionCount() != 0 {
		t.Errorf("Expected 0 subscriptions after unsubscribe, got %d", bus.SubscriptionCount())
	}

	bus.Publish(newBaseEvent("test.event"))
	if called {
		t.Error("Handler should not be called after unsubscribe")
	}
}

func TestBus_PanicRecovery(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus(WithBusLogger(logging.NewLoggerWithWriter(&buf, logging.LevelDebug)))

	secondCalled := false
	bus.Subscribe("test.event", func(e Event) {
		panic("boom")
	})
	bus.Subscribe("test.event", func(e Event) {
		secondCalled = true
	})

	bus.Publish(newBaseEvent("test.event"))

	if !secondCalled {
		t.Error("handlers after a panicking handler should still run")
	}
	if !strings.Contains(buf.String(), "event handler panicked") {
		t.Errorf("expected panic to be logged, got %q", buf.String())
	}
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus()
	bus.Subscribe("a", func(Event) {})
	bus.SubscribeAll(func(Event) {})

	bus.Clear()

	if bus.SubscriptionCount() != 0 {
		t.Errorf("Expected 0 subscriptions after Clear, got %d", bus.SubscriptionCount())
	}
}

func TestBus_ConcurrentAccess(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	count := 0
	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish(newBaseEvent("test.event"))
			}
		}()
		go func() {
			defer wg.Done()
			id := bus.Subscribe("other.event", func(Event) {})
			bus.Unsubscribe(id)
		}()
	}
	wg.Wait()

	if count != 1000 {
		t.Errorf("Expected 1000 deliveries, got %d", count)
	}
}

func TestNodeEvents(t *testing.T) {
	p := NewNodeProgressEvent("n1", "r1", "retrying", "Retrying", WithAttempt(2, 3), WithErrorText("index.lock"))
	if p.EventType() != TypeNodeProgress {
		t.Errorf("EventType() = %q", p.EventType())
	}
	if p.Attempt != 2 || p.MaxAttempts != 3 || p.Error != "index.lock" {
		t.Errorf("options not applied: %+v", p)
	}
	if p.Timestamp().IsZero() {
		t.Error("Timestamp() should be set")
	}

	r := NewNodeRemovalEvent("n1", "r1", RemovalStageRemoved, "Worktree removed")
	if r.EventType() != TypeNodeRemoval || r.Stage != RemovalStageRemoved {
		t.Errorf("unexpected removal event: %+v", r)
	}
}
