package events

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/triad/internal/logging"
	"github.com/ShayCichocki/triad/internal/store"
)

func setupTestStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPublish_HandlersInSubscriptionOrder(t *testing.T) {
	bus := NewBus(nil, logging.Nop())
	var order []string
	bus.Subscribe(TaskCompleted, func(Event) error { order = append(order, "first"); return nil })
	bus.Subscribe(TaskCompleted, func(Event) error { order = append(order, "second"); return nil })
	bus.Subscribe(Wildcard, func(Event) error { order = append(order, "any"); return nil })
	bus.Subscribe(TaskFailed, func(Event) error { order = append(order, "wrong"); return nil })

	if err := bus.Publish(TaskCompleted, map[string]any{"task_id": "t1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	want := []string{"first", "second", "any"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order = %v, want %v", order, want)
			break
		}
	}
}

func TestPublish_StampsTimestamp(t *testing.T) {
	bus := NewBus(nil, logging.Nop())
	var got Event
	bus.Subscribe(SessionStarted, func(e Event) error { got = e; return nil })

	before := time.Now()
	bus.Publish(SessionStarted, map[string]any{"session_id": "s1"})
	if got.Timestamp.Before(before) {
		t.Errorf("Timestamp %v before publish time %v", got.Timestamp, before)
	}
	if got.Data["session_id"] != "s1" {
		t.Errorf("Data = %v", got.Data)
	}
}

func TestPublish_HandlerErrorPropagates(t *testing.T) {
	bus := NewBus(nil, logging.Nop())
	boom := errors.New("boom")
	called := false
	bus.Subscribe(TaskFailed, func(Event) error { return boom })
	bus.Subscribe(TaskFailed, func(Event) error { called = true; return nil })

	if err := bus.Publish(TaskFailed, nil); !errors.Is(err, boom) {
		t.Fatalf("Publish err = %v, want boom", err)
	}
	if called {
		t.Error("handler after the failing one should not run")
	}
}

func TestPublish_HandlerPanicPropagates(t *testing.T) {
	bus := NewBus(nil, logging.Nop())
	bus.Subscribe(TaskFailed, func(Event) error { panic("handler bug") })

	defer func() {
		if recover() == nil {
			t.Error("expected panic to reach the publisher")
		}
	}()
	bus.Publish(TaskFailed, nil)
}

func TestReplay_NoStore(t *testing.T) {
	bus := NewBus(nil, logging.Nop())
	bus.Publish(TaskStarted, nil)
	evs, err := bus.Replay()
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(evs) != 0 {
		t.Errorf("Replay without store = %d events, want 0", len(evs))
	}
}

func TestReplay_InsertionOrder(t *testing.T) {
	db := setupTestStore(t)
	bus := NewBus(db, logging.Nop())

	if evs, _ := bus.Replay(); len(evs) != 0 {
		t.Fatalf("empty store replay = %d events", len(evs))
	}

	published := []string{SessionStarted, TaskStarted, TaskCompleted, TaskStarted, TaskFailed}
	for i, typ := range published {
		if err := bus.Publish(typ, map[string]any{"n": i}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	// A new bus over the same store sees the same log.
	evs, err := NewBus(db, logging.Nop()).Replay()
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(evs) != len(published) {
		t.Fatalf("Replay = %d events, want %d", len(evs), len(published))
	}
	for i, ev := range evs {
		if ev.Type != published[i] {
			t.Errorf("event %d type = %s, want %s", i, ev.Type, published[i])
		}
		if ev.Seq != int64(i+1) {
			t.Errorf("event %d seq = %d, want %d", i, ev.Seq, i+1)
		}
		// JSON numbers decode as float64.
		if n, _ := ev.Data["n"].(float64); int(n) != i {
			t.Errorf("event %d data = %v", i, ev.Data)
		}
	}

	since, _ := bus.ReplaySince(3)
	if len(since) != 2 || since[0].Seq != 4 {
		t.Errorf("ReplaySince(3) = %+v", since)
	}
}

func TestReplay_SkipsCorruptEntries(t *testing.T) {
	db := setupTestStore(t)
	bus := NewBus(db, logging.Nop())
	bus.Publish(TaskStarted, nil)
	db.Set(store.EventKey(99), []byte("nope"))

	evs, err := bus.Replay()
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(evs) != 1 {
		t.Errorf("Replay = %d events, want 1", len(evs))
	}
}

func TestEmitter_ForwardsAndDrops(t *testing.T) {
	em := NewEmitter(1, nil)
	bus := NewBus(nil, logging.Nop())
	bus.Subscribe(Wildcard, em.Handler())

	bus.Publish(TaskStarted, nil)
	bus.Publish(TaskCompleted, nil) // buffer full, dropped after timeout

	got := <-em.Events()
	if got.Type != TaskStarted {
		t.Errorf("first event = %s", got.Type)
	}
	if em.DroppedCount() != 1 {
		t.Errorf("DroppedCount = %d, want 1", em.DroppedCount())
	}

	em.Close()
	em.Close()
	em.Emit(Event{Type: TaskFailed}) // no panic after close
	if _, ok := <-em.Events(); ok {
		t.Error("channel should be closed")
	}
}
