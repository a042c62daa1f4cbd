// Package events provides the in-process event bus and its durable,
// append-only log.
package events

import (
	"sync"
	"time"

	"github.com/ShayCichocki/triad/internal/logging"
	"github.com/ShayCichocki/triad/internal/store"
)

// Event types published by the workflow engine.
const (
	SessionStarted   = "session_started"
	SessionCompleted = "session_completed"
	SessionFailed    = "session_failed"
	TaskStarted      = "task_started"
	TaskCompleted    = "task_completed"
	TaskFailed       = "task_failed"
	CheckpointSaved  = "checkpoint_saved"
)

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

// Event is one immutable log entry. Seq is zero for events published
// without a store.
type Event struct {
	Seq       int64          `json:"seq,omitempty"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Handler receives published events. A returned error aborts the rest of
// the dispatch and is handed back to the publisher.
type Handler func(Event) error

// Bus dispatches events synchronously on the publishing goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	store    store.Store
	log      *logging.Logger
	now      func() time.Time
}

// NewBus creates a bus. A nil store disables persistence and replay.
func NewBus(s store.Store, log *logging.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		store:    s,
		log:      log.Named("events"),
		now:      time.Now,
	}
}

// Subscribe registers h for eventType. Handlers run in subscription order;
// wildcard handlers run after the type-specific ones.
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Publish stamps, persists and dispatches an event. Handler errors and
// panics are not caught.
func (b *Bus) Publish(eventType string, data map[string]any) error {
	ev := Event{
		Type:      eventType,
		Timestamp: b.now(),
		Data:      data,
	}

	if b.store != nil {
		err := b.store.Update(func(tx store.Tx) error {
			seq, err := tx.NextSeq(store.EventSeqName)
			if err != nil {
				return err
			}
			ev.Seq = seq
			return store.SetJSON(tx, store.EventKey(seq), ev)
		})
		if err != nil {
			return err
		}
	}

	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers[eventType])+len(b.handlers[Wildcard]))
	hs = append(hs, b.handlers[eventType]...)
	if eventType != Wildcard {
		hs = append(hs, b.handlers[Wildcard]...)
	}
	b.mu.RUnlock()

	for _, h := range hs {
		if err := h(ev); err != nil {
			return err
		}
	}
	return nil
}

// Replay returns every persisted event in insertion order.
func (b *Bus) Replay() ([]Event, error) {
	return b.ReplaySince(0)
}

// ReplaySince returns persisted events with Seq greater than after.
// Entries that fail to decode are logged and skipped.
func (b *Bus) ReplaySince(after int64) ([]Event, error) {
	if b.store == nil {
		return []Event{}, nil
	}
	keys, err := b.store.Keys(store.EventsPrefix)
	if err != nil {
		return nil, err
	}

	out := make([]Event, 0, len(keys))
	for _, key := range keys {
		if seq, err := store.EventSeq(key); err == nil && seq <= after {
			continue
		}
		var ev Event
		found, err := store.GetJSON(b.store, key, &ev)
		if store.IsDeserializationError(err) {
			b.log.Log("WARNING: skipping corrupt event %s: %v", key, err)
			continue
		}
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, ev)
		}
	}
	return out, nil
}
