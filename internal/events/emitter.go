package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ShayCichocki/triad/internal/logging"
)

// Emitter forwards bus events to an asynchronous consumer such as the
// dashboard. A slow consumer loses events rather than stalling the bus.
type Emitter struct {
	events       chan Event
	droppedCount atomic.Uint64
	log          *logging.Logger
	mu           sync.RWMutex
	closed       bool
}

// NewEmitter creates an Emitter with the given buffer size. Drops are
// reported through log, which may be nil.
func NewEmitter(bufferSize int, log *logging.Logger) *Emitter {
	if log == nil {
		log = logging.Nop()
	}
	return &Emitter{
		events: make(chan Event, bufferSize),
		log:    log.Named("emitter"),
	}
}

// Emit queues an event. If the buffer is full it waits up to 100ms before
// dropping the event.
func (e *Emitter) Emit(event Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			e.log.Log("WARNING: emitter full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// Handler adapts the emitter for Bus.Subscribe.
func (e *Emitter) Handler() Handler {
	return func(ev Event) error {
		e.Emit(ev)
		return nil
	}
}

// DroppedCount returns how many events were dropped.
func (e *Emitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns the receive side for consumers.
func (e *Emitter) Events() <-chan Event {
	return e.events
}

// Close stops accepting events and closes the channel.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
}
