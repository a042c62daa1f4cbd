package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/ShayCichocki/triad/internal/logging"
)

// SignalSource reports stop and pause requests made from outside the
// process, e.g. by signals.Watcher.
type SignalSource interface {
	IsStopped() bool
	IsPaused() bool
}

// pollInterval bounds how long WaitIfPaused goes without re-checking an
// external signal source.
const pollInterval = 250 * time.Millisecond

// PauseController holds the pause and stop flags for a running workflow.
// Stop is permanent for the controller's lifetime.
type PauseController struct {
	mu      sync.RWMutex
	paused  bool
	stopped bool
	changed chan struct{}

	external SignalSource
	log      *logging.Logger
}

// NewPauseController creates a controller. external may be nil.
func NewPauseController(external SignalSource, log *logging.Logger) *PauseController {
	return &PauseController{
		changed:  make(chan struct{}),
		external: external,
		log:      log,
	}
}

// broadcast wakes every waiter. Callers hold mu.
func (p *PauseController) broadcast() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// Pause stops new tasks from being dispatched.
func (p *PauseController) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		p.paused = true
		p.log.Log("paused - no new tasks will be dispatched")
		p.broadcast()
	}
}

// Resume undoes Pause.
func (p *PauseController) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		p.paused = false
		p.log.Log("resumed")
		p.broadcast()
	}
}

// Stop requests that no further cycles run. The running worker is
// terminated by its monitor at the next poll.
func (p *PauseController) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.stopped = true
		p.log.Log("stop requested")
		p.broadcast()
	}
}

// IsPaused reports a local or external pause.
func (p *PauseController) IsPaused() bool {
	p.mu.RLock()
	paused := p.paused
	p.mu.RUnlock()
	return paused || (p.external != nil && p.external.IsPaused())
}

// IsStopped reports a local or external stop.
func (p *PauseController) IsStopped() bool {
	p.mu.RLock()
	stopped := p.stopped
	p.mu.RUnlock()
	return stopped || (p.external != nil && p.external.IsStopped())
}

// WaitIfPaused blocks while paused. It returns ErrStopped once a stop is
// requested and ctx.Err() if ctx ends first.
func (p *PauseController) WaitIfPaused(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if p.IsStopped() {
			return ErrStopped
		}
		if !p.IsPaused() {
			return nil
		}
		p.mu.RLock()
		changed := p.changed
		p.mu.RUnlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		case <-ticker.C:
		}
	}
}
