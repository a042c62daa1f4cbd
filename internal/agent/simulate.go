package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ShayCichocki/triad/pkg/models"
)

// SimulatedExecutor completes tasks without running anything. It backs
// dry runs and tests.
type SimulatedExecutor struct {
	// Delay is how long each simulated worker runs.
	Delay time.Duration
	// FailRoles makes workers for these roles exit with status 1.
	FailRoles map[models.Role]bool
	// IgnoreTerminate makes workers survive Terminate so only Kill stops them.
	IgnoreTerminate bool

	briefings BriefingSource

	mu      sync.Mutex
	workers map[Handle]*simWorker
	spawned []string
	seq     int
}

type simWorker struct {
	mu       sync.Mutex
	lines    []string
	finishAt time.Time
	exitCode int
	killed   bool
}

// NewSimulatedExecutor creates a simulated executor. briefings may be nil,
// in which case briefings are not checked.
func NewSimulatedExecutor(briefings BriefingSource) *SimulatedExecutor {
	return &SimulatedExecutor{
		briefings: briefings,
		workers:   make(map[Handle]*simWorker),
	}
}

// Spawn starts a simulated worker.
func (e *SimulatedExecutor) Spawn(_ context.Context, role models.Role, briefingKey string) (Handle, error) {
	taskID := briefingKey
	if e.briefings != nil {
		b, err := loadBriefing(e.briefings, role, briefingKey)
		if err != nil {
			return "", err
		}
		taskID = b.TaskID
	} else if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", role)
	}

	w := &simWorker{finishAt: time.Now().Add(e.Delay)}
	w.lines = append(w.lines, fmt.Sprintf("[simulated] %s working on %s", role, taskID))
	if e.FailRoles[role] {
		w.exitCode = 1
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	h := Handle(fmt.Sprintf("sim-%s-%d", role.Slug(), e.seq))
	e.workers[h] = w
	e.spawned = append(e.spawned, taskID)
	return h, nil
}

// Spawned returns the task ids workers were started for, in order.
func (e *SimulatedExecutor) Spawned() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.spawned...)
}

func (e *SimulatedExecutor) get(h Handle) (*simWorker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.workers[h]
	if !ok {
		return nil, fmt.Errorf("%s: %w", h, ErrUnknownHandle)
	}
	return w, nil
}

func (w *simWorker) running() bool {
	return !w.killed && time.Now().Before(w.finishAt)
}

// Poll reports the worker's output and whether its delay has elapsed.
func (e *SimulatedExecutor) Poll(h Handle) ([]string, bool) {
	w, err := e.get(h)
	if err != nil {
		return nil, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	lines := w.lines
	w.lines = nil
	return lines, w.running()
}

func (e *SimulatedExecutor) stop(h Handle) error {
	w, err := e.get(h)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running() {
		w.killed = true
		w.exitCode = -1
	}
	return nil
}

// Terminate stops the worker unless IgnoreTerminate is set.
func (e *SimulatedExecutor) Terminate(h Handle) error {
	if e.IgnoreTerminate {
		_, err := e.get(h)
		return err
	}
	return e.stop(h)
}

// Kill stops the worker.
func (e *SimulatedExecutor) Kill(h Handle) error {
	return e.stop(h)
}

// Release forgets h.
func (e *SimulatedExecutor) Release(h Handle) {
	e.mu.Lock()
	delete(e.workers, h)
	e.mu.Unlock()
}

// Wait sleeps until the worker finishes or timeout elapses.
func (e *SimulatedExecutor) Wait(h Handle, timeout time.Duration) (int, error) {
	w, err := e.get(h)
	if err != nil {
		return -1, err
	}
	deadline := time.Now().Add(timeout)
	for {
		w.mu.Lock()
		running, code := w.running(), w.exitCode
		w.mu.Unlock()
		if !running {
			return code, nil
		}
		if time.Now().After(deadline) {
			return -1, ErrWaitTimeout
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var _ Executor = (*SimulatedExecutor)(nil)
