// Package agent spawns and supervises the worker processes that execute
// tasks: the claude CLI, the Anthropic API, or a simulated worker.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/triad/internal/planner"
	"github.com/ShayCichocki/triad/pkg/models"
)

// ErrWaitTimeout is returned by Wait when the worker is still running
// after the timeout.
var ErrWaitTimeout = errors.New("worker still running")

// ErrUnknownHandle is returned for handles the executor did not issue.
var ErrUnknownHandle = errors.New("unknown worker handle")

// Handle identifies a spawned worker.
type Handle string

// Executor is the capability the workflow engine uses to run a task.
// No method blocks longer than the timeout it is given.
type Executor interface {
	// Spawn starts a worker for role reading its briefing from briefingKey.
	Spawn(ctx context.Context, role models.Role, briefingKey string) (Handle, error)
	// Poll returns output produced since the last call and whether the
	// worker is still running. It never blocks.
	Poll(h Handle) (lines []string, running bool)
	// Terminate asks the worker to stop.
	Terminate(h Handle) error
	// Kill stops the worker forcibly.
	Kill(h Handle) error
	// Wait blocks up to timeout for the worker to exit.
	Wait(h Handle, timeout time.Duration) (exitCode int, err error)
	// Release drops the executor's record of h after its output has been
	// drained. Later calls with h fail with ErrUnknownHandle.
	Release(h Handle)
}

// BriefingSource loads the briefing a worker is spawned with.
type BriefingSource interface {
	LoadBriefing(key string) (*planner.Briefing, error)
}

// WorkerExecutionError reports a worker that exited non-zero, timed out,
// or was stopped before finishing.
type WorkerExecutionError struct {
	TaskID   string
	Role     models.Role
	ExitCode int
	TimedOut bool
	Stopped  bool
	Err      error
}

func (e *WorkerExecutionError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("%s worker for %s timed out", e.Role, e.TaskID)
	case e.Stopped:
		return fmt.Sprintf("%s worker for %s stopped before finishing", e.Role, e.TaskID)
	case e.Err != nil:
		return fmt.Sprintf("%s worker for %s: %v", e.Role, e.TaskID, e.Err)
	default:
		return fmt.Sprintf("%s worker for %s exited with status %d", e.Role, e.TaskID, e.ExitCode)
	}
}

func (e *WorkerExecutionError) Unwrap() error { return e.Err }

// loadBriefing fetches the briefing and checks it belongs to role.
func loadBriefing(src BriefingSource, role models.Role, key string) (*planner.Briefing, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	b, err := src.LoadBriefing(key)
	if err != nil {
		return nil, fmt.Errorf("load briefing %s: %w", key, err)
	}
	if b == nil {
		return nil, fmt.Errorf("briefing %s not found", key)
	}
	if b.Role != role {
		return nil, fmt.Errorf("briefing %s is for %s, not %s", key, b.Role, role)
	}
	return b, nil
}
