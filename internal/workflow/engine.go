// Package workflow drives a session through its task graph: one
// orchestration cycle dispatches one task to its role's worker and records
// the outcome.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/triad/internal/agent"
	"github.com/ShayCichocki/triad/internal/checkpoint"
	"github.com/ShayCichocki/triad/internal/events"
	"github.com/ShayCichocki/triad/internal/logging"
	"github.com/ShayCichocki/triad/internal/planner"
	"github.com/ShayCichocki/triad/internal/store"
	"github.com/ShayCichocki/triad/internal/vcs"
	"github.com/ShayCichocki/triad/pkg/models"
)

// DefaultMaxCycles bounds RunWorkflow when the caller passes zero.
const DefaultMaxCycles = 50

// Summary is what a workflow run reports, success or not.
type Summary struct {
	SessionID      string              `json:"session_id"`
	ProjectID      string              `json:"project_id"`
	State          models.SessionState `json:"state"`
	CompletedTasks []string            `json:"completed_tasks"`
	FailedTasks    []string            `json:"failed_tasks"`
	TotalTasks     int                 `json:"total_tasks"`
	Cycles         int64               `json:"cycles"`
	Progress       float64             `json:"progress"`
	Stopped        bool                `json:"stopped,omitempty"`
}

// Snapshot is the checkpoint payload.
type Snapshot struct {
	Session *models.Session   `json:"session"`
	Graph   *models.TaskGraph `json:"graph,omitempty"`
	SavedAt time.Time         `json:"saved_at"`
}

// Engine owns one session at a time and runs its cycles.
type Engine struct {
	store    store.Store
	planner  *planner.Planner
	bus      *events.Bus
	exec     agent.Executor
	sessions *Sessions
	ctl      *PauseController
	log      *logging.Logger
	now      func() time.Time

	monitorCfg         agent.MonitorConfig
	committer          vcs.Committer
	checkpoints        *checkpoint.Manager
	checkpointInterval time.Duration
	signals            SignalSource
	workerLog          func(taskID, line string)

	mu      sync.Mutex
	session *models.Session
	version int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithMonitorConfig sets worker polling, grace period and timeout.
func WithMonitorConfig(cfg agent.MonitorConfig) Option {
	return func(e *Engine) { e.monitorCfg = cfg }
}

// WithCommitter commits the working tree after each completed task.
func WithCommitter(c vcs.Committer) Option {
	return func(e *Engine) { e.committer = c }
}

// WithCheckpoints saves a Snapshot every interval during RunWorkflow and
// once when it returns.
func WithCheckpoints(m *checkpoint.Manager, interval time.Duration) Option {
	return func(e *Engine) {
		e.checkpoints = m
		e.checkpointInterval = interval
	}
}

// WithSignals adds an external stop/pause source.
func WithSignals(s SignalSource) Option {
	return func(e *Engine) { e.signals = s }
}

// WithWorkerOutput receives every line a worker prints.
func WithWorkerOutput(fn func(taskID, line string)) Option {
	return func(e *Engine) { e.workerLog = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine. bus may be nil.
func New(s store.Store, p *planner.Planner, bus *events.Bus, exec agent.Executor, log *logging.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:   s,
		planner: p,
		bus:     bus,
		exec:    exec,
		log:     log.Named("workflow"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sessions = NewSessions(s, log)
	e.ctl = NewPauseController(e.signals, e.log)
	return e
}

// Sessions returns the session repository the engine writes to.
func (e *Engine) Sessions() *Sessions { return e.sessions }

// Stop asks the engine to finish the current cycle and run no more.
func (e *Engine) Stop() { e.ctl.Stop() }

// Pause holds dispatch of new tasks until Resume.
func (e *Engine) Pause() { e.ctl.Pause() }

// Resume undoes Pause.
func (e *Engine) Resume() { e.ctl.Resume() }

// Session returns a copy of the bound session, or nil.
func (e *Engine) Session() *models.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	return e.session.Clone()
}

// InitializeSession plans goal for projectID and binds a new idle session.
func (e *Engine) InitializeSession(projectID, goal string) (string, error) {
	if strings.TrimSpace(projectID) == "" {
		return "", &ValidationError{Field: "project_id", Message: "must not be empty"}
	}
	if strings.TrimSpace(goal) == "" {
		return "", &ValidationError{Field: "goal", Message: "must not be empty"}
	}

	if _, err := e.planner.CreateTaskGraph(projectID, goal); err != nil {
		return "", err
	}

	s := models.NewSession(uuid.New().String(), projectID, goal, e.now())
	version, err := e.sessions.Save(s, 0)
	if err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}

	e.mu.Lock()
	e.session, e.version = s, version
	e.mu.Unlock()

	e.log.Log("session %s initialized for project %s", s.SessionID, projectID)
	return s.SessionID, nil
}

// ResumeSession binds a persisted session. When the store has no record
// the latest checkpoint is used. A session left active by a crash is
// marked failed so it can be run again.
func (e *Engine) ResumeSession(id string) error {
	s, version, err := e.sessions.Load(id)
	if err != nil {
		return err
	}
	if s == nil {
		s, version, err = e.restoreCheckpoint(id)
		if err != nil {
			return err
		}
	}

	if s.State == models.SessionActive {
		s.State = models.SessionFailed
		s.LastError = "interrupted"
		s.UpdatedAt = e.now()
		if version, err = e.sessions.Save(s, version); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	}

	e.mu.Lock()
	e.session, e.version = s, version
	e.mu.Unlock()

	e.log.Log("resumed session %s (%d completed, %d failed)", id, len(s.CompletedTasks), len(s.FailedTasks))
	return nil
}

func (e *Engine) restoreCheckpoint(id string) (*models.Session, int64, error) {
	if e.checkpoints == nil {
		return nil, 0, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	var snap Snapshot
	found, err := e.checkpoints.Load(id, "", &snap)
	if err != nil {
		return nil, 0, err
	}
	if !found || snap.Session == nil {
		return nil, 0, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	version, err := e.sessions.Save(snap.Session, 0)
	if err != nil {
		return nil, 0, fmt.Errorf("restore session %s: %w", id, err)
	}
	e.log.Log("restored session %s from checkpoint", id)
	return snap.Session, version, nil
}

// persist writes the bound session. Callers hold mu.
func (e *Engine) persist() error {
	e.session.UpdatedAt = e.now()
	version, err := e.sessions.Save(e.session, e.version)
	if err != nil {
		return fmt.Errorf("save session %s: %w", e.session.SessionID, err)
	}
	e.version = version
	return nil
}

func (e *Engine) publish(eventType string, data map[string]any) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(eventType, data); err != nil {
		e.log.Log("WARNING: publish %s: %v", eventType, err)
	}
}

// ExecuteOrchestrationCycle dispatches the next runnable task and records
// its outcome. It returns true only when a task ran and succeeded. No
// runnable task is a normal (false, nil). An error means the session
// itself could not be persisted; the session is then failed.
func (e *Engine) ExecuteOrchestrationCycle(ctx context.Context) (bool, error) {
	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return false, ErrNoSession
	}
	view := e.session.Clone()
	e.mu.Unlock()
	sid, projectID := view.SessionID, view.ProjectID

	if e.ctl.IsStopped() {
		return false, nil
	}

	task, err := e.nextTask(view)
	if err != nil {
		return false, e.finishCycle(fmt.Errorf("next task: %w", err))
	}
	if task == nil {
		return false, e.finishCycle(nil)
	}

	base := map[string]any{"session_id": sid, "task_id": task.ID, "role": string(task.Role), "type": string(task.Type)}

	if _, err := e.planner.MarkStarted(projectID, task.ID); err != nil {
		e.log.Log("ERROR: start %s: %v", task.ID, err)
		e.recordFailure(projectID, task, err, base)
		return false, e.finishCycle(nil)
	}
	e.publish(events.TaskStarted, base)

	monitor := agent.NewMonitor(e.exec, e.monitorCfg, e.ctl, e.log)
	res, runErr := monitor.Run(ctx, *task, store.BriefingKey(projectID, task.ID), func(line string) {
		if e.workerLog != nil {
			e.workerLog(task.ID, line)
		}
	})

	var werr *agent.WorkerExecutionError
	if errors.As(runErr, &werr) && werr.Stopped {
		// Left in progress so a resumed session picks it up again.
		e.log.Log("task %s interrupted by stop", task.ID)
		return false, e.finishCycle(nil)
	}
	if runErr != nil {
		e.log.Log("task %s failed: %v", task.ID, runErr)
		e.recordFailure(projectID, task, runErr, base)
		return false, e.finishCycle(nil)
	}

	if _, err := e.planner.MarkCompleted(projectID, task.ID); err != nil {
		e.log.Log("ERROR: complete %s: %v", task.ID, err)
		e.recordFailure(projectID, task, err, base)
		return false, e.finishCycle(nil)
	}

	e.mu.Lock()
	e.session.RecordCompleted(task.ID)
	e.mu.Unlock()

	data := copyData(base)
	data["duration_ms"] = res.Duration.Milliseconds()
	if id := e.commit(ctx, task); id != "" {
		data["commit"] = id
	}
	e.publish(events.TaskCompleted, data)

	if err := e.finishCycle(nil); err != nil {
		return false, err
	}
	return true, nil
}

// nextTask asks the planner for the next task, passing over tasks this
// session already recorded as failed even if the planner could not
// persist that.
func (e *Engine) nextTask(s *models.Session) (*models.Task, error) {
	t, err := e.planner.GetNextTask(s.ProjectID, s.CompletedSet())
	if err != nil || t == nil || !s.HasFailed(t.ID) {
		return t, err
	}
	runnable, err := e.planner.GetRunnableTasks(s.ProjectID, s.CompletedSet())
	if err != nil {
		return nil, err
	}
	for i := range runnable {
		if !s.HasFailed(runnable[i].ID) {
			return &runnable[i], nil
		}
	}
	return nil, nil
}

// recordFailure marks the task failed in the planner and the session.
// A planner write failure is logged; the session still records it.
func (e *Engine) recordFailure(projectID string, task *models.Task, cause error, base map[string]any) {
	if _, err := e.planner.MarkFailed(projectID, task.ID, cause.Error()); err != nil {
		e.log.Log("WARNING: mark %s failed: %v", task.ID, err)
	}
	e.mu.Lock()
	e.session.RecordFailed(task.ID)
	e.session.LastError = cause.Error()
	e.mu.Unlock()

	data := copyData(base)
	data["error"] = cause.Error()
	var werr *agent.WorkerExecutionError
	if errors.As(cause, &werr) {
		data["exit_code"] = werr.ExitCode
		data["timed_out"] = werr.TimedOut
	}
	e.publish(events.TaskFailed, data)
}

// finishCycle counts the cycle and persists the session. cause, when
// set, is a structural failure of the cycle itself.
func (e *Engine) finishCycle(cause error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.session.Incr(models.MetricStageCycles)
	if cause != nil {
		e.session.LastError = cause.Error()
	}
	if err := e.persist(); err != nil {
		e.failLocked(err)
		return err
	}
	return cause
}

// failLocked moves an active session to failed and tries once to save it.
func (e *Engine) failLocked(cause error) {
	e.session.LastError = cause.Error()
	if e.session.State == models.SessionActive {
		e.session.Transition(models.SessionFailed, e.now())
	}
	if err := e.persist(); err != nil {
		e.log.Log("ERROR: could not record failure of session %s: %v", e.session.SessionID, err)
	}
}

func (e *Engine) commit(ctx context.Context, task *models.Task) string {
	if e.committer == nil {
		return ""
	}
	if err := e.committer.StageAll(ctx); err != nil {
		e.log.Log("WARNING: stage after %s: %v", task.ID, err)
		return ""
	}
	id, err := e.committer.Commit(ctx, fmt.Sprintf("triad: %s\n\n%s", task.ID, task.Description))
	if errors.Is(err, vcs.ErrNothingToCommit) {
		return ""
	}
	if err != nil {
		e.log.Log("WARNING: commit after %s: %v", task.ID, err)
		return ""
	}
	e.log.Log("committed %s for task %s", id, task.ID)
	return id
}

// snapshot copies the session and its graph for checkpointing.
func (e *Engine) snapshot() (any, error) {
	s := e.Session()
	if s == nil {
		return nil, ErrNoSession
	}
	g, err := e.planner.LoadGraph(s.ProjectID)
	if err != nil {
		return nil, err
	}
	return Snapshot{Session: s, Graph: g, SavedAt: e.now()}, nil
}

func (e *Engine) saveCheckpoint(sessionID string) {
	if e.checkpoints == nil {
		return
	}
	snap, err := e.snapshot()
	if err != nil {
		e.log.Log("WARNING: snapshot %s: %v", sessionID, err)
		return
	}
	h, err := e.checkpoints.Save(sessionID, snap)
	if err != nil {
		e.log.Log("WARNING: checkpoint %s: %v", sessionID, err)
		return
	}
	e.publish(events.CheckpointSaved, map[string]any{"session_id": sessionID, "handle": string(h)})
}

// RunWorkflow activates the session and runs cycles until the graph is
// done, nothing is runnable, a stop is requested or maxCycles is reached.
// A cycle error fails the session and is returned with the summary.
func (e *Engine) RunWorkflow(ctx context.Context, maxCycles int) (*Summary, error) {
	if maxCycles <= 0 {
		maxCycles = DefaultMaxCycles
	}

	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return nil, ErrNoSession
	}
	if err := e.session.Transition(models.SessionActive, e.now()); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.session.LastError = ""
	if err := e.persist(); err != nil {
		e.session.State = models.SessionFailed
		e.mu.Unlock()
		return nil, err
	}
	sid, projectID, goal := e.session.SessionID, e.session.ProjectID, e.session.Goal
	e.mu.Unlock()

	e.publish(events.SessionStarted, map[string]any{"session_id": sid, "project_id": projectID, "goal": goal})

	if e.checkpoints != nil && e.checkpointInterval > 0 {
		cpCtx, cancel := context.WithCancel(context.Background())
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.checkpoints.Run(cpCtx, sid, e.checkpointInterval, e.snapshot)
		}()
		defer func() {
			cancel()
			wg.Wait()
		}()
	}
	defer e.saveCheckpoint(sid)

	stopped := false
	for cycle := 0; cycle < maxCycles; cycle++ {
		if ctx.Err() != nil || e.ctl.IsStopped() {
			stopped = true
			break
		}
		if err := e.ctl.WaitIfPaused(ctx); err != nil {
			stopped = true
			break
		}

		progress, err := e.planner.GetProgress(projectID, e.Session().CompletedSet())
		if err != nil {
			return e.fail(sid, fmt.Errorf("progress: %w", err))
		}
		if progress.TotalTasks > 0 && progress.CompletedTasks == progress.TotalTasks {
			break
		}

		ok, err := e.ExecuteOrchestrationCycle(ctx)
		if err != nil {
			return e.fail(sid, err)
		}
		if ok {
			continue
		}
		if ctx.Err() != nil || e.ctl.IsStopped() {
			stopped = true
			break
		}
		next, err := e.nextTask(e.Session())
		if err != nil {
			return e.fail(sid, fmt.Errorf("next task: %w", err))
		}
		if next == nil {
			break
		}
	}

	e.mu.Lock()
	if err := e.session.Transition(models.SessionInactive, e.now()); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if stopped {
		e.session.LastError = "stopped"
	}
	err := e.persist()
	e.mu.Unlock()
	if err != nil {
		return e.fail(sid, err)
	}

	sum, err := e.summary()
	if err != nil {
		return nil, err
	}
	sum.Stopped = stopped
	e.publish(events.SessionCompleted, map[string]any{
		"session_id": sid,
		"completed":  len(sum.CompletedTasks),
		"failed":     len(sum.FailedTasks),
		"total":      sum.TotalTasks,
		"stopped":    stopped,
	})
	e.log.Log("session %s finished: %d/%d completed, %d failed after %d cycles",
		sid, len(sum.CompletedTasks), sum.TotalTasks, len(sum.FailedTasks), sum.Cycles)
	return sum, nil
}

// fail records cause on the session, publishes session_failed and
// returns the best summary available with cause.
func (e *Engine) fail(sessionID string, cause error) (*Summary, error) {
	e.mu.Lock()
	if e.session.State == models.SessionActive {
		e.failLocked(cause)
	}
	e.mu.Unlock()

	e.publish(events.SessionFailed, map[string]any{"session_id": sessionID, "error": cause.Error()})
	e.log.Log("ERROR: session %s failed: %v", sessionID, cause)

	sum, err := e.summary()
	if err != nil {
		sum = e.summaryOf(e.Session(), planner.Progress{})
	}
	return sum, cause
}

func (e *Engine) summary() (*Summary, error) {
	s := e.Session()
	if s == nil {
		return nil, ErrNoSession
	}
	progress, err := e.planner.GetProgress(s.ProjectID, s.CompletedSet())
	if err != nil {
		return nil, err
	}
	return e.summaryOf(s, progress), nil
}

func (e *Engine) summaryOf(s *models.Session, progress planner.Progress) *Summary {
	return &Summary{
		SessionID:      s.SessionID,
		ProjectID:      s.ProjectID,
		State:          s.State,
		CompletedTasks: s.CompletedTasks,
		FailedTasks:    s.FailedTasks,
		TotalTasks:     progress.TotalTasks,
		Cycles:         s.Metrics[models.MetricStageCycles],
		Progress:       progress.CompletionPercentage,
	}
}

// Summary reports the bound session's progress without running anything.
func (e *Engine) Summary() (*Summary, error) {
	return e.summary()
}

func copyData(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}
