package planner

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/triad/internal/logging"
	"github.com/ShayCichocki/triad/internal/store"
	"github.com/ShayCichocki/triad/pkg/models"
)

var (
	// ErrNoGraph is returned by mutating calls when a project has no plan.
	ErrNoGraph = errors.New("no task graph for project")
	// ErrUnknownTask is returned when a task id is not in the project's plan.
	ErrUnknownTask = errors.New("task not in graph")
)

// Progress summarizes how much of a plan is done.
type Progress struct {
	CompletionPercentage float64 `json:"completion_percentage"`
	CompletedTasks       int     `json:"completed_tasks"`
	TotalTasks           int     `json:"total_tasks"`
}

// Planner builds task graphs and answers scheduling queries. It holds no
// graph state of its own; every call reads the store.
type Planner struct {
	store      store.Store
	classifier Classifier
	profiles   map[models.Role]models.RoleProfile
	log        *logging.Logger
	now        func() time.Time
}

// Option configures a Planner.
type Option func(*Planner)

// WithClassifier swaps the goal classifier.
func WithClassifier(c Classifier) Option {
	return func(p *Planner) { p.classifier = c }
}

// WithProfiles overrides role profiles used for briefings.
func WithProfiles(profiles map[models.Role]models.RoleProfile) Option {
	return func(p *Planner) {
		for r, prof := range profiles {
			p.profiles[r] = prof
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) { p.now = now }
}

// New creates a Planner over s.
func New(s store.Store, log *logging.Logger, opts ...Option) *Planner {
	p := &Planner{
		store:      s,
		classifier: KeywordClassifier{},
		profiles:   make(map[models.Role]models.RoleProfile, len(models.AllRoles)),
		log:        log.Named("planner"),
		now:        time.Now,
	}
	for _, r := range models.AllRoles {
		p.profiles[r] = r.Profile()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Profile returns the effective profile for a role.
func (p *Planner) Profile(r models.Role) models.RoleProfile {
	return p.profiles[r]
}

// CreateTaskGraph classifies goal, builds the matching template and
// replaces the project's plan. The graph, its task records, the role
// queues, briefings and the workflow record are written in one
// transaction.
func (p *Planner) CreateTaskGraph(projectID, goal string) (*models.TaskGraph, error) {
	kind := p.classifier.Classify(goal)
	now := p.now()

	g, err := buildGraph(kind, projectID, goal, now)
	if err != nil {
		return nil, err
	}
	g.WorkflowID = uuid.New().String()
	g.Template = string(kind)

	err = p.store.Update(func(tx store.Tx) error {
		var old models.TaskGraph
		version, err := store.GetEntryJSON(tx, store.TaskGraphKey(projectID), &old)
		if err != nil && !store.IsDeserializationError(err) {
			return err
		}
		if version > 0 {
			for _, t := range old.Tasks {
				if err := removeTaskRecords(tx, projectID, t); err != nil {
					return err
				}
			}
		}

		if err := store.SetJSON(tx, store.TaskGraphKey(projectID), g); err != nil {
			return err
		}
		for _, t := range g.Tasks {
			if err := writeTaskRecords(tx, projectID, t, now); err != nil {
				return err
			}
			if err := enqueue(tx, t.Role, t.ID); err != nil {
				return err
			}
			if err := store.SetJSON(tx, store.BriefingKey(projectID, t.ID), p.briefing(g, t)); err != nil {
				return err
			}
		}
		return store.SetJSON(tx, store.WorkflowKey(g.WorkflowID), WorkflowRecord{
			WorkflowID: g.WorkflowID,
			ProjectID:  projectID,
			Goal:       goal,
			Template:   string(kind),
			TaskIDs:    g.IDs(),
			CreatedAt:  now,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("persist task graph for %s: %w", projectID, err)
	}

	p.log.Log("planned %d tasks for project %s using %s template", len(g.Tasks), projectID, kind)
	return g, nil
}

func (p *Planner) briefing(g *models.TaskGraph, t models.Task) Briefing {
	prof := p.profiles[t.Role]
	return Briefing{
		TaskID:       t.ID,
		ProjectID:    g.ProjectID,
		Goal:         g.Goal,
		Role:         t.Role,
		Type:         t.Type,
		Description:  t.Description,
		Dependencies: t.Dependencies,
		AllowedTools: prof.AllowedTools,
		Prompt:       prof.Prompt(g.Goal) + "\n\nTask: " + t.Description,
		CreatedAt:    t.CreatedAt,
	}
}

// LoadGraph returns the project's plan, or nil if there is none. A record
// that cannot be decoded is logged and reported as absent.
func (p *Planner) LoadGraph(projectID string) (*models.TaskGraph, error) {
	var g models.TaskGraph
	found, err := store.GetJSON(p.store, store.TaskGraphKey(projectID), &g)
	if store.IsDeserializationError(err) {
		p.log.Log("WARNING: ignoring corrupt task graph for %s: %v", projectID, err)
		return nil, nil
	}
	if err != nil || !found {
		return nil, err
	}
	return &g, nil
}

// LoadBriefing reads a task briefing by its store key.
func (p *Planner) LoadBriefing(key string) (*Briefing, error) {
	var b Briefing
	found, err := store.GetJSON(p.store, key, &b)
	if err != nil || !found {
		return nil, err
	}
	return &b, nil
}

// runnable reports whether t may be dispatched given the completed set.
// Failed tasks are never handed out again.
func runnable(t models.Task, completed map[string]bool) bool {
	if completed[t.ID] || t.Status == models.TaskStatusFailed {
		return false
	}
	for _, dep := range t.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// GetNextTask returns the first task in stored order that is not in
// completed, has not failed, and whose dependencies are all in completed.
// Ties go to stored order. It returns nil when the project
// has no plan or nothing is runnable.
func (p *Planner) GetNextTask(projectID string, completed map[string]bool) (*models.Task, error) {
	g, err := p.LoadGraph(projectID)
	if err != nil || g == nil {
		return nil, err
	}
	for _, t := range g.Tasks {
		if runnable(t, completed) {
			t := t
			return &t, nil
		}
	}
	return nil, nil
}

// GetRunnableTasks returns every task that GetNextTask could return, in
// stored order. Useful for dispatching independent tasks in parallel.
func (p *Planner) GetRunnableTasks(projectID string, completed map[string]bool) ([]models.Task, error) {
	g, err := p.LoadGraph(projectID)
	if err != nil || g == nil {
		return nil, err
	}
	var ready []models.Task
	for _, t := range g.Tasks {
		if runnable(t, completed) {
			ready = append(ready, t)
		}
	}
	return ready, nil
}

// GetProgress reports the share of the plan present in completed. An
// empty or missing plan is 0%.
func (p *Planner) GetProgress(projectID string, completed map[string]bool) (Progress, error) {
	g, err := p.LoadGraph(projectID)
	if err != nil || g == nil {
		return Progress{}, err
	}
	return progressOf(g, completed), nil
}

func progressOf(g *models.TaskGraph, completed map[string]bool) Progress {
	prog := Progress{TotalTasks: len(g.Tasks)}
	for _, t := range g.Tasks {
		if completed[t.ID] {
			prog.CompletedTasks++
		}
	}
	if prog.TotalTasks > 0 {
		prog.CompletionPercentage = 100 * float64(prog.CompletedTasks) / float64(prog.TotalTasks)
	}
	return prog
}

// MarkStarted moves a task to in_progress and takes it off its role
// queue. A task already in progress (e.g. after a crash) is returned as is.
func (p *Planner) MarkStarted(projectID, taskID string) (*models.Task, error) {
	return p.update(projectID, taskID, func(t *models.Task, now time.Time) error {
		if t.Status == models.TaskStatusInProgress {
			return nil
		}
		return t.Start(now)
	})
}

// MarkCompleted moves a task to completed.
func (p *Planner) MarkCompleted(projectID, taskID string) (*models.Task, error) {
	return p.update(projectID, taskID, func(t *models.Task, now time.Time) error {
		return t.Complete(now)
	})
}

// MarkFailed moves a task to failed. Its dependents stay blocked until
// the project is re-planned.
func (p *Planner) MarkFailed(projectID, taskID, reason string) (*models.Task, error) {
	return p.update(projectID, taskID, func(t *models.Task, now time.Time) error {
		return t.Fail(now, reason)
	})
}

// update applies fn to one task of the stored graph and rewrites the graph
// and the task's records in a single transaction. The graph write is
// conditional on the version read, so a concurrent writer is reported
// instead of overwritten.
func (p *Planner) update(projectID, taskID string, fn func(*models.Task, time.Time) error) (*models.Task, error) {
	var out models.Task
	now := p.now()

	err := p.store.Update(func(tx store.Tx) error {
		var g models.TaskGraph
		version, err := store.GetEntryJSON(tx, store.TaskGraphKey(projectID), &g)
		if err != nil {
			return err
		}
		if version == 0 {
			return fmt.Errorf("%s: %w", projectID, ErrNoGraph)
		}

		t := g.Task(taskID)
		if t == nil {
			return fmt.Errorf("%s/%s: %w", projectID, taskID, ErrUnknownTask)
		}
		if err := fn(t, now); err != nil {
			return err
		}

		if _, err := store.CompareAndSetJSON(tx, store.TaskGraphKey(projectID), &g, version); err != nil {
			return err
		}
		if err := writeTaskRecords(tx, projectID, *t, now); err != nil {
			return err
		}
		if t.Status != models.TaskStatusPending {
			if err := dequeue(tx, t.Role, t.ID); err != nil {
				return err
			}
		}
		out = *t
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.log.Log("task %s -> %s", taskID, out.Status)
	return &out, nil
}

// Index returns the index records for every task, in key order.
func (p *Planner) Index() ([]IndexRecord, error) {
	keys, err := p.store.Keys(store.TaskIndexPrefix)
	if err != nil {
		return nil, err
	}
	records := make([]IndexRecord, 0, len(keys))
	for _, key := range keys {
		var rec IndexRecord
		found, err := store.GetJSON(p.store, key, &rec)
		if store.IsDeserializationError(err) {
			p.log.Log("WARNING: skipping corrupt index record %s: %v", key, err)
			continue
		}
		if err != nil {
			return nil, err
		}
		if found {
			records = append(records, rec)
		}
	}
	return records, nil
}

// Queue returns the task ids waiting for a role.
func (p *Planner) Queue(role models.Role) ([]string, error) {
	var ids []string
	if _, err := store.GetJSON(p.store, store.AgentQueueKey(role.Slug()), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
