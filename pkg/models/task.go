package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a status change would break the
// pending -> in_progress -> completed|failed ordering.
var ErrInvalidTransition = errors.New("invalid status transition")

// TaskType is the category of work a task represents.
type TaskType string

const (
	TaskTypeResearch       TaskType = "research"
	TaskTypeImplementation TaskType = "implementation"
	TaskTypeTesting        TaskType = "testing"
	TaskTypeInvestigation  TaskType = "investigation"
	TaskTypeBugFix         TaskType = "bug_fix"
	TaskTypeVerification   TaskType = "verification"
	TaskTypeGeneric        TaskType = "generic"
)

// Valid returns true if the type is a known value.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeResearch, TaskTypeImplementation, TaskTypeTesting,
		TaskTypeInvestigation, TaskTypeBugFix, TaskTypeVerification, TaskTypeGeneric:
		return true
	default:
		return false
	}
}

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates a worker has been dispatched for the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is allowed.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransitionTo reports whether moving from s to next is allowed.
// A pending task may fail without starting (e.g. the dispatch itself failed).
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusInProgress || next == TaskStatusFailed
	case TaskStatusInProgress:
		return next == TaskStatusCompleted || next == TaskStatusFailed
	default:
		return false
	}
}

// Task is a single unit of work assigned to one worker role.
type Task struct {
	// ID is unique within its TaskGraph.
	ID string `json:"id"`
	// Type is the category of work.
	Type TaskType `json:"type"`
	// Description is the instruction handed to the worker.
	Description string `json:"description"`
	// Role is the worker role allowed to execute this task.
	Role Role `json:"role"`
	// Dependencies lists task IDs that must be completed first.
	Dependencies []string `json:"dependencies"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// CreatedAt is when the task was planned.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is set once when the task moves to in_progress.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is set once when the task reaches a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Error contains the failure reason if the task failed.
	Error string `json:"error,omitempty"`
}

func (t *Task) transition(next TaskStatus) error {
	if !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("task %s: %s -> %s: %w", t.ID, t.Status, next, ErrInvalidTransition)
	}
	t.Status = next
	return nil
}

// Start marks the task in progress.
func (t *Task) Start(now time.Time) error {
	if err := t.transition(TaskStatusInProgress); err != nil {
		return err
	}
	t.StartedAt = &now
	return nil
}

// Complete marks the task completed.
func (t *Task) Complete(now time.Time) error {
	if err := t.transition(TaskStatusCompleted); err != nil {
		return err
	}
	t.CompletedAt = &now
	return nil
}

// Fail marks the task failed and records the reason.
func (t *Task) Fail(now time.Time, reason string) error {
	if err := t.transition(TaskStatusFailed); err != nil {
		return err
	}
	t.CompletedAt = &now
	t.Error = reason
	return nil
}

// DependsOn reports whether id is one of the task's dependencies.
func (t *Task) DependsOn(id string) bool {
	for _, dep := range t.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}

// TaskGraph is the ordered, dependency-annotated plan for a goal.
// Task order is planning order and is also a valid topological order.
type TaskGraph struct {
	ProjectID  string    `json:"project_id"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	Template   string    `json:"template,omitempty"`
	Goal       string    `json:"goal"`
	Tasks      []Task    `json:"tasks"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validate checks that ids are unique and every dependency names an
// earlier task. Since edges only point backwards the graph cannot
// contain a cycle.
func (g *TaskGraph) Validate() error {
	seen := make(map[string]bool, len(g.Tasks))
	for _, t := range g.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task with empty id")
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		for _, dep := range t.Dependencies {
			if dep == t.ID {
				return fmt.Errorf("task %q depends on itself", t.ID)
			}
			if !seen[dep] {
				return fmt.Errorf("task %q depends on %q which is unknown or appears later", t.ID, dep)
			}
		}
		seen[t.ID] = true
	}
	return nil
}

// Task returns a pointer to the task with the given id, or nil.
func (g *TaskGraph) Task(id string) *Task {
	for i := range g.Tasks {
		if g.Tasks[i].ID == id {
			return &g.Tasks[i]
		}
	}
	return nil
}

// IDs returns task ids in stored order.
func (g *TaskGraph) IDs() []string {
	ids := make([]string, len(g.Tasks))
	for i, t := range g.Tasks {
		ids[i] = t.ID
	}
	return ids
}
