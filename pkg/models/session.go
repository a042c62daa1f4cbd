package models

import (
	"fmt"
	"time"
)

// SessionState is the lifecycle state of an orchestration session.
type SessionState string

const (
	// SessionIdle is the initial state before any workflow run.
	SessionIdle SessionState = "idle"
	// SessionActive indicates a workflow run is in progress.
	SessionActive SessionState = "active"
	// SessionInactive indicates the last run finished cleanly.
	SessionInactive SessionState = "inactive"
	// SessionFailed indicates the last run stopped on an error.
	SessionFailed SessionState = "failed"
)

// Valid returns true if the state is a known value.
func (s SessionState) Valid() bool {
	switch s {
	case SessionIdle, SessionActive, SessionInactive, SessionFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the session may move from s to next.
// Only an active session can settle; any settled session can be reactivated.
func (s SessionState) CanTransitionTo(next SessionState) bool {
	switch next {
	case SessionActive:
		return s == SessionIdle || s == SessionInactive || s == SessionFailed
	case SessionInactive, SessionFailed:
		return s == SessionActive
	default:
		return false
	}
}

// MetricStageCycles counts orchestration cycles run by a session.
const MetricStageCycles = "stage_cycles"

// Session is one orchestration run's lifecycle and progress record.
type Session struct {
	SessionID      string           `json:"session_id"`
	ProjectID      string           `json:"project_id"`
	Goal           string           `json:"goal"`
	State          SessionState     `json:"state"`
	CompletedTasks []string         `json:"completed_tasks"`
	FailedTasks    []string         `json:"failed_tasks"`
	Metrics        map[string]int64 `json:"metrics"`
	LastError      string           `json:"last_error,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// NewSession creates an idle session.
func NewSession(id, projectID, goal string, now time.Time) *Session {
	return &Session{
		SessionID:      id,
		ProjectID:      projectID,
		Goal:           goal,
		State:          SessionIdle,
		CompletedTasks: []string{},
		FailedTasks:    []string{},
		Metrics:        map[string]int64{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Transition moves the session to next if the state machine allows it.
func (s *Session) Transition(next SessionState, now time.Time) error {
	if !s.State.CanTransitionTo(next) {
		return fmt.Errorf("session %s: %s -> %s: %w", s.SessionID, s.State, next, ErrInvalidTransition)
	}
	s.State = next
	s.UpdatedAt = now
	return nil
}

// HasCompleted reports whether id is in the completed set.
func (s *Session) HasCompleted(id string) bool {
	return contains(s.CompletedTasks, id)
}

// HasFailed reports whether id is in the failed set.
func (s *Session) HasFailed(id string) bool {
	return contains(s.FailedTasks, id)
}

// RecordCompleted adds id to the completed set. Ids already recorded in
// either set are left where they are.
func (s *Session) RecordCompleted(id string) bool {
	if s.HasCompleted(id) || s.HasFailed(id) {
		return false
	}
	s.CompletedTasks = append(s.CompletedTasks, id)
	return true
}

// RecordFailed adds id to the failed set. Ids already recorded in
// either set are left where they are.
func (s *Session) RecordFailed(id string) bool {
	if s.HasCompleted(id) || s.HasFailed(id) {
		return false
	}
	s.FailedTasks = append(s.FailedTasks, id)
	return true
}

// Incr bumps a metric counter.
func (s *Session) Incr(metric string) {
	if s.Metrics == nil {
		s.Metrics = map[string]int64{}
	}
	s.Metrics[metric]++
}

// CompletedSet returns the completed ids as a set for scheduler queries.
func (s *Session) CompletedSet() map[string]bool {
	set := make(map[string]bool, len(s.CompletedTasks))
	for _, id := range s.CompletedTasks {
		set[id] = true
	}
	return set
}

// Clone returns a deep copy that shares nothing with s.
func (s *Session) Clone() *Session {
	c := *s
	c.CompletedTasks = append([]string{}, s.CompletedTasks...)
	c.FailedTasks = append([]string{}, s.FailedTasks...)
	c.Metrics = make(map[string]int64, len(s.Metrics))
	for k, v := range s.Metrics {
		c.Metrics[k] = v
	}
	return &c
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
