package models

import (
	"errors"
	"testing"
	"time"
)

func TestSessionState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to SessionState
		want     bool
	}{
		{SessionIdle, SessionActive, true},
		{SessionActive, SessionInactive, true},
		{SessionActive, SessionFailed, true},
		{SessionInactive, SessionActive, true},
		{SessionFailed, SessionActive, true},
		{SessionIdle, SessionInactive, false},
		{SessionIdle, SessionFailed, false},
		{SessionActive, SessionActive, false},
		{SessionInactive, SessionFailed, false},
		{SessionActive, SessionIdle, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewSession(t *testing.T) {
	now := time.Now()
	s := NewSession("sid", "p1", "goal", now)
	if s.State != SessionIdle {
		t.Errorf("State = %s, want idle", s.State)
	}
	if s.CompletedTasks == nil || s.FailedTasks == nil || s.Metrics == nil {
		t.Error("collections should be initialized")
	}
}

func TestSession_Transition(t *testing.T) {
	s := NewSession("sid", "p1", "goal", time.Now())
	if err := s.Transition(SessionInactive, time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("idle -> inactive: err = %v, want ErrInvalidTransition", err)
	}
	if err := s.Transition(SessionActive, time.Now()); err != nil {
		t.Fatalf("idle -> active: %v", err)
	}
	if err := s.Transition(SessionFailed, time.Now()); err != nil {
		t.Fatalf("active -> failed: %v", err)
	}
	if err := s.Transition(SessionActive, time.Now()); err != nil {
		t.Fatalf("failed -> active: %v", err)
	}
}

func TestSession_RecordSetsAreMonotonic(t *testing.T) {
	s := NewSession("sid", "p1", "goal", time.Now())

	if !s.RecordCompleted("a") {
		t.Fatal("first RecordCompleted should add")
	}
	if s.RecordCompleted("a") {
		t.Error("duplicate RecordCompleted should not add")
	}
	if s.RecordFailed("a") {
		t.Error("completed id must not move to failed")
	}
	if !s.RecordFailed("b") {
		t.Fatal("RecordFailed should add")
	}
	if s.RecordCompleted("b") {
		t.Error("failed id must not move to completed")
	}

	if len(s.CompletedTasks) != 1 || s.CompletedTasks[0] != "a" {
		t.Errorf("CompletedTasks = %v", s.CompletedTasks)
	}
	if len(s.FailedTasks) != 1 || s.FailedTasks[0] != "b" {
		t.Errorf("FailedTasks = %v", s.FailedTasks)
	}
	if set := s.CompletedSet(); !set["a"] || set["b"] {
		t.Errorf("CompletedSet = %v", set)
	}
}

func TestSession_Incr(t *testing.T) {
	s := &Session{}
	s.Incr(MetricStageCycles)
	s.Incr(MetricStageCycles)
	if got := s.Metrics[MetricStageCycles]; got != 2 {
		t.Errorf("stage_cycles = %d, want 2", got)
	}
}

func TestSession_Clone(t *testing.T) {
	s := NewSession("s1", "p1", "goal", time.Now())
	s.RecordCompleted("a")
	s.Incr(MetricStageCycles)

	c := s.Clone()
	c.RecordCompleted("b")
	c.Incr(MetricStageCycles)

	if len(s.CompletedTasks) != 1 {
		t.Errorf("original CompletedTasks changed: %v", s.CompletedTasks)
	}
	if s.Metrics[MetricStageCycles] != 1 {
		t.Errorf("original metrics changed: %v", s.Metrics)
	}
}
