package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Key layout shared with worker processes and the CLI.
const (
	PendingTasksPrefix   = "/tasks/pending/"
	CompletedTasksPrefix = "/tasks/completed/"
	TaskIndexPrefix      = "/tasks/index/"
	WorkflowsPrefix      = "/workflows/"
	SessionsPrefix       = "/sessions/"
	SessionIndexPrefix   = "/sessions/index/"
	EventsPrefix         = "/events/"
	QuarantinePrefix     = "/quarantine"
	ProjectsPrefix       = "/projects/"
)

// EventSeqName is the counter that orders the event log.
const EventSeqName = "events"

// TaskGraphKey is where a project's plan lives.
func TaskGraphKey(projectID string) string {
	return ProjectsPrefix + projectID + "/supervisor/task_graph"
}

// BriefingKey is where the worker for taskID reads its instructions.
func BriefingKey(projectID, taskID string) string {
	return ProjectsPrefix + projectID + "/briefings/" + taskID
}

// BriefingsPrefix lists every briefing of a project.
func BriefingsPrefix(projectID string) string {
	return ProjectsPrefix + projectID + "/briefings/"
}

func PendingTaskKey(taskID string) string   { return PendingTasksPrefix + taskID }
func CompletedTaskKey(taskID string) string { return CompletedTasksPrefix + taskID }
func TaskIndexKey(taskID string) string     { return TaskIndexPrefix + taskID }
func WorkflowKey(workflowID string) string  { return WorkflowsPrefix + workflowID }

// AgentQueueKey is the ordered list of task ids waiting for a role.
func AgentQueueKey(roleSlug string) string {
	return "/agents/" + roleSlug + "/tasks/pending"
}

// SessionKey holds the full session record.
func SessionKey(sessionID string) string {
	return SessionsPrefix + sessionID
}

// SessionIndexKey marks a session as listed. Removing it hides the
// session without deleting its record.
func SessionIndexKey(sessionID string) string {
	return SessionIndexPrefix + sessionID
}

// EventKey zero-pads seq so lexicographic order is insertion order.
func EventKey(seq int64) string {
	return fmt.Sprintf("%s%020d", EventsPrefix, seq)
}

// EventSeq parses the sequence number back out of an event key.
func EventSeq(key string) (int64, error) {
	return strconv.ParseInt(strings.TrimPrefix(key, EventsPrefix), 10, 64)
}

// QuarantineKey is where a corrupt value is moved.
func QuarantineKey(key string) string {
	return QuarantinePrefix + key
}

// LastSegment returns the final path element of a key.
func LastSegment(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}
