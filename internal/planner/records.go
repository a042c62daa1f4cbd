package planner

import (
	"time"

	"github.com/ShayCichocki/triad/internal/store"
	"github.com/ShayCichocki/triad/pkg/models"
)

// Task record locations reported by the index.
const (
	LocationPending   = "pending"
	LocationCompleted = "completed"
)

// IndexRecord is the lightweight entry under /tasks/index/{task_id}.
type IndexRecord struct {
	TaskID    string            `json:"task_id"`
	ProjectID string            `json:"project_id"`
	Role      models.Role       `json:"role"`
	Type      models.TaskType   `json:"type"`
	Status    models.TaskStatus `json:"status"`
	Location  string            `json:"location"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// WorkflowRecord is stored under /workflows/{workflow_id}.
type WorkflowRecord struct {
	WorkflowID string    `json:"workflow_id"`
	ProjectID  string    `json:"project_id"`
	Goal       string    `json:"goal"`
	Template   string    `json:"template"`
	TaskIDs    []string  `json:"task_ids"`
	CreatedAt  time.Time `json:"created_at"`
}

// Briefing is the payload a worker process reads before starting a task.
type Briefing struct {
	TaskID       string          `json:"task_id"`
	ProjectID    string          `json:"project_id"`
	Goal         string          `json:"goal"`
	Role         models.Role     `json:"role"`
	Type         models.TaskType `json:"type"`
	Description  string          `json:"description"`
	Dependencies []string        `json:"dependencies"`
	AllowedTools []string        `json:"allowed_tools"`
	Prompt       string          `json:"prompt"`
	CreatedAt    time.Time       `json:"created_at"`
}

// writeTaskRecords brings the per-task keys in line with t's status.
// Pending and in-progress tasks live under /tasks/pending, finished
// tasks (completed or failed) under /tasks/completed.
func writeTaskRecords(tx store.Tx, projectID string, t models.Task, now time.Time) error {
	location := LocationPending
	if t.Status.Terminal() {
		location = LocationCompleted
		if _, err := tx.Delete(store.PendingTaskKey(t.ID)); err != nil {
			return err
		}
		if err := store.SetJSON(tx, store.CompletedTaskKey(t.ID), t); err != nil {
			return err
		}
	} else if err := store.SetJSON(tx, store.PendingTaskKey(t.ID), t); err != nil {
		return err
	}

	return store.SetJSON(tx, store.TaskIndexKey(t.ID), IndexRecord{
		TaskID:    t.ID,
		ProjectID: projectID,
		Role:      t.Role,
		Type:      t.Type,
		Status:    t.Status,
		Location:  location,
		UpdatedAt: now,
	})
}

// removeTaskRecords drops the live records of a task that is being
// replaced by a re-plan. Finished records are kept for audit.
func removeTaskRecords(tx store.Tx, projectID string, t models.Task) error {
	if t.Status.Terminal() {
		return nil
	}
	for _, key := range []string{
		store.PendingTaskKey(t.ID),
		store.TaskIndexKey(t.ID),
		store.BriefingKey(projectID, t.ID),
	} {
		if _, err := tx.Delete(key); err != nil {
			return err
		}
	}
	return dequeue(tx, t.Role, t.ID)
}

// readQueue loads the ordered task id list for a role.
func readQueue(tx store.Tx, role models.Role) ([]string, error) {
	var ids []string
	if _, err := store.GetJSON(tx, store.AgentQueueKey(role.Slug()), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func enqueue(tx store.Tx, role models.Role, taskID string) error {
	ids, err := readQueue(tx, role)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == taskID {
			return nil
		}
	}
	return store.SetJSON(tx, store.AgentQueueKey(role.Slug()), append(ids, taskID))
}

func dequeue(tx store.Tx, role models.Role, taskID string) error {
	ids, err := readQueue(tx, role)
	if err != nil {
		return err
	}
	kept := ids[:0]
	removed := false
	for _, id := range ids {
		if id == taskID {
			removed = true
			continue
		}
		kept = append(kept, id)
	}
	if !removed {
		return nil
	}
	return store.SetJSON(tx, store.AgentQueueKey(role.Slug()), kept)
}
