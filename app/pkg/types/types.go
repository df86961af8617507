package types

import "time"

// Event kinds delivered to live clients.
const (
	EventTaskCreated   = "task_created"
	EventTaskUpdated   = "task_updated"
	EventTaskDeleted   = "task_deleted"
	EventTaskCompleted = "task_completed"
	EventReminderDue   = "reminder_due"
)

// Event is an ephemeral notification about a task mutation or a due
// reminder. Events are never persisted; if the owner has no live
// channel the event is dropped.
type Event struct {
	Kind      string                 `json:"type"`
	TaskID    int64                  `json:"task_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func NewEvent(kind string, taskID int64, data map[string]interface{}) Event {
	return Event{
		Kind:      kind,
		TaskID:    taskID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}
