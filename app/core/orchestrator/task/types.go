package task

import "encoding/json"

// Priority levels accepted for a task.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Status filter values for ListTasks.
const (
	StatusAll       = ""
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// Task is one todo item. All timestamps are unix seconds in UTC;
// optional instants (DueDate, ReminderTime, SnoozeUntil,
// LastRemindedAt) use 0 to mean unset.
type Task struct {
	ID          int64    `json:"id"`
	UserID      string   `json:"user_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Completed   bool     `json:"completed"`
	Priority    string   `json:"priority"`
	DueDate     int64    `json:"due_date,omitempty"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags"`
	Position    int      `json:"position"`
	Archived    bool     `json:"archived"`

	ReminderTime    int64 `json:"reminder_time,omitempty"`
	ReminderEnabled bool  `json:"reminder_enabled"`
	SnoozeUntil     int64 `json:"snooze_until,omitempty"`
	SnoozeCount     int   `json:"snooze_count"`
	LastRemindedAt  int64 `json:"last_reminded_at,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// EffectiveTriggerTime is the instant a reminder is judged against:
// snooze_until when set, else reminder_time. Zero means no trigger.
func (t Task) EffectiveTriggerTime() int64 {
	if t.SnoozeUntil > 0 {
		return t.SnoozeUntil
	}
	return t.ReminderTime
}

// Snapshot returns the wire representation used in event payloads.
func (t Task) Snapshot() map[string]interface{} {
	raw, err := json.Marshal(t)
	if err != nil {
		return map[string]interface{}{"id": t.ID}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{"id": t.ID}
	}
	return out
}

// Update carries the optional fields of an update-task operation. Nil
// pointers leave the column untouched.
type Update struct {
	Title       *string
	Description *string
	Priority    *string
	DueDate     *int64
	Category    *string
	Tags        *[]string
	Position    *int
	Archived    *bool
}

// Empty reports whether the update would change nothing.
func (u Update) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Priority == nil &&
		u.DueDate == nil && u.Category == nil && u.Tags == nil &&
		u.Position == nil && u.Archived == nil
}
