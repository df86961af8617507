package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"taskpilot/app/core/orchestrator/db"
)

const taskColumns = `id, user_id, title, description, completed, priority,
	COALESCE(due_date, 0), category, tags, position, archived,
	COALESCE(reminder_time, 0), reminder_enabled, COALESCE(snooze_until, 0),
	snooze_count, COALESCE(last_reminded_at, 0), created_at, updated_at`

type Store struct {
	db *db.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

func (s *Store) CreateTask(ctx context.Context, t Task) (Task, error) {
	t.UserID = strings.TrimSpace(t.UserID)
	if t.UserID == "" {
		return Task{}, fmt.Errorf("user_id is required")
	}
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return Task{}, fmt.Errorf("title is required")
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	tagsJSON, err := json.Marshal(t.Tags)
	if err != nil {
		return Task{}, err
	}

	now := time.Now().UTC().Unix()
	t.Completed = false
	t.CreatedAt = now
	t.UpdatedAt = now

	query := `INSERT INTO tasks
	(user_id, title, description, completed, priority, due_date, category, tags, position, archived, created_at, updated_at)
	VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.Conn().ExecContext(ctx, query,
		t.UserID, t.Title, t.Description, t.Priority, nullableUnix(t.DueDate),
		t.Category, string(tagsJSON), t.Position, boolToInt(t.Archived), now, now)
	if err != nil {
		return Task{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Task{}, err
	}
	t.ID = id
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, taskID int64) (Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	row := s.db.Conn().QueryRowContext(ctx, query, taskID)
	return scanTask(row)
}

// ListTasks returns the user's non-archived tasks, incomplete first,
// then newest-first within each group. Status filters to pending or
// completed tasks only; StatusAll returns both.
func (s *Store) ListTasks(ctx context.Context, userID string, status string) ([]Task, error) {
	var (
		query string
		args  []interface{}
	)
	base := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ? AND archived = 0`
	order := ` ORDER BY completed ASC, created_at DESC, id DESC`
	switch status {
	case StatusAll:
		query = base + order
		args = []interface{}{userID}
	case StatusPending:
		query = base + ` AND completed = 0` + order
		args = []interface{}{userID}
	case StatusCompleted:
		query = base + ` AND completed = 1` + order
		args = []interface{}{userID}
	default:
		return nil, fmt.Errorf("invalid status filter: %s", status)
	}

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *Store) UpdateTask(ctx context.Context, taskID int64, upd Update) error {
	if upd.Empty() {
		return fmt.Errorf("no fields to update")
	}

	sets := make([]string, 0, 8)
	args := make([]interface{}, 0, 9)
	if upd.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, strings.TrimSpace(*upd.Title))
	}
	if upd.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *upd.Description)
	}
	if upd.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *upd.Priority)
	}
	if upd.DueDate != nil {
		sets = append(sets, "due_date = ?")
		args = append(args, nullableUnix(*upd.DueDate))
	}
	if upd.Category != nil {
		sets = append(sets, "category = ?")
		args = append(args, *upd.Category)
	}
	if upd.Tags != nil {
		tagsJSON, err := json.Marshal(*upd.Tags)
		if err != nil {
			return err
		}
		sets = append(sets, "tags = ?")
		args = append(args, string(tagsJSON))
	}
	if upd.Position != nil {
		sets = append(sets, "position = ?")
		args = append(args, *upd.Position)
	}
	if upd.Archived != nil {
		sets = append(sets, "archived = ?")
		args = append(args, boolToInt(*upd.Archived))
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC().Unix())
	args = append(args, taskID)

	query := `UPDATE tasks SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	res, err := s.db.Conn().ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// CompleteTask marks the task done. Completing an already-completed
// task succeeds and still bumps updated_at.
func (s *Store) CompleteTask(ctx context.Context, taskID int64) error {
	now := time.Now().UTC().Unix()
	res, err := s.db.Conn().ExecContext(ctx,
		`UPDATE tasks SET completed = 1, updated_at = ? WHERE id = ?`, now, taskID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) DeleteTask(ctx context.Context, taskID int64) error {
	res, err := s.db.Conn().ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetReminder arms the reminder at the given instant, clearing any
// snooze state.
func (s *Store) SetReminder(ctx context.Context, taskID int64, at int64) error {
	now := time.Now().UTC().Unix()
	res, err := s.db.Conn().ExecContext(ctx, `
UPDATE tasks SET reminder_time = ?, reminder_enabled = 1, snooze_until = NULL,
	snooze_count = 0, updated_at = ? WHERE id = ?`, at, now, taskID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SnoozeReminder pushes the trigger to `until` and records the snooze
// as an acknowledgment so the due-scan does not immediately re-fire.
func (s *Store) SnoozeReminder(ctx context.Context, taskID int64, until int64, now int64) error {
	res, err := s.db.Conn().ExecContext(ctx, `
UPDATE tasks SET snooze_until = ?, snooze_count = snooze_count + 1,
	last_reminded_at = ?, updated_at = ? WHERE id = ?`, until, now, now, taskID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DismissReminder turns the reminder off but keeps reminder_time, so a
// dismissed reminder is distinguishable from a canceled one.
func (s *Store) DismissReminder(ctx context.Context, taskID int64, now int64) error {
	res, err := s.db.Conn().ExecContext(ctx, `
UPDATE tasks SET reminder_enabled = 0, snooze_until = NULL,
	last_reminded_at = ?, updated_at = ? WHERE id = ?`, now, now, taskID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// CancelReminder clears all reminder state.
func (s *Store) CancelReminder(ctx context.Context, taskID int64) error {
	now := time.Now().UTC().Unix()
	res, err := s.db.Conn().ExecContext(ctx, `
UPDATE tasks SET reminder_enabled = 0, reminder_time = NULL, snooze_until = NULL,
	snooze_count = 0, updated_at = ? WHERE id = ?`, now, taskID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// AcknowledgeReminder records that a client displayed the notification
// without disabling future triggers.
func (s *Store) AcknowledgeReminder(ctx context.Context, taskID int64, now int64) error {
	res, err := s.db.Conn().ExecContext(ctx,
		`UPDATE tasks SET last_reminded_at = ? WHERE id = ?`, now, taskID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkReminded is the due-scan's best-effort suppression write. It is
// intentionally tolerant of the row disappearing or being dismissed
// concurrently; no rows affected is not an error here.
func (s *Store) MarkReminded(ctx context.Context, taskID int64, now int64) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`UPDATE tasks SET last_reminded_at = ? WHERE id = ? AND reminder_enabled = 1`, now, taskID)
	return err
}

// ReminderCandidates returns every task with an armed reminder that is
// not completed, across all users. Due-ness is decided by the caller.
func (s *Store) ReminderCandidates(ctx context.Context) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE reminder_enabled = 1 AND completed = 0`
	rows, err := s.db.Conn().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListUserReminders returns the user's armed reminders ordered by
// trigger time.
func (s *Store) ListUserReminders(ctx context.Context, userID string) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
WHERE user_id = ? AND reminder_enabled = 1 AND completed = 0
ORDER BY COALESCE(snooze_until, reminder_time) ASC`
	rows, err := s.db.Conn().QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (Task, error) {
	var (
		t                   Task
		completed, archived int
		enabled             int
		tagsJSON            string
	)
	err := row.Scan(
		&t.ID, &t.UserID, &t.Title, &t.Description, &completed, &t.Priority,
		&t.DueDate, &t.Category, &tagsJSON, &t.Position, &archived,
		&t.ReminderTime, &enabled, &t.SnoozeUntil,
		&t.SnoozeCount, &t.LastRemindedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return Task{}, err
	}
	t.Completed = completed != 0
	t.Archived = archived != 0
	t.ReminderEnabled = enabled != 0
	if tagsJSON != "" {
		_ = json.Unmarshal([]byte(tagsJSON), &t.Tags)
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	return t, nil
}

func scanTasks(rows *sql.Rows) ([]Task, error) {
	items := make([]Task, 0, 16)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func nullableUnix(v int64) interface{} {
	if v <= 0 {
		return nil
	}
	return v
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
