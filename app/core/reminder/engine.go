package reminder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taskpilot/app/core/broadcast"
	"taskpilot/app/core/orchestrator/task"
	"taskpilot/app/pkg/logger"
	"taskpilot/app/pkg/types"
)

// SuppressionWindow is the minimum gap between two notifications for
// the same task. A task already reminded inside this window is skipped
// by the due-scan even if it is still due.
const SuppressionWindow = 60 * time.Second

// Sentinel errors for ownership and state-machine violations. Callers
// translate these into their own failure vocabulary.
var (
	ErrNotFound   = errors.New("task not found")
	ErrForbidden  = errors.New("task belongs to another user")
	ErrNoReminder = errors.New("task has no active reminder")
)

// Engine owns the reminder lifecycle: arming, snoozing, dismissing,
// canceling, and the periodic due-scan that pushes reminder_due events
// through the broadcaster. All state lives in the task store; the
// engine itself is stateless between calls.
type Engine struct {
	tasks  *task.Store
	caster *broadcast.Broadcaster
	nowFn  func() time.Time
}

func NewEngine(tasks *task.Store, caster *broadcast.Broadcaster) *Engine {
	return &Engine{
		tasks:  tasks,
		caster: caster,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the engine's clock. Tests use this to step through
// the suppression window without sleeping.
func (e *Engine) SetNow(nowFn func() time.Time) {
	if nowFn != nil {
		e.nowFn = nowFn
	}
}

// ownedTask loads the task and enforces ownership. The two failure
// modes stay distinct internally even though user-facing surfaces
// present both as "not found".
func (e *Engine) ownedTask(ctx context.Context, userID string, taskID int64) (task.Task, error) {
	t, err := e.tasks.GetTask(ctx, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, ErrNotFound
	}
	if err != nil {
		return task.Task{}, err
	}
	if t.UserID != userID {
		return task.Task{}, ErrForbidden
	}
	return t, nil
}

// Set arms a reminder at the given unix instant, replacing any
// previous reminder and clearing snooze state.
func (e *Engine) Set(ctx context.Context, userID string, taskID int64, at int64) (task.Task, error) {
	if at <= 0 {
		return task.Task{}, fmt.Errorf("reminder time is required")
	}
	t, err := e.ownedTask(ctx, userID, taskID)
	if err != nil {
		return task.Task{}, err
	}
	if err := e.tasks.SetReminder(ctx, t.ID, at); err != nil {
		return task.Task{}, err
	}
	return e.tasks.GetTask(ctx, t.ID)
}

// Snooze pushes the next trigger to now + minutes. Snoozing counts as
// an acknowledgment, so the due-scan will not re-fire before the new
// trigger instant.
func (e *Engine) Snooze(ctx context.Context, userID string, taskID int64, minutes int) (task.Task, error) {
	if minutes <= 0 {
		return task.Task{}, fmt.Errorf("snooze minutes must be positive")
	}
	t, err := e.ownedTask(ctx, userID, taskID)
	if err != nil {
		return task.Task{}, err
	}
	if !t.ReminderEnabled {
		return task.Task{}, ErrNoReminder
	}
	now := e.nowFn().Unix()
	until := now + int64(minutes)*60
	if err := e.tasks.SnoozeReminder(ctx, t.ID, until, now); err != nil {
		return task.Task{}, err
	}
	return e.tasks.GetTask(ctx, t.ID)
}

// Dismiss disables the reminder while keeping its configured time.
func (e *Engine) Dismiss(ctx context.Context, userID string, taskID int64) (task.Task, error) {
	t, err := e.ownedTask(ctx, userID, taskID)
	if err != nil {
		return task.Task{}, err
	}
	if !t.ReminderEnabled {
		return task.Task{}, ErrNoReminder
	}
	if err := e.tasks.DismissReminder(ctx, t.ID, e.nowFn().Unix()); err != nil {
		return task.Task{}, err
	}
	return e.tasks.GetTask(ctx, t.ID)
}

// Cancel wipes all reminder state from the task.
func (e *Engine) Cancel(ctx context.Context, userID string, taskID int64) (task.Task, error) {
	t, err := e.ownedTask(ctx, userID, taskID)
	if err != nil {
		return task.Task{}, err
	}
	if !t.ReminderEnabled && t.ReminderTime == 0 {
		return task.Task{}, ErrNoReminder
	}
	if err := e.tasks.CancelReminder(ctx, t.ID); err != nil {
		return task.Task{}, err
	}
	return e.tasks.GetTask(ctx, t.ID)
}

// Acknowledge records that a client showed the notification. It starts
// a fresh suppression window without changing the armed state.
func (e *Engine) Acknowledge(ctx context.Context, userID string, taskID int64) (task.Task, error) {
	t, err := e.ownedTask(ctx, userID, taskID)
	if err != nil {
		return task.Task{}, err
	}
	if !t.ReminderEnabled {
		return task.Task{}, ErrNoReminder
	}
	if err := e.tasks.AcknowledgeReminder(ctx, t.ID, e.nowFn().Unix()); err != nil {
		return task.Task{}, err
	}
	return e.tasks.GetTask(ctx, t.ID)
}

// ListPending returns the user's armed reminders ordered by effective
// trigger time.
func (e *Engine) ListPending(ctx context.Context, userID string) ([]task.Task, error) {
	return e.tasks.ListUserReminders(ctx, userID)
}

// DueScan returns the tasks whose reminder should fire now: armed, not
// completed, effective trigger at or before now, and outside the
// suppression window. The read is point-in-time; state changed after
// the snapshot is reconciled by the next scan.
func (e *Engine) DueScan(ctx context.Context) ([]task.Task, error) {
	candidates, err := e.tasks.ReminderCandidates(ctx)
	if err != nil {
		return nil, err
	}
	now := e.nowFn().Unix()
	window := int64(SuppressionWindow / time.Second)

	due := make([]task.Task, 0, len(candidates))
	for _, t := range candidates {
		trigger := t.EffectiveTriggerTime()
		if trigger <= 0 || trigger > now {
			continue
		}
		// A notification must be strictly more than the window old
		// before the task re-fires; exactly 60s is still suppressed.
		if t.LastRemindedAt > 0 && now-t.LastRemindedAt <= window {
			continue
		}
		due = append(due, t)
	}
	return due, nil
}

// RunScan is the scheduler entry point: find due reminders, push a
// reminder_due event to each owner, and record the notification.
// Broadcast and mark failures are logged and do not stop the scan.
func (e *Engine) RunScan(ctx context.Context) {
	due, err := e.DueScan(ctx)
	if err != nil {
		logger.Error("[Reminder] Due-scan failed: %v", err)
		return
	}
	if len(due) == 0 {
		return
	}

	now := e.nowFn().Unix()
	for _, t := range due {
		e.caster.Broadcast(t.UserID, types.NewEvent(types.EventReminderDue, t.ID, t.Snapshot()))
		if err := e.tasks.MarkReminded(ctx, t.ID, now); err != nil {
			logger.Error("[Reminder] Mark reminded failed task=%d: %v", t.ID, err)
		}
	}
	logger.Info("[Reminder] Scan fired %d reminder(s)", len(due))
}
