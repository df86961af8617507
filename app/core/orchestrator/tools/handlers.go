package tools

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"taskpilot/app/core/broadcast"
	"taskpilot/app/core/orchestrator/task"
	"taskpilot/app/core/reminder"
	"taskpilot/app/pkg/types"
)

// Limits applied by the input schemas.
const (
	maxTitleRunes       = 200
	maxDescriptionRunes = 1000
	maxCategoryRunes    = 100
)

// Handlers binds the tool surface to the task store, the reminder
// engine, and the event broadcaster. One instance serves all users;
// ownership is checked per call against the verified caller identity.
type Handlers struct {
	tasks  *task.Store
	engine *reminder.Engine
	caster *broadcast.Broadcaster
}

func NewHandlers(tasks *task.Store, engine *reminder.Engine, caster *broadcast.Broadcaster) *Handlers {
	return &Handlers{tasks: tasks, engine: engine, caster: caster}
}

// RegisterAll installs every tool into the registry. Registration
// order is the order definitions are presented to an NLU strategy.
func (h *Handlers) RegisterAll(reg *Registry) error {
	taskIDField := Field{Name: "task_id", Type: TypeInteger, Description: "Numeric id of the task", Required: true}

	defs := []struct {
		def     Definition
		handler Handler
	}{
		{
			Definition{
				Name:        "add_task",
				Description: "Create a new task for the caller",
				Input: []Field{
					{Name: "title", Type: TypeString, Description: "Short task title", Required: true, MaxLen: maxTitleRunes},
					{Name: "description", Type: TypeString, Description: "Longer free-form detail", MaxLen: maxDescriptionRunes},
					{Name: "priority", Type: TypeString, Description: "Task priority", Enum: []string{task.PriorityLow, task.PriorityMedium, task.PriorityHigh}},
					{Name: "due_date", Type: TypeInteger, Description: "Due instant as unix seconds"},
					{Name: "category", Type: TypeString, Description: "Grouping label", MaxLen: maxCategoryRunes},
					{Name: "tags", Type: TypeArray, Description: "Free-form tags"},
				},
			},
			h.addTask,
		},
		{
			Definition{
				Name:        "list_tasks",
				Description: "List the caller's tasks, optionally filtered by status",
				Input: []Field{
					{Name: "status", Type: TypeString, Description: "Filter by completion state", Enum: []string{"all", task.StatusPending, task.StatusCompleted}},
				},
			},
			h.listTasks,
		},
		{
			Definition{
				Name:        "complete_task",
				Description: "Mark one of the caller's tasks as done",
				Input:       []Field{taskIDField},
			},
			h.completeTask,
		},
		{
			Definition{
				Name:        "delete_task",
				Description: "Permanently delete one of the caller's tasks",
				Input:       []Field{taskIDField},
			},
			h.deleteTask,
		},
		{
			Definition{
				Name:        "update_task",
				Description: "Change fields on one of the caller's tasks",
				Input: []Field{
					taskIDField,
					{Name: "title", Type: TypeString, Description: "New title", MaxLen: maxTitleRunes},
					{Name: "description", Type: TypeString, Description: "New description", MaxLen: maxDescriptionRunes},
					{Name: "priority", Type: TypeString, Description: "New priority", Enum: []string{task.PriorityLow, task.PriorityMedium, task.PriorityHigh}},
					{Name: "due_date", Type: TypeInteger, Description: "New due instant as unix seconds, 0 clears it"},
					{Name: "category", Type: TypeString, Description: "New category", MaxLen: maxCategoryRunes},
					{Name: "tags", Type: TypeArray, Description: "Replacement tag list"},
				},
			},
			h.updateTask,
		},
		{
			Definition{
				Name:        "set_reminder",
				Description: "Arm a reminder on one of the caller's tasks",
				Input: []Field{
					taskIDField,
					{Name: "remind_at", Type: TypeInteger, Description: "Trigger instant as unix seconds", Required: true},
				},
			},
			h.setReminder,
		},
		{
			Definition{
				Name:        "snooze_reminder",
				Description: "Push a task's reminder forward by some minutes",
				Input: []Field{
					taskIDField,
					{Name: "minutes", Type: TypeInteger, Description: "How long to snooze", Required: true},
				},
			},
			h.snoozeReminder,
		},
		{
			Definition{
				Name:        "dismiss_reminder",
				Description: "Silence a task's reminder, keeping its configured time",
				Input:       []Field{taskIDField},
			},
			h.dismissReminder,
		},
		{
			Definition{
				Name:        "cancel_reminder",
				Description: "Remove all reminder state from a task",
				Input:       []Field{taskIDField},
			},
			h.cancelReminder,
		},
		{
			Definition{
				Name:        "list_reminders",
				Description: "List the caller's armed reminders by trigger time",
				Input:       nil,
			},
			h.listReminders,
		},
	}

	for _, item := range defs {
		if err := reg.Register(item.def, item.handler); err != nil {
			return err
		}
	}
	return nil
}

// ownedTask fetches the task and verifies ownership. Both a missing
// task and someone else's task report the same "not found" message, so
// a caller cannot probe which ids exist.
func (h *Handlers) ownedTask(ctx context.Context, caller string, taskID int64) (task.Task, *Result) {
	t, err := h.tasks.GetTask(ctx, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		res := Failure(CodeNotFound, fmt.Sprintf("task %d not found", taskID))
		return task.Task{}, &res
	}
	if err != nil {
		res := Failure(CodeInternal, "storage error")
		return task.Task{}, &res
	}
	if t.UserID != caller {
		res := Failure(CodeForbidden, fmt.Sprintf("task %d not found", taskID))
		return task.Task{}, &res
	}
	return t, nil
}

func (h *Handlers) addTask(ctx context.Context, caller string, args Args) Result {
	t := task.Task{
		UserID:      caller,
		Title:       strings.TrimSpace(args.String("title")),
		Description: args.String("description"),
		Priority:    args.String("priority"),
		DueDate:     args.Int("due_date"),
		Category:    args.String("category"),
		Tags:        args.StringSlice("tags"),
	}
	created, err := h.tasks.CreateTask(ctx, t)
	if err != nil {
		return Failure(CodeInternal, "could not create task")
	}
	h.caster.Broadcast(caller, types.NewEvent(types.EventTaskCreated, created.ID, created.Snapshot()))
	return Success(
		fmt.Sprintf("Added task %q (ID: %d)", created.Title, created.ID),
		map[string]interface{}{"task": created.Snapshot()},
	)
}

func (h *Handlers) listTasks(ctx context.Context, caller string, args Args) Result {
	status := args.String("status")
	if status == "all" {
		status = task.StatusAll
	}
	items, err := h.tasks.ListTasks(ctx, caller, status)
	if err != nil {
		return Failure(CodeInternal, "could not list tasks")
	}
	snapshots := make([]interface{}, 0, len(items))
	for _, t := range items {
		snapshots = append(snapshots, t.Snapshot())
	}
	return Success(
		fmt.Sprintf("Found %d task(s)", len(items)),
		map[string]interface{}{"tasks": snapshots, "count": len(items)},
	)
}

func (h *Handlers) completeTask(ctx context.Context, caller string, args Args) Result {
	t, failure := h.ownedTask(ctx, caller, args.Int("task_id"))
	if failure != nil {
		return *failure
	}
	if t.Completed {
		return Success(
			fmt.Sprintf("Task %q is already completed", t.Title),
			map[string]interface{}{"task": t.Snapshot()},
		)
	}
	if err := h.tasks.CompleteTask(ctx, t.ID); err != nil {
		return Failure(CodeInternal, "could not complete task")
	}
	updated, err := h.tasks.GetTask(ctx, t.ID)
	if err != nil {
		updated = t
		updated.Completed = true
	}
	h.caster.Broadcast(caller, types.NewEvent(types.EventTaskCompleted, updated.ID, updated.Snapshot()))
	return Success(
		fmt.Sprintf("Completed task %q", updated.Title),
		map[string]interface{}{"task": updated.Snapshot()},
	)
}

func (h *Handlers) deleteTask(ctx context.Context, caller string, args Args) Result {
	t, failure := h.ownedTask(ctx, caller, args.Int("task_id"))
	if failure != nil {
		return *failure
	}
	if err := h.tasks.DeleteTask(ctx, t.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Failure(CodeNotFound, fmt.Sprintf("task %d not found", t.ID))
		}
		return Failure(CodeInternal, "could not delete task")
	}
	h.caster.Broadcast(caller, types.NewEvent(types.EventTaskDeleted, t.ID, t.Snapshot()))
	return Success(
		fmt.Sprintf("Deleted task %q", t.Title),
		map[string]interface{}{"task": t.Snapshot()},
	)
}

func (h *Handlers) updateTask(ctx context.Context, caller string, args Args) Result {
	t, failure := h.ownedTask(ctx, caller, args.Int("task_id"))
	if failure != nil {
		return *failure
	}

	var upd task.Update
	if args.Has("title") {
		v := strings.TrimSpace(args.String("title"))
		if v == "" {
			res := Failure(CodeInvalidArguments, "invalid arguments: title: must not be empty")
			res.Fields = map[string]string{"title": "must not be empty"}
			return res
		}
		upd.Title = &v
	}
	if args.Has("description") {
		v := args.String("description")
		upd.Description = &v
	}
	if args.Has("priority") {
		v := args.String("priority")
		upd.Priority = &v
	}
	if args.Has("due_date") {
		v := args.Int("due_date")
		upd.DueDate = &v
	}
	if args.Has("category") {
		v := args.String("category")
		upd.Category = &v
	}
	if args.Has("tags") {
		v := args.StringSlice("tags")
		if v == nil {
			v = []string{}
		}
		upd.Tags = &v
	}

	if upd.Empty() {
		return Failure(CodeNoOp, "nothing to update")
	}
	if err := h.tasks.UpdateTask(ctx, t.ID, upd); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Failure(CodeNotFound, fmt.Sprintf("task %d not found", t.ID))
		}
		return Failure(CodeInternal, "could not update task")
	}
	updated, err := h.tasks.GetTask(ctx, t.ID)
	if err != nil {
		return Failure(CodeInternal, "could not update task")
	}
	h.caster.Broadcast(caller, types.NewEvent(types.EventTaskUpdated, updated.ID, updated.Snapshot()))
	return Success(
		fmt.Sprintf("Updated task %q", updated.Title),
		map[string]interface{}{"task": updated.Snapshot()},
	)
}

func (h *Handlers) setReminder(ctx context.Context, caller string, args Args) Result {
	at := args.Int("remind_at")
	if at <= 0 {
		res := Failure(CodeInvalidArguments, "invalid arguments: remind_at: must be a future unix instant")
		res.Fields = map[string]string{"remind_at": "must be a future unix instant"}
		return res
	}
	t, err := h.engine.Set(ctx, caller, args.Int("task_id"), at)
	if err != nil {
		return reminderFailure(args.Int("task_id"), err)
	}
	return Success(
		fmt.Sprintf("Reminder set for task %q", t.Title),
		map[string]interface{}{"task": t.Snapshot()},
	)
}

func (h *Handlers) snoozeReminder(ctx context.Context, caller string, args Args) Result {
	minutes := args.Int("minutes")
	if minutes <= 0 {
		res := Failure(CodeInvalidArguments, "invalid arguments: minutes: must be positive")
		res.Fields = map[string]string{"minutes": "must be positive"}
		return res
	}
	t, err := h.engine.Snooze(ctx, caller, args.Int("task_id"), int(minutes))
	if err != nil {
		return reminderFailure(args.Int("task_id"), err)
	}
	return Success(
		fmt.Sprintf("Snoozed reminder for task %q by %d minute(s)", t.Title, minutes),
		map[string]interface{}{"task": t.Snapshot()},
	)
}

func (h *Handlers) dismissReminder(ctx context.Context, caller string, args Args) Result {
	t, err := h.engine.Dismiss(ctx, caller, args.Int("task_id"))
	if err != nil {
		return reminderFailure(args.Int("task_id"), err)
	}
	return Success(
		fmt.Sprintf("Dismissed reminder for task %q", t.Title),
		map[string]interface{}{"task": t.Snapshot()},
	)
}

func (h *Handlers) cancelReminder(ctx context.Context, caller string, args Args) Result {
	t, err := h.engine.Cancel(ctx, caller, args.Int("task_id"))
	if err != nil {
		return reminderFailure(args.Int("task_id"), err)
	}
	return Success(
		fmt.Sprintf("Canceled reminder for task %q", t.Title),
		map[string]interface{}{"task": t.Snapshot()},
	)
}

func (h *Handlers) listReminders(ctx context.Context, caller string, _ Args) Result {
	items, err := h.engine.ListPending(ctx, caller)
	if err != nil {
		return Failure(CodeInternal, "could not list reminders")
	}
	snapshots := make([]interface{}, 0, len(items))
	for _, t := range items {
		snapshots = append(snapshots, t.Snapshot())
	}
	return Success(
		fmt.Sprintf("Found %d reminder(s)", len(items)),
		map[string]interface{}{"reminders": snapshots, "count": len(items)},
	)
}

// reminderFailure maps engine sentinels onto the tool failure codes.
func reminderFailure(taskID int64, err error) Result {
	switch {
	case errors.Is(err, reminder.ErrNotFound):
		return Failure(CodeNotFound, fmt.Sprintf("task %d not found", taskID))
	case errors.Is(err, reminder.ErrForbidden):
		return Failure(CodeForbidden, fmt.Sprintf("task %d not found", taskID))
	case errors.Is(err, reminder.ErrNoReminder):
		return Failure(CodeNoOp, fmt.Sprintf("task %d has no active reminder", taskID))
	default:
		return Failure(CodeInternal, "reminder operation failed")
	}
}
