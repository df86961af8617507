package agent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"taskpilot/app/core/orchestrator/conversation"
	"taskpilot/app/core/orchestrator/task"
	"taskpilot/app/core/orchestrator/tools"
)

// RuleStrategy is the deterministic, dependency-free dispatcher: a
// fixed table of intent matchers checked in priority order, first
// match wins. It needs no network and is the fallback when no model
// is configured.
type RuleStrategy struct {
	reg   *tools.Registry
	nowFn func() time.Time
}

func NewRuleStrategy(reg *tools.Registry) *RuleStrategy {
	return &RuleStrategy{
		reg:   reg,
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the strategy clock for tests.
func (s *RuleStrategy) SetNow(nowFn func() time.Time) {
	if nowFn != nil {
		s.nowFn = nowFn
	}
}

func (s *RuleStrategy) Name() string { return "rules" }

var (
	taskIDRe      = regexp.MustCompile(`(?:task\s*#?\s*|#)(\d+)`)
	bareNumberRe  = regexp.MustCompile(`\b(\d+)\b`)
	createdIDRe   = regexp.MustCompile(`\(ID: (\d+)\)`)
	createStripRe = regexp.MustCompile(`^(?:please\s+)?(?:can you\s+)?(?:add|create|make)\s+(?:a\s+)?(?:new\s+)?task(?:\s+(?:to|for|called|named)|:)?\s*`)
	renameRe      = regexp.MustCompile(`(?:rename|title)\s+(?:it\s+|task\s*#?\s*\d+\s+)?to\s+"?([^"]+?)"?$`)
	categoryRe    = regexp.MustCompile(`(?:category|under)\s+(?:to\s+)?"?([a-z0-9 _-]+?)"?$`)
	timePhraseRe  = regexp.MustCompile(`\s*(?:\bdue\b|\bby\b|\bat\b|\bin\b|\bon\b)?\s*(in\s+(?:\d+|an?)\s+(?:minute|min|hour|hr|day)s?|tomorrow(?:\s+at\s+[\d:apm ]+)?|today(?:\s+at\s+[\d:apm ]+)?|tonight|at\s+\d{1,2}(?::\d{2})?\s*(?:am|pm)?)\s*$`)
)

// Reply classifies the turn, invokes the matching tool through a
// per-turn recorder, and reports both the text and the tool calls that
// produced it.
func (s *RuleStrategy) Reply(ctx context.Context, req Request) (Reply, error) {
	tn := &turn{reg: s.reg, userID: req.UserID}
	text := s.dispatch(ctx, tn, req)
	return Reply{Text: localize(req.Language, text), ToolCalls: tn.calls}, nil
}

// dispatch runs the matchers in a fixed priority order; the reminder
// vocabulary is excluded from the task matchers so "cancel my
// reminder" is never read as a task deletion.
func (s *RuleStrategy) dispatch(ctx context.Context, tn *turn, req Request) string {
	lower := strings.ToLower(strings.TrimSpace(req.Message))
	if lower == "" {
		return s.helpText()
	}

	remindery := mentionsReminder(lower)

	switch {
	case !remindery && matchesAny(lower, "add ", "create", "new task", "remember to", "i need to", "need to "):
		return s.handleCreate(ctx, tn, lower)
	case !remindery && matchesAny(lower, "show", "list", "what are my", "what's on my", "my tasks", "pending task", "completed task", "what do i"):
		return s.handleList(ctx, tn, lower)
	case !remindery && matchesAny(lower, "complete", "done with", "finished", "finish ", "mark "):
		return s.handleComplete(ctx, tn, req, lower)
	case !remindery && matchesAny(lower, "delete", "remove"):
		return s.handleDelete(ctx, tn, lower)
	case !remindery && matchesAny(lower, "update", "change", "modify", "edit", "rename", "make it ", "make that ", "set priority", "set the priority", "set its"):
		return s.handleUpdate(ctx, tn, req, lower)
	case remindery || matchesAny(lower, "snooze"):
		return s.handleReminder(ctx, tn, req, lower)
	}
	return s.helpText()
}

func mentionsReminder(lower string) bool {
	return matchesAny(lower, "remind", "reminder", "alarm", "alert", "notify", "snooze")
}

func matchesAny(lower string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (s *RuleStrategy) handleCreate(ctx context.Context, tn *turn, lower string) string {
	title := lower
	if m := createStripRe.FindString(title); m != "" {
		title = title[len(m):]
	} else {
		for _, prefix := range []string{"remember to ", "i need to ", "need to "} {
			if idx := strings.Index(title, prefix); idx >= 0 {
				title = title[idx+len(prefix):]
				break
			}
		}
	}

	args := map[string]interface{}{}
	if priority, rest := extractPriority(title); priority != "" {
		args["priority"] = priority
		title = rest
	}
	if when, rest, ok := extractWhen(title, s.nowFn()); ok {
		args["due_date"] = when
		title = rest
	}
	title = strings.Trim(strings.TrimSpace(title), `"'.`)
	if title == "" {
		return "What should the task be called? For example: add a task to buy groceries."
	}
	args["title"] = title

	res := tn.invoke(ctx, "add_task", args)
	if !res.OK() {
		return friendlyFailure(res)
	}
	reply := res.Message
	if due, ok := args["due_date"].(int64); ok {
		reply += ", due " + formatUnix(due)
	}
	return reply + "."
}

func (s *RuleStrategy) handleList(ctx context.Context, tn *turn, lower string) string {
	status := "all"
	if matchesAny(lower, "completed", "done", "finished") {
		status = task.StatusCompleted
	} else if matchesAny(lower, "pending", "incomplete", "open", "todo", "to do", "unfinished") {
		status = task.StatusPending
	}

	res := tn.invoke(ctx, "list_tasks", map[string]interface{}{"status": status})
	if !res.OK() {
		return friendlyFailure(res)
	}
	items, _ := res.Data["tasks"].([]interface{})
	if len(items) == 0 {
		switch status {
		case task.StatusCompleted:
			return "You have no completed tasks."
		case task.StatusPending:
			return "You have no pending tasks. Nice work!"
		default:
			return "You have no tasks yet. Try: add a task to buy groceries."
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You have %d task(s):\n", len(items))
	for _, item := range items {
		snap, _ := item.(map[string]interface{})
		b.WriteString(formatTaskLine(snap))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *RuleStrategy) handleComplete(ctx context.Context, tn *turn, req Request, lower string) string {
	id, ok := extractTaskID(lower)
	if !ok {
		id, ok = lastMentionedTaskID(req.History)
	}
	if !ok {
		return "Which task did you finish? Tell me its ID, for example: complete task 3."
	}
	res := tn.invoke(ctx, "complete_task", map[string]interface{}{"task_id": id})
	if !res.OK() {
		return friendlyFailure(res)
	}
	return res.Message + "."
}

func (s *RuleStrategy) handleDelete(ctx context.Context, tn *turn, lower string) string {
	// Deletion never guesses: an explicit id is required.
	id, ok := extractTaskID(lower)
	if !ok {
		return "Which task should I delete? Give me its ID, for example: delete task 3."
	}
	res := tn.invoke(ctx, "delete_task", map[string]interface{}{"task_id": id})
	if !res.OK() {
		return friendlyFailure(res)
	}
	return res.Message + "."
}

func (s *RuleStrategy) handleUpdate(ctx context.Context, tn *turn, req Request, lower string) string {
	id, ok := extractTaskID(lower)
	if !ok {
		// "make it high priority" right after a creation refers to
		// the task whose id appeared in the last assistant reply.
		id, ok = lastMentionedTaskID(req.History)
	}
	if !ok {
		return "Which task should I update? Tell me its ID, for example: update task 3 priority to high."
	}

	args := map[string]interface{}{"task_id": id}
	if priority, _ := extractPriority(lower); priority != "" {
		args["priority"] = priority
	}
	if matchesAny(lower, "due", "by ", "deadline") {
		if when, ok := ParseWhen(lower, s.nowFn()); ok {
			args["due_date"] = when
		}
	}
	if m := renameRe.FindStringSubmatch(strings.TrimSpace(lower)); m != nil {
		args["title"] = strings.TrimSpace(m[1])
	} else if m := categoryRe.FindStringSubmatch(strings.TrimSpace(lower)); m != nil && !matchesAny(lower, "priority") {
		args["category"] = strings.TrimSpace(m[1])
	}
	if len(args) == 1 {
		return "What should I change? I can update the title, priority, due date or category."
	}

	res := tn.invoke(ctx, "update_task", args)
	if !res.OK() {
		return friendlyFailure(res)
	}
	return res.Message + "."
}

func (s *RuleStrategy) handleReminder(ctx context.Context, tn *turn, req Request, lower string) string {
	switch {
	case strings.Contains(lower, "snooze"):
		return s.handleSnooze(ctx, tn, req, lower)
	case matchesAny(lower, "dismiss", "silence", "stop remind", "stop the"):
		return s.reminderOp(ctx, tn, lower, "dismiss_reminder", "Which reminder should I dismiss? Tell me the task ID.")
	case matchesAny(lower, "cancel", "remove", "delete", "turn off"):
		return s.reminderOp(ctx, tn, lower, "cancel_reminder", "Which reminder should I cancel? Tell me the task ID.")
	case matchesAny(lower, "show", "list", "what remind", "my reminders", "any reminder"):
		return s.handleListReminders(ctx, tn)
	default:
		return s.handleSetReminder(ctx, tn, lower)
	}
}

func (s *RuleStrategy) handleSnooze(ctx context.Context, tn *turn, req Request, lower string) string {
	id, ok := extractTaskID(lower)
	if !ok {
		id, ok = lastMentionedTaskID(req.History)
	}
	if !ok {
		return "Which reminder should I snooze? Tell me the task ID."
	}
	minutes, found := ParseSpanMinutes(lower)
	if !found {
		minutes = 10
	}
	res := tn.invoke(ctx, "snooze_reminder", map[string]interface{}{
		"task_id": id,
		"minutes": minutes,
	})
	if !res.OK() {
		return friendlyFailure(res)
	}
	return res.Message + "."
}

func (s *RuleStrategy) reminderOp(ctx context.Context, tn *turn, lower string, tool string, askWhich string) string {
	id, ok := extractTaskID(lower)
	if !ok {
		return askWhich
	}
	res := tn.invoke(ctx, tool, map[string]interface{}{"task_id": id})
	if !res.OK() {
		return friendlyFailure(res)
	}
	return res.Message + "."
}

func (s *RuleStrategy) handleListReminders(ctx context.Context, tn *turn) string {
	res := tn.invoke(ctx, "list_reminders", map[string]interface{}{})
	if !res.OK() {
		return friendlyFailure(res)
	}
	items, _ := res.Data["reminders"].([]interface{})
	if len(items) == 0 {
		return "You have no reminders set."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You have %d reminder(s):\n", len(items))
	for _, item := range items {
		snap, _ := item.(map[string]interface{})
		trigger := snapInt(snap, "snooze_until")
		if trigger == 0 {
			trigger = snapInt(snap, "reminder_time")
		}
		fmt.Fprintf(&b, "- %s (ID: %d) at %s\n", snapString(snap, "title"), snapInt(snap, "id"), formatUnix(trigger))
	}
	return strings.TrimRight(b.String(), "\n")
}

// handleSetReminder arms a reminder on an existing task, or creates
// the task first when the user names new work instead of an id.
func (s *RuleStrategy) handleSetReminder(ctx context.Context, tn *turn, lower string) string {
	when, rest, found := extractWhen(lower, s.nowFn())
	if !found {
		when = time.Date(s.nowFn().Year(), s.nowFn().Month(), s.nowFn().Day()+1, defaultReminderHour, 0, 0, 0, time.UTC).Unix()
		rest = lower
	}

	// Only an explicit "task N" or "#N" counts here; a bare number is
	// usually part of the time phrase.
	if id, ok := extractExplicitTaskID(lower); ok {
		res := tn.invoke(ctx, "set_reminder", map[string]interface{}{
			"task_id":   id,
			"remind_at": when,
		})
		if !res.OK() {
			return friendlyFailure(res)
		}
		return res.Message + " at " + formatUnix(when) + "."
	}

	title := rest
	for _, prefix := range []string{"remind me to ", "remind me about ", "set a reminder to ", "set a reminder for ", "set reminder to "} {
		if idx := strings.Index(title, prefix); idx >= 0 {
			title = title[idx+len(prefix):]
			break
		}
	}
	title = strings.Trim(strings.TrimSpace(title), `"'.`)
	if title == "" || mentionsReminder(title) {
		return "What should I remind you about, and when? For example: remind me to call mom in 2 hours."
	}

	created := tn.invoke(ctx, "add_task", map[string]interface{}{"title": title})
	if !created.OK() {
		return friendlyFailure(created)
	}
	snap, _ := created.Data["task"].(map[string]interface{})
	taskID := snapInt(snap, "id")
	res := tn.invoke(ctx, "set_reminder", map[string]interface{}{
		"task_id":   taskID,
		"remind_at": when,
	})
	if !res.OK() {
		return friendlyFailure(res)
	}
	return fmt.Sprintf("I'll remind you to %s at %s (ID: %d).", title, formatUnix(when), taskID)
}

func (s *RuleStrategy) helpText() string {
	return strings.Join([]string{
		"I can manage your tasks and reminders. Try:",
		"- add a task to buy groceries",
		"- show my pending tasks",
		"- complete task 3",
		"- delete task 3",
		"- update task 3 priority to high",
		"- remind me to call mom in 2 hours",
		"- snooze task 3 for 15 minutes",
	}, "\n")
}

// urduCanned maps the strategy's fixed English replies to Urdu for
// callers that set the "ur" language preference. Tool-derived replies
// carry user content and pass through untranslated; example commands
// stay in English because the matchers only understand English.
var urduCanned = map[string]string{
	"I can manage your tasks and reminders. Try:":                                                   "میں آپ کے ٹاسک اور یاد دہانیاں سنبھال سکتا ہوں۔ آزمائیں:",
	"What should the task be called? For example: add a task to buy groceries.":                     "ٹاسک کا نام کیا رکھوں؟ مثال کے طور پر: add a task to buy groceries",
	"Which task did you finish? Tell me its ID, for example: complete task 3.":                      "آپ نے کون سا ٹاسک مکمل کیا؟ اس کی ID بتائیں، مثلاً: complete task 3",
	"Which task should I delete? Give me its ID, for example: delete task 3.":                       "کون سا ٹاسک حذف کروں؟ اس کی ID دیں، مثلاً: delete task 3",
	"Which task should I update? Tell me its ID, for example: update task 3 priority to high.":      "کون سا ٹاسک تبدیل کروں؟ اس کی ID بتائیں، مثلاً: update task 3 priority to high",
	"What should I change? I can update the title, priority, due date or category.":                 "کیا تبدیل کروں؟ میں عنوان، ترجیح، آخری تاریخ یا زمرہ بدل سکتا ہوں۔",
	"Which reminder should I snooze? Tell me the task ID.":                                          "کون سی یاد دہانی مؤخر کروں؟ ٹاسک کی ID بتائیں۔",
	"Which reminder should I dismiss? Tell me the task ID.":                                         "کون سی یاد دہانی بند کروں؟ ٹاسک کی ID بتائیں۔",
	"Which reminder should I cancel? Tell me the task ID.":                                          "کون سی یاد دہانی منسوخ کروں؟ ٹاسک کی ID بتائیں۔",
	"You have no reminders set.":                                                                    "آپ کی کوئی یاد دہانی مقرر نہیں ہے۔",
	"You have no tasks yet. Try: add a task to buy groceries.":                                      "ابھی آپ کا کوئی ٹاسک نہیں ہے۔ آزمائیں: add a task to buy groceries",
	"You have no pending tasks. Nice work!":                                                         "آپ کا کوئی زیر التوا ٹاسک نہیں ہے۔ شاباش!",
	"You have no completed tasks.":                                                                  "آپ کا کوئی مکمل شدہ ٹاسک نہیں ہے۔",
	"What should I remind you about, and when? For example: remind me to call mom in 2 hours.":      "کس بات کی اور کب یاد دہانی کراؤں؟ مثلاً: remind me to call mom in 2 hours",
	"I couldn't find that task. Try: show my tasks.":                                                "مجھے وہ ٹاسک نہیں ملا۔ آزمائیں: show my tasks",
	"Sorry, something went wrong handling that. Please try again.":                                  "معذرت، اس درخواست میں کچھ گڑبڑ ہو گئی۔ دوبارہ کوشش کریں۔",
}

// localize translates a canned reply when the caller asked for Urdu.
// Multi-line replies are translated line by line so the help text's
// English example commands survive.
func localize(lang, text string) string {
	if lang != LangUrdu {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if ur, ok := urduCanned[line]; ok {
			lines[i] = ur
		}
	}
	return strings.Join(lines, "\n")
}

// extractTaskID pulls an explicit task id out of the text. "task 5"
// and "#5" are accepted; a single bare number is accepted only when it
// is the only number present.
func extractTaskID(lower string) (int64, bool) {
	if id, ok := extractExplicitTaskID(lower); ok {
		return id, true
	}
	nums := bareNumberRe.FindAllStringSubmatch(lower, 2)
	if len(nums) == 1 {
		id, err := strconv.ParseInt(nums[0][1], 10, 64)
		return id, err == nil && id > 0
	}
	return 0, false
}

func extractExplicitTaskID(lower string) (int64, bool) {
	m := taskIDRe.FindStringSubmatch(lower)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	return id, err == nil && id > 0
}

// lastMentionedTaskID resolves "it"-style follow-ups from history by
// finding the most recent assistant reply that named a task id.
func lastMentionedTaskID(history []conversation.Message) (int64, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != conversation.RoleAssistant {
			continue
		}
		matches := createdIDRe.FindAllStringSubmatch(history[i].Content, -1)
		if len(matches) == 1 {
			id, err := strconv.ParseInt(matches[0][1], 10, 64)
			if err == nil && id > 0 {
				return id, true
			}
		}
		if len(matches) > 1 {
			// An ambiguous reply (e.g. a task listing) is not a safe
			// referent.
			return 0, false
		}
	}
	return 0, false
}

func extractPriority(lower string) (string, string) {
	switch {
	case matchesAny(lower, "high priority", "urgent", "important", "priority high", "priority to high"):
		return task.PriorityHigh, stripPhrases(lower, "with high priority", "high priority", "urgent", "important")
	case matchesAny(lower, "low priority", "priority low", "priority to low"):
		return task.PriorityLow, stripPhrases(lower, "with low priority", "low priority")
	case matchesAny(lower, "medium priority", "priority medium", "priority to medium", "normal priority"):
		return task.PriorityMedium, stripPhrases(lower, "with medium priority", "medium priority", "normal priority")
	}
	return "", lower
}

func stripPhrases(text string, phrases ...string) string {
	for _, p := range phrases {
		text = strings.ReplaceAll(text, p, "")
	}
	return strings.TrimSpace(text)
}

// extractWhen parses a trailing time phrase and returns the instant
// plus the text with the phrase removed.
func extractWhen(lower string, now time.Time) (int64, string, bool) {
	when, ok := ParseWhen(lower, now)
	if !ok {
		return 0, lower, false
	}
	rest := lower
	if loc := timePhraseRe.FindStringIndex(lower); loc != nil {
		rest = strings.TrimSpace(lower[:loc[0]])
	}
	return when, rest, true
}

func formatTaskLine(snap map[string]interface{}) string {
	mark := " "
	if b, ok := snap["completed"].(bool); ok && b {
		mark = "x"
	}
	line := fmt.Sprintf("- [%s] %s (ID: %d, %s priority", mark, snapString(snap, "title"), snapInt(snap, "id"), snapString(snap, "priority"))
	if due := snapInt(snap, "due_date"); due > 0 {
		line += ", due " + formatUnix(due)
	}
	return line + ")"
}

func formatUnix(ts int64) string {
	if ts <= 0 {
		return "unscheduled"
	}
	return time.Unix(ts, 0).UTC().Format("Mon Jan 2 15:04")
}

func friendlyFailure(res tools.Result) string {
	switch res.Code {
	case tools.CodeNotFound, tools.CodeForbidden:
		return "I couldn't find that task. Try: show my tasks."
	case tools.CodeNoOp:
		return upperFirst(res.Message) + "."
	case tools.CodeInvalidArguments:
		return "I couldn't use that request: " + strings.TrimPrefix(res.Message, "invalid arguments: ") + "."
	default:
		return "Sorry, something went wrong handling that. Please try again."
	}
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func snapString(snap map[string]interface{}, key string) string {
	v, _ := snap[key].(string)
	return v
}

func snapInt(snap map[string]interface{}, key string) int64 {
	switch v := snap[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
