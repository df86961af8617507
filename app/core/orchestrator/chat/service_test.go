package chat

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"taskpilot/app/core/broadcast"
	"taskpilot/app/core/orchestrator/agent"
	"taskpilot/app/core/orchestrator/conversation"
	"taskpilot/app/core/orchestrator/db"
	"taskpilot/app/core/orchestrator/task"
	"taskpilot/app/core/orchestrator/tools"
	"taskpilot/app/core/reminder"
)

type failingStrategy struct{}

func (failingStrategy) Name() string { return "failing" }
func (failingStrategy) Reply(context.Context, agent.Request) (agent.Reply, error) {
	return agent.Reply{}, errors.New("model is down")
}

func newChatHarness(t *testing.T) (*db.DB, *conversation.Store, agent.Strategy) {
	t.Helper()
	database, err := db.NewSQLiteDB(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("init sqlite failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	tasks := task.NewStore(database)
	caster := broadcast.NewBroadcaster()
	engine := reminder.NewEngine(tasks, caster)
	reg := tools.NewRegistry()
	if err := tools.NewHandlers(tasks, engine, caster).RegisterAll(reg); err != nil {
		t.Fatalf("register tools failed: %v", err)
	}
	return database, conversation.NewStore(database), agent.NewRuleStrategy(reg)
}

func TestProcessStartsAndContinuesConversation(t *testing.T) {
	_, convStore, strategy := newChatHarness(t)
	service := NewService(convStore, strategy)
	ctx := context.Background()

	resp, err := service.Process(ctx, "u-1", 0, "add a task to buy milk", "")
	if err != nil {
		t.Fatalf("first turn failed: %v", err)
	}
	if resp.ConversationID <= 0 {
		t.Fatalf("expected a new conversation id")
	}
	if !strings.Contains(resp.Reply, "buy milk") {
		t.Fatalf("unexpected reply: %q", resp.Reply)
	}

	resp2, err := service.Process(ctx, "u-1", resp.ConversationID, "show my tasks", "")
	if err != nil {
		t.Fatalf("second turn failed: %v", err)
	}
	if resp2.ConversationID != resp.ConversationID {
		t.Fatalf("conversation id changed between turns")
	}

	history, err := convStore.History(ctx, resp.ConversationID)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 persisted messages, got %d", len(history))
	}
	if history[0].Role != conversation.RoleUser || history[1].Role != conversation.RoleAssistant {
		t.Fatalf("unexpected history roles: %+v", history)
	}
}

// Two service instances over the same database must behave as one:
// the orchestrator keeps no in-memory conversation state.
func TestProcessIsStatelessAcrossInstances(t *testing.T) {
	_, convStore, strategy := newChatHarness(t)
	first := NewService(convStore, strategy)
	second := NewService(convStore, strategy)
	ctx := context.Background()

	resp, err := first.Process(ctx, "u-1", 0, "add a task to review the budget", "")
	if err != nil {
		t.Fatalf("create turn failed: %v", err)
	}

	followUp, err := second.Process(ctx, "u-1", resp.ConversationID, "make it high priority", "")
	if err != nil {
		t.Fatalf("follow-up on second instance failed: %v", err)
	}
	if !strings.Contains(followUp.Reply, "Updated") {
		t.Fatalf("follow-up must resolve the task created via the first instance, got %q", followUp.Reply)
	}
}

func TestProcessEdgeValidation(t *testing.T) {
	_, convStore, strategy := newChatHarness(t)
	service := NewService(convStore, strategy)
	ctx := context.Background()

	if _, err := service.Process(ctx, "u-1", 0, "   ", ""); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := service.Process(ctx, "u-1", 0, strings.Repeat("x", conversation.MaxMessageRunes+1), ""); !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("expected ErrMessageTooLong, got %v", err)
	}
	if _, err := service.Process(ctx, "u-1", 999, "hello", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProcessRejectsForeignConversation(t *testing.T) {
	_, convStore, strategy := newChatHarness(t)
	service := NewService(convStore, strategy)
	ctx := context.Background()

	resp, err := service.Process(ctx, "owner", 0, "show my tasks", "")
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if _, err := service.Process(ctx, "intruder", resp.ConversationID, "show my tasks", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestProcessSurfacesToolCalls(t *testing.T) {
	_, convStore, strategy := newChatHarness(t)
	service := NewService(convStore, strategy)
	ctx := context.Background()

	resp, err := service.Process(ctx, "u-1", 0, "add a task to buy milk", "")
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected one tool call in the response, got %+v", resp.ToolCalls)
	}
	call := resp.ToolCalls[0]
	if call.Tool != "add_task" || !call.Result.OK() {
		t.Fatalf("unexpected tool call record: %+v", call)
	}
	if call.Args["title"] != "buy milk" {
		t.Fatalf("unexpected tool args: %+v", call.Args)
	}

	// A turn that only clarifies makes no tool calls.
	resp, err = service.Process(ctx, "u-1", resp.ConversationID, "how is the weather", "")
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if len(resp.ToolCalls) != 0 {
		t.Fatalf("help fallback must not invoke tools, got %+v", resp.ToolCalls)
	}
}

func TestProcessForwardsLanguagePreference(t *testing.T) {
	_, convStore, strategy := newChatHarness(t)
	service := NewService(convStore, strategy)
	ctx := context.Background()

	resp, err := service.Process(ctx, "u-1", 0, "how is the weather", "UR")
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if !strings.Contains(resp.Reply, "یاد دہانیاں") {
		t.Fatalf("expected an Urdu help reply, got %q", resp.Reply)
	}
}

func TestProcessDegradesWhenStrategyFails(t *testing.T) {
	_, convStore, _ := newChatHarness(t)
	service := NewService(convStore, failingStrategy{})
	ctx := context.Background()

	resp, err := service.Process(ctx, "u-1", 0, "add a task to buy milk", "")
	if err != nil {
		t.Fatalf("turn must not error on strategy failure: %v", err)
	}
	if resp.Reply != unavailableReply {
		t.Fatalf("expected apology reply, got %q", resp.Reply)
	}

	// Both sides of the turn are persisted even during an outage.
	history, err := convStore.History(ctx, resp.ConversationID)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 2 || history[1].Content != unavailableReply {
		t.Fatalf("apology must be persisted: %+v", history)
	}
}
