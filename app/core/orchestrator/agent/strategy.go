package agent

import (
	"context"

	"taskpilot/app/core/orchestrator/conversation"
	"taskpilot/app/core/orchestrator/tools"
)

// LangUrdu is the one language preference the rule strategy can honor
// with its own canned replies; the model strategy accepts any code.
const LangUrdu = "ur"

// Request is one user turn plus the persisted history of its
// conversation. Strategies get no other state; everything they need to
// behave deterministically is in the request or the stores behind the
// tool registry.
type Request struct {
	UserID   string
	Message  string
	Language string
	History  []conversation.Message
}

// ToolCall records one strategy-chosen tool invocation together with
// its typed result. Calls live for one turn and are never persisted.
type ToolCall struct {
	Tool   string                 `json:"tool"`
	Args   map[string]interface{} `json:"args,omitempty"`
	Result tools.Result           `json:"result"`
}

// Reply is a strategy's output for one turn: the assistant text plus
// every tool call made while producing it, in invocation order.
type Reply struct {
	Text      string
	ToolCalls []ToolCall
}

// Strategy turns a user turn into an assistant reply, invoking tools
// through the registry as needed. Implementations must be safe for
// concurrent use.
type Strategy interface {
	Name() string
	Reply(ctx context.Context, req Request) (Reply, error)
}

// turn accumulates the tool calls made while producing one reply.
type turn struct {
	reg    *tools.Registry
	userID string
	calls  []ToolCall
}

func (t *turn) invoke(ctx context.Context, tool string, args map[string]interface{}) tools.Result {
	res := t.reg.Invoke(ctx, tool, t.userID, args)
	t.calls = append(t.calls, ToolCall{Tool: tool, Args: args, Result: res})
	return res
}
