package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/tidwall/gjson"

	"taskpilot/app/core/orchestrator/conversation"
	"taskpilot/app/core/orchestrator/tools"
	"taskpilot/app/pkg/logger"
)

// maxToolRounds bounds the tool-call loop for one user turn.
const maxToolRounds = 5

// ModelStrategy delegates intent understanding to a chat model with
// the registry's tools exposed as function tools. The model decides
// which tool to call; the registry still validates every call, so a
// hallucinated tool or argument surfaces as a failed result the model
// can read and recover from.
type ModelStrategy struct {
	client  openai.Client
	model   string
	reg     *tools.Registry
	timeout time.Duration
}

func NewModelStrategy(apiKey string, model string, reg *tools.Registry, timeout time.Duration) *ModelStrategy {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ModelStrategy{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		reg:     reg,
		timeout: timeout,
	}
}

func (s *ModelStrategy) Name() string { return "model" }

func (s *ModelStrategy) Reply(ctx context.Context, req Request) (Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(s.model),
		Messages: s.buildMessages(req),
		Tools:    s.buildTools(),
	}

	var calls []ToolCall
	for round := 0; round < maxToolRounds; round++ {
		completion, err := s.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return Reply{}, fmt.Errorf("model request failed: %w", err)
		}
		if len(completion.Choices) == 0 {
			return Reply{}, fmt.Errorf("model returned no choices")
		}
		msg := completion.Choices[0].Message

		if len(msg.ToolCalls) == 0 {
			if msg.Content == "" {
				return Reply{}, fmt.Errorf("model returned an empty reply")
			}
			return Reply{Text: msg.Content, ToolCalls: calls}, nil
		}

		params.Messages = append(params.Messages, msg.ToParam())
		for _, call := range msg.ToolCalls {
			payload, record := s.invokeCall(ctx, req.UserID, call.Function.Name, call.Function.Arguments)
			calls = append(calls, record)
			params.Messages = append(params.Messages, openai.ToolMessage(payload, call.ID))
		}
	}
	return Reply{}, fmt.Errorf("model exceeded %d tool rounds", maxToolRounds)
}

func (s *ModelStrategy) buildMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	messages = append(messages, openai.SystemMessage(systemPrompt(time.Now().UTC(), req.Language)))
	for _, m := range req.History {
		switch m.Role {
		case conversation.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	return append(messages, openai.UserMessage(req.Message))
}

func (s *ModelStrategy) buildTools() []openai.ChatCompletionToolUnionParam {
	defs := s.reg.Definitions()
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(defs))
	for _, def := range defs {
		out = append(out, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        def.Name,
			Description: openai.String(def.Description),
			Parameters:  shared.FunctionParameters(def.ParametersSchema()),
		}))
	}
	return out
}

// invokeCall runs one model-chosen tool call through the registry and
// folds the result into a tool message payload plus the turn record.
// Arguments that are not a JSON object become an invalid-arguments
// result via an empty map, which the registry's required-field checks
// report.
func (s *ModelStrategy) invokeCall(ctx context.Context, userID string, name string, rawArgs string) (string, ToolCall) {
	args := map[string]interface{}{}
	if parsed := gjson.Parse(rawArgs); parsed.IsObject() {
		if m, ok := parsed.Value().(map[string]interface{}); ok {
			args = m
		}
	}
	res := s.reg.Invoke(ctx, name, userID, args)
	if !res.OK() {
		logger.Info("[Agent] Model tool call failed tool=%s code=%s", res.Tool, res.Code)
	}
	record := ToolCall{Tool: name, Args: args, Result: res}
	payload, err := json.Marshal(res)
	if err != nil {
		return `{"status":"failed","code":"internal"}`, record
	}
	return string(payload), record
}

// languageNames covers the preference codes the original chat surface
// accepted; unknown codes are passed through as-is.
var languageNames = map[string]string{
	"en": "English",
	"ur": "Urdu",
}

func systemPrompt(now time.Time, lang string) string {
	prompt := fmt.Sprintf(`You are a task management assistant. You manage the user's todo
tasks and reminders through the provided tools, and you never invent
task ids: list tasks first when you are unsure. For delete_task,
always confirm you have an explicit task id from the user or a prior
tool result. Timestamps are unix seconds in UTC; the current time is
%d (%s). Keep replies short and conversational, and mention a task's
id as "(ID: N)" when you create one.`,
		now.Unix(), now.Format(time.RFC3339))
	if lang != "" && lang != "en" {
		name := languageNames[lang]
		if name == "" {
			name = lang
		}
		prompt += fmt.Sprintf("\nThe user prefers replies in %s; always answer in that language.", name)
	}
	return prompt
}
