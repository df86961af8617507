package chat

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"unicode/utf8"

	"taskpilot/app/core/orchestrator/agent"
	"taskpilot/app/core/orchestrator/conversation"
	"taskpilot/app/pkg/logger"
)

// Sentinel errors for edge validation. Transports translate these into
// their own status codes.
var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message is too long")
	ErrNotFound       = errors.New("conversation not found")
	ErrUnauthorized   = errors.New("conversation belongs to another user")
)

// unavailableReply is persisted as the assistant turn when the
// strategy fails, so the transcript stays complete even across
// outages.
const unavailableReply = "Sorry, I'm having trouble understanding requests right now. Please try again in a moment."

// Response is one completed chat turn, including the tool calls the
// strategy made while producing the reply. Tool calls are reported to
// the caller but never persisted.
type Response struct {
	ConversationID int64            `json:"conversation_id"`
	Reply          string           `json:"reply"`
	ToolCalls      []agent.ToolCall `json:"tool_calls,omitempty"`
}

// Service is the stateless chat orchestrator: every turn is rebuilt
// from persisted conversation state, so any instance over the same
// database produces the same behavior. It holds no per-conversation
// memory.
type Service struct {
	conversations *conversation.Store
	strategy      agent.Strategy
}

func NewService(conversations *conversation.Store, strategy agent.Strategy) *Service {
	return &Service{conversations: conversations, strategy: strategy}
}

// Process handles one user turn. A zero conversation id starts a new
// conversation; an existing one must belong to the caller. The
// language preference is advisory and forwarded to the strategy.
// Strategy failures degrade to an apology reply rather than an error,
// and both sides of the turn are persisted.
func (s *Service) Process(ctx context.Context, userID string, conversationID int64, message string, language string) (Response, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Response{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(message) > conversation.MaxMessageRunes {
		return Response{}, ErrMessageTooLong
	}

	conv, err := s.resolveConversation(ctx, userID, conversationID)
	if err != nil {
		return Response{}, err
	}

	// History is read before the new turn is appended; the strategy
	// sees prior turns plus the fresh message in the request itself.
	history, err := s.conversations.History(ctx, conv.ID)
	if err != nil {
		return Response{}, err
	}
	if _, err := s.conversations.AppendMessage(ctx, conv.ID, userID, conversation.RoleUser, message); err != nil {
		return Response{}, err
	}

	out, err := s.strategy.Reply(ctx, agent.Request{
		UserID:   userID,
		Message:  message,
		Language: strings.ToLower(strings.TrimSpace(language)),
		History:  history,
	})
	if err != nil {
		logger.Error("[Chat] Strategy %s failed user=%s conv=%d: %v", s.strategy.Name(), userID, conv.ID, err)
		out = agent.Reply{Text: unavailableReply}
	}

	if _, err := s.conversations.AppendMessage(ctx, conv.ID, userID, conversation.RoleAssistant, out.Text); err != nil {
		return Response{}, err
	}
	return Response{ConversationID: conv.ID, Reply: out.Text, ToolCalls: out.ToolCalls}, nil
}

func (s *Service) resolveConversation(ctx context.Context, userID string, conversationID int64) (conversation.Conversation, error) {
	if conversationID <= 0 {
		return s.conversations.CreateConversation(ctx, userID)
	}
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return conversation.Conversation{}, ErrNotFound
	}
	if err != nil {
		return conversation.Conversation{}, err
	}
	if conv.UserID != userID {
		return conversation.Conversation{}, ErrUnauthorized
	}
	return conv, nil
}
