package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taskpilot/app/core/orchestrator/db"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MaxMessageRunes caps stored message content. The edge sanitizer is
// expected to reject longer input before it reaches this store.
const MaxMessageRunes = 2000

type Conversation struct {
	ID        int64  `json:"id"`
	UserID    string `json:"user_id"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Message is immutable once written. History order is created_at
// ascending with id as the tie-break.
type Message struct {
	ID             int64  `json:"id"`
	ConversationID int64  `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	CreatedAt      int64  `json:"created_at"`
}

type Store struct {
	db *db.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

func (s *Store) CreateConversation(ctx context.Context, userID string) (Conversation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Conversation{}, fmt.Errorf("user_id is required")
	}
	now := time.Now().UTC().Unix()
	res, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO conversations (user_id, created_at, updated_at) VALUES (?, ?, ?)`,
		userID, now, now)
	if err != nil {
		return Conversation{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Conversation{}, err
	}
	return Conversation{ID: id, UserID: userID, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) GetConversation(ctx context.Context, conversationID int64) (Conversation, error) {
	var c Conversation
	err := s.db.Conn().QueryRowContext(ctx,
		`SELECT id, user_id, created_at, updated_at FROM conversations WHERE id = ?`,
		conversationID).Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Conversation{}, err
	}
	return c, nil
}

// AppendMessage stores one message and bumps the conversation's
// updated_at in the same transaction.
func (s *Store) AppendMessage(ctx context.Context, conversationID int64, userID string, role string, content string) (Message, error) {
	if conversationID <= 0 {
		return Message{}, fmt.Errorf("conversation_id is required")
	}
	if role != RoleUser && role != RoleAssistant {
		return Message{}, fmt.Errorf("invalid message role: %s", role)
	}
	now := time.Now().UTC().Unix()

	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return Message{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, user_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		conversationID, userID, role, content, now)
	if err != nil {
		return Message{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID); err != nil {
		return Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return Message{}, err
	}
	return Message{
		ID:             id,
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	}, nil
}

// History returns the conversation's messages in chronological order.
func (s *Store) History(ctx context.Context, conversationID int64) ([]Message, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
SELECT id, conversation_id, user_id, role, content, created_at
FROM messages WHERE conversation_id = ?
ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Message, 0, 32)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}
