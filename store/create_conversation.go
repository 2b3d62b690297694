package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateConversation inserts a new conversation row and returns it. The title
// may be empty; title generation resolves it after the first turn.
func (s *Store) CreateConversation(ctx context.Context, title string) (*Conversation, error) {
	now := time.Now().UnixMicro()
	conversation := &Conversation{
		ID:                uuid.New().String(),
		CreationTimestamp: now,
		UpdateTimestamp:   now,
	}
	if title != "" {
		conversation.Title = &title
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO conversations (id, title, bookmarked, shared, creation_timestamp, update_timestamp)
		VALUES (?, ?, 0, 0, ?, ?)`),
		conversation.ID, conversation.Title, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}
	return conversation, nil
}

// GetConversation returns a single conversation row without aggregates.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	conversation := &Conversation{}
	var bookmarked, shared int
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, title, bookmarked, shared, creation_timestamp, update_timestamp
		FROM conversations
		WHERE id = ?`), conversationID,
	).Scan(&conversation.ID, &conversation.Title, &bookmarked, &shared,
		&conversation.CreationTimestamp, &conversation.UpdateTimestamp)
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	conversation.Bookmarked = bookmarked != 0
	conversation.Shared = shared != 0
	return conversation, nil
}
