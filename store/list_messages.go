package store

import (
	"context"
	"fmt"
	"time"
)

// ListMessages returns the full ordered history of a conversation.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC`), conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListMessagesForModel returns the ordered history restricted to messages
// with no model (system/user) or with the matching model. This is the view
// each model sees in a multi-model fan-out: only its own prior turns.
func (s *Store) ListMessagesForModel(ctx context.Context, conversationID, model string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND (model IS NULL OR model = ?)
		ORDER BY seq ASC`), conversationID, model,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages for model: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListMessagesSince returns every message created at or after the given time,
// across all conversations. Used for spend accounting.
func (s *Store) ListMessagesSince(ctx context.Context, since time.Time) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE creation_timestamp >= ?
		ORDER BY creation_timestamp ASC`), since.UnixMicro(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages since: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListRecentUserMessages returns the newest user messages created at or after
// the given time, newest first.
func (s *Store) ListRecentUserMessages(ctx context.Context, since time.Time, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE role = ? AND creation_timestamp >= ?
		ORDER BY creation_timestamp DESC
		LIMIT ?`), RoleUser, since.UnixMicro(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent user messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}
