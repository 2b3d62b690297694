package store

import (
	"context"
	"fmt"
)

// DeleteConversation removes a conversation and everything attached to it.
// Only the UI layer calls this; the orchestrator never deletes.
func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM messages WHERE conversation_id = ?`), conversationID); err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM conversation_errors WHERE conversation_id = ?`), conversationID); err != nil {
		return fmt.Errorf("deleting error log entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM microtasks WHERE conversation_id = ?`), conversationID); err != nil {
		return fmt.Errorf("deleting microtasks: %w", err)
	}
	if s.driver == "sqlite" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM conversations_fts WHERE id = ?`, conversationID); err != nil {
			return fmt.Errorf("deleting search index entries: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM conversations WHERE id = ?`), conversationID); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}

	return tx.Commit()
}
