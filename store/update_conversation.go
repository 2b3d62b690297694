package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// UpdateConversationRequest represents a request to update a conversation
// with specific fields.
type UpdateConversationRequest struct {
	Conversation *Conversation
	UpdateMask   []string
}

// UpdateConversation applies the masked fields. Title updates are
// last-write-wins: a rename racing with title generation is not revalidated.
func (s *Store) UpdateConversation(ctx context.Context, req *UpdateConversationRequest) error {
	if req.Conversation == nil {
		return fmt.Errorf("conversation cannot be nil")
	}

	shouldUpdate := func(field string) bool {
		for _, f := range req.UpdateMask {
			if f == field {
				return true
			}
		}
		return false
	}

	var setClauses []string
	var args []any

	if shouldUpdate("title") {
		setClauses = append(setClauses, "title = ?")
		args = append(args, req.Conversation.Title)
	}
	if shouldUpdate("bookmarked") {
		setClauses = append(setClauses, "bookmarked = ?")
		args = append(args, boolToInt(req.Conversation.Bookmarked))
	}
	if shouldUpdate("shared") {
		setClauses = append(setClauses, "shared = ?")
		args = append(args, boolToInt(req.Conversation.Shared))
	}
	if len(setClauses) == 0 {
		return nil
	}

	setClauses = append(setClauses, "update_timestamp = ?")
	args = append(args, time.Now().UnixMicro())
	args = append(args, req.Conversation.ID)

	query := fmt.Sprintf("UPDATE conversations SET %s WHERE id = ?", strings.Join(setClauses, ", "))
	result, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("conversation %s does not exist", req.Conversation.ID)
	}

	if s.driver == "sqlite" && shouldUpdate("title") && req.Conversation.Title != nil {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO conversations_fts (id, searchable_content) VALUES (?, ?)`,
			req.Conversation.ID, *req.Conversation.Title,
		)
		if err != nil {
			return fmt.Errorf("indexing title: %w", err)
		}
	}
	return nil
}
