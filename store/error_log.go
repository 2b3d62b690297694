package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LogErrorRequest represents one entry for the conversation error log.
type LogErrorRequest struct {
	ConversationID string
	Model          string
	ErrorCode      string
	ErrorMessage   string
	RaisedBy       string
}

// LogError records a failure keyed by conversation and model.
func (s *Store) LogError(ctx context.Context, req *LogErrorRequest) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO conversation_errors (id, conversation_id, model, error_code, error_message, raised_by, creation_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		uuid.New().String(), nullString(req.ConversationID), nullString(req.Model),
		nullString(req.ErrorCode), nullString(req.ErrorMessage), nullString(req.RaisedBy),
		time.Now().UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("inserting error log entry: %w", err)
	}
	return nil
}

// ListErrors returns the error log of a conversation, newest first.
func (s *Store) ListErrors(ctx context.Context, conversationID string) ([]*ErrorEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, conversation_id, model, error_code, error_message, raised_by, creation_timestamp
		FROM conversation_errors
		WHERE conversation_id = ?
		ORDER BY creation_timestamp DESC`), conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying error log: %w", err)
	}
	defer rows.Close()

	var entries []*ErrorEntry
	for rows.Next() {
		entry := &ErrorEntry{}
		var conversationID, model, code, message, raisedBy sql.NullString
		if err := rows.Scan(&entry.ID, &conversationID, &model, &code, &message, &raisedBy, &entry.CreationTimestamp); err != nil {
			return nil, fmt.Errorf("scanning error log row: %w", err)
		}
		entry.ConversationID = conversationID.String
		entry.Model = model.String
		entry.ErrorCode = code.String
		entry.ErrorMessage = message.String
		entry.RaisedBy = raisedBy.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating error log rows: %w", err)
	}
	return entries, nil
}
