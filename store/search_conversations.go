package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SearchConversationsRequest contains parameters for searching conversations.
type SearchConversationsRequest struct {
	Query    string
	PageSize int
}

// SearchConversations returns conversations whose title or message content
// matches the query, newest first. The sqlite backend uses FTS5, falling back
// to a LIKE scan when the query cannot be matched; postgres uses ILIKE.
func (s *Store) SearchConversations(ctx context.Context, req *SearchConversationsRequest) ([]*Conversation, error) {
	if req.Query == "" {
		return []*Conversation{}, nil
	}
	if req.PageSize == 0 {
		req.PageSize = 50
	}

	if s.driver == "sqlite" {
		conversations, err := s.searchFTS(ctx, req)
		if err == nil {
			return conversations, nil
		}
		return s.searchLike(ctx, req, "LIKE")
	}
	return s.searchLike(ctx, req, "ILIKE")
}

func (s *Store) searchFTS(ctx context.Context, req *SearchConversationsRequest) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.bookmarked, c.shared, c.creation_timestamp, c.update_timestamp
		FROM conversations c
		WHERE c.id IN (SELECT DISTINCT id FROM conversations_fts WHERE searchable_content MATCH ?)
			OR c.title LIKE '%' || ? || '%'
		ORDER BY c.update_timestamp DESC
		LIMIT ?`, ftsPhrase(req.Query), req.Query, req.PageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("querying search results: %w", err)
	}
	defer rows.Close()
	return scanSearchRows(rows)
}

func (s *Store) searchLike(ctx context.Context, req *SearchConversationsRequest, operator string) ([]*Conversation, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT c.id, c.title, c.bookmarked, c.shared, c.creation_timestamp, c.update_timestamp
		FROM conversations c
		LEFT JOIN messages m ON m.conversation_id = c.id
		WHERE c.title %s '%%' || ? || '%%' OR m.content %s '%%' || ? || '%%'
		ORDER BY c.update_timestamp DESC
		LIMIT ?`, operator, operator)
	rows, err := s.db.QueryContext(ctx, s.rebind(query), req.Query, req.Query, req.PageSize)
	if err != nil {
		return nil, fmt.Errorf("querying search results: %w", err)
	}
	defer rows.Close()
	return scanSearchRows(rows)
}

func scanSearchRows(rows *sql.Rows) ([]*Conversation, error) {
	var conversations []*Conversation
	for rows.Next() {
		conversation := &Conversation{}
		var bookmarked, shared int
		if err := rows.Scan(&conversation.ID, &conversation.Title, &bookmarked, &shared,
			&conversation.CreationTimestamp, &conversation.UpdateTimestamp); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		conversation.Bookmarked = bookmarked != 0
		conversation.Shared = shared != 0
		conversations = append(conversations, conversation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search rows: %w", err)
	}
	return conversations, nil
}

// ftsPhrase wraps raw user input as a quoted FTS5 phrase so query operators
// and unbalanced quotes cannot produce a syntax error.
func ftsPhrase(query string) string {
	return `"` + strings.ReplaceAll(query, `"`, `""`) + `"`
}
