package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/scylladb/go-set/strset"
	"github.com/shopspring/decimal"
)

// ListConversationsRequest contains parameters for listing conversations.
type ListConversationsRequest struct {
	// BookmarkedOnly restricts the listing to bookmarked conversations.
	BookmarkedOnly bool
	Page           int
	PageSize       int
}

// ListConversationsResponse contains the result of a list operation.
type ListConversationsResponse struct {
	Conversations []*Conversation
	TotalCount    int
	PageCount     int
}

// ListConversations returns conversations ordered by update time, newest
// first, with their derived aggregates (message count, distinct model list,
// total tokens, total cost) populated.
func (s *Store) ListConversations(ctx context.Context, req *ListConversationsRequest) (*ListConversationsResponse, error) {
	if req.PageSize == 0 {
		req.PageSize = 500 // Default.
	}
	if req.Page == 0 {
		req.Page = 1
	}

	whereClause := ""
	if req.BookmarkedOnly {
		whereClause = " WHERE bookmarked = 1"
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM conversations"+whereClause).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting conversations: %w", err)
	}
	pageCount := (total + req.PageSize - 1) / req.PageSize
	offset := (req.Page - 1) * req.PageSize

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, title, bookmarked, shared, creation_timestamp, update_timestamp
		FROM conversations`+whereClause+`
		ORDER BY update_timestamp DESC
		LIMIT ? OFFSET ?`), req.PageSize, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	index := map[string]*Conversation{}
	for rows.Next() {
		conversation := &Conversation{}
		var bookmarked, shared int
		if err := rows.Scan(&conversation.ID, &conversation.Title, &bookmarked, &shared,
			&conversation.CreationTimestamp, &conversation.UpdateTimestamp); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		conversation.Bookmarked = bookmarked != 0
		conversation.Shared = shared != 0
		conversation.TotalCost = decimal.Zero
		conversations = append(conversations, conversation)
		index[conversation.ID] = conversation
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}

	if err := s.aggregateMessages(ctx, index); err != nil {
		return nil, err
	}

	return &ListConversationsResponse{
		Conversations: conversations,
		TotalCount:    total,
		PageCount:     pageCount,
	}, nil
}

// aggregateMessages folds message counts, distinct models, token totals and
// costs into the given conversations. Cost math runs in Go because prices are
// stored as decimal strings.
func (s *Store) aggregateMessages(ctx context.Context, conversations map[string]*Conversation) error {
	if len(conversations) == 0 {
		return nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, model,
			input_tokens, output_tokens, input_cached_tokens, input_audio_tokens,
			output_reasoning_tokens, output_audio_tokens,
			input_token_price, output_token_price, input_cached_token_price, input_audio_token_price,
			output_reasoning_token_price, output_audio_token_price
		FROM messages`,
	)
	if err != nil {
		return fmt.Errorf("querying message aggregates: %w", err)
	}
	defer rows.Close()

	modelSets := map[string]*strset.Set{}
	for rows.Next() {
		var conversationID string
		var model sql.NullString
		var tokens [6]sql.NullInt64
		var prices [6]sql.NullString
		if err := rows.Scan(&conversationID, &model,
			&tokens[0], &tokens[1], &tokens[2], &tokens[3], &tokens[4], &tokens[5],
			&prices[0], &prices[1], &prices[2], &prices[3], &prices[4], &prices[5],
		); err != nil {
			return fmt.Errorf("scanning message aggregate row: %w", err)
		}

		conversation, ok := conversations[conversationID]
		if !ok {
			continue
		}
		conversation.MessageCount++
		conversation.TotalTokens += tokens[0].Int64 + tokens[1].Int64

		for i := range tokens {
			price, err := parseDecimal(prices[i])
			if err != nil {
				return err
			}
			conversation.TotalCost = conversation.TotalCost.Add(
				price.Mul(decimal.NewFromInt(tokens[i].Int64)))
		}

		if model.Valid && model.String != "" {
			set, ok := modelSets[conversationID]
			if !ok {
				set = strset.New()
				modelSets[conversationID] = set
			}
			set.Add(model.String)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating message aggregate rows: %w", err)
	}

	for id, set := range modelSets {
		models := set.List()
		sort.Strings(models)
		conversations[id].Models = models
	}
	return nil
}
