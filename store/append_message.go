package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mimirhq/mimir/openrouter"
)

// AppendMessageRequest represents a request to append one message to a
// conversation.
type AppendMessageRequest struct {
	ConversationID string
	Role           string
	Content        string
	// Model must be set on assistant messages and empty otherwise.
	Model          string
	ColumnPosition int
	// Usage triggers token/price population when Model is also set.
	Usage *openrouter.Usage
	// RawResponse is the raw provider payload, kept for diagnostics.
	RawResponse json.RawMessage
	// Error marks a failed model slot.
	Error string
}

// AppendMessage inserts one message row. When both usage and model are
// present, every token bucket the usage payload reports is priced: cached
// input tokens at the cached multiplier of the base input price, reasoning
// output tokens at the reasoning multiplier of the base output price, audio
// tokens at the base prices.
func (s *Store) AppendMessage(ctx context.Context, req *AppendMessageRequest) (*Message, error) {
	switch req.Role {
	case RoleSystem, RoleUser:
		if req.Model != "" {
			return nil, fmt.Errorf("%s message cannot carry a model", req.Role)
		}
	case RoleAssistant:
		if req.Model == "" {
			return nil, fmt.Errorf("assistant message requires a model")
		}
	default:
		return nil, fmt.Errorf("unknown role %q", req.Role)
	}

	now := time.Now().UnixMicro()
	message := &Message{
		ID:                uuid.New().String(),
		ConversationID:    req.ConversationID,
		Role:              req.Role,
		Content:           req.Content,
		Model:             req.Model,
		ColumnPosition:    req.ColumnPosition,
		RawOutput:         req.RawResponse,
		Error:             req.Error,
		CreationTimestamp: now,
	}

	if req.Usage != nil && req.Model != "" && s.pricer != nil {
		pricing := s.pricer.GetPricing(req.Model)
		message.InputTokens = int64(req.Usage.PromptTokens)
		message.OutputTokens = int64(req.Usage.CompletionTokens)
		message.InputTokenPrice = pricing.Input
		message.OutputTokenPrice = pricing.Output

		if details := req.Usage.PromptTokensDetails; details != nil {
			if details.CachedTokens > 0 {
				message.InputCachedTokens = int64(details.CachedTokens)
				message.InputCachedTokenPrice = pricing.Input.Mul(s.cachedInputMultiplier)
			}
			if details.AudioTokens > 0 {
				message.InputAudioTokens = int64(details.AudioTokens)
				message.InputAudioTokenPrice = pricing.Input
			}
		}
		if details := req.Usage.CompletionTokensDetails; details != nil {
			if details.ReasoningTokens > 0 {
				message.OutputReasoningTokens = int64(details.ReasoningTokens)
				message.OutputReasoningTokenPrice = pricing.Output.Mul(s.reasoningOutputMultiplier)
			}
			if details.AudioTokens > 0 {
				message.OutputAudioTokens = int64(details.AudioTokens)
				message.OutputAudioTokenPrice = pricing.Output
			}
		}
	}

	var rawOutput any
	if len(message.RawOutput) > 0 {
		rawOutput = string(message.RawOutput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// seq is assigned per conversation so ordering never depends on clock
	// resolution.
	err = tx.QueryRowContext(ctx, s.rebind(`
		SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?`),
		req.ConversationID,
	).Scan(&message.Seq)
	if err != nil {
		return nil, fmt.Errorf("assigning message seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO messages (
			id, conversation_id, seq, role, content,
			model, column_position, raw_output, error,
			input_tokens, output_tokens, input_cached_tokens, input_audio_tokens,
			output_reasoning_tokens, output_audio_tokens,
			input_token_price, output_token_price, input_cached_token_price, input_audio_token_price,
			output_reasoning_token_price, output_audio_token_price,
			creation_timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		message.ID, message.ConversationID, message.Seq, message.Role, message.Content,
		nullString(message.Model), message.ColumnPosition, rawOutput, nullString(message.Error),
		nullInt(message.InputTokens), nullInt(message.OutputTokens),
		nullInt(message.InputCachedTokens), nullInt(message.InputAudioTokens),
		nullInt(message.OutputReasoningTokens), nullInt(message.OutputAudioTokens),
		nullDecimal(message.InputTokenPrice), nullDecimal(message.OutputTokenPrice),
		nullDecimal(message.InputCachedTokenPrice), nullDecimal(message.InputAudioTokenPrice),
		nullDecimal(message.OutputReasoningTokenPrice), nullDecimal(message.OutputAudioTokenPrice),
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		UPDATE conversations SET update_timestamp = ? WHERE id = ?`),
		now, req.ConversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("bumping conversation timestamp: %w", err)
	}

	if s.driver == "sqlite" && req.Content != "" {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO conversations_fts (id, searchable_content) VALUES (?, ?)`,
			req.ConversationID, req.Content,
		)
		if err != nil {
			return nil, fmt.Errorf("indexing message content: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return message, nil
}
