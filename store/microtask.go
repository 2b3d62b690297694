package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mimirhq/mimir/openrouter"
)

// CreateMicrotaskRequest represents a request to create a microtask row.
type CreateMicrotaskRequest struct {
	TaskType       string
	Model          string
	Temperature    float64
	ConversationID string
	InputData      json.RawMessage
	// Unit prices captured at creation time, so cost accounting survives
	// later catalog changes.
	InputTokenPrice  decimal.Decimal
	OutputTokenPrice decimal.Decimal
}

// CreateMicrotask inserts a pending microtask row.
func (s *Store) CreateMicrotask(ctx context.Context, req *CreateMicrotaskRequest) (*Microtask, error) {
	now := time.Now().UnixMicro()
	task := &Microtask{
		ID:                uuid.New().String(),
		TaskType:          req.TaskType,
		Status:            StatusPending,
		Model:             req.Model,
		Temperature:       req.Temperature,
		ConversationID:    req.ConversationID,
		InputData:         req.InputData,
		InputTokenPrice:   req.InputTokenPrice,
		OutputTokenPrice:  req.OutputTokenPrice,
		CreationTimestamp: now,
		UpdateTimestamp:   now,
	}

	var inputData any
	if len(task.InputData) > 0 {
		inputData = string(task.InputData)
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO microtasks (
			id, task_type, status, model, temperature, conversation_id,
			input_data, retry_count, input_token_price, output_token_price,
			creation_timestamp, update_timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`),
		task.ID, task.TaskType, task.Status, nullString(task.Model), task.Temperature,
		nullString(task.ConversationID), inputData,
		nullDecimal(task.InputTokenPrice), nullDecimal(task.OutputTokenPrice),
		now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting microtask: %w", err)
	}
	return task, nil
}

// StartMicrotask transitions a task to running and stamps its start time.
func (s *Store) StartMicrotask(ctx context.Context, taskID string) error {
	now := time.Now().UnixMicro()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE microtasks SET status = ?, started_timestamp = ?, update_timestamp = ?
		WHERE id = ?`),
		StatusRunning, now, now, taskID,
	)
	if err != nil {
		return fmt.Errorf("starting microtask: %w", err)
	}
	return nil
}

// CompleteMicrotask transitions a task to done, recording its output payload
// and reported token usage.
func (s *Store) CompleteMicrotask(ctx context.Context, taskID string, outputData json.RawMessage, usage *openrouter.Usage) error {
	now := time.Now().UnixMicro()

	var inputTokens, outputTokens, cachedTokens, reasoningTokens any
	if usage != nil {
		inputTokens = nullInt(int64(usage.PromptTokens))
		outputTokens = nullInt(int64(usage.CompletionTokens))
		if usage.PromptTokensDetails != nil {
			cachedTokens = nullInt(int64(usage.PromptTokensDetails.CachedTokens))
		}
		if usage.CompletionTokensDetails != nil {
			reasoningTokens = nullInt(int64(usage.CompletionTokensDetails.ReasoningTokens))
		}
	}

	var output any
	if len(outputData) > 0 {
		output = string(outputData)
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE microtasks SET
			status = ?, output_data = ?,
			input_tokens = ?, output_tokens = ?, input_cached_tokens = ?, output_reasoning_tokens = ?,
			completed_timestamp = ?, update_timestamp = ?
		WHERE id = ?`),
		StatusDone, output, inputTokens, outputTokens, cachedTokens, reasoningTokens,
		now, now, taskID,
	)
	if err != nil {
		return fmt.Errorf("completing microtask: %w", err)
	}
	return nil
}

// FailMicrotask transitions a task to failed with an error code and message.
func (s *Store) FailMicrotask(ctx context.Context, taskID, errorCode, errorMessage string) error {
	now := time.Now().UnixMicro()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE microtasks SET status = ?, error_code = ?, error_message = ?,
			completed_timestamp = ?, update_timestamp = ?
		WHERE id = ?`),
		StatusFailed, nullString(errorCode), nullString(errorMessage), now, now, taskID,
	)
	if err != nil {
		return fmt.Errorf("failing microtask: %w", err)
	}
	return nil
}

// LatestMicrotask returns the newest task of the given type and status, or
// nil if none exists.
func (s *Store) LatestMicrotask(ctx context.Context, taskType, status string) (*Microtask, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+microtaskColumns+`
		FROM microtasks
		WHERE task_type = ? AND status = ?
		ORDER BY creation_timestamp DESC
		LIMIT 1`), taskType, status,
	)
	task, err := scanMicrotask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// HasRecentMicrotask reports whether any task of the given type was created
// at or after the given time, regardless of outcome. A recent failure also
// suppresses re-generation until the window expires.
func (s *Store) HasRecentMicrotask(ctx context.Context, taskType string, since time.Time) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*) FROM microtasks
		WHERE task_type = ? AND creation_timestamp >= ?`),
		taskType, since.UnixMicro(),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("counting recent microtasks: %w", err)
	}
	return count > 0, nil
}

// ListMicrotasks returns the microtasks attached to a conversation, newest
// first. Used by the observability dialog.
func (s *Store) ListMicrotasks(ctx context.Context, conversationID string) ([]*Microtask, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+microtaskColumns+`
		FROM microtasks
		WHERE conversation_id = ?
		ORDER BY creation_timestamp DESC`), conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying microtasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Microtask
	for rows.Next() {
		task, err := scanMicrotask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating microtask rows: %w", err)
	}
	return tasks, nil
}

// CountConversations returns the number of conversations in the store.
func (s *Store) CountConversations(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting conversations: %w", err)
	}
	return count, nil
}
