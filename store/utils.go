package store

import (
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
)

func boolToInt(val bool) int {
	if val {
		return 1
	}
	return 0
}

// nullString maps "" to NULL so optional columns stay queryable with IS NULL.
func nullString(val string) any {
	if val == "" {
		return nil
	}
	return val
}

// nullInt maps 0 to NULL for token counts the provider did not report.
func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

// nullDecimal maps zero to NULL for prices that were never populated.
func nullDecimal(val decimal.Decimal) any {
	if val.IsZero() {
		return nil
	}
	return val.String()
}

func parseDecimal(val sql.NullString) (decimal.Decimal, error) {
	if !val.Valid || val.String == "" {
		return decimal.Zero, nil
	}
	parsed, err := decimal.NewFromString(val.String)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing decimal %q: %w", val.String, err)
	}
	return parsed, nil
}

type scanner interface {
	Scan(...any) error
}

func scanMessage(row scanner) (*Message, error) {
	message := &Message{}
	var model, errorText, rawOutput sql.NullString
	var inputTokens, outputTokens, inputCachedTokens, inputAudioTokens, outputReasoningTokens, outputAudioTokens sql.NullInt64
	var inputPrice, outputPrice, inputCachedPrice, inputAudioPrice, outputReasoningPrice, outputAudioPrice sql.NullString

	if err := row.Scan(
		&message.ID, &message.ConversationID, &message.Seq, &message.Role, &message.Content,
		&model, &message.ColumnPosition, &rawOutput, &errorText,
		&inputTokens, &outputTokens, &inputCachedTokens, &inputAudioTokens,
		&outputReasoningTokens, &outputAudioTokens,
		&inputPrice, &outputPrice, &inputCachedPrice, &inputAudioPrice,
		&outputReasoningPrice, &outputAudioPrice,
		&message.CreationTimestamp,
	); err != nil {
		return nil, fmt.Errorf("scanning message row: %w", err)
	}

	message.Model = model.String
	message.Error = errorText.String
	if rawOutput.Valid {
		message.RawOutput = []byte(rawOutput.String)
	}
	message.InputTokens = inputTokens.Int64
	message.OutputTokens = outputTokens.Int64
	message.InputCachedTokens = inputCachedTokens.Int64
	message.InputAudioTokens = inputAudioTokens.Int64
	message.OutputReasoningTokens = outputReasoningTokens.Int64
	message.OutputAudioTokens = outputAudioTokens.Int64

	var err error
	if message.InputTokenPrice, err = parseDecimal(inputPrice); err != nil {
		return nil, err
	}
	if message.OutputTokenPrice, err = parseDecimal(outputPrice); err != nil {
		return nil, err
	}
	if message.InputCachedTokenPrice, err = parseDecimal(inputCachedPrice); err != nil {
		return nil, err
	}
	if message.InputAudioTokenPrice, err = parseDecimal(inputAudioPrice); err != nil {
		return nil, err
	}
	if message.OutputReasoningTokenPrice, err = parseDecimal(outputReasoningPrice); err != nil {
		return nil, err
	}
	if message.OutputAudioTokenPrice, err = parseDecimal(outputAudioPrice); err != nil {
		return nil, err
	}
	return message, nil
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var messages []*Message
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

const messageColumns = `id, conversation_id, seq, role, content,
	model, column_position, raw_output, error,
	input_tokens, output_tokens, input_cached_tokens, input_audio_tokens,
	output_reasoning_tokens, output_audio_tokens,
	input_token_price, output_token_price, input_cached_token_price, input_audio_token_price,
	output_reasoning_token_price, output_audio_token_price,
	creation_timestamp`

func scanMicrotask(row scanner) (*Microtask, error) {
	task := &Microtask{}
	var model, conversationID, inputData, outputData, errorCode, errorMessage sql.NullString
	var temperature sql.NullFloat64
	var inputTokens, outputTokens, inputCachedTokens, outputReasoningTokens sql.NullInt64
	var inputPrice, outputPrice sql.NullString
	var started, completed sql.NullInt64

	if err := row.Scan(
		&task.ID, &task.TaskType, &task.Status, &model, &temperature, &conversationID,
		&inputData, &outputData, &task.RetryCount, &errorCode, &errorMessage,
		&inputTokens, &outputTokens, &inputCachedTokens, &outputReasoningTokens,
		&inputPrice, &outputPrice,
		&task.CreationTimestamp, &task.UpdateTimestamp, &started, &completed,
	); err != nil {
		return nil, fmt.Errorf("scanning microtask row: %w", err)
	}

	task.Model = model.String
	task.Temperature = temperature.Float64
	task.ConversationID = conversationID.String
	if inputData.Valid {
		task.InputData = []byte(inputData.String)
	}
	if outputData.Valid {
		task.OutputData = []byte(outputData.String)
	}
	task.ErrorCode = errorCode.String
	task.ErrorMessage = errorMessage.String
	task.InputTokens = inputTokens.Int64
	task.OutputTokens = outputTokens.Int64
	task.InputCachedTokens = inputCachedTokens.Int64
	task.OutputReasoningTokens = outputReasoningTokens.Int64
	task.StartedTimestamp = started.Int64
	task.CompletedTimestamp = completed.Int64

	var err error
	if task.InputTokenPrice, err = parseDecimal(inputPrice); err != nil {
		return nil, err
	}
	if task.OutputTokenPrice, err = parseDecimal(outputPrice); err != nil {
		return nil, err
	}
	return task, nil
}

const microtaskColumns = `id, task_type, status, model, temperature, conversation_id,
	input_data, output_data, retry_count, error_code, error_message,
	input_tokens, output_tokens, input_cached_tokens, output_reasoning_tokens,
	input_token_price, output_token_price,
	creation_timestamp, update_timestamp, started_timestamp, completed_timestamp`
