// Package thread sequences a multi-model conversation turn: it persists the
// incoming user message, fans out one completion request per selected model,
// and reports each model's outcome through a caller-supplied callback.
package thread

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/mimirhq/mimir/openrouter"
	"github.com/mimirhq/mimir/store"
)

// CompletionClient is the slice of the OpenRouter client the orchestrator
// needs.
type CompletionClient interface {
	Complete(ctx context.Context, messages []openrouter.Message, model string, opts *openrouter.Options) (*openrouter.Response, error)
	GetPricing(modelID string) openrouter.Pricing
}

// Result is one per-model outcome of a turn. On failure Content carries the
// rendered error text and the diagnostic side channels are populated.
type Result struct {
	Model   string
	Content string
	Err     error
	// RequestBody and RawErrorResponse are set on failure when the
	// underlying error exposes them.
	RequestBody      json.RawMessage
	RawErrorResponse string
}

// Error codes recorded to the conversation error log.
const (
	codeModelExecutionError = "MODEL_EXECUTION_ERROR"
	codeExecutionError      = "EXECUTION_ERROR"
)

// Executor runs conversation turns against a set of models, one model at a
// time.
type Executor struct {
	store  *store.Store
	client CompletionClient
	titles *TitleGenerator
	logger *slog.Logger
}

// NewExecutor instantiates and returns a new executor. The title generator
// may be nil, in which case first-turn title generation is skipped.
func NewExecutor(st *store.Store, client CompletionClient, titles *TitleGenerator, logger *slog.Logger) *Executor {
	return &Executor{
		store:  st,
		client: client,
		titles: titles,
		logger: logger,
	}
}

// Run executes one turn. The system prompt is persisted on the conversation's
// first turn only, then the user message, then each model is queried in order
// with its own history view. onResult is invoked once per model, success or
// failure, before the successful response is persisted. A single model's
// failure never aborts the remaining models; errors during turn setup are
// logged with a generic code and returned.
func (e *Executor) Run(ctx context.Context, conversationID, userMessage string, models []string, systemPrompt string, opts *openrouter.Options, onResult func(Result)) error {
	existing, err := e.store.ListMessages(ctx, conversationID)
	if err != nil {
		return e.setupError(ctx, conversationID, errors.Wrap(err, "fetching conversation history"))
	}
	isFirstMessage := len(existing) == 0

	if isFirstMessage && systemPrompt != "" {
		_, err = e.store.AppendMessage(ctx, &store.AppendMessageRequest{
			ConversationID: conversationID,
			Role:           store.RoleSystem,
			Content:        systemPrompt,
		})
		if err != nil {
			return e.setupError(ctx, conversationID, errors.Wrap(err, "persisting system message"))
		}
	}

	_, err = e.store.AppendMessage(ctx, &store.AppendMessageRequest{
		ConversationID: conversationID,
		Role:           store.RoleUser,
		Content:        userMessage,
	})
	if err != nil {
		return e.setupError(ctx, conversationID, errors.Wrap(err, "persisting user message"))
	}

	for i, model := range models {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.runModel(ctx, conversationID, model, i, systemPrompt, isFirstMessage, opts, onResult)
	}

	if isFirstMessage && e.titles != nil {
		e.titles.Generate(ctx, conversationID, userMessage)
	}
	return nil
}

// runModel queries one model and reports the outcome. Failures are contained:
// they are logged to the conversation error log and surfaced as an error
// Result, never returned.
func (e *Executor) runModel(ctx context.Context, conversationID, model string, position int, systemPrompt string, isFirstMessage bool, opts *openrouter.Options, onResult func(Result)) {
	history, err := e.store.ListMessagesForModel(ctx, conversationID, model)
	if err == nil {
		var response *openrouter.Response
		messages := buildModelMessages(history, model, systemPrompt, isFirstMessage)
		response, err = e.client.Complete(ctx, messages, model, opts)
		if err == nil {
			content := response.Content()
			onResult(Result{Model: model, Content: content})

			raw, marshalErr := json.Marshal(response)
			if marshalErr != nil {
				raw = nil
			}
			_, err = e.store.AppendMessage(ctx, &store.AppendMessageRequest{
				ConversationID: conversationID,
				Role:           store.RoleAssistant,
				Content:        content,
				Model:          model,
				ColumnPosition: position,
				Usage:          response.Usage,
				RawResponse:    raw,
			})
			if err == nil {
				return
			}
		}
	}

	message := classifyModelError(model, err)
	e.logger.Error("model execution failed", "model", model, "error", err)
	if logErr := e.store.LogError(ctx, &store.LogErrorRequest{
		ConversationID: conversationID,
		Model:          model,
		ErrorCode:      codeModelExecutionError,
		ErrorMessage:   message,
		RaisedBy:       fmt.Sprintf("thread.Executor.Run.%s", model),
	}); logErr != nil {
		e.logger.Error("recording model error failed", "model", model, "error", logErr)
	}

	result := Result{
		Model:   model,
		Content: "Error: " + message,
		Err:     err,
	}
	apiErr := &openrouter.APIError{}
	if errors.As(err, &apiErr) {
		result.RequestBody = apiErr.RequestBody
		result.RawErrorResponse = apiErr.RawResponse
	}
	onResult(result)
}

// buildModelMessages converts the stored history into the wire form one model
// should see. Models that reject the system role get system content folded
// into the first user message instead.
func buildModelMessages(history []*store.Message, model, systemPrompt string, isFirstMessage bool) []openrouter.Message {
	capabilities := CapabilitiesFor(model)

	if capabilities.SupportsSystemRole {
		var messages []openrouter.Message
		if len(history) == 0 || history[0].Role != store.RoleSystem {
			messages = append(messages, openrouter.Message{Role: openrouter.RoleSystem, Content: systemPrompt})
		}
		for _, message := range history {
			messages = append(messages, openrouter.Message{Role: message.Role, Content: message.Content})
		}
		return messages
	}

	var messages []openrouter.Message
	for _, message := range history {
		if message.Role == store.RoleSystem {
			continue
		}
		messages = append(messages, openrouter.Message{Role: message.Role, Content: message.Content})
	}
	if isFirstMessage && len(messages) > 0 {
		last := len(messages) - 1
		if messages[last].Role == openrouter.RoleUser {
			messages[last].Content = fmt.Sprintf("Context: %s\n\nUser: %s", systemPrompt, messages[last].Content)
		}
	}
	return messages
}

// classifyModelError rewrites provider failures that indicate a capability
// mismatch into actionable text. Other errors keep their message as-is.
func classifyModelError(model string, err error) string {
	if err == nil {
		return "Unknown error"
	}
	message := err.Error()
	switch {
	case strings.Contains(message, "Developer instruction is not enabled"):
		return fmt.Sprintf("Model %s doesn't support system prompts. Try using a different model or simplify your system prompt.", model)
	case strings.Contains(message, "INVALID_ARGUMENT"):
		return fmt.Sprintf("Model %s rejected the request format. This model may have specific requirements.", model)
	}
	return message
}

// setupError records a turn-level failure and returns it.
func (e *Executor) setupError(ctx context.Context, conversationID string, err error) error {
	e.logger.Error("turn setup failed", "conversation_id", conversationID, "error", err)
	if logErr := e.store.LogError(ctx, &store.LogErrorRequest{
		ConversationID: conversationID,
		ErrorCode:      codeExecutionError,
		ErrorMessage:   err.Error(),
		RaisedBy:       "thread.Executor.Run",
	}); logErr != nil {
		e.logger.Error("recording setup error failed", "conversation_id", conversationID, "error", logErr)
	}
	return err
}
