package thread

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mimirhq/mimir/openrouter"
	"github.com/mimirhq/mimir/store"
)

const (
	defaultTitleModel = "anthropic/claude-3-haiku"
	titleTemperature  = 0.3
	titleMaxTokens    = 50
	titleMaxLength    = 120
	fallbackTitle     = "Untitled Chat"
)

const titlePromptFormat = `Based on this user message, generate a concise, descriptive title (max 50 characters):

User: %s

Title:`

// TitleGenerator derives a conversation title from its first user message.
// Generation is best effort: every failure path marks the microtask failed
// and leaves the conversation untitled, nothing propagates to the turn.
type TitleGenerator struct {
	store  *store.Store
	client CompletionClient
	model  string
	logger *slog.Logger
}

// NewTitleGenerator instantiates and returns a new title generator. An empty
// model selects the default.
func NewTitleGenerator(st *store.Store, client CompletionClient, model string, logger *slog.Logger) *TitleGenerator {
	if model == "" {
		model = defaultTitleModel
	}
	return &TitleGenerator{
		store:  st,
		client: client,
		model:  model,
		logger: logger,
	}
}

// Generate runs one title generation pass for a conversation, tracked as a
// generate_title microtask.
func (g *TitleGenerator) Generate(ctx context.Context, conversationID, userMessage string) {
	pricing := g.client.GetPricing(g.model)
	input, _ := json.Marshal(map[string]string{"user_message": userMessage})

	task, err := g.store.CreateMicrotask(ctx, &store.CreateMicrotaskRequest{
		TaskType:         store.TaskGenerateTitle,
		Model:            g.model,
		Temperature:      titleTemperature,
		ConversationID:   conversationID,
		InputData:        input,
		InputTokenPrice:  pricing.Input,
		OutputTokenPrice: pricing.Output,
	})
	if err != nil {
		g.logger.Error("creating title microtask failed", "conversation_id", conversationID, "error", err)
		return
	}
	if err := g.store.StartMicrotask(ctx, task.ID); err != nil {
		g.logger.Error("starting title microtask failed", "task_id", task.ID, "error", err)
	}

	prompt := fmt.Sprintf(titlePromptFormat, userMessage)
	response, err := g.client.Complete(ctx,
		[]openrouter.Message{{Role: openrouter.RoleUser, Content: prompt}},
		g.model,
		&openrouter.Options{Temperature: titleTemperature, MaxTokens: titleMaxTokens},
	)
	if err != nil {
		g.fail(ctx, task.ID, err)
		return
	}

	title := strings.TrimSpace(response.Content())
	if title == "" {
		title = fallbackTitle
	}
	if runes := []rune(title); len(runes) > titleMaxLength {
		title = string(runes[:titleMaxLength])
	}

	err = g.store.UpdateConversation(ctx, &store.UpdateConversationRequest{
		Conversation: &store.Conversation{ID: conversationID, Title: &title},
		UpdateMask:   []string{"title"},
	})
	if err != nil {
		g.fail(ctx, task.ID, err)
		return
	}

	output, _ := json.Marshal(map[string]string{"title": title})
	if err := g.store.CompleteMicrotask(ctx, task.ID, output, response.Usage); err != nil {
		g.logger.Error("completing title microtask failed", "task_id", task.ID, "error", err)
	}
}

func (g *TitleGenerator) fail(ctx context.Context, taskID string, cause error) {
	g.logger.Error("title generation failed", "task_id", taskID, "error", cause)
	if err := g.store.FailMicrotask(ctx, taskID, "TITLE_GENERATION_ERROR", cause.Error()); err != nil {
		g.logger.Error("failing title microtask failed", "task_id", taskID, "error", err)
	}
}
