// Package microtask hosts the best-effort background generation services:
// the personalized app greeting and audio transcription. Every operation is
// tracked as a microtask row and fails without surfacing errors to the user.
package microtask

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mimirhq/mimir/openrouter"
	"github.com/mimirhq/mimir/store"
)

const (
	greetingModel       = "anthropic/claude-3-haiku"
	greetingTemperature = 0.7
	greetingMaxTokens   = 300

	// A greeting attempt, successful or not, suppresses re-generation for
	// this long.
	greetingCooldown = 4 * time.Hour

	// Minimum conversation count before greetings personalize at all.
	greetingMinConversations = 5

	greetingSnippetLimit  = 10
	greetingSnippetLength = 200
	greetingLookbackLimit = 20
)

// lookback windows tried in order until one yields user messages.
var greetingLookbacks = []struct {
	window time.Duration
	label  string
}{
	{4 * time.Hour, "4 hours"},
	{8 * time.Hour, "8 hours"},
	{24 * time.Hour, "24 hours"},
}

// Greeting is the generated greeting payload shown on the new-chat view.
type Greeting struct {
	Greeting string   `json:"greeting"`
	Prompts  []string `json:"prompts"`
}

// FallbackGreeting is shown whenever no generated greeting is available.
func FallbackGreeting() *Greeting {
	return &Greeting{
		Greeting: "Hello there!",
		Prompts: []string{
			"What would you like to explore today?",
			"Ask me anything you're curious about.",
			"Compare how different models answer the same question.",
		},
	}
}

// CompletionClient is the slice of the OpenRouter client the greeting
// service needs.
type CompletionClient interface {
	Complete(ctx context.Context, messages []openrouter.Message, model string, opts *openrouter.Options) (*openrouter.Response, error)
	GetPricing(modelID string) openrouter.Pricing
	APIKeySet() bool
}

// GreetingService generates a personalized greeting from recent chat
// activity.
type GreetingService struct {
	store  *store.Store
	client CompletionClient
	logger *slog.Logger
}

// NewGreetingService instantiates and returns a new greeting service.
func NewGreetingService(st *store.Store, client CompletionClient, logger *slog.Logger) *GreetingService {
	return &GreetingService{
		store:  st,
		client: client,
		logger: logger,
	}
}

// Refresh generates a new greeting when the gates allow it: enough
// conversations exist, an API key is configured, and no greeting attempt was
// made within the cooldown window. All failures are swallowed after marking
// the microtask failed.
func (g *GreetingService) Refresh(ctx context.Context) {
	if !g.client.APIKeySet() {
		return
	}
	count, err := g.store.CountConversations(ctx)
	if err != nil {
		g.logger.Error("counting conversations failed", "error", err)
		return
	}
	if count < greetingMinConversations {
		return
	}
	recent, err := g.store.HasRecentMicrotask(ctx, store.TaskAppGreeting, time.Now().Add(-greetingCooldown))
	if err != nil {
		g.logger.Error("checking recent greeting failed", "error", err)
		return
	}
	if recent {
		return
	}

	settings, err := g.store.GetSettings(ctx)
	if err != nil {
		g.logger.Error("loading settings failed", "error", err)
		return
	}
	userName := settings.UserName
	if userName == "" {
		userName = "there"
	}

	var snippets []string
	var timeRange string
	for _, lookback := range greetingLookbacks {
		messages, err := g.store.ListRecentUserMessages(ctx, time.Now().Add(-lookback.window), greetingLookbackLimit)
		if err != nil {
			g.logger.Error("listing recent user messages failed", "error", err)
			return
		}
		if len(messages) > 0 {
			for _, message := range messages {
				snippets = append(snippets, message.Content)
			}
			timeRange = lookback.label
			break
		}
	}

	input, _ := json.Marshal(map[string]any{
		"user_name":       userName,
		"recent_messages": snippets,
		"time_range":      timeRange,
		"chat_count":      count,
	})
	pricing := g.client.GetPricing(greetingModel)
	task, err := g.store.CreateMicrotask(ctx, &store.CreateMicrotaskRequest{
		TaskType:         store.TaskAppGreeting,
		Model:            greetingModel,
		Temperature:      greetingTemperature,
		InputData:        input,
		InputTokenPrice:  pricing.Input,
		OutputTokenPrice: pricing.Output,
	})
	if err != nil {
		g.logger.Error("creating greeting microtask failed", "error", err)
		return
	}

	g.execute(ctx, task.ID, userName, snippets, timeRange, count)
}

func (g *GreetingService) execute(ctx context.Context, taskID, userName string, snippets []string, timeRange string, chatCount int) {
	if err := g.store.StartMicrotask(ctx, taskID); err != nil {
		g.logger.Error("starting greeting microtask failed", "task_id", taskID, "error", err)
	}

	response, err := g.client.Complete(ctx,
		[]openrouter.Message{{Role: openrouter.RoleUser, Content: greetingPrompt(userName, snippets, timeRange, chatCount)}},
		greetingModel,
		&openrouter.Options{Temperature: greetingTemperature, MaxTokens: greetingMaxTokens},
	)
	if err != nil {
		g.fail(ctx, taskID, err)
		return
	}

	greeting, err := parseGreeting(response.Content())
	if err != nil {
		g.fail(ctx, taskID, err)
		return
	}

	output, _ := json.Marshal(greeting)
	if err := g.store.CompleteMicrotask(ctx, taskID, output, response.Usage); err != nil {
		g.logger.Error("completing greeting microtask failed", "task_id", taskID, "error", err)
	}
}

// Latest returns the newest generated greeting, or the static fallback when
// none exists or the stored payload is unreadable.
func (g *GreetingService) Latest(ctx context.Context) *Greeting {
	task, err := g.store.LatestMicrotask(ctx, store.TaskAppGreeting, store.StatusDone)
	if err != nil {
		g.logger.Error("loading latest greeting failed", "error", err)
		return FallbackGreeting()
	}
	if task == nil || len(task.OutputData) == 0 {
		return FallbackGreeting()
	}
	greeting := &Greeting{}
	if err := json.Unmarshal(task.OutputData, greeting); err != nil || greeting.Greeting == "" {
		return FallbackGreeting()
	}
	return greeting
}

func (g *GreetingService) fail(ctx context.Context, taskID string, cause error) {
	g.logger.Error("greeting generation failed", "task_id", taskID, "error", cause)
	if err := g.store.FailMicrotask(ctx, taskID, "EXECUTION_ERROR", cause.Error()); err != nil {
		g.logger.Error("failing greeting microtask failed", "task_id", taskID, "error", err)
	}
}

func greetingPrompt(userName string, snippets []string, timeRange string, chatCount int) string {
	if len(snippets) > greetingSnippetLimit {
		snippets = snippets[:greetingSnippetLimit]
	}
	var lines []string
	for i, snippet := range snippets {
		if runes := []rune(snippet); len(runes) > greetingSnippetLength {
			snippet = string(runes[:greetingSnippetLength])
		}
		lines = append(lines, fmt.Sprintf("%d. %s...", i+1, snippet))
	}

	return fmt.Sprintf(`You are a helpful UI copy assistant. Only respond with valid JSON in the exact format specified.

User Name: %s
Chat Count: %d
Recent Messages Time Range: %s

Recent conversation snippets from the user:
%s

Generate a personalized greeting and conversation starters based on the user's chat history. Look for patterns, topics of interest, and potential follow-up questions.

Respond with JSON in this exact format:
{
  "greeting": "3-4 word greeting with name included, try to include a pun or keyword from recent chats",
  "prompts": [
    "First conversation starter based on chat history",
    "Second conversation starter based on interests",
    "Third conversation starter suggesting something new"
  ]
}

Requirements:
- Greeting must be 3-4 words and include the user's name
- Each prompt must be exactly one sentence
- Base suggestions on actual chat patterns and topics
- Make prompts actionable and engaging`,
		userName, chatCount, timeRange, strings.Join(lines, "\n"))
}

// parseGreeting validates the strict response shape: a non-empty greeting and
// exactly three prompts.
func parseGreeting(raw string) (*Greeting, error) {
	greeting := &Greeting{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), greeting); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}
	if greeting.Greeting == "" || len(greeting.Prompts) != 3 {
		return nil, fmt.Errorf("invalid response structure")
	}
	return greeting, nil
}
