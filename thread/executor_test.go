package thread

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimirhq/mimir/openrouter"
	"github.com/mimirhq/mimir/store"
)

type completionCall struct {
	model    string
	messages []openrouter.Message
	opts     *openrouter.Options
}

type fakeClient struct {
	mu      sync.Mutex
	calls   []completionCall
	respond func(model string, messages []openrouter.Message) (*openrouter.Response, error)
}

func (c *fakeClient) Complete(ctx context.Context, messages []openrouter.Message, model string, opts *openrouter.Options) (*openrouter.Response, error) {
	c.mu.Lock()
	c.calls = append(c.calls, completionCall{model: model, messages: messages, opts: opts})
	c.mu.Unlock()
	return c.respond(model, messages)
}

func (c *fakeClient) GetPricing(modelID string) openrouter.Pricing {
	return openrouter.Pricing{
		Input:  decimal.RequireFromString("0.000002"),
		Output: decimal.RequireFromString("0.000004"),
	}
}

func textResponse(content string) *openrouter.Response {
	return &openrouter.Response{
		Choices: []openrouter.Choice{{Message: openrouter.ResponseMessage{Role: openrouter.RoleAssistant, Content: content}}},
		Usage:   &openrouter.Usage{PromptTokens: 10, CompletionTokens: 5},
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(&store.Options{DSN: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunPersistsTurnInOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conversation, err := s.CreateConversation(ctx, "")
	require.NoError(t, err)

	client := &fakeClient{respond: func(model string, messages []openrouter.Message) (*openrouter.Response, error) {
		return textResponse("the answer"), nil
	}}
	executor := NewExecutor(s, client, nil, testLogger())

	var results []Result
	err = executor.Run(ctx, conversation.ID, "the question", []string{"model/a"}, "be helpful", nil, func(result Result) {
		results = append(results, result)
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "the answer", results[0].Content)

	messages, err := s.ListMessages(ctx, conversation.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, store.RoleSystem, messages[0].Role)
	assert.Equal(t, "be helpful", messages[0].Content)
	assert.Equal(t, store.RoleUser, messages[1].Role)
	assert.Equal(t, store.RoleAssistant, messages[2].Role)
	assert.Equal(t, "model/a", messages[2].Model)
	assert.Equal(t, 0, messages[2].ColumnPosition)
	assert.Equal(t, int64(10), messages[2].InputTokens)
	assert.NotEmpty(t, messages[2].RawOutput)

	// Second turn: no new system message.
	err = executor.Run(ctx, conversation.ID, "followup", []string{"model/a"}, "be helpful", nil, func(Result) {})
	require.NoError(t, err)
	messages, err = s.ListMessages(ctx, conversation.ID)
	require.NoError(t, err)
	require.Len(t, messages, 5)
	assert.Equal(t, store.RoleUser, messages[3].Role)
	assert.Equal(t, store.RoleAssistant, messages[4].Role)
}

func TestRunOneModelFailureDoesNotAbortSiblings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conversation, err := s.CreateConversation(ctx, "")
	require.NoError(t, err)

	client := &fakeClient{respond: func(model string, messages []openrouter.Message) (*openrouter.Response, error) {
		if model == "model/bad" {
			return nil, &openrouter.APIError{
				StatusCode:  429,
				Message:     "Rate limit exceeded. Please try again in a moment.",
				RequestBody: []byte(`{"model":"model/bad"}`),
				RawResponse: `{"error":{"message":"429"}}`,
			}
		}
		return textResponse("Hi"), nil
	}}
	executor := NewExecutor(s, client, nil, testLogger())

	var results []Result
	err = executor.Run(ctx, conversation.ID, "hello", []string{"model/good", "model/bad"}, "prompt", nil, func(result Result) {
		results = append(results, result)
	})
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "model/good", results[0].Model)
	assert.Equal(t, "Hi", results[0].Content)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "model/bad", results[1].Model)
	assert.Equal(t, "Error: Rate limit exceeded. Please try again in a moment.", results[1].Content)
	assert.Error(t, results[1].Err)
	assert.JSONEq(t, `{"model":"model/bad"}`, string(results[1].RequestBody))
	assert.NotEmpty(t, results[1].RawErrorResponse)

	// Only the successful model persisted an assistant message; the failure
	// went to the error log.
	messages, err := s.ListMessages(ctx, conversation.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, store.RoleAssistant, messages[2].Role)
	assert.Equal(t, "model/good", messages[2].Model)

	entries, err := s.ListErrors(ctx, conversation.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "MODEL_EXECUTION_ERROR", entries[0].ErrorCode)
	assert.Equal(t, "model/bad", entries[0].Model)
}

func TestRunFoldsSystemPromptForGemma(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conversation, err := s.CreateConversation(ctx, "")
	require.NoError(t, err)

	client := &fakeClient{respond: func(model string, messages []openrouter.Message) (*openrouter.Response, error) {
		return textResponse("ok"), nil
	}}
	executor := NewExecutor(s, client, nil, testLogger())

	err = executor.Run(ctx, conversation.ID, "hello", []string{"google/gemma-2-9b-it"}, "stay factual", nil, func(Result) {})
	require.NoError(t, err)

	require.Len(t, client.calls, 1)
	sent := client.calls[0].messages
	for _, message := range sent {
		assert.NotEqual(t, openrouter.RoleSystem, message.Role)
	}
	require.NotEmpty(t, sent)
	last := sent[len(sent)-1]
	assert.Equal(t, openrouter.RoleUser, last.Role)
	assert.True(t, strings.HasPrefix(last.Content, "Context: stay factual"), last.Content)
	assert.Contains(t, last.Content, "User: hello")
}

func TestRunClassifiesCapabilityErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conversation, err := s.CreateConversation(ctx, "")
	require.NoError(t, err)

	client := &fakeClient{respond: func(model string, messages []openrouter.Message) (*openrouter.Response, error) {
		return nil, &openrouter.APIError{Message: "Developer instruction is not enabled for this model"}
	}}
	executor := NewExecutor(s, client, nil, testLogger())

	var results []Result
	err = executor.Run(ctx, conversation.ID, "hello", []string{"some/model"}, "prompt", nil, func(result Result) {
		results = append(results, result)
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "doesn't support system prompts")
}

func TestRunGeneratesTitleOnFirstTurnOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conversation, err := s.CreateConversation(ctx, "")
	require.NoError(t, err)

	client := &fakeClient{respond: func(model string, messages []openrouter.Message) (*openrouter.Response, error) {
		if model == "title/model" {
			return textResponse("  Weekend Plans  "), nil
		}
		return textResponse("sure"), nil
	}}
	titles := NewTitleGenerator(s, client, "title/model", testLogger())
	executor := NewExecutor(s, client, titles, testLogger())

	err = executor.Run(ctx, conversation.ID, "what should I do this weekend", []string{"model/a"}, "prompt", nil, func(Result) {})
	require.NoError(t, err)

	updated, err := s.GetConversation(ctx, conversation.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.Title)
	assert.Equal(t, "Weekend Plans", *updated.Title)

	task, err := s.LatestMicrotask(ctx, store.TaskGenerateTitle, store.StatusDone)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "title/model", task.Model)

	// Second turn does not regenerate.
	err = executor.Run(ctx, conversation.ID, "another question", []string{"model/a"}, "prompt", nil, func(Result) {})
	require.NoError(t, err)
	tasks, err := s.ListMicrotasks(ctx, conversation.ID)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestTitleFailureNeverPropagates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conversation, err := s.CreateConversation(ctx, "")
	require.NoError(t, err)

	client := &fakeClient{respond: func(model string, messages []openrouter.Message) (*openrouter.Response, error) {
		if model == "title/model" {
			return nil, &openrouter.APIError{StatusCode: 500, Message: "boom"}
		}
		return textResponse("sure"), nil
	}}
	titles := NewTitleGenerator(s, client, "title/model", testLogger())
	executor := NewExecutor(s, client, titles, testLogger())

	err = executor.Run(ctx, conversation.ID, "hello", []string{"model/a"}, "prompt", nil, func(Result) {})
	require.NoError(t, err)

	updated, err := s.GetConversation(ctx, conversation.ID)
	require.NoError(t, err)
	assert.Nil(t, updated.Title)
	assert.Equal(t, "Untitled Chat", updated.DisplayTitle())

	task, err := s.LatestMicrotask(ctx, store.TaskGenerateTitle, store.StatusFailed)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "TITLE_GENERATION_ERROR", task.ErrorCode)
}

func TestCapabilitiesFor(t *testing.T) {
	assert.True(t, CapabilitiesFor("anthropic/claude-3-5-sonnet").SupportsSystemRole)
	assert.True(t, CapabilitiesFor("openai/gpt-4o").SupportsSystemRole)
	assert.False(t, CapabilitiesFor("google/gemma-2-9b-it").SupportsSystemRole)
	assert.False(t, CapabilitiesFor("google/gemma-2-9b-it:free").SupportsSystemRole)
	assert.False(t, CapabilitiesFor("google/gemma-3-27b-it").SupportsSystemRole)
}
