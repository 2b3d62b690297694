package microtask

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimirhq/mimir/openrouter"
	"github.com/mimirhq/mimir/store"
)

type fakeClient struct {
	apiKeySet bool
	calls     int
	prompts   []string
	respond   func() (*openrouter.Response, error)
}

func (c *fakeClient) Complete(ctx context.Context, messages []openrouter.Message, model string, opts *openrouter.Options) (*openrouter.Response, error) {
	c.calls++
	for _, message := range messages {
		c.prompts = append(c.prompts, message.Content)
	}
	return c.respond()
}

func (c *fakeClient) GetPricing(modelID string) openrouter.Pricing {
	return openrouter.Pricing{
		Input:  decimal.RequireFromString("0.000002"),
		Output: decimal.RequireFromString("0.000004"),
	}
}

func (c *fakeClient) APIKeySet() bool { return c.apiKeySet }

func greetingResponse(content string) func() (*openrouter.Response, error) {
	return func() (*openrouter.Response, error) {
		return &openrouter.Response{
			Choices: []openrouter.Choice{{Message: openrouter.ResponseMessage{Role: openrouter.RoleAssistant, Content: content}}},
			Usage:   &openrouter.Usage{PromptTokens: 100, CompletionTokens: 40},
		}, nil
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

func seedConversations(t *testing.T, s *store.Store, count int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < count; i++ {
		conversation, err := s.CreateConversation(ctx, "")
		require.NoError(t, err)
		_, err = s.AppendMessage(ctx, &store.AppendMessageRequest{
			ConversationID: conversation.ID, Role: store.RoleUser, Content: "tell me about goats",
		})
		require.NoError(t, err)
	}
}

const validGreeting = `{"greeting": "Hey there Ada!", "prompts": ["One", "Two", "Three"]}`

func TestRefreshSkipsBelowConversationThreshold(t *testing.T) {
	s := newTestStore(t)
	client := &fakeClient{apiKeySet: true, respond: greetingResponse(validGreeting)}
	service := NewGreetingService(s, client, testLogger())

	seedConversations(t, s, 4)
	service.Refresh(context.Background())

	assert.Zero(t, client.calls)
	task, err := s.LatestMicrotask(context.Background(), store.TaskAppGreeting, store.StatusDone)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestRefreshSkipsWithoutAPIKey(t *testing.T) {
	s := newTestStore(t)
	client := &fakeClient{apiKeySet: false, respond: greetingResponse(validGreeting)}
	service := NewGreetingService(s, client, testLogger())

	seedConversations(t, s, 6)
	service.Refresh(context.Background())
	assert.Zero(t, client.calls)
}

func TestRefreshGeneratesGreeting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	client := &fakeClient{apiKeySet: true, respond: greetingResponse(validGreeting)}
	service := NewGreetingService(s, client, testLogger())

	seedConversations(t, s, 6)
	_, err := s.UpdateSettings(ctx, &store.Settings{UserName: "Ada"})
	require.NoError(t, err)

	service.Refresh(ctx)

	require.Equal(t, 1, client.calls)
	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], "User Name: Ada")
	assert.Contains(t, client.prompts[0], "tell me about goats")

	greeting := service.Latest(ctx)
	assert.Equal(t, "Hey there Ada!", greeting.Greeting)
	assert.Equal(t, []string{"One", "Two", "Three"}, greeting.Prompts)

	task, err := s.LatestMicrotask(ctx, store.TaskAppGreeting, store.StatusDone)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, int64(100), task.InputTokens)
}

func TestRefreshCooldownSuppressesRegeneration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	client := &fakeClient{apiKeySet: true, respond: greetingResponse(validGreeting)}
	service := NewGreetingService(s, client, testLogger())

	seedConversations(t, s, 6)
	service.Refresh(ctx)
	service.Refresh(ctx)

	assert.Equal(t, 1, client.calls)
}

func TestRefreshInvalidJSONFallsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	client := &fakeClient{apiKeySet: true, respond: greetingResponse("I am not JSON")}
	service := NewGreetingService(s, client, testLogger())

	seedConversations(t, s, 6)
	service.Refresh(ctx)

	task, err := s.LatestMicrotask(ctx, store.TaskAppGreeting, store.StatusFailed)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "EXECUTION_ERROR", task.ErrorCode)

	greeting := service.Latest(ctx)
	assert.Equal(t, FallbackGreeting().Greeting, greeting.Greeting)
	assert.Len(t, greeting.Prompts, 3)
}

func TestParseGreetingShape(t *testing.T) {
	_, err := parseGreeting(`{"greeting": "Hi", "prompts": ["a", "b"]}`)
	assert.Error(t, err)
	_, err = parseGreeting(`{"prompts": ["a", "b", "c"]}`)
	assert.Error(t, err)
	greeting, err := parseGreeting(` {"greeting": "Hi Ada", "prompts": ["a", "b", "c"]} `)
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada", greeting.Greeting)
}
