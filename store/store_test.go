package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimirhq/mimir/openrouter"
)

type fixedPricer struct {
	pricing openrouter.Pricing
}

func (p *fixedPricer) GetPricing(modelID string) openrouter.Pricing {
	return p.pricing
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(&Options{
		DSN: filepath.Join(t.TempDir(), "test.db"),
		Pricer: &fixedPricer{pricing: openrouter.Pricing{
			Input:  decimal.RequireFromString("0.00001"),
			Output: decimal.RequireFromString("0.00002"),
		}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendMessageValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conversation, err := s.CreateConversation(ctx, "")
	require.NoError(t, err)

	_, err = s.AppendMessage(ctx, &AppendMessageRequest{
		ConversationID: conversation.ID, Role: RoleUser, Content: "hi", Model: "some/model",
	})
	assert.Error(t, err)

	_, err = s.AppendMessage(ctx, &AppendMessageRequest{
		ConversationID: conversation.ID, Role: RoleAssistant, Content: "hi",
	})
	assert.Error(t, err)

	_, err = s.AppendMessage(ctx, &AppendMessageRequest{
		ConversationID: conversation.ID, Role: "tool", Content: "hi",
	})
	assert.Error(t, err)
}

func TestAppendMessagePricing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conversation, err := s.CreateConversation(ctx, "")
	require.NoError(t, err)

	message, err := s.AppendMessage(ctx, &AppendMessageRequest{
		ConversationID: conversation.ID,
		Role:           RoleAssistant,
		Content:        "answer",
		Model:          "some/model",
		Usage: &openrouter.Usage{
			PromptTokens:     100,
			CompletionTokens: 50,
			PromptTokensDetails: &openrouter.PromptTokensDetails{
				CachedTokens: 40,
				AudioTokens:  10,
			},
			CompletionTokensDetails: &openrouter.CompletionTokensDetails{
				ReasoningTokens: 20,
			},
		},
	})
	require.NoError(t, err)

	// Cached input at half the input price, reasoning output at triple the
	// output price, audio at the base price.
	assert.True(t, message.InputTokenPrice.Equal(decimal.RequireFromString("0.00001")))
	assert.True(t, message.InputCachedTokenPrice.Equal(decimal.RequireFromString("0.000005")))
	assert.True(t, message.InputAudioTokenPrice.Equal(decimal.RequireFromString("0.00001")))
	assert.True(t, message.OutputTokenPrice.Equal(decimal.RequireFromString("0.00002")))
	assert.True(t, message.OutputReasoningTokenPrice.Equal(decimal.RequireFromString("0.00006")))
	assert.Zero(t, message.OutputAudioTokens)
	assert.True(t, message.OutputAudioTokenPrice.IsZero())

	// Round trip through the database keeps the breakdown.
	messages, err := s.ListMessages(ctx, conversation.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	stored := messages[0]
	assert.Equal(t, int64(100), stored.InputTokens)
	assert.Equal(t, int64(40), stored.InputCachedTokens)
	assert.Equal(t, int64(10), stored.InputAudioTokens)
	assert.Equal(t, int64(20), stored.OutputReasoningTokens)
	expectedCost := decimal.RequireFromString("0.00001").Mul(decimal.NewFromInt(100)).
		Add(decimal.RequireFromString("0.00002").Mul(decimal.NewFromInt(50))).
		Add(decimal.RequireFromString("0.000005").Mul(decimal.NewFromInt(40))).
		Add(decimal.RequireFromString("0.00001").Mul(decimal.NewFromInt(10))).
		Add(decimal.RequireFromString("0.00006").Mul(decimal.NewFromInt(20)))
	assert.True(t, stored.Cost().Equal(expectedCost), stored.Cost().String())
}

func TestListMessagesForModel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conversation, err := s.CreateConversation(ctx, "")
	require.NoError(t, err)

	appendMessage := func(role, content, model string) {
		t.Helper()
		_, err := s.AppendMessage(ctx, &AppendMessageRequest{
			ConversationID: conversation.ID, Role: role, Content: content, Model: model,
		})
		require.NoError(t, err)
	}
	appendMessage(RoleSystem, "be nice", "")
	appendMessage(RoleUser, "question", "")
	appendMessage(RoleAssistant, "answer A", "model/a")
	appendMessage(RoleAssistant, "answer B", "model/b")

	messages, err := s.ListMessagesForModel(ctx, conversation.ID, "model/a")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "be nice", messages[0].Content)
	assert.Equal(t, "question", messages[1].Content)
	assert.Equal(t, "answer A", messages[2].Content)

	all, err := s.ListMessages(ctx, conversation.ID)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, message := range all {
		assert.Equal(t, int64(i+1), message.Seq)
	}
}

func TestListConversationsAggregates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conversation, err := s.CreateConversation(ctx, "First")
	require.NoError(t, err)
	_, err = s.CreateConversation(ctx, "Second")
	require.NoError(t, err)

	_, err = s.AppendMessage(ctx, &AppendMessageRequest{
		ConversationID: conversation.ID, Role: RoleUser, Content: "question",
	})
	require.NoError(t, err)
	for _, model := range []string{"model/b", "model/a"} {
		_, err = s.AppendMessage(ctx, &AppendMessageRequest{
			ConversationID: conversation.ID,
			Role:           RoleAssistant,
			Content:        "answer",
			Model:          model,
			Usage:          &openrouter.Usage{PromptTokens: 10, CompletionTokens: 5},
		})
		require.NoError(t, err)
	}

	response, err := s.ListConversations(ctx, &ListConversationsRequest{})
	require.NoError(t, err)
	require.Len(t, response.Conversations, 2)

	// Newest update first: the conversation with messages was bumped.
	first := response.Conversations[0]
	assert.Equal(t, conversation.ID, first.ID)
	assert.Equal(t, 3, first.MessageCount)
	assert.Equal(t, []string{"model/a", "model/b"}, first.Models)
	assert.Equal(t, int64(30), first.TotalTokens)
	expectedCost := decimal.RequireFromString("0.00001").Mul(decimal.NewFromInt(20)).
		Add(decimal.RequireFromString("0.00002").Mul(decimal.NewFromInt(10)))
	assert.True(t, first.TotalCost.Equal(expectedCost))

	second := response.Conversations[1]
	assert.Equal(t, 0, second.MessageCount)
	assert.True(t, second.TotalCost.IsZero())
}

func TestSearchConversations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	matching, err := s.CreateConversation(ctx, "Cooking ideas")
	require.NoError(t, err)
	other, err := s.CreateConversation(ctx, "Travel plans")
	require.NoError(t, err)

	_, err = s.AppendMessage(ctx, &AppendMessageRequest{
		ConversationID: other.ID, Role: RoleUser, Content: "what should I pack for Norway",
	})
	require.NoError(t, err)

	results, err := s.SearchConversations(ctx, &SearchConversationsRequest{Query: "Cooking"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, matching.ID, results[0].ID)

	results, err = s.SearchConversations(ctx, &SearchConversationsRequest{Query: "Norway"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, other.ID, results[0].ID)

	results, err = s.SearchConversations(ctx, &SearchConversationsRequest{Query: ""})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchConversationsRawPunctuation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conversation, err := s.CreateConversation(ctx, `The "big" question`)
	require.NoError(t, err)

	// Operators and unbalanced quotes are treated as literal text, never as
	// query syntax.
	for _, query := range []string{`"unbalanced`, `NEAR(`, `cooking OR`, `*`} {
		_, err := s.SearchConversations(ctx, &SearchConversationsRequest{Query: query})
		assert.NoError(t, err, query)
	}

	results, err := s.SearchConversations(ctx, &SearchConversationsRequest{Query: `"big"`})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, conversation.ID, results[0].ID)
}

func TestUpdateConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conversation, err := s.CreateConversation(ctx, "")
	require.NoError(t, err)

	title := "Named at last"
	err = s.UpdateConversation(ctx, &UpdateConversationRequest{
		Conversation: &Conversation{ID: conversation.ID, Title: &title, Bookmarked: true},
		UpdateMask:   []string{"title"},
	})
	require.NoError(t, err)

	updated, err := s.GetConversation(ctx, conversation.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.Title)
	assert.Equal(t, title, *updated.Title)
	// Bookmarked was outside the mask.
	assert.False(t, updated.Bookmarked)

	err = s.UpdateConversation(ctx, &UpdateConversationRequest{
		Conversation: &Conversation{ID: "missing", Title: &title},
		UpdateMask:   []string{"title"},
	})
	assert.Error(t, err)
}

func TestDeleteConversationCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conversation, err := s.CreateConversation(ctx, "")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, &AppendMessageRequest{
		ConversationID: conversation.ID, Role: RoleUser, Content: "hello",
	})
	require.NoError(t, err)
	require.NoError(t, s.LogError(ctx, &LogErrorRequest{
		ConversationID: conversation.ID, ErrorCode: "MODEL_EXECUTION_ERROR", ErrorMessage: "boom",
	}))
	_, err = s.CreateMicrotask(ctx, &CreateMicrotaskRequest{
		TaskType: TaskGenerateTitle, ConversationID: conversation.ID,
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteConversation(ctx, conversation.ID))

	_, err = s.GetConversation(ctx, conversation.ID)
	assert.Error(t, err)
	messages, err := s.ListMessages(ctx, conversation.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
	entries, err := s.ListErrors(ctx, conversation.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
	tasks, err := s.ListMicrotasks(ctx, conversation.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestSettingsDefaultsAndMerge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	settings, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-3-5-sonnet", settings.DefaultModel)
	assert.Equal(t, 0.5, settings.DefaultTemperature)
	assert.Equal(t, 2048, settings.MaxOutputTokens)
	assert.Equal(t, "anthropic/claude-3-haiku", settings.TitleModel)
	assert.Equal(t, "whisper-1", settings.TranscriptionModel)

	updated, err := s.UpdateSettings(ctx, &Settings{
		UserName:           "Ada",
		DefaultTemperature: 0.9,
	})
	require.NoError(t, err)
	assert.Equal(t, "Ada", updated.UserName)
	assert.Equal(t, 0.9, updated.DefaultTemperature)
	// Untouched fields survive the merge.
	assert.Equal(t, "anthropic/claude-3-5-sonnet", updated.DefaultModel)

	reloaded, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ada", reloaded.UserName)
	assert.Equal(t, 0.9, reloaded.DefaultTemperature)

	// Boolean toggles carry an explicit false through the merge.
	enabled := true
	_, err = s.UpdateSettings(ctx, &Settings{TranscriptionEnabled: &enabled})
	require.NoError(t, err)
	disabled := false
	updated, err = s.UpdateSettings(ctx, &Settings{TranscriptionEnabled: &disabled})
	require.NoError(t, err)
	assert.False(t, updated.TranscriptionOn())
	assert.Equal(t, "Ada", updated.UserName)
}

func TestMicrotaskLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, err := s.CreateMicrotask(ctx, &CreateMicrotaskRequest{
		TaskType:         TaskGenerateTitle,
		Model:            "anthropic/claude-3-haiku",
		Temperature:      0.3,
		InputData:        json.RawMessage(`{"user_message":"hi"}`),
		InputTokenPrice:  decimal.RequireFromString("0.00001"),
		OutputTokenPrice: decimal.RequireFromString("0.00002"),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, task.Status)

	require.NoError(t, s.StartMicrotask(ctx, task.ID))
	require.NoError(t, s.CompleteMicrotask(ctx, task.ID,
		json.RawMessage(`{"title":"Hello"}`),
		&openrouter.Usage{PromptTokens: 12, CompletionTokens: 4},
	))

	latest, err := s.LatestMicrotask(ctx, TaskGenerateTitle, StatusDone)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, task.ID, latest.ID)
	assert.Equal(t, int64(12), latest.InputTokens)
	assert.Equal(t, int64(4), latest.OutputTokens)
	assert.JSONEq(t, `{"title":"Hello"}`, string(latest.OutputData))
	assert.NotZero(t, latest.StartedTimestamp)
	assert.NotZero(t, latest.CompletedTimestamp)

	latest, err = s.LatestMicrotask(ctx, TaskAppGreeting, StatusDone)
	require.NoError(t, err)
	assert.Nil(t, latest)

	recent, err := s.HasRecentMicrotask(ctx, TaskGenerateTitle, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, recent)
	recent, err = s.HasRecentMicrotask(ctx, TaskAppGreeting, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, recent)
}

func TestFailMicrotask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, err := s.CreateMicrotask(ctx, &CreateMicrotaskRequest{TaskType: TaskTranscribe})
	require.NoError(t, err)
	require.NoError(t, s.FailMicrotask(ctx, task.ID, "TRANSCRIPTION_ERROR", "no speech"))

	failed, err := s.LatestMicrotask(ctx, TaskTranscribe, StatusFailed)
	require.NoError(t, err)
	require.NotNil(t, failed)
	assert.Equal(t, "TRANSCRIPTION_ERROR", failed.ErrorCode)
	assert.Equal(t, "no speech", failed.ErrorMessage)
}

func TestCountConversations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.CountConversations(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	for i := 0; i < 3; i++ {
		_, err = s.CreateConversation(ctx, "")
		require.NoError(t, err)
	}
	count, err = s.CountConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestListMessagesSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conversation, err := s.CreateConversation(ctx, "")
	require.NoError(t, err)

	_, err = s.AppendMessage(ctx, &AppendMessageRequest{
		ConversationID: conversation.ID, Role: RoleUser, Content: "question",
	})
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, &AppendMessageRequest{
		ConversationID: conversation.ID, Role: RoleAssistant, Content: "answer", Model: "model/a",
	})
	require.NoError(t, err)

	messages, err := s.ListMessagesSince(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "question", messages[0].Content)
	assert.Equal(t, "answer", messages[1].Content)

	// A cutoff in the future excludes everything.
	messages, err = s.ListMessagesSince(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, messages)
}
