package app

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/mimirhq/mimir/microtask"
	"github.com/mimirhq/mimir/openrouter"
	"github.com/mimirhq/mimir/store"
)

// RefreshConversations refetches the conversation list and caches it.
func (s *State) RefreshConversations(ctx context.Context) ([]*store.Conversation, error) {
	response, err := s.store.ListConversations(ctx, &store.ListConversationsRequest{})
	if err != nil {
		return nil, errors.Wrap(err, "listing conversations")
	}
	s.mu.Lock()
	s.conversations = response.Conversations
	s.mu.Unlock()
	return response.Conversations, nil
}

// Conversations returns the cached conversation list.
func (s *State) Conversations() []*store.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversations
}

// RefreshMessages refetches and caches the messages of one conversation.
func (s *State) RefreshMessages(ctx context.Context, conversationID string) ([]*store.Message, error) {
	messages, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "listing messages")
	}
	s.mu.Lock()
	s.messages[conversationID] = messages
	s.mu.Unlock()
	return messages, nil
}

// Messages returns the cached messages of a conversation, which may be nil
// if the conversation was never opened.
func (s *State) Messages(conversationID string) []*store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[conversationID]
}

// RefreshModels refetches and caches the model catalog.
func (s *State) RefreshModels(ctx context.Context) ([]openrouter.Model, error) {
	models, err := s.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.models = models
	s.mu.Unlock()
	return models, nil
}

// Models returns the cached model catalog.
func (s *State) Models() []openrouter.Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.models
}

// RefreshSettings refetches and caches the settings document.
func (s *State) RefreshSettings(ctx context.Context) (*store.Settings, error) {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "loading settings")
	}
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
	return settings, nil
}

// Settings returns the cached settings document, fetching it on first use.
func (s *State) Settings(ctx context.Context) (*store.Settings, error) {
	s.mu.Lock()
	settings := s.settings
	s.mu.Unlock()
	if settings != nil {
		return settings, nil
	}
	return s.RefreshSettings(ctx)
}

// UpdateSettings applies a settings patch and refreshes the cache.
func (s *State) UpdateSettings(ctx context.Context, patch *store.Settings) (*store.Settings, error) {
	settings, err := s.store.UpdateSettings(ctx, patch)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
	return settings, nil
}

// SearchConversations is a pass-through to the store.
func (s *State) SearchConversations(ctx context.Context, query string) ([]*store.Conversation, error) {
	return s.store.SearchConversations(ctx, &store.SearchConversationsRequest{Query: query})
}

// SetBookmarked toggles a conversation's bookmark and refreshes the cache.
func (s *State) SetBookmarked(ctx context.Context, conversationID string, bookmarked bool) error {
	err := s.store.UpdateConversation(ctx, &store.UpdateConversationRequest{
		Conversation: &store.Conversation{ID: conversationID, Bookmarked: bookmarked},
		UpdateMask:   []string{"bookmarked"},
	})
	if err != nil {
		return err
	}
	_, err = s.RefreshConversations(ctx)
	return err
}

// RenameConversation sets a conversation title and refreshes the cache.
func (s *State) RenameConversation(ctx context.Context, conversationID, title string) error {
	err := s.store.UpdateConversation(ctx, &store.UpdateConversationRequest{
		Conversation: &store.Conversation{ID: conversationID, Title: &title},
		UpdateMask:   []string{"title"},
	})
	if err != nil {
		return err
	}
	_, err = s.RefreshConversations(ctx)
	return err
}

// DeleteConversation removes a conversation and evicts it from the cache.
func (s *State) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := s.store.DeleteConversation(ctx, conversationID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.messages, conversationID)
	s.mu.Unlock()
	_, err := s.RefreshConversations(ctx)
	return err
}

// Greeting returns the current greeting payload, falling back to the static
// default when the greeting service is absent.
func (s *State) Greeting(ctx context.Context) *microtask.Greeting {
	if s.greetings == nil {
		return microtask.FallbackGreeting()
	}
	return s.greetings.Latest(ctx)
}

// MonthToDateCost sums the cost of every message created this calendar
// month, for display against the monthly budget.
func (s *State) MonthToDateCost(ctx context.Context) (decimal.Decimal, error) {
	now := time.Now()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	messages, err := s.store.ListMessagesSince(ctx, start)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "listing messages for spend")
	}
	cost := decimal.Zero
	for _, message := range messages {
		cost = cost.Add(message.Cost())
	}
	return cost, nil
}

// CanTranscribe reports whether voice transcription is available.
func (s *State) CanTranscribe(ctx context.Context) bool {
	if s.transcriptions == nil {
		return false
	}
	return s.transcriptions.CanTranscribe(ctx)
}

// Transcribe turns one audio recording into text.
func (s *State) Transcribe(ctx context.Context, req *microtask.TranscribeRequest) (string, error) {
	if s.transcriptions == nil {
		return "", errors.New("transcription is not configured")
	}
	return s.transcriptions.Transcribe(ctx, req)
}

// Errors returns the error log of a conversation.
func (s *State) Errors(ctx context.Context, conversationID string) ([]*store.ErrorEntry, error) {
	return s.store.ListErrors(ctx, conversationID)
}

// Microtasks returns the microtasks of a conversation.
func (s *State) Microtasks(ctx context.Context, conversationID string) ([]*store.Microtask, error) {
	return s.store.ListMicrotasks(ctx, conversationID)
}
