// Package app holds the in-memory application state: cached store data, the
// active model selection, and the per-turn streaming buffers. Everything the
// UI renders goes through here.
package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/mimirhq/mimir/microtask"
	"github.com/mimirhq/mimir/openrouter"
	"github.com/mimirhq/mimir/store"
	"github.com/mimirhq/mimir/thread"
)

// MaxSelectedModels caps how many models run per turn.
const MaxSelectedModels = 3

// State is the application state container. All dependencies are injected;
// nothing here reaches for globals.
type State struct {
	store          *store.Store
	client         *openrouter.Client
	executor       *thread.Executor
	greetings      *microtask.GreetingService
	transcriptions *microtask.TranscriptionService
	logger         *slog.Logger
	statePath      string

	mu               sync.Mutex
	conversations    []*store.Conversation
	messages         map[string][]*store.Message
	models           []openrouter.Model
	settings         *store.Settings
	selectedModels   []string
	sidebarCollapsed bool
	isStreaming      bool
	streamBuffers    map[string]string
}

// Options to construct a State.
type Options struct {
	Store          *store.Store
	Client         *openrouter.Client
	Executor       *thread.Executor
	Greetings      *microtask.GreetingService
	Transcriptions *microtask.TranscriptionService
	Logger         *slog.Logger
	// StatePath is the JSON file holding the durable UI state. Empty
	// disables persistence.
	StatePath string
}

// New instantiates and returns a new state container.
func New(opts *Options) *State {
	return &State{
		store:          opts.Store,
		client:         opts.Client,
		executor:       opts.Executor,
		greetings:      opts.Greetings,
		transcriptions: opts.Transcriptions,
		logger:         opts.Logger,
		statePath:      opts.StatePath,
		messages:       map[string][]*store.Message{},
		streamBuffers:  map[string]string{},
	}
}

// Load restores the durable UI state and refreshes every cached collection
// from the store. Catalog and greeting refreshes are best effort.
func (s *State) Load(ctx context.Context) error {
	s.restoreUIState()

	if _, err := s.RefreshConversations(ctx); err != nil {
		return err
	}
	if _, err := s.RefreshSettings(ctx); err != nil {
		return err
	}
	if s.client.APIKeySet() {
		if _, err := s.RefreshModels(ctx); err != nil {
			s.logger.Warn("refreshing model catalog failed", "error", err)
		}
	}
	if s.greetings != nil {
		s.greetings.Refresh(ctx)
	}
	return nil
}

// SetAPIKey stores the credential on the client and persists it.
func (s *State) SetAPIKey(key string) {
	s.client.SetAPIKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistUIStateLocked()
}

// SelectModel adds a model to the active selection. Re-adding an already
// selected model or exceeding the cap is a no-op.
func (s *State) SelectModel(modelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, selected := range s.selectedModels {
		if selected == modelID {
			return
		}
	}
	if len(s.selectedModels) >= MaxSelectedModels {
		return
	}
	s.selectedModels = append(s.selectedModels, modelID)
	s.persistUIStateLocked()
}

// DeselectModel removes a model from the active selection.
func (s *State) DeselectModel(modelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, selected := range s.selectedModels {
		if selected == modelID {
			s.selectedModels = append(s.selectedModels[:i], s.selectedModels[i+1:]...)
			s.persistUIStateLocked()
			return
		}
	}
}

// SelectedModels returns a copy of the active selection, in selection order.
func (s *State) SelectedModels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.selectedModels...)
}

// SetSidebarCollapsed toggles and persists the sidebar state.
func (s *State) SetSidebarCollapsed(collapsed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sidebarCollapsed = collapsed
	s.persistUIStateLocked()
}

// SidebarCollapsed reports the persisted sidebar state.
func (s *State) SidebarCollapsed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sidebarCollapsed
}

// IsStreaming reports whether a turn is in flight.
func (s *State) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isStreaming
}

// StreamBuffer returns the partial text accumulated for a model during the
// current turn.
func (s *State) StreamBuffer(modelID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamBuffers[modelID]
}

// SendMessage runs one turn against the active model selection. Configuration
// problems are returned before any network call; per-model outcomes arrive
// through onResult. The new or existing conversation id is returned.
func (s *State) SendMessage(ctx context.Context, conversationID, content string, onResult func(thread.Result)) (string, error) {
	if !s.client.APIKeySet() {
		return "", errors.New("Invalid or missing OpenRouter API key. Please check your API key in settings.")
	}
	models := s.SelectedModels()
	if len(models) == 0 {
		return "", errors.New("no model selected")
	}

	settings, err := s.Settings(ctx)
	if err != nil {
		return "", err
	}

	if conversationID == "" {
		conversation, err := s.store.CreateConversation(ctx, "")
		if err != nil {
			return "", errors.Wrap(err, "creating conversation")
		}
		conversationID = conversation.ID
	}

	s.beginTurn()
	defer s.endTurn()

	opts := &openrouter.Options{
		Temperature: float32(settings.DefaultTemperature),
		MaxTokens:   settings.MaxOutputTokens,
	}
	err = s.executor.Run(ctx, conversationID, content, models, settings.SystemPrompt, opts, func(result thread.Result) {
		s.mu.Lock()
		s.streamBuffers[result.Model] = result.Content
		s.mu.Unlock()
		if onResult != nil {
			onResult(result)
		}
	})
	if err != nil {
		return conversationID, err
	}

	if _, refreshErr := s.RefreshConversations(ctx); refreshErr != nil {
		s.logger.Warn("refreshing conversations failed", "error", refreshErr)
	}
	if _, refreshErr := s.RefreshMessages(ctx, conversationID); refreshErr != nil {
		s.logger.Warn("refreshing messages failed", "error", refreshErr)
	}
	return conversationID, nil
}

// beginTurn clears the streaming buffers and marks the turn in flight.
func (s *State) beginTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamBuffers = map[string]string{}
	s.isStreaming = true
}

// endTurn clears the streaming buffers again so stale partials never outlive
// a turn.
func (s *State) endTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamBuffers = map[string]string{}
	s.isStreaming = false
}
