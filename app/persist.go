package app

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// uiState is the durable slice of the application state. Everything else is
// refetched from the store on load.
type uiState struct {
	SelectedModels   []string `json:"selectedModels"`
	SidebarCollapsed bool     `json:"sidebarCollapsed"`
	APIKey           string   `json:"apiKey,omitempty"`
}

// restoreUIState loads the persisted UI state, if any. A missing or corrupt
// file resets to defaults.
func (s *State) restoreUIState() {
	if s.statePath == "" {
		return
	}
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		return
	}
	state := &uiState{}
	if err := json.Unmarshal(data, state); err != nil {
		s.logger.Warn("discarding corrupt ui state file", "path", s.statePath, "error", err)
		return
	}

	s.mu.Lock()
	if len(state.SelectedModels) > MaxSelectedModels {
		state.SelectedModels = state.SelectedModels[:MaxSelectedModels]
	}
	s.selectedModels = state.SelectedModels
	s.sidebarCollapsed = state.SidebarCollapsed
	s.mu.Unlock()

	if state.APIKey != "" {
		s.client.SetAPIKey(state.APIKey)
	}
}

// persistUIStateLocked writes the durable UI state. Callers hold s.mu.
func (s *State) persistUIStateLocked() {
	if s.statePath == "" {
		return
	}
	data, err := json.MarshalIndent(&uiState{
		SelectedModels:   s.selectedModels,
		SidebarCollapsed: s.sidebarCollapsed,
		APIKey:           s.client.APIKey(),
	}, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.statePath), 0o755); err != nil {
		s.logger.Warn("creating ui state directory failed", "path", s.statePath, "error", err)
		return
	}
	if err := os.WriteFile(s.statePath, data, 0o600); err != nil {
		s.logger.Warn("writing ui state failed", "path", s.statePath, "error", err)
	}
}
