package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"dario.cat/mergo"
)

// Settings is the single mutable application settings document, stored as one
// JSON row. Fields left empty in an update are preserved.
type Settings struct {
	OpenRouterAPIKey string `json:"openrouterApiKey,omitempty"`
	OpenAIAPIKey     string `json:"openaiApiKey,omitempty"`

	SystemPrompt       string  `json:"systemPrompt,omitempty"`
	DefaultModel       string  `json:"defaultModel,omitempty"`
	DefaultTemperature float64 `json:"defaultTemperature,omitempty"`
	MaxOutputTokens    int     `json:"maxOutputTokens,omitempty"`
	TitleModel         string  `json:"titleModel,omitempty"`

	// TranscriptionEnabled is a pointer so a patch can carry an explicit
	// false through the merge.
	TranscriptionEnabled  *bool  `json:"transcriptionEnabled,omitempty"`
	TranscriptionProvider string `json:"transcriptionProvider,omitempty"`
	TranscriptionModel    string `json:"transcriptionModel,omitempty"`

	MonthlyBudget      float64 `json:"monthlyBudget,omitempty"`
	ExpensiveThreshold float64 `json:"expensiveThreshold,omitempty"`

	UserName string `json:"userName,omitempty"`
}

// TranscriptionOn reports whether transcription is switched on.
func (s *Settings) TranscriptionOn() bool {
	return s.TranscriptionEnabled != nil && *s.TranscriptionEnabled
}

const settingsRowID = "default"

func defaultSettings() *Settings {
	return &Settings{
		SystemPrompt:          "You are a helpful assistant. Be concise and accurate.",
		DefaultModel:          "anthropic/claude-3-5-sonnet",
		DefaultTemperature:    0.5,
		MaxOutputTokens:       2048,
		TitleModel:            "anthropic/claude-3-haiku",
		TranscriptionProvider: "openai",
		TranscriptionModel:    "whisper-1",
		MonthlyBudget:         10.0,
		ExpensiveThreshold:    0.01,
	}
}

// GetSettings returns the settings document, inserting the defaults the first
// time it is read.
func (s *Store) GetSettings(ctx context.Context) (*Settings, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT settings FROM app_settings WHERE id = ?`), settingsRowID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		settings := defaultSettings()
		if err := s.insertSettings(ctx, settings); err != nil {
			return nil, err
		}
		return settings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}

	settings := &Settings{}
	if err := json.Unmarshal([]byte(raw), settings); err != nil {
		return nil, fmt.Errorf("parsing settings document: %w", err)
	}
	return settings, nil
}

// UpdateSettings merges the non-empty fields of the patch into the stored
// document and returns the result.
func (s *Store) UpdateSettings(ctx context.Context, patch *Settings) (*Settings, error) {
	settings, err := s.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	if err := mergo.Merge(settings, patch, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merging settings patch: %w", err)
	}
	// The merge treats false as absent; set toggles explicitly.
	if patch.TranscriptionEnabled != nil {
		settings.TranscriptionEnabled = patch.TranscriptionEnabled
	}

	raw, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("encoding settings document: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		s.rebind(`UPDATE app_settings SET settings = ?, update_timestamp = ? WHERE id = ?`),
		string(raw), time.Now().UnixMicro(), settingsRowID,
	)
	if err != nil {
		return nil, fmt.Errorf("updating settings: %w", err)
	}
	return settings, nil
}

func (s *Store) insertSettings(ctx context.Context, settings *Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encoding settings document: %w", err)
	}
	now := time.Now().UnixMicro()
	_, err = s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO app_settings (id, settings, creation_timestamp, update_timestamp) VALUES (?, ?, ?, ?)`),
		settingsRowID, string(raw), now, now,
	)
	if err != nil {
		return fmt.Errorf("inserting default settings: %w", err)
	}
	return nil
}
