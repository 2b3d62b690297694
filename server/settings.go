package server

import (
	"net/http"
	"strconv"

	"github.com/mimirhq/mimir/store"
)

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.renderSettings(w, r, "")
	case http.MethodPost:
		s.updateSettings(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) renderSettings(w http.ResponseWriter, r *http.Request, notice string) {
	settings, err := s.state.RefreshSettings(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.render(w, &PageData{
		Title:    "Settings",
		Page:     "settings",
		Settings: settings,
		Notice:   notice,
	})
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	patch := &store.Settings{
		OpenRouterAPIKey:      r.FormValue("openrouter_api_key"),
		OpenAIAPIKey:          r.FormValue("openai_api_key"),
		SystemPrompt:          r.FormValue("system_prompt"),
		DefaultModel:          r.FormValue("default_model"),
		TitleModel:            r.FormValue("title_model"),
		TranscriptionProvider: r.FormValue("transcription_provider"),
		TranscriptionModel:    r.FormValue("transcription_model"),
		UserName:              r.FormValue("user_name"),
	}
	if value := r.FormValue("default_temperature"); value != "" {
		temperature, err := strconv.ParseFloat(value, 64)
		if err != nil {
			http.Error(w, "Invalid temperature", http.StatusBadRequest)
			return
		}
		patch.DefaultTemperature = temperature
	}
	if value := r.FormValue("max_output_tokens"); value != "" {
		maxTokens, err := strconv.Atoi(value)
		if err != nil {
			http.Error(w, "Invalid max output tokens", http.StatusBadRequest)
			return
		}
		patch.MaxOutputTokens = maxTokens
	}
	if value := r.FormValue("monthly_budget"); value != "" {
		budget, err := strconv.ParseFloat(value, 64)
		if err != nil {
			http.Error(w, "Invalid monthly budget", http.StatusBadRequest)
			return
		}
		patch.MonthlyBudget = budget
	}
	if value := r.FormValue("expensive_threshold"); value != "" {
		threshold, err := strconv.ParseFloat(value, 64)
		if err != nil {
			http.Error(w, "Invalid expensive threshold", http.StatusBadRequest)
			return
		}
		patch.ExpensiveThreshold = threshold
	}
	enabled := r.FormValue("transcription_enabled") == "on"
	patch.TranscriptionEnabled = &enabled

	if _, err := s.state.UpdateSettings(r.Context(), patch); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if patch.OpenRouterAPIKey != "" {
		s.state.SetAPIKey(patch.OpenRouterAPIKey)
	}

	s.renderSettings(w, r, "Settings saved")
}
