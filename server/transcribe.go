package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/mimirhq/mimir/microtask"
)

// handleTranscribe accepts a multipart audio upload from the recorder and
// returns the transcription as JSON.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if !s.state.CanTranscribe(r.Context()) {
		http.Error(w, "Transcription is not configured", http.StatusServiceUnavailable)
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		http.Error(w, "Missing audio upload", http.StatusBadRequest)
		return
	}
	defer file.Close()

	duration, _ := strconv.ParseFloat(r.FormValue("duration"), 64)
	text, err := s.state.Transcribe(r.Context(), &microtask.TranscribeRequest{
		Audio:          file,
		Filename:       header.Filename,
		Duration:       time.Duration(duration * float64(time.Second)),
		Size:           header.Size,
		ConversationID: r.FormValue("conversation_id"),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"text": text})
}
