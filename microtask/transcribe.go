package microtask

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/mimirhq/mimir/store"
)

const defaultTranscriptionModel = "whisper-1"

// TranscriptionService turns recorded audio into text via the OpenAI
// transcription endpoint. Unlike the other microtasks its errors propagate
// to the caller, since the user is actively waiting on the result.
type TranscriptionService struct {
	store  *store.Store
	logger *slog.Logger
	// host overrides the OpenAI endpoint; empty selects the public one.
	host string
}

// NewTranscriptionService instantiates and returns a new transcription
// service.
func NewTranscriptionService(st *store.Store, host string, logger *slog.Logger) *TranscriptionService {
	return &TranscriptionService{
		store:  st,
		logger: logger,
		host:   host,
	}
}

// CanTranscribe reports whether transcription is enabled and configured.
func (t *TranscriptionService) CanTranscribe(ctx context.Context) bool {
	settings, err := t.store.GetSettings(ctx)
	if err != nil {
		return false
	}
	return settings.TranscriptionOn() && settings.TranscriptionModel != "" && settings.OpenAIAPIKey != ""
}

// TranscribeRequest carries one audio recording to transcribe.
type TranscribeRequest struct {
	Audio    io.Reader
	Filename string
	Duration time.Duration
	Size     int64
	// ConversationID attaches the microtask to a conversation, optional.
	ConversationID string
}

// Transcribe runs one transcription, tracked as a transcribe microtask.
func (t *TranscriptionService) Transcribe(ctx context.Context, req *TranscribeRequest) (string, error) {
	settings, err := t.store.GetSettings(ctx)
	if err != nil {
		return "", errors.Wrap(err, "loading settings")
	}
	if settings.OpenAIAPIKey == "" {
		return "", errors.New("OpenAI API key not found. Please set it in settings.")
	}
	model := settings.TranscriptionModel
	if model == "" {
		model = defaultTranscriptionModel
	}

	input, _ := json.Marshal(map[string]any{
		"audio_duration": req.Duration.Seconds(),
		"audio_size":     req.Size,
	})
	task, err := t.store.CreateMicrotask(ctx, &store.CreateMicrotaskRequest{
		TaskType:       store.TaskTranscribe,
		Model:          model,
		ConversationID: req.ConversationID,
		InputData:      input,
	})
	if err != nil {
		return "", errors.Wrap(err, "creating transcription task")
	}
	if err := t.store.StartMicrotask(ctx, task.ID); err != nil {
		t.logger.Error("starting transcription microtask failed", "task_id", task.ID, "error", err)
	}

	transcription, err := t.run(ctx, settings.OpenAIAPIKey, model, req)
	if err != nil {
		t.logger.Error("transcription failed", "task_id", task.ID, "error", err)
		if failErr := t.store.FailMicrotask(ctx, task.ID, "TRANSCRIPTION_ERROR", err.Error()); failErr != nil {
			t.logger.Error("failing transcription microtask failed", "task_id", task.ID, "error", failErr)
		}
		return "", err
	}

	output, _ := json.Marshal(map[string]string{"transcription": transcription})
	if err := t.store.CompleteMicrotask(ctx, task.ID, output, nil); err != nil {
		t.logger.Error("completing transcription microtask failed", "task_id", task.ID, "error", err)
	}
	return transcription, nil
}

func (t *TranscriptionService) run(ctx context.Context, apiKey, model string, req *TranscribeRequest) (string, error) {
	config := openai.DefaultConfig(apiKey)
	if t.host != "" {
		config.BaseURL = t.host
	}
	client := openai.NewClientWithConfig(config)

	filename := req.Filename
	if filename == "" {
		filename = "recording.webm"
	}
	response, err := client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    model,
		Reader:   req.Audio,
		FilePath: filename,
		Language: "en",
	})
	if err != nil {
		return "", errors.Wrap(err, "transcribing audio")
	}

	transcription := strings.TrimSpace(response.Text)
	if transcription == "" {
		return "", errors.New("No speech detected in the recording")
	}
	return transcription, nil
}
