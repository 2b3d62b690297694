package openrouter

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrAPIKeyNotSet is returned before any network call when no key is configured.
var ErrAPIKeyNotSet = errors.New("OpenRouter API key not set. Please configure your API key in settings.")

// APIError carries a human-readable message plus the raw request body and raw
// error text, so the UI can surface full diagnostics for a failed call.
type APIError struct {
	StatusCode  int
	Message     string
	RequestBody []byte
	RawResponse string
}

func (e *APIError) Error() string {
	return e.Message
}

// friendlyMessage rewrites common failure substrings into clearer messages.
// The raw detail stays available on the APIError.
func friendlyMessage(message string, statusCode int) string {
	switch {
	case strings.Contains(message, "API key"):
		return "Invalid or missing OpenRouter API key. Please check your API key in settings."
	case statusCode == 401 || strings.Contains(message, "401"):
		return "Authentication failed. Please verify your OpenRouter API key."
	case statusCode == 429 || strings.Contains(message, "429"):
		return "Rate limit exceeded. Please try again in a moment."
	case strings.Contains(message, "insufficient"):
		return "Insufficient credits. Please check your OpenRouter account balance."
	}
	return message
}
