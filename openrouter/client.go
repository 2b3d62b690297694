package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Default pricing returned for models missing from the catalog, so callers
// never have to branch on an unknown price.
var (
	fallbackInputPrice  = decimal.RequireFromString("0.000002")
	fallbackOutputPrice = decimal.RequireFromString("0.000004")
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 2048
)

// Client is the single point of contact with the OpenRouter completion API.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu     sync.Mutex
	apiKey string
	models []Model
}

// NewClient instantiates and returns a new client. An empty baseURL selects
// the public OpenRouter endpoint.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SetAPIKey stores the credential in memory. Subsequent calls fail fast with
// ErrAPIKeyNotSet while it is unset.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// APIKey returns the stored credential, "" when unset.
func (c *Client) APIKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apiKey
}

// APIKeySet reports whether a credential is configured.
func (c *Client) APIKeySet() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apiKey != ""
}

func (c *Client) setHeaders(req *http.Request) error {
	c.mu.Lock()
	key := c.apiKey
	c.mu.Unlock()
	if key == "" {
		return ErrAPIKeyNotSet
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("HTTP-Referer", "https://mimir.chat")
	req.Header.Set("X-Title", "Mimir AI Chat")
	return nil
}

type modelList struct {
	Data []Model `json:"data"`
}

// ListModels fetches and caches the model catalog. On failure the HTTP status
// and body are surfaced verbatim for diagnostics.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, errors.Wrap(err, "building models request")
	}
	if err := c.setHeaders(req); err != nil {
		return nil, err
	}

	response, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetching models")
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(response.Body)
		return nil, errors.Errorf("failed to fetch models: %d %s: %s", response.StatusCode, response.Status, string(body))
	}

	list := &modelList{}
	if err := json.NewDecoder(response.Body).Decode(list); err != nil {
		return nil, errors.Wrap(err, "decoding model catalog")
	}

	c.mu.Lock()
	c.models = list.Data
	c.mu.Unlock()
	return list.Data, nil
}

// Models returns the cached catalog.
func (c *Client) Models() []Model {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.models
}

// GetPricing returns the unit prices of a model from the cached catalog, or a
// fixed fallback pair if the model is unknown. It never fails.
func (c *Client) GetPricing(modelID string) Pricing {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, model := range c.models {
		if model.ID != modelID {
			continue
		}
		input, err := decimal.NewFromString(model.Pricing.Prompt)
		if err != nil {
			break
		}
		output, err := decimal.NewFromString(model.Pricing.Completion)
		if err != nil {
			break
		}
		return Pricing{Input: input, Output: output}
	}
	return Pricing{Input: fallbackInputPrice, Output: fallbackOutputPrice}
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

// Complete issues one non-streaming completion request. On a non-2xx response
// it returns an *APIError carrying the original request body and the raw
// error text alongside a human-readable message.
func (c *Client) Complete(ctx context.Context, messages []Message, model string, opts *Options) (*Response, error) {
	if opts == nil {
		opts = &Options{}
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	requestBody, err := json.Marshal(&completionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      false,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshaling request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(requestBody))
	if err != nil {
		return nil, errors.Wrap(err, "building completion request")
	}
	if err := c.setHeaders(req); err != nil {
		return nil, err
	}

	response, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{
			Message:     friendlyMessage(err.Error(), 0),
			RequestBody: requestBody,
			RawResponse: err.Error(),
		}
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, c.completionError(response, requestBody)
	}

	result := &Response{}
	if err := json.NewDecoder(response.Body).Decode(result); err != nil {
		return nil, errors.Wrap(err, "decoding completion response")
	}
	return result, nil
}

// completionError parses a structured error body, falling back to raw text.
func (c *Client) completionError(response *http.Response, requestBody []byte) *APIError {
	message := fmt.Sprintf("OpenRouter API error (%d)", response.StatusCode)
	raw := ""

	body, err := io.ReadAll(response.Body)
	if err != nil {
		message = fmt.Sprintf("%s: %s", message, response.Status)
		raw = response.Status
	} else {
		raw = string(body)
		structured := &struct {
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
			Message string `json:"message"`
		}{}
		switch {
		case json.Unmarshal(body, structured) == nil && structured.Error != nil && structured.Error.Message != "":
			message = structured.Error.Message
		case structured.Message != "":
			message = structured.Message
		case raw != "":
			message = raw
		}
	}

	return &APIError{
		StatusCode:  response.StatusCode,
		Message:     friendlyMessage(message, response.StatusCode),
		RequestBody: requestBody,
		RawResponse: raw,
	}
}

// streamChunkSize is the slice width used to mimic incremental delivery.
const streamChunkSize = 10

// StreamCompletion is a compatibility-only entry point: it performs one full
// request and slices the result into fixed-size chunks handed to onChunk. It
// is not true network streaming and provides no backpressure.
func (c *Client) StreamCompletion(ctx context.Context, messages []Message, model string, opts *Options, onChunk func(chunk string)) (*Response, error) {
	response, err := c.Complete(ctx, messages, model, opts)
	if err != nil {
		return nil, err
	}

	content := []rune(response.Content())
	for i := 0; i < len(content); i += streamChunkSize {
		end := i + streamChunkSize
		if end > len(content) {
			end = len(content)
		}
		onChunk(string(content[i:end]))
	}
	return response, nil
}
