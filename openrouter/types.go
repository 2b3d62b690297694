package openrouter

import (
	"github.com/shopspring/decimal"
)

// Message roles accepted by the completion endpoint.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry of a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Model describes an entry of the OpenRouter model catalog.
type Model struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Description   string       `json:"description"`
	ContextLength int          `json:"context_length"`
	Pricing       ModelPricing `json:"pricing"`
}

// Expensive reports whether the model's prompt price exceeds the given
// per-token threshold. Models with an unparsable catalog price are never
// flagged.
func (m *Model) Expensive(threshold float64) bool {
	price, err := decimal.NewFromString(m.Pricing.Prompt)
	if err != nil {
		return false
	}
	return price.GreaterThan(decimal.NewFromFloat(threshold))
}

// ModelPricing holds the per-token unit prices as the catalog reports them,
// decimal strings in dollars.
type ModelPricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// Pricing holds parsed per-token unit prices for a model.
type Pricing struct {
	Input  decimal.Decimal
	Output decimal.Decimal
}

// Options for a completion call. Zero values select the client defaults
// (temperature 0.7, 2048 max tokens); there is no way to request an explicit
// zero.
type Options struct {
	Temperature float32
	MaxTokens   int
}

// Usage reports token consumption of one completion.
type Usage struct {
	PromptTokens            int                      `json:"prompt_tokens"`
	CompletionTokens        int                      `json:"completion_tokens"`
	TotalTokens             int                      `json:"total_tokens"`
	PromptTokensDetails     *PromptTokensDetails     `json:"prompt_tokens_details,omitempty"`
	CompletionTokensDetails *CompletionTokensDetails `json:"completion_tokens_details,omitempty"`
}

// PromptTokensDetails breaks down the prompt token count.
type PromptTokensDetails struct {
	CachedTokens int `json:"cached_tokens"`
	AudioTokens  int `json:"audio_tokens"`
}

// CompletionTokensDetails breaks down the completion token count.
type CompletionTokensDetails struct {
	ReasoningTokens int `json:"reasoning_tokens"`
	AudioTokens     int `json:"audio_tokens"`
}

// Response of a completion call.
type Response struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice is one candidate completion.
type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ResponseMessage is the assistant turn inside a choice.
type ResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Content of the first choice, or "" if the response carries none.
func (r *Response) Content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}
