package store

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Microtask types.
const (
	TaskTranscribe    = "transcribe"
	TaskGenerateTitle = "generate_title"
	TaskAppGreeting   = "app_greeting"
)

// Microtask statuses.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Conversation represents a persisted conversation. The aggregate fields are
// derived from its messages on list, never stored.
type Conversation struct {
	ID                string
	Title             *string
	Bookmarked        bool
	Shared            bool
	CreationTimestamp int64
	UpdateTimestamp   int64

	// Derived aggregates, populated by ListConversations.
	MessageCount int
	Models       []string
	TotalTokens  int64
	TotalCost    decimal.Decimal
}

// DisplayTitle returns the title, or the placeholder used before title
// generation has run.
func (c *Conversation) DisplayTitle() string {
	if c.Title == nil || *c.Title == "" {
		return "Untitled Chat"
	}
	return *c.Title
}

// Message represents one persisted message with its token and price
// breakdown. A zero token count means the provider did not report that
// bucket.
type Message struct {
	ID             string
	ConversationID string
	Seq            int64
	Role           string
	Content        string
	// Model is set on assistant messages only.
	Model string
	// ColumnPosition identifies which model column a multi-model reply
	// belongs to.
	ColumnPosition int
	// RawOutput holds the raw provider response payload, if kept.
	RawOutput json.RawMessage
	// Error is set when the model call for this slot failed.
	Error             string
	CreationTimestamp int64

	InputTokens           int64
	OutputTokens          int64
	InputCachedTokens     int64
	InputAudioTokens      int64
	OutputReasoningTokens int64
	OutputAudioTokens     int64

	InputTokenPrice           decimal.Decimal
	OutputTokenPrice          decimal.Decimal
	InputCachedTokenPrice     decimal.Decimal
	InputAudioTokenPrice      decimal.Decimal
	OutputReasoningTokenPrice decimal.Decimal
	OutputAudioTokenPrice     decimal.Decimal
}

// TotalTokens reported for this message.
func (m *Message) TotalTokens() int64 {
	return m.InputTokens + m.OutputTokens
}

// Cost of this message. Each token bucket is priced independently.
func (m *Message) Cost() decimal.Decimal {
	cost := decimal.Zero
	cost = cost.Add(m.InputTokenPrice.Mul(decimal.NewFromInt(m.InputTokens)))
	cost = cost.Add(m.OutputTokenPrice.Mul(decimal.NewFromInt(m.OutputTokens)))
	cost = cost.Add(m.InputCachedTokenPrice.Mul(decimal.NewFromInt(m.InputCachedTokens)))
	cost = cost.Add(m.InputAudioTokenPrice.Mul(decimal.NewFromInt(m.InputAudioTokens)))
	cost = cost.Add(m.OutputReasoningTokenPrice.Mul(decimal.NewFromInt(m.OutputReasoningTokens)))
	cost = cost.Add(m.OutputAudioTokenPrice.Mul(decimal.NewFromInt(m.OutputAudioTokens)))
	return cost
}

// Microtask tracks one best-effort background generation job.
type Microtask struct {
	ID             string
	TaskType       string
	Status         string
	Model          string
	Temperature    float64
	ConversationID string
	InputData      json.RawMessage
	OutputData     json.RawMessage
	RetryCount     int
	ErrorCode      string
	ErrorMessage   string

	InputTokens           int64
	OutputTokens          int64
	InputCachedTokens     int64
	OutputReasoningTokens int64
	InputTokenPrice       decimal.Decimal
	OutputTokenPrice      decimal.Decimal

	CreationTimestamp  int64
	UpdateTimestamp    int64
	StartedTimestamp   int64
	CompletedTimestamp int64
}

// ErrorEntry is one row of the conversation error log.
type ErrorEntry struct {
	ID                string
	ConversationID    string
	Model             string
	ErrorCode         string
	ErrorMessage      string
	RaisedBy          string
	CreationTimestamp int64
}
