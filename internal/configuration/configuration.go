package configuration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

var defaultConfig = Config{
	OpenRouterAPIHost: "https://openrouter.ai/api/v1",
	OpenRouterAPIKey:  "API_KEY",
	OpenAIAPIHost:     "https://api.openai.com/v1",
	RequestTimeout:    120,

	Database: &DatabaseConfig{
		Driver: "sqlite",
		DSN:    "~/.config/mimir/mimir.db",
	},

	Chat: &ChatConfig{
		DefaultModel:       "anthropic/claude-3-5-sonnet",
		DefaultTemperature: 0.5,
		MaxOutputTokens:    2048,
		TitleModel:         "anthropic/claude-3-haiku",
		SystemPrompt: "You are a helpful assistant who's always eager to help & be proactive. " +
			"Keep language crisp and to the point. Use bullets & sub-sections whenever helpful. " +
			"Avoid overusing emojis.",
	},

	Transcription: &TranscriptionConfig{
		Enabled:  false,
		Provider: "openai",
		Model:    "whisper-1",
	},

	Budget: &BudgetConfig{
		InputTokenCost:     0.000002,
		OutputTokenCost:    0.000004,
		Max24h:             10.0,
		ExpensiveThreshold: 0.01,
	},

	Pricing: &PricingConfig{
		CachedInputMultiplier:     0.5,
		ReasoningOutputMultiplier: 3.0,
	},
}

// Config holds configuration for mimir.
type Config struct {
	OpenRouterAPIKey  string `json:"openrouter_api_key"`
	OpenRouterAPIHost string `json:"openrouter_api_host"`
	OpenAIAPIKey      string `json:"openai_api_key"`
	OpenAIAPIHost     string `json:"openai_api_host"`
	RequestTimeout    int    `json:"request_timeout"`

	Database      *DatabaseConfig      `json:"database"`
	Chat          *ChatConfig          `json:"chat"`
	Transcription *TranscriptionConfig `json:"transcription"`
	Budget        *BudgetConfig        `json:"budget"`
	Pricing       *PricingConfig       `json:"pricing"`

	UserName string `json:"user_name"`
}

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `json:"driver"`
	// DSN is a file path for sqlite, a connection string for postgres.
	DSN string `json:"dsn"`
}

// ChatConfig holds the chat defaults applied when a turn does not override them.
type ChatConfig struct {
	DefaultModel       string  `json:"default_model"`
	DefaultTemperature float32 `json:"default_temperature"`
	MaxOutputTokens    int     `json:"max_output_tokens"`
	SystemPrompt       string  `json:"system_prompt"`
	// TitleModel runs the title-generation microtask.
	TitleModel string `json:"title_model"`
}

// TranscriptionConfig gates the voice transcription microtask.
type TranscriptionConfig struct {
	Enabled  bool   `json:"enabled"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// BudgetConfig holds the cost thresholds used for budget tracking and the
// "expensive model" flag.
type BudgetConfig struct {
	InputTokenCost     float64 `json:"input_token_cost"`
	OutputTokenCost    float64 `json:"output_token_cost"`
	Max24h             float64 `json:"max_24h"`
	ExpensiveThreshold float64 `json:"expensive_threshold"`
}

// PricingConfig holds the token pricing multipliers. Providers do not report
// these; they are policy knobs.
type PricingConfig struct {
	CachedInputMultiplier     float64 `json:"cached_input_multiplier"`
	ReasoningOutputMultiplier float64 `json:"reasoning_output_multiplier"`
}

// Parse a configuration file.
func Parse(path string) (*Config, error) {
	path, err := ExpandPath(path)
	if err != nil {
		return nil, errors.Wrap(err, "expanding path")
	}

	if err := initializeIfNotPresent(path); err != nil {
		return nil, errors.Wrap(err, "initializing configuration")
	}
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading file")
	}

	config := &Config{}
	if err = json.Unmarshal(bytes, config); err != nil {
		return nil, errors.Wrap(err, "unmarshaling into config")
	}

	if config.Database != nil && config.Database.Driver == "sqlite" {
		expandedDSN, err := ExpandPath(config.Database.DSN)
		if err != nil {
			return nil, errors.Wrap(err, "expanding database path")
		}
		if err := createDirectoryIfNotExist(filepath.Dir(expandedDSN)); err != nil {
			return nil, errors.Wrap(err, "creating database directory")
		}
		config.Database.DSN = expandedDSN
	}
	return config, nil
}

// ExpandPath expands a leading "~/" to the user home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "getting user home dir")
	}
	return filepath.Join(home, path[2:]), nil
}

// save a configuration file.
func (c *Config) save(path string) error {
	bytes, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling config")
	}

	if err = os.WriteFile(path, bytes, 0644); err != nil {
		return errors.Wrap(err, "writing file")
	}
	return nil
}

// initializeIfNotPresent initializes a config if it does not exist.
func initializeIfNotPresent(path string) error {
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return nil
	}

	dir, _ := filepath.Split(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "creating folders")
	}

	if err := defaultConfig.save(path); err != nil {
		return errors.Wrap(err, "saving default config")
	}
	return nil
}

func createDirectoryIfNotExist(directory string) error {
	info, err := os.Stat(directory)
	if err == nil && info.IsDir() {
		return nil
	}
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "checking directory")
	}
	if err := os.MkdirAll(directory, 0755); err != nil {
		return errors.Wrap(err, "creating directory")
	}
	return nil
}
