package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/mimirhq/mimir/openrouter"
)

// Pricer resolves per-token unit prices for a model. The OpenRouter client
// satisfies this; tests substitute fakes.
type Pricer interface {
	GetPricing(modelID string) openrouter.Pricing
}

// Options for opening a store.
type Options struct {
	// Driver is "sqlite" or "postgres".
	Driver string
	// DSN is a file path for sqlite, a connection string for postgres.
	DSN string
	// Pricer populates token prices on appended messages and microtasks.
	Pricer Pricer
	// Policy multipliers applied to the base unit prices. Zero values select
	// the defaults (0.5 cached input, 3.0 reasoning output).
	CachedInputMultiplier     float64
	ReasoningOutputMultiplier float64
}

// Store implements durable persistence for conversations, messages, error
// log entries, microtasks and app settings.
type Store struct {
	db     *sql.DB
	driver string
	pricer Pricer

	cachedInputMultiplier     decimal.Decimal
	reasoningOutputMultiplier decimal.Decimal
}

// New store. The sqlite backend is the default; postgres is selected for a
// hosted deployment.
func New(opts *Options) (*Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = "sqlite"
	}

	var db *sql.DB
	var err error
	switch driver {
	case "sqlite":
		db, err = sql.Open("sqlite", opts.DSN)
	case "postgres":
		db, err = sql.Open("pgx", opts.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	cachedMultiplier := opts.CachedInputMultiplier
	if cachedMultiplier == 0 {
		cachedMultiplier = 0.5
	}
	reasoningMultiplier := opts.ReasoningOutputMultiplier
	if reasoningMultiplier == 0 {
		reasoningMultiplier = 3.0
	}

	s := &Store{
		db:                        db,
		driver:                    driver,
		pricer:                    opts.Pricer,
		cachedInputMultiplier:     decimal.NewFromFloat(cachedMultiplier),
		reasoningOutputMultiplier: decimal.NewFromFloat(reasoningMultiplier),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT,
			bookmarked INTEGER NOT NULL DEFAULT 0,
			shared INTEGER NOT NULL DEFAULT 0,
			creation_timestamp INTEGER NOT NULL,
			update_timestamp INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			model TEXT,
			column_position INTEGER NOT NULL DEFAULT 0,
			raw_output TEXT,
			error TEXT,
			input_tokens INTEGER,
			output_tokens INTEGER,
			input_cached_tokens INTEGER,
			input_audio_tokens INTEGER,
			output_reasoning_tokens INTEGER,
			output_audio_tokens INTEGER,
			input_token_price TEXT,
			output_token_price TEXT,
			input_cached_token_price TEXT,
			input_audio_token_price TEXT,
			output_reasoning_token_price TEXT,
			output_audio_token_price TEXT,
			creation_timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_idx
			ON messages (conversation_id, seq)`,
		`CREATE TABLE IF NOT EXISTS conversation_errors (
			id TEXT PRIMARY KEY,
			conversation_id TEXT,
			model TEXT,
			error_code TEXT,
			error_message TEXT,
			raised_by TEXT,
			creation_timestamp INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS microtasks (
			id TEXT PRIMARY KEY,
			task_type TEXT NOT NULL,
			status TEXT NOT NULL,
			model TEXT,
			temperature REAL,
			conversation_id TEXT,
			input_data TEXT,
			output_data TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			error_code TEXT,
			error_message TEXT,
			input_tokens INTEGER,
			output_tokens INTEGER,
			input_cached_tokens INTEGER,
			output_reasoning_tokens INTEGER,
			input_token_price TEXT,
			output_token_price TEXT,
			creation_timestamp INTEGER NOT NULL,
			update_timestamp INTEGER NOT NULL,
			started_timestamp INTEGER,
			completed_timestamp INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS app_settings (
			id TEXT PRIMARY KEY,
			settings TEXT NOT NULL,
			creation_timestamp INTEGER NOT NULL,
			update_timestamp INTEGER NOT NULL
		)`,
	}
	if s.driver == "sqlite" {
		statements = append(statements, `
			CREATE VIRTUAL TABLE IF NOT EXISTS conversations_fts USING fts5 (
				id UNINDEXED,
				searchable_content
			)`)
	}

	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}

// rebind converts ? placeholders to the $n form when talking to postgres.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var builder strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			builder.WriteString("$" + strconv.Itoa(n))
			continue
		}
		builder.WriteRune(r)
	}
	return builder.String()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
