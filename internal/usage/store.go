// Package usage keeps a local SQLite ledger of model calls: tokens in
// and out, priced cost, and the conversation and turn each call
// belonged to.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/docent/internal/config"
)

// schemaVersion is stored in PRAGMA user_version.
const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS model_calls (
	id              TEXT PRIMARY KEY,
	called_at       TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	turn            INTEGER NOT NULL,
	provider        TEXT NOT NULL,
	model           TEXT NOT NULL,
	input_tokens    INTEGER NOT NULL,
	output_tokens   INTEGER NOT NULL,
	tool_calls      INTEGER NOT NULL,
	cost_usd        REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_model_calls_called_at ON model_calls(called_at);
CREATE INDEX IF NOT EXISTS idx_model_calls_conversation ON model_calls(conversation_id, turn);
`

// Record is one model call.
type Record struct {
	ID             string
	Timestamp      time.Time
	ConversationID string
	Turn           int
	Provider       string
	Model          string
	InputTokens    int
	OutputTokens   int

	// ToolCalls is how many tool calls the model requested in this turn.
	ToolCalls int

	// CostUSD is priced from the store's table when left at zero.
	CostUSD float64
}

// Summary aggregates a set of records.
type Summary struct {
	Conversations     int     `json:"conversations"`
	TotalRecords      int     `json:"model_calls"`
	TotalToolCalls    int64   `json:"tool_calls"`
	TotalInputTokens  int64   `json:"input_tokens"`
	TotalOutputTokens int64   `json:"output_tokens"`
	TotalCostUSD      float64 `json:"cost_usd"`
}

// Store is safe for concurrent use.
type Store struct {
	db      *sql.DB
	pricing map[string]config.PricingEntry
}

// NewStore opens or creates the ledger at dbPath. A nil pricing table
// prices every call at zero.
func NewStore(dbPath string, pricing map[string]config.PricingEntry) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database %s: %w", dbPath, err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage database %s: %w", dbPath, err)
	}
	return &Store{db: db, pricing: pricing}, nil
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return err
	}
	if version > schemaVersion {
		return fmt.Errorf("schema version %d is newer than supported version %d", version, schemaVersion)
	}
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	_, err := db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion))
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores rec, filling in a UUIDv7 id, the current time and the
// priced cost when they are unset.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate record id: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.CostUSD == 0 {
		rec.CostUSD = ComputeCost(rec.Model, rec.InputTokens, rec.OutputTokens, s.pricing)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_calls
			(id, called_at, conversation_id, turn, provider, model, input_tokens, output_tokens, tool_calls, cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, timestamp(rec.Timestamp), rec.ConversationID, rec.Turn,
		rec.Provider, rec.Model, rec.InputTokens, rec.OutputTokens, rec.ToolCalls, rec.CostUSD,
	)
	if err != nil {
		return fmt.Errorf("insert model call: %w", err)
	}
	return nil
}

// Conversation returns the calls of one conversation in turn order.
func (s *Store) Conversation(ctx context.Context, id string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, called_at, conversation_id, turn, provider, model, input_tokens, output_tokens, tool_calls, cost_usd
		FROM model_calls
		WHERE conversation_id = ?
		ORDER BY turn, called_at`, id)
	if err != nil {
		return nil, fmt.Errorf("query conversation %s: %w", id, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var at string
		if err := rows.Scan(&rec.ID, &at, &rec.ConversationID, &rec.Turn, &rec.Provider, &rec.Model,
			&rec.InputTokens, &rec.OutputTokens, &rec.ToolCalls, &rec.CostUSD); err != nil {
			return nil, fmt.Errorf("scan model call: %w", err)
		}
		if rec.Timestamp, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("parse called_at %q: %w", at, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

const aggregates = `COUNT(DISTINCT conversation_id), COUNT(*),
	COALESCE(SUM(tool_calls), 0), COALESCE(SUM(input_tokens), 0),
	COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)`

func (sum *Summary) fields() []any {
	return []any{&sum.Conversations, &sum.TotalRecords, &sum.TotalToolCalls,
		&sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.TotalCostUSD}
}

// Summary totals the calls made in [start, end).
func (s *Store) Summary(ctx context.Context, start, end time.Time) (*Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx,
		`SELECT `+aggregates+` FROM model_calls WHERE called_at >= ? AND called_at < ?`,
		timestamp(start), timestamp(end),
	).Scan(sum.fields()...)
	if err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	return &sum, nil
}

// SummaryByModel totals the calls made in [start, end) per model.
func (s *Store) SummaryByModel(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	return s.groupBy(ctx, "model", start, end)
}

// SummaryByConversation totals the calls made in [start, end) per
// conversation.
func (s *Store) SummaryByConversation(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	return s.groupBy(ctx, "conversation_id", start, end)
}

// groupBy is only called with column names from this file.
func (s *Store) groupBy(ctx context.Context, column string, start, end time.Time) (map[string]*Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+column+`, `+aggregates+`
		 FROM model_calls
		 WHERE called_at >= ? AND called_at < ?
		 GROUP BY `+column,
		timestamp(start), timestamp(end),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by %s: %w", column, err)
	}
	defer rows.Close()

	out := make(map[string]*Summary)
	for rows.Next() {
		var key string
		sum := &Summary{}
		if err := rows.Scan(append([]any{&key}, sum.fields()...)...); err != nil {
			return nil, fmt.Errorf("scan usage by %s: %w", column, err)
		}
		out[key] = sum
	}
	return out, rows.Err()
}

// ComputeCost prices a call from the per-million-token table. Models
// missing from the table, such as local Ollama models, cost nothing.
func ComputeCost(model string, inputTokens, outputTokens int, pricing map[string]config.PricingEntry) float64 {
	p, ok := pricing[model]
	if !ok {
		return 0
	}
	return (float64(inputTokens)*p.InputPerMillion + float64(outputTokens)*p.OutputPerMillion) / 1_000_000
}

// timestamp formats t for storage. UTC RFC 3339 strings sort in time
// order, so range filters compare them directly.
func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
