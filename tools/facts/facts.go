// Package facts provides a persistent key-value memory tool backed by
// pure-Go SQLite. Agents use it to remember and recall facts across
// runs without any CGO or external service.
package facts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	cascade "github.com/nevindra/cascade"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Store holds facts in a local SQLite file. A single connection is
// shared so concurrent writers serialise instead of hitting
// SQLITE_BUSY.
type Store struct {
	db *sql.DB
}

// Open creates or opens the facts database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("facts: open %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS facts (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("facts: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Set stores or overwrites one fact.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO facts (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("facts: set %q: %w", key, err)
	}
	return nil
}

// Get returns one fact. The second return is false when the key is
// unknown.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM facts WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("facts: get %q: %w", key, err)
	}
	return value, true, nil
}

// Delete removes one fact. Deleting an unknown key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("facts: delete %q: %w", key, err)
	}
	return nil
}

// List returns all keys, newest first.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM facts ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("facts: list: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("facts: list: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Tool exposes the store to agents with remember/recall/forget/list
// actions.
type Tool struct {
	store *Store
}

func NewTool(store *Store) *Tool {
	return &Tool{store: store}
}

func (*Tool) Name() string { return "facts" }

func (*Tool) Description() string {
	return "Persistent memory for facts. Actions: remember (store key+value), recall (fetch by key), forget (delete by key), list (all keys)."
}

func (*Tool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {
				"type": "string",
				"enum": ["remember", "recall", "forget", "list"],
				"description": "What to do"
			},
			"key": {"type": "string", "description": "Fact key (required for remember, recall, forget)"},
			"value": {"type": "string", "description": "Fact value (required for remember)"}
		},
		"required": ["action"]
	}`)
}

func (t *Tool) Execute(ctx context.Context, args map[string]any) (cascade.ToolResult, error) {
	started := time.Now()
	action, _ := args["action"].(string)
	key, _ := args["key"].(string)
	value, _ := args["value"].(string)

	switch action {
	case "remember":
		if key == "" || value == "" {
			return cascade.ToolResult{}, invalidParam("remember requires key and value")
		}
		if err := t.store.Set(ctx, key, value); err != nil {
			return cascade.ErrorResult(err.Error(), started), nil
		}
		return cascade.SuccessResult(map[string]string{"stored": key}, started)

	case "recall":
		if key == "" {
			return cascade.ToolResult{}, invalidParam("recall requires key")
		}
		v, ok, err := t.store.Get(ctx, key)
		if err != nil {
			return cascade.ErrorResult(err.Error(), started), nil
		}
		if !ok {
			return cascade.NoDataResult(fmt.Sprintf("no fact stored under %q", key), started), nil
		}
		return cascade.SuccessResult(map[string]string{"key": key, "value": v}, started)

	case "forget":
		if key == "" {
			return cascade.ToolResult{}, invalidParam("forget requires key")
		}
		if err := t.store.Delete(ctx, key); err != nil {
			return cascade.ErrorResult(err.Error(), started), nil
		}
		return cascade.SuccessResult(map[string]string{"forgotten": key}, started)

	case "list":
		keys, err := t.store.List(ctx)
		if err != nil {
			return cascade.ErrorResult(err.Error(), started), nil
		}
		if len(keys) == 0 {
			return cascade.NoDataResult("no facts stored", started), nil
		}
		return cascade.SuccessResult(map[string]any{"keys": keys}, started)

	default:
		return cascade.ToolResult{}, invalidParam(fmt.Sprintf("unknown action %q", action))
	}
}

func invalidParam(msg string) error {
	return &cascade.ErrTool{
		Code:    cascade.ToolInvalidParameters,
		Tool:    "facts",
		Message: msg,
	}
}

var _ cascade.Tool = (*Tool)(nil)
