// Package eventlog persists cascade events to PostgreSQL for audit and
// offline inspection. It is a sink hanging off the in-memory stream, not
// a store the runtime reads back from: losing the table never affects a
// running workflow.
//
// The Sink accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package eventlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	cascade "github.com/nevindra/cascade"
)

// Sink writes events into one PostgreSQL table.
type Sink struct {
	pool   *pgxpool.Pool
	table  string
	logger *slog.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithTable overrides the default "events" table name.
func WithTable(name string) Option {
	return func(s *Sink) {
		if name != "" {
			s.table = name
		}
	}
}

// WithLogger sets the structured logger. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Sink using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Sink {
	s := &Sink{
		pool:   pool,
		table:  "events",
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init creates the events table and its indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Sink) Init(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			event_offset BIGINT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			scope TEXT NOT NULL,
			type TEXT NOT NULL,
			component_id TEXT NOT NULL,
			status TEXT NOT NULL,
			workflow_id TEXT NOT NULL,
			parent_workflow_id TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			data JSONB
		)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_workflow_idx ON %s(workflow_id, event_offset)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_scope_idx ON %s(scope)`, s.table, s.table),
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("eventlog: init: %w", err)
		}
	}
	return nil
}

// Write persists one event.
func (s *Sink) Write(ctx context.Context, ev cascade.Event) error {
	_, err := s.pool.Exec(ctx, s.insertSQL(), insertArgs(ev)...)
	if err != nil {
		return fmt.Errorf("eventlog: write event %s: %w", ev.ID, err)
	}
	return nil
}

// WriteBatch persists many events in one round trip.
func (s *Sink) WriteBatch(ctx context.Context, events []cascade.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(s.insertSQL(), insertArgs(ev)...)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("eventlog: write batch of %d: %w", len(events), err)
	}
	return nil
}

func (s *Sink) insertSQL() string {
	return fmt.Sprintf(`INSERT INTO %s
		(id, event_offset, ts, scope, type, component_id, status, workflow_id, parent_workflow_id, message, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`, s.table)
}

func insertArgs(ev cascade.Event) []any {
	var data any
	if len(ev.Data) > 0 {
		data = string(ev.Data)
	}
	return []any{
		ev.ID, int64(ev.Offset), ev.Timestamp, string(ev.Scope), string(ev.Type),
		ev.ComponentID, string(ev.Status), ev.WorkflowID, ev.ParentWorkflowID,
		ev.Message, data,
	}
}

// Follow backfills everything the stream already holds from fromOffset,
// then persists live events until ctx is cancelled. Run it in its own
// goroutine; it returns ctx.Err() on shutdown.
func (s *Sink) Follow(ctx context.Context, stream *cascade.EventStream, fromOffset uint64) error {
	sub := stream.Subscribe()
	defer sub.Close()

	// Backfill after subscribing so nothing falls between replay and live.
	// Duplicates across the seam are absorbed by ON CONFLICT DO NOTHING.
	backlog := stream.FromOffset(fromOffset)
	if err := s.WriteBatch(ctx, backlog); err != nil {
		return err
	}
	var next uint64
	if n := len(backlog); n > 0 {
		next = backlog[n-1].Offset + 1
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if ev.Offset < next {
				continue
			}
			if ev.Offset > next {
				// The subscription dropped events while we lagged; recover
				// the gap from history.
				if err := s.WriteBatch(ctx, stream.FromOffset(next)); err != nil {
					return err
				}
				next = ev.Offset + 1
				continue
			}
			if err := s.Write(ctx, ev); err != nil {
				s.logger.Warn("event write failed", "offset", ev.Offset, "error", err)
				return err
			}
			next = ev.Offset + 1
		}
	}
}
