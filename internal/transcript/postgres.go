package transcript

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink persists entries to a conversation_entries table.
// All methods are safe for concurrent use; the pool handles connection
// management.
type PostgresSink struct {
	pool *pgxpool.Pool
}

var _ Sink = (*PostgresSink)(nil)

// schema is applied by Migrate. Idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS conversation_entries (
    id         BIGSERIAL PRIMARY KEY,
    session_id TEXT        NOT NULL,
    role       TEXT        NOT NULL,
    text       TEXT        NOT NULL,
    backend    TEXT        NOT NULL DEFAULT '',
    timestamp  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS conversation_entries_session_idx
    ON conversation_entries (session_id, timestamp);
`

// NewPostgresSink connects to dsn, applies the schema, and returns a ready
// sink. Close releases the pool.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("transcript: connect: %w", err)
	}
	s := &PostgresSink{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresSink) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("transcript: apply schema: %w", err)
	}
	return nil
}

// Append implements [Sink].
func (s *PostgresSink) Append(ctx context.Context, entry Entry) error {
	const q = `
		INSERT INTO conversation_entries (session_id, role, text, backend, timestamp)
		VALUES ($1, $2, $3, $4, $5)`

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.pool.Exec(ctx, q, entry.SessionID, entry.Role, entry.Text, entry.Backend, ts)
	if err != nil {
		return fmt.Errorf("transcript: append entry: %w", err)
	}
	return nil
}

// Recent implements [Sink]. Entries are returned oldest first.
func (s *PostgresSink) Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	const q = `
		SELECT session_id, role, text, backend, timestamp
		FROM (
		    SELECT session_id, role, text, backend, timestamp
		    FROM   conversation_entries
		    WHERE  session_id = $1
		    ORDER  BY timestamp DESC, id DESC
		    LIMIT  $2
		) latest
		ORDER BY timestamp, session_id`

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("transcript: query recent: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		err := row.Scan(&e.SessionID, &e.Role, &e.Text, &e.Backend, &e.Timestamp)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("transcript: scan rows: %w", err)
	}
	return entries, nil
}

// Close releases the underlying connection pool.
func (s *PostgresSink) Close() {
	s.pool.Close()
}
