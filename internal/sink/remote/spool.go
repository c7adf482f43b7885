// Package remote implements the gRPC streaming sink: it forwards every
// reconstructed event to a collector over a persistent, mTLS-secured
// bidirectional stream, queuing events in a local WAL-mode SQLite spool
// whenever the stream is down so that no event is lost across a
// reconnect.
package remote

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql
)

// spoolDDL is the spool's schema: one row per opaque wire-encoded event
// payload, with a delivered flag.
const spoolDDL = `
CREATE TABLE IF NOT EXISTS event_spool (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id    TEXT    NOT NULL,
    payload   BLOB    NOT NULL,
    delivered INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_event_spool_pending
    ON event_spool (delivered, id);
`

// spool is a WAL-mode SQLite-backed durable queue for EventFrame
// payloads, used by Sink to survive a stream disconnect without losing
// events, with an enqueue/dequeue/ack shape.
type spool struct {
	db *sql.DB
}

// openSpool opens (or creates) the spool database at path and applies
// its schema.
func openSpool(path string) (*spool, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("remote: open spool %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("remote: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("remote: set synchronous = NORMAL: %w", err)
	}
	if _, err := db.Exec(spoolDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("remote: apply spool schema: %w", err)
	}
	return &spool{db: db}, nil
}

// enqueue persists payload for later delivery under runID.
func (s *spool) enqueue(ctx context.Context, runID string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_spool (run_id, payload) VALUES (?, ?)`, runID, payload)
	if err != nil {
		return fmt.Errorf("remote: spool enqueue: %w", err)
	}
	return nil
}

// spooledEvent is one undelivered row returned by dequeue.
type spooledEvent struct {
	ID      int64
	RunID   string
	Payload []byte
}

// dequeue returns up to n undelivered rows in insertion order.
func (s *spool) dequeue(ctx context.Context, n int) ([]spooledEvent, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, payload FROM event_spool WHERE delivered = 0 ORDER BY id LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("remote: spool dequeue: %w", err)
	}
	defer rows.Close()

	var out []spooledEvent
	for rows.Next() {
		var se spooledEvent
		if err := rows.Scan(&se.ID, &se.RunID, &se.Payload); err != nil {
			return nil, fmt.Errorf("remote: spool scan: %w", err)
		}
		out = append(out, se)
	}
	return out, rows.Err()
}

// ack marks id as delivered.
func (s *spool) ack(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE event_spool SET delivered = 1 WHERE id = ? AND delivered = 0`, id)
	if err != nil {
		return fmt.Errorf("remote: spool ack: %w", err)
	}
	return nil
}

// depth returns the number of undelivered rows.
func (s *spool) depth(ctx context.Context) int {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_spool WHERE delivered = 0`).Scan(&n); err != nil {
		return 0
	}
	return n
}

func (s *spool) close() error {
	return s.db.Close()
}
