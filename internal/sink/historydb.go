package sink

import (
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql

	"github.com/rvtrace/rvtrace/internal/trace"
)

// historyDDL is the schema for the run-history database: one row per
// decode invocation plus one row per distinct control-flow arc observed
// during that run.
const historyDDL = `
CREATE TABLE IF NOT EXISTS runs (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    binary_path   TEXT    NOT NULL,
    binary_sha256 TEXT    NOT NULL,
    trace_path    TEXT    NOT NULL,
    sinks_enabled TEXT    NOT NULL,
    started_at    TEXT    NOT NULL,
    ended_at      TEXT,
    exit_status   TEXT
);
CREATE TABLE IF NOT EXISTS run_edges (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id     INTEGER NOT NULL REFERENCES runs(id),
    from_addr  INTEGER NOT NULL,
    to_addr    INTEGER NOT NULL,
    from_file  TEXT,
    from_line  INTEGER,
    to_file    TEXT,
    to_line    INTEGER,
    count      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_edges_run ON run_edges (run_id);
`

// RunMeta describes the decode invocation a HistoryDBSink records as the
// "runs" row.
type RunMeta struct {
	BinaryPath       string
	BinarySHA256     string
	EncodedTracePath string
	SinksEnabled     []string
	StartedAt        time.Time
}

type edgeKey struct {
	from, to uint64
}

type edgeLoc struct {
	fromFile string
	fromLine int
	toFile   string
	toLine   int
	count    uint64
}

// HistoryDBSink is a WAL-mode SQLite run-history sink: it records one
// "runs" row for the decode invocation and, on Flush, one "run_edges" row
// per distinct control-flow arc it observed, with the number of times
// that arc was taken. A dashboard process can read the database
// concurrently with the write-ahead log in place.
type HistoryDBSink struct {
	db    *sql.DB
	lr    LineResolver
	runID int64

	edges   map[edgeKey]*edgeLoc
	pending atomic.Int64
}

// NewHistoryDB opens (or creates) the SQLite database at path, applies
// the schema, and inserts the "runs" row for meta. lr may be nil, in
// which case run_edges rows carry an empty file name and line 0 in the
// source-location columns.
func NewHistoryDB(path string, meta RunMeta, lr LineResolver) (*HistoryDBSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("historydb: open %q: %w", path, err)
	}

	// SQLite allows only one writer at a time; a single pooled connection
	// serialises every call made through db so concurrent Enqueue-style
	// writers never see "database is locked".
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("historydb: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("historydb: set synchronous = NORMAL: %w", err)
	}
	if _, err := db.Exec(historyDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("historydb: apply schema: %w", err)
	}

	result, err := db.Exec(
		`INSERT INTO runs (binary_path, binary_sha256, trace_path, sinks_enabled, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		meta.BinaryPath,
		meta.BinarySHA256,
		meta.EncodedTracePath,
		strings.Join(meta.SinksEnabled, ","),
		meta.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("historydb: insert run row: %w", err)
	}
	runID, err := result.LastInsertId()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("historydb: read run id: %w", err)
	}

	return &HistoryDBSink{
		db:    db,
		lr:    lr,
		runID: runID,
		edges: make(map[edgeKey]*edgeLoc),
	}, nil
}

func (s *HistoryDBSink) OnEvent(e trace.Event) error {
	switch e.Kind {
	case trace.KindTakenBranch, trace.KindInferrableJump, trace.KindUninferableJump:
	default:
		return nil
	}

	key := edgeKey{from: e.Arc.From, to: e.Arc.To}
	loc, ok := s.edges[key]
	if !ok {
		loc = &edgeLoc{}
		if s.lr != nil {
			if f, l, ok := s.lr.ResolveLine(e.Arc.From); ok {
				loc.fromFile, loc.fromLine = f, l
			}
			if f, l, ok := s.lr.ResolveLine(e.Arc.To); ok {
				loc.toFile, loc.toLine = f, l
			}
		}
		s.edges[key] = loc
		s.pending.Add(1)
	}
	loc.count++
	return nil
}

// Depth reports the number of distinct control-flow arcs buffered in
// memory and not yet written to run_edges — the same atomic-counter
// idiom a durable queue's pending-depth method uses, here measuring work
// still to be flushed rather than work still to be delivered.
func (s *HistoryDBSink) Depth() int {
	return int(s.pending.Load())
}

// Flush writes one run_edges row per distinct arc observed and marks the
// run row as completed.
func (s *HistoryDBSink) Flush() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("historydb: begin flush transaction: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO run_edges (run_id, from_addr, to_addr, from_file, from_line, to_file, to_line, count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("historydb: prepare run_edges insert: %w", err)
	}

	for key, loc := range s.edges {
		if _, err := stmt.Exec(s.runID, key.from, key.to, loc.fromFile, loc.fromLine, loc.toFile, loc.toLine, loc.count); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("historydb: insert run_edges row: %w", err)
		}
	}
	_ = stmt.Close()

	if _, err := tx.Exec(
		`UPDATE runs SET ended_at = ?, exit_status = 'ok' WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), s.runID,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("historydb: mark run complete: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("historydb: commit flush transaction: %w", err)
	}

	s.pending.Store(0)
	return nil
}

// Close closes the underlying database connection. Pipeline treats every
// sink's output resource as a closer; HistoryDBSink's is its *sql.DB
// rather than an *os.File.
func (s *HistoryDBSink) Close() error {
	return s.db.Close()
}
