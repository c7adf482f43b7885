package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultBatchSize is the maximum number of edge rows held in-memory
	// before an automatic flush is triggered.
	DefaultBatchSize = 100

	// DefaultFlushInterval is how often the background goroutine flushes
	// pending edges even when the batch has not yet reached
	// DefaultBatchSize.
	DefaultFlushInterval = 100 * time.Millisecond

	// genesisHash seeds the per-host audit chain, mirroring
	// internal/runaudit's local ledger convention.
	genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"
)

// Store is the PostgreSQL-backed storage layer for the rvtrace collector.
//
// Edge ingestion is batched: callers append individual Edge values via
// BatchInsertEdge, which accumulates them in memory and flushes to the
// database either when the buffer reaches batchSize or when the
// background ticker fires, whichever comes first. Run and audit
// operations are executed immediately, mirroring the teacher's alert
// storage design exactly.
type Store struct {
	pool *pgxpool.Pool

	mu            sync.Mutex
	batch         []Edge
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// New opens a pgxpool connection to connStr, pings the database, and
// starts the background flush goroutine.
func New(ctx context.Context, connStr string, batchSize int, flushInterval time.Duration) (*Store, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pool.Ping: %w", err)
	}

	s := &Store{
		pool:          pool,
		batch:         make([]Edge, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

// Close stops the background flush goroutine, flushes any remaining
// buffered edges, and closes the connection pool. Safe to call more than
// once.
func (s *Store) Close(ctx context.Context) {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
		<-s.doneCh
		_ = s.Flush(ctx)
	}
	s.pool.Close()
}

func (s *Store) flushLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			_ = s.Flush(context.Background())
		}
	}
}

// BatchInsertEdge enqueues e for deferred batch insertion. When the
// buffer reaches batchSize, Flush is called synchronously so the caller
// observes back-pressure rather than unbounded memory growth.
func (s *Store) BatchInsertEdge(ctx context.Context, e Edge) error {
	s.mu.Lock()
	s.batch = append(s.batch, e)
	full := len(s.batch) >= s.batchSize
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush drains the current edge buffer and upserts all rows into
// run_edges in a single pgx.Batch round-trip, accumulating the count for
// an arc already on file for the run.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.batch) == 0 {
		s.mu.Unlock()
		return nil
	}
	toInsert := s.batch
	s.batch = make([]Edge, 0, s.batchSize)
	s.mu.Unlock()

	const query = `
		INSERT INTO run_edges (run_id, from_addr, to_addr, count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id, from_addr, to_addr)
		DO UPDATE SET count = run_edges.count + EXCLUDED.count`

	b := &pgx.Batch{}
	for _, e := range toInsert {
		b.Queue(query, e.RunID, e.From, e.To, e.Count)
	}

	br := s.pool.SendBatch(ctx, b)
	defer br.Close()

	for range toInsert {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec edge: %w", err)
		}
	}
	return nil
}

// --- Run operations ---

// CreateRun inserts a new run row.
func (s *Store) CreateRun(ctx context.Context, r Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO runs (run_id, binary_path, binary_sha256, host, started_at)
		VALUES ($1, $2, $3, $4, $5)`,
		r.RunID, r.BinaryPath, r.BinarySHA256, r.Host, r.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// EndRun records the final event count and completion time for a run.
func (s *Store) EndRun(ctx context.Context, runID string, eventCount int64, endedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE runs SET ended_at = $2, event_count = $3 WHERE run_id = $1`,
		runID, endedAt, eventCount,
	)
	if err != nil {
		return fmt.Errorf("end run %s: %w", runID, err)
	}
	return nil
}

// GetRun fetches a single run by ID, or an error wrapping pgx.ErrNoRows
// when not found.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT run_id, binary_path, binary_sha256, host, started_at, ended_at, event_count
		FROM   runs
		WHERE  run_id = $1`, runID)
	r, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return r, nil
}

// ListRuns returns runs matching q, most recently started first.
func (s *Store) ListRuns(ctx context.Context, q RunQuery) ([]Run, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}

	args := []any{q.Limit, q.Offset}
	where := ""
	if q.Host != "" {
		where = "WHERE host = $3"
		args = append(args, q.Host)
	}

	sql := fmt.Sprintf(`
		SELECT run_id, binary_path, binary_sha256, host, started_at, ended_at, event_count
		FROM   runs
		%s
		ORDER  BY started_at DESC
		LIMIT  $1 OFFSET $2`, where)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRunEdges returns every distinct arc recorded for runID.
func (s *Store) GetRunEdges(ctx context.Context, runID string) ([]Edge, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, from_addr, to_addr, count
		FROM   run_edges
		WHERE  run_id = $1
		ORDER  BY from_addr, to_addr`, runID)
	if err != nil {
		return nil, fmt.Errorf("get run edges %s: %w", runID, err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.RunID, &e.From, &e.To, &e.Count); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// --- Audit chain ---

// AppendAuditEntry computes the next hash in host's chain (seeded with
// genesisHash for a host's first entry) and inserts the new entry inside
// a transaction that locks the host's most recent row, so concurrent
// runs from the same host cannot race on sequence_num.
func (s *Store) AppendAuditEntry(ctx context.Context, host string, payload json.RawMessage) (AuditEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return AuditEntry{}, fmt.Errorf("begin audit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var seq int64
	var prevHash string
	err = tx.QueryRow(ctx, `
		SELECT sequence_num, event_hash FROM audit_entries
		WHERE host = $1 ORDER BY sequence_num DESC LIMIT 1 FOR UPDATE`, host,
	).Scan(&seq, &prevHash)
	switch {
	case err == pgx.ErrNoRows:
		seq = 0
		prevHash = genesisHash
	case err != nil:
		return AuditEntry{}, fmt.Errorf("read audit chain head: %w", err)
	default:
		seq++
	}

	now := time.Now().UTC()
	hash := chainHash(prevHash, host, seq, payload, now)

	e := AuditEntry{
		Host:        host,
		SequenceNum: seq,
		EventHash:   hash,
		PrevHash:    prevHash,
		Payload:     payload,
		CreatedAt:   now,
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_entries (host, sequence_num, event_hash, prev_hash, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.Host, e.SequenceNum, e.EventHash, e.PrevHash, []byte(e.Payload), e.CreatedAt,
	)
	if err != nil {
		return AuditEntry{}, fmt.Errorf("insert audit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return AuditEntry{}, fmt.Errorf("commit audit tx: %w", err)
	}
	return e, nil
}

// QueryAuditEntriesForRun returns the audit entries whose payload
// references runID, ordered by sequence_num ascending. The payload is
// searched rather than indexed by run_id directly since a run's audit
// entry is keyed by (host, sequence_num), matching the per-host chain
// internal/runaudit keeps locally.
func (s *Store) QueryAuditEntriesForRun(ctx context.Context, runID string) ([]AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT host, sequence_num, event_hash, prev_hash, payload, created_at
		FROM   audit_entries
		WHERE  payload->>'run_id' = $1
		ORDER  BY sequence_num ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query audit entries for run %s: %w", runID, err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var payload []byte
		if err := rows.Scan(&e.Host, &e.SequenceNum, &e.EventHash, &e.PrevHash, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Payload = payload
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// chainHash reproduces internal/runaudit's hash-chaining scheme
// (SHA-256 over the previous hash and this entry's content) against the
// centralized per-host chain.
func chainHash(prevHash, host string, seq int64, payload json.RawMessage, createdAt time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s|%d", prevHash, host, seq, payload, createdAt.UnixNano())
	return hex.EncodeToString(h.Sum(nil))
}

// --- scan helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	err := s.Scan(&r.RunID, &r.BinaryPath, &r.BinarySHA256, &r.Host, &r.StartedAt, &r.EndedAt, &r.EventCount)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
