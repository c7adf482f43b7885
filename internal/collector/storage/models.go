// Package storage is the PostgreSQL-backed persistence layer for
// cmd/rvtrace-collectord and cmd/rvtrace-serve. It is the decode-run
// analogue of the TripWire dashboard's storage package: one row per
// registered run, one row per distinct control-flow arc observed during
// that run, and one tamper-evident provenance entry per run.
package storage

import (
	"encoding/json"
	"time"
)

// Run maps to the `runs` table: one row per RegisterRun call.
type Run struct {
	RunID        string     `json:"run_id"`
	BinaryPath   string     `json:"binary_path"`
	BinarySHA256 string     `json:"binary_sha256"`
	Host         string     `json:"host"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	EventCount   int64      `json:"event_count"`
}

// Edge maps to the `run_edges` table: one row per distinct (from, to)
// arc observed while streaming a run's reconstructed events, with the
// number of times that arc was taken.
type Edge struct {
	RunID string `json:"run_id"`
	From  uint64 `json:"from"`
	To    uint64 `json:"to"`
	Count int64  `json:"count"`
}

// AuditEntry maps to the `audit_entries` table: a SHA-256 hash-chained
// provenance record, one per run, chained per Host exactly like
// internal/runaudit's local ledger but centralized across every decode
// host that streams to this collector.
type AuditEntry struct {
	RunID       string          `json:"run_id"`
	Host        string          `json:"host"`
	SequenceNum int64           `json:"sequence_num"`
	EventHash   string          `json:"event_hash"`
	PrevHash    string          `json:"prev_hash"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

// RunQuery carries the filter and pagination parameters for ListRuns.
type RunQuery struct {
	Host   string
	Limit  int
	Offset int
}
