// Package rest is the read-only HTTP API over the collector's
// PostgreSQL store, generalized from the TripWire dashboard's
// internal/server/rest package (alerts/hosts/audit) to runs/edges/audit.
package rest

import (
	"context"

	"github.com/rvtrace/rvtrace/internal/collector/storage"
)

// Store is the minimal read surface the REST handlers need, narrowed
// from *storage.Store so handler tests can substitute a stub.
type Store interface {
	ListRuns(ctx context.Context, q storage.RunQuery) ([]storage.Run, error)
	GetRun(ctx context.Context, runID string) (*storage.Run, error)
	GetRunEdges(ctx context.Context, runID string) ([]storage.Edge, error)
	QueryAuditEntriesForRun(ctx context.Context, runID string) ([]storage.AuditEntry, error)
}
