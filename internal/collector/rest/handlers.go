package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rvtrace/rvtrace/internal/collector/storage"
)

// Server implements the read-only run/edge/audit API.
type Server struct {
	store Store
}

// NewServer builds a Server backed by store.
func NewServer(store Store) *Server {
	return &Server{store: store}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListRuns serves GET /api/v1/runs, optionally filtered by a
// host query parameter and paginated by limit/offset.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := storage.RunQuery{
		Host:  r.URL.Query().Get("host"),
		Limit: parseIntDefault(r.URL.Query().Get("limit"), 100),
	}
	if q.Limit <= 0 || q.Limit > 1000 {
		q.Limit = 100
	}
	q.Offset = parseIntDefault(r.URL.Query().Get("offset"), 0)

	runs, err := s.store.ListRuns(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []storage.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleGetRunEdges serves GET /api/v1/runs/{id}/edges.
func (s *Server) handleGetRunEdges(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if _, err := s.store.GetRun(r.Context(), runID); err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	edges, err := s.store.GetRunEdges(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query edges")
		return
	}
	if edges == nil {
		edges = []storage.Edge{}
	}
	writeJSON(w, http.StatusOK, edges)
}

// handleGetRunAudit serves GET /api/v1/runs/{id}/audit.
func (s *Server) handleGetRunAudit(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	entries, err := s.store.QueryAuditEntriesForRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query audit entries")
		return
	}
	if entries == nil {
		entries = []storage.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
