package rest

import (
	"crypto/rsa"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the chi router for cmd/rvtrace-serve. Every
// /api/v1/* route requires a valid RS256 bearer token unless pubKey is
// nil, in which case auth is skipped (local/dev use only).
func NewRouter(srv *Server, pubKey *rsa.PublicKey) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealthz)

	r.Group(func(r chi.Router) {
		if pubKey != nil {
			r.Use(JWTMiddleware(pubKey))
		}
		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/runs", srv.handleListRuns)
			r.Get("/runs/{id}/edges", srv.handleGetRunEdges)
			r.Get("/runs/{id}/audit", srv.handleGetRunAudit)
		})
	})

	return r
}
