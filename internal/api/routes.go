package api

import (
	"net/http"

	"github.com/qhse-systems/qhse-outbox/internal/api/middleware"
)

const (
	roleQuality     = "quality"
	roleProcurement = "procurement"
	roleAuditor     = "auditor"
	roleAdmin       = "admin"
)

// setupRoutes registers every HTTP endpoint on mux. Protected routes are
// wrapped individually with the auth and role middleware they need, since
// only /auth/login is public among the write/read business endpoints and
// each endpoint admits a different set of roles.
func (s *Server) setupRoutes(mux *http.ServeMux, loginLimiter middleware.RateLimiter) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /ping", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.Handle("POST /auth/login", middleware.Apply(http.HandlerFunc(s.handleLogin),
		middleware.WithRateLimit(loginLimiter, s.logger),
	))

	readRoles := []string{roleAuditor, roleQuality, roleProcurement, roleAdmin}

	mux.Handle("POST /suppliers", s.protect(s.handleCreateSupplier, roleProcurement, roleAdmin))
	mux.Handle("GET /suppliers", s.protect(s.handleListSuppliers, readRoles...))
	mux.Handle("GET /suppliers/{id}", s.protect(s.handleGetSupplier, readRoles...))
	mux.Handle("PATCH /suppliers/{id}/certification", s.protect(s.handleUpdateCertification, roleProcurement, roleAdmin))

	mux.Handle("POST /ncs", s.protect(s.handleCreateNC, roleQuality, roleAdmin))
	mux.Handle("PATCH /ncs/{id}/close", s.protect(s.handleCloseNC, roleQuality, roleAdmin))
	mux.Handle("GET /ncs", s.protect(s.handleListNCs, readRoles...))

	mux.Handle("GET /kpi", s.protect(s.handleKPI, roleAuditor, roleQuality, roleAdmin))
	mux.Handle("GET /audit-log", s.protect(s.handleAuditLog, roleAuditor, roleAdmin))
}

// protect wraps handler with bearer-token authentication and role
// enforcement restricted to allowed.
func (s *Server) protect(handler http.HandlerFunc, allowed ...string) http.Handler {
	return middleware.Apply(handler,
		middleware.WithAuth(s.tokenIssuer),
		middleware.WithRole(allowed...),
	)
}
