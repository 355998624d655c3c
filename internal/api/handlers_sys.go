package api

import (
	"context"
	"net/http"
	"time"

	"github.com/org/dashboard/internal/policy"
)

// pages are the gated page routes. Rendering lives in the frontend; the
// server only enforces access and reports who is looking.
var pages = []string{"dashboard", "leads", "customers", "messages", "users", "settings"}

// HealthHandler handles GET /api/health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "database": "down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "database": "up"})
}

// PageHandler serves a gated page placeholder.
func (s *Server) PageHandler(page string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFromContext(r.Context())
		if p == nil {
			http.Redirect(w, r, loginPath, http.StatusFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"page":       page,
			"userId":     p.UserID,
			"role":       policy.RoleName(p.RoleID),
			"navigation": policy.Navigation(p.RoleID),
		})
	}
}
