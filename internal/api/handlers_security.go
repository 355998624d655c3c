package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/org/dashboard/internal/audit"
	"github.com/org/dashboard/internal/policy"
	"github.com/org/dashboard/internal/storage"
	"github.com/org/dashboard/pkg/models"
)

// AlertsHandler handles GET /api/security/alerts. Pass resolved=true to
// include resolved alerts.
func (s *Server) AlertsHandler(w http.ResponseWriter, r *http.Request) {
	includeResolved := r.URL.Query().Get("resolved") == "true"
	alerts, err := s.monitor.Alerts(r.Context(), includeResolved)
	if err != nil {
		s.internalError(w, r, err, "Failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []*models.SecurityAlert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": alerts})
}

// ResolveAlertHandler handles POST /api/security/alerts/{id}/resolve
func (s *Server) ResolveAlertHandler(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	// Resolving also requires the user-management grant.
	if !policy.HasPermission(*p, models.PermManageUsers) {
		s.auditor.LogFailedAuthorization(r.Context(), requestInfo(r), &p.UserID, r.URL.Path,
			[]string{models.PermManageUsers}, policy.RoleName(p.RoleID))
		writeError(w, http.StatusForbidden, "Insufficient permissions")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid alert id")
		return
	}
	var req struct {
		Resolution string `json:"resolution"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	switch err := s.monitor.ResolveAlert(r.Context(), id, req.Resolution); {
	case errors.Is(err, audit.ErrResolutionRequired):
		writeError(w, http.StatusBadRequest, "Validation failed", "Resolution is required")
		return
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "Alert not found or already resolved")
		return
	case err != nil:
		s.internalError(w, r, err, "Failed to resolve alert")
		return
	}

	ri := requestInfo(r)
	s.auditor.LogEvent(r.Context(), &models.AuditEvent{
		UserID:     &p.UserID,
		Action:     models.ActionAlertResolved,
		Category:   models.CategorySecurity,
		Level:      models.LevelInfo,
		Resource:   "security_alerts",
		ResourceID: strconv.FormatInt(id, 10),
		Details:    map[string]any{"resolution": req.Resolution},
		IPAddress:  ri.IPAddress,
		UserAgent:  ri.UserAgent,
		Success:    true,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// SecuritySummaryHandler handles GET /api/security/summary
func (s *Server) SecuritySummaryHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := s.auditor.SecuritySummary(r.Context())
	if err != nil {
		s.internalError(w, r, err, "Failed to load security summary")
		return
	}
	active, err := s.monitor.ActiveAlerts(r.Context())
	if err != nil {
		s.internalError(w, r, err, "Failed to load security summary")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summary":      summary,
		"activeAlerts": len(active),
	})
}

// AuditLogHandler handles GET /api/security/audit
func (s *Server) AuditLogHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.AuditFilter{
		Action:    q.Get("action"),
		Level:     models.AuditLevel(q.Get("level")),
		IPAddress: q.Get("ip"),
		Limit:     queryInt(r, "limit", 100, 500),
		Offset:    queryInt(r, "offset", 0, 0),
	}
	if v := q.Get("userId"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.UserID = &id
		}
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err == nil {
			filter.Since = &t
		}
	}

	events, err := s.auditor.Query(r.Context(), filter)
	if err != nil {
		s.internalError(w, r, err, "Failed to query audit log")
		return
	}
	if events == nil {
		events = []*models.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": events})
}
