package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/org/dashboard/internal/policy"
	"github.com/org/dashboard/internal/storage"
	"github.com/org/dashboard/pkg/models"
)

// NavigationHandler handles GET /api/navigation
func (s *Server) NavigationHandler(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"role":       policy.RoleName(p.RoleID),
		"navigation": policy.Navigation(p.RoleID),
	})
}

// ListUsersHandler handles GET /api/users
func (s *Server) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 200)
	offset := queryInt(r, "offset", 0, 0)

	users, err := s.store.ListUsers(r.Context(), limit, offset)
	if err != nil {
		s.internalError(w, r, err, "Failed to list users")
		return
	}
	out := make([]models.PublicUser, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

// GetUserHandler handles GET /api/users/{id}
func (s *Server) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}
	user, err := s.store.GetUserByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		s.internalError(w, r, err, "Failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": user.Public()})
}

// UpdateRoleHandler handles PUT /api/users/update-role. The route rule
// admits only the top role; CanManageRole is still checked against both
// the current and the requested role of the target.
func (s *Server) UpdateRoleHandler(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req struct {
		UserID int64 `json:"userId"`
		RoleID int   `json:"roleId"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if req.UserID == 0 || req.RoleID == 0 {
		writeError(w, http.StatusBadRequest, "Missing parameters")
		return
	}
	if _, ok := policy.LookupRole(req.RoleID); !ok {
		writeError(w, http.StatusBadRequest, "Unknown role")
		return
	}
	if req.UserID == p.UserID {
		writeError(w, http.StatusBadRequest, "Cannot change your own role")
		return
	}

	ctx := r.Context()
	ri := requestInfo(r)

	target, err := s.store.GetUserByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		s.internalError(w, r, err, "Failed to update role")
		return
	}

	if !policy.CanManageRole(p.RoleID, target.RoleID) || !policy.CanManageRole(p.RoleID, req.RoleID) {
		s.auditor.LogFailedAuthorization(ctx, ri, &p.UserID, r.URL.Path,
			[]string{policy.RoleName(policy.RoleSuperAdmin)}, policy.RoleName(p.RoleID))
		writeError(w, http.StatusForbidden, "Insufficient permissions")
		return
	}

	if err := s.store.UpdateUserRole(ctx, target.ID, req.RoleID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		s.internalError(w, r, err, "Failed to update role")
		return
	}

	resourceID := strconv.FormatInt(target.ID, 10)
	before := map[string]any{"roleId": target.RoleID}
	after := map[string]any{"roleId": req.RoleID}
	s.auditor.LogDataModification(ctx, ri, &p.UserID, "users", resourceID, before, after)
	s.auditor.LogEvent(ctx, &models.AuditEvent{
		UserID:     &p.UserID,
		Action:     models.ActionRoleChanged,
		Category:   models.CategoryAuthorization,
		Level:      models.LevelWarning,
		Resource:   "users",
		ResourceID: resourceID,
		OldValues:  before,
		NewValues:  after,
		IPAddress:  ri.IPAddress,
		UserAgent:  ri.UserAgent,
		Success:    true,
	})

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Role updated successfully"})
}
