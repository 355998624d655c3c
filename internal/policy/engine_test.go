package policy

import (
	"net/http"
	"testing"

	"github.com/org/dashboard/pkg/models"
)

func principal(role int) models.Principal {
	return models.Principal{UserID: int64(role), Email: "u@example.com", RoleID: role}
}

func TestRolePermissions(t *testing.T) {
	if got := RolePermissions(RoleSuperAdmin); len(got) != 1 || got[0] != models.PermAll {
		t.Errorf("super admin permissions = %v", got)
	}
	if got := RolePermissions(99); len(got) != 0 {
		t.Errorf("unknown role should have no permissions, got %v", got)
	}

	// Callers must not be able to mutate the table.
	got := RolePermissions(RoleViewer)
	got[0] = "write:all"
	if RolePermissions(RoleViewer)[0] == "write:all" {
		t.Error("RolePermissions returned the backing slice")
	}
}

func TestHasPermission(t *testing.T) {
	cases := []struct {
		role    int
		perm    string
		allowed bool
	}{
		{RoleSuperAdmin, "anything:at-all", true},
		{RoleAdmin, models.PermManageUsers, true},
		{RoleAdmin, models.PermReadDashboard, false},
		{RoleEditor, models.PermWriteLeads, true},
		{RoleEditor, models.PermManageUsers, false},
		{RoleViewer, models.PermReadLeads, true},
		{RoleViewer, models.PermWriteLeads, false},
		{0, models.PermReadLeads, false},
	}
	for _, tc := range cases {
		if got := HasPermission(principal(tc.role), tc.perm); got != tc.allowed {
			t.Errorf("role=%d perm=%q: expected %v got %v", tc.role, tc.perm, tc.allowed, got)
		}
	}
}

func TestHasPermissionIgnoresTokenPermissions(t *testing.T) {
	p := principal(RoleViewer)
	p.Permissions = []string{models.PermAll}
	if HasPermission(p, models.PermManageUsers) {
		t.Error("permissions carried on the principal must not grant access")
	}
}

func TestCanAccessRoute(t *testing.T) {
	eng := NewEngine(DefaultRules())

	cases := []struct {
		role    int
		path    string
		method  string
		allowed bool
	}{
		{RoleAdmin, "/api/users", http.MethodGet, true},
		{RoleEditor, "/api/users", http.MethodGet, false},
		{RoleViewer, "/api/users/12", http.MethodGet, false},
		{RoleAdmin, "/api/users/12", http.MethodPost, false}, // method not in rule
		{RoleAdmin, "/api/users/12/", http.MethodPut, true},
		{RoleAdmin, "/api/users/update-role", http.MethodPut, false},
		{RoleSuperAdmin, "/api/users/update-role", http.MethodPut, true},
		{RoleViewer, "/api/customers", http.MethodGet, true},
		{RoleViewer, "/api/customers", http.MethodPost, false},
		{RoleViewer, "/api/customers/5", http.MethodGet, false},
		{RoleEditor, "/api/customers/5", http.MethodPut, true},
		{RoleViewer, "/api/messages/5", http.MethodDelete, false},
		{RoleViewer, "/api/security/alerts/77/resolve", http.MethodPost, false},
		{RoleAdmin, "/api/security/alerts/77/resolve", http.MethodPost, true},
		{RoleEditor, "/settings", http.MethodGet, false},
		{RoleSuperAdmin, "/settings", http.MethodGet, true},
	}
	for _, tc := range cases {
		got := eng.CanAccessRoute(principal(tc.role), tc.path, tc.method)
		if got != tc.allowed {
			t.Errorf("role=%d %s %s: expected allowed=%v got %v", tc.role, tc.method, tc.path, tc.allowed, got)
		}
	}
}

func TestUnmappedRouteFailsClosed(t *testing.T) {
	eng := NewEngine(DefaultRules())
	for _, path := range []string{"/api/reports", "/api/reports/9", "/admin/tools"} {
		for _, role := range []int{RoleAdmin, RoleEditor, RoleViewer, 0, 42} {
			if eng.CanAccessRoute(principal(role), path, http.MethodGet) {
				t.Errorf("role=%d should be denied on unmapped %q", role, path)
			}
		}
		if !eng.CanAccessRoute(principal(RoleSuperAdmin), path, http.MethodGet) {
			t.Errorf("super admin should be admitted on unmapped %q", path)
		}
	}
}

func TestRequiredRoles(t *testing.T) {
	eng := NewEngine(DefaultRules())
	got := eng.RequiredRoles("/api/users/3", http.MethodGet)
	if len(got) != 2 || got[0] != "Super Admin" || got[1] != "Admin" {
		t.Errorf("unexpected required roles %v", got)
	}
	if got := eng.RequiredRoles("/nope", http.MethodGet); len(got) != 1 || got[0] != "Super Admin" {
		t.Errorf("unmapped route should require Super Admin, got %v", got)
	}
}

func TestCanManageRole(t *testing.T) {
	cases := []struct {
		manager, target int
		allowed         bool
	}{
		{RoleSuperAdmin, RoleSuperAdmin, true},
		{RoleSuperAdmin, RoleViewer, true},
		{RoleAdmin, RoleSuperAdmin, false},
		{RoleAdmin, RoleAdmin, false},
		{RoleAdmin, RoleEditor, true},
		{RoleAdmin, RoleViewer, true},
		{RoleEditor, RoleViewer, false},
		{RoleViewer, RoleViewer, false},
		{RoleSuperAdmin, 17, false},
	}
	for _, tc := range cases {
		if got := CanManageRole(tc.manager, tc.target); got != tc.allowed {
			t.Errorf("manager=%d target=%d: expected %v got %v", tc.manager, tc.target, tc.allowed, got)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"":                      "/",
		"/":                     "/",
		"/api/users":            "/api/users",
		"/api/users/":           "/api/users",
		"/api/users/123":        "/api/users/{id}",
		"/api/alerts/9/resolve": "/api/alerts/{id}/resolve",
		"/api/users/12ab":       "/api/users/12ab",
	}
	for in, want := range cases {
		if got := NormalizePath(in); got != want {
			t.Errorf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNavigation(t *testing.T) {
	if nav := Navigation(RoleSuperAdmin); len(nav) != 6 || nav[5] != "settings" {
		t.Errorf("super admin navigation = %v", nav)
	}
	if nav := Navigation(99); len(nav) != 1 || nav[0] != "dashboard" {
		t.Errorf("unknown role navigation = %v", nav)
	}
}
