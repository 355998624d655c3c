package policy

import (
	"net/http"
	"strings"

	"github.com/org/dashboard/pkg/models"
)

// Role ids. The set is closed.
const (
	RoleSuperAdmin = 1
	RoleAdmin      = 2
	RoleEditor     = 3
	RoleViewer     = 4
)

// DefaultRole is assigned to self-registered accounts.
const DefaultRole = RoleViewer

// idSegment replaces numeric path segments before rule lookup.
const idSegment = "{id}"

var roles = map[int]models.Role{
	RoleSuperAdmin: {ID: RoleSuperAdmin, Name: "Super Admin", Permissions: []string{models.PermAll}},
	RoleAdmin: {ID: RoleAdmin, Name: "Admin", Permissions: []string{
		models.PermReadAll, models.PermWriteAll, models.PermDeleteLimited, models.PermManageUsers,
	}},
	RoleEditor: {ID: RoleEditor, Name: "Editor", Permissions: []string{
		models.PermReadCustomers, models.PermWriteCustomers, models.PermReadMessages,
		models.PermReadLeads, models.PermWriteLeads,
	}},
	RoleViewer: {ID: RoleViewer, Name: "Viewer", Permissions: []string{
		models.PermReadCustomers, models.PermReadMessages, models.PermReadLeads, models.PermReadDashboard,
	}},
}

var navigation = map[int][]string{
	RoleSuperAdmin: {"dashboard", "leads", "customers", "messages", "users", "settings"},
	RoleAdmin:      {"dashboard", "leads", "customers", "messages", "users"},
	RoleEditor:     {"dashboard", "leads", "customers", "messages"},
	RoleViewer:     {"dashboard", "leads", "customers", "messages"},
}

// Roles returns every known role ordered by id.
func Roles() []models.Role {
	out := make([]models.Role, 0, len(roles))
	for id := RoleSuperAdmin; id <= RoleViewer; id++ {
		out = append(out, roles[id])
	}
	return out
}

// LookupRole returns the role for id.
func LookupRole(id int) (models.Role, bool) {
	r, ok := roles[id]
	return r, ok
}

// RoleName returns the display name of a role, or "Unknown".
func RoleName(id int) string {
	if r, ok := roles[id]; ok {
		return r.Name
	}
	return "Unknown"
}

// RolePermissions returns a copy of the permission set for roleID.
// Unknown roles have no permissions.
func RolePermissions(roleID int) []string {
	r, ok := roles[roleID]
	if !ok {
		return []string{}
	}
	return append([]string(nil), r.Permissions...)
}

// HasPermission reports whether the principal's role grants perm, either
// literally or through the wildcard. The role table is consulted at call
// time; the permissions carried in the token are not trusted.
func HasPermission(p models.Principal, perm string) bool {
	r, ok := roles[p.RoleID]
	if !ok {
		return false
	}
	for _, granted := range r.Permissions {
		if granted == models.PermAll || granted == perm {
			return true
		}
	}
	return false
}

// CanManageRole encodes the role hierarchy for role assignment.
func CanManageRole(managerRoleID, targetRoleID int) bool {
	if _, ok := roles[targetRoleID]; !ok {
		return false
	}
	switch managerRoleID {
	case RoleSuperAdmin:
		return true
	case RoleAdmin:
		return targetRoleID == RoleEditor || targetRoleID == RoleViewer
	default:
		return false
	}
}

// Navigation returns the page sections visible to roleID.
func Navigation(roleID int) []string {
	if nav, ok := navigation[roleID]; ok {
		return append([]string(nil), nav...)
	}
	return []string{"dashboard"}
}

// RouteRule grants a set of roles access to a normalized route for some methods.
type RouteRule struct {
	Pattern string
	Methods []string
	Roles   []int
}

func (r RouteRule) allowsMethod(method string) bool {
	for _, m := range r.Methods {
		if m == method {
			return true
		}
	}
	return false
}

func (r RouteRule) allowsRole(roleID int) bool {
	for _, id := range r.Roles {
		if id == roleID {
			return true
		}
	}
	return false
}

var (
	allMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}
	everyone   = []int{RoleSuperAdmin, RoleAdmin, RoleEditor, RoleViewer}
	admins     = []int{RoleSuperAdmin, RoleAdmin}
	writers    = []int{RoleSuperAdmin, RoleAdmin, RoleEditor}
)

// DefaultRules is the route table for the dashboard.
func DefaultRules() []RouteRule {
	return []RouteRule{
		{"/api/users", allMethods, admins},
		{"/api/users/{id}", []string{http.MethodGet, http.MethodPut, http.MethodDelete}, admins},
		{"/api/users/update-role", []string{http.MethodPut}, []int{RoleSuperAdmin}},
		{"/api/customers", []string{http.MethodGet}, everyone},
		{"/api/customers/{id}", []string{http.MethodGet, http.MethodPut}, writers},
		{"/api/leads", allMethods, everyone},
		{"/api/messages", []string{http.MethodGet, http.MethodPost}, everyone},
		{"/api/messages/{id}", []string{http.MethodGet, http.MethodPut, http.MethodDelete}, writers},

		{"/api/auth/me", []string{http.MethodGet}, everyone},
		{"/api/navigation", []string{http.MethodGet}, everyone},
		{"/api/security/alerts", []string{http.MethodGet}, admins},
		{"/api/security/alerts/{id}/resolve", []string{http.MethodPost}, admins},
		{"/api/security/summary", []string{http.MethodGet}, admins},
		{"/api/security/audit", []string{http.MethodGet}, admins},

		{"/dashboard", []string{http.MethodGet}, everyone},
		{"/leads", []string{http.MethodGet}, everyone},
		{"/customers", []string{http.MethodGet}, everyone},
		{"/messages", []string{http.MethodGet}, everyone},
		{"/users", []string{http.MethodGet}, admins},
		{"/settings", []string{http.MethodGet}, []int{RoleSuperAdmin}},
	}
}

// Engine evaluates route access against a fixed rule table.
type Engine struct {
	rules map[string]RouteRule
}

// NewEngine indexes rules by pattern. A later rule for the same pattern wins.
func NewEngine(rules []RouteRule) *Engine {
	idx := make(map[string]RouteRule, len(rules))
	for _, r := range rules {
		idx[r.Pattern] = r
	}
	return &Engine{rules: idx}
}

// CanAccessRoute decides whether p may call method on reqPath.
// Unmapped routes are denied to everyone except the Super Admin.
func (e *Engine) CanAccessRoute(p models.Principal, reqPath, method string) bool {
	rule, ok := e.rules[NormalizePath(reqPath)]
	if !ok {
		return p.RoleID == RoleSuperAdmin
	}
	if !rule.allowsMethod(method) {
		return false
	}
	return rule.allowsRole(p.RoleID)
}

// RequiredRoles lists the role names that may call method on reqPath.
func (e *Engine) RequiredRoles(reqPath, method string) []string {
	rule, ok := e.rules[NormalizePath(reqPath)]
	if !ok {
		return []string{RoleName(RoleSuperAdmin)}
	}
	if !rule.allowsMethod(method) {
		return []string{}
	}
	names := make([]string, 0, len(rule.Roles))
	for _, id := range rule.Roles {
		names = append(names, RoleName(id))
	}
	return names
}

// NormalizePath trims a trailing slash and replaces every all-digit segment
// with {id}, so "/api/users/17" and "/api/users/17/" both become "/api/users/{id}".
func NormalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	segs := strings.Split(p, "/")
	for i, s := range segs {
		if s != "" && isDigits(s) {
			segs[i] = idSegment
		}
	}
	return strings.Join(segs, "/")
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
