package models

// Permission strings granted to roles.
const (
	PermAll            = "*"
	PermReadAll        = "read:all"
	PermWriteAll       = "write:all"
	PermDeleteLimited  = "delete:limited"
	PermManageUsers    = "manage:users"
	PermReadCustomers  = "read:customers"
	PermWriteCustomers = "write:customers"
	PermReadMessages   = "read:messages"
	PermReadLeads      = "read:leads"
	PermWriteLeads     = "write:leads"
	PermReadDashboard  = "read:dashboard"
)

// Role is static reference data: an id, a display name and a permission set.
type Role struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}
