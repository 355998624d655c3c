package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/dashboard/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when trying to create a resource that already exists.
var ErrAlreadyExists = errors.New("already exists")

// StorageBackend defines the persistence interface for the dashboard.
type StorageBackend interface {
	// Users
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error)
	UpdateUserRole(ctx context.Context, id int64, roleID int) error

	// Audit
	WriteAuditEvent(ctx context.Context, e *models.AuditEvent) error
	QueryAuditEvents(ctx context.Context, filter AuditFilter) ([]*models.AuditEvent, error)
	CountEventsBySource(ctx context.Context, match EventMatch, since time.Time, threshold int) ([]SourceCount, error)
	PurgeAuditEvents(ctx context.Context, before time.Time) (int64, error)
	SecuritySummary(ctx context.Context, since time.Time) (*models.SecuritySummary, error)

	// Alerts
	FindOpenAlert(ctx context.Context, alertType, source string) (*models.SecurityAlert, error)
	CreateAlert(ctx context.Context, a *models.SecurityAlert) error
	TouchAlert(ctx context.Context, id int64, count int, lastSeen time.Time) error
	ListAlerts(ctx context.Context, includeResolved bool) ([]*models.SecurityAlert, error)
	ResolveAlert(ctx context.Context, id int64, resolution string, at time.Time) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close()
}

// AuditFilter specifies query parameters for audit log retrieval.
// Zero-valued fields are ignored.
type AuditFilter struct {
	UserID    *int64
	Action    string
	Level     models.AuditLevel
	IPAddress string
	Since     *time.Time
	Limit     int
	Offset    int
}

// EventMatch selects audit events by action or by level. An event matches
// if either list contains its value.
type EventMatch struct {
	Actions []string
	Levels  []models.AuditLevel
}

// SourceCount is one row of a windowed count grouped by client address.
type SourceCount struct {
	Source    string
	Count     int
	FirstSeen time.Time
	LastSeen  time.Time
}
