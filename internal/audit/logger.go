package audit

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/org/dashboard/internal/storage"
	"github.com/org/dashboard/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultRetention is how long audit events are kept before Purge drops them.
	DefaultRetention = 90 * 24 * time.Hour
	// DefaultWriteTimeout bounds a single audit write.
	DefaultWriteTimeout = 2 * time.Second

	resourceAuth     = "AUTH"
	resourceSecurity = "SECURITY"

	msgInsufficientPermissions = "Insufficient permissions"
)

// Column widths of audit_logs, in characters. user_agent is TEXT but is
// capped so a single client cannot bloat the table.
const (
	maxIPAddressLen  = 64
	maxResourceLen   = 255
	maxResourceIDLen = 255
	maxUserAgentLen  = 512
)

// EventStore is the subset of storage the Logger needs.
type EventStore interface {
	WriteAuditEvent(ctx context.Context, e *models.AuditEvent) error
	QueryAuditEvents(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEvent, error)
	PurgeAuditEvents(ctx context.Context, before time.Time) (int64, error)
	SecuritySummary(ctx context.Context, since time.Time) (*models.SecuritySummary, error)
}

// RequestInfo is the client side of an audited request.
type RequestInfo struct {
	IPAddress string
	UserAgent string
}

// Logger persists audit events. Writes are best effort: a failed or
// timed-out write is logged and counted, never returned to the caller.
type Logger struct {
	store        EventStore
	writeTimeout time.Duration
	now          func() time.Time
}

// NewLogger creates an audit Logger. A zero writeTimeout selects DefaultWriteTimeout.
func NewLogger(store EventStore, writeTimeout time.Duration) *Logger {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Logger{store: store, writeTimeout: writeTimeout, now: time.Now}
}

// LogEvent records e. The write outlives cancellation of ctx so that a
// client hanging up does not lose the record, but is bounded by the
// logger's write timeout.
func (l *Logger) LogEvent(ctx context.Context, e *models.AuditEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	e.IPAddress = clampRunes(e.IPAddress, maxIPAddressLen)
	e.Resource = clampRunes(e.Resource, maxResourceLen)
	e.ResourceID = clampRunes(e.ResourceID, maxResourceIDLen)
	e.UserAgent = clampRunes(e.UserAgent, maxUserAgentLen)

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.writeTimeout)
	defer cancel()

	if err := l.store.WriteAuditEvent(wctx, e); err != nil {
		auditWriteFailures.Inc()
		log.Error().Err(err).
			Str("action", e.Action).
			Str("actor", e.Actor()).
			Str("ip", e.IPAddress).
			Msg("audit write failed")
		return
	}
	eventsRecorded.WithLabelValues(e.Action).Inc()
}

// LogAuthenticationAttempt records a login outcome. Failures are logged at
// SECURITY level so they feed the brute-force alert.
func (l *Logger) LogAuthenticationAttempt(ctx context.Context, ri RequestInfo, userID *int64, email string, success bool, reason string) {
	e := &models.AuditEvent{
		UserID:       userID,
		Action:       models.ActionLoginSuccess,
		Category:     models.CategoryAuthentication,
		Level:        models.LevelInfo,
		Resource:     resourceAuth,
		IPAddress:    ri.IPAddress,
		UserAgent:    ri.UserAgent,
		Success:      success,
		ErrorMessage: reason,
	}
	if email != "" {
		e.Details = map[string]any{"email": email}
	}
	if !success {
		e.Action = models.ActionLoginFailed
		e.Level = models.LevelSecurity
	}
	l.LogEvent(ctx, e)
}

// LogFailedAuthorization records a 403 with the roles that would have been
// admitted and the role that was presented.
func (l *Logger) LogFailedAuthorization(ctx context.Context, ri RequestInfo, userID *int64, resource string, requiredRoles []string, actualRole string) {
	l.LogEvent(ctx, &models.AuditEvent{
		UserID:   userID,
		Action:   models.ActionAuthorizationFailed,
		Category: models.CategoryAuthorization,
		Level:    models.LevelWarning,
		Resource: resource,
		Details: map[string]any{
			"requiredRole": requiredRoles,
			"actualRole":   actualRole,
		},
		IPAddress:    ri.IPAddress,
		UserAgent:    ri.UserAgent,
		Success:      false,
		ErrorMessage: msgInsufficientPermissions,
	})
}

// LogDataAccess records a successful read of resource.
func (l *Logger) LogDataAccess(ctx context.Context, ri RequestInfo, userID *int64, resource, resourceID string) {
	l.LogEvent(ctx, &models.AuditEvent{
		UserID:     userID,
		Action:     models.ActionDataAccess,
		Category:   models.CategoryDataAccess,
		Level:      models.LevelInfo,
		Resource:   resource,
		ResourceID: resourceID,
		IPAddress:  ri.IPAddress,
		UserAgent:  ri.UserAgent,
		Success:    true,
	})
}

// LogDataModification records a change with before and after snapshots.
func (l *Logger) LogDataModification(ctx context.Context, ri RequestInfo, userID *int64, resource, resourceID string, before, after map[string]any) {
	l.LogEvent(ctx, &models.AuditEvent{
		UserID:     userID,
		Action:     models.ActionDataModification,
		Category:   models.CategoryDataModification,
		Level:      models.LevelInfo,
		Resource:   resource,
		ResourceID: resourceID,
		OldValues:  before,
		NewValues:  after,
		IPAddress:  ri.IPAddress,
		UserAgent:  ri.UserAgent,
		Success:    true,
	})
}

// LogSecurityIncident records a SECURITY-level event such as a rate-limit
// rejection or an injection attempt.
func (l *Logger) LogSecurityIncident(ctx context.Context, ri RequestInfo, userID *int64, action string, details map[string]any) {
	l.LogEvent(ctx, &models.AuditEvent{
		UserID:    userID,
		Action:    action,
		Category:  models.CategorySecurity,
		Level:     models.LevelSecurity,
		Resource:  resourceSecurity,
		Details:   details,
		IPAddress: ri.IPAddress,
		UserAgent: ri.UserAgent,
		Success:   false,
	})
}

// Query retrieves paginated audit events.
func (l *Logger) Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEvent, error) {
	return l.store.QueryAuditEvents(ctx, filter)
}

// SecuritySummary rolls up the audit log; Last24Hours counts from now.
func (l *Logger) SecuritySummary(ctx context.Context) (*models.SecuritySummary, error) {
	return l.store.SecuritySummary(ctx, l.now().Add(-24*time.Hour))
}

// Purge deletes events older than retention and returns how many went.
func (l *Logger) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	n, err := l.store.PurgeAuditEvents(ctx, l.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("deleted", n).Dur("retention", retention).Msg("purged audit events")
	}
	return n, nil
}

// clampRunes cuts s to at most n characters. Invalid UTF-8, which Postgres
// would refuse, is replaced first.
func clampRunes(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
