package models

import (
	"strconv"
	"time"
)

// AuditLevel is the severity class of an audit event.
type AuditLevel string

const (
	LevelInfo     AuditLevel = "INFO"
	LevelWarning  AuditLevel = "WARNING"
	LevelError    AuditLevel = "ERROR"
	LevelSecurity AuditLevel = "SECURITY"
)

// AuditCategory groups audit events by concern.
type AuditCategory string

const (
	CategoryAuthentication   AuditCategory = "AUTHENTICATION"
	CategoryAuthorization    AuditCategory = "AUTHORIZATION"
	CategoryDataAccess       AuditCategory = "DATA_ACCESS"
	CategoryDataModification AuditCategory = "DATA_MODIFICATION"
	CategorySystem           AuditCategory = "SYSTEM"
	CategorySecurity         AuditCategory = "SECURITY"
)

// Audit actions. The vocabulary is closed.
const (
	ActionLoginSuccess        = "LOGIN_SUCCESS"
	ActionLoginFailed         = "LOGIN_FAILED"
	ActionLogout              = "LOGOUT"
	ActionTokenRefresh        = "TOKEN_REFRESH"
	ActionRegister            = "REGISTER"
	ActionPasswordReset       = "PASSWORD_RESET_REQUESTED"
	ActionAuthorizationFailed = "AUTHORIZATION_FAILED"
	ActionRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	ActionDataAccess          = "DATA_ACCESS"
	ActionDataModification    = "DATA_MODIFICATION"
	ActionSQLInjection        = "SQL_INJECTION_ATTEMPT"
	ActionXSS                 = "XSS_ATTEMPT"
	ActionRoleChanged         = "ROLE_CHANGED"
	ActionAlertResolved       = "ALERT_RESOLVED"
)

// AuditEvent is an immutable record of a security-relevant occurrence.
type AuditEvent struct {
	ID           int64          `json:"id"`
	UserID       *int64         `json:"userId,omitempty"`
	Action       string         `json:"action"`
	Category     AuditCategory  `json:"category"`
	Level        AuditLevel     `json:"level"`
	Resource     string         `json:"resource"`
	ResourceID   string         `json:"resourceId,omitempty"`
	OldValues    map[string]any `json:"oldValues,omitempty"`
	NewValues    map[string]any `json:"newValues,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	IPAddress    string         `json:"ipAddress"`
	UserAgent    string         `json:"userAgent"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Actor returns the user id as a string, or "anonymous".
func (e *AuditEvent) Actor() string {
	if e.UserID == nil {
		return "anonymous"
	}
	return strconv.FormatInt(*e.UserID, 10)
}

// AlertSeverity is static per alert type.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "LOW"
	SeverityMedium   AlertSeverity = "MEDIUM"
	SeverityHigh     AlertSeverity = "HIGH"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// SecurityAlert aggregates audit events that crossed a threshold for one source.
type SecurityAlert struct {
	ID          int64         `json:"id"`
	AlertType   string        `json:"alertType"`
	Severity    AlertSeverity `json:"severity"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Source      string        `json:"source"`
	Count       int           `json:"count"`
	FirstSeen   time.Time     `json:"firstSeen"`
	LastSeen    time.Time     `json:"lastSeen"`
	Resolved    bool          `json:"resolved"`
	Resolution  string        `json:"resolution,omitempty"`
	ResolvedAt  *time.Time    `json:"resolvedAt,omitempty"`
}

// SecuritySummary is a rollup of the audit log.
type SecuritySummary struct {
	TotalEvents       int64 `json:"totalEvents"`
	FailedLogins      int64 `json:"failedLogins"`
	SecurityIncidents int64 `json:"securityIncidents"`
	Last24Hours       int64 `json:"last24Hours"`
}
