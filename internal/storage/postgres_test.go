package storage

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/org/dashboard/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*PostgresBackend, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresBackendFromDB(db), mock
}

var userCols = []string{"id", "email", "password_hash", "first_name", "last_name", "role_id", "is_active", "created_at", "updated_at"}

func TestCreateUser(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		p, mock := setupMockDB(t)
		mock.ExpectQuery("INSERT INTO users").
			WithArgs("ada@example.com", "hash", "Ada", "Lovelace", 4, true, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(17))

		u := &models.User{Email: "ada@example.com", PasswordHash: "hash", FirstName: "Ada", LastName: "Lovelace", RoleID: 4, IsActive: true}
		require.NoError(t, p.CreateUser(context.Background(), u))
		assert.Equal(t, int64(17), u.ID)
		assert.False(t, u.CreatedAt.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate email", func(t *testing.T) {
		p, mock := setupMockDB(t)
		mock.ExpectQuery("INSERT INTO users").
			WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})

		err := p.CreateUser(context.Background(), &models.User{Email: "ada@example.com"})
		assert.ErrorIs(t, err, ErrAlreadyExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetUserByEmail(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		p, mock := setupMockDB(t)
		now := time.Now().UTC()
		mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email = $1")).
			WithArgs("ada@example.com").
			WillReturnRows(sqlmock.NewRows(userCols).
				AddRow(3, "ada@example.com", "hash", "Ada", "Lovelace", 2, true, now, now))

		u, err := p.GetUserByEmail(context.Background(), "ada@example.com")
		require.NoError(t, err)
		assert.Equal(t, int64(3), u.ID)
		assert.Equal(t, 2, u.RoleID)
		assert.Equal(t, "hash", u.PasswordHash)
	})

	t.Run("not found", func(t *testing.T) {
		p, mock := setupMockDB(t)
		mock.ExpectQuery("FROM users WHERE email").WillReturnError(sql.ErrNoRows)

		_, err := p.GetUserByEmail(context.Background(), "nobody@example.com")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestListUsers(t *testing.T) {
	p, mock := setupMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM users ORDER BY id LIMIT $1 OFFSET $2")).
		WithArgs(100, 0).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(1, "a@example.com", "h", "A", "A", 1, true, now, now).
			AddRow(2, "b@example.com", "h", "B", "B", 4, true, now, now))

	users, err := p.ListUsers(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "b@example.com", users[1].Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUserRole(t *testing.T) {
	t.Run("updated", func(t *testing.T) {
		p, mock := setupMockDB(t)
		mock.ExpectExec("UPDATE users SET role_id").
			WithArgs(3, sqlmock.AnyArg(), int64(9)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, p.UpdateUserRole(context.Background(), 9, 3))
	})

	t.Run("missing user", func(t *testing.T) {
		p, mock := setupMockDB(t)
		mock.ExpectExec("UPDATE users SET role_id").WillReturnResult(sqlmock.NewResult(0, 0))
		assert.ErrorIs(t, p.UpdateUserRole(context.Background(), 9, 3), ErrNotFound)
	})
}

func TestWriteAuditEvent(t *testing.T) {
	p, mock := setupMockDB(t)
	uid := int64(5)
	ts := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	mock.ExpectQuery("INSERT INTO audit_logs").
		WithArgs(sqlmock.AnyArg(), models.ActionAuthorizationFailed, "AUTHORIZATION", "WARNING", "/api/users", "",
			nil, nil, `{"actualRole":"Viewer"}`, "10.0.0.1", "curl/8", false, "Insufficient permissions", ts).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(100))

	e := &models.AuditEvent{
		UserID:       &uid,
		Action:       models.ActionAuthorizationFailed,
		Category:     models.CategoryAuthorization,
		Level:        models.LevelWarning,
		Resource:     "/api/users",
		Details:      map[string]any{"actualRole": "Viewer"},
		IPAddress:    "10.0.0.1",
		UserAgent:    "curl/8",
		ErrorMessage: "Insufficient permissions",
		Timestamp:    ts,
	}
	require.NoError(t, p.WriteAuditEvent(context.Background(), e))
	assert.Equal(t, int64(100), e.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryAuditEvents(t *testing.T) {
	p, mock := setupMockDB(t)
	since := time.Now().Add(-time.Hour).UTC()
	uid := int64(7)

	cols := []string{"id", "user_id", "action", "category", "level", "resource", "resource_id", "old_values",
		"new_values", "details", "ip_address", "user_agent", "success", "error_message", "created_at"}
	mock.ExpectQuery(regexp.QuoteMeta(
		"WHERE user_id = $1 AND action = $2 AND created_at >= $3 ORDER BY created_at DESC, id DESC LIMIT $4 OFFSET $5")).
		WithArgs(uid, models.ActionDataModification, since, 10, 0).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(1, 7, models.ActionDataModification, "DATA_MODIFICATION", "INFO", "users", "9",
				[]byte(`{"roleId":4}`), []byte(`{"roleId":3}`), nil, "10.0.0.2", "ua", true, "", since).
			AddRow(2, nil, models.ActionDataModification, "DATA_MODIFICATION", "INFO", "users", "10",
				nil, nil, nil, "10.0.0.2", "ua", true, "", since))

	events, err := p.QueryAuditEvents(context.Background(), AuditFilter{
		UserID: &uid,
		Action: models.ActionDataModification,
		Since:  &since,
		Limit:  10,
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.NotNil(t, events[0].UserID)
	assert.Equal(t, int64(7), *events[0].UserID)
	assert.Equal(t, float64(4), events[0].OldValues["roleId"])
	assert.Equal(t, float64(3), events[0].NewValues["roleId"])
	assert.Nil(t, events[1].UserID)
	assert.Equal(t, "anonymous", events[1].Actor())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountEventsBySource(t *testing.T) {
	p, mock := setupMockDB(t)
	since := time.Now().Add(-15 * time.Minute)
	first, last := since.Add(time.Minute), since.Add(10*time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE created_at >= $1 AND (action IN ($2) OR level IN ($3, $4))")).
		WithArgs(since, models.ActionLoginFailed, "WARNING", "SECURITY", 5).
		WillReturnRows(sqlmock.NewRows([]string{"ip_address", "count", "min", "max"}).
			AddRow("10.0.0.9", 7, first, last))

	rows, err := p.CountEventsBySource(context.Background(), EventMatch{
		Actions: []string{models.ActionLoginFailed},
		Levels:  []models.AuditLevel{models.LevelWarning, models.LevelSecurity},
	}, since, 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, SourceCount{Source: "10.0.0.9", Count: 7, FirstSeen: first, LastSeen: last}, rows[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountEventsBySourceEmptyMatch(t *testing.T) {
	p, mock := setupMockDB(t)
	rows, err := p.CountEventsBySource(context.Background(), EventMatch{}, time.Now(), 1)
	assert.NoError(t, err)
	assert.Empty(t, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeAuditEvents(t *testing.T) {
	p, mock := setupMockDB(t)
	before := time.Now().Add(-90 * 24 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_logs WHERE created_at < $1")).
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := p.PurgeAuditEvents(context.Background(), before)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestSecuritySummary(t *testing.T) {
	p, mock := setupMockDB(t)
	since := time.Now().Add(-24 * time.Hour)
	mock.ExpectQuery("FROM audit_logs").
		WithArgs(models.ActionLoginFailed, "SECURITY", since).
		WillReturnRows(sqlmock.NewRows([]string{"a", "b", "c", "d"}).AddRow(120, 8, 11, 30))

	s, err := p.SecuritySummary(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, models.SecuritySummary{TotalEvents: 120, FailedLogins: 8, SecurityIncidents: 11, Last24Hours: 30}, *s)
}

var alertCols = []string{"id", "alert_type", "severity", "title", "description", "source", "count",
	"first_seen", "last_seen", "resolved", "resolution", "resolved_at"}

func TestFindOpenAlert(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		p, mock := setupMockDB(t)
		now := time.Now().UTC()
		mock.ExpectQuery("FROM security_alerts").
			WithArgs("FAILED_LOGIN", "10.0.0.9").
			WillReturnRows(sqlmock.NewRows(alertCols).
				AddRow(4, "FAILED_LOGIN", "HIGH", "Brute Force Attack Detected", "d", "10.0.0.9", 6, now, now, false, "", nil))

		a, err := p.FindOpenAlert(context.Background(), "FAILED_LOGIN", "10.0.0.9")
		require.NoError(t, err)
		assert.Equal(t, models.SeverityHigh, a.Severity)
		assert.Nil(t, a.ResolvedAt)
		assert.Equal(t, 6, a.Count)
	})

	t.Run("none", func(t *testing.T) {
		p, mock := setupMockDB(t)
		mock.ExpectQuery("FROM security_alerts").WillReturnRows(sqlmock.NewRows(alertCols))
		_, err := p.FindOpenAlert(context.Background(), "FAILED_LOGIN", "10.0.0.9")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCreateAlertConflict(t *testing.T) {
	p, mock := setupMockDB(t)
	mock.ExpectQuery("INSERT INTO security_alerts").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	err := p.CreateAlert(context.Background(), &models.SecurityAlert{AlertType: "XSS_ATTEMPT", Source: "1.1.1.1"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestResolveAlert(t *testing.T) {
	t.Run("resolved", func(t *testing.T) {
		p, mock := setupMockDB(t)
		at := time.Now()
		mock.ExpectExec("UPDATE security_alerts SET resolved = TRUE").
			WithArgs("blocked at firewall", at, int64(4)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, p.ResolveAlert(context.Background(), 4, "blocked at firewall", at))
	})

	t.Run("already resolved", func(t *testing.T) {
		p, mock := setupMockDB(t)
		mock.ExpectExec("UPDATE security_alerts SET resolved = TRUE").
			WillReturnResult(sqlmock.NewResult(0, 0))
		assert.ErrorIs(t, p.ResolveAlert(context.Background(), 4, "x", time.Now()), ErrNotFound)
	})
}

func TestListAlertsOpenOnly(t *testing.T) {
	p, mock := setupMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM security_alerts WHERE resolved = FALSE")).
		WillReturnRows(sqlmock.NewRows(alertCols))
	alerts, err := p.ListAlerts(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.NoError(t, mock.ExpectationsWereMet())
}
