package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/org/dashboard/pkg/models"
)

const uniqueViolation = "23505"

// PoolConfig bounds the connection pool. Borrowers beyond MaxConns wait
// for a free connection instead of failing.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// PostgresBackend is a StorageBackend backed by PostgreSQL.
type PostgresBackend struct {
	pool *pgxpool.Pool
	db   *sql.DB
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string, pc PoolConfig) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		cfg.MinConns = pc.MinConns
	}
	if pc.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = pc.MaxConnLifetime
	}
	if pc.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = pc.MaxConnIdleTime
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{pool: pool, db: stdlib.OpenDBFromPool(pool)}, nil
}

// NewPostgresBackendFromDB wraps an existing *sql.DB.
func NewPostgresBackendFromDB(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

func (p *PostgresBackend) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresBackend) Close() {
	p.db.Close() //nolint:errcheck
	if p.pool != nil {
		p.pool.Close()
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// --- Users ---

const userColumns = `id, email, password_hash, first_name, last_name, role_id, is_active, created_at, updated_at`

func (p *PostgresBackend) CreateUser(ctx context.Context, u *models.User) error {
	now := time.Now().UTC()
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash, first_name, last_name, role_id, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 RETURNING id`,
		u.Email, u.PasswordHash, u.FirstName, u.LastName, u.RoleID, u.IsActive, now,
	).Scan(&u.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

func (p *PostgresBackend) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (p *PostgresBackend) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (p *PostgresBackend) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (p *PostgresBackend) UpdateUserRole(ctx context.Context, id int64, roleID int) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE users SET role_id = $1, updated_at = $2 WHERE id = $3`,
		roleID, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating user role: %w", err)
	}
	return expectAffected(res)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.RoleID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Audit ---

func (p *PostgresBackend) WriteAuditEvent(ctx context.Context, e *models.AuditEvent) error {
	oldVals, err := jsonOrNil(e.OldValues)
	if err != nil {
		return err
	}
	newVals, err := jsonOrNil(e.NewValues)
	if err != nil {
		return err
	}
	details, err := jsonOrNil(e.Details)
	if err != nil {
		return err
	}
	err = p.db.QueryRowContext(ctx,
		`INSERT INTO audit_logs (user_id, action, category, level, resource, resource_id,
		                         old_values, new_values, details, ip_address, user_agent,
		                         success, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id`,
		nullInt64(e.UserID), e.Action, string(e.Category), string(e.Level), e.Resource, e.ResourceID,
		oldVals, newVals, details, e.IPAddress, e.UserAgent,
		e.Success, e.ErrorMessage, e.Timestamp,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

func (p *PostgresBackend) QueryAuditEvents(ctx context.Context, f AuditFilter) ([]*models.AuditEvent, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.UserID != nil {
		add("user_id = $%d", *f.UserID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.Level != "" {
		add("level = $%d", string(f.Level))
	}
	if f.IPAddress != "" {
		add("ip_address = $%d", f.IPAddress)
	}
	if f.Since != nil {
		add("created_at >= $%d", *f.Since)
	}

	q := `SELECT id, user_id, action, category, level, resource, resource_id, old_values, new_values,
	             details, ip_address, user_agent, success, error_message, created_at
	      FROM audit_logs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit, f.Offset)
	q += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		var (
			e                      models.AuditEvent
			userID                 sql.NullInt64
			category, level        string
			oldVals, newVals, dets []byte
		)
		if err := rows.Scan(&e.ID, &userID, &e.Action, &category, &level, &e.Resource, &e.ResourceID,
			&oldVals, &newVals, &dets, &e.IPAddress, &e.UserAgent, &e.Success, &e.ErrorMessage,
			&e.Timestamp); err != nil {
			return nil, err
		}
		if userID.Valid {
			id := userID.Int64
			e.UserID = &id
		}
		e.Category = models.AuditCategory(category)
		e.Level = models.AuditLevel(level)
		if e.OldValues, err = decodeJSONMap(oldVals); err != nil {
			return nil, err
		}
		if e.NewValues, err = decodeJSONMap(newVals); err != nil {
			return nil, err
		}
		if e.Details, err = decodeJSONMap(dets); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (p *PostgresBackend) CountEventsBySource(ctx context.Context, m EventMatch, since time.Time, threshold int) ([]SourceCount, error) {
	if len(m.Actions) == 0 && len(m.Levels) == 0 {
		return nil, nil
	}
	args := []any{since}
	var ors []string
	if len(m.Actions) > 0 {
		ors = append(ors, "action IN ("+placeholders(&args, stringsToAny(m.Actions))+")")
	}
	if len(m.Levels) > 0 {
		lv := make([]any, len(m.Levels))
		for i, l := range m.Levels {
			lv[i] = string(l)
		}
		ors = append(ors, "level IN ("+placeholders(&args, lv)+")")
	}
	args = append(args, threshold)

	q := fmt.Sprintf(
		`SELECT ip_address, COUNT(*), MIN(created_at), MAX(created_at)
		 FROM audit_logs
		 WHERE created_at >= $1 AND (%s)
		 GROUP BY ip_address
		 HAVING COUNT(*) >= $%d
		 ORDER BY COUNT(*) DESC`,
		strings.Join(ors, " OR "), len(args),
	)
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}
	defer rows.Close()

	var out []SourceCount
	for rows.Next() {
		var sc SourceCount
		if err := rows.Scan(&sc.Source, &sc.Count, &sc.FirstSeen, &sc.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (p *PostgresBackend) PurgeAuditEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purging audit events: %w", err)
	}
	return res.RowsAffected()
}

func (p *PostgresBackend) SecuritySummary(ctx context.Context, since time.Time) (*models.SecuritySummary, error) {
	var s models.SecuritySummary
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE action = $1),
		        COUNT(*) FILTER (WHERE level = $2),
		        COUNT(*) FILTER (WHERE created_at >= $3)
		 FROM audit_logs`,
		models.ActionLoginFailed, string(models.LevelSecurity), since,
	).Scan(&s.TotalEvents, &s.FailedLogins, &s.SecurityIncidents, &s.Last24Hours)
	if err != nil {
		return nil, fmt.Errorf("summarizing audit log: %w", err)
	}
	return &s, nil
}

// --- Alerts ---

const alertColumns = `id, alert_type, severity, title, description, source, count,
	first_seen, last_seen, resolved, resolution, resolved_at`

func (p *PostgresBackend) FindOpenAlert(ctx context.Context, alertType, source string) (*models.SecurityAlert, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM security_alerts
		 WHERE alert_type = $1 AND source = $2 AND resolved = FALSE
		 ORDER BY last_seen DESC LIMIT 1`,
		alertType, source,
	)
	return scanAlert(row)
}

func (p *PostgresBackend) CreateAlert(ctx context.Context, a *models.SecurityAlert) error {
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO security_alerts (alert_type, severity, title, description, source, count, first_seen, last_seen)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		a.AlertType, string(a.Severity), a.Title, a.Description, a.Source, a.Count, a.FirstSeen, a.LastSeen,
	).Scan(&a.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting alert: %w", err)
	}
	return nil
}

func (p *PostgresBackend) TouchAlert(ctx context.Context, id int64, count int, lastSeen time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE security_alerts SET count = $1, last_seen = $2 WHERE id = $3 AND resolved = FALSE`,
		count, lastSeen, id,
	)
	if err != nil {
		return fmt.Errorf("updating alert: %w", err)
	}
	return expectAffected(res)
}

func (p *PostgresBackend) ListAlerts(ctx context.Context, includeResolved bool) ([]*models.SecurityAlert, error) {
	q := `SELECT ` + alertColumns + ` FROM security_alerts`
	if !includeResolved {
		q += ` WHERE resolved = FALSE`
	}
	q += ` ORDER BY last_seen DESC LIMIT 500`

	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.SecurityAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (p *PostgresBackend) ResolveAlert(ctx context.Context, id int64, resolution string, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE security_alerts SET resolved = TRUE, resolution = $1, resolved_at = $2
		 WHERE id = $3 AND resolved = FALSE`,
		resolution, at, id,
	)
	if err != nil {
		return fmt.Errorf("resolving alert: %w", err)
	}
	return expectAffected(res)
}

func scanAlert(row scanner) (*models.SecurityAlert, error) {
	var (
		a          models.SecurityAlert
		severity   string
		resolvedAt sql.NullTime
	)
	err := row.Scan(&a.ID, &a.AlertType, &severity, &a.Title, &a.Description, &a.Source, &a.Count,
		&a.FirstSeen, &a.LastSeen, &a.Resolved, &a.Resolution, &resolvedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Severity = models.AlertSeverity(severity)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}
	return &a, nil
}

// --- helpers ---

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func jsonOrNil(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding audit values: %w", err)
	}
	return string(b), nil
}

func decodeJSONMap(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decoding audit values: %w", err)
	}
	return m, nil
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// placeholders appends vals to args and returns "$n, $n+1, ..." for them.
func placeholders(args *[]any, vals []any) string {
	ph := make([]string, len(vals))
	for i, v := range vals {
		*args = append(*args, v)
		ph[i] = fmt.Sprintf("$%d", len(*args))
	}
	return strings.Join(ph, ", ")
}
