package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/org/dashboard/internal/storage"
	"github.com/org/dashboard/pkg/models"
	"github.com/rs/zerolog/log"
)

// Alert types.
const (
	AlertFailedLogin          = "FAILED_LOGIN"
	AlertAuthorizationFailure = "AUTHORIZATION_FAILURE"
	AlertRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	AlertSQLInjection         = "SQL_INJECTION_ATTEMPT"
	AlertXSS                  = "XSS_ATTEMPT"
	AlertSuspiciousActivity   = "SUSPICIOUS_ACTIVITY"
)

// ErrResolutionRequired is returned when an alert is resolved without a note.
var ErrResolutionRequired = errors.New("resolution is required")

// AlertStore is the subset of storage the Monitor needs.
type AlertStore interface {
	CountEventsBySource(ctx context.Context, match storage.EventMatch, since time.Time, threshold int) ([]storage.SourceCount, error)
	FindOpenAlert(ctx context.Context, alertType, source string) (*models.SecurityAlert, error)
	CreateAlert(ctx context.Context, a *models.SecurityAlert) error
	TouchAlert(ctx context.Context, id int64, count int, lastSeen time.Time) error
	ListAlerts(ctx context.Context, includeResolved bool) ([]*models.SecurityAlert, error)
	ResolveAlert(ctx context.Context, id int64, resolution string, at time.Time) error
}

// AlertConfig derives one alert type from a windowed event count.
// Severity is fixed per type.
type AlertConfig struct {
	Type        string
	Match       storage.EventMatch
	Threshold   int
	Window      time.Duration
	Severity    models.AlertSeverity
	Notify      bool
	Title       string
	Description string
}

// DefaultAlertConfigs is the standard alert set.
func DefaultAlertConfigs() []AlertConfig {
	return []AlertConfig{
		{
			Type:        AlertFailedLogin,
			Match:       storage.EventMatch{Actions: []string{models.ActionLoginFailed}},
			Threshold:   5,
			Window:      15 * time.Minute,
			Severity:    models.SeverityHigh,
			Notify:      true,
			Title:       "Brute Force Attack Detected",
			Description: "Multiple failed login attempts from the same IP address",
		},
		{
			Type:        AlertAuthorizationFailure,
			Match:       storage.EventMatch{Actions: []string{models.ActionAuthorizationFailed}},
			Threshold:   3,
			Window:      10 * time.Minute,
			Severity:    models.SeverityMedium,
			Notify:      true,
			Title:       "Unauthorized Access Attempts",
			Description: "Multiple authorization failures detected",
		},
		{
			Type:        AlertRateLimitExceeded,
			Match:       storage.EventMatch{Actions: []string{models.ActionRateLimitExceeded}},
			Threshold:   1,
			Window:      time.Minute,
			Severity:    models.SeverityLow,
			Notify:      false,
			Title:       "Rate Limit Exceeded",
			Description: "Rate limiting triggered for source",
		},
		{
			Type:        AlertSQLInjection,
			Match:       storage.EventMatch{Actions: []string{models.ActionSQLInjection}},
			Threshold:   1,
			Window:      time.Minute,
			Severity:    models.SeverityCritical,
			Notify:      true,
			Title:       "SQL Injection Attempt Detected",
			Description: "Potential SQL injection attack detected in input",
		},
		{
			Type:        AlertXSS,
			Match:       storage.EventMatch{Actions: []string{models.ActionXSS}},
			Threshold:   1,
			Window:      time.Minute,
			Severity:    models.SeverityCritical,
			Notify:      true,
			Title:       "XSS Attack Attempt Detected",
			Description: "Potential XSS attack detected in input",
		},
		{
			Type:        AlertSuspiciousActivity,
			Match:       storage.EventMatch{Levels: []models.AuditLevel{models.LevelWarning, models.LevelSecurity}},
			Threshold:   10,
			Window:      time.Hour,
			Severity:    models.SeverityMedium,
			Notify:      true,
			Title:       "Suspicious Activity Detected",
			Description: "Unusual security events detected from source",
		},
	}
}

// Monitor turns audit event counts into security alerts.
type Monitor struct {
	store    AlertStore
	notifier Notifier
	configs  []AlertConfig
	now      func() time.Time
}

// NewMonitor returns a Monitor. A nil configs slice selects DefaultAlertConfigs;
// a nil notifier disables notifications.
func NewMonitor(store AlertStore, notifier Notifier, configs []AlertConfig) *Monitor {
	if configs == nil {
		configs = DefaultAlertConfigs()
	}
	return &Monitor{store: store, notifier: notifier, configs: configs, now: time.Now}
}

// SetClock replaces the time source.
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// candidate pairs an unsaved alert with the config that produced it.
type candidate struct {
	alert *models.SecurityAlert
	cfg   AlertConfig
}

// CheckAlerts runs every configured count and returns one unsaved alert per
// (type, source) whose count meets its threshold. A failing query does not
// stop the others; its error is joined into the returned error.
func (m *Monitor) CheckAlerts(ctx context.Context) ([]*models.SecurityAlert, error) {
	cands, err := m.check(ctx)
	out := make([]*models.SecurityAlert, len(cands))
	for i, c := range cands {
		out[i] = c.alert
	}
	return out, err
}

func (m *Monitor) check(ctx context.Context) ([]candidate, error) {
	now := m.now().UTC()
	var (
		cands []candidate
		errs  []error
	)
	for _, cfg := range m.configs {
		rows, err := m.store.CountEventsBySource(ctx, cfg.Match, now.Add(-cfg.Window), cfg.Threshold)
		if err != nil {
			errs = append(errs, fmt.Errorf("checking %s: %w", cfg.Type, err))
			continue
		}
		for _, r := range rows {
			if r.Count < cfg.Threshold {
				continue
			}
			cands = append(cands, candidate{cfg: cfg, alert: &models.SecurityAlert{
				AlertType:   cfg.Type,
				Severity:    cfg.Severity,
				Title:       cfg.Title,
				Description: cfg.Description,
				Source:      r.Source,
				Count:       r.Count,
				FirstSeen:   r.FirstSeen,
				LastSeen:    r.LastSeen,
			}})
		}
	}
	return cands, errors.Join(errs...)
}

// RunMonitoring is the periodic sweep. Each candidate either opens a new
// alert or refreshes the count and last-seen time of the open alert for the
// same type and source. HIGH and CRITICAL alerts are sent to the notifier.
// It returns how many alerts were opened or refreshed.
func (m *Monitor) RunMonitoring(ctx context.Context) (int, error) {
	cands, checkErr := m.check(ctx)
	errs := []error{checkErr}
	n := 0
	for _, c := range cands {
		if err := m.upsert(ctx, c.alert); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
		alertsRaised.WithLabelValues(c.alert.AlertType, string(c.alert.Severity)).Inc()
		if c.cfg.Notify && isUrgent(c.alert.Severity) && m.notifier != nil {
			if err := m.notifier.Notify(ctx, c.alert); err != nil {
				log.Warn().Err(err).Str("alert", c.alert.AlertType).Msg("alert notification failed")
			}
		}
	}
	return n, errors.Join(errs...)
}

func (m *Monitor) upsert(ctx context.Context, a *models.SecurityAlert) error {
	existing, err := m.store.FindOpenAlert(ctx, a.AlertType, a.Source)
	switch {
	case err == nil:
		a.ID = existing.ID
		a.FirstSeen = existing.FirstSeen
		return m.store.TouchAlert(ctx, existing.ID, a.Count, m.now().UTC())
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("finding open %s alert: %w", a.AlertType, err)
	}

	err = m.store.CreateAlert(ctx, a)
	if errors.Is(err, storage.ErrAlreadyExists) {
		// Another instance opened it between our lookup and insert.
		existing, ferr := m.store.FindOpenAlert(ctx, a.AlertType, a.Source)
		if ferr != nil {
			return fmt.Errorf("finding open %s alert: %w", a.AlertType, ferr)
		}
		a.ID = existing.ID
		return m.store.TouchAlert(ctx, existing.ID, a.Count, m.now().UTC())
	}
	if err != nil {
		return fmt.Errorf("creating %s alert: %w", a.AlertType, err)
	}
	return nil
}

func isUrgent(s models.AlertSeverity) bool {
	return s == models.SeverityCritical || s == models.SeverityHigh
}

// ActiveAlerts lists unresolved alerts.
func (m *Monitor) ActiveAlerts(ctx context.Context) ([]*models.SecurityAlert, error) {
	return m.store.ListAlerts(ctx, false)
}

// Alerts lists alerts, optionally including resolved ones.
func (m *Monitor) Alerts(ctx context.Context, includeResolved bool) ([]*models.SecurityAlert, error) {
	return m.store.ListAlerts(ctx, includeResolved)
}

// ResolveAlert closes an open alert. Only operators call this.
func (m *Monitor) ResolveAlert(ctx context.Context, id int64, resolution string) error {
	if resolution == "" {
		return ErrResolutionRequired
	}
	return m.store.ResolveAlert(ctx, id, resolution, m.now().UTC())
}
