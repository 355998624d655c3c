package audit

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_audit_events_total",
			Help: "Audit events persisted, by action.",
		},
		[]string{"action"},
	)

	auditWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dashboard_audit_write_failures_total",
			Help: "Audit events that could not be persisted.",
		},
	)

	alertsRaised = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_security_alerts_total",
			Help: "Security alerts opened or refreshed by the monitor.",
		},
		[]string{"type", "severity"},
	)

	notificationsSuppressed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dashboard_alert_notifications_suppressed_total",
			Help: "Alert notifications dropped by the notifier throttle.",
		},
	)
)

func init() {
	prometheus.MustRegister(eventsRecorded, auditWriteFailures, alertsRaised, notificationsSuppressed)
}
