package audit

import (
	"context"
	"time"

	"github.com/org/dashboard/pkg/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Notifier delivers urgent alerts to operators.
type Notifier interface {
	Notify(ctx context.Context, a *models.SecurityAlert) error
}

// LogNotifier writes alerts to the process log. Bursts are throttled so a
// sustained attack does not flood the output; suppressed notifications are
// counted and the alert itself is still persisted.
type LogNotifier struct {
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewLogNotifier allows perMinute notifications per minute, with bursts of
// the same size. perMinute <= 0 defaults to 10.
func NewLogNotifier(perMinute int) *LogNotifier {
	if perMinute <= 0 {
		perMinute = 10
	}
	return &LogNotifier{
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		logger:  log.Logger.With().Str("component", "alerts").Logger(),
	}
}

func (n *LogNotifier) Notify(_ context.Context, a *models.SecurityAlert) error {
	if !n.limiter.Allow() {
		notificationsSuppressed.Inc()
		n.logger.Debug().Str("alert", a.AlertType).Str("source", a.Source).Msg("notification throttled")
		return nil
	}
	n.logger.Warn().
		Str("alert", a.AlertType).
		Str("severity", string(a.Severity)).
		Str("source", a.Source).
		Int("count", a.Count).
		Time("last_seen", a.LastSeen).
		Msg("SECURITY ALERT: " + a.Title)
	return nil
}
