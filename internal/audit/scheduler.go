package audit

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMonitorSchedule = "@every 5m"
	DefaultPurgeSchedule   = "@daily"

	jobTimeout = time.Minute
)

// Scheduler runs the alert sweep and audit purge on cron schedules.
type Scheduler struct {
	cron *cron.Cron
}

// ScheduleConfig selects when background jobs run. Empty fields use defaults.
type ScheduleConfig struct {
	Monitor   string
	Purge     string
	Retention time.Duration
}

// NewScheduler registers the monitor and purge jobs. It does not start them.
func NewScheduler(m *Monitor, l *Logger, cfg ScheduleConfig) (*Scheduler, error) {
	if cfg.Monitor == "" {
		cfg.Monitor = DefaultMonitorSchedule
	}
	if cfg.Purge == "" {
		cfg.Purge = DefaultPurgeSchedule
	}

	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))

	if _, err := c.AddFunc(cfg.Monitor, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		n, err := m.RunMonitoring(ctx)
		if err != nil {
			log.Error().Err(err).Int("alerts", n).Msg("security monitoring sweep failed")
			return
		}
		log.Debug().Int("alerts", n).Msg("security monitoring sweep complete")
	}); err != nil {
		return nil, err
	}

	if _, err := c.AddFunc(cfg.Purge, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if _, err := l.Purge(ctx, cfg.Retention); err != nil {
			log.Error().Err(err).Msg("audit purge failed")
		}
	}); err != nil {
		return nil, err
	}

	return &Scheduler{cron: c}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits up to ctx for running jobs.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
