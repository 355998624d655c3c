package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/org/dashboard/internal/api"
	"github.com/org/dashboard/internal/audit"
	"github.com/org/dashboard/internal/config"
	"github.com/org/dashboard/internal/ratelimit"
	"github.com/org/dashboard/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfgFile := "config.yaml"
	if v := os.Getenv("DASHBOARD_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// JSON logs in production, human-readable otherwise
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.DBUrl == "" {
		log.Fatal().Msg("db_url must be configured (or DATABASE_URL env var)")
	}

	ctx := context.Background()

	store, err := storage.NewPostgresBackend(ctx, cfg.DBUrl, storage.PoolConfig{MaxConns: cfg.DBMaxConns})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer store.Close()

	if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	log.Info().Msg("migrations applied")

	// Rate limit counters are shared across instances when Redis is configured.
	var limitStore ratelimit.Store
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close() //nolint:errcheck
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to redis")
		}
		limitStore = ratelimit.NewRedisStore(rdb, "dashboard:ratelimit")
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis rate limit store")
	}

	srv, err := api.NewServer(store, api.Config{
		ListenAddr:        cfg.ListenAddr,
		TLSCertFile:       cfg.TLSCertFile,
		TLSKeyFile:        cfg.TLSKeyFile,
		Production:        cfg.IsProduction(),
		AccessSecret:      []byte(cfg.JWTSecret),
		RefreshSecret:     []byte(cfg.JWTRefreshSecret),
		AccessTTL:         cfg.AccessTTL,
		RefreshTTL:        cfg.RefreshTTL,
		BcryptCost:        cfg.BcryptRounds,
		AuditWriteTimeout: cfg.AuditWriteTimeout,
		TrustedProxies:    cfg.Proxies(),
		RateLimitStore:    limitStore,
		Notifier:          audit.NewLogNotifier(cfg.NotifyPerMinute),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create server")
	}

	sched, err := audit.NewScheduler(srv.Monitor(), srv.Auditor(), audit.ScheduleConfig{
		Monitor:   cfg.MonitorSchedule,
		Purge:     cfg.PurgeSchedule,
		Retention: cfg.AuditRetention,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to schedule background jobs")
	}
	sched.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Str("env", cfg.Env).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	sched.Stop(shutdownCtx)
	log.Info().Msg("server stopped")
}
