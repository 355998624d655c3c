package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/org/dashboard/internal/audit"
	"github.com/org/dashboard/internal/auth"
	"github.com/org/dashboard/internal/policy"
	"github.com/org/dashboard/internal/ratelimit"
	"github.com/org/dashboard/internal/storage"
	"github.com/org/dashboard/pkg/models"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
	Production  bool

	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	BcryptCost    int

	AuditWriteTimeout time.Duration
	// TrustedProxies may set X-Forwarded-For and X-Real-IP. Empty means
	// every client is keyed on its peer address.
	TrustedProxies ratelimit.TrustedProxies
	// RateLimitStore backs every limiter. Nil selects an in-process MemoryStore.
	RateLimitStore ratelimit.Store
	// Notifier receives urgent alerts. Nil disables notifications.
	Notifier audit.Notifier
}

// AuditLogger is the interface the server needs from an audit logger.
type AuditLogger interface {
	LogEvent(ctx context.Context, e *models.AuditEvent)
	LogAuthenticationAttempt(ctx context.Context, ri audit.RequestInfo, userID *int64, email string, success bool, reason string)
	LogFailedAuthorization(ctx context.Context, ri audit.RequestInfo, userID *int64, resource string, requiredRoles []string, actualRole string)
	LogDataAccess(ctx context.Context, ri audit.RequestInfo, userID *int64, resource, resourceID string)
	LogDataModification(ctx context.Context, ri audit.RequestInfo, userID *int64, resource, resourceID string, before, after map[string]any)
	LogSecurityIncident(ctx context.Context, ri audit.RequestInfo, userID *int64, action string, details map[string]any)
	Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEvent, error)
	SecuritySummary(ctx context.Context) (*models.SecuritySummary, error)
}

// Server is the API server.
type Server struct {
	store     storage.StorageBackend
	tokens    *auth.TokenService
	passwords *auth.PasswordManager
	policy    *policy.Engine
	limiter   *ratelimit.Limiter
	auditor   *audit.Logger
	monitor   *audit.Monitor
	gate      *Gate
	cfg       Config
	httpSrv   *http.Server
	now       func() time.Time
}

// NewServer creates a fully wired Server.
func NewServer(store storage.StorageBackend, cfg Config) (*Server, error) {
	tokenSvc, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  cfg.AccessSecret,
		RefreshSecret: cfg.RefreshSecret,
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	limitStore := cfg.RateLimitStore
	if limitStore == nil {
		limitStore = ratelimit.NewMemoryStore()
	}
	limiter := ratelimit.New(limitStore)
	policyEng := policy.NewEngine(policy.DefaultRules())
	auditor := audit.NewLogger(store, cfg.AuditWriteTimeout)

	return &Server{
		store:     store,
		tokens:    tokenSvc,
		passwords: auth.NewPasswordManager(cfg.BcryptCost),
		policy:    policyEng,
		limiter:   limiter,
		auditor:   auditor,
		monitor:   audit.NewMonitor(store, cfg.Notifier, nil),
		gate:      NewGate(tokenSvc, policyEng, limiter, auditor, cfg.Production),
		cfg:       cfg,
		now:       time.Now,
	}, nil
}

// Auditor exposes the audit logger for background jobs.
func (s *Server) Auditor() *audit.Logger {
	return s.auditor
}

// Monitor exposes the alert monitor for background jobs.
func (s *Server) Monitor() *audit.Monitor {
	return s.monitor
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.RemoteAddrHandler("remote_addr"))
	r.Use(hlog.UserAgentHandler("user_agent"))
	r.Use(requestIDMiddleware)
	r.Use(clientIPMiddleware(s.cfg.TrustedProxies))
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(securityHeaders(s.cfg.Production))
	r.Use(metricsMiddleware)
	r.Use(s.gate.Middleware)

	// Public routes
	r.Group(func(r chi.Router) {
		r.Handle("/metrics", MetricsHandler())
		r.Get("/api/health", s.HealthHandler)

		r.Post("/api/auth/register", s.RegisterHandler)
		r.Post("/api/auth/login", s.LoginHandler)
		r.Post("/api/auth/refresh", s.RefreshHandler)
		r.Post("/api/auth/logout", s.LogoutHandler)
		r.Post("/api/auth/password-reset", s.PasswordResetHandler)
		r.Get("/api/auth/me", s.MeHandler)
	})

	// Gated routes. The gate has already admitted the principal by the
	// time these run.
	r.Group(func(r chi.Router) {
		r.Get("/api/navigation", s.NavigationHandler)

		r.Get("/api/users", s.ListUsersHandler)
		r.Put("/api/users/update-role", s.UpdateRoleHandler)
		r.Get("/api/users/{id}", s.GetUserHandler)

		r.Get("/api/security/alerts", s.AlertsHandler)
		r.Post("/api/security/alerts/{id}/resolve", s.ResolveAlertHandler)
		r.Get("/api/security/summary", s.SecuritySummaryHandler)
		r.Get("/api/security/audit", s.AuditLogHandler)

		for _, page := range pages {
			r.Get("/"+page, s.PageHandler(page))
		}
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
