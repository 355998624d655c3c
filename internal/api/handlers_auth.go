package api

import (
	"errors"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/org/dashboard/internal/auth"
	"github.com/org/dashboard/internal/policy"
	"github.com/org/dashboard/internal/ratelimit"
	"github.com/org/dashboard/internal/storage"
	"github.com/org/dashboard/pkg/models"
	"github.com/rs/zerolog/hlog"
)

const (
	maxEmailLength = 255
	maxNameLength  = 100

	msgInvalidCredentials = "Invalid credentials"
	msgInvalidBody        = "Invalid request body"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	namePattern  = regexp.MustCompile(`^[a-zA-Z\s\-']+$`)
)

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// limit applies cfg to key and, when the caller is over the limit, records
// the incident and writes the 429. It reports whether the request was
// rejected.
func (s *Server) limit(w http.ResponseWriter, r *http.Request, key string, cfg ratelimit.Config) bool {
	res, err := s.limiter.IsRateLimited(r.Context(), key, cfg)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("limiter", cfg.Name).Msg("rate limit store unavailable, admitting")
	}
	if !res.Limited {
		return false
	}
	rateLimitRejections.WithLabelValues(cfg.Name).Inc()
	s.auditor.LogSecurityIncident(r.Context(), requestInfo(r), nil, models.ActionRateLimitExceeded, map[string]any{
		"route":     r.URL.Path,
		"method":    r.Method,
		"limiter":   cfg.Name,
		"requestId": requestIDFromCtx(r.Context()),
	})
	rateLimited(cfg, res, s.now()).write(w, r, s.cfg.Production)
	return true
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	hlog.FromRequest(r).Error().Err(err).Msg(msg)
	if s.cfg.Production {
		writeError(w, http.StatusInternalServerError, msg)
		return
	}
	writeError(w, http.StatusInternalServerError, msg, err.Error())
}

type registerRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

func (req *registerRequest) validate() []string {
	var errs []string

	req.Email = normalizeEmail(req.Email)
	switch {
	case req.Email == "":
		errs = append(errs, "Email is required")
	case len(req.Email) > maxEmailLength:
		errs = append(errs, "Email must not exceed 255 characters")
	case !emailPattern.MatchString(req.Email):
		errs = append(errs, "Invalid email format")
	}

	for _, f := range []struct{ label, value string }{
		{"First name", strings.TrimSpace(req.FirstName)},
		{"Last name", strings.TrimSpace(req.LastName)},
	} {
		switch n := utf8.RuneCountInString(f.value); {
		case n == 0:
			errs = append(errs, f.label+" is required")
		case n > maxNameLength:
			errs = append(errs, f.label+" must not exceed 100 characters")
		case !namePattern.MatchString(f.value):
			errs = append(errs, f.label+" can only contain letters, spaces, hyphens and apostrophes")
		}
	}
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)

	if res := auth.ValidatePasswordStrength(req.Password); !res.Valid {
		errs = append(errs, res.Errors...)
	}
	return errs
}

// RegisterHandler handles POST /api/auth/register
func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	if s.limit(w, r, clientIP(r), ratelimit.Registration) {
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if errs := req.validate(); len(errs) > 0 {
		writeError(w, http.StatusBadRequest, "Validation failed", errs...)
		return
	}

	hash, err := s.passwords.Hash(req.Password)
	if err != nil {
		s.internalError(w, r, err, "Registration failed")
		return
	}

	user := &models.User{
		Email:        req.Email,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		RoleID:       policy.DefaultRole,
		IsActive:     true,
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "Email already registered")
			return
		}
		s.internalError(w, r, err, "Registration failed")
		return
	}

	ri := requestInfo(r)
	s.auditor.LogEvent(r.Context(), &models.AuditEvent{
		UserID:     &user.ID,
		Action:     models.ActionRegister,
		Category:   models.CategoryAuthentication,
		Level:      models.LevelInfo,
		Resource:   "users",
		ResourceID: strconv.FormatInt(user.ID, 10),
		Details:    map[string]any{"email": user.Email},
		IPAddress:  ri.IPAddress,
		UserAgent:  ri.UserAgent,
		Success:    true,
	})

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Registration successful",
		"user":    user.Public(),
	})
}

func (s *Server) setSessionCookies(w http.ResponseWriter, access, refresh string) {
	http.SetCookie(w, tokenCookie(cookieAccessToken, access, s.tokens.AccessTTL(), s.cfg.Production))
	if refresh != "" {
		http.SetCookie(w, tokenCookie(cookieRefreshToken, refresh, s.tokens.RefreshTTL(), s.cfg.Production))
	}
}

func (s *Server) issueAccess(u *models.User) (string, time.Time, error) {
	return s.tokens.IssueAccessToken(auth.Claims{
		UserID:      u.ID,
		Email:       u.Email,
		RoleID:      u.RoleID,
		Permissions: policy.RolePermissions(u.RoleID),
	})
}

// LoginHandler handles POST /api/auth/login
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if s.limit(w, r, clientIP(r), ratelimit.Auth) {
		return
	}

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password required")
		return
	}

	ctx := r.Context()
	ri := requestInfo(r)

	// Always run one bcrypt comparison so a missing account costs the same
	// as a wrong password.
	hash := s.passwords.DummyHash()
	user, err := s.store.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		hash = user.PasswordHash
	case errors.Is(err, storage.ErrNotFound):
		user = nil
	default:
		s.internalError(w, r, err, "Login failed")
		return
	}

	ok, err := s.passwords.Verify(req.Password, hash)
	if err != nil {
		s.internalError(w, r, err, "Login failed")
		return
	}
	if user == nil || !ok || !user.IsActive {
		var uid *int64
		if user != nil {
			uid = &user.ID
		}
		s.auditor.LogAuthenticationAttempt(ctx, ri, uid, email, false, msgInvalidCredentials)
		writeError(w, http.StatusUnauthorized, msgInvalidCredentials)
		return
	}

	access, expiresAt, err := s.issueAccess(user)
	if err != nil {
		s.internalError(w, r, err, "Login failed")
		return
	}
	refresh, _, err := s.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		s.internalError(w, r, err, "Login failed")
		return
	}

	s.auditor.LogAuthenticationAttempt(ctx, ri, &user.ID, email, true, "")
	s.setSessionCookies(w, access, refresh)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"user":        user.Public(),
		"accessToken": access,
		"expiresAt":   expiresAt,
	})
}

// RefreshHandler handles POST /api/auth/refresh. The role is re-read from
// storage so a role change takes effect on the next refresh.
func (s *Server) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	token := req.RefreshToken
	if token == "" {
		token = cookieMap(r)[cookieRefreshToken]
	}

	ctx := r.Context()
	ri := requestInfo(r)

	userID, err := s.tokens.VerifyRefreshToken(token)
	if err != nil {
		s.auditor.LogAuthenticationAttempt(ctx, ri, nil, "", false, "Invalid refresh token")
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.internalError(w, r, err, "Token refresh failed")
		return
	}
	if err != nil || !user.IsActive {
		s.auditor.LogAuthenticationAttempt(ctx, ri, &userID, "", false, "Account unavailable")
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	access, expiresAt, err := s.issueAccess(user)
	if err != nil {
		s.internalError(w, r, err, "Token refresh failed")
		return
	}

	s.auditor.LogEvent(ctx, &models.AuditEvent{
		UserID:    &user.ID,
		Action:    models.ActionTokenRefresh,
		Category:  models.CategoryAuthentication,
		Level:     models.LevelInfo,
		Resource:  "AUTH",
		IPAddress: ri.IPAddress,
		UserAgent: ri.UserAgent,
		Success:   true,
	})
	s.setSessionCookies(w, access, "")
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"accessToken": access,
		"expiresAt":   expiresAt,
	})
}

// LogoutHandler handles POST /api/auth/logout. Tokens are stateless, so
// logging out only clears the cookies.
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	var uid *int64
	if p, err := s.gate.authenticate(r); err == nil {
		uid = &p.UserID
	}
	ri := requestInfo(r)
	s.auditor.LogEvent(r.Context(), &models.AuditEvent{
		UserID:    uid,
		Action:    models.ActionLogout,
		Category:  models.CategoryAuthentication,
		Level:     models.LevelInfo,
		Resource:  "AUTH",
		IPAddress: ri.IPAddress,
		UserAgent: ri.UserAgent,
		Success:   true,
	})

	http.SetCookie(w, expiredCookie(cookieAccessToken, s.cfg.Production))
	http.SetCookie(w, expiredCookie(cookieRefreshToken, s.cfg.Production))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// PasswordResetHandler handles POST /api/auth/password-reset. The response
// is the same whether or not the account exists.
func (s *Server) PasswordResetHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	email := normalizeEmail(req.Email)
	if !emailPattern.MatchString(email) {
		writeError(w, http.StatusBadRequest, "Validation failed", "Invalid email format")
		return
	}
	if s.limit(w, r, clientIP(r)+":"+email, ratelimit.PasswordReset) {
		return
	}

	ri := requestInfo(r)
	s.auditor.LogEvent(r.Context(), &models.AuditEvent{
		Action:    models.ActionPasswordReset,
		Category:  models.CategoryAuthentication,
		Level:     models.LevelInfo,
		Resource:  "AUTH",
		Details:   map[string]any{"email": email},
		IPAddress: ri.IPAddress,
		UserAgent: ri.UserAgent,
		Success:   true,
	})
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"message": "If an account exists for this email, reset instructions have been sent",
	})
}

// MeHandler handles GET /api/auth/me. It sits under the public auth prefix,
// so it verifies the token itself.
func (s *Server) MeHandler(w http.ResponseWriter, r *http.Request) {
	p, err := s.gate.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	user, err := s.store.GetUserByID(r.Context(), p.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		s.internalError(w, r, err, "Failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        user.Public(),
		"role":        policy.RoleName(user.RoleID),
		"permissions": policy.RolePermissions(user.RoleID),
		"navigation":  policy.Navigation(user.RoleID),
	})
}
