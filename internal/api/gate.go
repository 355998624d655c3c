package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/org/dashboard/internal/audit"
	"github.com/org/dashboard/internal/auth"
	"github.com/org/dashboard/internal/policy"
	"github.com/org/dashboard/internal/ratelimit"
	"github.com/org/dashboard/pkg/models"
	"github.com/rs/zerolog/log"
)

// Headers the gate sets on admitted requests. Client-supplied values are
// always stripped first.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserRole  = "X-User-Role"
)

const loginPath = "/login"

var (
	publicExact = map[string]bool{
		"/":            true,
		"/login":       true,
		"/register":    true,
		"/favicon.ico": true,
		"/api/health":  true,
		"/metrics":     true,
	}
	publicPrefixes = []string{"/api/auth/", "/_next/", "/static/"}
)

// RequestContext is the part of an HTTP request the gate decides on.
type RequestContext struct {
	Method    string
	Path      string
	RawQuery  string
	Headers   http.Header
	Cookies   map[string]string
	ClientIP  string
	UserAgent string
}

// NewRequestContext extracts a RequestContext from r.
func NewRequestContext(r *http.Request) RequestContext {
	return RequestContext{
		Method:    r.Method,
		Path:      r.URL.Path,
		RawQuery:  r.URL.RawQuery,
		Headers:   r.Header,
		Cookies:   cookieMap(r),
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func (rc RequestContext) isPage() bool {
	return !strings.HasPrefix(rc.Path, "/api/")
}

// Decision is the gate's verdict. An admitted request carries the
// Principal (nil on public routes); a rejected one carries everything
// needed to write the response.
type Decision struct {
	Admit        bool
	Principal    *models.Principal
	Status       int
	Body         any
	Headers      http.Header
	RedirectTo   string
	ClearCookies []string
}

func (d Decision) outcome() string {
	if d.Admit {
		return "admit"
	}
	return strconv.Itoa(d.Status)
}

func (d Decision) write(w http.ResponseWriter, r *http.Request, secureCookies bool) {
	for k, vs := range d.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	for _, name := range d.ClearCookies {
		http.SetCookie(w, expiredCookie(name, secureCookies))
	}
	if d.RedirectTo != "" {
		http.Redirect(w, r, d.RedirectTo, d.Status)
		return
	}
	writeJSON(w, d.Status, d.Body)
}

func reject(status int, msg string) Decision {
	return Decision{Status: status, Body: errorResponse{Error: msg}}
}

type rateLimitBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

func rateLimited(cfg ratelimit.Config, res ratelimit.Result, now time.Time) Decision {
	retry := res.RetryAfter(now)
	h := http.Header{}
	h.Set("Retry-After", strconv.Itoa(retry))
	h.Set("X-Rate-Limit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-Rate-Limit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-Rate-Limit-Reset", strconv.FormatInt(now.Add(time.Duration(retry)*time.Second).Unix(), 10))
	return Decision{
		Status:  http.StatusTooManyRequests,
		Body:    rateLimitBody{Error: cfg.Message, RetryAfter: retry},
		Headers: h,
	}
}

// Gate authenticates, rate limits and authorizes every non-public request.
type Gate struct {
	tokens        *auth.TokenService
	policy        *policy.Engine
	limiter       *ratelimit.Limiter
	auditor       AuditLogger
	secureCookies bool
	now           func() time.Time
}

// NewGate composes the gate. secureCookies marks cleared cookies Secure.
func NewGate(tokens *auth.TokenService, engine *policy.Engine, limiter *ratelimit.Limiter, auditor AuditLogger, secureCookies bool) *Gate {
	return &Gate{
		tokens:        tokens,
		policy:        engine,
		limiter:       limiter,
		auditor:       auditor,
		secureCookies: secureCookies,
		now:           time.Now,
	}
}

// IsPublic reports whether path bypasses the gate entirely.
func IsPublic(path string) bool {
	if publicExact[path] {
		return true
	}
	for _, p := range publicPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// limitFor picks the rate limit for a gated path. Only API routes are
// limited here; the public auth endpoints apply their own limiters.
func limitFor(path string) (ratelimit.Config, bool) {
	if strings.HasPrefix(path, "/api/") {
		return ratelimit.API, true
	}
	return ratelimit.Config{}, false
}

// Evaluate runs the gate steps in order and stops at the first rejection:
// public allowlist, rate limit, query inspection, token extraction, token
// verification, route authorization. Rejected injection attempts still count
// against the caller's window.
func (g *Gate) Evaluate(ctx context.Context, rc RequestContext) Decision {
	if IsPublic(rc.Path) {
		return Decision{Admit: true}
	}
	ri := audit.RequestInfo{IPAddress: rc.ClientIP, UserAgent: rc.UserAgent}

	if cfg, ok := limitFor(rc.Path); ok {
		res, err := g.limiter.IsRateLimited(ctx, rc.ClientIP, cfg)
		if err != nil {
			log.Warn().Err(err).Str("limiter", cfg.Name).Msg("rate limit store unavailable, admitting")
		}
		if res.Limited {
			rateLimitRejections.WithLabelValues(cfg.Name).Inc()
			g.auditor.LogSecurityIncident(ctx, ri, nil, models.ActionRateLimitExceeded, map[string]any{
				"route":     rc.Path,
				"method":    rc.Method,
				"limiter":   cfg.Name,
				"requestId": requestIDFromCtx(ctx),
			})
			return rateLimited(cfg, res, g.now())
		}
	}

	if action, hit := audit.InspectQuery(rc.RawQuery); hit {
		g.auditor.LogSecurityIncident(ctx, ri, nil, action, map[string]any{
			"route":     rc.Path,
			"method":    rc.Method,
			"query":     truncate(rc.RawQuery, 512),
			"requestId": requestIDFromCtx(ctx),
		})
		return reject(http.StatusBadRequest, "Invalid request")
	}

	token := bearerOrCookie(rc.Headers, rc.Cookies)
	if token == "" {
		g.auditor.LogAuthenticationAttempt(ctx, ri, nil, "", false, "No token provided")
		return g.unauthenticated(rc, "Authentication required", false)
	}

	claims, err := g.tokens.VerifyAccessToken(token)
	if err != nil {
		g.auditor.LogAuthenticationAttempt(ctx, ri, nil, "", false, "Invalid or expired token")
		return g.unauthenticated(rc, "Invalid token", true)
	}

	p := &models.Principal{
		UserID:      claims.UserID,
		Email:       claims.Email,
		RoleID:      claims.RoleID,
		Permissions: claims.Permissions,
	}
	uid := p.UserID
	g.auditor.LogAuthenticationAttempt(ctx, ri, &uid, p.Email, true, "")

	if !g.policy.CanAccessRoute(*p, rc.Path, rc.Method) {
		g.auditor.LogFailedAuthorization(ctx, ri, &uid, rc.Path,
			g.policy.RequiredRoles(rc.Path, rc.Method), policy.RoleName(p.RoleID))
		return reject(http.StatusForbidden, "Insufficient permissions")
	}

	g.auditor.LogDataAccess(ctx, ri, &uid, rc.Path, "")
	return Decision{Admit: true, Principal: p}
}

func (g *Gate) unauthenticated(rc RequestContext, msg string, clearStale bool) Decision {
	if !rc.isPage() {
		return reject(http.StatusUnauthorized, msg)
	}
	d := Decision{Status: http.StatusFound, RedirectTo: loginPath}
	if clearStale {
		d.ClearCookies = []string{cookieAccessToken, cookieRefreshToken}
	}
	return d
}

// Middleware applies Evaluate to HTTP requests. Admitted requests carry the
// principal in their context and in the X-User-* headers.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del(HeaderUserID)
		r.Header.Del(HeaderUserEmail)
		r.Header.Del(HeaderUserRole)

		d := g.Evaluate(r.Context(), NewRequestContext(r))
		gateDecisions.WithLabelValues(d.outcome()).Inc()
		if !d.Admit {
			d.write(w, r, g.secureCookies)
			return
		}
		if p := d.Principal; p != nil {
			r.Header.Set(HeaderUserID, strconv.FormatInt(p.UserID, 10))
			r.Header.Set(HeaderUserEmail, p.Email)
			r.Header.Set(HeaderUserRole, strconv.Itoa(p.RoleID))
			r = r.WithContext(withPrincipal(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate verifies the caller's access token without the rest of the
// gate. Handlers under public prefixes use it when they need identity.
func (g *Gate) authenticate(r *http.Request) (*models.Principal, error) {
	claims, err := g.tokens.VerifyAccessToken(bearerOrCookie(r.Header, cookieMap(r)))
	if err != nil {
		return nil, err
	}
	return &models.Principal{
		UserID:      claims.UserID,
		Email:       claims.Email,
		RoleID:      claims.RoleID,
		Permissions: claims.Permissions,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
