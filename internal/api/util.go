package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/org/dashboard/internal/audit"
	"github.com/org/dashboard/internal/ratelimit"
)

const (
	maxBodyBytes = 1 << 20

	cookieAccessToken  = "accessToken"
	cookieRefreshToken = "refreshToken"
)

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msg string, details ...string) {
	writeJSON(w, code, errorResponse{Error: msg, Details: details})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

// clientIP returns the address resolved by clientIPMiddleware. Requests that
// bypassed the router trust no proxy.
func clientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(ctxKeyClientIP).(string); ok {
		return ip
	}
	return ratelimit.TrustedProxies(nil).ClientKey(r.Header, r.RemoteAddr)
}

func requestInfo(r *http.Request) audit.RequestInfo {
	return audit.RequestInfo{IPAddress: clientIP(r), UserAgent: r.UserAgent()}
}

// bearerOrCookie returns the access token from the Authorization header,
// falling back to the accessToken cookie.
func bearerOrCookie(h http.Header, cookies map[string]string) string {
	if v := h.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
		if tok := strings.TrimSpace(strings.TrimPrefix(v, "Bearer ")); tok != "" {
			return tok
		}
	}
	return cookies[cookieAccessToken]
}

func cookieMap(r *http.Request) map[string]string {
	m := make(map[string]string)
	for _, c := range r.Cookies() {
		if _, seen := m[c.Name]; !seen {
			m[c.Name] = c.Value
		}
	}
	return m
}

func tokenCookie(name, value string, ttl time.Duration, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// expiredCookie deletes name on the client. MaxAge -1 is sent as Max-Age=0.
func expiredCookie(name string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func queryInt(r *http.Request, key string, def, max int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}
