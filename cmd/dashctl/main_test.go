package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testClient(t *testing.T, c CLIConfig) *Client {
	t.Helper()
	client, err := clientFor(c)
	if err != nil {
		t.Fatalf("clientFor: %v", err)
	}
	return client
}

func TestParseRole(t *testing.T) {
	cases := map[string]int{
		"1":           1,
		"4":           4,
		"admin":       2,
		"Super Admin": 1,
		"super-admin": 1,
		"viewer":      4,
	}
	for in, want := range cases {
		got, err := parseRole(in)
		if err != nil {
			t.Errorf("parseRole(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("parseRole(%q) = %d, want %d", in, got, want)
		}
	}
	for _, bad := range []string{"0", "9", "owner", ""} {
		if _, err := parseRole(bad); err == nil {
			t.Errorf("parseRole(%q) should fail", bad)
		}
	}
}

func TestParseResponseErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/validation":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"Validation failed","details":["Email is required","Last name is required"]}`)) //nolint:errcheck
		case "/limited":
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"Too many requests, please slow down","retryAfter":42}`)) //nolint:errcheck
		case "/throttled":
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"Too many requests"}`)) //nolint:errcheck
		case "/html":
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("<html>bad gateway</html>")) //nolint:errcheck
		default:
			w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
		}
	}))
	defer srv.Close()

	c := testClient(t, CLIConfig{Address: srv.URL})
	ctx := context.Background()

	_, err := c.get(ctx, "/validation")
	if err == nil || err.Error() != "Validation failed: Email is required, Last name is required" {
		t.Errorf("unexpected validation error: %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest || len(apiErr.Details) != 2 {
		t.Errorf("expected a 400 *APIError with details, got %#v", err)
	}

	_, err = c.get(ctx, "/limited")
	if err == nil || !strings.Contains(err.Error(), "retry after 42s") {
		t.Errorf("unexpected rate limit error: %v", err)
	}
	_, err = c.get(ctx, "/throttled")
	if !errors.As(err, &apiErr) || apiErr.RetryAfter != 7 {
		t.Errorf("Retry-After header not used: %v", err)
	}
	_, err = c.get(ctx, "/html")
	if err == nil || !strings.HasPrefix(err.Error(), "HTTP 502") {
		t.Errorf("unexpected non-JSON error: %v", err)
	}
	result, err := c.get(ctx, "/health")
	if err != nil || result["status"] != "ok" {
		t.Errorf("unexpected success result: %v %v", result, err)
	}
}

func TestClientSendsBearerToken(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Write([]byte(`{}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := testClient(t, CLIConfig{Address: srv.URL + "/", Token: "abc"})
	if _, err := c.get(context.Background(), "/api/auth/me"); err != nil {
		t.Fatal(err)
	}
	if got != "Bearer abc" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestClientForRejectsBadSettings(t *testing.T) {
	if _, err := clientFor(CLIConfig{Address: "localhost:3000"}); err == nil {
		t.Error("address without scheme should be rejected")
	}
	missing := filepath.Join(t.TempDir(), "absent.pem")
	if _, err := clientFor(CLIConfig{Address: defaultAddress, TLSCACert: missing}); err == nil {
		t.Error("unreadable CA file should be rejected")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	c, err := loadConfig(path)
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if c.Address != defaultAddress {
		t.Errorf("default address = %q", c.Address)
	}

	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	c.Token = "tok"
	c.TokenExpiresAt = exp
	if err := saveConfig(path, c); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config written with mode %o, want 600", perm)
	}

	got, err := loadConfig(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Token != "tok" || !got.TokenExpiresAt.Equal(exp) {
		t.Errorf("reloaded %+v", got)
	}
	if !got.tokenExpired(exp) || got.tokenExpired(exp.Add(-time.Minute)) {
		t.Error("tokenExpired disagrees with the saved expiry")
	}
}

func TestLoadConfigRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("address: [oops"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Error("expected a parse error")
	}
}

func TestConfigWithEnv(t *testing.T) {
	saved := CLIConfig{Address: defaultAddress, Token: "saved", TokenExpiresAt: time.Unix(1, 0)}
	env := map[string]string{"DASHBOARD_ADDR": "https://dash.example.com", "DASHBOARD_TOKEN": "from-env"}

	got := saved.withEnv(func(k string) string { return env[k] })
	if got.Address != "https://dash.example.com" || got.Token != "from-env" {
		t.Errorf("overrides not applied: %+v", got)
	}
	if got.tokenExpired(time.Now()) {
		t.Error("an env token carries no saved expiry")
	}
	if saved.Token != "saved" {
		t.Error("withEnv must not touch the saved config")
	}
}
