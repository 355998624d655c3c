package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	secretA = strings.Repeat("a", MinSecretLength)
	secretB = strings.Repeat("b", MinSecretLength)
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileAndDurations(t *testing.T) {
	path := writeFile(t, `
listen_addr: ":8080"
db_url: postgres://localhost/dash
access_ttl: 5m
refresh_ttl: 48h
audit_retention: 720h
bcrypt_rounds: 11
jwt_secret: one
jwt_refresh_secret: two
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 5*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 48*time.Hour, cfg.RefreshTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.AuditRetention)
	assert.Equal(t, 11, cfg.BcryptRounds)
	// Untouched fields keep their defaults.
	assert.Equal(t, "migrations", cfg.MigrationsDir)
	assert.Equal(t, 2*time.Second, cfg.AuditWriteTimeout)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 12, cfg.BcryptRounds)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeFile(t, "listen_addr: [unterminated"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"APP_ENV":            EnvProduction,
		"DATABASE_URL":       "postgres://db/prod",
		"JWT_SECRET":         secretA,
		"JWT_REFRESH_SECRET": secretB,
		"BCRYPT_ROUNDS":      "13",
		"REDIS_ADDR":         "redis:6379",
	}
	require.NoError(t, cfg.applyEnv(func(k string) string { return env[k] }))

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "postgres://db/prod", cfg.DBUrl)
	assert.Equal(t, 13, cfg.BcryptRounds)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.NoError(t, cfg.Validate())
}

func TestEnvOverrideBadRounds(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(func(k string) string {
		if k == "BCRYPT_ROUNDS" {
			return "twelve"
		}
		return ""
	})
	assert.Error(t, err)
}

func TestValidateProduction(t *testing.T) {
	base := func() Config {
		c := Default()
		c.Env = EnvProduction
		c.DBUrl = "postgres://db/prod"
		c.JWTSecret = secretA
		c.JWTRefreshSecret = secretB
		return c
	}

	t.Run("ok", func(t *testing.T) {
		c := base()
		assert.NoError(t, c.Validate())
	})
	t.Run("short secret", func(t *testing.T) {
		c := base()
		c.JWTSecret = "short"
		assert.Error(t, c.Validate())
	})
	t.Run("missing secret is not generated", func(t *testing.T) {
		c := base()
		c.JWTRefreshSecret = ""
		assert.Error(t, c.Validate())
	})
	t.Run("shared secret", func(t *testing.T) {
		c := base()
		c.JWTRefreshSecret = secretA
		assert.Error(t, c.Validate())
	})
	t.Run("missing db", func(t *testing.T) {
		c := base()
		c.DBUrl = ""
		assert.Error(t, c.Validate())
	})
}

func TestValidateDevelopmentGeneratesSecrets(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Len(t, c.JWTSecret, 2*MinSecretLength)
	assert.Len(t, c.JWTRefreshSecret, 2*MinSecretLength)
	assert.NotEqual(t, c.JWTSecret, c.JWTRefreshSecret)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown env":      func(c *Config) { c.Env = "staging" },
		"low rounds":       func(c *Config) { c.BcryptRounds = 4 },
		"zero access ttl":  func(c *Config) { c.AccessTTL = 0 },
		"zero conns":       func(c *Config) { c.DBMaxConns = 0 },
		"bad proxy cidr":   func(c *Config) { c.TrustedProxies = []string{"10.0.0.0/40"} },
		"same dev secrets": func(c *Config) { c.JWTSecret, c.JWTRefreshSecret = "x", "x" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestTrustedProxies(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Empty(t, c.Proxies(), "no proxy is trusted by default")

	c = Default()
	env := map[string]string{"TRUSTED_PROXIES": "10.0.0.0/8, 192.0.2.254"}
	require.NoError(t, c.applyEnv(func(k string) string { return env[k] }))
	require.NoError(t, c.Validate())
	assert.Len(t, c.Proxies(), 2)

	path := writeFile(t, "trusted_proxies: [\"172.16.0.0/12\"]\n")
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"172.16.0.0/12"}, loaded.TrustedProxies)
	assert.Len(t, loaded.Proxies(), 1)
}
