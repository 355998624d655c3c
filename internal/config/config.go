// Package config loads server settings from a YAML file with environment
// overrides and validates them before anything is wired.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/org/dashboard/internal/ratelimit"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"

	// MinSecretLength is the shortest JWT secret accepted in production.
	MinSecretLength = 32

	minBcryptRounds = 10
	maxBcryptRounds = 31
)

// Config holds server configuration.
type Config struct {
	Env           string `yaml:"env"`
	ListenAddr    string `yaml:"listen_addr"`
	TLSCertFile   string `yaml:"tls_cert"`
	TLSKeyFile    string `yaml:"tls_key"`
	DBUrl         string `yaml:"db_url"`
	DBMaxConns    int32  `yaml:"db_max_conns"`
	MigrationsDir string `yaml:"migrations_dir"`
	LogLevel      string `yaml:"log_level"`
	RedisAddr     string `yaml:"redis_addr"`

	// TrustedProxies are CIDRs or addresses allowed to set forwarding
	// headers. Leave empty unless a reverse proxy fronts the server.
	TrustedProxies []string `yaml:"trusted_proxies"`
	proxies        ratelimit.TrustedProxies

	JWTSecret        string        `yaml:"jwt_secret"`
	JWTRefreshSecret string        `yaml:"jwt_refresh_secret"`
	AccessTTL        time.Duration `yaml:"access_ttl"`
	RefreshTTL       time.Duration `yaml:"refresh_ttl"`
	BcryptRounds     int           `yaml:"bcrypt_rounds"`

	AuditRetention    time.Duration `yaml:"audit_retention"`
	AuditWriteTimeout time.Duration `yaml:"audit_write_timeout"`
	MonitorSchedule   string        `yaml:"monitor_schedule"`
	PurgeSchedule     string        `yaml:"purge_schedule"`
	NotifyPerMinute   int           `yaml:"notify_per_minute"`
}

// Default returns the settings used when neither file nor env say otherwise.
func Default() Config {
	return Config{
		Env:               EnvDevelopment,
		ListenAddr:        ":3000",
		DBMaxConns:        20,
		MigrationsDir:     "migrations",
		LogLevel:          "info",
		AccessTTL:         15 * time.Minute,
		RefreshTTL:        7 * 24 * time.Hour,
		BcryptRounds:      12,
		AuditRetention:    90 * 24 * time.Hour,
		AuditWriteTimeout: 2 * time.Second,
		MonitorSchedule:   "@every 5m",
		PurgeSchedule:     "@daily",
		NotifyPerMinute:   10,
	}
}

// Load reads path (a missing file is not an error), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("file", path).Msg("config file not found, using defaults")
	} else {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Env, "APP_ENV")
	set(&c.ListenAddr, "LISTEN_ADDR")
	set(&c.DBUrl, "DATABASE_URL")
	set(&c.RedisAddr, "REDIS_ADDR")
	set(&c.LogLevel, "LOG_LEVEL")
	set(&c.JWTSecret, "JWT_SECRET")
	set(&c.JWTRefreshSecret, "JWT_REFRESH_SECRET")

	if v := getenv("TRUSTED_PROXIES"); v != "" {
		c.TrustedProxies = strings.Split(v, ",")
	}

	if v := getenv("BCRYPT_ROUNDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BCRYPT_ROUNDS: %w", err)
		}
		c.BcryptRounds = n
	}
	return nil
}

// Proxies returns the parsed trusted_proxies list. Valid after Validate.
func (c *Config) Proxies() ratelimit.TrustedProxies {
	return c.proxies
}

// IsProduction reports whether the production hardening applies.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Validate fails fast on settings the server cannot run with. Outside
// production, missing JWT secrets are replaced with random ones so a
// developer can start the server with no setup; tokens then do not survive
// a restart.
func (c *Config) Validate() error {
	switch c.Env {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		return fmt.Errorf("unknown env %q", c.Env)
	}

	if c.BcryptRounds < minBcryptRounds || c.BcryptRounds > maxBcryptRounds {
		return fmt.Errorf("bcrypt_rounds must be between %d and %d, got %d", minBcryptRounds, maxBcryptRounds, c.BcryptRounds)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("access_ttl and refresh_ttl must be positive")
	}
	if c.DBMaxConns <= 0 {
		return errors.New("db_max_conns must be positive")
	}
	proxies, err := ratelimit.ParseTrustedProxies(c.TrustedProxies)
	if err != nil {
		return fmt.Errorf("trusted_proxies: %w", err)
	}
	c.proxies = proxies

	if c.IsProduction() {
		if c.DBUrl == "" {
			return errors.New("db_url must be configured (or DATABASE_URL env var)")
		}
		if len(c.JWTSecret) < MinSecretLength || len(c.JWTRefreshSecret) < MinSecretLength {
			return fmt.Errorf("jwt secrets must be at least %d bytes in production", MinSecretLength)
		}
	} else {
		if c.JWTSecret == "" {
			c.JWTSecret = randomSecret()
			log.Warn().Msg("JWT_SECRET not set, using a random secret for this process")
		}
		if c.JWTRefreshSecret == "" {
			c.JWTRefreshSecret = randomSecret()
			log.Warn().Msg("JWT_REFRESH_SECRET not set, using a random secret for this process")
		}
	}

	if c.JWTSecret == c.JWTRefreshSecret {
		return errors.New("jwt_secret and jwt_refresh_secret must differ")
	}
	return nil
}

func randomSecret() string {
	b := make([]byte, MinSecretLength)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("reading random secret: %v", err))
	}
	return hex.EncodeToString(b)
}
