package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultAddress = "http://127.0.0.1:3000"

// CLIConfig is what dashctl remembers between runs.
type CLIConfig struct {
	Address        string    `yaml:"address"`
	Token          string    `yaml:"token,omitempty"`
	TokenExpiresAt time.Time `yaml:"token_expires_at,omitempty"`
	TLSCACert      string    `yaml:"tls_ca_cert,omitempty"`
}

// cfg is the saved configuration, without env overrides.
var cfg CLIConfig

// configPath is $DASHCTL_CONFIG, else dashctl/config.yaml under the user
// config directory.
func configPath() string {
	if v := os.Getenv("DASHCTL_CONFIG"); v != "" {
		return v
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "dashctl", "config.yaml")
}

// loadConfig reads path. A missing file yields the defaults; a corrupt one
// is an error.
func loadConfig(path string) (CLIConfig, error) {
	c := CLIConfig{Address: defaultAddress}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parsing %s: %w", path, err)
	}
	if c.Address == "" {
		c.Address = defaultAddress
	}
	return c, nil
}

// withEnv applies DASHBOARD_ADDR, DASHBOARD_TOKEN and DASHBOARD_CACERT.
// The result is never saved.
func (c CLIConfig) withEnv(getenv func(string) string) CLIConfig {
	if v := getenv("DASHBOARD_ADDR"); v != "" {
		c.Address = v
	}
	if v := getenv("DASHBOARD_TOKEN"); v != "" {
		c.Token = v
		c.TokenExpiresAt = time.Time{}
	}
	if v := getenv("DASHBOARD_CACERT"); v != "" {
		c.TLSCACert = v
	}
	return c
}

// tokenExpired reports whether the saved token is known to be stale.
func (c CLIConfig) tokenExpired(now time.Time) bool {
	return c.Token != "" && !c.TokenExpiresAt.IsZero() && !now.Before(c.TokenExpiresAt)
}

// saveConfig writes c owner-only. The file holds a bearer token, so it goes
// through a temp file and a rename and is never left half written.
func saveConfig(path string, c CLIConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(&c)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
