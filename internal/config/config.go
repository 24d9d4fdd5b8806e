// Package config loads the guard's YAML configuration and applies
// defaults. The zero config is fully usable: every field has a default
// rooted under the data directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// RoleLimit is one role's rate-limit shape in the config file. Seconds
// keep the YAML free of duration-string parsing surprises.
type RoleLimit struct {
	Requests   int `yaml:"requests"`
	PerSeconds int `yaml:"per_seconds"`
	Burst      int `yaml:"burst"`
}

// Per returns the refill period as a duration.
func (r RoleLimit) Per() time.Duration {
	return time.Duration(r.PerSeconds) * time.Second
}

// BanSettings shapes the IP ban list.
type BanSettings struct {
	WindowSeconds      int `yaml:"window_seconds"`
	Threshold          int `yaml:"threshold"`
	BanDurationSeconds int `yaml:"ban_duration_seconds"`
}

// KeychainSettings names the OS keychain entry used for auto-unlock.
// Disabled turns the bridge off entirely (headless hosts).
type KeychainSettings struct {
	Service  string `yaml:"service"`
	Account  string `yaml:"account"`
	Disabled bool   `yaml:"disabled"`
}

// TokenSettings controls session token issuance.
type TokenSettings struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

// Config is the full guard configuration.
type Config struct {
	// DataDir roots every state file. Defaults to ~/.clawguard.
	DataDir string `yaml:"data_dir"`

	// VaultPath, KeyDir and LedgerPath default under DataDir when empty.
	VaultPath  string `yaml:"vault_path"`
	KeyDir     string `yaml:"key_dir"`
	LedgerPath string `yaml:"ledger_path"`

	Token    TokenSettings        `yaml:"token"`
	Keychain KeychainSettings     `yaml:"keychain"`
	Ban      BanSettings          `yaml:"ban"`
	Limits   map[string]RoleLimit `yaml:"rate_limits"`
	Quotas   map[string]int64     `yaml:"daily_quotas"`

	// MaxBuckets caps the rate limiter's bucket map.
	MaxBuckets int `yaml:"max_buckets"`
}

// DefaultDataDir returns ~/.clawguard, falling back to a relative
// directory when the home directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".clawguard"
	}
	return filepath.Join(home, ".clawguard")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

// Load reads the YAML config at path and fills in defaults. A missing
// file is not an error: the defaults are the config.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.VaultPath == "" {
		c.VaultPath = filepath.Join(c.DataDir, "vault.enc")
	}
	if c.KeyDir == "" {
		c.KeyDir = filepath.Join(c.DataDir, "keys")
	}
	if c.LedgerPath == "" {
		c.LedgerPath = filepath.Join(c.DataDir, "ledger.db")
	}
	if c.Token.TTLSeconds <= 0 {
		c.Token.TTLSeconds = 24 * 60 * 60
	}
	if c.Keychain.Service == "" {
		c.Keychain.Service = "clawguard"
	}
	if c.Keychain.Account == "" {
		c.Keychain.Account = "vault"
	}
	if c.Ban.WindowSeconds <= 0 {
		c.Ban.WindowSeconds = 600
	}
	if c.Ban.Threshold <= 0 {
		c.Ban.Threshold = 10
	}
	if c.Ban.BanDurationSeconds <= 0 {
		c.Ban.BanDurationSeconds = 3600
	}
}

func (c *Config) validate() error {
	for role, lim := range c.Limits {
		if lim.Requests <= 0 || lim.PerSeconds <= 0 || lim.Burst <= 0 {
			return fmt.Errorf("config: rate_limits.%s: requests, per_seconds and burst must all be positive", role)
		}
	}
	for role, q := range c.Quotas {
		if q < -1 {
			return fmt.Errorf("config: daily_quotas.%s: %d is not a valid limit (-1 means unlimited)", role, q)
		}
	}
	return nil
}

// TokenTTL returns the configured session token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Token.TTLSeconds) * time.Second
}

// EnsureDataDir creates the data directory with owner-only permissions.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return fmt.Errorf("config: create data dir: %w", err)
	}
	return nil
}
