package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir == "" {
		t.Error("DataDir default missing")
	}
	if cfg.VaultPath != filepath.Join(cfg.DataDir, "vault.enc") {
		t.Errorf("VaultPath = %s", cfg.VaultPath)
	}
	if cfg.TokenTTL() != 24*time.Hour {
		t.Errorf("TokenTTL = %v, want 24h", cfg.TokenTTL())
	}
	if cfg.Ban.Threshold != 10 || cfg.Ban.WindowSeconds != 600 {
		t.Errorf("ban defaults = %+v", cfg.Ban)
	}
	if cfg.Keychain.Service != "clawguard" {
		t.Errorf("keychain service = %s", cfg.Keychain.Service)
	}
}

func TestLoad_FileOverridesAndDerivedPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
data_dir: /srv/guard
token:
  ttl_seconds: 900
rate_limits:
  user:
    requests: 5
    per_seconds: 30
    burst: 2
daily_quotas:
  user: 1000
  admin: -1
ban:
  threshold: 3
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "/srv/guard" {
		t.Errorf("DataDir = %s", cfg.DataDir)
	}
	if cfg.LedgerPath != "/srv/guard/ledger.db" {
		t.Errorf("LedgerPath = %s", cfg.LedgerPath)
	}
	if cfg.TokenTTL() != 15*time.Minute {
		t.Errorf("TokenTTL = %v", cfg.TokenTTL())
	}
	lim := cfg.Limits["user"]
	if lim.Requests != 5 || lim.Per() != 30*time.Second || lim.Burst != 2 {
		t.Errorf("user limit = %+v", lim)
	}
	if cfg.Quotas["admin"] != -1 {
		t.Errorf("admin quota = %d", cfg.Quotas["admin"])
	}
	// Unset ban fields still default.
	if cfg.Ban.Threshold != 3 || cfg.Ban.BanDurationSeconds != 3600 {
		t.Errorf("ban = %+v", cfg.Ban)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"zero_burst": "rate_limits:\n  user:\n    requests: 5\n    per_seconds: 30\n    burst: 0\n",
		"neg_quota":  "daily_quotas:\n  user: -2\n",
		"bad_yaml":   "rate_limits: [not a map\n",
	}
	for name, body := range cases {
		path := filepath.Join(dir, name+".yaml")
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: Load should fail", name)
		}
	}
}

func TestNormalizeIdentity(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"alice", "alice"},
		{"  Alice  ", "alice"},
		{"bob.smith_2", "bob.smith_2"},
		{"weird!!chars??here", "weird-chars-here"},
		{"---dashes---", "dashes"},
		{"", "anonymous"},
		{"!!!", "anonymous"},
	}
	for _, c := range cases {
		if got := NormalizeIdentity(c.in); got != c.want {
			t.Errorf("NormalizeIdentity(%q) = %q, want %q", c.in, got, c.want)
		}
	}

	long := NormalizeIdentity(strings.Repeat("ab!", 100))
	if len(long) > 64 {
		t.Errorf("len = %d, want <= 64", len(long))
	}
}
