package guard

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/clawguard/internal/admission"
	"github.com/nextlevelbuilder/clawguard/internal/config"
)

func newTestService(t *testing.T, mutate func(*config.Config)) *Service {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	cfg.DataDir = t.TempDir()
	cfg.VaultPath = filepath.Join(cfg.DataDir, "vault.enc")
	cfg.KeyDir = filepath.Join(cfg.DataDir, "keys")
	cfg.LedgerPath = filepath.Join(cfg.DataDir, "ledger.db")
	cfg.Keychain.Disabled = true
	if mutate != nil {
		mutate(cfg)
	}

	s, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoginIssuesAdminToken(t *testing.T) {
	s := newTestService(t, nil)
	if err := s.Vault.Create("hunter2", false); err != nil {
		t.Fatal(err)
	}

	if _, ok := s.Login("wrong"); ok {
		t.Fatal("wrong password must not log in")
	}
	tok, ok := s.Login("hunter2")
	if !ok {
		t.Fatal("correct password must log in")
	}
	claims := s.VerifyToken(tok)
	if claims == nil {
		t.Fatal("login token must verify")
	}
	if claims["role"] != admission.RoleAdmin {
		t.Errorf("role = %v, want admin", claims["role"])
	}
	if !s.IsUnlocked() {
		t.Error("login must leave the vault unlocked")
	}
}

func TestTokenLifecycle(t *testing.T) {
	s := newTestService(t, nil)

	tok, err := s.CreateToken("Alice", "user")
	if err != nil {
		t.Fatal(err)
	}
	claims := s.VerifyToken(tok)
	if claims == nil {
		t.Fatal("fresh token must verify")
	}
	if claims["identity"] != "alice" {
		t.Errorf("identity = %v, want normalized alice", claims["identity"])
	}

	if !s.RevokeToken(tok) {
		t.Fatal("revoke must succeed on a signed token")
	}
	if s.VerifyToken(tok) != nil {
		t.Error("revoked token must not verify")
	}

	if _, err := s.RotateKey(); err != nil {
		t.Fatal(err)
	}
	tok2, err := s.CreateToken("bob", "user")
	if err != nil {
		t.Fatal(err)
	}
	if s.VerifyToken(tok2) == nil {
		t.Error("token under rotated key must verify")
	}
}

func TestAdmit_RateLimitFeedsBanList(t *testing.T) {
	s := newTestService(t, func(cfg *config.Config) {
		cfg.Limits = map[string]config.RoleLimit{
			"user": {Requests: 1, PerSeconds: 60, Burst: 1},
			"ip":   {Requests: 100, PerSeconds: 60, Burst: 100},
		}
		cfg.Ban.Threshold = 3
	})

	if err := s.Admit("alice", "user", "9.9.9.9"); err != nil {
		t.Fatalf("first request: %v", err)
	}

	// Each rejection counts as a violation; the third bans the IP.
	for i := 0; i < 3; i++ {
		err := s.Admit("alice", "user", "9.9.9.9")
		var rle *admission.RateLimitError
		if !errors.As(err, &rle) {
			t.Fatalf("attempt %d: err = %v, want rate limit", i+1, err)
		}
	}

	err := s.Admit("alice", "user", "9.9.9.9")
	var be *admission.BannedError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want banned", err)
	}
	if be.Remaining <= 0 {
		t.Errorf("Remaining = %v, want > 0", be.Remaining)
	}

	// Other IPs are unaffected.
	if err := s.Admit("carol", "user", "8.8.8.8"); err != nil {
		t.Errorf("other ip: %v", err)
	}
}

func TestAdmit_QuotaGate(t *testing.T) {
	s := newTestService(t, func(cfg *config.Config) {
		cfg.Quotas = map[string]int64{"user": 100}
	})

	s.AddUsage("alice", 100)
	err := s.Admit("alice", "user", "")
	var qe *admission.QuotaError
	if !errors.As(err, &qe) {
		t.Fatalf("err = %v, want quota", err)
	}
	if s.GetUsage("alice") != 100 {
		t.Errorf("GetUsage = %d", s.GetUsage("alice"))
	}
	// Admin ignores quotas entirely.
	s.AddUsage("root", 1_000_000)
	if err := s.Admit("root", "admin", ""); err != nil {
		t.Errorf("admin: %v", err)
	}
}

func TestAdmit_IdentityNormalization(t *testing.T) {
	s := newTestService(t, func(cfg *config.Config) {
		cfg.Limits = map[string]config.RoleLimit{
			"user": {Requests: 1, PerSeconds: 60, Burst: 1},
		}
	})

	if err := s.Admit("  Alice ", "user", ""); err != nil {
		t.Fatal(err)
	}
	// Same identity after normalization, so the bucket is shared.
	if err := s.Admit("alice", "user", ""); err == nil {
		t.Error("normalized duplicate must hit the same bucket")
	}
}

func TestUnbanRestoresAccess(t *testing.T) {
	s := newTestService(t, func(cfg *config.Config) {
		cfg.Ban.Threshold = 1
	})

	s.RecordViolation("6.6.6.6")
	if banned, _ := s.IsBanned("6.6.6.6"); !banned {
		t.Fatal("expected ban at threshold 1")
	}
	if !s.Unban("6.6.6.6") {
		t.Fatal("unban")
	}
	if err := s.Admit("dave", "user", "6.6.6.6"); err != nil {
		t.Errorf("after unban: %v", err)
	}
}
