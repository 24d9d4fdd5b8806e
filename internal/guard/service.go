// Package guard wires the credential and admission components into one
// explicit service. Nothing here is a global: construct a Service from a
// Config, use it, Close it.
package guard

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nextlevelbuilder/clawguard/internal/admission"
	"github.com/nextlevelbuilder/clawguard/internal/config"
	"github.com/nextlevelbuilder/clawguard/internal/keychain"
	"github.com/nextlevelbuilder/clawguard/internal/ledger"
	"github.com/nextlevelbuilder/clawguard/internal/token"
	"github.com/nextlevelbuilder/clawguard/internal/vault"
)

// Service owns every guard component plus the shared ledger handle.
type Service struct {
	cfg      *config.Config
	db       *sql.DB
	keychain *keychain.Bridge

	Vault       *vault.Vault
	Tokens      *token.KeyRing
	revocations *token.RevocationLedger
	limiter     *admission.RateLimiter
	bans        *admission.IPBanList
	quota       *admission.DailyQuotaManager

	watcher   *config.Watcher
	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New builds a Service from cfg. The data directory is created if
// missing; the ledger, key ring, and admission state load eagerly so a
// broken installation fails here rather than mid-request.
func New(cfg *config.Config) (*Service, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}

	db, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("guard: open ledger: %w", err)
	}

	s := &Service{cfg: cfg, db: db}

	if !cfg.Keychain.Disabled {
		s.keychain = keychain.New(cfg.Keychain.Service, cfg.Keychain.Account)
	}

	s.Vault = vault.New(cfg.VaultPath, vault.Options{Keychain: s.keychain})

	s.revocations, err = token.NewRevocationLedger(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.Tokens, err = token.NewKeyRing(cfg.KeyDir, s.revocations)
	if err != nil {
		db.Close()
		return nil, err
	}

	s.limiter = admission.NewRateLimiter(rateTable(cfg.Limits), cfg.MaxBuckets)
	s.bans, err = admission.NewIPBanList(db, banConfig(cfg.Ban))
	if err != nil {
		db.Close()
		return nil, err
	}
	s.quota, err = admission.NewDailyQuotaManager(db, quotaTable(cfg.Quotas))
	if err != nil {
		db.Close()
		return nil, err
	}

	s.warnLoosePermissions()
	return s, nil
}

// Close stops background work and releases the ledger.
func (s *Service) Close() error {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.sweepStop != nil {
		close(s.sweepStop)
		<-s.sweepDone
	}
	return s.db.Close()
}

// Admit is the per-request gate, checked in order of cheapness and
// severity: active ban, source-IP rate, identity rate, daily quota.
// Rate-limit rejections count as violations against the source IP.
func (s *Service) Admit(identity, role, ip string) error {
	identity = config.NormalizeIdentity(identity)

	if ip != "" {
		if banned, remaining := s.bans.IsBanned(ip); banned {
			return &admission.BannedError{IP: ip, Remaining: remaining}
		}
		if err := s.limiter.Check(ip, admission.RoleIP); err != nil {
			s.bans.RecordViolation(ip)
			return err
		}
	}

	if err := s.limiter.Check(identity, role); err != nil {
		if ip != "" {
			s.bans.RecordViolation(ip)
		}
		return err
	}

	return s.quota.Check(identity, role)
}

// Login verifies password against the vault, unlocking it on first use,
// and issues an admin session token. The failure return is deliberately
// generic: no detail distinguishes wrong password from missing vault.
func (s *Service) Login(password string) (string, bool) {
	ok := false
	if s.Vault.IsUnlocked() {
		ok = s.Vault.VerifyPassword(password)
	} else {
		ok = s.Vault.Unlock(password)
	}
	if !ok {
		slog.Warn("security.login_failed")
		return "", false
	}

	tok, err := s.CreateToken("local-admin", admission.RoleAdmin)
	if err != nil {
		slog.Error("guard.login_token_failed", "error", err)
		return "", false
	}
	slog.Info("security.login_ok")
	return tok, true
}

// AutoUnlock tries the OS keychain password. Best-effort: returns false
// when the keychain is disabled, empty, or holds a stale password.
func (s *Service) AutoUnlock() bool {
	if s.Vault.IsUnlocked() {
		return true
	}
	if s.keychain == nil {
		return false
	}
	password, ok := s.keychain.Get()
	if !ok {
		return false
	}
	if !s.Vault.Unlock(password) {
		slog.Warn("vault.keychain_password_stale")
		return false
	}
	slog.Info("vault.unlocked_from_keychain")
	return true
}

// Secret access, delegated to the vault.

func (s *Service) GetSecret(key string, def any) any { return s.Vault.Get(key, def) }
func (s *Service) SetSecret(key string, v any) error { return s.Vault.Set(key, v) }
func (s *Service) DeleteSecret(key string) error     { return s.Vault.Delete(key) }
func (s *Service) SecretKeys() []string              { return s.Vault.Keys() }
func (s *Service) IsUnlocked() bool                  { return s.Vault.IsUnlocked() }

// CreateToken issues a session token for identity under role, with the
// configured TTL.
func (s *Service) CreateToken(identity, role string) (string, error) {
	return s.Tokens.Create(map[string]any{
		"identity": config.NormalizeIdentity(identity),
		"role":     role,
	}, s.cfg.TokenTTL())
}

// VerifyToken returns the claims, or nil for any invalid token.
func (s *Service) VerifyToken(tok string) map[string]any { return s.Tokens.Verify(tok) }

// RevokeToken durably revokes a signed token.
func (s *Service) RevokeToken(tok string) bool { return s.Tokens.Revoke(tok) }

// RotateKey adds a fresh signing key and points issuance at it.
func (s *Service) RotateKey() (string, error) { return s.Tokens.Rotate() }

// Admission state, delegated for callers that gate pieces separately.

func (s *Service) CheckRateLimit(key, role string) error { return s.limiter.Check(key, role) }
func (s *Service) RecordViolation(ip string) bool { return s.bans.RecordViolation(ip) }
func (s *Service) IsBanned(ip string) (bool, time.Duration) {
	return s.bans.IsBanned(ip)
}
func (s *Service) Unban(ip string) bool { return s.bans.Unban(ip) }
func (s *Service) BannedIPs() []admission.BanStatus { return s.bans.Banned() }

func (s *Service) CheckQuota(identity, role string) error {
	return s.quota.Check(config.NormalizeIdentity(identity), role)
}
func (s *Service) AddUsage(identity string, amount int64) {
	s.quota.AddUsage(config.NormalizeIdentity(identity), amount)
}
func (s *Service) GetUsage(identity string) int64 {
	return s.quota.GetUsage(config.NormalizeIdentity(identity))
}
func (s *Service) UsageToday() []admission.UsageEntry { return s.quota.GetAllToday() }

// StartSweeps runs periodic cleanup of idle buckets, lapsed bans, stale
// quota rows, and expired revocations until Close.
func (s *Service) StartSweeps(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	s.sweepStop = make(chan struct{})
	s.sweepDone = make(chan struct{})

	go func() {
		defer close(s.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.sweepStop:
				return
			case <-ticker.C:
				s.limiter.Sweep()
				s.bans.Sweep()
				s.quota.Sweep()
				if n := s.revocations.Prune(); n > 0 {
					slog.Debug("token.revocations_pruned", "count", n)
				}
			}
		}
	}()
}

// WatchConfig hot-reloads rate-limit and quota tables when the config
// file changes. Paths and the keychain entry are fixed at construction
// and ignore reloads.
func (s *Service) WatchConfig(path string) error {
	w, err := config.NewWatcher(path)
	if err != nil {
		return err
	}
	w.OnChange(func(cfg *config.Config) {
		s.limiter.SetLimits(rateTable(cfg.Limits))
		s.quota.SetLimits(quotaTable(cfg.Quotas))
		slog.Info("guard.limits_reloaded")
	})
	if err := w.Start(); err != nil {
		return err
	}
	s.watcher = w
	return nil
}

// rateTable merges config overrides over the default role table.
func rateTable(overrides map[string]config.RoleLimit) map[string]admission.RateLimit {
	table := admission.DefaultRateLimits()
	for role, lim := range overrides {
		table[role] = admission.RateLimit{
			Requests: lim.Requests,
			Per:      lim.Per(),
			Burst:    lim.Burst,
		}
	}
	return table
}

func quotaTable(overrides map[string]int64) map[string]int64 {
	table := admission.DefaultQuotaLimits()
	for role, q := range overrides {
		table[role] = q
	}
	return table
}

func banConfig(b config.BanSettings) admission.BanConfig {
	return admission.BanConfig{
		Window:      time.Duration(b.WindowSeconds) * time.Second,
		Threshold:   b.Threshold,
		BanDuration: time.Duration(b.BanDurationSeconds) * time.Second,
	}
}

// warnLoosePermissions flags state files readable by other users. Warn
// only: refusing to start over permissions would brick recovery.
func (s *Service) warnLoosePermissions() {
	check := func(path string, want os.FileMode) {
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if perm := info.Mode().Perm(); perm&0o077 != 0 {
			slog.Warn("security.loose_permissions", "path", path, "mode", fmt.Sprintf("%04o", perm), "want", fmt.Sprintf("%04o", want))
		}
	}
	check(s.cfg.VaultPath, 0o600)
	check(s.cfg.KeyDir, 0o700)
	check(s.cfg.LedgerPath, 0o600)
}
