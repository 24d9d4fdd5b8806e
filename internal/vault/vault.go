// Package vault stores provider secrets at rest under a password-derived
// key. The whole secret map lives in one encrypted file; every mutation
// re-encrypts and atomically rewrites it, so the file on disk is always a
// complete, internally consistent vault.
package vault

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/clawguard/internal/fsutil"
	"github.com/nextlevelbuilder/clawguard/internal/keychain"
)

const (
	// BackupSuffix is appended to the vault path for the backup copy.
	BackupSuffix = ".bak"
	// DefaultBackupMinBytes: a blob smaller than this never overwrites the
	// backup, so an empty or near-empty vault can't clobber a real one.
	DefaultBackupMinBytes = 128

	fileMode = 0600
)

var (
	ErrAlreadyExists = errors.New("vault: vault file already exists")
	ErrNotUnlocked   = errors.New("vault: vault is not unlocked")
	ErrNoVault       = errors.New("vault: no vault file at this path")
)

// Options configures optional vault behavior.
type Options struct {
	// BackupMinBytes overrides DefaultBackupMinBytes when > 0.
	BackupMinBytes int
	// Keychain, when non-nil, receives the vault password on create and
	// password change. Best-effort.
	Keychain *keychain.Bridge
	// ExtraProviders are consulted after the built-in env provider.
	ExtraProviders []Provider
}

// Vault is the secret store. All methods are safe for concurrent use; a
// single mutex serializes every mutate-then-persist sequence.
type Vault struct {
	mu        sync.Mutex
	path      string
	backupMin int
	keychain  *keychain.Bridge
	providers []Provider

	// Unlocked state. Assigned only after a full decode succeeds, so a
	// failed unlock leaves all three exactly as they were.
	unlocked bool
	password string
	salt     []byte
	secrets  map[string]any
}

// New creates a vault handle for the given file path. The file itself is
// only touched by Create, Unlock, and the mutating operations.
func New(path string, opts Options) *Vault {
	backupMin := opts.BackupMinBytes
	if backupMin <= 0 {
		backupMin = DefaultBackupMinBytes
	}
	providers := append([]Provider{envProvider{}}, opts.ExtraProviders...)
	return &Vault{
		path:      path,
		backupMin: backupMin,
		keychain:  opts.Keychain,
		providers: providers,
	}
}

// Path returns the vault file path.
func (v *Vault) Path() string { return v.path }

// Exists reports whether a vault file is present on disk.
func (v *Vault) Exists() bool {
	_, err := os.Stat(v.path)
	return err == nil
}

// Create initializes a fresh vault under password. Fails with
// ErrAlreadyExists unless force is set. The new vault starts empty and is
// persisted immediately.
func (v *Vault) Create(password string, force bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.Exists() && !force {
		return ErrAlreadyExists
	}

	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("vault: generate salt: %w", err)
	}

	v.unlocked = true
	v.password = password
	v.salt = salt
	v.secrets = make(map[string]any)

	if err := v.persistLocked(); err != nil {
		return err
	}

	if v.keychain.Set(password) {
		slog.Debug("vault.keychain_stored")
	}

	slog.Info("vault.created", "path", v.path)
	return nil
}

// Unlock reads and decrypts the vault file. Returns false for a wrong
// password, corrupted file, or unknown format, indistinguishably. On any
// failure the instance keeps whatever state it had before the call.
func (v *Vault) Unlock(password string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	blob, err := os.ReadFile(v.path)
	if err != nil {
		slog.Debug("vault.unlock_failed", "reason", "read", "error", err)
		return false
	}
	if len(blob) < 1+SaltLength {
		slog.Debug("vault.unlock_failed", "reason", "truncated")
		return false
	}

	version := blob[0]
	salt := blob[1 : 1+SaltLength]
	body := blob[1+SaltLength:]

	for _, d := range decoders {
		if d.version != version {
			continue
		}
		secrets, ok := d.decode(password, salt, body)
		if !ok {
			slog.Debug("vault.unlock_failed", "reason", "decode")
			return false
		}
		// Commit point: only now does the live instance change.
		v.unlocked = true
		v.password = password
		v.salt = append([]byte{}, salt...)
		v.secrets = secrets
		slog.Info("vault.unlocked", "format", fmt.Sprintf("0x%02x", version), "entries", len(secrets))
		return true
	}

	slog.Debug("vault.unlock_failed", "reason", "unknown_format")
	return false
}

// Lock drops the decrypted state from memory.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.unlocked = false
	v.password = ""
	v.salt = nil
	v.secrets = nil
}

// IsUnlocked reports whether secrets are currently readable.
func (v *Vault) IsUnlocked() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.unlocked
}

// VerifyPassword compares password against the currently loaded one in
// constant time. Always false while locked.
func (v *Vault) VerifyPassword(password string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.unlocked {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(v.password)) == 1
}

// Get resolves a secret: the unlocked vault map first, then each fallback
// provider in order, then def. The satisfying source is logged so operators
// can tell a vault hit from an env fallback.
func (v *Vault) Get(key string, def any) any {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.unlocked {
		if value, ok := v.secrets[key]; ok {
			slog.Debug("vault.secret_resolved", "key", key, "source", "vault")
			return value
		}
	}
	for _, p := range v.providers {
		if value, ok := p.Lookup(key); ok {
			slog.Debug("vault.secret_resolved", "key", key, "source", p.Name())
			return value
		}
	}
	return def
}

// Set stores a secret and synchronously persists the whole vault.
func (v *Vault) Set(key string, value any) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.unlocked {
		return ErrNotUnlocked
	}

	prev, had := v.secrets[key]
	v.secrets[key] = value
	if err := v.persistLocked(); err != nil {
		// Keep memory consistent with the untouched file.
		if had {
			v.secrets[key] = prev
		} else {
			delete(v.secrets, key)
		}
		return err
	}
	return nil
}

// Delete removes a secret and synchronously persists the whole vault.
// Deleting an absent key is a no-op.
func (v *Vault) Delete(key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.unlocked {
		return ErrNotUnlocked
	}

	prev, had := v.secrets[key]
	if !had {
		return nil
	}
	delete(v.secrets, key)
	if err := v.persistLocked(); err != nil {
		v.secrets[key] = prev
		return err
	}
	return nil
}

// Keys returns the stored secret names, sorted.
func (v *Vault) Keys() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.unlocked {
		return nil
	}
	keys := make([]string, 0, len(v.secrets))
	for k := range v.secrets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ChangePassword re-encrypts the vault under a new password and salt.
// Returns (false, nil) if old does not match the loaded password; the
// comparison is constant-time. The OS keychain entry is updated inside the
// same critical section so it can never diverge from the file.
func (v *Vault) ChangePassword(old, new string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.unlocked {
		return false, ErrNotUnlocked
	}
	if subtle.ConstantTimeCompare([]byte(old), []byte(v.password)) != 1 {
		slog.Debug("vault.change_password_rejected")
		return false, nil
	}

	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return false, fmt.Errorf("vault: generate salt: %w", err)
	}

	prevPassword, prevSalt := v.password, v.salt
	v.password = new
	v.salt = salt
	if err := v.persistLocked(); err != nil {
		v.password, v.salt = prevPassword, prevSalt
		return false, err
	}

	if v.keychain.Set(new) {
		slog.Debug("vault.keychain_updated")
	}

	slog.Info("vault.password_changed", "path", v.path)
	return true, nil
}

// persistLocked re-encrypts the full map and atomically rewrites the vault
// file. Caller holds v.mu. The backup copy is opportunistic: written only
// after the primary succeeds, and only when the blob is big enough to be
// worth keeping.
func (v *Vault) persistLocked() error {
	blob, err := encodeVault(v.password, v.salt, v.secrets)
	if err != nil {
		return fmt.Errorf("vault: encode: %w", err)
	}

	if err := fsutil.WriteFile(v.path, blob, fileMode); err != nil {
		return fmt.Errorf("vault: persist: %w", err)
	}

	if len(blob) >= v.backupMin {
		if err := fsutil.WriteFile(v.path+BackupSuffix, blob, fileMode); err != nil {
			slog.Warn("vault.backup_failed", "error", err)
		}
	}
	return nil
}
