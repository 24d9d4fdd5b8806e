// Package token issues and verifies compact HMAC-signed session tokens
// against a ring of named signing keys. Rotation adds a key and re-points
// signing at it; old keys stay loaded for verification only, so unexpired
// tokens survive rotation. A durable revocation ledger kills individual
// tokens before expiry.
package token

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/clawguard/internal/fsutil"
)

const (
	// KeyLength is the signing key size in bytes.
	KeyLength = 32

	kidPrefix   = "k"
	keyFileMode = 0600
)

// KeyRing holds all signing keys, the active kid, and the revocation
// ledger. Key files live one per key under dir, named by kid.
type KeyRing struct {
	mu        sync.RWMutex
	dir       string
	keys      map[string][]byte
	activeKid string

	revocations *RevocationLedger
	now         func() time.Time
}

// NewKeyRing loads every key file under dir, creating the directory and an
// initial key if none exist. The ring always ends up with at least one
// active signing key.
func NewKeyRing(dir string, revocations *RevocationLedger) (*KeyRing, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("token: create key dir: %w", err)
	}

	r := &KeyRing{
		dir:         dir,
		keys:        make(map[string][]byte),
		revocations: revocations,
		now:         time.Now,
	}

	if err := r.loadKeys(); err != nil {
		return nil, err
	}
	if len(r.keys) == 0 {
		if _, err := r.Rotate(); err != nil {
			return nil, err
		}
	}

	slog.Info("token keyring loaded", "keys", len(r.keys), "active", r.activeKid)
	return r, nil
}

func (r *KeyRing) loadKeys() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("token: read key dir: %w", err)
	}

	maxSeq := 0
	for _, e := range entries {
		name := e.Name()
		seq, ok := kidSequence(name)
		if !ok {
			continue
		}
		key, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			return fmt.Errorf("token: read key %s: %w", name, err)
		}
		if len(key) != KeyLength {
			slog.Warn("token.key_file_skipped", "kid", name, "size", len(key))
			continue
		}
		r.keys[name] = key
		if seq > maxSeq {
			maxSeq = seq
			r.activeKid = name
		}
	}
	return nil
}

// Rotate generates a fresh key, persists it under the next sequential kid,
// and makes it the signing key for new tokens. Prior keys remain loaded.
func (r *KeyRing) Rotate() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	maxSeq := 0
	for kid := range r.keys {
		if seq, ok := kidSequence(kid); ok && seq > maxSeq {
			maxSeq = seq
		}
	}
	kid := kidPrefix + strconv.Itoa(maxSeq+1)

	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("token: generate key: %w", err)
	}
	if err := fsutil.WriteFile(filepath.Join(r.dir, kid), key, keyFileMode); err != nil {
		return "", fmt.Errorf("token: persist key %s: %w", kid, err)
	}

	r.keys[kid] = key
	r.activeKid = kid
	slog.Info("token.key_rotated", "kid", kid, "keys", len(r.keys))
	return kid, nil
}

// ActiveKid returns the kid new tokens are signed under.
func (r *KeyRing) ActiveKid() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeKid
}

// Kids returns all loaded key ids, sorted.
func (r *KeyRing) Kids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kids := make([]string, 0, len(r.keys))
	for kid := range r.keys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	return kids
}

// kidSequence parses "k<N>" into N.
func kidSequence(kid string) (int, bool) {
	if !strings.HasPrefix(kid, kidPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(kid[len(kidPrefix):])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
