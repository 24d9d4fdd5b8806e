package token

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RevocationLedger is the durable set of killed token ids. Lookups are
// O(1) against an in-memory map; every change is written through to the
// revocations table so a restart still honors prior revocations.
type RevocationLedger struct {
	mu   sync.Mutex
	db   *sql.DB
	jtis map[string]int64 // jti -> expires_at (unix seconds)
	now  func() time.Time
}

// NewRevocationLedger loads all persisted revocations into memory.
func NewRevocationLedger(db *sql.DB) (*RevocationLedger, error) {
	l := &RevocationLedger{
		db:   db,
		jtis: make(map[string]int64),
		now:  time.Now,
	}

	if db != nil {
		rows, err := db.Query("SELECT jti, expires_at FROM revocations")
		if err != nil {
			return nil, fmt.Errorf("token: load revocations: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var jti string
			var expiresAt int64
			if err := rows.Scan(&jti, &expiresAt); err != nil {
				return nil, fmt.Errorf("token: scan revocation: %w", err)
			}
			l.jtis[jti] = expiresAt
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("token: iterate revocations: %w", err)
		}
	}

	return l, nil
}

// Revoke records (jti, revokedAt, expiresAt). In-memory state is
// authoritative for this process; the table write is best-effort.
func (l *RevocationLedger) Revoke(jti string, revokedAt, expiresAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.jtis[jti] = expiresAt.Unix()
	if l.db == nil {
		return
	}
	_, err := l.db.Exec(
		"INSERT OR REPLACE INTO revocations (jti, revoked_at, expires_at) VALUES (?, ?, ?)",
		jti, revokedAt.Unix(), expiresAt.Unix())
	if err != nil {
		slog.Warn("token.revocation_persist_failed", "jti", jti, "error", err)
	}
}

// IsRevoked reports whether jti is in the ledger.
func (l *RevocationLedger) IsRevoked(jti string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.jtis[jti]
	return ok
}

// Prune drops entries whose token has expired anyway: verification already
// rejects them on exp, so removing the rows weakens nothing. Returns the
// number removed from memory.
func (l *RevocationLedger) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Unix()
	removed := 0
	for jti, expiresAt := range l.jtis {
		if expiresAt <= cutoff {
			delete(l.jtis, jti)
			removed++
		}
	}
	if removed > 0 && l.db != nil {
		if _, err := l.db.Exec("DELETE FROM revocations WHERE expires_at <= ?", cutoff); err != nil {
			slog.Warn("token.revocation_prune_failed", "error", err)
		}
	}
	return removed
}

// Len returns the number of live revocations.
func (l *RevocationLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.jtis)
}
