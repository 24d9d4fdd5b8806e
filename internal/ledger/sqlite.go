// Package ledger owns the durable tables backing token revocation, IP
// bans, and daily quotas. One SQLite database, write-through semantics:
// in-memory state is authoritative while the process runs, the tables are
// a recovery aid across restarts.
package ledger

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// Open opens (or creates) the ledger database and applies the schema.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Ledger writes are short and serialized by the owning components; a
	// single connection avoids SQLITE_BUSY on concurrent sweeps.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("ledger opened", "path", path)
	return db, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS revocations (
			jti TEXT PRIMARY KEY,
			revoked_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_revocations_expires ON revocations(expires_at)`,
		`CREATE TABLE IF NOT EXISTS bans (
			ip TEXT PRIMARY KEY,
			count INTEGER NOT NULL,
			first_at INTEGER NOT NULL,
			last_at INTEGER NOT NULL,
			banned_until INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS quota (
			identity TEXT NOT NULL,
			date TEXT NOT NULL,
			tokens_used INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (identity, date)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}
