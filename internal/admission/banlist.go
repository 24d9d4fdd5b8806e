package admission

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// BanConfig shapes the sliding-window violation counter.
type BanConfig struct {
	// Window: a violation landing more than Window after the previous one
	// restarts the count. The reset keys off the most recent violation,
	// not the first, so near-threshold counts can't be banked forever.
	Window time.Duration
	// Threshold: violations within the window before a ban.
	Threshold int
	// BanDuration: how long a triggered ban lasts.
	BanDuration time.Duration
}

// DefaultBanConfig matches the admission defaults: 10 violations inside
// 10 minutes bans for an hour.
func DefaultBanConfig() BanConfig {
	return BanConfig{
		Window:      10 * time.Minute,
		Threshold:   10,
		BanDuration: time.Hour,
	}
}

type banRecord struct {
	count       int
	firstAt     time.Time
	lastAt      time.Time
	bannedUntil time.Time
}

// BanStatus is one IP's state, for observability and the CLI.
type BanStatus struct {
	IP          string    `json:"ip"`
	Count       int       `json:"count"`
	FirstAt     time.Time `json:"first_at"`
	LastAt      time.Time `json:"last_at"`
	BannedUntil time.Time `json:"banned_until,omitempty"`
}

// IPBanList counts violations per IP and auto-bans past the threshold.
// State loads from the bans table at construction and writes through on
// every change, so bans and counters survive a restart.
type IPBanList struct {
	mu      sync.Mutex
	db      *sql.DB
	cfg     BanConfig
	records map[string]*banRecord
	now     func() time.Time
}

// NewIPBanList loads persisted ban state. db may be nil (no durability).
func NewIPBanList(db *sql.DB, cfg BanConfig) (*IPBanList, error) {
	if cfg.Threshold <= 0 {
		cfg = DefaultBanConfig()
	}
	b := &IPBanList{
		db:      db,
		cfg:     cfg,
		records: make(map[string]*banRecord),
		now:     time.Now,
	}

	if db != nil {
		rows, err := db.Query("SELECT ip, count, first_at, last_at, banned_until FROM bans")
		if err != nil {
			return nil, fmt.Errorf("admission: load bans: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var ip string
			var count int
			var firstAt, lastAt, bannedUntil int64
			if err := rows.Scan(&ip, &count, &firstAt, &lastAt, &bannedUntil); err != nil {
				return nil, fmt.Errorf("admission: scan ban: %w", err)
			}
			b.records[ip] = &banRecord{
				count:       count,
				firstAt:     time.Unix(firstAt, 0),
				lastAt:      time.Unix(lastAt, 0),
				bannedUntil: time.Unix(bannedUntil, 0),
			}
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("admission: iterate bans: %w", err)
		}
	}

	return b, nil
}

// RecordViolation counts one violation for ip and reports whether this
// violation tripped (or renewed) a ban.
func (b *IPBanList) RecordViolation(ip string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	rec, ok := b.records[ip]
	switch {
	case !ok:
		rec = &banRecord{count: 1, firstAt: now, lastAt: now}
		b.records[ip] = rec
	case now.Sub(rec.lastAt) > b.cfg.Window:
		// Idle reset: the gap since the most recent violation exceeded
		// the window, so the streak starts over.
		rec.count = 1
		rec.firstAt = now
		rec.lastAt = now
	default:
		rec.count++
		rec.lastAt = now
	}

	banned := false
	if rec.count >= b.cfg.Threshold {
		rec.bannedUntil = now.Add(b.cfg.BanDuration)
		banned = true
		slog.Warn("security.ip_banned", "ip", ip, "count", rec.count, "until", rec.bannedUntil)
	}

	b.persistLocked(ip, rec)
	return banned
}

// IsBanned reports whether ip is banned right now, and for how much longer.
func (b *IPBanList) IsBanned(ip string) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[ip]
	if !ok {
		return false, 0
	}
	now := b.now()
	if now.Before(rec.bannedUntil) {
		return true, rec.bannedUntil.Sub(now)
	}
	return false, 0
}

// Unban deletes ip's record entirely, so the next violation starts a
// genuinely fresh window rather than inheriting a zeroed placeholder.
func (b *IPBanList) Unban(ip string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.records[ip]; !ok {
		return false
	}
	delete(b.records, ip)
	if b.db != nil {
		if _, err := b.db.Exec("DELETE FROM bans WHERE ip = ?", ip); err != nil {
			slog.Warn("admission.ban_delete_failed", "ip", ip, "error", err)
		}
	}
	slog.Info("security.ip_unbanned", "ip", ip)
	return true
}

// Banned returns all currently banned IPs, most recent first.
func (b *IPBanList) Banned() []BanStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	var out []BanStatus
	for ip, rec := range b.records {
		if now.Before(rec.bannedUntil) {
			out = append(out, BanStatus{
				IP:          ip,
				Count:       rec.count,
				FirstAt:     rec.firstAt,
				LastAt:      rec.lastAt,
				BannedUntil: rec.bannedUntil,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAt.After(out[j].LastAt) })
	return out
}

// Sweep drops records that are neither banned nor inside the violation
// window anymore.
func (b *IPBanList) Sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for ip, rec := range b.records {
		if now.Before(rec.bannedUntil) {
			continue
		}
		if now.Sub(rec.lastAt) <= b.cfg.Window {
			continue
		}
		delete(b.records, ip)
		if b.db != nil {
			if _, err := b.db.Exec("DELETE FROM bans WHERE ip = ?", ip); err != nil {
				slog.Warn("admission.ban_sweep_failed", "ip", ip, "error", err)
			}
		}
	}
}

// persistLocked writes one record through to the ledger. Best-effort: the
// in-memory record is authoritative for the life of the process.
func (b *IPBanList) persistLocked(ip string, rec *banRecord) {
	if b.db == nil {
		return
	}
	_, err := b.db.Exec(
		`INSERT OR REPLACE INTO bans (ip, count, first_at, last_at, banned_until) VALUES (?, ?, ?, ?, ?)`,
		ip, rec.count, rec.firstAt.Unix(), rec.lastAt.Unix(), rec.bannedUntil.Unix())
	if err != nil {
		slog.Warn("admission.ban_persist_failed", "ip", ip, "error", err)
	}
}
