package admission

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// UnlimitedQuota is the sentinel limit meaning no daily cap.
const UnlimitedQuota int64 = -1

// DefaultQuotaLimits is the per-role daily usage table, overridable by
// config. Units are whatever the caller meters (provider tokens).
func DefaultQuotaLimits() map[string]int64 {
	return map[string]int64{
		RoleAdmin:     UnlimitedQuota,
		RoleUser:      500_000,
		RoleReadonly:  100_000,
		RoleAnonymous: 20_000,
	}
}

// quotaSweepKeepDays: ledger rows older than this are deleted on sweep.
const quotaSweepKeepDays = 30

type quotaRecord struct {
	date string
	used int64
}

// UsageEntry is one identity's usage for today, for observability.
type UsageEntry struct {
	Identity string `json:"identity"`
	Used     int64  `json:"used"`
}

// DailyQuotaManager tracks per-(identity, day) usage against role limits.
// Counters load for the current day at construction and write through on
// every change.
type DailyQuotaManager struct {
	mu     sync.Mutex
	db     *sql.DB
	limits map[string]int64
	usage  map[string]*quotaRecord
	now    func() time.Time
}

// NewDailyQuotaManager loads today's usage rows. db may be nil.
func NewDailyQuotaManager(db *sql.DB, limits map[string]int64) (*DailyQuotaManager, error) {
	if limits == nil {
		limits = DefaultQuotaLimits()
	}
	m := &DailyQuotaManager{
		db:     db,
		limits: limits,
		usage:  make(map[string]*quotaRecord),
		now:    time.Now,
	}

	if db != nil {
		rows, err := db.Query("SELECT identity, tokens_used FROM quota WHERE date = ?", m.today())
		if err != nil {
			return nil, fmt.Errorf("admission: load quota: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var identity string
			var used int64
			if err := rows.Scan(&identity, &used); err != nil {
				return nil, fmt.Errorf("admission: scan quota: %w", err)
			}
			m.usage[identity] = &quotaRecord{date: m.today(), used: used}
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("admission: iterate quota: %w", err)
		}
	}

	return m, nil
}

func (m *DailyQuotaManager) today() string {
	return m.now().Format("2006-01-02")
}

// AddUsage adds amount to identity's counter for today. Zero is a no-op;
// a record left over from a previous day resets first.
func (m *DailyQuotaManager) AddUsage(identity string, amount int64) {
	if amount == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.todayRecordLocked(identity)
	rec.used += amount
	m.persistLocked(identity, rec)
}

// GetUsage returns identity's usage for the current day.
func (m *DailyQuotaManager) GetUsage(identity string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.usage[identity]
	if !ok || rec.date != m.today() {
		return 0
	}
	return rec.used
}

// Check returns a *QuotaError once identity's usage for today has reached
// its role limit. The admin sentinel never trips.
func (m *DailyQuotaManager) Check(identity, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit, ok := m.limits[role]
	if !ok {
		limit = m.limits[RoleAnonymous]
	}
	if limit == UnlimitedQuota {
		return nil
	}

	rec := m.todayRecordLocked(identity)
	if rec.used >= limit {
		slog.Warn("security.quota_exceeded", "identity", identity, "role", role, "used", rec.used, "limit", limit)
		return &QuotaError{Identity: identity, Used: rec.used, Limit: limit}
	}
	return nil
}

// SetLimits swaps the role limit table. Usage counters are untouched;
// only the thresholds change. Used by config hot reload.
func (m *DailyQuotaManager) SetLimits(limits map[string]int64) {
	if limits == nil {
		limits = DefaultQuotaLimits()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = limits
}

// GetAllToday returns every identity's usage for the current day, sorted
// by usage descending.
func (m *DailyQuotaManager) GetAllToday() []UsageEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := m.today()
	var out []UsageEntry
	for identity, rec := range m.usage {
		if rec.date == today && rec.used > 0 {
			out = append(out, UsageEntry{Identity: identity, Used: rec.used})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Used > out[j].Used })
	return out
}

// Sweep drops stale in-memory records and deletes ledger rows older than
// the retention window.
func (m *DailyQuotaManager) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := m.today()
	for identity, rec := range m.usage {
		if rec.date != today {
			delete(m.usage, identity)
		}
	}
	if m.db != nil {
		cutoff := m.now().AddDate(0, 0, -quotaSweepKeepDays).Format("2006-01-02")
		if _, err := m.db.Exec("DELETE FROM quota WHERE date < ?", cutoff); err != nil {
			slog.Warn("admission.quota_sweep_failed", "error", err)
		}
	}
}

// todayRecordLocked returns identity's record for today, resetting any
// record carried over from a previous day.
func (m *DailyQuotaManager) todayRecordLocked(identity string) *quotaRecord {
	today := m.today()
	rec, ok := m.usage[identity]
	if !ok || rec.date != today {
		rec = &quotaRecord{date: today}
		m.usage[identity] = rec
	}
	return rec
}

// persistLocked writes one counter through to the ledger, best-effort.
func (m *DailyQuotaManager) persistLocked(identity string, rec *quotaRecord) {
	if m.db == nil {
		return
	}
	_, err := m.db.Exec(
		`INSERT INTO quota (identity, date, tokens_used) VALUES (?, ?, ?)
		 ON CONFLICT(identity, date) DO UPDATE SET tokens_used = excluded.tokens_used`,
		identity, rec.date, rec.used)
	if err != nil {
		slog.Warn("admission.quota_persist_failed", "identity", identity, "error", err)
	}
}
