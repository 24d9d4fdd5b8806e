package admission

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawguard/internal/ledger"
)

func newTestQuota(t *testing.T, limits map[string]int64) (*DailyQuotaManager, *testClock) {
	t.Helper()
	m, err := NewDailyQuotaManager(nil, limits)
	if err != nil {
		t.Fatal(err)
	}
	clock := &testClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.Local)}
	m.now = clock.now
	return m, clock
}

func TestQuota_UsageAccumulates(t *testing.T) {
	m, _ := newTestQuota(t, nil)

	m.AddUsage("alice", 1200)
	m.AddUsage("alice", 800)
	if got := m.GetUsage("alice"); got != 2000 {
		t.Errorf("GetUsage = %d, want 2000", got)
	}
	if got := m.GetUsage("bob"); got != 0 {
		t.Errorf("unused identity = %d, want 0", got)
	}
}

func TestQuota_DayRolloverResets(t *testing.T) {
	m, clock := newTestQuota(t, nil)

	m.AddUsage("alice", 5000)
	clock.advance(24 * time.Hour)
	if got := m.GetUsage("alice"); got != 0 {
		t.Errorf("usage after rollover = %d, want 0", got)
	}
	m.AddUsage("alice", 100)
	if got := m.GetUsage("alice"); got != 100 {
		t.Errorf("usage on new day = %d, want 100", got)
	}
}

func TestQuota_CheckEnforcesLimit(t *testing.T) {
	limits := map[string]int64{
		RoleUser:      1000,
		RoleAnonymous: 50,
	}
	m, _ := newTestQuota(t, limits)

	m.AddUsage("alice", 999)
	if err := m.Check("alice", RoleUser); err != nil {
		t.Fatalf("below limit: %v", err)
	}
	m.AddUsage("alice", 1)
	err := m.Check("alice", RoleUser)
	if err == nil {
		t.Fatal("at limit must be rejected")
	}
	var qe *QuotaError
	if !errors.As(err, &qe) {
		t.Fatalf("error type = %T, want *QuotaError", err)
	}
	if qe.Used != 1000 || qe.Limit != 1000 {
		t.Errorf("QuotaError = %d/%d, want 1000/1000", qe.Used, qe.Limit)
	}
}

func TestQuota_AdminUnlimited(t *testing.T) {
	m, _ := newTestQuota(t, nil)

	m.AddUsage("root", 10_000_000)
	if err := m.Check("root", RoleAdmin); err != nil {
		t.Errorf("admin must never trip the quota: %v", err)
	}
}

func TestQuota_UnknownRoleUsesAnonymousLimit(t *testing.T) {
	limits := map[string]int64{RoleAnonymous: 10}
	m, _ := newTestQuota(t, limits)

	m.AddUsage("ghost", 10)
	if err := m.Check("ghost", "made-up-role"); err == nil {
		t.Error("unknown role should inherit the anonymous limit")
	}
}

func TestQuota_GetAllTodayOrdering(t *testing.T) {
	m, _ := newTestQuota(t, nil)

	m.AddUsage("small", 10)
	m.AddUsage("big", 1000)
	m.AddUsage("mid", 100)

	got := m.GetAllToday()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Identity != "big" || got[2].Identity != "small" {
		t.Errorf("order = %s, %s, %s; want big, mid, small", got[0].Identity, got[1].Identity, got[2].Identity)
	}
}

func TestQuota_SurvivesRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	db, err := ledger.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}

	m1, err := NewDailyQuotaManager(db, nil)
	if err != nil {
		t.Fatal(err)
	}
	m1.AddUsage("alice", 4242)
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db2, err := ledger.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()
	m2, err := NewDailyQuotaManager(db2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := m2.GetUsage("alice"); got != 4242 {
		t.Errorf("usage after restart = %d, want 4242", got)
	}
}

func TestQuota_SweepDropsStaleRecords(t *testing.T) {
	m, clock := newTestQuota(t, nil)

	m.AddUsage("old", 500)
	clock.advance(48 * time.Hour)
	m.AddUsage("new", 10)
	m.Sweep()

	if _, ok := m.usage["old"]; ok {
		t.Error("stale record must be swept")
	}
	if _, ok := m.usage["new"]; !ok {
		t.Error("today's record must survive the sweep")
	}
}
