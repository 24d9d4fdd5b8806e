package admission

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawguard/internal/ledger"
)

func newTestBanList(t *testing.T, cfg BanConfig) (*IPBanList, *testClock) {
	t.Helper()
	b, err := NewIPBanList(nil, cfg)
	if err != nil {
		t.Fatal(err)
	}
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	b.now = clock.now
	return b, clock
}

func TestBanList_ThresholdBans(t *testing.T) {
	cfg := BanConfig{Window: 10 * time.Minute, Threshold: 5, BanDuration: time.Hour}
	b, clock := newTestBanList(t, cfg)

	for i := 0; i < 4; i++ {
		if b.RecordViolation("1.2.3.4") {
			t.Fatalf("violation %d must not ban yet", i+1)
		}
		clock.advance(time.Minute)
	}
	if !b.RecordViolation("1.2.3.4") {
		t.Fatal("5th violation inside the window must ban")
	}

	banned, remaining := b.IsBanned("1.2.3.4")
	if !banned {
		t.Error("IsBanned = false after triggering ban")
	}
	if remaining <= 0 || remaining > time.Hour {
		t.Errorf("remaining = %v, want (0, 1h]", remaining)
	}
}

func TestBanList_IdleGapResetsStreak(t *testing.T) {
	cfg := BanConfig{Window: 10 * time.Minute, Threshold: 5, BanDuration: time.Hour}
	b, clock := newTestBanList(t, cfg)

	for i := 0; i < 4; i++ {
		b.RecordViolation("1.2.3.4")
		clock.advance(time.Minute)
	}
	// Gap past the window: the streak restarts at 1 instead of hitting 5.
	clock.advance(cfg.Window + time.Second)
	if b.RecordViolation("1.2.3.4") {
		t.Error("violation after an idle gap must not ban")
	}
	if banned, _ := b.IsBanned("1.2.3.4"); banned {
		t.Error("IP should not be banned after the streak reset")
	}
}

func TestBanList_BanExpires(t *testing.T) {
	cfg := BanConfig{Window: 10 * time.Minute, Threshold: 2, BanDuration: time.Hour}
	b, clock := newTestBanList(t, cfg)

	b.RecordViolation("5.6.7.8")
	b.RecordViolation("5.6.7.8")
	if banned, _ := b.IsBanned("5.6.7.8"); !banned {
		t.Fatal("expected ban")
	}
	clock.advance(time.Hour + time.Second)
	if banned, _ := b.IsBanned("5.6.7.8"); banned {
		t.Error("ban must lapse after BanDuration")
	}
}

func TestBanList_UnbanStartsFresh(t *testing.T) {
	cfg := BanConfig{Window: 10 * time.Minute, Threshold: 2, BanDuration: time.Hour}
	b, _ := newTestBanList(t, cfg)

	b.RecordViolation("9.9.9.9")
	b.RecordViolation("9.9.9.9")
	if !b.Unban("9.9.9.9") {
		t.Fatal("Unban should report an existing record")
	}
	if banned, _ := b.IsBanned("9.9.9.9"); banned {
		t.Error("still banned after Unban")
	}
	// The record is gone, so one violation is a streak of 1, not 3.
	if b.RecordViolation("9.9.9.9") {
		t.Error("first violation after unban must not re-ban")
	}
	if b.Unban("no-such-ip") {
		t.Error("Unban of unknown IP should report false")
	}
}

func TestBanList_SurvivesRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	db, err := ledger.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	cfg := BanConfig{Window: 10 * time.Minute, Threshold: 2, BanDuration: time.Hour}

	b1, err := NewIPBanList(db, cfg)
	if err != nil {
		t.Fatal(err)
	}
	b1.RecordViolation("4.4.4.4")
	b1.RecordViolation("4.4.4.4")
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db2, err := ledger.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()
	b2, err := NewIPBanList(db2, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if banned, _ := b2.IsBanned("4.4.4.4"); !banned {
		t.Error("ban must survive a restart")
	}
}

func TestBanList_BannedListing(t *testing.T) {
	cfg := BanConfig{Window: 10 * time.Minute, Threshold: 1, BanDuration: time.Hour}
	b, clock := newTestBanList(t, cfg)

	b.RecordViolation("1.1.1.1")
	clock.advance(time.Minute)
	b.RecordViolation("2.2.2.2")

	got := b.Banned()
	if len(got) != 2 {
		t.Fatalf("Banned() = %d entries, want 2", len(got))
	}
	if got[0].IP != "2.2.2.2" {
		t.Errorf("most recent ban first, got %s", got[0].IP)
	}
}

func TestBanList_SweepKeepsActive(t *testing.T) {
	cfg := BanConfig{Window: 10 * time.Minute, Threshold: 3, BanDuration: time.Hour}
	b, clock := newTestBanList(t, cfg)

	b.RecordViolation("stale")
	b.RecordViolation("banned")
	b.RecordViolation("banned")
	b.RecordViolation("banned")

	clock.advance(cfg.Window + time.Minute)
	b.Sweep()

	if _, ok := b.records["stale"]; ok {
		t.Error("idle unbanned record must be swept")
	}
	if _, ok := b.records["banned"]; !ok {
		t.Error("active ban must survive the sweep")
	}
}
