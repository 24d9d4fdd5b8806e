package admission

import (
	"errors"
	"testing"
	"time"
)

// testClock lets tests drive the limiter's notion of now.
type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(limits map[string]RateLimit, maxBuckets int) (*RateLimiter, *testClock) {
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	l := NewRateLimiter(limits, maxBuckets)
	l.now = clock.now
	return l, clock
}

func TestRateLimiter_BurstThenReject(t *testing.T) {
	limits := map[string]RateLimit{
		RoleUser:      {Requests: 10, Per: time.Minute, Burst: 10},
		RoleAnonymous: {Requests: 10, Per: time.Minute, Burst: 10},
	}
	l, clock := newTestLimiter(limits, 0)

	for i := 0; i < 10; i++ {
		if err := l.Check("alice", RoleUser); err != nil {
			t.Fatalf("call %d should be admitted: %v", i+1, err)
		}
	}

	err := l.Check("alice", RoleUser)
	if err == nil {
		t.Fatal("11th call must be rejected")
	}
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("error type = %T, want *RateLimitError", err)
	}
	if rle.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want > 0", rle.RetryAfter)
	}

	// Waiting out RetryAfter readmits exactly one request.
	clock.advance(rle.RetryAfter)
	if err := l.Check("alice", RoleUser); err != nil {
		t.Errorf("call after RetryAfter should be admitted: %v", err)
	}
}

func TestRateLimiter_KeysIndependent(t *testing.T) {
	limits := map[string]RateLimit{
		RoleUser:      {Requests: 1, Per: time.Minute, Burst: 1},
		RoleAnonymous: {Requests: 1, Per: time.Minute, Burst: 1},
	}
	l, _ := newTestLimiter(limits, 0)

	if err := l.Check("a", RoleUser); err != nil {
		t.Fatalf("a: %v", err)
	}
	if err := l.Check("a", RoleUser); err == nil {
		t.Error("a should now be limited")
	}
	if err := l.Check("b", RoleUser); err != nil {
		t.Errorf("b must have its own bucket: %v", err)
	}
}

func TestRateLimiter_UnknownRoleFallsBackToAnonymous(t *testing.T) {
	limits := map[string]RateLimit{
		RoleAnonymous: {Requests: 2, Per: time.Minute, Burst: 2},
	}
	l, _ := newTestLimiter(limits, 0)

	l.Check("x", "made-up-role")
	l.Check("x", "made-up-role")
	if err := l.Check("x", "made-up-role"); err == nil {
		t.Error("unknown role should inherit the anonymous limit")
	}
}

func TestRateLimiter_IPClassSeparate(t *testing.T) {
	l, _ := newTestLimiter(nil, 0)

	// Same key under user and ip classes draws from different buckets.
	for i := 0; i < 5; i++ {
		if err := l.Check("10.0.0.1", RoleIP); err != nil {
			t.Fatalf("ip call %d: %v", i, err)
		}
	}
	if err := l.Check("10.0.0.1", RoleUser); err != nil {
		t.Errorf("user-class bucket must be unaffected: %v", err)
	}
}

func TestRateLimiter_SweepEvictsIdle(t *testing.T) {
	l, clock := newTestLimiter(nil, 0)

	l.Check("idle", RoleUser)
	clock.advance(2 * time.Hour)
	l.Check("fresh", RoleUser)

	l.Sweep()
	if got := l.BucketCount(); got != 1 {
		t.Errorf("BucketCount = %d, want 1 after sweep", got)
	}
}

func TestRateLimiter_EmergencyEviction(t *testing.T) {
	limits := map[string]RateLimit{
		RoleAnonymous: {Requests: 60, Per: time.Minute, Burst: 10},
	}
	l, clock := newTestLimiter(limits, 20)

	for i := 0; i < 100; i++ {
		clock.advance(time.Millisecond)
		l.Check(string(rune('a'+i%26))+string(rune('0'+i/26)), RoleAnonymous)
	}
	if got := l.BucketCount(); got > 20 {
		t.Errorf("BucketCount = %d, cap is 20", got)
	}
}
