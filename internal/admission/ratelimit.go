package admission

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Role names known to the limiter and quota manager. RoleIP is not a user
// role: it classifies per-IP buckets, which get their own rate/burst.
const (
	RoleAdmin     = "admin"
	RoleUser      = "user"
	RoleReadonly  = "readonly"
	RoleAnonymous = "anonymous"
	RoleIP        = "ip"
)

// RateLimit is one role's bucket shape: Requests per Per, with Burst
// capacity. Bucket fill is clamped to [0, Burst] by the limiter.
type RateLimit struct {
	Requests int
	Per      time.Duration
	Burst    int
}

// DefaultRateLimits is the static role table, overridable by config.
// Ordering of privilege: admin > user > readonly > anonymous.
func DefaultRateLimits() map[string]RateLimit {
	return map[string]RateLimit{
		RoleAdmin:     {Requests: 120, Per: time.Minute, Burst: 40},
		RoleUser:      {Requests: 60, Per: time.Minute, Burst: 20},
		RoleReadonly:  {Requests: 30, Per: time.Minute, Burst: 10},
		RoleAnonymous: {Requests: 10, Per: time.Minute, Burst: 5},
		RoleIP:        {Requests: 120, Per: time.Minute, Burst: 30},
	}
}

const (
	// DefaultMaxBuckets bounds bucket-map growth under key/IP spoofing.
	DefaultMaxBuckets = 10_000
	// bucketIdleTTL: buckets untouched this long are swept.
	bucketIdleTTL = time.Hour
)

type bucketEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces per-(identity, role) token buckets. Buckets are
// created lazily and swept when idle; a hard cap triggers emergency
// eviction of the oldest tenth so memory stays bounded.
type RateLimiter struct {
	mu         sync.Mutex
	limits     map[string]RateLimit
	buckets    map[string]*bucketEntry
	maxBuckets int
	now        func() time.Time
}

// NewRateLimiter builds a limiter over the given role table. Roles absent
// from the table fall back to the anonymous limit.
func NewRateLimiter(limits map[string]RateLimit, maxBuckets int) *RateLimiter {
	if limits == nil {
		limits = DefaultRateLimits()
	}
	if maxBuckets <= 0 {
		maxBuckets = DefaultMaxBuckets
	}
	return &RateLimiter{
		limits:     limits,
		buckets:    make(map[string]*bucketEntry),
		maxBuckets: maxBuckets,
		now:        time.Now,
	}
}

// Check admits or rejects one request for (key, role). Returns nil when a
// token was consumed, or a *RateLimitError carrying the wait until the
// bucket refills enough for one request.
func (l *RateLimiter) Check(key, role string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry := l.bucketLocked(key, role, now)
	entry.lastSeen = now

	res := entry.limiter.ReserveN(now, 1)
	if !res.OK() {
		// Burst of zero can never admit; treat as a full-period wait.
		return &RateLimitError{Key: key, Role: role, RetryAfter: l.limitFor(role).Per}
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		slog.Warn("security.rate_limited", "key", key, "role", role, "retry_after", delay)
		return &RateLimitError{Key: key, Role: role, RetryAfter: delay}
	}
	return nil
}

func (l *RateLimiter) limitFor(role string) RateLimit {
	if lim, ok := l.limits[role]; ok {
		return lim
	}
	return l.limits[RoleAnonymous]
}

func (l *RateLimiter) bucketLocked(key, role string, now time.Time) *bucketEntry {
	id := role + "\x00" + key
	if entry, ok := l.buckets[id]; ok {
		return entry
	}

	if len(l.buckets) >= l.maxBuckets {
		l.evictOldestLocked()
	}

	lim := l.limitFor(role)
	refill := rate.Limit(float64(lim.Requests) / lim.Per.Seconds())
	entry := &bucketEntry{
		limiter:  rate.NewLimiter(refill, lim.Burst),
		lastSeen: now,
	}
	l.buckets[id] = entry
	return entry
}

// evictOldestLocked drops the oldest 10% of buckets by last use. Runs only
// under spoofing-level pressure; losing a bucket merely refills it.
func (l *RateLimiter) evictOldestLocked() {
	type aged struct {
		id       string
		lastSeen time.Time
	}
	all := make([]aged, 0, len(l.buckets))
	for id, e := range l.buckets {
		all = append(all, aged{id, e.lastSeen})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].lastSeen.Before(all[j].lastSeen) })

	n := len(all) / 10
	if n < 1 {
		n = 1
	}
	for _, a := range all[:n] {
		delete(l.buckets, a.id)
	}
	slog.Warn("security.bucket_eviction", "evicted", n, "remaining", len(l.buckets))
}

// SetLimits swaps the role table and drops existing buckets so the new
// shapes take effect immediately. Used by config hot reload.
func (l *RateLimiter) SetLimits(limits map[string]RateLimit) {
	if limits == nil {
		limits = DefaultRateLimits()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits = limits
	l.buckets = make(map[string]*bucketEntry)
}

// Sweep evicts buckets idle longer than an hour. Call periodically.
func (l *RateLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-bucketIdleTTL)
	for id, e := range l.buckets {
		if e.lastSeen.Before(cutoff) {
			delete(l.buckets, id)
		}
	}
}

// BucketCount returns the live bucket count, for observability.
func (l *RateLimiter) BucketCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
