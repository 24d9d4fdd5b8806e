// Package admission gates individual requests: per-identity token-bucket
// rate limits, a sliding-window IP ban list, and per-identity daily usage
// quotas. In-memory state is authoritative while the process runs; the
// ledger tables exist so bans and usage survive a restart.
package admission

import (
	"fmt"
	"time"
)

// RateLimitError is returned when a bucket has no tokens left. RetryAfter
// tells the caller when the next request will be admitted.
type RateLimitError struct {
	Key        string
	Role       string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (role %s), retry after %s", e.Key, e.Role, e.RetryAfter.Round(time.Millisecond))
}

// QuotaError is returned when an identity's daily usage reaches its role
// limit. Used and Limit let callers build a structured rejection.
type QuotaError struct {
	Identity string
	Used     int64
	Limit    int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("daily quota exceeded for %s: %d of %d used", e.Identity, e.Used, e.Limit)
}

// BannedError is returned by the combined admission gate when the source
// IP is currently banned.
type BannedError struct {
	IP        string
	Remaining time.Duration
}

func (e *BannedError) Error() string {
	return fmt.Sprintf("ip %s is banned for another %s", e.IP, e.Remaining.Round(time.Second))
}
