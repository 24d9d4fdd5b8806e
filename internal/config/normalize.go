package config

import (
	"regexp"
	"strings"
)

// AnonymousIdentity is what empty or unusable identity strings normalize to.
const AnonymousIdentity = "anonymous"

var (
	validIdentityRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,63}$`)
	badIdentChars   = regexp.MustCompile(`[^a-z0-9_.-]+`)
	edgeDashes      = regexp.MustCompile(`^[-.]+|[-.]+$`)
)

// NormalizeIdentity canonicalizes a caller-supplied identity before it is
// used as a rate-limit or quota key, so "Alice " and "alice" share one
// bucket and hostile strings can't mint unbounded distinct keys:
//   - Lowercase, max 64 chars
//   - Only [a-z0-9_.-] allowed, invalid runs collapse to "-"
//   - Leading/trailing dashes and dots stripped
//   - Empty result normalizes to "anonymous"
func NormalizeIdentity(identity string) string {
	trimmed := strings.TrimSpace(identity)
	if trimmed == "" {
		return AnonymousIdentity
	}

	lower := strings.ToLower(trimmed)
	if validIdentityRe.MatchString(lower) {
		return lower
	}

	result := badIdentChars.ReplaceAllString(lower, "-")
	result = edgeDashes.ReplaceAllString(result, "")
	if len(result) > 64 {
		result = result[:64]
	}
	if result == "" {
		return AnonymousIdentity
	}
	return result
}
