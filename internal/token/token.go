package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Reserved claim names stamped by Create.
const (
	claimKid = "kid"
	claimJti = "jti"
	claimIat = "iat"
	claimExp = "exp"
)

// Create issues a signed token carrying payload plus fresh jti/iat/exp and
// the active signing key's kid. The wire format is
// base64url(JSON claims) + "." + base64url(HMAC-SHA256).
func (r *KeyRing) Create(payload map[string]any, expiresIn time.Duration) (string, error) {
	r.mu.RLock()
	kid := r.activeKid
	key := r.keys[kid]
	r.mu.RUnlock()

	if key == nil {
		return "", fmt.Errorf("token: no active signing key")
	}

	now := r.now()
	claims := make(map[string]any, len(payload)+4)
	for k, v := range payload {
		claims[k] = v
	}
	claims[claimKid] = kid
	claims[claimJti] = uuid.NewString()
	claims[claimIat] = now.Unix()
	claims[claimExp] = now.Add(expiresIn).Unix()

	data, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("token: marshal claims: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(data)
	sig := sign(key, encoded)
	return encoded + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// Verify checks a token's signature, expiry, and revocation status.
// Returns the claims, or nil for any failure: the caller cannot tell a
// bad signature from an expired or revoked token.
//
// The claimed kid's key is tried first; on mismatch or unknown kid every
// loaded key is tried, so tokens issued before a rotation (or legacy
// tokens without a kid) still verify.
func (r *KeyRing) Verify(token string) map[string]any {
	encoded, sig, ok := splitToken(token)
	if !ok {
		return nil
	}

	// Decode without trusting: the kid steers which key to try first,
	// nothing more.
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil
	}
	var claims map[string]any
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil
	}

	if !r.signatureValid(encoded, sig, claims) {
		slog.Debug("token.verify_failed", "reason", "signature")
		return nil
	}

	exp, ok := numericClaim(claims, claimExp)
	if !ok || r.now().Unix() >= exp {
		slog.Debug("token.verify_failed", "reason", "expired")
		return nil
	}

	if jti, _ := claims[claimJti].(string); jti != "" && r.revocations.IsRevoked(jti) {
		slog.Debug("token.verify_failed", "reason", "revoked")
		return nil
	}

	return claims
}

// Revoke extracts jti and exp from a token and records the revocation
// durably. Returns false if the token's signature does not verify under
// any known key, since unauthenticated blobs must not pollute the ledger.
// Expiry is not checked: revoking an already-expired token succeeds.
func (r *KeyRing) Revoke(token string) bool {
	encoded, sig, ok := splitToken(token)
	if !ok {
		return false
	}
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return false
	}
	var claims map[string]any
	if err := json.Unmarshal(data, &claims); err != nil {
		return false
	}
	if !r.signatureValid(encoded, sig, claims) {
		return false
	}

	jti, _ := claims[claimJti].(string)
	if jti == "" {
		return false
	}
	exp, ok := numericClaim(claims, claimExp)
	if !ok {
		return false
	}

	r.revocations.Revoke(jti, r.now(), time.Unix(exp, 0))
	slog.Info("token.revoked", "jti", jti)
	return true
}

// signatureValid tries the claimed kid first, then falls through to an
// exhaustive scan of all loaded keys. An unknown kid never short-circuits
// verification.
func (r *KeyRing) signatureValid(encoded string, sig []byte, claims map[string]any) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if kid, _ := claims[claimKid].(string); kid != "" {
		if key, ok := r.keys[kid]; ok {
			if hmac.Equal(sig, sign(key, encoded)) {
				return true
			}
		}
	}
	for _, key := range r.keys {
		if hmac.Equal(sig, sign(key, encoded)) {
			return true
		}
	}
	return false
}

func sign(key []byte, encoded string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(encoded))
	return mac.Sum(nil)
}

func splitToken(token string) (encoded string, sig []byte, ok bool) {
	i := strings.LastIndexByte(token, '.')
	if i <= 0 || i == len(token)-1 {
		return "", nil, false
	}
	sig, err := base64.RawURLEncoding.DecodeString(token[i+1:])
	if err != nil {
		return "", nil, false
	}
	return token[:i], sig, true
}

// numericClaim reads an int64 claim that JSON decoding may have produced
// as float64.
func numericClaim(claims map[string]any, name string) (int64, bool) {
	switch v := claims[name].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}
