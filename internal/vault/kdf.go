package vault

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltLength is the size of the random salt stored in the vault header.
	SaltLength = 16
	// KeyLength is the derived key size (AES-256 / HMAC-SHA256).
	KeyLength = 32
	// KDFIterations is the PBKDF2-HMAC-SHA256 iteration count.
	KDFIterations = 100_000
)

// deriveKey derives the primary encryption key from (password, salt).
// Pure and deterministic: the same inputs always produce the same key.
func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, KDFIterations, KeyLength, sha256.New)
}

// deriveSubKeys derives independent encryption and MAC keys for the
// fallback cipher. The salt suffixes keep the two roles from ever
// sharing key material.
func deriveSubKeys(password string, salt []byte) (encKey, macKey []byte) {
	encKey = pbkdf2.Key([]byte(password), append(append([]byte{}, salt...), []byte("enc")...), KDFIterations, KeyLength, sha256.New)
	macKey = pbkdf2.Key([]byte(password), append(append([]byte{}, salt...), []byte("mac")...), KDFIterations, KeyLength, sha256.New)
	return encKey, macKey
}
