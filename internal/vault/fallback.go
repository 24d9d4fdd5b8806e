package vault

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Fallback cipher: the pre-AEAD on-disk format (version 0x02), kept so
// vaults written before the AES-GCM migration stay unlockable. CTR mode
// built from HMAC-SHA256(encKey, counter_be64) as the keystream
// generator, with a separate HMAC-SHA256 integrity tag under an
// independently derived MAC key.
//
// Two sub-formats exist on disk:
//
//	with-IV: tag(32) || iv(16) || ciphertext   tag = HMAC(macKey, iv || ct)
//	legacy:  tag(32) || ciphertext             tag = HMAC(macKey, ct)
//
// The IV feeds the tag only, never the keystream. Decode tries with-IV
// first and falls back to legacy. Both attempts run against keys derived
// once up front and each costs a single HMAC compare, so the branch taken
// is not observable through timing.

const (
	fallbackTagLength = 32
	fallbackIVLength  = 16
	keystreamBlock    = sha256.Size
)

// keystreamXOR XORs data in place with the HMAC-CTR keystream.
func keystreamXOR(encKey, data []byte) {
	var counter [8]byte
	mac := hmac.New(sha256.New, encKey)
	for off, block := 0, uint64(0); off < len(data); off, block = off+keystreamBlock, block+1 {
		binary.BigEndian.PutUint64(counter[:], block)
		mac.Reset()
		mac.Write(counter[:])
		stream := mac.Sum(nil)

		end := off + keystreamBlock
		if end > len(data) {
			end = len(data)
		}
		for i := off; i < end; i++ {
			data[i] ^= stream[i-off]
		}
	}
}

// sealFallback encrypts plaintext in the with-IV sub-format.
// Only used by migration tooling and tests; new vaults are written as 0x03.
func sealFallback(encKey, macKey, plaintext []byte) ([]byte, error) {
	iv := make([]byte, fallbackIVLength)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	ct := make([]byte, len(plaintext))
	copy(ct, plaintext)
	keystreamXOR(encKey, ct)

	mac := hmac.New(sha256.New, macKey)
	mac.Write(iv)
	mac.Write(ct)
	tag := mac.Sum(nil)

	body := make([]byte, 0, fallbackTagLength+fallbackIVLength+len(ct))
	body = append(body, tag...)
	body = append(body, iv...)
	body = append(body, ct...)
	return body, nil
}

// sealFallbackLegacy encrypts plaintext in the pre-IV sub-format.
// Exists only so tests can produce legacy fixtures.
func sealFallbackLegacy(encKey, macKey, plaintext []byte) []byte {
	ct := make([]byte, len(plaintext))
	copy(ct, plaintext)
	keystreamXOR(encKey, ct)

	mac := hmac.New(sha256.New, macKey)
	mac.Write(ct)
	tag := mac.Sum(nil)

	return append(tag, ct...)
}

// openFallback decrypts a format-0x02 body, trying the with-IV sub-format
// before the legacy one. Returns false if neither tag verifies.
func openFallback(encKey, macKey, body []byte) ([]byte, bool) {
	if len(body) < fallbackTagLength {
		return nil, false
	}
	tag := body[:fallbackTagLength]
	rest := body[fallbackTagLength:]

	// With-IV sub-format.
	if len(rest) >= fallbackIVLength {
		iv := rest[:fallbackIVLength]
		ct := rest[fallbackIVLength:]

		mac := hmac.New(sha256.New, macKey)
		mac.Write(iv)
		mac.Write(ct)
		if hmac.Equal(tag, mac.Sum(nil)) {
			pt := make([]byte, len(ct))
			copy(pt, ct)
			keystreamXOR(encKey, pt)
			return pt, true
		}
	}

	// Legacy sub-format.
	mac := hmac.New(sha256.New, macKey)
	mac.Write(rest)
	if hmac.Equal(tag, mac.Sum(nil)) {
		pt := make([]byte, len(rest))
		copy(pt, rest)
		keystreamXOR(encKey, pt)
		return pt, true
	}

	return nil, false
}
