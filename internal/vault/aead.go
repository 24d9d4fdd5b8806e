package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

const gcmNonceLength = 12

// sealAEAD encrypts plaintext with AES-256-GCM under a fresh random nonce.
// Returns nonce || ciphertext+tag, the body layout of format 0x03.
func sealAEAD(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcmNonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// openAEAD decrypts a format-0x03 body. Returns false on any failure:
// truncated body, bad key, or tampered ciphertext are indistinguishable.
func openAEAD(key, body []byte) ([]byte, bool) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, false
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, false
	}
	if len(body) < gcmNonceLength+gcm.Overhead() {
		return nil, false
	}
	plaintext, err := gcm.Open(nil, body[:gcmNonceLength], body[gcmNonceLength:], nil)
	if err != nil {
		return nil, false
	}
	return plaintext, true
}
