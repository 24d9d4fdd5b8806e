package vault

import "encoding/json"

// On-disk vault formats. A vault file is:
//
//	version(1) || salt(16) || format-specific body
//
// The version byte fully determines which decoder applies. New vaults are
// always written as formatAEAD; the others remain readable forever.
const (
	// formatFallback is the HMAC-CTR format (0x02), pre-AEAD.
	formatFallback byte = 0x02
	// formatAEAD is the current AES-256-GCM format (0x03).
	formatAEAD byte = 0x03
)

// vaultDecoder decodes one on-disk format body into the secret map.
// Decoders return false for any failure; they never report why.
type vaultDecoder struct {
	version byte
	decode  func(password string, salt, body []byte) (map[string]any, bool)
}

// decoders is tried in order against the file's version byte. An explicit
// registry instead of a switch so the supported-format set is one table.
var decoders = []vaultDecoder{
	{formatAEAD, decodeAEADBody},
	{formatFallback, decodeFallbackBody},
}

func decodeAEADBody(password string, salt, body []byte) (map[string]any, bool) {
	key := deriveKey(password, salt)
	plaintext, ok := openAEAD(key, body)
	if !ok {
		return nil, false
	}
	return parseSecrets(plaintext)
}

func decodeFallbackBody(password string, salt, body []byte) (map[string]any, bool) {
	encKey, macKey := deriveSubKeys(password, salt)
	plaintext, ok := openFallback(encKey, macKey, body)
	if !ok {
		return nil, false
	}
	return parseSecrets(plaintext)
}

func parseSecrets(plaintext []byte) (map[string]any, bool) {
	secrets := make(map[string]any)
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, false
	}
	return secrets, true
}

// encodeVault produces the full on-disk blob for the current format.
func encodeVault(password string, salt []byte, secrets map[string]any) ([]byte, error) {
	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return nil, err
	}

	key := deriveKey(password, salt)
	body, err := sealAEAD(key, plaintext)
	if err != nil {
		return nil, err
	}

	blob := make([]byte, 0, 1+SaltLength+len(body))
	blob = append(blob, formatAEAD)
	blob = append(blob, salt...)
	blob = append(blob, body...)
	return blob, nil
}
