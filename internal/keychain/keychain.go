// Package keychain bridges to the OS secret store (macOS Keychain,
// Windows Credential Manager, Secret Service on Linux).
//
// Every call is best-effort: a missing or locked keychain degrades to
// "unavailable", never to a failure the caller has to handle. Callers that
// need the password anyway fall back to prompting.
package keychain

import (
	"log/slog"

	"github.com/zalando/go-keyring"
)

// Bridge holds the (service, account) pair identifying our entry.
type Bridge struct {
	service string
	account string
}

// New creates a bridge for the given service and account names.
func New(service, account string) *Bridge {
	return &Bridge{service: service, account: account}
}

// Get returns the stored password, or ("", false) if the keychain is
// unavailable or has no entry.
func (b *Bridge) Get() (string, bool) {
	if b == nil {
		return "", false
	}
	secret, err := keyring.Get(b.service, b.account)
	if err != nil {
		slog.Debug("keychain.get_unavailable", "service", b.service, "error", err)
		return "", false
	}
	return secret, true
}

// Set stores the password. Returns false if the keychain rejected it.
func (b *Bridge) Set(password string) bool {
	if b == nil {
		return false
	}
	if err := keyring.Set(b.service, b.account, password); err != nil {
		slog.Debug("keychain.set_unavailable", "service", b.service, "error", err)
		return false
	}
	return true
}

// Delete removes the stored password. Missing entries count as success.
func (b *Bridge) Delete() bool {
	if b == nil {
		return false
	}
	if err := keyring.Delete(b.service, b.account); err != nil {
		slog.Debug("keychain.delete_unavailable", "service", b.service, "error", err)
		return false
	}
	return true
}

// Available probes whether the OS secret store responds at all.
func (b *Bridge) Available() bool {
	if b == nil {
		return false
	}
	_, err := keyring.Get(b.service, b.account)
	return err == nil || err == keyring.ErrNotFound
}
