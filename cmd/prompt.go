package cmd

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"
)

// promptPassword reads a password without echo. The trailing newline the
// terminal swallows is printed back so following output starts clean.
func promptPassword(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(raw), nil
}

// promptNewPassword reads a password twice and insists the entries match.
func promptNewPassword(label string) (string, error) {
	p1, err := promptPassword(label)
	if err != nil {
		return "", err
	}
	p2, err := promptPassword("Confirm: ")
	if err != nil {
		return "", err
	}
	if p1 != p2 {
		return "", fmt.Errorf("passwords do not match")
	}
	return p1, nil
}
