package identity

import (
	"context"
	"strings"
	"unicode"
)

// Record is one persisted credential entry. The hash encodes salt and digest
// together and is never reversible, only comparable.
type Record struct {
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
}

// Store is the credential persistence boundary.
//
// Register reports false when the username is already taken; Authenticate
// reports false for both unknown users and wrong passwords, deliberately
// without distinguishing the two. Errors are reserved for infrastructure
// failures (I/O, database); callers treat them as a failed operation.
type Store interface {
	Register(ctx context.Context, username, password string) (bool, error)
	Authenticate(ctx context.Context, username, password string) (bool, error)
	Close(ctx context.Context) error
}

const maxUsernameLen = 64

// ValidateUsername rejects usernames that cannot serve as stable map keys on
// the wire: empty after trimming, over-long, or containing whitespace or
// control characters.
func ValidateUsername(username string) error {
	u := strings.TrimSpace(username)
	if u == "" || u != username {
		return ErrInvalidUsername
	}
	if len(u) > maxUsernameLen {
		return ErrInvalidUsername
	}
	for _, r := range u {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return ErrInvalidUsername
		}
	}
	return nil
}
