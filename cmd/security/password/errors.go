package password

import "errors"

// Public, stable errors for callers.
var (
	ErrInvalidHash   = errors.New("invalid password hash")
	ErrEmptyPassword = errors.New("empty password")
)
