package identity

import "errors"

// Sentinel kinds callers can test with errors.Is.
var (
	ErrInvalidUsername = errors.New("invalid username")
	ErrClosed          = errors.New("store closed")
)
