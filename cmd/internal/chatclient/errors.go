package chatclient

import "errors"

var (
	// ErrNotConnected is returned by operations that need a live connection.
	ErrNotConnected = errors.New("chatclient: not connected")

	// ErrAlreadyConnected is returned by Connect on a live controller.
	ErrAlreadyConnected = errors.New("chatclient: already connected")

	// ErrNotLoggedIn is returned by SendMessage before a successful login.
	ErrNotLoggedIn = errors.New("chatclient: not logged in")

	// ErrAwaitTimeout is returned when the server does not answer a
	// request frame within the response window.
	ErrAwaitTimeout = errors.New("chatclient: timed out waiting for server response")
)
