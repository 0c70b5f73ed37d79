package chat

import "time"

// Protocol and resource limits.
const (
	// Max bytes per wire line (hard limit for the reader).
	maxLineBytes = 64 << 10 // 64 KiB

	// Max chat message length (runes); longer input is truncated.
	maxMessageChars = 1000

	// Marker appended to truncated chat messages.
	truncationMarker = "... [trimmed]"
)

const (
	defaultSendQueueSize = 64
	minSendQueueSize     = 8

	defaultReadIdleTimeout = 30 * time.Second
	defaultWriteTimeout    = 5 * time.Second

	// Consecutive idle read timeouts tolerated before the peer is
	// declared dead. Clients heartbeat every 15s, so a healthy peer
	// never comes close.
	maxIdleTimeouts = 3

	sweepInterval = 30 * time.Second

	closeGrace = 5 * time.Second
)
