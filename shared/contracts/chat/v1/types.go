// Package v1 defines the Parley chat wire protocol.
//
// Every frame is a single JSON object on its own line with a mandatory
// "type" discriminator. The package is shared between server and clients
// to keep the wire protocol authoritative.
package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Type constants (wire-stable).
const (
	// TypeLogin authenticates an existing user (client -> server).
	TypeLogin = "login"
	// TypeRegister creates a new user (client -> server).
	TypeRegister = "register"
	// TypeLoginResponse answers a login request (server -> client).
	TypeLoginResponse = "loginResponse"
	// TypeRegisterResponse answers a register request (server -> client).
	TypeRegisterResponse = "registerResponse"

	// TypeMessage submits a chat line (client -> server).
	TypeMessage = "message"
	// TypeChat broadcasts an accepted chat line (server -> clients).
	TypeChat = "chat"
	// TypeSystem carries join/leave notices (server -> clients).
	TypeSystem = "system"
	// TypeUserCount announces the authenticated user count (server -> clients).
	TypeUserCount = "userCount"

	// TypeHeartbeat is a liveness probe; it flows both ways.
	TypeHeartbeat = "heartbeat"
	// TypeLogout requests session termination (client -> server).
	TypeLogout = "logout"
	// TypeError reports a request-level failure (server -> client).
	TypeError = "error"
)

var allowedTypes = map[string]struct{}{
	TypeLogin:            {},
	TypeRegister:         {},
	TypeLoginResponse:    {},
	TypeRegisterResponse: {},
	TypeMessage:          {},
	TypeChat:             {},
	TypeSystem:           {},
	TypeUserCount:        {},
	TypeHeartbeat:        {},
	TypeLogout:           {},
	TypeError:            {},
}

// Known reports whether t is a protocol type this version understands.
func Known(t string) bool {
	_, ok := allowedTypes[t]
	return ok
}

// ErrMissingType marks a frame without a usable "type" field.
var ErrMissingType = errors.New("missing field: type")

// Frame is a decoded inbound line: the discriminator plus the raw JSON,
// so callers can unmarshal the concrete shape after routing on Type.
type Frame struct {
	Type string
	Raw  json.RawMessage
}

// Unmarshal decodes the frame's raw JSON into the concrete shape.
func (f Frame) Unmarshal(v any) error {
	return json.Unmarshal(f.Raw, v)
}

// Decode parses one wire line into a Frame. It fails on malformed JSON and
// on frames whose "type" is absent or blank; unknown (but present) types
// are returned as-is so the caller decides whether to ignore them.
func Decode(line []byte) (Frame, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if strings.TrimSpace(head.Type) == "" {
		return Frame{}, ErrMissingType
	}

	raw := make(json.RawMessage, len(line))
	copy(raw, line)
	return Frame{Type: head.Type, Raw: raw}, nil
}

// Encode marshals v and appends the line terminator.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if bytes.ContainsRune(b, '\n') {
		// A frame spanning lines would corrupt the stream framing.
		return nil, errors.New("encode frame: embedded newline")
	}
	return append(b, '\n'), nil
}

// ---- Frames ----

// LoginRequest carries credentials for an existing user.
type LoginRequest struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest carries credentials for a new user.
type RegisterRequest struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse answers login and register requests.
type AuthResponse struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SendMessage submits one chat line.
type SendMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ChatBroadcast is an accepted chat line fanned out to authenticated users.
// Timestamp is milliseconds since the Unix epoch.
type ChatBroadcast struct {
	Type      string `json:"type"`
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// SystemNotice carries join/leave announcements.
type SystemNotice struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// UserCount announces how many users are currently authenticated.
type UserCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// Heartbeat is the liveness probe. Clients send Timestamp; the server
// acknowledges with Status "ok".
type Heartbeat struct {
	Type      string `json:"type"`
	Status    string `json:"status,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// LogoutRequest asks the server to close the session.
type LogoutRequest struct {
	Type string `json:"type"`
}

// ErrorNotice reports a request-level failure without dropping the connection.
type ErrorNotice struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
