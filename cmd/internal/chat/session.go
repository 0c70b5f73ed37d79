package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"parley/cmd/identity"
	"parley/cmd/identity/ids"
	v1 "parley/shared/contracts/chat/v1"
)

// State is the session lifecycle state.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

// Session owns one accepted connection: its socket, the blocking reader
// loop, a bounded outbound queue drained by a dedicated sender goroutine,
// and the authentication state.
//
// Design notes:
//   - send is never closed, so concurrent broadcasters can never panic;
//     done signals the goroutines to stop instead.
//   - Close is idempotent and is the only place state reaches StateClosed.
//   - A full send queue drops the frame (logged + counted) rather than
//     blocking or bypassing the queue; per-session delivery order is exactly
//     enqueue order, unconditionally.
type Session struct {
	log      *slog.Logger
	conn     net.Conn
	registry *Registry
	users    identity.Store
	metrics  *Metrics

	id     string
	remote string

	readIdle     time.Duration
	writeTimeout time.Duration

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	state    State
	username string
}

// SessionParams bundles the dependencies a Session needs.
type SessionParams struct {
	Log      *slog.Logger
	Conn     net.Conn
	Registry *Registry
	Users    identity.Store
	Metrics  *Metrics

	SendQueueSize   int
	ReadIdleTimeout time.Duration
	WriteTimeout    time.Duration
}

// NewSession constructs a Session in the Unauthenticated state.
func NewSession(p SessionParams) *Session {
	if p.Log == nil {
		p.Log = slog.Default()
	}
	if p.SendQueueSize < minSendQueueSize {
		p.SendQueueSize = defaultSendQueueSize
	}
	if p.ReadIdleTimeout <= 0 {
		p.ReadIdleTimeout = defaultReadIdleTimeout
	}
	if p.WriteTimeout <= 0 {
		p.WriteTimeout = defaultWriteTimeout
	}

	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		// Entropy failure; a timestamp id keeps logs usable.
		id = time.Now().UTC().Format("20060102T150405.000000000")
	}

	remote := ""
	if p.Conn != nil && p.Conn.RemoteAddr() != nil {
		remote = p.Conn.RemoteAddr().String()
	}

	return &Session{
		log:          p.Log,
		conn:         p.Conn,
		registry:     p.Registry,
		users:        p.Users,
		metrics:      p.Metrics,
		id:           id,
		remote:       remote,
		readIdle:     p.ReadIdleTimeout,
		writeTimeout: p.WriteTimeout,
		send:         make(chan []byte, p.SendQueueSize),
		done:         make(chan struct{}),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Username returns the authenticated username, or "" before login.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Running reports whether the session has not yet closed.
func (s *Session) Running() bool {
	return s.State() != StateClosed
}

// Run drives the session until the peer disconnects, a fatal read/write
// error occurs, or ctx is cancelled. It always leaves the session closed.
func (s *Session) Run(ctx context.Context) {
	defer s.Close()

	s.log.Info("session.start", "session_id", s.id, "remote", s.remote)

	go s.sender(ctx)
	s.readLoop(ctx)
}

func (s *Session) readLoop(ctx context.Context) {
	// The buffer size is the line cap: ReadSlice fails with ErrBufferFull
	// before a newline-less peer can grow memory past the limit.
	reader := bufio.NewReaderSize(s.conn, maxLineBytes)
	timeouts := 0

	for {
		if ctx.Err() != nil {
			return
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(s.readIdle))
		line, err := reader.ReadSlice('\n')

		if err != nil {
			if errors.Is(err, bufio.ErrBufferFull) {
				s.log.Warn("session.read.oversize", "session_id", s.id, "bytes", len(line))
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() && len(line) == 0 {
				// Idle peer, not necessarily dead: clients heartbeat well
				// inside the deadline, so only repeats are fatal.
				timeouts++
				if timeouts >= maxIdleTimeouts {
					s.log.Warn("session.read.idle_limit", "session_id", s.id, "timeouts", timeouts)
					return
				}
				s.log.Debug("session.read.idle", "session_id", s.id, "timeouts", timeouts)
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				s.log.Debug("session.read.eof", "session_id", s.id)
				return
			}
			select {
			case <-s.done:
				return
			default:
			}
			s.log.Warn("session.read.fail", "session_id", s.id, "err", err)
			return
		}

		timeouts = 0

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		s.dispatch(ctx, line)
	}
}

func (s *Session) dispatch(ctx context.Context, line []byte) {
	frame, err := v1.Decode(line)
	if err != nil {
		// Includes the no-type case: dropped with a warning, no response.
		s.metrics.protocolError()
		s.log.Warn("session.frame.invalid", "session_id", s.id, "err", err)
		return
	}

	switch frame.Type {
	case v1.TypeLogin:
		s.handleLogin(ctx, frame.Raw)
	case v1.TypeRegister:
		s.handleRegister(ctx, frame.Raw)
	case v1.TypeMessage:
		s.handleMessage(frame.Raw)
	case v1.TypeHeartbeat:
		s.handleHeartbeat()
	case v1.TypeLogout:
		s.log.Info("session.logout", "session_id", s.id, "username", s.Username())
		s.Close()
	default:
		s.metrics.protocolError()
		s.log.Warn("session.frame.unknown", "session_id", s.id, "type", frame.Type)
	}
}

func (s *Session) handleLogin(ctx context.Context, raw json.RawMessage) {
	var req v1.LoginRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.Username == "" || req.Password == "" {
		s.respondAuth(v1.TypeLoginResponse, false, "invalid login request")
		return
	}

	if s.State() == StateAuthenticated {
		s.respondAuth(v1.TypeLoginResponse, false, "already logged in on this connection")
		return
	}

	// Fast-path rejection; the authoritative re-check happens inside
	// RegisterAuthenticated's critical section.
	if s.registry.IsUsernameLoggedIn(req.Username) {
		s.metrics.loginResult("duplicate")
		s.respondAuth(v1.TypeLoginResponse, false, "user "+req.Username+" is already logged in from another location")
		return
	}

	ok, err := s.users.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		s.metrics.loginResult("error")
		s.log.Error("session.login.store.fail", "session_id", s.id, "username", req.Username, "err", err)
		s.respondAuth(v1.TypeLoginResponse, false, "server error")
		return
	}
	if !ok {
		s.metrics.loginResult("rejected")
		s.log.Warn("session.login.rejected", "session_id", s.id, "username", req.Username)
		s.respondAuth(v1.TypeLoginResponse, false, "invalid username or password")
		return
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateAuthenticated
	s.username = req.Username
	s.mu.Unlock()

	if !s.registry.RegisterAuthenticated(req.Username, s) {
		// Lost the race to another session that claimed the name first.
		s.mu.Lock()
		if s.state == StateAuthenticated {
			s.state = StateUnauthenticated
			s.username = ""
		}
		s.mu.Unlock()

		s.metrics.loginResult("duplicate")
		s.respondAuth(v1.TypeLoginResponse, false, "user "+req.Username+" is already logged in from another location")
		return
	}

	s.metrics.loginResult("ok")
	s.log.Info("session.login.ok", "session_id", s.id, "username", req.Username)

	s.respondAuth(v1.TypeLoginResponse, true, "login successful")

	if notice, err := v1.Encode(v1.SystemNotice{Type: v1.TypeSystem, Message: req.Username + " joined the chat"}); err == nil {
		s.registry.BroadcastToAuthenticated(notice, s)
	}
	s.registry.BroadcastUserCount()
}

func (s *Session) handleRegister(ctx context.Context, raw json.RawMessage) {
	var req v1.RegisterRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.Username == "" || req.Password == "" {
		s.respondAuth(v1.TypeRegisterResponse, false, "invalid registration request")
		return
	}

	ok, err := s.users.Register(ctx, req.Username, req.Password)
	if err != nil {
		s.log.Error("session.register.store.fail", "session_id", s.id, "username", req.Username, "err", err)
		s.respondAuth(v1.TypeRegisterResponse, false, "server error")
		return
	}
	if !ok {
		s.log.Warn("session.register.rejected", "session_id", s.id, "username", req.Username)
		s.respondAuth(v1.TypeRegisterResponse, false, "username already exists")
		return
	}

	s.log.Info("session.register.ok", "session_id", s.id, "username", req.Username)
	s.respondAuth(v1.TypeRegisterResponse, true, "registration successful")
}

func (s *Session) handleMessage(raw json.RawMessage) {
	s.mu.Lock()
	authenticated := s.state == StateAuthenticated
	sender := s.username
	s.mu.Unlock()

	if !authenticated || sender == "" {
		s.log.Warn("session.message.unauthorized", "session_id", s.id, "remote", s.remote)
		s.enqueueFrame(v1.ErrorNotice{Type: v1.TypeError, Message: "you must be logged in to send messages"})
		return
	}

	var req v1.SendMessage
	if err := json.Unmarshal(raw, &req); err != nil {
		s.metrics.protocolError()
		s.log.Warn("session.message.invalid", "session_id", s.id, "err", err)
		return
	}

	// Whitespace-only input is dropped without any response.
	if strings.TrimSpace(req.Message) == "" {
		return
	}

	text := req.Message
	if runes := []rune(text); len(runes) > maxMessageChars {
		text = string(runes[:maxMessageChars]) + truncationMarker
	}

	payload, err := v1.Encode(v1.ChatBroadcast{
		Type:      v1.TypeChat,
		Sender:    sender,
		Message:   text,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		s.log.Error("session.message.encode.fail", "session_id", s.id, "err", err)
		return
	}

	// The sender is part of the authenticated set and receives its own chat.
	s.registry.BroadcastToAuthenticated(payload, nil)
	s.metrics.messageBroadcast()

	s.log.Debug("session.message.broadcast", "username", sender, "recipients", s.registry.AuthenticatedCount())
}

func (s *Session) handleHeartbeat() {
	s.enqueueFrame(v1.Heartbeat{Type: v1.TypeHeartbeat, Status: "ok"})
}

func (s *Session) respondAuth(frameType string, success bool, message string) {
	s.enqueueFrame(v1.AuthResponse{Type: frameType, Success: success, Message: message})
}

func (s *Session) enqueueFrame(v any) {
	payload, err := v1.Encode(v)
	if err != nil {
		s.log.Error("session.encode.fail", "session_id", s.id, "err", err)
		return
	}
	if !s.Enqueue(payload) {
		s.metrics.frameDropped()
		s.log.Warn("session.enqueue.drop", "session_id", s.id)
	}
}

// Enqueue places payload on the outbound queue without blocking. It reports
// false when the session is shutting down or the queue is saturated.
func (s *Session) Enqueue(payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// sender is the single writer for this session's socket, which guarantees
// outbound frames leave in exactly enqueue order.
func (s *Session) sender(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if _, err := s.conn.Write(payload); err != nil {
				s.log.Info("session.write.fail", "session_id", s.id, "err", err)
				s.Close()
				return
			}
		}
	}
}

// Close releases the socket, stops the reader and sender, and, if the
// session had authenticated, removes the username mapping (only while it
// still points here), announces the departure, and refreshes the user count.
// Idempotent: every effect fires at most once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		wasAuthenticated := s.state == StateAuthenticated
		username := s.username
		s.state = StateClosed
		s.mu.Unlock()

		close(s.done)
		_ = s.conn.Close()

		if wasAuthenticated && username != "" {
			if s.registry.UnregisterAuthenticated(username, s) {
				if notice, err := v1.Encode(v1.SystemNotice{Type: v1.TypeSystem, Message: username + " left the chat"}); err == nil {
					s.registry.BroadcastToAuthenticated(notice, s)
				}
				s.registry.BroadcastUserCount()
			}
		}

		s.registry.RemoveSession(s)
		s.log.Info("session.closed", "session_id", s.id, "username", username, "remote", s.remote)
	})
}
