// Package chatclient implements the client side of the chat protocol: one
// Controller per connection, with a background reader, periodic heartbeats,
// and a bounded inbound queue the UI drains at its own pace.
package chatclient

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	v1 "parley/shared/contracts/chat/v1"
)

const (
	defaultDialTimeout    = 5 * time.Second
	defaultAwaitTimeout   = 10 * time.Second
	defaultHeartbeatEvery = 15 * time.Second

	// Inbound queue capacity. When the UI falls behind, the oldest
	// frame is evicted so the view stays current.
	inboxCapacity = 100
)

// Controller manages one client connection: dialing, login and
// registration round-trips, outbound chat, heartbeats, and the inbound
// frame queue. All methods are safe for concurrent use.
type Controller struct {
	log *slog.Logger

	dialTimeout    time.Duration
	awaitTimeout   time.Duration
	heartbeatEvery time.Duration

	inbox chan v1.Frame

	wmu sync.Mutex // serializes socket writes

	mu        sync.Mutex
	conn      net.Conn
	done      chan struct{}
	loggedIn  bool
	username  string
	closeOnce *sync.Once
}

// Option adjusts Controller tuning.
type Option func(*Controller)

// WithDialTimeout overrides the connect timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithAwaitTimeout overrides the response window for login and register.
func WithAwaitTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.awaitTimeout = d
		}
	}
}

// WithHeartbeatInterval overrides the keepalive cadence.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.heartbeatEvery = d
		}
	}
}

// NewController constructs a disconnected Controller.
func NewController(log *slog.Logger, opts ...Option) *Controller {
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{
		log:            log,
		dialTimeout:    defaultDialTimeout,
		awaitTimeout:   defaultAwaitTimeout,
		heartbeatEvery: defaultHeartbeatEvery,
		inbox:          make(chan v1.Frame, inboxCapacity),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials addr and starts the reader and heartbeat goroutines.
func (c *Controller) Connect(addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return ErrAlreadyConnected
	}

	conn, err := net.DialTimeout("tcp", addr, c.dialTimeout)
	if err != nil {
		return err
	}

	c.conn = conn
	c.done = make(chan struct{})
	c.loggedIn = false
	c.username = ""
	c.closeOnce = new(sync.Once)

	// A fresh connection starts with an empty queue; frames left over from
	// a previous session must never surface here.
	c.drainInbox()

	go c.readLoop(conn, c.done)
	go c.heartbeatLoop(conn, c.done)

	c.log.Info("client.connected", "addr", addr)
	return nil
}

// IsConnected reports whether the connection is live.
func (c *Controller) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// IsLoggedIn reports whether a login succeeded on this connection.
func (c *Controller) IsLoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedIn
}

// Username returns the logged-in username, or "" before login.
func (c *Controller) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// Login sends a login request and waits for the server's verdict.
func (c *Controller) Login(ctx context.Context, username, password string) (bool, string, error) {
	if err := c.writeFrame(v1.LoginRequest{Type: v1.TypeLogin, Username: username, Password: password}); err != nil {
		return false, "", err
	}

	resp, err := c.awaitResponse(ctx, v1.TypeLoginResponse)
	if err != nil {
		return false, "", err
	}

	if resp.Success {
		c.mu.Lock()
		c.loggedIn = true
		c.username = username
		c.mu.Unlock()
	}
	return resp.Success, resp.Message, nil
}

// Register sends a registration request and waits for the server's verdict.
func (c *Controller) Register(ctx context.Context, username, password string) (bool, string, error) {
	if err := c.writeFrame(v1.RegisterRequest{Type: v1.TypeRegister, Username: username, Password: password}); err != nil {
		return false, "", err
	}

	resp, err := c.awaitResponse(ctx, v1.TypeRegisterResponse)
	if err != nil {
		return false, "", err
	}
	return resp.Success, resp.Message, nil
}

// SendMessage submits a chat message. Fire and forget: the echo arrives
// through the inbound queue like any other broadcast.
func (c *Controller) SendMessage(text string) error {
	if !c.IsLoggedIn() {
		return ErrNotLoggedIn
	}
	return c.writeFrame(v1.SendMessage{Type: v1.TypeMessage, Message: text})
}

// NextMessage blocks until an inbound frame arrives, the context ends, or
// the connection drops.
func (c *Controller) NextMessage(ctx context.Context) (v1.Frame, error) {
	done := c.doneCh()
	if done == nil {
		return v1.Frame{}, ErrNotConnected
	}

	select {
	case f := <-c.inbox:
		return f, nil
	case <-ctx.Done():
		return v1.Frame{}, ctx.Err()
	case <-done:
		// Drain anything that raced in before the close.
		select {
		case f := <-c.inbox:
			return f, nil
		default:
		}
		return v1.Frame{}, ErrNotConnected
	}
}

// PollMessage waits up to timeout for an inbound frame. A non-positive
// timeout only checks the queue.
func (c *Controller) PollMessage(timeout time.Duration) (v1.Frame, bool) {
	select {
	case f := <-c.inbox:
		return f, true
	default:
	}

	if timeout <= 0 {
		return v1.Frame{}, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-c.inbox:
		return f, true
	case <-timer.C:
		return v1.Frame{}, false
	}
}

// Logout tells the server goodbye and tears the connection down. The
// write is best effort; the disconnect happens regardless.
func (c *Controller) Logout() error {
	err := c.writeFrame(v1.LogoutRequest{Type: v1.TypeLogout})
	c.Disconnect()
	if err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// Disconnect closes the connection, stops the background goroutines, and
// clears any frames still queued from the connection. Idempotent.
func (c *Controller) Disconnect() {
	c.teardown()
	c.drainInbox()
}

// teardown stops the connection without touching the inbound queue, so a
// dropped connection leaves already-received frames for the consumer.
func (c *Controller) teardown() {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	once := c.closeOnce
	c.mu.Unlock()

	if conn == nil || once == nil {
		return
	}

	once.Do(func() {
		close(done)
		_ = conn.Close()

		c.mu.Lock()
		c.conn = nil
		c.loggedIn = false
		c.username = ""
		c.mu.Unlock()

		c.log.Info("client.disconnected")
	})
}

// ---- internals ----

func (c *Controller) drainInbox() {
	for {
		select {
		case <-c.inbox:
		default:
			return
		}
	}
}

func (c *Controller) doneCh() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Controller) writeFrame(v any) error {
	payload, err := v1.Encode(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := conn.Write(payload); err != nil {
		c.log.Warn("client.write.fail", "err", err)
		c.teardown()
		return err
	}
	return nil
}

// awaitResponse pulls frames off the inbound queue until one matches
// wantType. Heartbeat acks are discarded; everything else goes back on the
// queue for the normal consumer.
func (c *Controller) awaitResponse(ctx context.Context, wantType string) (v1.AuthResponse, error) {
	done := c.doneCh()
	if done == nil {
		return v1.AuthResponse{}, ErrNotConnected
	}

	timer := time.NewTimer(c.awaitTimeout)
	defer timer.Stop()

	for {
		select {
		case f := <-c.inbox:
			switch f.Type {
			case wantType:
				var resp v1.AuthResponse
				if err := f.Unmarshal(&resp); err != nil {
					return v1.AuthResponse{}, err
				}
				return resp, nil
			case v1.TypeHeartbeat:
				continue
			default:
				c.push(f)
				// Let other frames land before re-reading, otherwise a
				// lone requeued frame would cycle hot.
				time.Sleep(5 * time.Millisecond)
			}
		case <-timer.C:
			return v1.AuthResponse{}, ErrAwaitTimeout
		case <-ctx.Done():
			return v1.AuthResponse{}, ctx.Err()
		case <-done:
			return v1.AuthResponse{}, ErrNotConnected
		}
	}
}

// push enqueues a frame, evicting the oldest entry when the queue is full.
func (c *Controller) push(f v1.Frame) {
	for {
		select {
		case c.inbox <- f:
			return
		default:
		}

		select {
		case old := <-c.inbox:
			c.log.Warn("client.inbox.evict", "type", old.Type)
		default:
		}
	}
}

func (c *Controller) readLoop(conn net.Conn, done chan struct{}) {
	reader := bufio.NewReaderSize(conn, 4096)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			select {
			case <-done:
			default:
				c.log.Warn("client.read.fail", "err", err)
			}
			c.teardown()
			return
		}

		frame, err := v1.Decode(line)
		if err != nil {
			c.log.Warn("client.frame.invalid", "err", err)
			continue
		}

		c.push(frame)
	}
}

func (c *Controller) heartbeatLoop(conn net.Conn, done chan struct{}) {
	t := time.NewTicker(c.heartbeatEvery)
	defer t.Stop()

	for {
		select {
		case <-done:
			return
		case <-t.C:
			hb := v1.Heartbeat{Type: v1.TypeHeartbeat, Timestamp: time.Now().UnixMilli()}
			payload, err := v1.Encode(hb)
			if err != nil {
				return
			}

			c.wmu.Lock()
			_, err = conn.Write(payload)
			c.wmu.Unlock()

			if err != nil {
				c.log.Warn("client.heartbeat.fail", "err", err)
				c.teardown()
				return
			}
		}
	}
}
