// Package main provides a CI-friendly smoke test for the Parley chat server.
//
// It validates:
//   - register + login round-trips
//   - duplicate login rejection
//   - join notice and user count fanout
//   - chat broadcast to both clients (sender included)
//   - heartbeat ack
//   - logout leave notice
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	v1 "parley/shared/contracts/chat/v1"
)

type smokeClient struct {
	name string
	conn net.Conn

	inbox chan v1.Frame
	errCh chan error
}

func main() {
	var (
		addr    = flag.String("addr", "127.0.0.1:8080", "chat server address")
		text    = flag.String("text", "hello parley 👋", "message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	root := context.Background()
	suffix := time.Now().UnixNano()
	userA := fmt.Sprintf("smoke-a-%d", suffix)
	userB := fmt.Sprintf("smoke-b-%d", suffix)

	a := mustConnect("A", *addr, *timeout)
	defer a.close()
	b := mustConnect("B", *addr, *timeout)
	defer b.close()

	mustRegister(root, a, userA, "smoke-pass", *timeout)
	mustRegister(root, b, userB, "smoke-pass", *timeout)

	mustLogin(root, a, userA, "smoke-pass", *timeout)
	mustReadUserCount(root, a, *timeout)

	// A second login for the same user must be refused.
	dup := mustConnect("DUP", *addr, *timeout)
	assertLoginRejected(root, dup, userA, "smoke-pass", *timeout)
	dup.close()

	mustLogin(root, b, userB, "smoke-pass", *timeout)
	mustReadUserCount(root, b, *timeout)

	// A sees B arrive.
	mustReadSystem(root, a, userB+" joined the chat", *timeout)
	if n := mustReadUserCount(root, a, *timeout); n != 2 {
		fatalf("user count after join: got=%d want=2", n)
	}

	mustSend(a, v1.SendMessage{Type: v1.TypeMessage, Message: *text})
	for _, c := range []*smokeClient{a, b} {
		m := mustReadChat(root, c, *timeout)
		if m.Sender != userA || m.Message != *text {
			fatalf("chat mismatch (%s): %+v", c.name, m)
		}
	}

	mustSend(a, v1.Heartbeat{Type: v1.TypeHeartbeat, Timestamp: time.Now().UnixMilli()})
	mustHeartbeatAck(root, a, *timeout)

	mustSend(b, v1.LogoutRequest{Type: v1.TypeLogout})
	mustReadSystem(root, a, userB+" left the chat", *timeout)
	if n := mustReadUserCount(root, a, *timeout); n != 1 {
		fatalf("user count after logout: got=%d want=1", n)
	}

	if *verbose {
		fmt.Printf("users: A=%s B=%s\n", userA, userB)
	}
	fmt.Printf("OK: addr=%s users=2 broadcast+heartbeat+logout verified\n", *addr)
}

func mustConnect(name, addr string, stepTimeout time.Duration) *smokeClient {
	conn, err := net.DialTimeout("tcp", addr, stepTimeout)
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Frame, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		r := bufio.NewReader(c.conn)
		for {
			line, err := r.ReadBytes('\n')
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			frame, err := v1.Decode(line)
			if err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad frame: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- frame:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func (c *smokeClient) close() {
	_ = c.conn.Close()
}

func mustSend(c *smokeClient, v any) {
	payload, err := v1.Encode(v)
	if err != nil {
		fatalf("encode (%s): %v", c.name, err)
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write(payload); err != nil {
		fatalf("write (%s): %v", c.name, err)
	}
}

func mustRegister(parent context.Context, c *smokeClient, username, password string, stepTimeout time.Duration) {
	mustSend(c, v1.RegisterRequest{Type: v1.TypeRegister, Username: username, Password: password})
	resp := mustAuthResponse(parent, c, v1.TypeRegisterResponse, stepTimeout)
	if !resp.Success {
		fatalf("register %s (%s): %s", username, c.name, resp.Message)
	}
}

func mustLogin(parent context.Context, c *smokeClient, username, password string, stepTimeout time.Duration) {
	mustSend(c, v1.LoginRequest{Type: v1.TypeLogin, Username: username, Password: password})
	resp := mustAuthResponse(parent, c, v1.TypeLoginResponse, stepTimeout)
	if !resp.Success {
		fatalf("login %s (%s): %s", username, c.name, resp.Message)
	}
}

func assertLoginRejected(parent context.Context, c *smokeClient, username, password string, stepTimeout time.Duration) {
	mustSend(c, v1.LoginRequest{Type: v1.TypeLogin, Username: username, Password: password})
	resp := mustAuthResponse(parent, c, v1.TypeLoginResponse, stepTimeout)
	if resp.Success {
		fatalf("duplicate login for %s was accepted", username)
	}
}

func mustAuthResponse(parent context.Context, c *smokeClient, wantType string, stepTimeout time.Duration) v1.AuthResponse {
	frame := mustReadUntilType(parent, c, wantType, stepTimeout)
	var resp v1.AuthResponse
	if err := frame.Unmarshal(&resp); err != nil {
		fatalf("unmarshal %s (%s): %v", wantType, c.name, err)
	}
	return resp
}

func mustReadChat(parent context.Context, c *smokeClient, stepTimeout time.Duration) v1.ChatBroadcast {
	frame := mustReadUntilType(parent, c, v1.TypeChat, stepTimeout)
	var m v1.ChatBroadcast
	if err := frame.Unmarshal(&m); err != nil {
		fatalf("unmarshal chat (%s): %v", c.name, err)
	}
	if m.Timestamp <= 0 {
		fatalf("chat missing timestamp (%s)", c.name)
	}
	return m
}

func mustReadSystem(parent context.Context, c *smokeClient, want string, stepTimeout time.Duration) {
	frame := mustReadUntilType(parent, c, v1.TypeSystem, stepTimeout)
	var n v1.SystemNotice
	if err := frame.Unmarshal(&n); err != nil {
		fatalf("unmarshal system (%s): %v", c.name, err)
	}
	if n.Message != want {
		fatalf("system notice (%s): got=%q want=%q", c.name, n.Message, want)
	}
}

func mustReadUserCount(parent context.Context, c *smokeClient, stepTimeout time.Duration) int {
	frame := mustReadUntilType(parent, c, v1.TypeUserCount, stepTimeout)
	var uc v1.UserCount
	if err := frame.Unmarshal(&uc); err != nil {
		fatalf("unmarshal userCount (%s): %v", c.name, err)
	}
	return uc.Count
}

func mustHeartbeatAck(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	frame := mustReadUntilType(parent, c, v1.TypeHeartbeat, stepTimeout)
	var hb v1.Heartbeat
	if err := frame.Unmarshal(&hb); err != nil {
		fatalf("unmarshal heartbeat (%s): %v", c.name, err)
	}
	if hb.Status != "ok" {
		fatalf("heartbeat status (%s): got=%q want=ok", c.name, hb.Status)
	}
}

func mustReadUntilType(parent context.Context, c *smokeClient, wantType string, stepTimeout time.Duration) v1.Frame {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case frame, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if frame.Type == wantType {
				return frame
			}
			if frame.Type == v1.TypeError {
				var e v1.ErrorNotice
				_ = frame.Unmarshal(&e)
				fatalf("server error (%s): %s", c.name, e.Message)
			}
			// Heartbeats and stale fanout are expected noise between steps.
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
