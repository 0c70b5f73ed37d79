package chat

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"parley/cmd/internal/chatclient"
	v1 "parley/shared/contracts/chat/v1"
)

func startTestServer(t *testing.T, store *stubStore) (*Server, string) {
	t.Helper()

	reg := NewRegistry(discardLogger(), nil)
	srv := NewServer(ServerParams{
		Log:             discardLogger(),
		Registry:        reg,
		Users:           store,
		Metrics:         nil,
		Addr:            "127.0.0.1:0",
		ReadIdleTimeout: time.Second,
		WriteTimeout:    time.Second,
	})
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		srv.Shutdown()
	})

	return srv, srv.Addr().String()
}

func TestServerEndToEnd(t *testing.T) {
	t.Parallel()

	store := newStubStore(nil)
	_, addr := startTestServer(t, store)

	ada := chatclient.NewController(discardLogger())
	if err := ada.Connect(addr); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ada.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, msg, err := ada.Register(ctx, "ada", "pw")
	if err != nil || !ok {
		t.Fatalf("Register=%v,%q,%v", ok, msg, err)
	}

	ok, msg, err = ada.Login(ctx, "ada", "pw")
	if err != nil || !ok {
		t.Fatalf("Login=%v,%q,%v", ok, msg, err)
	}

	// Own user count arrives after login.
	frame, err := ada.NextMessage(ctx)
	if err != nil {
		t.Fatalf("NextMessage: %v", err)
	}
	if frame.Type != v1.TypeUserCount {
		t.Fatalf("type=%q want=%q", frame.Type, v1.TypeUserCount)
	}

	if err := ada.SendMessage("hello, world"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	frame, err = ada.NextMessage(ctx)
	if err != nil {
		t.Fatalf("NextMessage: %v", err)
	}
	if frame.Type != v1.TypeChat {
		t.Fatalf("type=%q want=%q", frame.Type, v1.TypeChat)
	}
	var m v1.ChatBroadcast
	if err := frame.Unmarshal(&m); err != nil || m.Sender != "ada" || m.Message != "hello, world" {
		t.Fatalf("broadcast=%+v err=%v", m, err)
	}
}

func TestServerTwoClients(t *testing.T) {
	t.Parallel()

	store := newStubStore(map[string]string{"ada": "pw", "bob": "pw"})
	_, addr := startTestServer(t, store)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connect := func(user string) *chatclient.Controller {
		c := chatclient.NewController(discardLogger())
		if err := c.Connect(addr); err != nil {
			t.Fatalf("Connect(%s): %v", user, err)
		}
		t.Cleanup(c.Disconnect)
		if ok, msg, err := c.Login(ctx, user, "pw"); err != nil || !ok {
			t.Fatalf("Login(%s)=%v,%q,%v", user, ok, msg, err)
		}
		return c
	}

	ada := connect("ada")
	bob := connect("bob")

	if err := bob.SendMessage("hi ada"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	// ada sees: own userCount, bob's join notice, userCount, then the chat.
	for {
		frame, err := ada.NextMessage(ctx)
		if err != nil {
			t.Fatalf("NextMessage: %v", err)
		}
		if frame.Type != v1.TypeChat {
			continue
		}
		var m v1.ChatBroadcast
		if err := frame.Unmarshal(&m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if m.Sender != "bob" || m.Message != "hi ada" {
			t.Fatalf("broadcast=%+v", m)
		}
		return
	}
}

func TestWSGatewayRejectsMissingOrigin(t *testing.T) {
	t.Parallel()

	srv, _ := startTestServer(t, newStubStore(nil))
	gw := NewWSGateway(WSGatewayParams{
		Log:            discardLogger(),
		Server:         srv,
		OriginRequired: true,
		AllowedOrigins: []string{"http://localhost"},
	})

	ts := httptest.NewServer(gw)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusForbidden)
	}
}

func TestWSGatewaySpeaksSameProtocol(t *testing.T) {
	t.Parallel()

	srv, _ := startTestServer(t, newStubStore(map[string]string{"ada": "pw"}))
	gw := NewWSGateway(WSGatewayParams{
		Log:            discardLogger(),
		Server:         srv,
		OriginRequired: false,
		AllowedOrigins: []string{"http://127.0.0.1"},
	})

	ts := httptest.NewServer(gw)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+ts.URL[len("http"):], &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolV1},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	nc := websocket.NetConn(ctx, conn, websocket.MessageText)

	payload, err := v1.Encode(v1.LoginRequest{Type: v1.TypeLogin, Username: "ada", Password: "pw"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := nc.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := bufio.NewReader(nc)
	line, err := r.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	frame, err := v1.Decode(line)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Type != v1.TypeLoginResponse {
		t.Fatalf("type=%q want=%q", frame.Type, v1.TypeLoginResponse)
	}
	var resp v1.AuthResponse
	if err := frame.Unmarshal(&resp); err != nil || !resp.Success {
		t.Fatalf("response=%+v err=%v", resp, err)
	}
}

func TestOriginHostOnly(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://localhost", want: "localhost"},
		{in: "http://Localhost:3000", want: "localhost"},
		{in: "https://app.example.com", want: "app.example.com"},
		{in: "127.0.0.1:8080", want: "127.0.0.1"},
		{in: "example.com", want: "example.com"},
		{in: "", want: ""},
	}

	for _, tc := range cases {
		if got := originHostOnly(tc.in); got != tc.want {
			t.Fatalf("originHostOnly(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}
