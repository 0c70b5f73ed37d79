package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
)

const wsSubprotocolV1 = "parley.chat.v1"

// WSGateway upgrades HTTP requests to WebSocket connections and runs them
// through the same session engine as raw TCP clients: each text message is
// a newline-delimited frame, so browser clients speak the identical
// protocol.
type WSGateway struct {
	log    *slog.Logger
	server *Server

	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks. Accept authorizes
	// same-host origins by default; cross-origin needs OriginPatterns.
	originPatterns []string
}

// WSGatewayParams bundles WSGateway dependencies and policy.
type WSGatewayParams struct {
	Log    *slog.Logger
	Server *Server

	OriginRequired bool
	AllowedOrigins []string
}

// NewWSGateway constructs a gateway over an existing chat Server.
func NewWSGateway(p WSGatewayParams) *WSGateway {
	if p.Log == nil {
		p.Log = slog.Default()
	}
	return &WSGateway{
		log:            p.Log,
		server:         p.Server,
		originRequired: p.OriginRequired,
		allowedOrigins: p.AllowedOrigins,
		originPatterns: originPatterns(p.AllowedOrigins),
	}
}

// ServeHTTP adapter so the gateway mounts as an http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{wsSubprotocolV1},
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxLineBytes)

	// NetConn gives the session engine a deadline-capable net.Conn; the
	// session never knows it is speaking over WebSocket.
	nc := websocket.NetConn(r.Context(), conn, websocket.MessageText)
	g.server.ServeConn(r.Context(), nc)

	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Discouraged, but honored if explicitly configured.
			return nil
		}
		if origin == a {
			return nil
		}
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func originPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}
