package chat

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// idleSession builds a session whose goroutines are not running; registry
// tests drive the registry directly.
func idleSession(t *testing.T, reg *Registry) (*Session, net.Conn) {
	t.Helper()

	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})

	s := NewSession(SessionParams{
		Log:      discardLogger(),
		Conn:     server,
		Registry: reg,
		Metrics:  nil,
	})
	return s, client
}

func TestRegisterAuthenticatedSingleWinner(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger(), nil)

	const contenders = 16
	sessions := make([]*Session, contenders)
	for i := range sessions {
		sessions[i], _ = idleSession(t, reg)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if reg.RegisterAuthenticated("ada", s) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("wins=%d want=1", wins)
	}
	if !reg.IsUsernameLoggedIn("ada") {
		t.Fatal("winner must hold the username")
	}
	if got := reg.AuthenticatedCount(); got != 1 {
		t.Fatalf("authenticated=%d want=1", got)
	}
}

func TestUnregisterAuthenticatedOwnership(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger(), nil)
	holder, _ := idleSession(t, reg)
	stranger, _ := idleSession(t, reg)

	if !reg.RegisterAuthenticated("ada", holder) {
		t.Fatal("claim failed")
	}

	// A session that never owned the name must not evict the holder.
	if reg.UnregisterAuthenticated("ada", stranger) {
		t.Fatal("stranger must not release the mapping")
	}
	if !reg.IsUsernameLoggedIn("ada") {
		t.Fatal("mapping lost to a stale unregister")
	}

	if !reg.UnregisterAuthenticated("ada", holder) {
		t.Fatal("holder must release the mapping")
	}
	if reg.IsUsernameLoggedIn("ada") {
		t.Fatal("mapping should be gone")
	}
}

func TestRegisterAuthenticatedEvictsDeadHolder(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger(), nil)
	dead, _ := idleSession(t, reg)
	next, _ := idleSession(t, reg)

	if !reg.RegisterAuthenticated("ada", dead) {
		t.Fatal("claim failed")
	}

	// The holder dies without a clean unregister.
	dead.Close()

	if !reg.RegisterAuthenticated("ada", next) {
		t.Fatal("live claimant must evict the dead holder")
	}
	if !reg.IsUsernameLoggedIn("ada") {
		t.Fatal("username must be claimed")
	}
}

func TestRegisterAuthenticatedRejectsLiveHolder(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger(), nil)
	holder, _ := idleSession(t, reg)
	claimant, _ := idleSession(t, reg)

	if !reg.RegisterAuthenticated("ada", holder) {
		t.Fatal("claim failed")
	}
	if reg.RegisterAuthenticated("ada", claimant) {
		t.Fatal("second claim must fail while the holder runs")
	}
}

func TestRegisterAuthenticatedRejectsClosedClaimant(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger(), nil)
	s, _ := idleSession(t, reg)
	s.Close()

	if reg.RegisterAuthenticated("ada", s) {
		t.Fatal("closed session must not claim a username")
	}
	if reg.IsUsernameLoggedIn("ada") {
		t.Fatal("username must stay free")
	}
}

func TestSweepRemovesClosedSessions(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger(), nil)

	alive, _ := idleSession(t, reg)
	doomed, _ := idleSession(t, reg)
	reg.AddSession(alive)
	reg.AddSession(doomed)
	reg.RegisterAuthenticated("doomed", doomed)

	doomed.Close()
	reg.sweep()

	if got := reg.SessionCount(); got != 1 {
		t.Fatalf("sessions=%d want=1", got)
	}
	if reg.IsUsernameLoggedIn("doomed") {
		t.Fatal("dead session must be swept from the authenticated map")
	}
}

func TestBroadcastSkipsExcluded(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger(), nil)

	a, aConn := idleSession(t, reg)
	b, bConn := idleSession(t, reg)
	reg.RegisterAuthenticated("a", a)
	reg.RegisterAuthenticated("b", b)

	reg.BroadcastToAuthenticated([]byte("hello\n"), a)

	// b got the frame on its queue; a did not.
	select {
	case payload := <-b.send:
		if string(payload) != "hello\n" {
			t.Fatalf("payload=%q", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("b never received the broadcast")
	}

	select {
	case payload := <-a.send:
		t.Fatalf("excluded session received %q", payload)
	default:
	}

	_ = aConn
	_ = bConn
}

func TestCloseAll(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger(), nil)

	var sessions []*Session
	for i := 0; i < 3; i++ {
		s, _ := idleSession(t, reg)
		reg.AddSession(s)
		sessions = append(sessions, s)
	}

	reg.CloseAll()

	for _, s := range sessions {
		if s.Running() {
			t.Fatal("session still running after CloseAll")
		}
	}
}

func TestRegistryRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(discardLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}
