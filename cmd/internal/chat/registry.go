package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	v1 "parley/shared/contracts/chat/v1"
)

// Registry tracks all live sessions and the authenticated subset keyed by
// username. It is the only structure mutated by multiple goroutines; every
// map mutation and broadcast snapshot happens under one mutex, which is what
// makes the at-most-one-session-per-username invariant hold under races.
type Registry struct {
	log     *slog.Logger
	metrics *Metrics

	mu       sync.Mutex
	sessions map[string]*Session // keyed by session id
	byUser   map[string]*Session
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger, metrics *Metrics) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:      log,
		metrics:  metrics,
		sessions: make(map[string]*Session),
		byUser:   make(map[string]*Session),
	}
}

// AddSession registers a freshly accepted session.
func (r *Registry) AddSession(s *Session) {
	if s == nil {
		return
	}

	r.mu.Lock()
	r.sessions[s.ID()] = s
	total := len(r.sessions)
	r.mu.Unlock()

	r.metrics.sessionOpened()
	r.log.Debug("registry.session.add", "session_id", s.ID(), "total", total)
}

// RemoveSession drops a session from the live set. Authenticated-map cleanup
// is the session's own job via UnregisterAuthenticated.
func (r *Registry) RemoveSession(s *Session) {
	if s == nil {
		return
	}

	r.mu.Lock()
	_, present := r.sessions[s.ID()]
	delete(r.sessions, s.ID())
	total := len(r.sessions)
	r.mu.Unlock()

	if present {
		r.metrics.sessionClosed()
	}
	r.log.Debug("registry.session.remove", "session_id", s.ID(), "total", total)
}

// IsUsernameLoggedIn reports whether username currently owns an
// authenticated session.
func (r *Registry) IsUsernameLoggedIn(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byUser[username]
	return ok
}

// RegisterAuthenticated claims username for s. The existence check, the
// eviction of a dead holder, and the claim are one critical section: two
// racing logins for the same username can never both succeed.
func (r *Registry) RegisterAuthenticated(username string, s *Session) bool {
	if username == "" || s == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// A claimant that closed between authenticating and claiming must not
	// enter the map; its Close already ran and will not clean up after it.
	if !s.Running() {
		r.log.Warn("registry.login.closed_claimant", "username", username, "claimant", s.ID())
		return false
	}

	if existing, ok := r.byUser[username]; ok {
		if existing.Running() {
			r.log.Warn("registry.login.duplicate", "username", username, "holder", existing.ID(), "claimant", s.ID())
			return false
		}
		// Holder's goroutines already exited without a clean unregister.
		delete(r.byUser, username)
		r.log.Warn("registry.login.evicted_dead", "username", username, "holder", existing.ID())
	}

	r.byUser[username] = s
	r.metrics.setAuthenticated(len(r.byUser))
	r.log.Info("registry.login.registered", "username", username, "session_id", s.ID(), "authenticated", len(r.byUser))
	return true
}

// UnregisterAuthenticated releases username only if the mapping still points
// at s, so a stale close never evicts a newer session that reused the name.
// It reports whether the mapping was actually removed.
func (r *Registry) UnregisterAuthenticated(username string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byUser[username]
	if !ok || existing != s {
		if ok {
			r.log.Warn("registry.logout.stale", "username", username, "holder", existing.ID(), "caller", s.ID())
		}
		return false
	}

	delete(r.byUser, username)
	r.metrics.setAuthenticated(len(r.byUser))
	r.log.Info("registry.logout.unregistered", "username", username, "authenticated", len(r.byUser))
	return true
}

// AuthenticatedCount reports how many users are currently authenticated.
func (r *Registry) AuthenticatedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser)
}

// SessionCount reports the size of the live-session set.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// BroadcastToAuthenticated enqueues payload on every authenticated session
// except exclude. Delivery failures are isolated per recipient; a session
// with a saturated queue loses the frame (logged) rather than blocking the
// broadcast.
func (r *Registry) BroadcastToAuthenticated(payload []byte, exclude *Session) {
	for _, s := range r.snapshotAuthenticated() {
		if s == exclude {
			continue
		}
		r.deliver(s, payload)
	}
}

// BroadcastAll targets every live session regardless of authentication.
func (r *Registry) BroadcastAll(payload []byte) {
	r.mu.Lock()
	snap := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snap = append(snap, s)
	}
	r.mu.Unlock()

	for _, s := range snap {
		r.deliver(s, payload)
	}
}

// BroadcastUserCount sends the current authenticated count to every
// authenticated session.
func (r *Registry) BroadcastUserCount() {
	count := r.AuthenticatedCount()

	payload, err := v1.Encode(v1.UserCount{Type: v1.TypeUserCount, Count: count})
	if err != nil {
		r.log.Error("registry.usercount.encode.fail", "err", err)
		return
	}

	r.BroadcastToAuthenticated(payload, nil)
	r.log.Debug("registry.usercount.broadcast", "count", count)
}

func (r *Registry) snapshotAuthenticated() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := make([]*Session, 0, len(r.byUser))
	for _, s := range r.byUser {
		snap = append(snap, s)
	}
	return snap
}

func (r *Registry) deliver(s *Session, payload []byte) {
	if s == nil || !s.Running() {
		return
	}
	if !s.Enqueue(payload) {
		r.metrics.frameDropped()
		r.log.Warn("registry.broadcast.drop", "session_id", s.ID(), "username", s.Username())
	}
}

// Run executes the housekeeping sweep until ctx is done. The sweep removes
// sessions whose goroutines already terminated without a clean removal; it
// is a defensive backstop, not the primary cleanup path.
func (r *Registry) Run(ctx context.Context) {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	r.mu.Lock()

	removed := 0
	for id, s := range r.sessions {
		if !s.Running() {
			delete(r.sessions, id)
			removed++
		}
	}
	for username, s := range r.byUser {
		if !s.Running() {
			delete(r.byUser, username)
			removed++
		}
	}
	live := len(r.sessions)
	auth := len(r.byUser)

	r.mu.Unlock()

	r.metrics.setSessions(live)
	r.metrics.setAuthenticated(auth)
	if removed > 0 {
		r.log.Info("registry.sweep", "removed", removed, "sessions", live, "authenticated", auth)
	}
}

// CloseAll closes every live session, used during server shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	snap := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snap = append(snap, s)
	}
	r.mu.Unlock()

	for _, s := range snap {
		s.Close()
	}
}
