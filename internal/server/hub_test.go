package server

import (
	"testing"
	"time"

	"github.com/relaychat/relaychat/internal/history"
	"github.com/relaychat/relaychat/internal/protocol"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(history.NewStore(history.DefaultCapacity, history.DefaultTTL))
	go hub.Run()
	t.Cleanup(func() {
		_ = hub.Shutdown(time.Second)
	})
	return hub
}

func newTestSession(hub *Hub, username string) *Session {
	s := newSession(nil, hub, hub.history, nil, RateLimitConfig{Burst: 100, RefillInterval: time.Second}, "127.0.0.1:12345")
	s.username = username
	return s
}

func registerSession(t *testing.T, hub *Hub, username string) *Session {
	t.Helper()
	s := newTestSession(hub, username)
	select {
	case hub.register <- s:
	case <-time.After(time.Second):
		t.Fatalf("Timed out registering %q", username)
	}
	waitFor(t, func() bool {
		got, ok := hub.resolve(username)
		return ok && got == s
	}, "session for "+username)
	return s
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func expectFrame(t *testing.T, s *Session, want string) {
	t.Helper()
	select {
	case payload := <-s.send:
		if string(payload) != want {
			t.Errorf("Session %q received %q, want %q", s.username, payload, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("Session %q did not receive %q", s.username, want)
	}
}

func expectNoFrame(t *testing.T, s *Session) {
	t.Helper()
	select {
	case payload := <-s.send:
		t.Errorf("Session %q unexpectedly received %q", s.username, payload)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestRegisterAndResolve verifies that a registered username resolves to its
// session and that unknown usernames do not resolve.
func TestRegisterAndResolve(t *testing.T) {
	hub := newTestHub(t)

	alice := registerSession(t, hub, "alice")

	if got, ok := hub.resolve("alice"); !ok || got != alice {
		t.Error("resolve did not return the registered session")
	}
	if _, ok := hub.resolve("nobody"); ok {
		t.Error("resolve returned a session for an unknown username")
	}
}

// TestUnregisterRemovesEntry verifies that after unregistration the
// username no longer resolves.
func TestUnregisterRemovesEntry(t *testing.T) {
	hub := newTestHub(t)

	alice := registerSession(t, hub, "alice")
	hub.unregister <- alice

	waitFor(t, func() bool {
		_, ok := hub.resolve("alice")
		return !ok
	}, "alice to be unregistered")
}

// TestReRegistrationLastWriterWins verifies that a second registration for
// the same username replaces the first and shuts the stale session down.
func TestReRegistrationLastWriterWins(t *testing.T) {
	hub := newTestHub(t)

	first := registerSession(t, hub, "alice")
	second := registerSession(t, hub, "alice")

	if got, _ := hub.resolve("alice"); got != second {
		t.Fatal("resolve did not return the most recent session")
	}

	// The replaced session's outbound channel must be closed.
	waitFor(t, func() bool {
		select {
		case _, open := <-first.send:
			return !open
		default:
			return false
		}
	}, "stale session send channel to close")

	// The replaced session disconnecting later must not evict its successor.
	hub.unregister <- first
	time.Sleep(20 * time.Millisecond)
	if got, ok := hub.resolve("alice"); !ok || got != second {
		t.Error("Stale session unregistration evicted its successor")
	}
}

// TestGlobalBroadcastReachesEveryone verifies that a global-room broadcast
// is delivered to every registered session, sender included.
func TestGlobalBroadcastReachesEveryone(t *testing.T) {
	hub := newTestHub(t)

	alice := registerSession(t, hub, "alice")
	bob := registerSession(t, hub, "bob")
	carol := registerSession(t, hub, "carol")

	hub.broadcasts <- broadcast{
		room:    protocol.GlobalRoom,
		sender:  "alice",
		payload: []byte("[alice] hello"),
	}

	expectFrame(t, alice, "[alice] hello")
	expectFrame(t, bob, "[alice] hello")
	expectFrame(t, carol, "[alice] hello")
}

// TestPrivateBroadcastReachesPairOnly verifies that a private-room broadcast
// reaches exactly the peer and the sender, and nobody else.
func TestPrivateBroadcastReachesPairOnly(t *testing.T) {
	hub := newTestHub(t)

	alice := registerSession(t, hub, "alice")
	bob := registerSession(t, hub, "bob")
	carol := registerSession(t, hub, "carol")

	hub.broadcasts <- broadcast{
		room:    "bob",
		sender:  "alice",
		payload: []byte("[alice][private] hi bob"),
	}

	expectFrame(t, alice, "[alice][private] hi bob")
	expectFrame(t, bob, "[alice][private] hi bob")
	expectNoFrame(t, carol)
}

// TestPrivateBroadcastToSelf verifies the degenerate room where the peer is
// the sender delivers exactly one copy.
func TestPrivateBroadcastToSelf(t *testing.T) {
	hub := newTestHub(t)

	alice := registerSession(t, hub, "alice")

	hub.broadcasts <- broadcast{
		room:    "alice",
		sender:  "alice",
		payload: []byte("[alice][private] note to self"),
	}

	expectFrame(t, alice, "[alice][private] note to self")
	expectNoFrame(t, alice)
}

// TestPrivateBroadcastSkipsDisconnectedPeer verifies that an unresolvable
// peer is silently skipped while the sender still gets the echo.
func TestPrivateBroadcastSkipsDisconnectedPeer(t *testing.T) {
	hub := newTestHub(t)

	alice := registerSession(t, hub, "alice")

	hub.broadcasts <- broadcast{
		room:    "bob",
		sender:  "alice",
		payload: []byte("[alice][private] anyone there?"),
	}

	expectFrame(t, alice, "[alice][private] anyone there?")
}

// TestBroadcastRecordsHistory verifies that delivery appends the rendered
// message to the room's history for future replays.
func TestBroadcastRecordsHistory(t *testing.T) {
	hub := newTestHub(t)
	registerSession(t, hub, "alice")

	hub.broadcasts <- broadcast{
		room:    protocol.GlobalRoom,
		sender:  "alice",
		payload: []byte("[alice] for the record"),
	}

	waitFor(t, func() bool {
		return hub.history.Read(protocol.GlobalRoom) == "[alice] for the record"
	}, "broadcast to be recorded in history")
}
