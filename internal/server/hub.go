// Package server implements the relay itself: the subscriber hub, the
// per-connection session workers, and the WebSocket endpoint they hang off.
package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/relaychat/relaychat/internal/history"
	"github.com/relaychat/relaychat/internal/protocol"
)

// broadcast is a rendered message on its way to a room's members.
type broadcast struct {
	room    string
	sender  string
	payload []byte
}

// Hub is the subscriber registry. It maps usernames to their live sessions
// and owns message fan-out: global broadcasts reach every subscriber,
// private ones reach the peer named by the room plus the sender. All
// mutation goes through the Run loop's channels; the mutex only guards the
// map for concurrent readers.
type Hub struct {
	sessions   map[string]*Session
	register   chan *Session
	unregister chan *Session
	broadcasts chan broadcast
	history    *history.Store
	mu         sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a Hub recording broadcasts in the given history store.
func NewHub(hist *history.Store) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		sessions:   make(map[string]*Session),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		broadcasts: make(chan broadcast),
		history:    hist,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Run drives registration, unregistration, and message fan-out. Call it in
// its own goroutine; it returns only on Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.closeAllSessions()
			return
		case s := <-h.register:
			h.add(s)
		case s := <-h.unregister:
			h.remove(s)
		case b := <-h.broadcasts:
			h.deliver(b)
		}
	}
}

// startSession launches the session's pump goroutines under the hub's
// WaitGroup so Shutdown can wait for them.
func (h *Hub) startSession(s *Session) {
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		s.writePump()
	}()
	go func() {
		defer h.wg.Done()
		s.readPump()
	}()
}

// add registers a session under its username. A second registration for the
// same username wins and the stale session is shut down: usernames are not
// authenticated, so the last writer takes the name.
func (h *Hub) add(s *Session) {
	h.mu.Lock()
	prev := h.sessions[s.username]
	h.sessions[s.username] = s
	count := len(h.sessions)
	h.mu.Unlock()

	if prev != nil && prev != s {
		log.Printf("Username %q re-registered from %s; dropping previous session from %s", s.username, s.addr, prev.addr)
		h.closeSend(prev)
	}
	log.Printf("Subscriber %q registered from %s. Total subscribers: %d", s.username, s.addr, count)
}

// remove unregisters a session. The entry is only deleted when this session
// still owns the username, so a replaced session disconnecting later cannot
// evict its successor. Idempotent for sessions that never registered.
func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	owner := h.sessions[s.username] == s
	if owner {
		delete(h.sessions, s.username)
	}
	count := len(h.sessions)
	h.mu.Unlock()

	h.closeSend(s)
	if owner {
		log.Printf("Subscriber %q unregistered. Total subscribers: %d", s.username, count)
	}
}

// closeSend marks the session closed and closes its send channel exactly
// once, which stops its write pump.
func (h *Hub) closeSend(s *Session) {
	h.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	h.mu.Unlock()

	if !alreadyClosed {
		close(s.send)
	}
}

// resolve returns the live session registered for the username, if any.
func (h *Hub) resolve(username string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.sessions[username]
	return s, ok
}

// snapshot returns the currently registered sessions in no particular order.
func (h *Hub) snapshot() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// safeSend queues a payload on the session's outbound channel without
// blocking. It reports false when the session is closed or its buffer full.
func (h *Hub) safeSend(s *Session, payload []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in safeSend: %v", r)
		}
	}()

	// Hold the lock across the send so the channel cannot be closed under us.
	h.mu.RLock()
	defer h.mu.RUnlock()

	if s.closed {
		return false
	}

	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// deliver appends the message to the room's history and fans it out to the
// room's currently connected members. Members that cannot accept the write
// are dropped; one slow recipient never blocks the rest.
func (h *Hub) deliver(b broadcast) {
	h.history.Append(b.room, string(b.payload))

	recipients := h.recipients(b)
	log.Printf("Delivering message in room %q to %d subscribers", b.room, len(recipients))

	var failed []*Session
	for _, s := range recipients {
		if !h.safeSend(s, b.payload) {
			failed = append(failed, s)
		}
	}
	h.removeFailed(failed)
}

// recipients resolves the member set of a broadcast: every subscriber for
// the global room, otherwise the peer named by the room plus the sender.
// The sender is included on purpose; private messages echo back.
func (h *Hub) recipients(b broadcast) []*Session {
	if b.room == protocol.GlobalRoom {
		return h.snapshot()
	}

	var members []*Session
	if peer, ok := h.resolve(b.room); ok {
		members = append(members, peer)
	}
	if b.room != b.sender {
		if self, ok := h.resolve(b.sender); ok {
			members = append(members, self)
		}
	}
	return members
}

// removeFailed unregisters sessions whose send buffers were full or closed.
func (h *Hub) removeFailed(failed []*Session) {
	for _, s := range failed {
		log.Printf("Subscriber %q from %s removed due to full send buffer", s.username, s.addr)
		h.remove(s)
	}
}

// closeAllSessions force-closes every connection so blocked pumps observe
// the close and exit during shutdown.
func (h *Hub) closeAllSessions() {
	sessions := h.snapshot()
	log.Printf("Shutting down %d subscriber connections...", len(sessions))

	for _, s := range sessions {
		if s.conn == nil {
			continue
		}
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error closing connection from %s: %v", s.addr, err)
		}
	}
}

// Shutdown stops the hub, closes all sessions, and waits for their pump
// goroutines up to the timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some sessions may still be draining")
		return context.DeadlineExceeded
	}
}
