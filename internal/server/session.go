package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaychat/relaychat/internal/blob"
	"github.com/relaychat/relaychat/internal/history"
	"github.com/relaychat/relaychat/internal/protocol"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
)

// Session is the worker for one accepted connection. It owns the
// connection's read and write halves, the registered username, and the
// current room. Only the session's own goroutines touch that state, so it
// needs no locking; the closed flag is guarded by the hub's mutex.
type Session struct {
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	history *history.Store
	blobs   *blob.Store
	limiter *tokenBucket
	addr    string

	username string
	room     string
	closed   bool
}

func newSession(conn *websocket.Conn, hub *Hub, hist *history.Store, blobs *blob.Store, limit RateLimitConfig, addr string) *Session {
	return &Session{
		conn:    conn,
		send:    make(chan []byte, 256),
		hub:     hub,
		history: hist,
		blobs:   blobs,
		limiter: newTokenBucket(limit.Burst, limit.RefillInterval),
		addr:    addr,
		room:    protocol.GlobalRoom,
	}
}

// readPump drives the session's protocol state machine: register from the
// first frame, then dispatch every subsequent frame until the peer closes
// or the session errors. Errors here end this session only.
func (s *Session) readPump() {
	defer func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.ctx.Done():
		}
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error closing connection from %s: %v", s.addr, err)
		}
	}()

	s.setupReadDeadlines()

	// The first frame is always the raw username, no wrapping.
	_, username, err := s.conn.ReadMessage()
	if err != nil {
		s.logReadError(err)
		return
	}
	s.username = string(username)

	select {
	case s.hub.register <- s:
	case <-s.hub.ctx.Done():
		return
	}
	s.replayHistory()

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}

		if !s.limiter.allow() {
			log.Printf("Rate limit exceeded for %q (%s); discarding frame", s.username, s.addr)
			continue
		}

		if err := s.dispatch(frame); err != nil {
			log.Printf("Session %q (%s): %v; closing session", s.username, s.addr, err)
			return
		}
	}
}

// dispatch interprets one inbound frame. A protocol error aborts the
// session; a missing download id is answered in-band and keeps it alive.
func (s *Session) dispatch(frame []byte) error {
	cmd, err := protocol.Parse(frame)
	if err != nil {
		return err
	}

	switch c := cmd.(type) {
	case protocol.SwitchChat:
		log.Printf("Session %q: switching to room %q", s.username, c.Room)
		s.room = c.Room
		s.replayHistory()

	case protocol.UploadFile:
		id, err := s.blobs.Save(s.room, c.Data)
		if err != nil {
			return fmt.Errorf("storing upload: %w", err)
		}
		log.Printf("Session %q: stored %d byte upload in room %q as %s", s.username, len(c.Data), s.room, id)
		s.broadcast(protocol.UploadAnnouncement(id))

	case protocol.DownloadFile:
		data, err := s.blobs.Load(s.downloadNamespace(), c.FileID)
		if errors.Is(err, blob.ErrNotFound) {
			s.enqueue([]byte(fmt.Sprintf("No file with file-id %s is available", c.FileID)))
			return nil
		}
		if err != nil {
			return fmt.Errorf("loading blob: %w", err)
		}
		s.enqueue(protocol.EncodeFileDelivery(c.Destination, data))

	case protocol.Message:
		s.broadcast(string(c.Text))
	}
	return nil
}

// downloadNamespace anchors downloads to the global room or, in a private
// room, to this session's own username. Uploads land under the room name
// instead; existing clients depend on this asymmetry, so it stays.
func (s *Session) downloadNamespace() string {
	if s.room == protocol.GlobalRoom {
		return protocol.GlobalRoom
	}
	return s.username
}

// broadcast renders text for the current room and hands it to the hub.
func (s *Session) broadcast(text string) {
	b := broadcast{
		room:    s.room,
		sender:  s.username,
		payload: []byte(protocol.Render(s.username, text, s.room)),
	}
	select {
	case s.hub.broadcasts <- b:
	case <-s.hub.ctx.Done():
	}
}

// replayHistory sends the current room's non-expired history to this
// session. Joining a room always answers with a replay, empty or not.
func (s *Session) replayHistory() {
	s.enqueue([]byte(s.history.Read(s.room)))
}

func (s *Session) enqueue(payload []byte) {
	if !s.hub.safeSend(s, payload) {
		log.Printf("Dropping frame for %q (%s): session closed or buffer full", s.username, s.addr)
	}
}

func (s *Session) setupReadDeadlines() {
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("Error setting read deadline for %s: %v", s.addr, err)
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// logReadError distinguishes routine disconnects from anomalies. Oversized
// frames end the session; the maximum frame size is not negotiable.
func (s *Session) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Printf("Frame from %s exceeded the maximum frame size", s.addr)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		log.Printf("Session %q (%s) disconnected: %v", s.username, s.addr, err)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		log.Printf("Session %q (%s) connection closed", s.username, s.addr)
	default:
		log.Printf("Read error from %s: %v", s.addr, err)
	}
}

// writePump serializes all writes to the connection: queued frames from the
// hub and keepalive pings. A session never issues overlapping writes.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error closing connection in writePump: %v", err)
		}
	}()

	for {
		select {
		case payload, ok := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Printf("Error setting write deadline for %s: %v", s.addr, err)
				return
			}
			if !ok {
				if err := s.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
					log.Printf("Error writing close message to %s: %v", s.addr, err)
				}
				return
			}
			// One frame per payload; coalescing would merge protocol frames.
			if err := s.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error writing frame to %s: %v", s.addr, err)
				}
				return
			}

		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Printf("Error setting write deadline for ping to %s: %v", s.addr, err)
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
