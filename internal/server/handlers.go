package server

import (
	"fmt"
	"log"
	"net/http"
)

// handleWS upgrades the request and starts a session worker for the
// connection. The session registers itself once the client sends its
// username frame.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(s.cfg.MaxFrameSize)

	sess := newSession(conn, s.hub, s.history, s.blobs, s.cfg.RateLimit, r.RemoteAddr)
	s.hub.startSession(sess)
}

// handleHealth reports that the relay is up.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "relaychat server is running!")
}
