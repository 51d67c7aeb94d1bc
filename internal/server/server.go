package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaychat/relaychat/internal/blob"
	"github.com/relaychat/relaychat/internal/history"
)

const shutdownTimeout = 10 * time.Second

// Server assembles the relay: hub, history store, blob store, and the HTTP
// listener carrying the WebSocket endpoint. All dependencies are built here
// and handed down explicitly.
type Server struct {
	cfg      *Config
	hub      *Hub
	history  *history.Store
	blobs    *blob.Store
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// New builds a Server from the configuration.
func New(cfg *Config) *Server {
	cfg.sanitize()

	hist := history.NewStore(cfg.HistoryCapacity, cfg.HistoryTTL)
	policy := newOriginPolicy(cfg.AllowedOrigins)

	s := &Server{
		cfg:     cfg,
		hub:     NewHub(hist),
		history: hist,
		blobs:   blob.NewStore(cfg.BlobDir),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.check,
		},
	}

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Run starts the hub and the HTTP listener and blocks until ctx is canceled
// or the listener fails. On cancellation both are shut down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run()
	log.Printf("Relay listening on %s", s.httpSrv.Addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.shutdown()
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) shutdown() {
	log.Println("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := s.hub.Shutdown(shutdownTimeout); err != nil {
		log.Printf("Hub shutdown error: %v", err)
	}
}
