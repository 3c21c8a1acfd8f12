// Package server accepts client connections and runs the per-connection
// protocol state machine on top of the room layer.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"k8s.io/klog/v2"

	"github.com/snake-arena/server/internal/client"
	"github.com/snake-arena/server/internal/config"
	"github.com/snake-arena/server/internal/proto"
	"github.com/snake-arena/server/internal/room"
)

// State is the shared server state: the room manager, the viewer id sequence
// and the registry of connected client names.
type State struct {
	Address string

	limits  config.Limits
	manager *room.Manager
	viewers client.ViewerSequence

	mu        sync.Mutex
	connected map[client.Name]struct{}
}

// NewState builds a fresh server state with no rooms and no clients.
func NewState(limits config.Limits) *State {
	return &State{
		limits:    limits,
		manager:   room.NewManager(limits),
		connected: make(map[client.Name]struct{}),
	}
}

// Manager exposes the room manager, mostly for tests.
func (s *State) Manager() *room.Manager { return s.manager }

// register reserves a client name for the lifetime of its connection. Two
// live connections must never share a name, or the room maps would conflate
// them.
func (s *State) register(cn client.Name) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.connected[cn]; taken {
		return fmt.Errorf("client name %v is already connected", cn)
	}
	s.connected[cn] = struct{}{}
	return nil
}

func (s *State) unregister(cn client.Name) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connected, cn)
}

// HandleWS upgrades the connection and serves it to completion.
func (s *State) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		klog.Errorf("Websocket accept failed: %v", err)
		return
	}
	s.ServeSession(r.Context(), proto.NewWebsocketSession(conn))
}

// ServeSession runs the handshake and the client worker over any Session
// implementation; tests drive it directly over an in-memory pipe.
func (s *State) ServeSession(ctx context.Context, sess proto.Session) {
	defer sess.Close()

	w, err := s.handshake(ctx, sess)
	if err != nil {
		klog.V(1).Infof("Handshake failed: %v", err)
		return
	}
	defer s.unregister(w.name)

	klog.Infof("%v connected", w.name)
	w.run(ctx)
	klog.Infof("%v disconnected", w.name)
}

// Run starts the server and blocks until the context is canceled. An empty
// addr binds an automatically chosen localhost port. The bound State is sent
// to started (if non-nil) once the listener is up.
func Run(ctx context.Context, addr string, limits config.Limits, started chan<- *State) error {
	if addr == "" {
		addr = "127.0.0.1:0"
	}

	state := NewState(limits)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", state.HandleWS)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	state.Address = ln.Addr().String()
	if started != nil {
		started <- state
	}

	srv := &http.Server{Handler: mux}
	go func() {
		klog.Infof("Server started on %s", state.Address)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			klog.Errorf("Server error: %v", err)
		}
	}()

	<-ctx.Done()

	// Graceful shutdown with 5 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	klog.Info("Shutting down server...")
	return srv.Shutdown(shutdownCtx)
}
