// Package gameserver runs the TCP gameplay endpoint: one goroutine per
// connection, a registry enforcing one live session per player name, and
// the arbiter for player-versus-player games.
package gameserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/udisondev/seabattle/internal/config"
	"github.com/udisondev/seabattle/internal/model"
	"github.com/udisondev/seabattle/internal/store"
)

// Server accepts gameplay connections and hands each one to a session.
type Server struct {
	cfg     config.Server
	users   store.Store
	arbiter *Arbiter
	reg     *registry

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a game server bound to nothing yet.
func NewServer(cfg config.Server, users store.Store) *Server {
	return &Server{
		cfg:     cfg,
		users:   users,
		arbiter: NewArbiter(users, cfg.GridSize, fleetSpecs(cfg.Fleet)),
		reg:     newRegistry(),
	}
}

// Addr returns the bound listen address, nil before Run.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close closes the listener and stops accepting connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Run binds the game port and serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.GamePort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding game listener %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on an already-bound listener until ctx is
// canceled or the listener closes, then waits for running sessions.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
		s.reg.closeAll()
	}()

	slog.Info("game server started", "address", ln.Addr())

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("accept failed", "err", err)
			continue
		}
		sess := newSession(s.cfg, s.users, s.arbiter, s.reg, conn)
		wg.Go(func() {
			sess.run(ctx)
		})
	}
}

// fleetSpecs converts the configured fleet to the rules-level form.
func fleetSpecs(fleet []config.FleetShip) []model.ShipSpec {
	specs := make([]model.ShipSpec, 0, len(fleet))
	for _, s := range fleet {
		specs = append(specs, model.ShipSpec{Name: s.Name, Size: s.Size})
	}
	return specs
}

// registry tracks connected players by name, one live session per name.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*Session)}
}

// register claims the name. Fails when another session already holds it.
func (r *registry) register(name string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.sessions[name]; taken {
		return false
	}
	r.sessions[name] = s
	return true
}

// unregister releases the name, but only for the session that owns it.
func (r *registry) unregister(name string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[name] == s {
		delete(r.sessions, name)
	}
}

// closeAll drops every registered session's connection, unblocking their
// read loops during shutdown.
func (r *registry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		s.Close()
	}
}
