// Package authserver is the datagram endpoint clients hit before opening a
// gameplay connection. Credentials travel as pipe-separated tokens:
//
//	AUTH_LOGIN|name|password
//	AUTH_REGISTER|name|password
//
// and every request gets exactly one reply datagram:
//
//	AUTH_SUCCESS|message|tcp-host|tcp-port|saved-flag
//	AUTH_FAILED|message
//
// Transport security is out of scope by design: the protocol is plaintext.
package authserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/udisondev/seabattle/internal/config"
	"github.com/udisondev/seabattle/internal/protocol"
	"github.com/udisondev/seabattle/internal/store"
)

const (
	maxDatagramSize = 1024
	readPollTimeout = time.Second
)

// Server answers auth datagrams, backed by the user store.
type Server struct {
	cfg   config.Server
	users store.Store

	conn net.PacketConn
	mu   sync.Mutex
}

// NewServer creates an auth server bound to nothing yet.
func NewServer(cfg config.Server, users store.Store) *Server {
	return &Server{cfg: cfg, users: users}
}

// Addr returns the bound datagram address, nil before Run.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Close closes the datagram socket and stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Run binds the auth port and serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.AuthPort)
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("binding auth socket %s: %w", addr, err)
	}
	return s.Serve(ctx, conn)
}

// Serve answers datagrams on an already-bound socket until ctx is canceled
// or the socket closes. Each request is handled by a short-lived goroutine.
func (s *Server) Serve(ctx context.Context, conn net.PacketConn) error {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	slog.Info("auth server started", "address", conn.LocalAddr())

	var wg sync.WaitGroup
	defer wg.Wait()

	buf := make([]byte, maxDatagramSize)
	for {
		// Deadline-poll so a canceled ctx is observed even on a quiet socket.
		if err := conn.SetReadDeadline(time.Now().Add(readPollTimeout)); err != nil {
			slog.Warn("setting auth read deadline", "err", err)
		}

		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				select {
				case <-ctx.Done():
					return nil
				default:
					continue
				}
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("auth receive failed", "err", err)
			continue
		}

		request := string(buf[:n])
		wg.Go(func() {
			s.handleRequest(ctx, conn, addr, request)
		})
	}
}

// handleRequest parses one datagram and sends back exactly one reply.
func (s *Server) handleRequest(ctx context.Context, conn net.PacketConn, addr net.Addr, request string) {
	reply := s.buildReply(ctx, addr, request)
	if _, err := conn.WriteTo([]byte(reply), addr); err != nil {
		slog.Error("auth reply failed", "remote", addr, "err", err)
	}
}

func (s *Server) buildReply(ctx context.Context, addr net.Addr, request string) string {
	parts := strings.Split(strings.TrimSpace(request), protocol.AuthSeparator)
	if len(parts) < 3 {
		return failReply("Format de requête invalide.")
	}

	msgType, name, password := parts[0], parts[1], parts[2]
	if name == "" {
		return failReply("Nom d'utilisateur vide.")
	}

	switch msgType {
	case protocol.AuthLogin:
		slog.Info("auth attempt", "login", name, "remote", addr)
		ok, err := s.users.Verify(ctx, name, password)
		if err != nil {
			slog.Error("verifying credentials", "login", name, "err", err)
			return failReply("Erreur interne du serveur.")
		}
		if !ok {
			slog.Warn("auth refused", "login", name, "remote", addr)
			return failReply("Nom d'utilisateur ou mot de passe incorrect.")
		}
		return s.successReply(ctx, name, "Authentification réussie")

	case protocol.AuthRegister:
		slog.Info("register attempt", "login", name, "remote", addr)
		err := s.users.Register(ctx, name, password)
		switch {
		case errors.Is(err, store.ErrUserExists):
			return failReply("Nom déjà pris.")
		case errors.Is(err, store.ErrPasswordTooShort):
			return failReply("Mot de passe trop court.")
		case err != nil:
			slog.Error("registering user", "login", name, "err", err)
			return failReply("Erreur interne du serveur.")
		}
		return s.successReply(ctx, name, "Inscription réussie. Vous pouvez vous connecter.")

	default:
		return failReply("Type de message inconnu.")
	}
}

// successReply appends the TCP rendezvous info and the saved-game flag.
func (s *Server) successReply(ctx context.Context, name, text string) string {
	flag := protocol.NoSavedGame
	has, err := s.users.HasSavedGame(ctx, name)
	if err != nil {
		slog.Error("checking saved game", "login", name, "err", err)
	} else if has {
		flag = protocol.SavedGameExists
	}

	slog.Info("auth success", "login", name, "saved_game", has)
	return strings.Join([]string{
		protocol.AuthSuccess,
		text,
		s.cfg.AdvertiseHost,
		strconv.Itoa(s.cfg.GamePort),
		flag,
	}, protocol.AuthSeparator)
}

func failReply(text string) string {
	return protocol.AuthFailed + protocol.AuthSeparator + text
}
