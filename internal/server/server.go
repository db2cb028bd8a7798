// Package server runs the arena: a TCP listener for framed connections,
// the lobby dispatcher and its timers, and the optional HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/bubble-arena/internal/config"
	"github.com/DoyleJ11/bubble-arena/internal/httpapi"
	"github.com/DoyleJ11/bubble-arena/internal/hub"
	"github.com/DoyleJ11/bubble-arena/internal/lobby"
	"github.com/DoyleJ11/bubble-arena/internal/session"
	"github.com/DoyleJ11/bubble-arena/pkg/protocol"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	hub    *hub.Hub
	lobby  *lobby.Lobby

	ln     net.Listener
	httpLn net.Listener
	http   *http.Server

	mu     sync.Mutex
	closed bool
}

func New(cfg *config.Config, logger *zap.Logger, opts ...lobby.Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := hub.NewHub(logger.Named("hub"))
	s := &Server{
		cfg:    cfg,
		logger: logger,
		hub:    h,
		lobby:  lobby.NewLobby(context.Background(), cfg.Game.Lobby(), h, logger.Named("lobby"), opts...),
	}
	if cfg.HTTPListen != "" {
		s.http = &http.Server{
			Handler: httpapi.SetupRoutes(httpapi.Deps{
				State:    s.lobby,
				Attacher: s,
				Logger:   logger.Named("ws"),
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return s
}

// Listen binds the configured addresses. Serve calls it when needed; tests
// call it first to learn the ports.
func (s *Server) Listen() error {
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	if s.http != nil {
		httpLn, err := net.Listen("tcp", s.cfg.HTTPListen)
		if err != nil {
			return multierr.Append(fmt.Errorf("listen %s: %w", s.cfg.HTTPListen, err), ln.Close())
		}
		s.httpLn = httpLn
	}
	s.ln = ln
	return nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// HTTPAddr is nil when the HTTP surface is disabled.
func (s *Server) HTTPAddr() net.Addr {
	if s.httpLn == nil {
		return nil
	}
	return s.httpLn.Addr()
}

func (s *Server) Lobby() *lobby.Lobby { return s.lobby }

// Serve blocks until ctx is cancelled or a component fails, then shuts
// everything down.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.acceptLoop(gctx) })
	g.Go(func() error { return s.lobby.RunTimers(gctx) })
	if s.http != nil {
		g.Go(func() error {
			s.logger.Info("http listening", zap.Stringer("addr", s.httpLn.Addr()))
			if err := s.http.Serve(s.httpLn); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})
	return g.Wait()
}

func (s *Server) acceptLoop(ctx context.Context) error {
	s.logger.Info("server listening", zap.Stringer("addr", s.ln.Addr()))
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept failed", zap.Error(err))
			continue
		}
		s.Attach(conn, conn.RemoteAddr().String())
	}
}

// Attach starts a session on conn and registers it with the arena.
func (s *Server) Attach(conn net.Conn, remoteAddr string) *session.Session {
	sess := session.New(conn, remoteAddr, session.Options{
		Handler:      s.onMessage,
		OnClose:      s.onClose,
		Logger:       s.logger,
		WriteTimeout: s.cfg.WriteTimeout,
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = sess.Close()
		return sess
	}
	s.hub.Add(sess)
	s.mu.Unlock()

	sess.Start()
	return sess
}

// onMessage runs on the session's read goroutine. Posting blocks while the
// inbox is full, which throttles that one reader.
func (s *Server) onMessage(sess *session.Session, msg protocol.Message) {
	if !s.lobby.Post(lobby.FromSession{Conn: sess, Message: msg}) {
		_ = sess.Close()
	}
}

func (s *Server) onClose(sess *session.Session) {
	s.hub.Remove(sess.ID())
	s.lobby.PostAsync(lobby.Leave{Conn: sess})
}

func (s *Server) shutdown() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.logger.Info("shutting down", zap.Int("sessions", s.hub.Len()))

	err := s.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	if cerr := s.hub.CloseAll(); cerr != nil {
		// Peers that already hung up fail their half-close.
		s.logger.Debug("closing sessions", zap.Error(cerr))
	}
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err = multierr.Append(err, s.http.Shutdown(ctx))
		cancel()
	}

	s.lobby.Post(lobby.Shutdown{})
	<-s.lobby.Done()
	return err
}
