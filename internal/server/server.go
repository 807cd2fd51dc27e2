// Package server runs the listeners and hands every accepted connection to
// the chat core. The same protocol is served over raw TCP and, optionally,
// over WebSocket on a second port.
package server

import (
	"fmt"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/chat-relay/internal/chat"
	tcptransport "github.com/omochice/chat-relay/internal/transport/tcp"
	wstransport "github.com/omochice/chat-relay/internal/transport/ws"
)

// Server accepts chat connections and runs one state machine per connection.
type Server struct {
	tcpAddr string
	wsAddr  string
	cfg     chat.Config
	log     zerolog.Logger
	hub     *chat.Hub

	mu          sync.Mutex
	tcpListener net.Listener
	wsListener  net.Listener

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Server listening for raw TCP on tcpAddr. If wsAddr is
// non-empty, WebSocket connections are additionally accepted there.
func New(tcpAddr, wsAddr string, cfg chat.Config, log zerolog.Logger) *Server {
	return &Server{
		tcpAddr: tcpAddr,
		wsAddr:  wsAddr,
		cfg:     cfg,
		log:     log.With().Str("component", "server").Logger(),
		hub:     chat.NewHub(log),
		quit:    make(chan struct{}),
	}
}

// Start binds the listeners and blocks accepting connections until Stop is
// called or a listener fails.
func (s *Server) Start() error {
	if err := s.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	tcpListener, err := net.Listen("tcp", s.tcpAddr)
	if err != nil {
		return fmt.Errorf("failed to start TCP listener: %w", err)
	}
	s.mu.Lock()
	s.tcpListener = tcpListener
	s.mu.Unlock()
	s.log.Info().Str("addr", tcpListener.Addr().String()).Msg("TCP listener started")

	var g errgroup.Group
	g.Go(func() error {
		return s.acceptLoop(tcpListener, s.handleTCP)
	})

	if s.wsAddr != "" {
		wsListener, err := net.Listen("tcp", s.wsAddr)
		if err != nil {
			tcpListener.Close()
			return fmt.Errorf("failed to start WebSocket listener: %w", err)
		}
		s.mu.Lock()
		s.wsListener = wsListener
		s.mu.Unlock()
		s.log.Info().Str("addr", wsListener.Addr().String()).Msg("WebSocket listener started")
		g.Go(func() error {
			return s.acceptLoop(wsListener, s.handleWS)
		})
	}

	return g.Wait()
}

// Stop closes the listeners, notifies and closes every live connection, and
// waits for all per-connection tasks to finish. Safe to call more than once;
// later calls wait for the first to finish tearing down.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		s.mu.Lock()
		tcpListener, wsListener := s.tcpListener, s.wsListener
		s.mu.Unlock()
		if tcpListener != nil {
			tcpListener.Close()
		}
		if wsListener != nil {
			wsListener.Close()
		}
		s.hub.CloseAll()
		s.log.Info().Msg("server stopped")
	})
	s.wg.Wait()
}

// Addr returns the TCP listening address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tcpListener != nil {
		return s.tcpListener.Addr().String()
	}
	return ""
}

// WSAddr returns the WebSocket listening address.
func (s *Server) WSAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wsListener != nil {
		return s.wsListener.Addr().String()
	}
	return ""
}

// ConnCount returns the number of live connections.
func (s *Server) ConnCount() int {
	return s.hub.ConnCount()
}

// UserCount returns the number of logged-in users.
func (s *Server) UserCount() int {
	return s.hub.UserCount()
}

func (s *Server) acceptLoop(listener net.Listener, handle func(net.Conn)) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
				s.log.Warn().Err(err).Msg("failed to accept connection")
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			handle(conn)
		}()
	}
}

func (s *Server) handleTCP(conn net.Conn) {
	s.runClient(tcptransport.NewConn(conn))
}

func (s *Server) handleWS(conn net.Conn) {
	if _, err := ws.Upgrade(conn); err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		conn.Close()
		return
	}
	s.runClient(wstransport.NewConn(conn))
}

func (s *Server) runClient(conn chat.Conn) {
	s.log.Info().Str("remote", conn.RemoteAddr()).Msg("connection accepted")
	client := chat.NewClient(conn, s.hub, s.cfg, s.log)
	s.hub.Register(client)
	client.Run()
}
