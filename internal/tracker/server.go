package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Ning0612/peersync/internal/logger"
)

// ErrServerClosed is returned by Serve after Shutdown or Close
var ErrServerClosed = errors.New("tracker: server closed")

var errUnknownNode = errors.New("unknown node")

// ServerOptions configures a tracker Server
type ServerOptions struct {
	// IdleTimeout closes a session that sends nothing for this long
	IdleTimeout time.Duration
}

// Server accepts node sessions and answers every message with the manifest
type Server struct {
	dir  *Directory
	opts ServerOptions
	log  logger.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	closing  atomic.Bool
}

// NewServer creates a tracker server backed by dir
func NewServer(dir *Directory, opts ServerOptions) *Server {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 5 * time.Minute
	}
	return &Server{
		dir:   dir,
		opts:  opts,
		log:   logger.With("component", "tracker"),
		conns: make(map[net.Conn]struct{}),
	}
}

// Serve accepts sessions on l until Shutdown or Close
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	s.log.Info("tracker listening", "addr", l.Addr().String())

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.closing.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return err
		}

		s.mu.Lock()
		if s.closing.Load() {
			s.mu.Unlock()
			conn.Close()
			return ErrServerClosed
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.wg.Done()
	}()

	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		s.log.Warn("cannot parse remote address", "addr", conn.RemoteAddr().String(), "error", err)
		return
	}
	log := s.log.With("remote", conn.RemoteAddr().String())

	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))

		var msg wireMessage
		if err := dec.Decode(&msg); err != nil {
			if !s.closing.Load() {
				log.Debug("session ended", "error", err)
			}
			return
		}
		if err := s.apply(host, msg); err != nil {
			if errors.Is(err, errUnknownNode) {
				log.Info("closing session of unknown node", "error", err)
			} else {
				log.Warn("rejecting message", "error", err)
			}
			return
		}

		conn.SetWriteDeadline(time.Now().Add(s.opts.IdleTimeout))
		if err := enc.Encode(encodeManifest(s.dir.Manifest())); err != nil {
			log.Debug("failed to send manifest", "error", err)
			return
		}
	}
}

func (s *Server) apply(host string, msg wireMessage) error {
	if msg.Port == nil {
		return fmt.Errorf("message without port")
	}
	port := *msg.Port
	if port < 0 || port > 65535 {
		return fmt.Errorf("port %d out of range", port)
	}

	if msg.Files != nil {
		s.dir.Register(host, port, msg.Files)
		s.log.Info("node registered", "host", host, "port", port, "files", len(msg.Files))
		return nil
	}
	// An unknown node (never registered, or pruned while silent) loses its
	// connection; its session redials and registers again.
	if !s.dir.Heartbeat(host, port) {
		return fmt.Errorf("%w: heartbeat from unregistered node %s", errUnknownNode, net.JoinHostPort(host, strconv.Itoa(port)))
	}
	return nil
}

// Addr returns the listening address, or nil before Serve
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting, then closes sessions once ctx expires or
// they end on their own
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.closeConns()
		<-done
		return ctx.Err()
	}
}

// Close stops the server and drops every session
func (s *Server) Close() error {
	s.stop()
	s.closeConns()
	s.wg.Wait()
	return nil
}

func (s *Server) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Swap(true) {
		return
	}
	if s.listener != nil {
		s.listener.Close()
	}
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}
