package peer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"

	"github.com/Ning0612/peersync/internal/logger"
	"github.com/Ning0612/peersync/internal/metrics"
)

// ErrServerClosed is returned by Serve after Shutdown or Close
var ErrServerClosed = errors.New("peer: server closed")

// Source opens files for serving
type Source interface {
	Open(ctx context.Context, name string) (io.ReadCloser, int64, error)
}

// ServerOptions configures a Server
type ServerOptions struct {
	Framing        Framing
	Timeout        time.Duration // per-connection deadline
	MaxConnections int           // 0 means unlimited
}

// Server answers file requests from other nodes
type Server struct {
	source Source
	opts   ServerOptions
	log    logger.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	closing  atomic.Bool
}

// NewServer creates a server reading files from source
func NewServer(source Source, opts ServerOptions) *Server {
	if opts.Timeout <= 0 {
		opts.Timeout = 180 * time.Second
	}
	return &Server{
		source: source,
		opts:   opts,
		log:    logger.With("component", "peer-server"),
		conns:  make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections on l until Shutdown or Close.
// Each connection is handled in its own goroutine.
func (s *Server) Serve(l net.Listener) error {
	if s.opts.MaxConnections > 0 {
		l = netutil.LimitListener(l, s.opts.MaxConnections)
	}

	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	s.log.Info("serving files", "addr", l.Addr().String(), "framing", s.opts.Framing.String(),
		"max_connections", s.opts.MaxConnections)

	var tempDelay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.closing.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				s.log.Warn("accept error, retrying", "error", err, "delay", tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		if !s.track(conn) {
			conn.Close()
			return ErrServerClosed
		}
		go s.handle(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) handle(conn net.Conn) {
	metrics.ConnectionOpened()
	defer metrics.ConnectionClosed()
	defer s.untrack(conn)
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	conn.SetDeadline(time.Now().Add(s.opts.Timeout))

	var name string
	var err error
	if s.opts.Framing == FramingRaw {
		name, err = readRawRequest(conn, s.opts.Timeout)
	} else {
		name, err = readRequest(bufio.NewReaderSize(conn, 512))
	}
	if err != nil {
		s.log.Warn("bad request", "peer", remote, "error", err)
		s.reject(conn, err)
		metrics.RecordServe(0, false)
		return
	}

	n, err := s.serveFile(conn, name)
	metrics.RecordServe(n, err == nil)
	if err != nil {
		s.log.Warn("serve failed", "peer", remote, "file", name, "error", err)
		return
	}
	s.log.Debug("served file", "peer", remote, "file", name, "bytes", n)
}

func (s *Server) serveFile(conn net.Conn, name string) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
	defer cancel()

	rc, size, err := s.source.Open(ctx, name)
	if err != nil {
		s.reject(conn, err)
		return 0, err
	}
	defer rc.Close()

	if s.opts.Framing == FramingRaw {
		return io.Copy(conn, rc)
	}

	if err := writeHeader(conn, StatusOK, uint64(size)); err != nil {
		return 0, err
	}
	n, err := io.CopyN(conn, rc, size)
	if err != nil {
		return n, fmt.Errorf("short copy (%d of %d bytes): %w", n, size, err)
	}
	return n, nil
}

// reject reports err to the client. Raw mode has no error channel, the
// connection is just closed.
func (s *Server) reject(conn net.Conn, err error) {
	if s.opts.Framing == FramingRaw {
		return
	}
	if werr := writeError(conn, err.Error()); werr != nil {
		s.log.Debug("failed to send error frame", "error", werr)
	}
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

// Shutdown stops accepting and waits for in-flight connections.
// When ctx expires first the remaining connections are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopAccepting()

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

// Close stops accepting and closes every active connection immediately
func (s *Server) Close() error {
	s.stopAccepting()
	s.closeConns()
	s.wg.Wait()
	return nil
}

func (s *Server) stopAccepting() {
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

// IsClosed reports whether err means the server stopped normally
func IsClosed(err error) bool {
	return errors.Is(err, ErrServerClosed) || errors.Is(err, net.ErrClosed)
}
