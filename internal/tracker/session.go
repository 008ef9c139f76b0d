package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/Ning0612/peersync/internal/domain"
	"github.com/Ning0612/peersync/internal/logger"
	"github.com/Ning0612/peersync/internal/metrics"
	"github.com/Ning0612/peersync/internal/retry"
)

// SessionOptions configures a Session
type SessionOptions struct {
	Addr    string
	Timeout time.Duration // per exchange
	Retry   retry.Policy

	// ReregisterEveryCycle makes Exchange always send a registration
	ReregisterEveryCycle bool
}

// Session is a persistent connection to the tracker.
// It dials lazily and redials after any failure; a fresh connection
// always starts with a registration.
type Session struct {
	opts   SessionOptions
	dialer net.Dialer
	log    logger.Logger

	mu         sync.Mutex
	conn       net.Conn
	dec        *json.Decoder
	registered bool                // a registration succeeded on conn
	files      []domain.FileRecord // last file list sent
}

// NewSession creates a session; no connection is made until the first call
func NewSession(opts SessionOptions) *Session {
	if opts.Timeout <= 0 {
		opts.Timeout = 180 * time.Second
	}
	if opts.Retry.MaxAttempts < 0 {
		opts.Retry.MaxAttempts = 1
	}
	return &Session{
		opts:   opts,
		dialer: net.Dialer{Timeout: opts.Timeout},
		log:    logger.With("component", "tracker-session", "tracker", opts.Addr),
	}
}

// Register sends the full file list and returns the tracker's manifest
func (s *Session) Register(ctx context.Context, port int, files domain.LocalManifest) (domain.RemoteManifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.files = recordsOf(files)
	m, _, err := s.exchange(ctx, port, true)
	return m, err
}

// Heartbeat announces liveness and returns the tracker's manifest.
// On a fresh connection the last registered file list is sent instead.
func (s *Session) Heartbeat(ctx context.Context, port int) (domain.RemoteManifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, _, err := s.exchange(ctx, port, false)
	return m, err
}

// Exchange registers when needed and heartbeats otherwise, reporting which
// message kind was sent
func (s *Session) Exchange(ctx context.Context, port int, files domain.LocalManifest) (domain.RemoteManifest, domain.CycleKind, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.files = recordsOf(files)
	return s.exchange(ctx, port, s.opts.ReregisterEveryCycle)
}

// Registered reports whether the current connection carries a registration
func (s *Session) Registered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered && s.conn != nil
}

// Close drops the connection
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropLocked()
}

func (s *Session) exchange(ctx context.Context, port int, forceRegister bool) (domain.RemoteManifest, domain.CycleKind, error) {
	var kind domain.CycleKind

	manifest, err := retry.DoWithResult(ctx, s.opts.Retry, func(attempt int) (domain.RemoteManifest, error) {
		if attempt > 1 {
			s.log.Info("retrying tracker exchange", "attempt", attempt)
		}
		if err := s.ensureConn(ctx); err != nil {
			return nil, err
		}

		kind = domain.CycleHeartbeat
		var msg any = domain.NodeHeartbeat{Port: port}
		if forceRegister || !s.registered {
			kind = domain.CycleRegister
			files := s.files
			if files == nil {
				files = []domain.FileRecord{}
			}
			msg = domain.NodeRegistration{Port: port, Files: files}
		}

		m, err := s.roundTrip(ctx, msg, string(kind))
		if err != nil {
			s.dropLocked()
			return nil, err
		}
		if kind == domain.CycleRegister {
			s.registered = true
		}
		return m, nil
	})
	if err != nil {
		return nil, kind, err
	}
	return manifest, kind, nil
}

func (s *Session) ensureConn(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}

	conn, err := s.dialer.DialContext(ctx, "tcp", s.opts.Addr)
	metrics.RecordTrackerDial(err == nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return retry.Retryable(fmt.Errorf("%w: dial %s: %v", domain.ErrTrackerUnavailable, s.opts.Addr, err))
	}

	s.log.Debug("connected to tracker", "local", conn.LocalAddr().String())
	s.conn = conn
	s.dec = json.NewDecoder(conn)
	s.registered = false
	return nil
}

func (s *Session) roundTrip(ctx context.Context, msg any, label string) (domain.RemoteManifest, error) {
	started := time.Now()

	deadline := started.Add(s.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.conn.SetDeadline(deadline)
	conn := s.conn
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := json.NewEncoder(s.conn).Encode(msg); err != nil {
		return nil, s.ioError(ctx, "send "+label, err)
	}

	var raw map[string]wireEntry
	if err := s.dec.Decode(&raw); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedManifest, err)
		}
		return nil, s.ioError(ctx, "read manifest", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: null manifest", domain.ErrMalformedManifest)
	}

	manifest, err := decodeManifest(raw)
	if err != nil {
		return nil, err
	}

	metrics.RecordTrackerRoundTrip(label, time.Since(started), len(manifest))
	s.log.Debug("tracker exchange complete", "message", label, "entries", len(manifest),
		"duration", time.Since(started))
	return manifest, nil
}

// ioError classifies a connection failure; anything but cancellation is
// retried on a new connection
func (s *Session) ioError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s: %v", domain.ErrTimeout, op, err)
		}
		return ctxErr
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return retry.Retryable(fmt.Errorf("%w: %s: %v", domain.ErrTimeout, op, err))
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return retry.Retryable(fmt.Errorf("%w: %s: connection closed by tracker", domain.ErrTrackerUnavailable, op))
	}
	return retry.Retryable(fmt.Errorf("%w: %s: %v", domain.ErrTrackerUnavailable, op, err))
}

func (s *Session) dropLocked() error {
	s.registered = false
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.dec = nil
	return err
}

func recordsOf(files domain.LocalManifest) []domain.FileRecord {
	out := make([]domain.FileRecord, len(files))
	copy(out, files)
	return out
}
