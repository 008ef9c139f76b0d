package peer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/Ning0612/peersync/internal/domain"
)

// ClientOptions configures a Client
type ClientOptions struct {
	Framing     Framing
	Timeout     time.Duration // whole-request deadline
	MaxFileSize int64
}

// Client fetches files from other nodes, one connection per request
type Client struct {
	opts   ClientOptions
	dialer net.Dialer
}

// NewClient creates a client
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 180 * time.Second
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 64 << 20
	}
	return &Client{opts: opts, dialer: net.Dialer{Timeout: opts.Timeout}}
}

// Fetch returns the content of name from the peer at host:port
func (c *Client) Fetch(ctx context.Context, name, host string, port int) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := c.FetchTo(ctx, name, host, port, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FetchTo streams the content of name from the peer at host:port into w.
// The returned count is the number of bytes written to w, which may be
// non-zero on error.
func (c *Client) FetchTo(ctx context.Context, name, host string, port int, w io.Writer) (int64, error) {
	if err := domain.ValidateName(name); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, mapNetError(ctx, fmt.Errorf("dial %s: %w", addr, err))
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	request := name + "\n"
	if c.opts.Framing == FramingRaw {
		request = name
	}
	if _, err := io.WriteString(conn, request); err != nil {
		return 0, mapNetError(ctx, fmt.Errorf("send request: %w", err))
	}
	if tc, ok := conn.(interface{ CloseWrite() error }); ok {
		tc.CloseWrite()
	}

	if c.opts.Framing == FramingRaw {
		return c.readRaw(ctx, conn, name, w)
	}
	return c.readFramed(ctx, conn, name, w)
}

func (c *Client) readFramed(ctx context.Context, conn net.Conn, name string, w io.Writer) (int64, error) {
	status, length, err := readHeader(conn)
	if err != nil {
		if errors.Is(err, domain.ErrNetworkError) {
			return 0, err
		}
		return 0, mapNetError(ctx, fmt.Errorf("read response header: %w", err))
	}

	if status == StatusError {
		if length > maxErrorMessage {
			length = maxErrorMessage
		}
		msg, _ := io.ReadAll(io.LimitReader(conn, int64(length)))
		return 0, fmt.Errorf("%w: %s: %s", domain.ErrPeerRefused, name, msg)
	}

	if length > uint64(c.opts.MaxFileSize) {
		return 0, fmt.Errorf("%w: %s is %d bytes, limit %d", domain.ErrTooLarge, name, length, c.opts.MaxFileSize)
	}

	n, err := io.CopyN(w, conn, int64(length))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return n, fmt.Errorf("%w: %s truncated at %d of %d bytes", domain.ErrNetworkError, name, n, length)
		}
		return n, mapNetError(ctx, err)
	}
	return n, nil
}

// readRaw reads until the peer closes. A legacy peer signals errors by
// closing without data, so an empty response is a failure.
func (c *Client) readRaw(ctx context.Context, conn net.Conn, name string, w io.Writer) (int64, error) {
	n, err := io.Copy(w, io.LimitReader(conn, c.opts.MaxFileSize+1))
	if err != nil {
		return n, mapNetError(ctx, err)
	}
	if n > c.opts.MaxFileSize {
		return n, fmt.Errorf("%w: %s exceeds %d bytes", domain.ErrTooLarge, name, c.opts.MaxFileSize)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: %s: empty response", domain.ErrPeerRefused, name)
	}
	return n, nil
}

func mapNetError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	var ne net.Error
	if (errors.As(err, &ne) && ne.Timeout()) || errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrNetworkError, err)
}
