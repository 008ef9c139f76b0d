// Package peer implements the node-to-node file transfer channel.
//
// In framed mode a request is a file name terminated by '\n' or by the
// client half-closing its write side, and the response is a 9-byte header
// (status byte, big-endian uint64 length) followed by the payload.
// In raw mode the request is the bare name in a single write and the
// response is the file bytes delimited by connection close.
package peer

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/Ning0612/peersync/internal/domain"
)

// Framing selects the response encoding
type Framing int

const (
	FramingFramed Framing = iota
	FramingRaw
)

// String returns the config spelling of the framing
func (f Framing) String() string {
	if f == FramingRaw {
		return "raw"
	}
	return "framed"
}

// ParseFraming parses "framed" or "raw" (case-insensitive)
func ParseFraming(s string) (Framing, error) {
	switch strings.ToLower(s) {
	case "", "framed":
		return FramingFramed, nil
	case "raw":
		return FramingRaw, nil
	default:
		return FramingFramed, fmt.Errorf("unknown framing %q", s)
	}
}

// Response status bytes
const (
	StatusOK    byte = 0
	StatusError byte = 1
)

const (
	headerSize = 9

	// maxErrorMessage bounds the error payload a client will read
	maxErrorMessage = 4096
)

func writeHeader(w io.Writer, status byte, length uint64) error {
	var hdr [headerSize]byte
	hdr[0] = status
	binary.BigEndian.PutUint64(hdr[1:], length)
	_, err := w.Write(hdr[:])
	return err
}

func readHeader(r io.Reader) (byte, uint64, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, 0, err
	}
	status := hdr[0]
	if status != StatusOK && status != StatusError {
		return 0, 0, fmt.Errorf("%w: bad status byte 0x%02x", domain.ErrNetworkError, status)
	}
	return status, binary.BigEndian.Uint64(hdr[1:]), nil
}

// writeError sends an error frame carrying msg
func writeError(w io.Writer, msg string) error {
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage]
	}
	if err := writeHeader(w, StatusError, uint64(len(msg))); err != nil {
		return err
	}
	_, err := io.WriteString(w, msg)
	return err
}

// readRequest reads a file name terminated by '\n' or EOF
func readRequest(r *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		b, err := r.ReadByte()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if b == '\n' {
			break
		}
		if sb.Len() >= domain.MaxNameLength {
			return "", fmt.Errorf("%w: name longer than %d bytes", domain.ErrInvalidName, domain.MaxNameLength)
		}
		sb.WriteByte(b)
	}

	name := strings.TrimSuffix(sb.String(), "\r")
	if name == "" {
		return "", fmt.Errorf("%w: empty request", domain.ErrInvalidName)
	}
	return name, nil
}

// rawRequestTimeout bounds the wait for a raw-mode name
const rawRequestTimeout = 10 * time.Second

// readRawRequest takes the first read on conn as the file name. Raw peers
// send the name as the whole payload without terminator or half-close.
func readRawRequest(conn net.Conn, timeout time.Duration) (string, error) {
	if timeout <= 0 || timeout > rawRequestTimeout {
		timeout = rawRequestTimeout
	}
	conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	buf := make([]byte, domain.MaxNameLength+1)
	n, err := conn.Read(buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w: empty request", domain.ErrInvalidName)
		}
		return "", err
	}
	if n > domain.MaxNameLength {
		return "", fmt.Errorf("%w: name longer than %d bytes", domain.ErrInvalidName, domain.MaxNameLength)
	}

	name := strings.TrimRight(string(buf[:n]), "\r\n")
	if name == "" {
		return "", fmt.Errorf("%w: empty request", domain.ErrInvalidName)
	}
	return name, nil
}
