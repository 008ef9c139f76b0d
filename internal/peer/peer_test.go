package peer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/peersync/internal/adapter/local"
	"github.com/Ning0612/peersync/internal/domain"
	"github.com/Ning0612/peersync/internal/testutil"
)

func startServer(t *testing.T, source Source, opts ServerOptions) (*Server, int) {
	t.Helper()

	l, port, err := ListenFrom("127.0.0.1", 20000)
	require.NoError(t, err)

	srv := NewServer(source, opts)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(l) }()

	t.Cleanup(func() {
		srv.Close()
		select {
		case err := <-done:
			assert.True(t, IsClosed(err), "serve returned %v", err)
		case <-time.After(5 * time.Second):
			t.Error("serve did not return after Close")
		}
	})
	return srv, port
}

func newRoot(t *testing.T) (string, *local.Adapter) {
	t.Helper()
	dir := t.TempDir()
	a, err := local.New(dir)
	require.NoError(t, err)
	return dir, a
}

func TestRoundTrip_Framed(t *testing.T) {
	dir, src := newRoot(t)
	content := testutil.RandomBytes(200_000)
	testutil.CreateTestFile(t, dir, "data.bin", content)
	testutil.CreateTestFile(t, dir, "empty.txt", nil)

	_, port := startServer(t, src, ServerOptions{MaxConnections: 4})
	client := NewClient(ClientOptions{Timeout: 5 * time.Second, MaxFileSize: 1 << 20})

	got, err := client.Fetch(context.Background(), "data.bin", "127.0.0.1", port)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got), "content mismatch")

	got, err = client.Fetch(context.Background(), "empty.txt", "127.0.0.1", port)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRoundTrip_Raw(t *testing.T) {
	dir, src := newRoot(t)
	testutil.CreateTestFile(t, dir, "a.txt", []byte("hello raw"))

	_, port := startServer(t, src, ServerOptions{Framing: FramingRaw})
	client := NewClient(ClientOptions{Framing: FramingRaw, Timeout: 5 * time.Second})

	got, err := client.Fetch(context.Background(), "a.txt", "127.0.0.1", port)
	require.NoError(t, err)
	assert.Equal(t, "hello raw", string(got))

	_, err = client.Fetch(context.Background(), "missing.txt", "127.0.0.1", port)
	assert.ErrorIs(t, err, domain.ErrPeerRefused)
}

func TestRawServer_BareNameRequest(t *testing.T) {
	dir, src := newRoot(t)
	testutil.CreateTestFile(t, dir, "a.txt", []byte("hello raw"))

	_, port := startServer(t, src, ServerOptions{Framing: FramingRaw, Timeout: 5 * time.Second})

	// The name is the whole request: no newline, write side left open
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()

	_, err = io.WriteString(conn, "a.txt")
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	got, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "hello raw", string(got))
}

func TestRawServer_LongNameClosesWithoutData(t *testing.T) {
	_, src := newRoot(t)
	_, port := startServer(t, src, ServerOptions{Framing: FramingRaw, Timeout: 5 * time.Second})

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()

	_, err = io.WriteString(conn, strings.Repeat("n", 300))
	require.NoError(t, err)

	// Unread request bytes may turn the close into a reset
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	got, err := io.ReadAll(conn)
	if ne, ok := err.(net.Error); ok {
		assert.False(t, ne.Timeout(), "server kept the connection open")
	}
	assert.Empty(t, got)
}

func TestRawClient_SendsBareName(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	// Answers the first read as the file name, like nodes that predate framing
	requested := make(chan string, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 512)
		n, _ := conn.Read(buf)
		requested <- string(buf[:n])
		io.WriteString(conn, "legacy content")
	}()

	client := NewClient(ClientOptions{Framing: FramingRaw, Timeout: 5 * time.Second})
	got, err := client.Fetch(context.Background(), "a.txt", "127.0.0.1", l.Addr().(*net.TCPAddr).Port)
	require.NoError(t, err)
	assert.Equal(t, "legacy content", string(got))
	assert.Equal(t, "a.txt", <-requested)
}

func TestNonexistentThenValid(t *testing.T) {
	dir, src := newRoot(t)
	testutil.CreateTestFile(t, dir, "real.txt", []byte("real"))

	_, port := startServer(t, src, ServerOptions{})
	client := NewClient(ClientOptions{Timeout: 5 * time.Second})

	_, err := client.Fetch(context.Background(), "ghost.txt", "127.0.0.1", port)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPeerRefused)
	assert.Contains(t, err.Error(), "not found")

	got, err := client.Fetch(context.Background(), "real.txt", "127.0.0.1", port)
	require.NoError(t, err)
	assert.Equal(t, "real", string(got))
}

func TestConcurrentRequests(t *testing.T) {
	dir, src := newRoot(t)
	const files = 16
	want := make(map[string][]byte)
	for i := 0; i < files; i++ {
		name := fmt.Sprintf("file%02d.dat", i)
		want[name] = testutil.RandomBytes(10_000 + i*1000)
		testutil.CreateTestFile(t, dir, name, want[name])
	}

	_, port := startServer(t, src, ServerOptions{MaxConnections: 4})
	client := NewClient(ClientOptions{Timeout: 10 * time.Second})

	var wg sync.WaitGroup
	errs := make(chan error, files)
	for name, content := range want {
		wg.Add(1)
		go func(name string, content []byte) {
			defer wg.Done()
			got, err := client.Fetch(context.Background(), name, "127.0.0.1", port)
			if err != nil {
				errs <- fmt.Errorf("%s: %w", name, err)
				return
			}
			if !bytes.Equal(got, content) {
				errs <- fmt.Errorf("%s: content mismatch", name)
			}
		}(name, content)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestFetch_TooLarge(t *testing.T) {
	dir, src := newRoot(t)
	testutil.CreateTestFile(t, dir, "big.bin", testutil.RandomBytes(4096))

	_, port := startServer(t, src, ServerOptions{})
	client := NewClient(ClientOptions{Timeout: 5 * time.Second, MaxFileSize: 1024})

	var buf bytes.Buffer
	n, err := client.FetchTo(context.Background(), "big.bin", "127.0.0.1", port, &buf)
	assert.ErrorIs(t, err, domain.ErrTooLarge)
	assert.Zero(t, n)
	assert.Zero(t, buf.Len())
}

func TestFetch_InvalidName(t *testing.T) {
	client := NewClient(ClientOptions{})
	for _, name := range []string{"", "../etc/passwd", "a/b", ".hidden", strings.Repeat("x", 300)} {
		_, err := client.Fetch(context.Background(), name, "127.0.0.1", 1)
		assert.ErrorIs(t, err, domain.ErrInvalidName, "name %q", name)
	}
}

func TestFetch_ConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	client := NewClient(ClientOptions{Timeout: 2 * time.Second})
	_, err = client.Fetch(context.Background(), "a.txt", "127.0.0.1", port)
	assert.ErrorIs(t, err, domain.ErrNetworkError)
}

func TestFetch_Timeout(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(io.Discard, conn)
		time.Sleep(2 * time.Second)
	}()

	client := NewClient(ClientOptions{Timeout: 200 * time.Millisecond})
	_, err = client.Fetch(context.Background(), "slow.txt", "127.0.0.1", l.Addr().(*net.TCPAddr).Port)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestServer_RejectsLongName(t *testing.T) {
	_, src := newRoot(t)
	_, port := startServer(t, src, ServerOptions{})

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()

	_, err = io.WriteString(conn, strings.Repeat("n", 300)+"\n")
	require.NoError(t, err)

	status, length, err := readHeader(conn)
	require.NoError(t, err)
	assert.Equal(t, StatusError, status)
	msg := make([]byte, length)
	_, err = io.ReadFull(conn, msg)
	require.NoError(t, err)
	assert.Contains(t, string(msg), "invalid")
}

type blockingSource struct {
	release chan struct{}
}

func (b *blockingSource) Open(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	<-b.release
	return io.NopCloser(strings.NewReader("done")), 4, nil
}

func TestServer_ShutdownWaitsForInflight(t *testing.T) {
	src := &blockingSource{release: make(chan struct{})}
	srv, port := startServer(t, src, ServerOptions{})
	client := NewClient(ClientOptions{Timeout: 5 * time.Second})

	result := make(chan error, 1)
	go func() {
		got, err := client.Fetch(context.Background(), "slow.txt", "127.0.0.1", port)
		if err == nil && string(got) != "done" {
			err = errors.New("unexpected content")
		}
		result <- err
	}()

	// wait until the request is in flight
	testutil.AssertEventually(t, 2*time.Second, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.conns) == 1
	})

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- srv.Shutdown(context.Background()) }()

	select {
	case <-shutdownDone:
		t.Fatal("shutdown returned while a request was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(src.release)
	require.NoError(t, <-result)
	require.NoError(t, <-shutdownDone)
}

func TestServer_ShutdownDeadline(t *testing.T) {
	src := &blockingSource{release: make(chan struct{})}
	defer close(src.release)
	srv, port := startServer(t, src, ServerOptions{})

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()
	_, err = io.WriteString(conn, "stuck.txt\n")
	require.NoError(t, err)

	testutil.AssertEventually(t, 2*time.Second, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.conns) == 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Shutdown(ctx) }()

	// the blocked Open only returns after release; unblock it once the
	// deadline has passed so Shutdown can finish waiting
	time.Sleep(100 * time.Millisecond)
	src.release <- struct{}{}

	assert.ErrorIs(t, <-errCh, context.DeadlineExceeded)
}

func TestListenFrom_SkipsBusyPort(t *testing.T) {
	first, port1, err := ListenFrom("127.0.0.1", 21000)
	require.NoError(t, err)
	defer first.Close()

	second, port2, err := ListenFrom("127.0.0.1", port1)
	require.NoError(t, err)
	defer second.Close()

	assert.Greater(t, port2, port1)
}

func TestListenFrom_BadBase(t *testing.T) {
	_, _, err := ListenFrom("127.0.0.1", 0)
	assert.ErrorIs(t, err, domain.ErrNoFreePort)
}

func TestParseFraming(t *testing.T) {
	f, err := ParseFraming("RAW")
	require.NoError(t, err)
	assert.Equal(t, FramingRaw, f)

	f, err = ParseFraming("")
	require.NoError(t, err)
	assert.Equal(t, FramingFramed, f)

	_, err = ParseFraming("chunked")
	assert.Error(t, err)
}

func TestReadRequest(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"a.txt\n", "a.txt", false},
		{"a.txt", "a.txt", false},
		{"a.txt\r\n", "a.txt", false},
		{"\n", "", true},
		{"", "", true},
		{strings.Repeat("x", 255) + "\n", strings.Repeat("x", 255), false},
		{strings.Repeat("x", 256) + "\n", "", true},
	}
	for _, tt := range tests {
		got, err := readRequest(bufioReader(tt.in))
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func bufioReader(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}
