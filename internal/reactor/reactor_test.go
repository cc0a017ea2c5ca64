//go:build linux

package reactor

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xtaci/goreactor/internal/config"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func startServer(t *testing.T, mutate func(*config.Config)) (*Server, int) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hello reactor"), 0o644))

	cfg := config.Default()
	cfg.SrcDir = dir
	cfg.Port = freePort(t)
	cfg.Log.Enabled = false
	cfg.DB.PoolSize = 0
	cfg.TimeoutMS = 150
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := New(cfg)
	require.NoError(t, err)

	go func() { _ = s.Run() }()
	time.Sleep(30 * time.Millisecond) // let the loop register the listen fd
	return s, cfg.Port
}

// TestEchoKeepAlive: two requests on one keep-alive connection both get
// a 200, and the connection survives between them.
func TestEchoKeepAlive(t *testing.T) {
	s, port := startServer(t, nil)
	defer s.Stop()

	conn, err := net.Dial("tcp", localAddr(port))
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 2; i++ {
		_, err := conn.Write([]byte("GET /index.html HTTP/1.1\r\nHost: x\r\nConnection: keep-alive\r\n\r\n"))
		require.NoError(t, err)

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		buf := make([]byte, 4096)
		n, err := conn.Read(buf)
		require.NoError(t, err)
		require.Contains(t, string(buf[:n]), "200 OK")
		require.Contains(t, string(buf[:n]), "hello reactor")
	}
}

// TestPipelinedClose: Connection: close drains one response, then the
// server closes the fd and the user count drops back to zero.
func TestPipelinedClose(t *testing.T) {
	s, port := startServer(t, nil)
	defer s.Stop()

	conn, err := net.Dial("tcp", localAddr(port))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /index.html HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, _ := conn.Read(buf)
	require.Contains(t, string(buf[:n]), "200 OK")

	require.Eventually(t, func() bool {
		return s.UserCount() == 0
	}, time.Second, 10*time.Millisecond)
}

// TestIdleTimeout: a connection that never sends anything is closed once
// the idle timeout elapses.
func TestIdleTimeout(t *testing.T) {
	s, port := startServer(t, func(c *config.Config) { c.TimeoutMS = 100 })
	defer s.Stop()

	conn, err := net.Dial("tcp", localAddr(port))
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return s.UserCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// TestOverload503 shrinks MaxFD to one connection: the second client is
// answered inline with a 503 and never counted.
func TestOverload503(t *testing.T) {
	s, port := startServer(t, func(c *config.Config) {
		c.MaxFD = 1
		c.TimeoutMS = 10_000
	})
	defer s.Stop()

	first, err := net.Dial("tcp", localAddr(port))
	require.NoError(t, err)
	defer first.Close()

	require.Eventually(t, func() bool {
		return s.UserCount() == 1
	}, time.Second, 5*time.Millisecond)

	second, err := net.Dial("tcp", localAddr(port))
	require.NoError(t, err)
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	total := 0
	for {
		n, err := second.Read(buf[total:])
		total += n
		if err != nil {
			break
		}
	}
	require.Contains(t, string(buf[:total]), "503 Service Unavailable")
	require.EqualValues(t, 1, s.UserCount())
}

func localAddr(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}
