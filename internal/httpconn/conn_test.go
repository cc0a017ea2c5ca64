package httpconn

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// withConnFD accepts one loopback TCP connection and hands the test its
// raw fd, closing everything on return.
func withConnFD(t *testing.T, fn func(serverFD int, client net.Conn)) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	clientCh := make(chan net.Conn, 1)
	go func() {
		c, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			clientCh <- c
		}
	}()

	server, err := ln.Accept()
	require.NoError(t, err)
	defer server.Close()
	client := <-clientCh
	defer client.Close()

	tcpConn := server.(*net.TCPConn)
	f, err := tcpConn.File()
	require.NoError(t, err)
	defer f.Close()

	fn(int(f.Fd()), client)
}

func TestConnEchoesStaticFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hi there"), 0o644))

	withConnFD(t, func(fd int, client net.Conn) {
		c := New(fd, client.RemoteAddr(), dir, nil)

		_, err := client.Write([]byte("GET /index.html HTTP/1.1\r\nConnection: close\r\n\r\n"))
		require.NoError(t, err)

		var n int
		for n == 0 {
			got, err := c.Read()
			require.NoError(t, err)
			n = got
		}

		ready, err := c.Process()
		require.NoError(t, err)
		require.True(t, ready)
		require.False(t, c.IsKeepAlive())

		for {
			_, drained, err := c.Write()
			require.NoError(t, err)
			if drained {
				break
			}
		}

		buf := make([]byte, 4096)
		total := 0
		client.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
		for {
			k, err := client.Read(buf[total:])
			total += k
			if err != nil {
				break
			}
		}
		require.Contains(t, string(buf[:total]), "200 OK")
		require.Contains(t, string(buf[:total]), "hi there")
	})
}
