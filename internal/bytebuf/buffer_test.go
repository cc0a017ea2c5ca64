package bytebuf

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	b := New()
	b.Append([]byte("hello world"))
	require.Equal(t, "hello world", b.TakeAllAsString())
	require.Equal(t, 0, b.ReadableLen())
	require.Equal(t, 0, b.writerIndex)
}

func TestAccountingInvariant(t *testing.T) {
	b := NewSize(16)
	b.Append([]byte("0123456789"))
	require.LessOrEqual(t, b.readerIndex, b.writerIndex)
	require.LessOrEqual(t, b.writerIndex, len(b.data))
	require.Equal(t, len(b.data), b.ReadableLen()+b.WritableLen()+b.PrependableLen())
}

func TestEnsureWritableCompactsInPlace(t *testing.T) {
	b := NewSize(16)
	b.Append([]byte("0123456789")) // readerIndex=0 writerIndex=10
	require.NoError(t, b.Consume(8))
	before := &b.data[0]
	b.EnsureWritable(10) // writable(6)+prependable(8) >= 10, compacts
	require.Same(t, before, &b.data[0])
	require.Equal(t, 0, b.readerIndex)
	require.Equal(t, 2, b.writerIndex)
}

func TestEnsureWritableReallocates(t *testing.T) {
	b := NewSize(4)
	b.Append([]byte("ab"))
	b.EnsureWritable(100)
	require.GreaterOrEqual(t, b.WritableLen(), 100)
	require.Equal(t, "ab", string(b.Peek()))
}

// TestVectoredReadGrowth: a body larger than the buffer's initial
// writable space forces AppendFromFD to spill into the scratch iovec and
// grow the buffer to hold all of it.
func TestVectoredReadGrowth(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	payload := make([]byte, 200*1024)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	go func() {
		c, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			return
		}
		defer c.Close()
		_, _ = c.Write(payload)
	}()

	server, err := ln.Accept()
	require.NoError(t, err)
	defer server.Close()

	tcpConn := server.(*net.TCPConn)
	rawConn, err := tcpConn.SyscallConn()
	require.NoError(t, err)

	b := NewSize(4096)
	var total int
	var readErr error
	for total < len(payload) {
		cerr := rawConn.Read(func(fd uintptr) bool {
			n, err := b.AppendFromFD(int(fd))
			total += n
			readErr = err
			return err != nil || n > 0
		})
		require.NoError(t, cerr)
		if readErr != nil {
			break
		}
	}
	require.NoError(t, readErr)
	require.Equal(t, len(payload), total)
	require.Equal(t, payload, b.Peek())
}
