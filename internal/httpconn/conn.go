package httpconn

import (
	"net"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/xtaci/goreactor/internal/bytebuf"
	"github.com/xtaci/goreactor/internal/dbpool"
)

// Conn is the per-fd state the reactor and its worker goroutines share:
// two buffers, a two-segment vectored write plan, and the close/keep-alive
// flags. It carries no internal lock; the reactor's per-fd busy flag
// (Busy below) is the entire concurrency protocol.
type Conn struct {
	FD int
	// ID is a per-connection diagnostic identifier, attached to every log
	// line the reactor emits about this connection so lines from the same
	// connection can be correlated across an async, possibly reordered,
	// log sink.
	ID   string
	Peer net.Addr

	ReadBuf  *bytebuf.Buffer
	WriteBuf *bytebuf.Buffer

	respFile *mmapFile
	iov      [2][]byte

	closed    atomic.Bool
	keepAlive bool

	// Busy is true while a worker task owns this connection. The reactor
	// never submits a second task for FD while Busy is set; a worker
	// clears it before its final interest change or before closing the
	// connection.
	Busy atomic.Bool

	srcDir string
	db     *dbpool.Pool
}

// New initializes a Conn for a freshly accepted fd.
func New(fd int, peer net.Addr, srcDir string, db *dbpool.Pool) *Conn {
	return &Conn{
		FD:       fd,
		ID:       uuid.NewString(),
		Peer:     peer,
		ReadBuf:  bytebuf.New(),
		WriteBuf: bytebuf.New(),
		srcDir:   srcDir,
		db:       db,
	}
}

// IsClosed reports whether Close has been called (possibly from another
// goroutine).
func (c *Conn) IsClosed() bool { return c.closed.Load() }

// IsKeepAlive reflects the most recently parsed request.
func (c *Conn) IsKeepAlive() bool { return c.keepAlive }

// ToWriteBytes returns the total bytes still queued across both iovecs.
func (c *Conn) ToWriteBytes() int {
	return len(c.iov[0]) + len(c.iov[1])
}

// Read drains the socket into ReadBuf via vectored read. In edge-triggered
// mode the caller must loop this until it returns (0, nil) (EAGAIN).
func (c *Conn) Read() (int, error) {
	return c.ReadBuf.AppendFromFD(c.FD)
}

// Process runs the parse+build step off the reactor thread. It returns
// true when a response is ready to write (including error responses),
// false when the request was incomplete and more bytes must be read.
func (c *Conn) Process() (bool, error) {
	req, err := ParseRequest(c.ReadBuf)
	if err != nil {
		if err == ErrIncomplete {
			return false, nil
		}
		resp := BadRequest400()
		c.stageResponse(resp)
		return true, nil
	}

	resp, err := BuildResponse(req, c.srcDir, c.db)
	if err != nil {
		resp = BadRequest400()
	}
	c.stageResponse(resp)
	return true, nil
}

// StageOverload immediately stages a 503 response, used by the reactor
// when accepting a connection would exceed MAX_FD.
func (c *Conn) StageOverload() {
	c.stageResponse(Overload503())
}

func (c *Conn) stageResponse(resp *Response) {
	c.keepAlive = resp.KeepAlive
	c.WriteBuf.Reset()
	c.WriteBuf.Append(resp.Head)
	c.iov[0] = c.WriteBuf.Peek()

	if c.respFile != nil {
		_ = c.respFile.Close()
		c.respFile = nil
	}
	if resp.File != nil && len(resp.File.data) > 0 {
		c.respFile = resp.File
		c.iov[1] = resp.File.data
	} else {
		c.iov[1] = nil
		if resp.File != nil {
			_ = resp.File.Close()
		}
	}
}

// Write drains the staged iovec plan with writev(2), adjusting bases
// across the iov[0]/iov[1] boundary on partial writes. It returns the
// bytes written by this call and whether the plan is fully drained; a
// (0, false) result means the socket would block and the caller must wait
// for the next writable event.
func (c *Conn) Write() (int, bool, error) {
	n, err := writevAdjust(c.FD, &c.iov)
	if err != nil {
		return 0, false, err
	}
	drained := len(c.iov[0]) == 0 && len(c.iov[1]) == 0
	if drained {
		c.WriteBuf.ConsumeAll()
		if c.respFile != nil {
			_ = c.respFile.Close()
			c.respFile = nil
		}
	}
	return n, drained, nil
}

// Close unmaps any staged file body, closes the fd, and marks the
// connection closed. Safe to call more than once; only the first call
// performs the close and reports true.
func (c *Conn) Close(closeFD func(fd int) error) bool {
	if !c.closed.CompareAndSwap(false, true) {
		return false
	}
	if c.respFile != nil {
		_ = c.respFile.Close()
		c.respFile = nil
	}
	if closeFD != nil {
		_ = closeFD(c.FD)
	}
	return true
}
