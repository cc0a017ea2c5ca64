// Package bytebuf implements the duplex byte buffer each HTTP connection
// reads into and writes out of. It is not safe for concurrent use: a Buffer
// is confined to whichever goroutine currently owns the connection it
// belongs to.
package bytebuf

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrInsufficientData is returned by Consume when asked to advance past the
// readable region.
var ErrInsufficientData = errors.New("bytebuf: consume beyond readable region")

const (
	// initialCap is the size a zero-value Buffer grows to on first write.
	initialCap = 1024
	// scratchSize backs the second vectored-read iovec. A stack array
	// cannot survive a syscall boundary in Go, so a pooled scratch slice
	// stands in.
	scratchSize = 64 * 1024
)

var scratchPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, scratchSize)
		return &b
	},
}

// Buffer is a growable byte region with read/write cursors, as described by
// the duplex-buffer data model: readable = writerIndex-readerIndex, writable
// = cap-writerIndex, prependable = readerIndex.
type Buffer struct {
	data        []byte
	readerIndex int
	writerIndex int
}

// New returns a Buffer with the default initial capacity.
func New() *Buffer {
	return &Buffer{data: make([]byte, initialCap)}
}

// NewSize returns a Buffer with the given initial capacity.
func NewSize(n int) *Buffer {
	if n <= 0 {
		n = initialCap
	}
	return &Buffer{data: make([]byte, n)}
}

// ReadableLen returns the number of unread bytes.
func (b *Buffer) ReadableLen() int { return b.writerIndex - b.readerIndex }

// WritableLen returns free space after the write cursor.
func (b *Buffer) WritableLen() int { return len(b.data) - b.writerIndex }

// PrependableLen returns free space before the read cursor.
func (b *Buffer) PrependableLen() int { return b.readerIndex }

// Peek returns the readable region without consuming it. The slice is only
// valid until the next mutating call on b.
func (b *Buffer) Peek() []byte {
	return b.data[b.readerIndex:b.writerIndex]
}

// Consume advances the read cursor by n bytes.
func (b *Buffer) Consume(n int) error {
	if n > b.ReadableLen() {
		return ErrInsufficientData
	}
	if n < b.ReadableLen() {
		b.readerIndex += n
		return nil
	}
	b.ConsumeAll()
	return nil
}

// ConsumeUntil advances the read cursor up to (not including) ptr, which
// must point inside the current readable region (as returned by Peek).
func (b *Buffer) ConsumeUntil(ptr []byte) error {
	readable := b.Peek()
	if len(ptr) > len(readable) {
		return ErrInsufficientData
	}
	n := len(readable) - len(ptr)
	return b.Consume(n)
}

// ConsumeAll resets both cursors to zero, as if every readable byte had
// been consumed.
func (b *Buffer) ConsumeAll() {
	b.readerIndex = 0
	b.writerIndex = 0
}

// Reset zeroes storage and resets both cursors to zero.
func (b *Buffer) Reset() {
	for i := range b.data {
		b.data[i] = 0
	}
	b.readerIndex = 0
	b.writerIndex = 0
}

// TakeAllAsString drains the entire readable region into a string.
func (b *Buffer) TakeAllAsString() string {
	s := string(b.Peek())
	b.ConsumeAll()
	return s
}

// BeginWrite returns the writable tail, sized exactly to WritableLen.
func (b *Buffer) BeginWrite() []byte {
	return b.data[b.writerIndex:len(b.data)]
}

// CommitWrite advances the write cursor after bytes have been copied into
// the slice returned by BeginWrite.
func (b *Buffer) CommitWrite(n int) {
	b.writerIndex += n
}

// EnsureWritable grows or compacts the buffer so at least n bytes are
// writable, following the growth policy: compact in place when the sum of
// trailing and leading free space suffices, else reallocate.
func (b *Buffer) EnsureWritable(n int) {
	if b.WritableLen() >= n {
		return
	}
	if b.WritableLen()+b.PrependableLen() >= n {
		b.compact()
		return
	}
	ndata := make([]byte, b.writerIndex+n+1)
	copy(ndata, b.data[b.readerIndex:b.writerIndex])
	readable := b.ReadableLen()
	b.data = ndata
	b.readerIndex = 0
	b.writerIndex = readable
}

// compact slides the readable region down to offset zero.
func (b *Buffer) compact() {
	readable := b.ReadableLen()
	copy(b.data, b.data[b.readerIndex:b.writerIndex])
	b.readerIndex = 0
	b.writerIndex = readable
}

// Append copies bytes into the buffer, growing as necessary.
func (b *Buffer) Append(p []byte) {
	b.EnsureWritable(len(p))
	n := copy(b.BeginWrite(), p)
	b.CommitWrite(n)
}

// AppendFromFD performs a two-iovec vectored read: iov[0] is the buffer's
// own writable tail, iov[1] is a pooled 64KiB scratch slice. Bytes that
// land in iov[0] are committed in place; any spillover the kernel wrote into
// the scratch slice is appended with growth. Returns the total bytes read.
func (b *Buffer) AppendFromFD(fd int) (int, error) {
	scratchPtr := scratchPool.Get().(*[]byte)
	scratch := *scratchPtr
	defer scratchPool.Put(scratchPtr)

	writable := b.WritableLen()
	if writable == 0 {
		b.EnsureWritable(initialCap)
		writable = b.WritableLen()
	}

	iov := [][]byte{b.BeginWrite(), scratch}
	n, err := unix.Readv(fd, iov)
	total := int(n)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "bytebuf: readv")
	}
	if total == 0 {
		return 0, errors.New("bytebuf: peer closed")
	}

	if total <= writable {
		b.CommitWrite(total)
		return total, nil
	}

	b.CommitWrite(writable)
	overflow := total - writable
	b.Append(scratch[:overflow])
	return total, nil
}

// WriteToFD writes the readable region to fd via a single write(2) call and
// consumes the bytes actually written.
func (b *Buffer) WriteToFD(fd int) (int, error) {
	readable := b.Peek()
	if len(readable) == 0 {
		return 0, nil
	}
	n, err := unix.Write(fd, readable)
	if n > 0 {
		b.Consume(n)
	}
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return n, nil
		}
		return n, errors.Wrap(err, "bytebuf: write")
	}
	return n, nil
}
