package httpconn

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// writevAdjust issues one writev(2) over the two live segments of iov and
// advances each segment's base/length by however many bytes the kernel
// actually accepted, including the case where progress crosses from
// iov[0] into iov[1]. A single writev is never assumed to drain either
// segment.
func writevAdjust(fd int, iov *[2][]byte) (int, error) {
	segs := make([][]byte, 0, 2)
	if len(iov[0]) > 0 {
		segs = append(segs, iov[0])
	}
	if len(iov[1]) > 0 {
		segs = append(segs, iov[1])
	}
	if len(segs) == 0 {
		return 0, nil
	}

	written, err := unix.Writev(fd, segs)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "httpconn: writev")
	}
	advance(iov, written)
	return written, nil
}

// advance consumes n bytes from the front of the two-segment plan,
// crossing from iov[0] into iov[1] as needed.
func advance(iov *[2][]byte, n int) {
	if n <= 0 {
		return
	}
	if n < len(iov[0]) {
		iov[0] = iov[0][n:]
		return
	}
	n -= len(iov[0])
	iov[0] = nil
	if n < len(iov[1]) {
		iov[1] = iov[1][n:]
		return
	}
	iov[1] = nil
}
