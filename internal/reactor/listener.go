//go:build linux

package reactor

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// newListenSocket creates, configures, binds, and listens on an IPv4 TCP
// socket: SO_REUSEADDR always, SO_LINGER when optLinger, non-blocking,
// backlog at least 6.
func newListenSocket(port int, optLinger bool, backlog int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, errors.Wrap(err, "reactor: socket")
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "reactor: setsockopt SO_REUSEADDR")
	}
	if optLinger {
		l := unix.Linger{Onoff: 1, Linger: 1}
		if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &l); err != nil {
			unix.Close(fd)
			return -1, errors.Wrap(err, "reactor: setsockopt SO_LINGER")
		}
	}

	sa := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, errors.Wrapf(err, "reactor: bind :%d", port)
	}
	if backlog < 6 {
		backlog = 6
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "reactor: listen")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "reactor: set listen fd non-blocking")
	}
	return fd, nil
}
