//go:build linux

package reactor

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// tcpAddr is a minimal net.Addr built from a raw accept(2) sockaddr,
// avoiding a dependency on net.Conn for connections owned directly by fd.
type tcpAddr struct {
	ip   net.IP
	port int
}

func (a tcpAddr) Network() string { return "tcp" }
func (a tcpAddr) String() string  { return fmt.Sprintf("%s:%d", a.ip, a.port) }

func addrFromSockaddr(sa unix.Sockaddr) net.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return tcpAddr{ip: net.IPv4(v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3]), port: v.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, v.Addr[:])
		return tcpAddr{ip: ip, port: v.Port}
	default:
		return tcpAddr{}
	}
}
