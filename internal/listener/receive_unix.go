//go:build unix

package listener

import (
	"net"
	"os"
	"syscall"
)

// receiveNow reads one queued datagram without waiting for the socket to
// become readable. It returns 0 when nothing is queued.
func receiveNow(conn *net.UDPConn, p []byte) (int, *net.UDPAddr, error) {
	rc, err := conn.SyscallConn()
	if err != nil {
		return 0, nil, err
	}

	var (
		n    int
		from syscall.Sockaddr
		rerr error
	)
	err = rc.Read(func(fd uintptr) bool {
		n, from, rerr = syscall.Recvfrom(int(fd), p, 0)
		return true
	})
	if err != nil {
		return 0, nil, err
	}

	switch rerr {
	case nil:
	case syscall.EAGAIN, syscall.EINTR:
		return 0, nil, nil
	default:
		return 0, nil, os.NewSyscallError("recvfrom", rerr)
	}
	return n, udpAddr(from), nil
}

func udpAddr(sa syscall.Sockaddr) *net.UDPAddr {
	switch sa := sa.(type) {
	case *syscall.SockaddrInet4:
		return &net.UDPAddr{IP: net.IP(append([]byte(nil), sa.Addr[:]...)), Port: sa.Port}
	case *syscall.SockaddrInet6:
		addr := &net.UDPAddr{IP: net.IP(append([]byte(nil), sa.Addr[:]...)), Port: sa.Port}
		if sa.ZoneId != 0 {
			if ifi, err := net.InterfaceByIndex(int(sa.ZoneId)); err == nil {
				addr.Zone = ifi.Name
			}
		}
		return addr
	}
	return nil
}
