//go:build !unix

package listener

import (
	"errors"
	"net"
	"os"
	"time"
)

// receiveNow reads one queued datagram using the shortest read deadline.
// It returns 0 when nothing is queued.
func receiveNow(conn *net.UDPConn, p []byte) (int, *net.UDPAddr, error) {
	if err := conn.SetReadDeadline(time.Now().Add(time.Microsecond)); err != nil {
		return 0, nil, err
	}
	n, addr, err := conn.ReadFromUDP(p)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return 0, nil, nil
	}
	return n, addr, err
}
