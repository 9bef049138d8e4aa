//go:build darwin

package transfer

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

func listenerControl(bufferSize int) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var serr error
		err := c.Control(func(fd uintptr) {
			if serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); serr != nil {
				return
			}
			if serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, bufferSize); serr != nil {
				return
			}
			serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, bufferSize)
		})
		if err != nil {
			return err
		}
		return serr
	}
}

func setCork(conn net.Conn, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return rawControl(conn, func(fd int) error {
		return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NOPUSH, v)
	})
}

func suppressBrokenPipe(conn net.Conn) error {
	return rawControl(conn, func(fd int) error {
		return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_NOSIGPIPE, 1)
	})
}
