//go:build !linux && !darwin

package transfer

import (
	"net"
	"syscall"
)

func listenerControl(int) func(network, address string, c syscall.RawConn) error {
	return nil
}

func setCork(net.Conn, bool) error { return nil }

func suppressBrokenPipe(net.Conn) error { return nil }
