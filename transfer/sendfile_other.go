//go:build !linux

package transfer

import (
	"net"
	"os"
)

func sendFile(net.Conn, *os.File, int64, int64, func(int64)) (int64, error) {
	return 0, ErrZeroCopyUnsupported
}
