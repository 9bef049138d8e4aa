package transfer

import (
	"net"
	"syscall"

	"github.com/hashicorp/go-multierror"
)

// TuneDataConn prepares an accepted data connection for bulk transfer: large
// kernel buffers, no Nagle delay and no SIGPIPE on a vanished peer.
// Connections that are not TCP (net.Pipe in tests) are left alone.
func TuneDataConn(conn net.Conn, bufferSize int) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	var result *multierror.Error
	if err := tc.SetNoDelay(true); err != nil {
		result = multierror.Append(result, err)
	}
	if err := tc.SetWriteBuffer(bufferSize); err != nil {
		result = multierror.Append(result, err)
	}
	if err := tc.SetReadBuffer(bufferSize); err != nil {
		result = multierror.Append(result, err)
	}
	if err := suppressBrokenPipe(tc); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// ListenConfig returns the listen configuration for passive data sockets.
// Buffer sizes are set before listen so accepted connections inherit them.
func ListenConfig(bufferSize int) *net.ListenConfig {
	return &net.ListenConfig{Control: listenerControl(bufferSize)}
}

// rawControl runs fn against the file descriptor behind conn.
func rawControl(conn net.Conn, fn func(fd int) error) error {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return err
	}
	var ferr error
	if err := rc.Control(func(fd uintptr) { ferr = fn(int(fd)) }); err != nil {
		return err
	}
	return ferr
}
