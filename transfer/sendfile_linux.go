//go:build linux

package transfer

import (
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"syscall"

	"golang.org/x/sys/unix"
)

// sendfileChunk bounds a single sendfile call so progress can be reported
// between calls.
const sendfileChunk = 16 << 20

// sendFile copies count bytes of src starting at offset straight from the page
// cache into dst. onChunk is called with the size of every accepted chunk.
//
// When the kernel refuses the operation the returned error wraps
// ErrZeroCopyUnsupported and the byte count says how far it got.
func sendFile(dst net.Conn, src *os.File, offset, count int64, onChunk func(int64)) (int64, error) {
	sc, ok := dst.(syscall.Conn)
	if !ok {
		return 0, ErrZeroCopyUnsupported
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrZeroCopyUnsupported, err)
	}
	defer runtime.KeepAlive(src)

	infd := int(src.Fd())
	pos := offset
	var written int64
	for written < count {
		chunk := count - written
		if chunk > sendfileChunk {
			chunk = sendfileChunk
		}

		var n int
		var serr error
		werr := rc.Write(func(outfd uintptr) bool {
			for {
				n, serr = unix.Sendfile(int(outfd), infd, &pos, int(chunk))
				if serr != unix.EINTR {
					break
				}
			}
			// EAGAIN parks the goroutine until the socket is writable again.
			return serr != unix.EAGAIN
		})
		if n > 0 {
			written += int64(n)
			onChunk(int64(n))
		}
		if werr != nil {
			return written, fmt.Errorf("%w: %w", ErrDataChannel, werr)
		}
		if serr != nil {
			if zeroCopyUnsupported(serr) {
				return written, fmt.Errorf("%w: %w", ErrZeroCopyUnsupported, serr)
			}
			return written, fmt.Errorf("%w: sendfile: %w", ErrDataChannel, serr)
		}
		if n == 0 {
			// the file ended early
			break
		}
	}
	return written, nil
}

func zeroCopyUnsupported(err error) bool {
	return errors.Is(err, unix.EINVAL) ||
		errors.Is(err, unix.ENOSYS) ||
		errors.Is(err, unix.EOPNOTSUPP) ||
		errors.Is(err, unix.ENOTSUP)
}
