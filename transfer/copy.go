package transfer

import (
	"errors"
	"fmt"
	"io"
	"syscall"
)

// copyBuffered copies from src to dst in blocks of the engine's buffer size.
// A negative limit copies until EOF. readErr and writeErr are the sentinels
// that failures on each side are wrapped with.
func (e *Engine) copyBuffered(dst io.Writer, src io.Reader, limit int64, readErr, writeErr error, p *progress) (int64, error) {
	bufp := e.buffers.Get().(*[]byte)
	defer e.buffers.Put(bufp)
	buf := *bufp

	var written int64
	for limit < 0 || written < limit {
		block := buf
		if limit >= 0 && limit-written < int64(len(block)) {
			block = block[:limit-written]
		}
		n, rerr := src.Read(block)
		if n > 0 {
			w, werr := writeFull(dst, block[:n])
			written += int64(w)
			p.Add(int64(w))
			if werr != nil {
				return written, fmt.Errorf("%w: write: %w", writeErr, werr)
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return written, nil
			}
			if errors.Is(rerr, syscall.EINTR) {
				continue
			}
			return written, fmt.Errorf("%w: read: %w", readErr, rerr)
		}
	}
	return written, nil
}

// writeFull writes all of p, retrying short and interrupted writes.
func writeFull(w io.Writer, p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		n, err := w.Write(p)
		total += n
		p = p[n:]
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}
