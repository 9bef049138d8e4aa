// Package transfer moves file contents between a filesystem and an FTP data
// connection. Downloads prefer the kernel's zero-copy path (sendfile) and fall
// back to a buffered copy that produces the same bytes.
package transfer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"
	"github.com/telebroad/fastftp/notify"
)

// DefaultBufferSize is the block size of the buffered copy loop and the socket
// buffer size requested for data connections.
const DefaultBufferSize = 2 << 20

var (
	// ErrZeroCopyUnsupported reports that the zero-copy path is not available
	// for this source/destination pair. Callers fall back to a buffered copy.
	ErrZeroCopyUnsupported = errors.New("zero-copy transfer unsupported")
	// ErrDataChannel wraps failures reading from or writing to the data connection.
	ErrDataChannel = errors.New("data channel error")
	// ErrLocalFile wraps failures reading from or writing to the local file.
	ErrLocalFile = errors.New("local file error")
)

type Direction string

const (
	Download Direction = "download"
	Upload   Direction = "upload"
)

type Strategy string

const (
	StrategySendfile Strategy = "sendfile"
	StrategyBuffered Strategy = "buffered"
)

// Result describes a finished (or aborted) transfer.
type Result struct {
	Bytes    int64
	Strategy Strategy
	Duration time.Duration
}

// Recorder observes every transfer the engine runs.
type Recorder interface {
	RecordTransfer(direction Direction, strategy Strategy, bytes int64, duration time.Duration, err error)
}

// Engine runs downloads and uploads. The zero value is not usable, use NewEngine.
type Engine struct {
	bufferSize int
	zeroCopy   bool
	notifier   notify.Notifier
	recorder   Recorder
	logger     *slog.Logger
	buffers    sync.Pool
}

// NewEngine returns an engine copying in blocks of bufferSize bytes.
// A non-positive size selects DefaultBufferSize.
func NewEngine(bufferSize int) *Engine {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	e := &Engine{
		bufferSize: bufferSize,
		zeroCopy:   true,
		notifier:   notify.Discard,
	}
	e.buffers.New = func() any {
		b := make([]byte, e.bufferSize)
		return &b
	}
	return e
}

// BufferSize returns the block size used by the buffered copy loop.
func (e *Engine) BufferSize() int { return e.bufferSize }

// SetZeroCopy enables or disables the sendfile path for downloads.
func (e *Engine) SetZeroCopy(enabled bool) { e.zeroCopy = enabled }

// SetNotifier sets the destination of progress milestones.
func (e *Engine) SetNotifier(n notify.Notifier) {
	if n == nil {
		n = notify.Discard
	}
	e.notifier = n
}

// SetRecorder sets the transfer observer, typically the metrics collector.
func (e *Engine) SetRecorder(r Recorder) { e.recorder = r }

func (e *Engine) SetLogger(logger *slog.Logger) { e.logger = logger }

func (e *Engine) Logger() *slog.Logger {
	if e.logger == nil {
		e.logger = slog.Default().With("module", "transfer")
	}
	return e.logger
}

// Download sends the contents of src starting at offset to dst. size is the
// length of the file. An offset at or past the end sends nothing.
//
// Errors wrap ErrDataChannel or ErrLocalFile depending on which side failed.
func (e *Engine) Download(dst net.Conn, src afero.File, name string, offset, size int64) (Result, error) {
	start := time.Now()
	if offset < 0 {
		offset = 0
	}
	remaining := size - offset
	if remaining < 0 {
		remaining = 0
	}

	progress := newProgress(e.notifier, Download, name, size, offset)
	if err := setCork(dst, true); err != nil {
		e.Logger().Debug("cork data connection", "error", err)
	}
	defer func() {
		if err := setCork(dst, false); err != nil {
			e.Logger().Debug("uncork data connection", "error", err)
		}
	}()

	res := Result{Strategy: StrategyBuffered}
	if f, ok := osFile(src); ok && e.zeroCopy && remaining > 0 {
		n, err := sendFile(dst, f, offset, remaining, progress.Add)
		res.Bytes = n
		if n > 0 {
			res.Strategy = StrategySendfile
		}
		switch {
		case err == nil:
			res.Strategy = StrategySendfile
			return e.finish(Download, res, start, progress, nil)
		case errors.Is(err, ErrZeroCopyUnsupported):
			e.Logger().Debug("zero-copy unavailable, using buffered copy", "file", name, "sent", n, "error", err)
		default:
			return e.finish(Download, res, start, progress, err)
		}
	}

	pos := offset + res.Bytes
	if _, err := src.Seek(pos, io.SeekStart); err != nil {
		return e.finish(Download, res, start, progress, fmt.Errorf("%w: seek %s: %w", ErrLocalFile, name, err))
	}
	n, err := e.copyBuffered(dst, src, remaining-res.Bytes, ErrLocalFile, ErrDataChannel, progress)
	res.Bytes += n
	return e.finish(Download, res, start, progress, err)
}

// Upload writes everything read from src into dst starting at offset, until
// src reports EOF.
func (e *Engine) Upload(dst afero.File, src net.Conn, name string, offset int64) (Result, error) {
	start := time.Now()
	res := Result{Strategy: StrategyBuffered}
	progress := newProgress(e.notifier, Upload, name, -1, 0)

	if offset > 0 {
		if _, err := dst.Seek(offset, io.SeekStart); err != nil {
			return e.finish(Upload, res, start, progress, fmt.Errorf("%w: seek %s: %w", ErrLocalFile, name, err))
		}
	}
	n, err := e.copyBuffered(dst, src, -1, ErrDataChannel, ErrLocalFile, progress)
	res.Bytes = n
	return e.finish(Upload, res, start, progress, err)
}

func (e *Engine) finish(dir Direction, res Result, start time.Time, p *progress, err error) (Result, error) {
	res.Duration = time.Since(start)
	if err == nil {
		p.Finish()
	}
	if e.recorder != nil {
		e.recorder.RecordTransfer(dir, res.Strategy, res.Bytes, res.Duration, err)
	}

	attrs := []any{"direction", dir, "file", p.name, "bytes", res.Bytes, "strategy", res.Strategy, "duration", res.Duration}
	if secs := res.Duration.Seconds(); secs > 0 {
		attrs = append(attrs, "MBps", float64(res.Bytes)/secs/(1<<20))
	}
	if err != nil {
		e.Logger().Warn("transfer aborted", append(attrs, "error", err)...)
	} else {
		e.Logger().Info("transfer complete", attrs...)
	}
	return res, err
}

// osFile unwraps the *os.File behind an afero file when there is one.
func osFile(f afero.File) (*os.File, bool) {
	switch v := f.(type) {
	case *os.File:
		return v, true
	case *afero.BasePathFile:
		return osFile(v.File)
	}
	return nil, false
}
