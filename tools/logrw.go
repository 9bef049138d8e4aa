package tools

import (
	"bytes"
	"io"
	"log/slog"
)

// LogReadWriter wraps a control connection and logs every line read from and
// written to it at Debug level. Passwords are masked.
type LogReadWriter struct {
	ReadWriter io.ReadWriter
	logger     *slog.Logger
}

func (rw *LogReadWriter) Read(b []byte) (int, error) {
	n, err := rw.ReadWriter.Read(b)
	if rw.logger != nil && n > 0 { // Log only if n > 0 to avoid logging empty reads
		rw.logger.Debug("Request", "body", IsPrintable(maskPassword(b[:n])))
	}
	return n, err
}

func (rw *LogReadWriter) Write(b []byte) (int, error) {
	if rw.logger != nil {
		rw.logger.Debug("Respond", "body", IsPrintable(b))
	}
	return rw.ReadWriter.Write(b)
}

// NewLogReadWriter creates a new LogReadWriter.
func NewLogReadWriter(rw io.ReadWriter, logger *slog.Logger) *LogReadWriter {
	return &LogReadWriter{ReadWriter: rw, logger: logger}
}

var passPrefix = []byte("PASS ")

// maskPassword hides the argument of every PASS line in b. A single read can
// carry several pipelined commands.
func maskPassword(b []byte) []byte {
	lines := bytes.SplitAfter(b, []byte("\n"))
	masked := false
	for i, line := range lines {
		trimmed := bytes.TrimLeft(line, " \t")
		if len(trimmed) < len(passPrefix) || !bytes.EqualFold(trimmed[:len(passPrefix)], passPrefix) {
			continue
		}
		end := line[len(bytes.TrimRight(line, "\r\n")):]
		lines[i] = append([]byte("PASS ****"), end...)
		masked = true
	}
	if !masked {
		return b
	}
	return bytes.Join(lines, nil)
}
