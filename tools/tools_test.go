package tools

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPrintable(t *testing.T) {
	assert.Equal(t, "RETR a.bin", IsPrintable("RETR a.bin\r\n"))
	assert.Equal(t, "abc", IsPrintable([]byte("a\x00b\x07c")))
	assert.Equal(t, "héllo", IsPrintable([]rune("h\té\nllo")))
}

type bufConn struct {
	in  io.Reader
	out bytes.Buffer
}

func (c *bufConn) Read(b []byte) (int, error)  { return c.in.Read(b) }
func (c *bufConn) Write(b []byte) (int, error) { return c.out.Write(b) }

func TestLogReadWriter(t *testing.T) {
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	conn := &bufConn{in: strings.NewReader("PASS secret\r\n")}
	rw := NewLogReadWriter(conn, logger)

	b, err := io.ReadAll(rw)
	require.NoError(t, err)
	assert.Equal(t, "PASS secret\r\n", string(b))

	_, err = rw.Write([]byte("230 User logged in\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "230 User logged in\r\n", conn.out.String())

	assert.NotContains(t, logs.String(), "secret")
	assert.Contains(t, logs.String(), "PASS ****")
	assert.Contains(t, logs.String(), "230 User logged in")
}

func TestMaskPassword(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no password", "USER bob\r\n", "USER bob\r\n"},
		{"single line", "PASS hunter2\r\n", "PASS ****\r\n"},
		{"lower case", "pass hunter2\r\n", "PASS ****\r\n"},
		{"pipelined", "USER bob\r\nPASS hunter2\r\nPWD\r\n", "USER bob\r\nPASS ****\r\nPWD\r\n"},
		{"unterminated", "USER bob\r\nPASS hunt", "USER bob\r\nPASS ****"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(maskPassword([]byte(tt.in))))
		})
	}
}

func TestLogReadWriterPipelinedPassword(t *testing.T) {
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	conn := &bufConn{in: strings.NewReader("USER bob\r\nPASS hunter2\r\n")}
	rw := NewLogReadWriter(conn, logger)

	b, err := io.ReadAll(rw)
	require.NoError(t, err)
	assert.Equal(t, "USER bob\r\nPASS hunter2\r\n", string(b))
	assert.NotContains(t, logs.String(), "hunter2")
	assert.Contains(t, logs.String(), "USER bob")
}
