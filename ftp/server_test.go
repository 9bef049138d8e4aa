package ftp

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/textproto"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	ftpclient "github.com/jlaffaye/ftp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telebroad/fastftp/transfer"
)

type fakeMetrics struct {
	mu       sync.Mutex
	commands map[string][]int
	open     int
}

func (m *fakeMetrics) RecordCommand(verb string, code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commands == nil {
		m.commands = map[string][]int{}
	}
	m.commands[verb] = append(m.commands[verb], code)
}

func (m *fakeMetrics) SessionOpened() { m.mu.Lock(); m.open++; m.mu.Unlock() }
func (m *fakeMetrics) SessionClosed() { m.mu.Lock(); m.open--; m.mu.Unlock() }

func (m *fakeMetrics) RecordTransfer(transfer.Direction, transfer.Strategy, int64, time.Duration, error) {
}

func (m *fakeMetrics) codes(verb string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.commands[verb]...)
}

func setupServer(t *testing.T, fsys afero.Fs, opts ...func(*Server)) (*Server, string) {
	t.Helper()
	srv, err := NewServer("127.0.0.1:0", fsys)
	require.NoError(t, err)
	srv.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, opt := range opts {
		opt(srv)
	}

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(listener)
	t.Cleanup(func() { srv.Close() })
	return srv, listener.Addr().String()
}

func tempFs(t *testing.T) (afero.Fs, string) {
	dir := t.TempDir()
	return afero.NewBasePathFs(afero.NewOsFs(), dir), dir
}

// controlConn is a raw control connection speaking one command at a time.
type controlConn struct {
	t    *testing.T
	text *textproto.Conn
}

func dialControl(t *testing.T, addr string) *controlConn {
	t.Helper()
	text, err := textproto.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { text.Close() })
	c := &controlConn{t: t, text: text}
	code, _ := c.read()
	require.Equal(t, StatusServiceReady, code)
	return c
}

func (c *controlConn) read() (int, string) {
	c.t.Helper()
	code, msg, err := c.text.ReadResponse(0)
	require.NoError(c.t, err)
	return code, msg
}

func (c *controlConn) cmd(format string, args ...any) (int, string) {
	c.t.Helper()
	_, err := c.text.Cmd(format, args...)
	require.NoError(c.t, err)
	return c.read()
}

var pasvReply = regexp.MustCompile(`\((\d+),(\d+),(\d+),(\d+),(\d+),(\d+)\)`)

// pasv enters passive mode and dials the announced data port.
func (c *controlConn) pasv() net.Conn {
	c.t.Helper()
	code, msg := c.cmd("PASV")
	require.Equal(c.t, StatusEnteringPassiveMode, code, msg)
	m := pasvReply.FindStringSubmatch(msg)
	require.Len(c.t, m, 7, msg)

	var n [6]int
	for i := range n {
		n[i], _ = strconv.Atoi(m[i+1])
	}
	addr := fmt.Sprintf("%d.%d.%d.%d:%d", n[0], n[1], n[2], n[3], n[4]<<8|n[5])
	data, err := net.Dial("tcp", addr)
	require.NoError(c.t, err)
	return data
}

func (c *controlConn) retr(name string) []byte {
	c.t.Helper()
	data := c.pasv()
	defer data.Close()
	code, msg := c.cmd("RETR %s", name)
	require.Equal(c.t, StatusFileStatusOK, code, msg)
	b, err := io.ReadAll(data)
	require.NoError(c.t, err)
	code, msg = c.read()
	require.Equal(c.t, StatusClosingDataConnection, code, msg)
	return b
}

func (c *controlConn) stor(name string, payload []byte) {
	c.t.Helper()
	data := c.pasv()
	code, msg := c.cmd("STOR %s", name)
	require.Equal(c.t, StatusFileStatusOK, code, msg)
	_, err := data.Write(payload)
	require.NoError(c.t, err)
	require.NoError(c.t, data.Close())
	code, msg = c.read()
	require.Equal(c.t, StatusClosingDataConnection, code, msg)
}

func randomPayload(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(b)
	return b
}

func TestGreetingAndLogin(t *testing.T) {
	_, addr := setupServer(t, afero.NewMemMapFs(), func(s *Server) {
		s.WelcomeMessage = "PS5 Fast FTP Server Ready"
	})

	text, err := textproto.Dial("tcp", addr)
	require.NoError(t, err)
	defer text.Close()
	_, msg, err := text.ReadResponse(StatusServiceReady)
	require.NoError(t, err)
	assert.Equal(t, "PS5 Fast FTP Server Ready", msg)

	c := &controlConn{t: t, text: text}
	code, _ := c.cmd("USER anyone")
	assert.Equal(t, StatusUserNameOK, code)
	code, _ = c.cmd("PASS whatever")
	assert.Equal(t, StatusUserLoggedIn, code)
	code, msg = c.cmd("SYST")
	assert.Equal(t, StatusNameSystemType, code)
	assert.Contains(t, msg, "Type: L8")
	code, _ = c.cmd("TYPE I")
	assert.Equal(t, StatusCommandOK, code)
	code, msg = c.cmd("FEAT")
	assert.Equal(t, StatusSystemStatus, code)
	assert.Contains(t, msg, "REST STREAM")
	code, msg = c.cmd("HELP")
	assert.Equal(t, StatusHelpMessage, code)
	assert.Contains(t, msg, "RETR")
	code, _ = c.cmd("OPTS UTF8 ON")
	assert.Equal(t, StatusCommandOK, code)
	code, _ = c.cmd("QUIT")
	assert.Equal(t, StatusClosingControlConnection, code)
}

func TestUnknownCommandKeepsSession(t *testing.T) {
	metrics := &fakeMetrics{}
	_, addr := setupServer(t, afero.NewMemMapFs(), func(s *Server) { s.Metrics = metrics })

	c := dialControl(t, addr)
	code, msg := c.cmd("XYZZY plugh")
	assert.Equal(t, StatusCommandNotImplemented, code)
	assert.Equal(t, "Command not implemented", msg)
	code, _ = c.cmd("NOOP")
	assert.Equal(t, StatusCommandOK, code)
	code, _ = c.cmd("SITE EXEC ls")
	assert.Equal(t, StatusCommandNotImplemented, code)

	assert.Equal(t, []int{502}, metrics.codes("UNKNOWN"))
	assert.Equal(t, []int{200}, metrics.codes(NOOP))
}

func TestTransferWithoutPassive(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/a.bin", []byte("abc"), 0o644))
	_, addr := setupServer(t, fsys)
	c := dialControl(t, addr)

	for _, cmd := range []string{"LIST", "RETR a.bin", "STOR b.bin"} {
		code, msg := c.cmd("%s", cmd)
		assert.Equal(t, StatusCantOpenDataConnection, code, cmd)
		assert.Equal(t, "Use PASV first", msg)
	}
	exists, err := afero.Exists(fsys, "/b.bin")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestChangeDirectory(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/data/movies", 0o755))
	require.NoError(t, afero.WriteFile(fsys, "/data/file.txt", []byte("x"), 0o644))
	_, addr := setupServer(t, fsys)
	c := dialControl(t, addr)

	code, msg := c.cmd("PWD")
	assert.Equal(t, StatusPathnameCreated, code)
	assert.Equal(t, `"/"`, msg)

	code, _ = c.cmd("CWD data")
	assert.Equal(t, StatusFileActionOK, code)
	code, _ = c.cmd("XCWD movies")
	assert.Equal(t, StatusFileActionOK, code)
	_, msg = c.cmd("XPWD")
	assert.Equal(t, `"/data/movies"`, msg)

	code, msg = c.cmd("CWD /nope")
	assert.Equal(t, StatusFileUnavailable, code)
	assert.Equal(t, "Directory not found", msg)
	code, _ = c.cmd("CWD /data/file.txt")
	assert.Equal(t, StatusFileUnavailable, code)
	_, msg = c.cmd("PWD")
	assert.Equal(t, `"/data/movies"`, msg)

	code, _ = c.cmd("CDUP")
	assert.Equal(t, StatusFileActionOK, code)
	_, msg = c.cmd("PWD")
	assert.Equal(t, `"/data"`, msg)
}

func TestDeleteMissing(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/keep.txt", []byte("x"), 0o644))
	_, addr := setupServer(t, fsys)
	c := dialControl(t, addr)

	code, msg := c.cmd("DELE missing.txt")
	assert.Equal(t, StatusFileUnavailable, code)
	assert.Equal(t, "File not found", msg)
	_, msg = c.cmd("PWD")
	assert.Equal(t, `"/"`, msg)

	code, msg = c.cmd("DELE keep.txt")
	assert.Equal(t, StatusFileActionOK, code)
	assert.Equal(t, "File deleted", msg)
}

func TestRestartThenRetrieve(t *testing.T) {
	fsys, _ := tempFs(t)
	payload := randomPayload(500)
	require.NoError(t, afero.WriteFile(fsys, "/b.bin", payload, 0o644))
	_, addr := setupServer(t, fsys)
	c := dialControl(t, addr)

	code, msg := c.cmd("REST 100")
	assert.Equal(t, StatusFileActionPending, code)
	assert.Equal(t, "Restart position accepted (100)", msg)

	got := c.retr("b.bin")
	assert.Len(t, got, 400)
	assert.True(t, bytes.Equal(payload[100:], got))

	got = c.retr("b.bin")
	assert.Len(t, got, 500)
	assert.True(t, bytes.Equal(payload, got))
}

func TestRestartIsConsumedByFailedTransfer(t *testing.T) {
	fsys := afero.NewMemMapFs()
	payload := randomPayload(300)
	require.NoError(t, afero.WriteFile(fsys, "/c.bin", payload, 0o644))
	_, addr := setupServer(t, fsys)
	c := dialControl(t, addr)

	c.cmd("REST 50")
	code, _ := c.cmd("RETR c.bin")
	assert.Equal(t, StatusCantOpenDataConnection, code)

	assert.Equal(t, payload, c.retr("c.bin"))

	code, msg := c.cmd("REST abc")
	assert.Equal(t, StatusSyntaxErrorInParameters, code)
	assert.Equal(t, "Invalid restart position", msg)
}

func TestRetrieveOffsetPastEnd(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/small.bin", []byte("0123456789"), 0o644))
	_, addr := setupServer(t, fsys)
	c := dialControl(t, addr)

	c.cmd("REST 64")
	assert.Empty(t, c.retr("small.bin"))
}

func TestRetrieveMissing(t *testing.T) {
	_, addr := setupServer(t, afero.NewMemMapFs())
	c := dialControl(t, addr)

	data := c.pasv()
	defer data.Close()
	code, msg := c.cmd("RETR nope.bin")
	assert.Equal(t, StatusFileUnavailable, code)
	assert.Equal(t, "File not found", msg)
}

func TestStoreSizeRetrieve10MiB(t *testing.T) {
	fsys, dir := tempFs(t)
	_, addr := setupServer(t, fsys)
	c := dialControl(t, addr)
	c.cmd("USER anonymous")
	c.cmd("PASS x")
	c.cmd("TYPE I")

	payload := randomPayload(10 << 20)
	c.stor("a.bin", payload)

	code, msg := c.cmd("SIZE a.bin")
	assert.Equal(t, StatusFileStatus, code)
	assert.Equal(t, "10485760", msg)

	onDisk, err := os.ReadFile(filepath.Join(dir, "a.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, onDisk))

	got := c.retr("a.bin")
	assert.Equal(t, len(payload), len(got))
	assert.True(t, bytes.Equal(payload, got))
}

func TestStoreResumeKeepsPrefix(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/part.bin", []byte("hello world"), 0o644))
	_, addr := setupServer(t, fsys)
	c := dialControl(t, addr)

	c.cmd("REST 6")
	c.stor("part.bin", []byte("WORLD!"))
	got, err := afero.ReadFile(fsys, "/part.bin")
	require.NoError(t, err)
	assert.Equal(t, "hello WORLD!", string(got))

	c.stor("part.bin", []byte("new"))
	got, err = afero.ReadFile(fsys, "/part.bin")
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}

func TestPassiveListenerReuse(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/r.txt", []byte("reuse"), 0o644))
	_, addr := setupServer(t, fsys)
	c := dialControl(t, addr)

	code, msg := c.cmd("PASV")
	require.Equal(t, StatusEnteringPassiveMode, code)
	m := pasvReply.FindStringSubmatch(msg)
	require.Len(t, m, 7)
	p1, _ := strconv.Atoi(m[5])
	p2, _ := strconv.Atoi(m[6])
	dataAddr := fmt.Sprintf("127.0.0.1:%d", p1*256+p2)

	for i := 0; i < 2; i++ {
		data, err := net.Dial("tcp", dataAddr)
		require.NoError(t, err)
		code, _ = c.cmd("RETR r.txt")
		require.Equal(t, StatusFileStatusOK, code)
		b, err := io.ReadAll(data)
		require.NoError(t, err)
		assert.Equal(t, "reuse", string(b))
		code, _ = c.read()
		assert.Equal(t, StatusClosingDataConnection, code)
		data.Close()
	}
}

func TestPassivePortRange(t *testing.T) {
	probe, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	base := probe.Addr().(*net.TCPAddr).Port
	probe.Close()

	_, addr := setupServer(t, afero.NewMemMapFs(), func(s *Server) {
		s.PasvMinPort = base
		s.PasvMaxPort = base + 4
		require.NoError(t, s.SetPublicServerIPv4("10.1.2.3"))
	})

	c := dialControl(t, addr)
	code, msg := c.cmd("PASV")
	require.Equal(t, StatusEnteringPassiveMode, code, msg)
	m := pasvReply.FindStringSubmatch(msg)
	require.Len(t, m, 7)
	assert.Equal(t, []string{"10", "1", "2", "3"}, m[1:5])
	p1, _ := strconv.Atoi(m[5])
	p2, _ := strconv.Atoi(m[6])
	port := p1*256 + p2
	assert.GreaterOrEqual(t, port, base)
	assert.LessOrEqual(t, port, base+4)

	code, msg = c.cmd("EPSV")
	require.Equal(t, StatusEnteringExtendedPassiveMode, code, msg)
	assert.Regexp(t, `\(\|\|\|\d+\|\)`, msg)
}

func TestFileCommands(t *testing.T) {
	fsys, dir := tempFs(t)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "full"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "full", "x"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("12345"), 0o644))
	mtime := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "f.txt"), mtime, mtime))
	_, addr := setupServer(t, fsys)
	c := dialControl(t, addr)

	code, msg := c.cmd("MKD newdir")
	assert.Equal(t, StatusPathnameCreated, code)
	assert.Equal(t, `"/newdir" created`, msg)
	code, _ = c.cmd("MKD newdir")
	assert.Equal(t, StatusFileUnavailable, code)

	code, msg = c.cmd("MDTM f.txt")
	assert.Equal(t, StatusFileStatus, code)
	assert.Equal(t, "20210304050607", msg)

	code, msg = c.cmd("SITE CHMOD 600 f.txt")
	assert.Equal(t, StatusCommandOK, code, msg)
	info, err := os.Stat(filepath.Join(dir, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	code, msg = c.cmd("SITE CHMOD 9z9 f.txt")
	assert.Equal(t, StatusSyntaxErrorInParameters, code)
	assert.Equal(t, "Invalid CHMOD syntax", msg)
	code, _ = c.cmd("SITE CHMOD 644 missing.txt")
	assert.Equal(t, StatusFileUnavailable, code)

	code, _ = c.cmd("RNTO g.txt")
	assert.Equal(t, StatusBadSequenceOfCommands, code)
	code, _ = c.cmd("RNFR f.txt")
	assert.Equal(t, StatusFileActionPending, code)
	code, _ = c.cmd("RNTO g.txt")
	assert.Equal(t, StatusFileActionOK, code)
	_, err = os.Stat(filepath.Join(dir, "g.txt"))
	assert.NoError(t, err)

	code, msg = c.cmd("DELE full")
	assert.Equal(t, StatusFileUnavailable, code)
	assert.Equal(t, "Directory not empty or delete failed", msg)
	code, msg = c.cmd("DELE newdir")
	assert.Equal(t, StatusFileActionOK, code)
	assert.Equal(t, "Directory deleted", msg)

	code, _ = c.cmd("RMD g.txt")
	assert.Equal(t, StatusFileUnavailable, code)
	require.NoError(t, os.Remove(filepath.Join(dir, "full", "x")))
	code, msg = c.cmd("RMD full")
	assert.Equal(t, StatusFileActionOK, code)
	assert.Equal(t, "Directory removed", msg)
}

func TestWithFTPClient(t *testing.T) {
	fsys, _ := tempFs(t)
	_, addr := setupServer(t, fsys)

	client, err := ftpclient.Dial(addr, ftpclient.DialWithTimeout(5*time.Second))
	require.NoError(t, err)
	defer client.Quit()
	require.NoError(t, client.Login("anonymous", "anonymous"))

	require.NoError(t, client.MakeDir("incoming"))
	require.NoError(t, client.ChangeDir("incoming"))
	dir, err := client.CurrentDir()
	require.NoError(t, err)
	assert.Equal(t, "/incoming", dir)

	payload := randomPayload(3<<20 + 123)
	require.NoError(t, client.Stor("video.mp4", bytes.NewReader(payload)))

	size, err := client.FileSize("video.mp4")
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), size)

	entries, err := client.List("")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "video.mp4", entries[0].Name)
	assert.Equal(t, uint64(len(payload)), entries[0].Size)
	assert.Equal(t, ftpclient.EntryTypeFile, entries[0].Type)

	resp, err := client.Retr("video.mp4")
	require.NoError(t, err)
	got, err := io.ReadAll(resp)
	require.NoError(t, err)
	require.NoError(t, resp.Close())
	assert.True(t, bytes.Equal(payload, got))

	resp, err = client.RetrFrom("video.mp4", 1000)
	require.NoError(t, err)
	got, err = io.ReadAll(resp)
	require.NoError(t, err)
	require.NoError(t, resp.Close())
	assert.True(t, bytes.Equal(payload[1000:], got))

	require.NoError(t, client.Rename("video.mp4", "movie.mp4"))
	require.NoError(t, client.Delete("movie.mp4"))
	require.NoError(t, client.ChangeDirToParent())
	require.NoError(t, client.RemoveDir("incoming"))
	require.NoError(t, client.NoOp())
}

func TestCloseTearsDownSessions(t *testing.T) {
	srv, addr := setupServer(t, afero.NewMemMapFs())
	c := dialControl(t, addr)
	c.cmd("PASV")
	require.Eventually(t, func() bool { return srv.Sessions().Len() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Close())
	_, _, err := c.text.ReadResponse(0)
	assert.Error(t, err)
	require.Eventually(t, func() bool { return srv.Sessions().Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestConnectionAfterCloseIsDropped(t *testing.T) {
	srv, _ := setupServer(t, afero.NewMemMapFs())
	require.NoError(t, srv.Close())

	client, server := net.Pipe()
	defer client.Close()
	done := make(chan struct{})
	go func() {
		srv.handleConnection(server)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("connection accepted after Close was served")
	}
	_, err := client.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 0, srv.Sessions().Len())
}

func TestTryListenAndServe(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.Mkdir("/sub", 0o755))
	srv, err := NewServer("127.0.0.1:0", fsys)
	require.NoError(t, err)
	srv.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, srv.TryListenAndServe(100*time.Millisecond))
	t.Cleanup(func() { srv.Close() })

	require.Eventually(t, func() bool { return srv.ListenAddr() != nil }, time.Second, 10*time.Millisecond)
	addr := srv.ListenAddr().String()
	c := dialControl(t, addr)
	code, msg := c.cmd("CWD sub")
	require.Equal(t, StatusFileActionOK, code, msg)

	sessions := srv.Sessions().All()
	require.Len(t, sessions, 1)
	session, ok := srv.Sessions().Get(sessions[0].ID())
	require.True(t, ok)
	assert.Equal(t, "/sub", session.WorkingDir())

	_, ok = srv.Sessions().Get("missing")
	assert.False(t, ok)

	busy, err := NewServer(addr, afero.NewMemMapFs())
	require.NoError(t, err)
	busy.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, busy.TryListenAndServe(time.Second), "address already in use")
}

func TestListenAndServeAfterClose(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", afero.NewMemMapFs())
	require.NoError(t, err)
	require.NoError(t, srv.Close())
	assert.ErrorIs(t, srv.ListenAndServe(), ErrServerClosed)
	assert.Nil(t, srv.ListenAddr())
}
