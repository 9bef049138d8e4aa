package ftp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"github.com/telebroad/fastftp/tools"
)

// maxLineLength bounds a control line, terminator included.
const maxLineLength = 1024

// Session represents an individual client FTP session.
type Session struct {
	id         string
	ftpServer  *Server       // The server the session belongs to
	conn       net.Conn      // The control connection
	reader     *bufio.Reader // Bounded line reader on the control connection
	writer     io.Writer     // Writer for replies
	logger     *slog.Logger
	workingDir string // Current working directory, always absolute; written under mu
	restartAt  int64  // Pending REST offset, consumed by the next RETR/STOR
	renameFrom string // Source path of a pending RNFR
	lastReply  StatusCode

	mu           sync.Mutex   // guards workingDir writes and the data listener against Close from the server
	passive      bool         // a data listener was created and is still valid
	dataListener net.Listener // passive data listener, at most one per session
}

func newSession(s *Server, conn net.Conn) *Session {
	id := uuid.NewString()
	logger := s.Logger().With("session", id, "remote", conn.RemoteAddr().String())
	rw := tools.NewLogReadWriter(conn, logger)
	return &Session{
		id:         id,
		ftpServer:  s,
		conn:       conn,
		reader:     bufio.NewReaderSize(rw, maxLineLength),
		writer:     rw,
		logger:     logger,
		workingDir: "/",
	}
}

func (s *Session) ID() string { return s.id }

// WorkingDir returns the current directory of the session. It is safe to
// call from outside the session goroutine.
func (s *Session) WorkingDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workingDir
}

func (s *Session) Logger() *slog.Logger { return s.logger }

func (s *Session) fs() afero.Fs { return s.ftpServer.fs }

// reply writes a single-line reply and remembers its code.
func (s *Session) reply(code StatusCode, format string, a ...any) error {
	s.lastReply = code
	if _, err := fmt.Fprintf(s.writer, "%d %s\r\n", code, fmt.Sprintf(format, a...)); err != nil {
		return fmt.Errorf("writing reply: %w", err)
	}
	return nil
}

// replyLines writes a multi-line reply: "code-first", the lines indented by
// one space, then "code last".
func (s *Session) replyLines(code StatusCode, first string, lines []string, last string) error {
	if _, err := fmt.Fprintf(s.writer, "%d-%s\r\n", code, first); err != nil {
		return fmt.Errorf("writing reply: %w", err)
	}
	for _, line := range lines {
		if _, err := fmt.Fprintf(s.writer, " %s\r\n", line); err != nil {
			return fmt.Errorf("writing reply: %w", err)
		}
	}
	return s.reply(code, "%s", last)
}

// takeRestartOffset returns the pending REST offset and clears it.
func (s *Session) takeRestartOffset() int64 {
	offset := s.restartAt
	s.restartAt = 0
	return offset
}

// Close closes the data listener and the control connection. It is safe to
// call more than once and from another goroutine.
func (s *Session) Close() error {
	var result *multierror.Error
	if err := s.closeDataListener(); err != nil {
		result = multierror.Append(result, fmt.Errorf("data listener: %w", err))
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		result = multierror.Append(result, fmt.Errorf("control connection: %w", err))
	}
	return result.ErrorOrNil()
}

// SessionManager manages all active sessions.
type SessionManager struct {
	sessions map[string]*Session // Map of active sessions
	lock     sync.RWMutex        // Protects the sessions map
}

func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
	}
}

// Add adds a new session for the client.
func (manager *SessionManager) Add(id string, session *Session) {
	manager.lock.Lock()
	defer manager.lock.Unlock()
	manager.sessions[id] = session
}

// Get retrieves a session by its ID.
func (manager *SessionManager) Get(id string) (*Session, bool) {
	manager.lock.RLock()
	defer manager.lock.RUnlock()
	session, exists := manager.sessions[id]
	return session, exists
}

// Remove removes a session by its ID.
func (manager *SessionManager) Remove(id string) {
	manager.lock.Lock()
	defer manager.lock.Unlock()
	delete(manager.sessions, id)
}

// Len returns the number of live sessions.
func (manager *SessionManager) Len() int {
	manager.lock.RLock()
	defer manager.lock.RUnlock()
	return len(manager.sessions)
}

// All returns the live sessions ordered by ID.
func (manager *SessionManager) All() []*Session {
	manager.lock.RLock()
	defer manager.lock.RUnlock()
	out := make([]*Session, 0, len(manager.sessions))
	for _, session := range manager.sessions {
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
