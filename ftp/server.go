package ftp

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"github.com/telebroad/fastftp/notify"
	"github.com/telebroad/fastftp/transfer"
)

// ErrServerClosed is returned by Serve and ListenAndServe after Close.
var ErrServerClosed = errors.New("ftp: server closed")

// MetricsCollector observes commands, sessions and transfers.
type MetricsCollector interface {
	transfer.Recorder
	RecordCommand(verb string, code int)
	SessionOpened()
	SessionClosed()
}

type Server struct {
	// Addr optionally specifies the TCP address for the server to listen on,
	// in the form "host:port". If empty, ":2121" is used.
	Addr string

	// WelcomeMessage is sent with the 220 greeting.
	WelcomeMessage string

	// PasvMinPort and PasvMaxPort bound the passive data ports. When
	// PasvMinPort is 0 the kernel picks an ephemeral port.
	PasvMinPort int
	PasvMaxPort int

	// PublicServerIPv4 is announced in PASV replies. When unset the local
	// address of the control connection is used.
	PublicServerIPv4 [4]byte

	// BufferSize is the data socket buffer size and the block size of the
	// buffered copy loop. 0 means transfer.DefaultBufferSize.
	BufferSize int

	// DisableZeroCopy forces the buffered copy loop for downloads.
	DisableZeroCopy bool

	// Notifier receives transfer milestones. nil discards them.
	Notifier notify.Notifier

	// Metrics is optional.
	Metrics MetricsCollector

	fs       afero.Fs
	logger   *slog.Logger
	sessions *SessionManager

	initOnce sync.Once
	ports    *PortAllocator
	engine   *transfer.Engine

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// NewServer returns a server exposing fsys. Every session starts at "/".
func NewServer(addr string, fsys afero.Fs) (*Server, error) {
	if fsys == nil {
		return nil, fmt.Errorf("filesystem is required")
	}
	if addr == "" {
		addr = ":2121"
	}
	return &Server{
		Addr:           addr,
		WelcomeMessage: "fastftp ready",
		fs:             fsys,
		sessions:       NewSessionManager(),
	}, nil
}

// SetPublicServerIPv4 sets the address announced in PASV replies.
func (s *Server) SetPublicServerIPv4(ip string) error {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return fmt.Errorf("error parsing public ip: %w", err)
	}
	if !addr.Is4() {
		return fmt.Errorf("public ip %s is not an IPv4 address", ip)
	}
	s.PublicServerIPv4 = addr.As4()
	return nil
}

func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

func (s *Server) Logger() *slog.Logger {
	if s.logger == nil {
		s.logger = slog.Default().With("module", "ftp")
	}
	return s.logger
}

// Sessions returns the registry of live sessions.
func (s *Server) Sessions() *SessionManager { return s.sessions }

// init builds the pieces that depend on the exported fields, once they are set.
func (s *Server) init() {
	s.initOnce.Do(func() {
		s.ports = NewPortAllocator(s.PasvMinPort, s.PasvMaxPort)

		s.engine = transfer.NewEngine(s.BufferSize)
		s.engine.SetZeroCopy(!s.DisableZeroCopy)
		s.engine.SetNotifier(s.Notifier)
		s.engine.SetLogger(s.Logger().With("module", "transfer"))
		if s.Metrics != nil {
			s.engine.SetRecorder(s.Metrics)
		}
	})
}

// ListenAndServe listens on s.Addr and serves until Close.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("error starting server: %w", err)
	}
	s.Logger().Info("FTP server listening", "addr", listener.Addr().String())
	return s.Serve(listener)
}

// TryListenAndServe starts the server and waits d for an early failure.
// It returns nil when the server is still running after d.
func (s *Server) TryListenAndServe(d time.Duration) error {
	errC := make(chan error, 1)
	go func() {
		errC <- s.ListenAndServe()
	}()
	select {
	case err := <-errC:
		return err
	case <-time.After(d):
		return nil
	}
}

// Serve accepts control connections on l, one goroutine per connection.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()
	s.init()

	var tempDelay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else if tempDelay *= 2; tempDelay > time.Second {
				tempDelay = time.Second
			}
			s.Logger().Error("accept failed", "error", err, "retry", tempDelay)
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0
		go s.handleConnection(conn)
	}
}

// ListenAddr returns the address the server is listening on, or nil.
func (s *Server) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops the listener and tears down every live session.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	listener := s.listener
	s.mu.Unlock()

	var result *multierror.Error
	if listener != nil {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, err)
		}
	}
	for _, session := range s.sessions.All() {
		if err := session.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) handleConnection(conn net.Conn) {
	session := newSession(s, conn)
	logger := session.Logger()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("recovered from panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	s.sessions.Add(session.ID(), session)
	defer s.sessions.Remove(session.ID())
	// Close sets closed before it walks the registry, so a session added
	// after that walk sees the flag here.
	if s.isClosed() {
		if err := session.Close(); err != nil {
			logger.Debug("session teardown", "error", err)
		}
		return
	}
	if s.Metrics != nil {
		s.Metrics.SessionOpened()
		defer s.Metrics.SessionClosed()
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Debug("session teardown", "error", err)
		}
	}()

	logger.Info("session opened")
	if err := session.serve(); err != nil {
		logger.Warn("session ended", "error", err)
		return
	}
	logger.Info("session closed")
}
