// Package sftp serves the same filesystem view as the FTP server over SFTP.
// Like the FTP side it accepts any credentials.
package sftp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/sftp"
	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"
)

// ErrServerClosed is returned by Serve and ListenAndServe after Close.
var ErrServerClosed = errors.New("sftp: server closed")

type Server struct {
	Addr      string
	fs        afero.Fs
	hostKey   ssh.Signer
	logger    *slog.Logger
	sshConfig *ssh.ServerConfig

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
}

// NewSFTPServer returns a server for fsys. hostKey identifies the server to
// clients.
func NewSFTPServer(addr string, fsys afero.Fs, hostKey ssh.Signer) (*Server, error) {
	if hostKey == nil {
		return nil, fmt.Errorf("host key is required")
	}
	s := &Server{
		Addr:    addr,
		fs:      fsys,
		hostKey: hostKey,
		conns:   make(map[net.Conn]struct{}),
	}
	s.sshConfig = &ssh.ServerConfig{
		PasswordCallback: s.AuthHandler,
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			s.Logger().Debug("Login", "user", c.User(), "key", key.Type())
			return nil, nil
		},
	}
	s.sshConfig.AddHostKey(hostKey)
	return s, nil
}

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(l *slog.Logger) {
	s.logger = l
}

// Logger returns the logger for the server.
func (s *Server) Logger() *slog.Logger {
	if s.logger == nil {
		s.logger = slog.Default().With("module", "sftp-server")
	}
	return s.logger
}

// AuthHandler is called by the SSH server when a client attempts to
// authenticate with a password. Every password is accepted.
func (s *Server) AuthHandler(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
	s.Logger().Debug("Login", "user", c.User(), "remote", c.RemoteAddr().String())
	return nil, nil
}

func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.Logger().Info("SFTP server listening", "addr", listener.Addr().String())
	return s.Serve(listener)
}

// TryListenAndServe tries to start the server; if there isn't an error after
// d it returns nil and keeps serving in the background.
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

// Serve accepts SSH connections on listener until Close.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		return ErrServerClosed
	}
	s.listener = listener
	s.mu.Unlock()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			s.Logger().Error("Failed to accept incoming connection", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		s.track(conn, true)
		go func() {
			defer s.track(conn, false)
			s.sshHandler(conn)
		}()
	}
}

// Close stops accepting and drops every open connection.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true

	var result *multierror.Error
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, err)
		}
	}
	for conn := range s.conns {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
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

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) sshHandler(conn net.Conn) {
	defer conn.Close()

	// Upgrade the connection to an SSH connection.
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.sshConfig)
	if err != nil {
		s.Logger().Debug("Failed to handshake", "error", err)
		return
	}
	defer sshConn.Close()

	logger := s.Logger().With("remote", sshConn.RemoteAddr().String(), "ssh-user", sshConn.User())
	logger.Info("New SSH connection", "client-version", string(sshConn.ClientVersion()))

	// The incoming Request channel must be serviced.
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		// An SFTP client opens a single "session" channel.
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			logger.Error("Could not accept channel", "error", err)
			return
		}
		go s.filterHandler(requests, logger)

		server := sftp.NewRequestServer(channel, NewHandlers(s.fs, logger))
		if err := server.Serve(); err != nil && !errors.Is(err, io.EOF) {
			logger.Error("sftp server completed with error", "error", err)
		}
		server.Close()
		logger.Info("sftp client exited session")
	}
}

// filterHandler accepts the "sftp" subsystem request and refuses the rest
// (shell, exec, pty).
func (s *Server) filterHandler(in <-chan *ssh.Request, logger *slog.Logger) {
	for req := range in {
		ok := false
		if req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp" {
			ok = true
		}
		logger.Debug("Request", "type", req.Type, "accepted", ok)
		if err := req.Reply(ok, nil); err != nil {
			logger.Error("Failed to reply", "error", err)
			return
		}
	}
}
