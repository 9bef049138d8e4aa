package ftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"

	"github.com/telebroad/fastftp/transfer"
)

var errNoDataListener = errors.New("no passive data listener")

// PortAllocator hands out passive data ports from a fixed range. Concurrent
// sessions get distinct ports until the range wraps.
type PortAllocator struct {
	start int
	size  int
	next  atomic.Uint64
}

// NewPortAllocator returns an allocator over [start, end]. A start of 0 makes
// every call return 0, letting the kernel pick an ephemeral port.
func NewPortAllocator(start, end int) *PortAllocator {
	a := &PortAllocator{start: start}
	if start > 0 && end >= start {
		a.size = end - start + 1
	} else if start > 0 {
		a.size = 1
	}
	return a
}

// Next returns the next port of the range, wrapping at the end.
func (a *PortAllocator) Next() int {
	if a.size == 0 {
		return 0
	}
	n := a.next.Add(1) - 1
	return a.start + int(n%uint64(a.size))
}

// Size returns the number of ports in the range, 0 for ephemeral ports.
func (a *PortAllocator) Size() int { return a.size }

// enterPassive replaces the session's data listener with a fresh one and
// returns its port. On failure the session is left without passive mode.
func (s *Session) enterPassive() (int, error) {
	if err := s.closeDataListener(); err != nil {
		s.Logger().Debug("closing previous data listener", "error", err)
	}

	srv := s.ftpServer
	lc := transfer.ListenConfig(srv.engine.BufferSize())
	attempts := max(1, srv.ports.Size())

	var err error
	for i := 0; i < attempts; i++ {
		port := srv.ports.Next()
		var listener net.Listener
		listener, err = lc.Listen(context.Background(), "tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			port = listener.Addr().(*net.TCPAddr).Port
			s.mu.Lock()
			s.dataListener = listener
			s.passive = true
			s.mu.Unlock()
			s.Logger().Debug("data listener ready", "port", port)
			return port, nil
		}
		if isSocketCreateError(err) {
			break
		}
	}
	return 0, err
}

// acceptDataConnection blocks until the client connects to the data listener.
func (s *Session) acceptDataConnection() (net.Conn, error) {
	s.mu.Lock()
	listener := s.dataListener
	s.mu.Unlock()
	if listener == nil {
		return nil, errNoDataListener
	}
	conn, err := listener.Accept()
	if err != nil {
		return nil, fmt.Errorf("accepting data connection: %w", err)
	}
	if err := transfer.TuneDataConn(conn, s.ftpServer.engine.BufferSize()); err != nil {
		s.Logger().Debug("tuning data connection", "error", err)
	}
	return conn, nil
}

// passiveReady reports whether LIST/RETR/STOR may run.
func (s *Session) passiveReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passive && s.dataListener != nil
}

// closeDataListener closes the passive listener, if any.
func (s *Session) closeDataListener() error {
	s.mu.Lock()
	listener := s.dataListener
	s.dataListener = nil
	s.passive = false
	s.mu.Unlock()
	if listener == nil {
		return nil
	}
	if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func isSocketCreateError(err error) bool {
	var se *os.SyscallError
	return errors.As(err, &se) && se.Syscall == "socket"
}

// passiveIPv4 is the address announced in 227 replies.
func (s *Session) passiveIPv4() [4]byte {
	if ip := s.ftpServer.PublicServerIPv4; ip != [4]byte{} {
		return ip
	}
	var ip [4]byte
	if addr, ok := s.conn.LocalAddr().(*net.TCPAddr); ok {
		if v4 := addr.IP.To4(); v4 != nil {
			copy(ip[:], v4)
		}
	}
	return ip
}

func (s *Session) replyPassiveError(err error) error {
	s.Logger().Warn("entering passive mode", "error", err)
	if isSocketCreateError(err) {
		return s.reply(StatusCantOpenDataConnection, "Cannot open data connection")
	}
	return s.reply(StatusCantOpenDataConnection, "Cannot bind data port")
}

// PassiveModeCommand handles the PASV command from the client.
// The PASV command is used to enter passive mode.
func (s *Session) PassiveModeCommand(arg string) error {
	port, err := s.enterPassive()
	if err != nil {
		return s.replyPassiveError(err)
	}
	ip := s.passiveIPv4()
	return s.reply(StatusEnteringPassiveMode, "Entering Passive Mode (%d,%d,%d,%d,%d,%d)",
		ip[0], ip[1], ip[2], ip[3], port>>8, port&0xFF)
}

// ExtendedPassiveModeCommand handles the EPSV command from the client.
// The response format is 229 Entering Extended Passive Mode (|||port|)
func (s *Session) ExtendedPassiveModeCommand(arg string) error {
	port, err := s.enterPassive()
	if err != nil {
		return s.replyPassiveError(err)
	}
	return s.reply(StatusEnteringExtendedPassiveMode, "Entering Extended Passive Mode (|||%d|)", port)
}
