package ftp

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/telebroad/fastftp/transfer"
)

// RestartCommand handles the REST command. The offset applies to the next
// RETR or STOR only.
func (s *Session) RestartCommand(arg string) error {
	offset, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || offset < 0 {
		return s.reply(StatusSyntaxErrorInParameters, "Invalid restart position")
	}
	s.restartAt = offset
	return s.reply(StatusFileActionPending, "Restart position accepted (%d)", offset)
}

// ListCommand sends a listing of the working directory over the data
// connection. The argument is ignored.
func (s *Session) ListCommand(arg string) error {
	if !s.passiveReady() {
		return s.reply(StatusCantOpenDataConnection, "Use PASV first")
	}
	if err := s.reply(StatusFileStatusOK, "Opening data connection"); err != nil {
		return err
	}
	conn, err := s.acceptDataConnection()
	if err != nil {
		s.Logger().Warn("LIST data connection", "error", err)
		return s.reply(StatusCantOpenDataConnection, "Cannot open data connection")
	}
	werr := writeListing(conn, s.fs(), s.workingDir, s.Logger())
	conn.Close()
	if werr != nil {
		s.Logger().Warn("LIST aborted", "error", werr)
		return s.reply(StatusConnectionClosedTransferAborted, "Connection closed; transfer aborted")
	}
	return s.reply(StatusClosingDataConnection, "Transfer complete")
}

// RetrieveCommand handles the RETR command from the client.
func (s *Session) RetrieveCommand(arg string) error {
	offset := s.takeRestartOffset()
	if !s.passiveReady() {
		return s.reply(StatusCantOpenDataConnection, "Use PASV first")
	}
	name := s.resolve(arg)
	file, err := s.fs().Open(name)
	if err != nil {
		return s.reply(StatusFileUnavailable, "File not found")
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return s.reply(StatusFileUnavailable, "File not found")
	}
	if info.IsDir() {
		return s.reply(StatusFileUnavailable, "Not a regular file")
	}

	if err := s.reply(StatusFileStatusOK, "Opening data connection"); err != nil {
		return err
	}
	conn, err := s.acceptDataConnection()
	if err != nil {
		s.Logger().Warn("RETR data connection", "error", err)
		return s.reply(StatusCantOpenDataConnection, "Cannot open data connection")
	}
	_, err = s.ftpServer.engine.Download(conn, file, name, offset, info.Size())
	conn.Close()
	if err != nil {
		return s.replyTransferError(err)
	}
	return s.reply(StatusClosingDataConnection, "Transfer complete")
}

// SaveCommand handles the STOR command from the client. Without a pending
// REST the file is truncated, with one the existing bytes before the offset
// are kept.
func (s *Session) SaveCommand(arg string) error {
	offset := s.takeRestartOffset()
	if !s.passiveReady() {
		return s.reply(StatusCantOpenDataConnection, "Use PASV first")
	}
	name := s.resolve(arg)
	flags := os.O_WRONLY | os.O_CREATE
	if offset == 0 {
		flags |= os.O_TRUNC
	}
	file, err := s.fs().OpenFile(name, flags, 0o644)
	if err != nil {
		s.Logger().Debug("STOR open failed", "path", name, "error", err)
		return s.reply(StatusFileUnavailable, "Cannot create file")
	}
	defer file.Close()

	if err := s.reply(StatusFileStatusOK, "Opening data connection"); err != nil {
		return err
	}
	conn, err := s.acceptDataConnection()
	if err != nil {
		s.Logger().Warn("STOR data connection", "error", err)
		return s.reply(StatusCantOpenDataConnection, "Cannot open data connection")
	}
	_, err = s.ftpServer.engine.Upload(file, conn, name, offset)
	conn.Close()
	if err != nil {
		return s.replyTransferError(err)
	}
	return s.reply(StatusClosingDataConnection, "Transfer complete")
}

func (s *Session) replyTransferError(err error) error {
	if errors.Is(err, transfer.ErrLocalFile) {
		return s.reply(StatusLocalProcessingError, "Requested action aborted: local error in processing")
	}
	return s.reply(StatusConnectionClosedTransferAborted, "Connection closed; transfer aborted")
}
