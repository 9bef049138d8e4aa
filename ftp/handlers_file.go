package ftp

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// RemoveCommand handles the DELE command from the client. Empty directories
// are removed as well.
func (s *Session) RemoveCommand(arg string) error {
	name := s.resolve(arg)
	info, err := s.fs().Stat(name)
	if err != nil {
		return s.reply(StatusFileUnavailable, "File not found")
	}
	if info.IsDir() {
		if err := s.fs().Remove(name); err != nil {
			return s.reply(StatusFileUnavailable, "Directory not empty or delete failed")
		}
		return s.reply(StatusFileActionOK, "Directory deleted")
	}
	if err := s.fs().Remove(name); err != nil {
		return s.reply(StatusFileUnavailable, "Delete failed: %s", errorText(err))
	}
	return s.reply(StatusFileActionOK, "File deleted")
}

// RenameFromCommand handles the RNFR command from the client.
func (s *Session) RenameFromCommand(arg string) error {
	s.renameFrom = ""
	name := s.resolve(arg)
	if _, err := s.fs().Stat(name); err != nil {
		return s.reply(StatusFileUnavailable, "File not found")
	}
	s.renameFrom = name
	return s.reply(StatusFileActionPending, "Ready for RNTO")
}

// RenameToCommand handles the RNTO command from the client.
func (s *Session) RenameToCommand(arg string) error {
	from := s.renameFrom
	s.renameFrom = ""
	if from == "" {
		return s.reply(StatusBadSequenceOfCommands, "Bad sequence of commands")
	}
	to := s.resolve(arg)
	if err := s.fs().Rename(from, to); err != nil {
		s.Logger().Debug("rename failed", "from", from, "to", to, "error", err)
		return s.reply(StatusFileUnavailable, "Rename failed")
	}
	return s.reply(StatusFileActionOK, "Rename successful")
}

// SizeCommand handles the SIZE command from the client.
func (s *Session) SizeCommand(arg string) error {
	info, err := s.fs().Stat(s.resolve(arg))
	if err != nil {
		return s.reply(StatusFileUnavailable, "File not found")
	}
	if info.IsDir() {
		return s.reply(StatusFileUnavailable, "Not a regular file")
	}
	return s.reply(StatusFileStatus, "%d", info.Size())
}

// ModifyTimeCommand handles the MDTM command from the client.
// The time is reported in UTC as YYYYMMDDhhmmss.
func (s *Session) ModifyTimeCommand(arg string) error {
	info, err := s.fs().Stat(s.resolve(arg))
	if err != nil {
		return s.reply(StatusFileUnavailable, "File not found")
	}
	return s.reply(StatusFileStatus, "%s", info.ModTime().UTC().Format("20060102150405"))
}

// SiteCommand handles SITE sub-commands. Only CHMOD is implemented.
func (s *Session) SiteCommand(arg string) error {
	sub, rest, _ := strings.Cut(strings.TrimSpace(arg), " ")
	if !strings.EqualFold(sub, "CHMOD") {
		return s.reply(StatusCommandNotImplemented, "SITE command not implemented")
	}
	modeText, target, _ := strings.Cut(strings.TrimLeft(rest, " "), " ")
	target = strings.TrimLeft(target, " ")
	mode, err := strconv.ParseUint(modeText, 8, 32)
	if err != nil || target == "" || mode > 0o7777 {
		return s.reply(StatusSyntaxErrorInParameters, "Invalid CHMOD syntax")
	}
	name := s.resolve(target)
	if err := s.fs().Chmod(name, fileMode(uint32(mode))); err != nil {
		s.Logger().Debug("chmod failed", "path", name, "error", err)
		return s.reply(StatusFileUnavailable, "CHMOD failed")
	}
	return s.reply(StatusCommandOK, "CHMOD successful")
}

// fileMode converts unix permission bits to an os.FileMode.
func fileMode(mode uint32) os.FileMode {
	m := os.FileMode(mode & 0o777)
	if mode&0o4000 != 0 {
		m |= os.ModeSetuid
	}
	if mode&0o2000 != 0 {
		m |= os.ModeSetgid
	}
	if mode&0o1000 != 0 {
		m |= os.ModeSticky
	}
	return m
}

// errorText returns the innermost error message, without the path prefix of
// an *os.PathError.
func errorText(err error) string {
	var pe *os.PathError
	if errors.As(err, &pe) {
		return pe.Err.Error()
	}
	return err.Error()
}
