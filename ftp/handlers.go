package ftp

import (
	"runtime"
	"strings"
)

// UserCommand handles the USER command from the client.
// Any user name is accepted.
func (s *Session) UserCommand(arg string) error {
	return s.reply(StatusUserNameOK, "Password required")
}

// PassCommand handles the PASS command from the client.
// Any password is accepted.
func (s *Session) PassCommand(arg string) error {
	return s.reply(StatusUserLoggedIn, "User logged in")
}

// SystemCommand returns the system type.
func (s *Session) SystemCommand(arg string) error {
	switch runtime.GOOS {
	case "windows":
		return s.reply(StatusNameSystemType, "WINDOWS Type: L8")
	default:
		// clients parse listings as UNIX ls output
		return s.reply(StatusNameSystemType, "UNIX Type: L8")
	}
}

func (s *Session) FeaturesCommand(arg string) error {
	return s.replyLines(StatusSystemStatus, "Features:", []string{
		"UTF8",
		"SIZE",
		"MDTM",
		"REST STREAM",
		"PASV",
		"EPSV",
	}, "End")
}

// HelpCommand handles the HELP command from the client.
func (s *Session) HelpCommand(arg string) error {
	return s.replyLines(StatusHelpMessage, "The following commands are recognized.",
		[]string{strings.Join(helpCommands, " ")}, "Help OK.")
}

// NoopCommand handles the NOOP command from the client.
// The NOOP command is used to keep the connection alive.
func (s *Session) NoopCommand(arg string) error {
	return s.reply(StatusCommandOK, "OK")
}

// OptsCommand acknowledges OPTS UTF8. Paths are always treated as UTF-8.
func (s *Session) OptsCommand(arg string) error {
	option, _, _ := strings.Cut(strings.ToUpper(arg), " ")
	if option == "UTF8" {
		return s.reply(StatusCommandOK, "UTF8 mode enabled")
	}
	return s.reply(StatusSyntaxErrorInParameters, "Option not supported")
}

// TypeCommand accepts any representation type; data is always sent as is.
func (s *Session) TypeCommand(arg string) error {
	return s.reply(StatusCommandOK, "Type set to Binary")
}

// CloseCommand handles the QUIT command and ends the session.
func (s *Session) CloseCommand(arg string) error {
	if err := s.reply(StatusClosingControlConnection, "Goodbye"); err != nil {
		return err
	}
	return errQuit
}

// PrintWorkingDirectoryCommand handles the PWD command from the client.
// The PWD command is used to print the current working directory on the server.
func (s *Session) PrintWorkingDirectoryCommand(arg string) error {
	return s.reply(StatusPathnameCreated, "\"%s\"", s.workingDir)
}

// ChangeDirectoryCommand handles the CWD command from the client.
// The CWD command is used to change the working directory on the server.
func (s *Session) ChangeDirectoryCommand(arg string) error {
	if arg == "" {
		return s.reply(StatusSyntaxErrorInParameters, "Syntax error in parameters or arguments")
	}
	return s.changeDir(s.resolve(arg))
}

// ChangeDirectoryToParentCommand handles the CDUP command from the client.
func (s *Session) ChangeDirectoryToParentCommand(arg string) error {
	return s.changeDir(parentDir(s.workingDir))
}

func (s *Session) changeDir(dir string) error {
	info, err := s.fs().Stat(dir)
	if err != nil || !info.IsDir() {
		return s.reply(StatusFileUnavailable, "Directory not found")
	}
	s.mu.Lock()
	s.workingDir = dir
	s.mu.Unlock()
	return s.reply(StatusFileActionOK, "Directory changed")
}

// MakeDirectoryCommand handles the MKD command from the client.
func (s *Session) MakeDirectoryCommand(arg string) error {
	if arg == "" {
		return s.reply(StatusSyntaxErrorInParameters, "Syntax error in parameters or arguments")
	}
	dir := s.resolve(arg)
	if err := s.fs().Mkdir(dir, 0o755); err != nil {
		s.Logger().Debug("mkdir failed", "path", dir, "error", err)
		return s.reply(StatusFileUnavailable, "Create directory failed")
	}
	return s.reply(StatusPathnameCreated, "\"%s\" created", dir)
}

// RemoveDirectoryCommand handles the RMD command from the client.
// Only empty directories are removed.
func (s *Session) RemoveDirectoryCommand(arg string) error {
	if arg == "" {
		return s.reply(StatusSyntaxErrorInParameters, "Syntax error in parameters or arguments")
	}
	dir := s.resolve(arg)
	info, err := s.fs().Stat(dir)
	if err != nil || !info.IsDir() {
		return s.reply(StatusFileUnavailable, "Remove directory failed")
	}
	if err := s.fs().Remove(dir); err != nil {
		s.Logger().Debug("rmdir failed", "path", dir, "error", err)
		return s.reply(StatusFileUnavailable, "Remove directory failed")
	}
	return s.reply(StatusFileActionOK, "Directory removed")
}
