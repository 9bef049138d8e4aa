package ftp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
)

// maxVerbLength bounds a command verb. Longer verbs never match the table.
const maxVerbLength = 15

// errQuit ends the command loop after a QUIT reply.
var errQuit = errors.New("client quit")

// commandFunc handles one command. The returned error ends the session, so it
// is reserved for control connection failures and QUIT; every other problem is
// reported to the client as a reply.
type commandFunc func(s *Session, arg string) error

var (
	commands     map[Command]commandFunc
	helpCommands []string
)

func init() {
	commands = map[Command]commandFunc{
		USER: (*Session).UserCommand,                    // USER is used to specify the username
		PASS: (*Session).PassCommand,                    // PASS is used to specify the password
		SYST: (*Session).SystemCommand,                  // SYST is used to get the system type
		FEAT: (*Session).FeaturesCommand,                // FEAT is used to get the supported features
		OPTS: (*Session).OptsCommand,                    // OPTS is used to specify options for the server
		HELP: (*Session).HelpCommand,                    // HELP is used to get help
		NOOP: (*Session).NoopCommand,                    // NOOP is used to keep the connection alive
		QUIT: (*Session).CloseCommand,                   // QUIT is used to terminate the connection
		PWD:  (*Session).PrintWorkingDirectoryCommand,   // PWD is used to print the current working directory
		XPWD: (*Session).PrintWorkingDirectoryCommand,   // XPWD is the RFC 775 alias of PWD
		CWD:  (*Session).ChangeDirectoryCommand,         // CWD is used to change the working directory
		XCWD: (*Session).ChangeDirectoryCommand,         // XCWD is the RFC 775 alias of CWD
		CDUP: (*Session).ChangeDirectoryToParentCommand, // CDUP is used to change to the parent directory
		MKD:  (*Session).MakeDirectoryCommand,           // MKD is used to create a directory
		XMKD: (*Session).MakeDirectoryCommand,           // XMKD is the RFC 775 alias of MKD
		RMD:  (*Session).RemoveDirectoryCommand,         // RMD is used to remove a directory
		XRMD: (*Session).RemoveDirectoryCommand,         // XRMD is the RFC 775 alias of RMD
		TYPE: (*Session).TypeCommand,                    // TYPE is accepted, transfers are always binary
		PASV: (*Session).PassiveModeCommand,             // PASV is used to enter passive mode
		EPSV: (*Session).ExtendedPassiveModeCommand,     // EPSV is used to enter extended passive mode
		LIST: (*Session).ListCommand,                    // LIST is used to list the current directory
		RETR: (*Session).RetrieveCommand,                // RETR is used to retrieve a file from the server
		STOR: (*Session).SaveCommand,                    // STOR is used to store a file on the server
		REST: (*Session).RestartCommand,                 // REST is used to resume the next transfer at an offset
		DELE: (*Session).RemoveCommand,                  // DELE is used to delete a file or an empty directory
		RNFR: (*Session).RenameFromCommand,              // RNFR is used to specify the file to be renamed
		RNTO: (*Session).RenameToCommand,                // RNTO is used to specify the new name for the file
		SIZE: (*Session).SizeCommand,                    // SIZE is used to get the size of a file
		MDTM: (*Session).ModifyTimeCommand,              // MDTM is used to get the modification time of a file
		SITE: (*Session).SiteCommand,                    // SITE is used for CHMOD
	}
	for verb := range commands {
		helpCommands = append(helpCommands, verb)
	}
	sort.Strings(helpCommands)
}

// serve greets the client and runs the command loop until QUIT, EOF or a
// control connection error.
func (s *Session) serve() error {
	if err := s.reply(StatusServiceReady, "%s", s.ftpServer.WelcomeMessage); err != nil {
		return err
	}
	for {
		line, err := s.readCommand()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("reading command: %w", err)
		}
		verb, arg := parseCommand(line)
		handler, ok := commands[verb]
		if !ok {
			handler = (*Session).UnknownCommand
			verb = "UNKNOWN"
		}
		s.lastReply = 0
		err = handler(s, arg)
		if s.ftpServer.Metrics != nil {
			s.ftpServer.Metrics.RecordCommand(verb, s.lastReply)
		}
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// readCommand reads one control line. Bytes past maxLineLength are discarded
// up to the next newline.
func (s *Session) readCommand() (string, error) {
	line, err := s.reader.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		text := string(line)
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = s.reader.ReadSlice('\n')
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return text, nil
	}
	if err != nil && (len(line) == 0 || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return string(line), nil
}

// parseCommand splits a control line into an upper-cased verb and its
// argument. Leading whitespace of the argument is dropped, inner whitespace is
// kept verbatim.
func parseCommand(line string) (verb, arg string) {
	line = strings.TrimRight(line, "\r\n")
	line = strings.TrimLeft(line, " \t")
	verb, arg, _ = strings.Cut(line, " ")
	if i := strings.IndexByte(verb, '\t'); i >= 0 {
		verb, arg = line[:i], line[i+1:]
	}
	if len(verb) > maxVerbLength {
		return "", ""
	}
	return strings.ToUpper(verb), strings.TrimLeft(arg, " \t")
}

// UnknownCommand answers every verb missing from the table.
func (s *Session) UnknownCommand(arg string) error {
	return s.reply(StatusCommandNotImplemented, "Command not implemented")
}
