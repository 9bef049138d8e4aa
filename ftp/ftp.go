// Package ftp implements the control side of a passive-mode FTP server: the
// per-connection session state machine, the command table and the passive
// data-channel manager. Byte movement on the data channel is delegated to the
// transfer package.
package ftp

// StatusCode is a type for FTP reply codes
type StatusCode = int

const (
	// Positive Preliminary (1xx)
	StatusFileStatusOK StatusCode = 150 // File status okay; about to open data connection

	// Positive Completion (2xx)
	StatusCommandOK                   StatusCode = 200 // Command okay
	StatusSystemStatus                StatusCode = 211 // System status, or system help reply
	StatusFileStatus                  StatusCode = 213 // File status
	StatusHelpMessage                 StatusCode = 214 // Help message
	StatusNameSystemType              StatusCode = 215 // NAME system type
	StatusServiceReady                StatusCode = 220 // Service ready for new user
	StatusClosingControlConnection    StatusCode = 221 // Service closing control connection
	StatusClosingDataConnection       StatusCode = 226 // Closing data connection; requested file action successful
	StatusEnteringPassiveMode         StatusCode = 227 // Entering Passive Mode (h1,h2,h3,h4,p1,p2)
	StatusEnteringExtendedPassiveMode StatusCode = 229 // Entering Extended Passive Mode (|||port|)
	StatusUserLoggedIn                StatusCode = 230 // User logged in, proceed
	StatusFileActionOK                StatusCode = 250 // Requested file action okay, completed
	StatusPathnameCreated             StatusCode = 257 // "PATHNAME" created

	// Positive Intermediate (3xx)
	StatusUserNameOK        StatusCode = 331 // User name okay, need password
	StatusFileActionPending StatusCode = 350 // Requested file action pending further information

	// Transient Negative Completion (4xx)
	StatusCantOpenDataConnection          StatusCode = 425 // Can't open data connection
	StatusConnectionClosedTransferAborted StatusCode = 426 // Connection closed; transfer aborted
	StatusLocalProcessingError            StatusCode = 451 // Requested action aborted: local error in processing

	// Permanent Negative Completion (5xx)
	StatusSyntaxErrorInParameters StatusCode = 501 // Syntax error in parameters or arguments
	StatusCommandNotImplemented   StatusCode = 502 // Command not implemented
	StatusBadSequenceOfCommands   StatusCode = 503 // Bad sequence of commands
	StatusFileUnavailable         StatusCode = 550 // Requested action not taken; File unavailable
)

type Command = string

const (
	USER Command = "USER" // Send username
	PASS Command = "PASS" // Send password
	SYST Command = "SYST" // Get operating system type
	FEAT Command = "FEAT" // List server features
	OPTS Command = "OPTS" // Set options (UTF8)
	HELP Command = "HELP" // Get help
	NOOP Command = "NOOP" // No operation
	QUIT Command = "QUIT" // Disconnect from the server

	PWD  Command = "PWD"  // Print working directory
	XPWD Command = "XPWD" // Print working directory (RFC 775)
	CWD  Command = "CWD"  // Change working directory
	XCWD Command = "XCWD" // Change working directory (RFC 775)
	CDUP Command = "CDUP" // Change to parent directory
	MKD  Command = "MKD"  // Make directory
	XMKD Command = "XMKD" // Make directory (RFC 775)
	RMD  Command = "RMD"  // Remove directory
	XRMD Command = "XRMD" // Remove directory (RFC 775)

	TYPE Command = "TYPE" // Set data transfer type
	PASV Command = "PASV" // Enter passive mode
	EPSV Command = "EPSV" // Enter extended passive mode
	LIST Command = "LIST" // List directory contents
	RETR Command = "RETR" // Retrieve a file
	STOR Command = "STOR" // Store a file
	REST Command = "REST" // Restart an interrupted transfer

	DELE Command = "DELE" // Delete a file or an empty directory
	RNFR Command = "RNFR" // Rename from
	RNTO Command = "RNTO" // Rename to
	SIZE Command = "SIZE" // File size
	MDTM Command = "MDTM" // File modification time
	SITE Command = "SITE" // Site specific commands (CHMOD)
)
