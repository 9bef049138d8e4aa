package sftp

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/pkg/sftp"
	"github.com/spf13/afero"
	"github.com/telebroad/fastftp/filesystem"
	"github.com/telebroad/fastftp/tools"
)

// Handlers serves SFTP requests from an afero filesystem.
type Handlers struct {
	fs     afero.Fs
	logger *slog.Logger
}

// NewHandlers returns the sftp.Handlers for fsys.
func NewHandlers(fsys afero.Fs, logger *slog.Logger) sftp.Handlers {
	h := &Handlers{fs: fsys, logger: logger}
	return sftp.Handlers{
		FileGet:  h,
		FilePut:  h,
		FileCmd:  h,
		FileList: h,
	}
}

func (h *Handlers) logRequest(kind string, request *sftp.Request) {
	h.logger.Debug(kind,
		"method", request.Method,
		"path", tools.IsPrintable(request.Filepath),
		"target", tools.IsPrintable(request.Target),
		"flags", request.Flags,
	)
}

func (h *Handlers) Fileread(request *sftp.Request) (io.ReaderAt, error) {
	h.logRequest("Fileread", request)
	file, err := h.fs.Open(request.Filepath)
	if err != nil {
		return nil, h.statusError("Fileread", request, err)
	}
	return file, nil
}

func (h *Handlers) Filewrite(request *sftp.Request) (io.WriterAt, error) {
	h.logRequest("Filewrite", request)

	pflags := request.Pflags()
	flags := os.O_WRONLY
	if pflags.Read {
		flags = os.O_RDWR
	}
	if pflags.Creat {
		flags |= os.O_CREATE
	}
	if pflags.Trunc {
		flags |= os.O_TRUNC
	}
	if pflags.Excl {
		flags |= os.O_EXCL
	}

	file, err := h.fs.OpenFile(request.Filepath, flags, 0o644)
	if err != nil {
		return nil, h.statusError("Filewrite", request, err)
	}
	return file, nil
}

func (h *Handlers) Filecmd(request *sftp.Request) error {
	h.logRequest("Filecmd", request)
	if err := h.filecmd(request); err != nil {
		return h.statusError("Filecmd", request, err)
	}
	return nil
}

func (h *Handlers) filecmd(request *sftp.Request) error {
	switch request.Method {
	case "Setstat":
		return h.setstat(request)

	case "Rename":
		// SFTP-v2: "It is an error if there already exists a file with the name specified by newpath."
		if _, err := h.fs.Stat(request.Target); err == nil {
			return fs.ErrExist
		}
		return h.fs.Rename(request.Filepath, request.Target)

	case "PosixRename":
		return h.fs.Rename(request.Filepath, request.Target)

	case "Rmdir":
		info, err := h.fs.Stat(request.Filepath)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s: not a directory", request.Filepath)
		}
		return h.fs.Remove(request.Filepath)

	case "Remove":
		info, err := h.fs.Stat(request.Filepath)
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fmt.Errorf("%s: is a directory", request.Filepath)
		}
		return h.fs.Remove(request.Filepath)

	case "Mkdir":
		return h.fs.Mkdir(request.Filepath, 0o755)

	case "Symlink":
		// request.Filepath is the target, request.Target is the link path.
		linker, ok := h.fs.(afero.Linker)
		if !ok {
			return sftp.ErrSSHFxOpUnsupported
		}
		return linker.SymlinkIfPossible(request.Filepath, request.Target)
	}
	return sftp.ErrSSHFxOpUnsupported
}

func (h *Handlers) setstat(request *sftp.Request) error {
	attrs := request.Attributes()
	flags := request.AttrFlags()
	if flags.Permissions {
		if err := h.fs.Chmod(request.Filepath, attrs.FileMode().Perm()); err != nil {
			return err
		}
	}
	if flags.Acmodtime {
		atime := time.Unix(int64(attrs.Atime), 0)
		mtime := time.Unix(int64(attrs.Mtime), 0)
		if err := h.fs.Chtimes(request.Filepath, atime, mtime); err != nil {
			return err
		}
	}
	if flags.Size {
		file, err := h.fs.OpenFile(request.Filepath, os.O_WRONLY, 0)
		if err != nil {
			return err
		}
		defer file.Close()
		if err := file.Truncate(int64(attrs.Size)); err != nil {
			return err
		}
	}
	return nil
}

// StatVFS reports the status of the host filesystem behind the view.
func (h *Handlers) StatVFS(request *sftp.Request) (*sftp.StatVFS, error) {
	h.logRequest("StatVFS", request)
	stat, err := filesystem.StatFS(h.fs, request.Filepath)
	if err != nil {
		return nil, h.statusError("StatVFS", request, err)
	}
	return stat, nil
}

type ListerAt []os.FileInfo

// ListAt Modeled after strings.Reader's ReadAt() implementation
func (f ListerAt) ListAt(ls []os.FileInfo, offset int64) (int, error) {
	if offset >= int64(len(f)) {
		return 0, io.EOF
	}
	n := copy(ls, f[offset:])
	if n < len(ls) {
		return n, io.EOF
	}
	return n, nil
}

func (h *Handlers) Filelist(request *sftp.Request) (sftp.ListerAt, error) {
	h.logRequest("Filelist", request)
	lister, err := h.filelist(request)
	if err != nil {
		return nil, h.statusError("Filelist", request, err)
	}
	return lister, nil
}

func (h *Handlers) filelist(request *sftp.Request) (sftp.ListerAt, error) {
	switch request.Method {
	case "List":
		entries, err := afero.ReadDir(h.fs, request.Filepath)
		if err != nil {
			return nil, err
		}
		return ListerAt(entries), nil

	case "Stat":
		entry, err := h.fs.Stat(request.Filepath)
		if err != nil {
			return nil, err
		}
		return ListerAt{entry}, nil

	case "Lstat":
		lstater, ok := h.fs.(afero.Lstater)
		if !ok {
			entry, err := h.fs.Stat(request.Filepath)
			if err != nil {
				return nil, err
			}
			return ListerAt{entry}, nil
		}
		entry, _, err := lstater.LstatIfPossible(request.Filepath)
		if err != nil {
			return nil, err
		}
		return ListerAt{entry}, nil

	case "Readlink":
		reader, ok := h.fs.(afero.LinkReader)
		if !ok {
			return nil, sftp.ErrSSHFxOpUnsupported
		}
		target, err := reader.ReadlinkIfPossible(request.Filepath)
		if err != nil {
			return nil, err
		}
		return ListerAt{linkInfo(target)}, nil
	}
	return nil, sftp.ErrSSHFxOpUnsupported
}

// statusError logs err with its request and maps it to an SFTP status.
// The client never sees the host path carried by the underlying error.
func (h *Handlers) statusError(kind string, request *sftp.Request, err error) error {
	h.logger.Debug(kind+" failed", "method", request.Method, "path", tools.IsPrintable(request.Filepath), "error", err)
	switch {
	case errors.Is(err, sftp.ErrSSHFxOpUnsupported):
		return sftp.ErrSSHFxOpUnsupported
	case errors.Is(err, fs.ErrNotExist):
		return sftp.ErrSSHFxNoSuchFile
	case errors.Is(err, fs.ErrPermission):
		return sftp.ErrSSHFxPermissionDenied
	case errors.Is(err, io.EOF):
		return io.EOF
	}
	return sftp.ErrSSHFxFailure
}

// linkInfo is the FileInfo pkg/sftp expects for Readlink: only the name,
// which carries the link target, is used.
type linkInfo string

func (l linkInfo) Name() string       { return string(l) }
func (l linkInfo) Size() int64        { return 0 }
func (l linkInfo) Mode() fs.FileMode  { return fs.ModeSymlink }
func (l linkInfo) ModTime() time.Time { return time.Time{} }
func (l linkInfo) IsDir() bool        { return false }
func (l linkInfo) Sys() any           { return nil }
