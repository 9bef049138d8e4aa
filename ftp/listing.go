package ftp

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/spf13/afero"
)

// listLine renders one entry in the fixed `ls -l` layout. Owner, permissions
// and date are constant; size is reported as stat returns it, directories
// included.
func listLine(name string, isDir bool, size int64) string {
	kind := '-'
	if isDir {
		kind = 'd'
	}
	return fmt.Sprintf("%crwxrwxrwx 1 root root %10d Jan  1 00:00 %s\r\n", kind, size, name)
}

// writeListing writes one listLine per entry of dir. An unreadable directory
// produces an empty listing. Only write errors are returned.
func writeListing(w io.Writer, fsys afero.Fs, dir string, logger *slog.Logger) error {
	bw := bufio.NewWriter(w)
	names, err := readDirNames(fsys, dir)
	if err != nil {
		logger.Warn("reading directory", "dir", dir, "error", err)
	}
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		isDir, size := entryInfo(fsys, path.Join(dir, name))
		if _, err := bw.WriteString(listLine(name, isDir, size)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func readDirNames(fsys afero.Fs, dir string) ([]string, error) {
	f, err := fsys.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Readdirnames(-1)
}

// entryInfo reports type and size of an entry. Stat follows symlinks; when
// the target is gone the link itself is described, and failing that the
// entry is shown as an empty file.
func entryInfo(fsys afero.Fs, name string) (isDir bool, size int64) {
	if info, err := fsys.Stat(name); err == nil {
		return info.IsDir(), info.Size()
	}
	if lstater, ok := fsys.(afero.Lstater); ok {
		if info, _, err := lstater.LstatIfPossible(name); err == nil {
			return info.IsDir(), 0
		}
	}
	return false, 0
}
