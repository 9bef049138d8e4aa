package filesystem

import (
	"fmt"

	"github.com/pkg/sftp"
	"golang.org/x/sys/unix"
)

func statFS(path string) (*sftp.StatVFS, error) {
	var stat unix.Statfs_t

	err := unix.Statfs(path, &stat)
	if err != nil {
		return nil, fmt.Errorf("error getting file system info: %w", err)
	}

	return &sftp.StatVFS{
		Bsize:   uint64(stat.Bsize),
		Frsize:  uint64(stat.Bsize), // no fragment size on darwin
		Blocks:  stat.Blocks,
		Bfree:   stat.Bfree,
		Bavail:  stat.Bavail,
		Files:   stat.Files,
		Ffree:   stat.Ffree,
		Favail:  stat.Ffree,
		Fsid:    uint64(stat.Fsid.Val[1])<<32 | uint64(stat.Fsid.Val[0]),
		Flag:    uint64(stat.Flags),
		Namemax: 1024, // MAXPATHLEN
	}, nil
}
