// Package filesystem builds the filesystem view shared by the FTP and SFTP
// servers.
package filesystem

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/sftp"
	"github.com/spf13/afero"
)

// New returns the view rooted at root. Root "/" exposes the host filesystem
// as is. Any other root is a jail: paths are resolved below it and paths that
// escape it are refused.
func New(root string) (afero.Fs, error) {
	if root == "" {
		root = "/"
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("error resolving root %q: %w", root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("error opening root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %q is not a directory", root)
	}
	if root == string(filepath.Separator) {
		return afero.NewOsFs(), nil
	}
	return afero.NewBasePathFs(afero.NewOsFs(), root), nil
}

// RealPath maps a path of the view to the host path behind it.
func RealPath(fsys afero.Fs, name string) (string, error) {
	switch v := fsys.(type) {
	case *afero.BasePathFs:
		return v.RealPath(name)
	case *afero.OsFs:
		return filepath.Clean(name), nil
	}
	return "", fmt.Errorf("%T has no host path for %q", fsys, name)
}

// StatFS returns the status of the host filesystem containing name.
func StatFS(fsys afero.Fs, name string) (*sftp.StatVFS, error) {
	real, err := RealPath(fsys, name)
	if err != nil {
		return nil, err
	}
	return statFS(real)
}
