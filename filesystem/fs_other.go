//go:build !linux && !darwin

package filesystem

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/pkg/sftp"
)

func statFS(string) (*sftp.StatVFS, error) {
	return nil, fmt.Errorf("%w: statfs on %s", errors.ErrUnsupported, runtime.GOOS)
}
