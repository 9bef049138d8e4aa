package ftp

import "strings"

// resolvePath maps a client path onto the session view. An absolute path
// replaces the working directory, a relative one is appended to it. "." and
// ".." are passed through untouched; containment is the filesystem's job.
func resolvePath(workingDir, arg string) string {
	if strings.HasPrefix(arg, "/") {
		return arg
	}
	if strings.HasSuffix(workingDir, "/") {
		return workingDir + arg
	}
	return workingDir + "/" + arg
}

// parentDir returns the directory containing dir, "/" for top level paths.
func parentDir(dir string) string {
	dir = strings.TrimRight(dir, "/")
	i := strings.LastIndex(dir, "/")
	if i <= 0 {
		return "/"
	}
	return dir[:i]
}

func (s *Session) resolve(arg string) string {
	return resolvePath(s.workingDir, arg)
}
