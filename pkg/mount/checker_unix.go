//go:build unix

package mount

import (
	"path/filepath"

	"golang.org/x/sys/unix"
)

// isMount follows the POSIX definition: a path is a mount point if it lives on
// a different device than its parent, or if it is its own parent (the root).
// Symlinks are never mount points.
func isMount(path string) bool {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return false
	}
	if st.Mode&unix.S_IFMT == unix.S_IFLNK {
		return false
	}

	var parent unix.Stat_t
	if err := unix.Lstat(filepath.Join(path, ".."), &parent); err != nil {
		return false
	}
	if st.Dev != parent.Dev {
		return true
	}
	return st.Ino == parent.Ino
}
