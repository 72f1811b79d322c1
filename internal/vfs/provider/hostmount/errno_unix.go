//go:build unix

package hostmount

import (
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/sunnymar/codepod/internal/vfs"
)

// mapErrno translates a host syscall.Errno into the VFS's closed Errno
// set, for the finer-grained cases mapHostErr's os.Is* checks miss.
func mapErrno(errno syscall.Errno) (vfs.Errno, bool) {
	switch errno {
	case unix.ENOTDIR:
		return vfs.ENOTDIR, true
	case unix.ENOTEMPTY:
		return vfs.ENOTEMPTY, true
	case unix.ENOSPC:
		return vfs.ENOSPC, true
	case unix.ELOOP:
		return vfs.ELOOP, true
	case unix.EISDIR:
		return vfs.EISDIR, true
	case unix.EROFS:
		return vfs.EROFS, true
	default:
		return vfs.EIO, false
	}
}
