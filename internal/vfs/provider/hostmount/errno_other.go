//go:build !unix

package hostmount

import (
	"syscall"

	"github.com/sunnymar/codepod/internal/vfs"
)

// mapErrno has no finer-grained mapping outside the unix family; callers
// fall back to mapHostErr's os.Is*-based classification.
func mapErrno(syscall.Errno) (vfs.Errno, bool) {
	return vfs.EIO, false
}
