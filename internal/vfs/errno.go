package vfs

// Errno is a POSIX-style error code returned by VFS operations. It is a
// closed sum type: every failure the VFS can produce maps to exactly one of
// these values, mirroring rclone's vfs.Errno (OK, ENOSYS, ...) rather than
// opaque error strings.
type Errno int

// Error codes named in spec.md §3/§7. OK is the zero value so a nil-ish
// success case never needs a separate boolean.
const (
	OK Errno = iota
	ENOENT
	EEXIST
	EISDIR
	ENOTDIR
	ENOTEMPTY
	ENOSPC
	EROFS
	EACCES
	ELOOP
	EIO
	E2BIG
)

var errnoText = map[Errno]string{
	OK:        "success",
	ENOENT:    "no such file or directory",
	EEXIST:    "file exists",
	EISDIR:    "is a directory",
	ENOTDIR:   "not a directory",
	ENOTEMPTY: "directory not empty",
	ENOSPC:    "no space left on device",
	EROFS:     "read-only file system",
	EACCES:    "permission denied",
	ELOOP:     "too many levels of symbolic links",
	EIO:       "input/output error",
	E2BIG:     "argument list too long",
}

func (e Errno) Error() string {
	if s, ok := errnoText[e]; ok {
		return s
	}
	return "unknown error"
}

// Err is a tagged VFS error: a path plus the Errno that rejected the
// operation on it. Callers that need POSIX-style dispatch use CodeOf to
// recover the Errno.
type Err struct {
	Op   string
	Path string
	Code Errno
}

func (e *Err) Error() string {
	if e.Path == "" {
		return e.Op + ": " + e.Code.Error()
	}
	return e.Op + " " + e.Path + ": " + e.Code.Error()
}

// Unwrap lets errors.Is/As see through to the Errno itself is not directly
// possible since Errno isn't an error of the same chain; callers use
// CodeOf instead.

// CodeOf extracts the Errno from err, defaulting to EIO for any error not
// produced by this package (e.g. a host-fs provider's raw OS error).
func CodeOf(err error) Errno {
	if err == nil {
		return OK
	}
	if ve, ok := err.(*Err); ok {
		return ve.Code
	}
	return EIO
}

func newErr(op, path string, code Errno) *Err {
	return &Err{Op: op, Path: path, Code: code}
}
