// Package hostmount injects an external host directory tree into the VFS
// under a mount point, with a read-only/read-write policy and a short-TTL
// stat cache so repeated path_filestat_get calls on an unchanged host file
// don't re-stat the OS filesystem on every guest call. Grounded on
// backend/local's file-metadata handling and on the teacher dependency
// github.com/patrickmn/go-cache.
package hostmount

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/sunnymar/codepod/internal/vfs"
)

// Mount exposes hostRoot (an absolute host directory) as a VFS provider.
type Mount struct {
	hostRoot  string
	writable  bool
	statCache *cache.Cache
}

// New constructs a host mount rooted at hostRoot. writable controls whether
// Write is permitted; reads are always allowed.
func New(hostRoot string, writable bool) *Mount {
	return &Mount{
		hostRoot:  filepath.Clean(hostRoot),
		writable:  writable,
		statCache: cache.New(2*time.Second, 10*time.Second),
	}
}

// resolve maps a mount-relative path to a host path under hostRoot.
// Cleaning against "/" clamps ".." segments at the mount root; any name
// that still contains ".." after cleaning is rejected with EACCES.
func (m *Mount) resolve(relPath string) (string, error) {
	clean := filepath.Clean("/" + relPath)
	if strings.Contains(clean, "..") {
		return "", &vfs.Err{Op: "resolve", Path: relPath, Code: vfs.EACCES}
	}
	return filepath.Join(m.hostRoot, clean), nil
}

func (m *Mount) Read(relPath string) ([]byte, error) {
	hostPath, err := m.resolve(relPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(hostPath)
	if err != nil {
		return nil, mapHostErr("read", relPath, err)
	}
	return data, nil
}

func (m *Mount) Write(relPath string, data []byte) error {
	if !m.writable {
		return &vfs.Err{Op: "write", Path: relPath, Code: vfs.EROFS}
	}
	hostPath, err := m.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(hostPath, data, 0644); err != nil {
		return mapHostErr("write", relPath, err)
	}
	m.statCache.Delete(relPath)
	return nil
}

func (m *Mount) Exists(relPath string) bool {
	hostPath, err := m.resolve(relPath)
	if err != nil {
		return false
	}
	_, err = os.Stat(hostPath)
	return err == nil
}

func (m *Mount) Stat(relPath string) (vfs.Stat, error) {
	if cached, ok := m.statCache.Get(relPath); ok {
		return cached.(vfs.Stat), nil
	}
	hostPath, err := m.resolve(relPath)
	if err != nil {
		return vfs.Stat{}, err
	}
	fi, err := os.Stat(hostPath)
	if err != nil {
		return vfs.Stat{}, mapHostErr("stat", relPath, err)
	}
	kind := vfs.KindFile
	if fi.IsDir() {
		kind = vfs.KindDir
	}
	st := vfs.Stat{
		Path:  relPath,
		Kind:  kind,
		Size:  fi.Size(),
		Perm:  fi.Mode(),
		Mtime: fi.ModTime(),
		Ctime: fi.ModTime(),
		Atime: fi.ModTime(),
	}
	m.statCache.Set(relPath, st, cache.DefaultExpiration)
	return st, nil
}

func (m *Mount) Readdir(relPath string) ([]vfs.DirEntry, error) {
	hostPath, err := m.resolve(relPath)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(hostPath)
	if err != nil {
		return nil, mapHostErr("readdir", relPath, err)
	}
	out := make([]vfs.DirEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		kind := vfs.KindFile
		if e.IsDir() {
			kind = vfs.KindDir
		}
		out = append(out, vfs.DirEntry{Name: e.Name(), Kind: kind, Size: info.Size(), Mode: info.Mode()})
	}
	return out, nil
}

// mapHostErr classifies a raw host-fs error into the VFS's closed Errno
// set. The generic os.Is* checks only distinguish not-exist/exist/perm;
// unwrapping to the underlying syscall.Errno (via the platform-specific
// mapErrno in errno_unix.go/errno_other.go) lets a real host mount surface
// ENOTDIR/ENOTEMPTY/ENOSPC/ELOOP distinctly instead of collapsing every
// other host failure to EIO.
func mapHostErr(op, path string, err error) error {
	code := vfs.EIO
	switch {
	case os.IsNotExist(err):
		code = vfs.ENOENT
	case os.IsExist(err):
		code = vfs.EEXIST
	case os.IsPermission(err):
		code = vfs.EACCES
	default:
		var errno syscall.Errno
		if errors.As(err, &errno) {
			if mapped, ok := mapErrno(errno); ok {
				code = mapped
			}
		}
	}
	return &vfs.Err{Op: op, Path: path, Code: code}
}
