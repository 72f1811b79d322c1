package wasi

import (
	"io"
	"io/fs"
	"os"
	"path"
	"time"

	"github.com/sunnymar/codepod/internal/vfs"
)

// vfsFS adapts a *vfs.VFS to io/fs.FS (and the ReadDir/Stat extension
// interfaces wazero's sysfs.AdaptFS looks for) so the guest's preopened
// root can be served directly out of the sandbox's virtual filesystem
// instead of a real host directory, per spec.md §4.2's requirement that
// the guest's entire view of disk is the in-memory VFS.
type vfsFS struct {
	v *vfs.VFS
}

// NewFS wraps v for use with wazero.NewModuleConfig().WithFS.
func NewFS(v *vfs.VFS) fs.FS { return &vfsFS{v: v} }

func toVFSPath(name string) string {
	if name == "." || name == "" {
		return "/"
	}
	return "/" + name
}

func (f *vfsFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	p := toVFSPath(name)
	st, err := f.v.Stat(p)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: mapErr(err)}
	}
	if st.Kind == vfs.KindDir {
		entries, err := f.v.Readdir(p)
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: mapErr(err)}
		}
		return &vfsDir{fs: f, path: p, name: name, st: st, entries: entries}, nil
	}
	data, err := f.v.ReadFile(p)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: mapErr(err)}
	}
	return &vfsFile{fs: f, path: p, name: name, st: st, data: data}, nil
}

func (f *vfsFS) Stat(name string) (fs.FileInfo, error) {
	p := toVFSPath(name)
	st, err := f.v.Stat(p)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: mapErr(err)}
	}
	return &vfsFileInfo{name: path.Base(name), st: st}, nil
}

func (f *vfsFS) ReadDir(name string) ([]fs.DirEntry, error) {
	p := toVFSPath(name)
	entries, err := f.v.Readdir(p)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: mapErr(err)}
	}
	out := make([]fs.DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, &vfsDirEntry{e: e})
	}
	return out, nil
}

// vfsFile is an open regular file. Writes are buffered and flushed back
// into the VFS wholesale on Close, matching the VFS's own "files are
// replaced wholesale" write model (spec.md §4.1) rather than attempting
// an in-place byte-range write.
type vfsFile struct {
	fs     *vfsFS
	path   string
	name   string
	st     vfs.Stat
	data   []byte
	pos    int64
	dirty  bool
	closed bool
}

func (vf *vfsFile) Stat() (fs.FileInfo, error) {
	return &vfsFileInfo{name: path.Base(vf.name), st: vf.st}, nil
}

func (vf *vfsFile) Read(p []byte) (int, error) {
	if vf.pos >= int64(len(vf.data)) {
		return 0, io.EOF
	}
	n := copy(p, vf.data[vf.pos:])
	vf.pos += int64(n)
	return n, nil
}

func (vf *vfsFile) Write(p []byte) (int, error) {
	end := vf.pos + int64(len(p))
	if end > int64(len(vf.data)) {
		grown := make([]byte, end)
		copy(grown, vf.data)
		vf.data = grown
	}
	n := copy(vf.data[vf.pos:end], p)
	vf.pos += int64(n)
	vf.dirty = true
	return n, nil
}

func (vf *vfsFile) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = vf.pos
	case io.SeekEnd:
		base = int64(len(vf.data))
	}
	vf.pos = base + offset
	return vf.pos, nil
}

func (vf *vfsFile) Close() error {
	if vf.closed {
		return nil
	}
	vf.closed = true
	if vf.dirty {
		return vf.fs.v.WriteFile(vf.path, vf.data)
	}
	return nil
}

type vfsDir struct {
	fs      *vfsFS
	path    string
	name    string
	st      vfs.Stat
	entries []vfs.DirEntry
	pos     int
}

func (vd *vfsDir) Stat() (fs.FileInfo, error) {
	return &vfsFileInfo{name: path.Base(vd.name), st: vd.st}, nil
}
func (vd *vfsDir) Read([]byte) (int, error) { return 0, &fs.PathError{Op: "read", Path: vd.name, Err: fs.ErrInvalid} }
func (vd *vfsDir) Close() error             { return nil }

func (vd *vfsDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if n <= 0 {
		out := make([]fs.DirEntry, 0, len(vd.entries)-vd.pos)
		for ; vd.pos < len(vd.entries); vd.pos++ {
			out = append(out, &vfsDirEntry{e: vd.entries[vd.pos]})
		}
		return out, nil
	}
	var out []fs.DirEntry
	for i := 0; i < n && vd.pos < len(vd.entries); i++ {
		out = append(out, &vfsDirEntry{e: vd.entries[vd.pos]})
		vd.pos++
	}
	if len(out) == 0 {
		return nil, io.EOF
	}
	return out, nil
}

type vfsDirEntry struct{ e vfs.DirEntry }

func (d *vfsDirEntry) Name() string { return d.e.Name }
func (d *vfsDirEntry) IsDir() bool  { return d.e.Kind == vfs.KindDir }
func (d *vfsDirEntry) Type() fs.FileMode {
	if d.e.Kind == vfs.KindDir {
		return fs.ModeDir
	}
	if d.e.Kind == vfs.KindSymlink {
		return fs.ModeSymlink
	}
	return 0
}
func (d *vfsDirEntry) Info() (fs.FileInfo, error) {
	return &vfsFileInfo{name: d.e.Name, st: vfs.Stat{Kind: d.e.Kind, Size: d.e.Size, Perm: d.e.Mode}}, nil
}

type vfsFileInfo struct {
	name string
	st   vfs.Stat
}

func (i *vfsFileInfo) Name() string       { return i.name }
func (i *vfsFileInfo) Size() int64        { return i.st.Size }
func (i *vfsFileInfo) Mode() fs.FileMode  { return i.st.Perm }
func (i *vfsFileInfo) ModTime() time.Time { return i.st.Mtime }
func (i *vfsFileInfo) IsDir() bool        { return i.st.Kind == vfs.KindDir }
func (i *vfsFileInfo) Sys() any           { return nil }

func mapErr(err error) error {
	switch vfs.CodeOf(err) {
	case vfs.ENOENT:
		return fs.ErrNotExist
	case vfs.EEXIST:
		return fs.ErrExist
	case vfs.EACCES, vfs.EROFS:
		return fs.ErrPermission
	case vfs.ENOTDIR:
		return os.ErrInvalid
	default:
		return err
	}
}
