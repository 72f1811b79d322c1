// Package vfs implements the in-memory POSIX-ish virtual file system:
// inode tree, snapshots, copy-on-write forking, quota enforcement and the
// provider mount hook described in spec.md §3/§4.1/§4.2.
package vfs

import (
	"os"
	"sync"
)

// ChangeFunc is invoked on every tree-mutating operation and on Restore. A
// single callback may be registered; it is suppressed inside
// WithWriteAccess and during New's bootstrap.
type ChangeFunc func(op, path string)

// Options configures quota and the writable-path allowlist.
type Options struct {
	// FSLimitBytes caps the total bytes held in file inodes. 0 means
	// unlimited.
	FSLimitBytes int64
	// FileCountLimit caps the number of file inodes. 0 means unlimited.
	FileCountLimit int64
	// WritablePaths restricts mutating operations to these path
	// prefixes. An empty list means every path is writable.
	WritablePaths []string
}

// VFS is the root of the virtual file system.
type VFS struct {
	mu     sync.RWMutex
	opts   Options
	root   *Inode
	mounts map[string]Provider

	totalBytes int64
	fileCount  int64

	snapshots      map[string]*snapshotEntry
	nextSnapshotID uint64

	onChange    ChangeFunc
	writeAccess int
	bootstrap   bool
}

type snapshotEntry struct {
	root *Inode
	env  map[string]string
}

// New creates an empty VFS with a root directory.
func New(opts Options) *VFS {
	v := &VFS{
		opts:      opts,
		root:      newDirInode(0755),
		mounts:    make(map[string]Provider),
		snapshots: make(map[string]*snapshotEntry),
		bootstrap: true,
	}
	return v
}

// OnChange registers the single change-notification callback.
func (v *VFS) OnChange(fn ChangeFunc) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onChange = fn
}

// EndBootstrap marks construction-time setup complete; subsequent writes
// fire change notifications again.
func (v *VFS) EndBootstrap() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bootstrap = false
}

func (v *VFS) notify(op, path string) {
	if v.bootstrap || v.writeAccess > 0 || v.onChange == nil {
		return
	}
	v.onChange(op, path)
}

// WithWriteAccess transiently bypasses the writable-paths allowlist and
// suppresses change notifications, for internal bootstrap writes (e.g.
// seeding the python socket shim into /usr/lib/python).
func (v *VFS) WithWriteAccess(fn func() error) error {
	v.mu.Lock()
	v.writeAccess++
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		v.writeAccess--
		v.mu.Unlock()
	}()
	return fn()
}

func (v *VFS) writableLocked(path string) bool {
	if len(v.opts.WritablePaths) == 0 || v.writeAccess > 0 {
		return true
	}
	norm := normalize(path)
	for _, wp := range v.opts.WritablePaths {
		wp = normalize(wp)
		if norm == wp || hasPathPrefix(norm, wp) {
			return true
		}
	}
	return false
}

func hasPathPrefix(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if path == prefix {
		return true
	}
	return len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == '/'
}

// walk resolves segs to the deepest inode reachable by following
// intermediate symlinks (and the leaf symlink when followLeaf is true),
// returning the parent directory, the final segment's name, and the node
// if it exists. It never crosses a provider mount boundary; callers must
// check findMount first.
func (v *VFS) walk(segs []string, followLeaf bool) (parent *Inode, name string, node *Inode, err error) {
	hops := 0
	return v.walkHops(segs, followLeaf, &hops)
}

func (v *VFS) walkHops(segs []string, followLeaf bool, hops *int) (parent *Inode, name string, node *Inode, err error) {
	cur := v.root
	for i := 0; i < len(segs); i++ {
		seg := segs[i]
		last := i == len(segs)-1
		if cur.Kind != KindDir {
			return nil, "", nil, newErr("resolve", joinSegs(segs[:i+1]), ENOTDIR)
		}
		child, ok := cur.children[seg]
		if !ok {
			if last {
				return cur, seg, nil, nil
			}
			return nil, "", nil, newErr("resolve", joinSegs(segs[:i+1]), ENOENT)
		}
		if child.Kind == KindSymlink && (!last || followLeaf) {
			*hops++
			if *hops > maxSymlinkHops {
				return nil, "", nil, newErr("resolve", joinSegs(segs[:i+1]), ELOOP)
			}
			target := child.target
			var targetSegs []string
			if len(target) > 0 && target[0] == '/' {
				targetSegs = splitPath(target)
			} else {
				targetSegs = append(append([]string(nil), segs[:i]...), splitPath(target)...)
			}
			rest := segs[i+1:]
			newSegs := append(targetSegs, rest...)
			return v.walkHops(newSegs, followLeaf, hops)
		}
		if last {
			return cur, seg, child, nil
		}
		cur = child
	}
	return nil, "", v.root, nil
}

// resolve looks up path, following the leaf symlink unless noFollow.
func (v *VFS) resolve(path string, noFollow bool) (*Inode, error) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return v.root, nil
	}
	_, _, node, err := v.walk(segs, !noFollow)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, newErr("resolve", normalize(path), ENOENT)
	}
	return node, nil
}

func fileInfoMode(n *Inode) os.FileMode {
	switch n.Kind {
	case KindDir:
		return os.ModeDir | n.Perm
	case KindSymlink:
		return os.ModeSymlink | n.Perm
	default:
		return n.Perm
	}
}
