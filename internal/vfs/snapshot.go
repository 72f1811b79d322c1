package vfs

import (
	"strconv"
	"sync/atomic"
)

var snapshotCounter uint64

// Snapshot deep-clones the current root and stores it under a fresh id,
// alongside the env map the calling facade wants restored together with
// it. Snapshots are reusable: Restore does not consume them.
func (v *VFS) Snapshot(env map[string]string) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := strconv.FormatUint(atomic.AddUint64(&snapshotCounter, 1), 10)
	envCopy := make(map[string]string, len(env))
	for k, val := range env {
		envCopy[k] = val
	}
	v.snapshots[id] = &snapshotEntry{
		root: v.root.clone(),
		env:  envCopy,
	}
	return id
}

// Restore rewinds the VFS tree (and returns the env map captured at
// snapshot time) to the state captured by Snapshot(id). The snapshot
// itself is left intact for reuse.
func (v *VFS) Restore(id string) (map[string]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	entry, ok := v.snapshots[id]
	if !ok {
		return nil, newErr("restore", id, ENOENT)
	}
	v.root = entry.root.clone()
	v.recount()
	v.notify("restore", "/")
	envCopy := make(map[string]string, len(entry.env))
	for k, val := range entry.env {
		envCopy[k] = val
	}
	return envCopy, nil
}

// CowClone returns an independent VFS whose directory spine is deep-cloned
// from the current tree; file byte buffers are shared by reference until
// either side writes. Provider mounts are carried over by reference since
// they're external capability objects, not part of the inode tree.
func (v *VFS) CowClone() *VFS {
	v.mu.RLock()
	defer v.mu.RUnlock()
	clone := &VFS{
		opts:      v.opts,
		root:      v.root.clone(),
		mounts:    make(map[string]Provider, len(v.mounts)),
		snapshots: make(map[string]*snapshotEntry),
	}
	for path, p := range v.mounts {
		clone.mounts[path] = p
	}
	clone.totalBytes = v.totalBytes
	clone.fileCount = v.fileCount
	return clone
}

// recount recomputes totalBytes/fileCount after a Restore, since the
// restored snapshot may have been captured at a different usage level than
// the live tree it replaces.
func (v *VFS) recount() {
	var bytes, count int64
	var walkDir func(n *Inode)
	walkDir = func(n *Inode) {
		for _, name := range n.order {
			child := n.children[name]
			switch child.Kind {
			case KindFile:
				bytes += child.size()
				count++
			case KindDir:
				walkDir(child)
			}
		}
	}
	walkDir(v.root)
	v.totalBytes = bytes
	v.fileCount = count
}
