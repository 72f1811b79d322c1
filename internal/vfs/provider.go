package vfs

// Provider is the capability object a virtual or host mount attaches at a
// mount point (spec.md §4.2). The VFS routes any path under the mount
// point's prefix to these methods instead of walking the inode tree.
type Provider interface {
	// Read returns the full contents addressed by the path relative to
	// the mount point (e.g. "/null", "/uptime").
	Read(relPath string) ([]byte, error)
	// Write stores data at relPath. Providers that are read-only (most
	// of /proc, most host mounts) return an EROFS-coded error.
	Write(relPath string, data []byte) error
	// Exists reports whether relPath is served by this provider.
	Exists(relPath string) bool
	// Stat returns metadata for relPath.
	Stat(relPath string) (Stat, error)
	// Readdir lists the entries directly under relPath.
	Readdir(relPath string) ([]DirEntry, error)
}

// Mount attaches a provider at an absolute path. The mount point does not
// need to already exist in the inode tree; once mounted, every VFS
// operation under that prefix is routed to the provider instead.
func (v *VFS) Mount(path string, p Provider) error {
	mp := normalize(path)
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mounts[mp] = p
	return nil
}

// Unmount detaches a previously attached provider. It is not named in
// spec.md's API surface but is the natural inverse of Mount.
func (v *VFS) Unmount(path string) {
	mp := normalize(path)
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.mounts, mp)
}

// findMount returns the provider mounted at the longest ancestor prefix of
// segs, plus the path remainder relative to that mount point.
func (v *VFS) findMount(segs []string) (Provider, string, bool) {
	for i := len(segs); i >= 0; i-- {
		mp := joinSegs(segs[:i])
		if p, ok := v.mounts[mp]; ok {
			return p, joinSegs(segs[i:]), true
		}
	}
	return nil, "", false
}
