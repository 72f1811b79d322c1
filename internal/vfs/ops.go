package vfs

import (
	"os"
	"time"
)

// Stat returns metadata for path, following a leaf symlink.
func (v *VFS) Stat(path string) (Stat, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.statLocked(path, false)
}

// Lstat is Stat but does not follow a leaf symlink.
func (v *VFS) Lstat(path string) (Stat, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.statLocked(path, true)
}

func (v *VFS) statLocked(path string, noFollow bool) (Stat, error) {
	segs := splitPath(path)
	if p, rel, ok := v.findMount(segs); ok {
		return p.Stat(rel)
	}
	node, err := v.resolve(path, noFollow)
	if err != nil {
		return Stat{}, err
	}
	return Stat{
		Path:  normalize(path),
		Kind:  node.Kind,
		Size:  node.size(),
		Perm:  fileInfoMode(node),
		Ctime: node.Ctime,
		Mtime: node.Mtime,
		Atime: node.Atime,
		Owner: node.Owner,
	}, nil
}

// ReadFile returns the full contents of path.
func (v *VFS) ReadFile(path string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	segs := splitPath(path)
	if p, rel, ok := v.findMount(segs); ok {
		return p.Read(rel)
	}
	node, err := v.resolve(path, false)
	if err != nil {
		return nil, err
	}
	if node.Kind == KindDir {
		return nil, newErr("readFile", normalize(path), EISDIR)
	}
	if node.Kind != KindFile {
		return nil, newErr("readFile", normalize(path), EIO)
	}
	node.Atime = time.Now()
	out := make([]byte, len(node.data))
	copy(out, node.data)
	return out, nil
}

// WriteFile replaces path's contents wholesale, creating the file if it
// does not exist. The parent directory must already exist.
func (v *VFS) WriteFile(path string, data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	segs := splitPath(path)
	if p, rel, ok := v.findMount(segs); ok {
		return p.Write(rel, data)
	}
	norm := normalize(path)
	if !v.writableLocked(norm) {
		return newErr("writeFile", norm, EROFS)
	}
	parent, name, node, err := v.walk(segs, true)
	if err != nil {
		return err
	}
	if parent == nil {
		return newErr("writeFile", norm, EISDIR)
	}
	var oldSize int64
	isNew := node == nil
	if !isNew {
		if node.Kind == KindDir {
			return newErr("writeFile", norm, EISDIR)
		}
		oldSize = node.size()
	}
	newSize := int64(len(data))
	if err := v.reserveQuota(newSize-oldSize, isNew); err != nil {
		return err
	}
	perm := os.FileMode(0644)
	if !isNew {
		perm = node.Perm
	}
	fresh := newFileInode(perm, append([]byte(nil), data...))
	if !isNew {
		fresh.Ctime = node.Ctime
	}
	parent.addChild(name, fresh)
	parent.Mtime = time.Now()
	v.totalBytes += newSize - oldSize
	if isNew {
		v.fileCount++
	}
	v.notify("writeFile", norm)
	return nil
}

// reserveQuota checks (but does not itself track file-count bookkeeping
// beyond this check) whether a write of deltaBytes is within the
// configured caps. isNewFile additionally checks the file-count cap.
func (v *VFS) reserveQuota(deltaBytes int64, isNewFile bool) error {
	if v.opts.FSLimitBytes > 0 && v.totalBytes+deltaBytes > v.opts.FSLimitBytes {
		return newErr("writeFile", "", ENOSPC)
	}
	if isNewFile && v.opts.FileCountLimit > 0 && v.fileCount+1 > v.opts.FileCountLimit {
		return newErr("writeFile", "", ENOSPC)
	}
	return nil
}

// Mkdir creates a single directory; the parent must already exist.
func (v *VFS) Mkdir(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mkdirLocked(path)
}

func (v *VFS) mkdirLocked(path string) error {
	norm := normalize(path)
	if !v.writableLocked(norm) {
		return newErr("mkdir", norm, EROFS)
	}
	segs := splitPath(path)
	if len(segs) == 0 {
		return newErr("mkdir", norm, EEXIST)
	}
	parent, name, node, err := v.walk(segs, true)
	if err != nil {
		return err
	}
	if parent == nil {
		return newErr("mkdir", norm, EEXIST)
	}
	if node != nil {
		return newErr("mkdir", norm, EEXIST)
	}
	parent.addChild(name, newDirInode(0755))
	parent.Mtime = time.Now()
	v.notify("mkdir", norm)
	return nil
}

// Mkdirp creates path and any missing ancestors.
func (v *VFS) Mkdirp(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	segs := splitPath(path)
	cur := "/"
	for _, seg := range segs {
		cur = normalize(cur + "/" + seg)
		node, err := v.resolve(cur, true)
		if err == nil {
			if node.Kind != KindDir {
				return newErr("mkdirp", cur, ENOTDIR)
			}
			continue
		}
		if err := v.mkdirLocked(cur); err != nil {
			if CodeOf(err) != EEXIST {
				return err
			}
		}
	}
	return nil
}

// Readdir lists the entries of a directory, in insertion order.
func (v *VFS) Readdir(path string) ([]DirEntry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	segs := splitPath(path)
	if p, rel, ok := v.findMount(segs); ok {
		return p.Readdir(rel)
	}
	node, err := v.resolve(path, false)
	if err != nil {
		return nil, err
	}
	if node.Kind != KindDir {
		return nil, newErr("readdir", normalize(path), ENOTDIR)
	}
	entries := make([]DirEntry, 0, len(node.order))
	for _, name := range node.order {
		child := node.children[name]
		entries = append(entries, DirEntry{
			Name: name,
			Kind: child.Kind,
			Size: child.size(),
			Mode: fileInfoMode(child),
		})
	}
	return entries, nil
}

// Unlink removes a file or symlink (not a directory).
func (v *VFS) Unlink(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	norm := normalize(path)
	if !v.writableLocked(norm) {
		return newErr("unlink", norm, EROFS)
	}
	segs := splitPath(path)
	parent, name, node, err := v.walk(segs, false)
	if err != nil {
		return err
	}
	if node == nil {
		return newErr("unlink", norm, ENOENT)
	}
	if node.Kind == KindDir {
		return newErr("unlink", norm, EISDIR)
	}
	parent.removeChild(name)
	parent.Mtime = time.Now()
	if node.Kind == KindFile {
		v.totalBytes -= node.size()
		v.fileCount--
	}
	v.notify("unlink", norm)
	return nil
}

// Rmdir removes an empty directory.
func (v *VFS) Rmdir(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	norm := normalize(path)
	if !v.writableLocked(norm) {
		return newErr("rmdir", norm, EROFS)
	}
	segs := splitPath(path)
	if len(segs) == 0 {
		return newErr("rmdir", norm, EACCES)
	}
	parent, name, node, err := v.walk(segs, false)
	if err != nil {
		return err
	}
	if node == nil {
		return newErr("rmdir", norm, ENOENT)
	}
	if node.Kind != KindDir {
		return newErr("rmdir", norm, ENOTDIR)
	}
	if len(node.order) > 0 {
		return newErr("rmdir", norm, ENOTEMPTY)
	}
	parent.removeChild(name)
	parent.Mtime = time.Now()
	v.notify("rmdir", norm)
	return nil
}

// Rename moves from to to, atomically from the caller's perspective.
func (v *VFS) Rename(from, to string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	nfrom, nto := normalize(from), normalize(to)
	if !v.writableLocked(nfrom) || !v.writableLocked(nto) {
		return newErr("rename", nto, EROFS)
	}
	fromParent, fromName, fromNode, err := v.walk(splitPath(from), false)
	if err != nil {
		return err
	}
	if fromNode == nil {
		return newErr("rename", nfrom, ENOENT)
	}
	toParent, toName, toNode, err := v.walk(splitPath(to), false)
	if err != nil {
		return err
	}
	if toParent == nil {
		return newErr("rename", nto, EEXIST)
	}
	if toNode != nil {
		if toNode.Kind == KindDir {
			if fromNode.Kind != KindDir {
				return newErr("rename", nto, EISDIR)
			}
			if len(toNode.order) > 0 {
				return newErr("rename", nto, ENOTEMPTY)
			}
		} else if fromNode.Kind == KindDir {
			return newErr("rename", nto, ENOTDIR)
		}
	}
	fromParent.removeChild(fromName)
	toParent.addChild(toName, fromNode)
	fromParent.Mtime = time.Now()
	toParent.Mtime = time.Now()
	v.notify("rename", nto)
	return nil
}

// Symlink creates a symlink at link pointing at target. target is stored
// verbatim and resolved relative to link's directory when relative.
func (v *VFS) Symlink(target, link string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	norm := normalize(link)
	if !v.writableLocked(norm) {
		return newErr("symlink", norm, EROFS)
	}
	parent, name, node, err := v.walk(splitPath(link), false)
	if err != nil {
		return err
	}
	if parent == nil || node != nil {
		return newErr("symlink", norm, EEXIST)
	}
	parent.addChild(name, newSymlinkInode(target))
	parent.Mtime = time.Now()
	v.notify("symlink", norm)
	return nil
}

// Readlink returns a symlink's target without following it.
func (v *VFS) Readlink(path string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	node, err := v.resolve(path, true)
	if err != nil {
		return "", err
	}
	if node.Kind != KindSymlink {
		return "", newErr("readlink", normalize(path), EACCES)
	}
	return node.target, nil
}

// Chmod sets a node's permission bits.
func (v *VFS) Chmod(path string, mode os.FileMode) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	norm := normalize(path)
	if !v.writableLocked(norm) {
		return newErr("chmod", norm, EROFS)
	}
	node, err := v.resolve(path, false)
	if err != nil {
		return err
	}
	node.Perm = mode.Perm()
	node.Ctime = time.Now()
	v.notify("chmod", norm)
	return nil
}
