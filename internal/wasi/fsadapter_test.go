package wasi

import (
	"io"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunnymar/codepod/internal/vfs"
)

func newTestVFS(t *testing.T) *vfs.VFS {
	v := vfs.New(vfs.Options{})
	require.NoError(t, v.Mkdirp("/tmp"))
	require.NoError(t, v.WriteFile("/tmp/hello.txt", []byte("hi")))
	v.EndBootstrap()
	return v
}

func TestFSOpenReadsFile(t *testing.T) {
	fsys := NewFS(newTestVFS(t))
	f, err := fsys.Open("tmp/hello.txt")
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestFSOpenMissingFileIsNotExist(t *testing.T) {
	fsys := NewFS(newTestVFS(t))
	_, err := fsys.Open("tmp/nope.txt")
	assert.True(t, fs.ErrNotExist == asPathErr(err))
}

func asPathErr(err error) error {
	if pe, ok := err.(*fs.PathError); ok {
		return pe.Err
	}
	return err
}

func TestFSReadDirListsEntries(t *testing.T) {
	fsys := NewFS(newTestVFS(t))
	entries, err := fs.ReadDir(fsys, "tmp")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello.txt", entries[0].Name())
	assert.False(t, entries[0].IsDir())
}

func TestFSWriteThenReopen(t *testing.T) {
	v := newTestVFS(t)
	fsys := NewFS(v)
	f, err := fsys.Open("tmp/hello.txt")
	require.NoError(t, err)
	wf, ok := f.(io.Writer)
	require.True(t, ok)
	n, err := wf.Write([]byte("xx"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, f.Close())

	got, err := v.ReadFile("/tmp/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "xx", string(got))
}
