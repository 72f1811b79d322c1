package vfs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVFS() *VFS {
	v := New(Options{})
	v.EndBootstrap()
	return v
}

func TestWriteReadRoundTrip(t *testing.T) {
	v := newTestVFS()
	require.NoError(t, v.Mkdirp("/tmp"))
	data := []byte("hello from host")
	require.NoError(t, v.WriteFile("/tmp/data.txt", data))

	got, err := v.ReadFile("/tmp/data.txt")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	st, err := v.Stat("/tmp/data.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), st.Size)
}

func TestPathNormalizationAgreement(t *testing.T) {
	v := newTestVFS()
	require.NoError(t, v.Mkdirp("/a/b"))
	require.NoError(t, v.WriteFile("/a/b/../b/c.txt", []byte("x")))

	got, err := v.ReadFile(normalize("/a/b/c.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)
}

func TestTraversalEscapeFails(t *testing.T) {
	v := New(Options{WritablePaths: []string{"/tmp"}})
	v.EndBootstrap()
	require.NoError(t, v.WithWriteAccess(func() error {
		return v.Mkdirp("/tmp")
	}))
	err := v.WriteFile("/tmp/../etc/passwd", []byte("x"))
	require.Error(t, err)
	assert.Equal(t, EROFS, CodeOf(err))
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	v := newTestVFS()
	require.NoError(t, v.Mkdirp("/tmp"))
	require.NoError(t, v.WriteFile("/tmp/x", []byte("before")))

	id := v.Snapshot(map[string]string{"K": "v1"})

	require.NoError(t, v.WriteFile("/tmp/x", []byte("after")))
	env, err := v.Restore(id)
	require.NoError(t, err)
	assert.Equal(t, "v1", env["K"])

	got, err := v.ReadFile("/tmp/x")
	require.NoError(t, err)
	assert.Equal(t, []byte("before"), got)

	// snapshot is reusable
	env2, err := v.Restore(id)
	require.NoError(t, err)
	assert.Equal(t, "v1", env2["K"])
}

func TestCowCloneIsolation(t *testing.T) {
	v := newTestVFS()
	require.NoError(t, v.Mkdirp("/tmp"))
	require.NoError(t, v.WriteFile("/tmp/x", []byte("before")))

	child := v.CowClone()
	require.NoError(t, child.WriteFile("/tmp/x", []byte("after")))

	parentData, err := v.ReadFile("/tmp/x")
	require.NoError(t, err)
	assert.Equal(t, []byte("before"), parentData)

	childData, err := child.ReadFile("/tmp/x")
	require.NoError(t, err)
	assert.Equal(t, []byte("after"), childData)
}

func TestQuotaEnospc(t *testing.T) {
	v := New(Options{FSLimitBytes: 4})
	v.EndBootstrap()
	err := v.WriteFile("/small", []byte("ok"))
	require.NoError(t, err)
	err = v.WriteFile("/big", []byte("toolong"))
	require.Error(t, err)
	assert.Equal(t, ENOSPC, CodeOf(err))
}

func TestSymlinkLoopBoundedAt41(t *testing.T) {
	v := newTestVFS()
	require.NoError(t, v.Symlink("/loop2", "/loop1"))
	for i := 2; i <= 41; i++ {
		require.NoError(t, v.Symlink("/loop"+itoa(i+1), "/loop"+itoa(i)))
	}
	_, err := v.ReadFile("/loop1")
	require.Error(t, err)
	assert.Equal(t, ELOOP, CodeOf(err))
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('0' + i%10)}, b...)
		i /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

func TestRmdirRequiresEmpty(t *testing.T) {
	v := newTestVFS()
	require.NoError(t, v.Mkdirp("/a/b"))
	err := v.Rmdir("/a")
	require.Error(t, err)
	assert.Equal(t, ENOTEMPTY, CodeOf(err))
	require.NoError(t, v.Rmdir("/a/b"))
	require.NoError(t, v.Rmdir("/a"))
}

func TestReaddirOrder(t *testing.T) {
	v := newTestVFS()
	require.NoError(t, v.Mkdir("/d"))
	names := []string{"c", "a", "b"}
	for _, n := range names {
		require.NoError(t, v.WriteFile("/d/"+n, []byte("x")))
	}
	entries, err := v.Readdir("/d")
	require.NoError(t, err)
	got := make([]string, len(entries))
	for i, e := range entries {
		got[i] = e.Name
	}
	assert.Equal(t, names, got)
	assert.True(t, strings.HasPrefix(entries[0].Name, "c"))
}
