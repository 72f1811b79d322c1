package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunnymar/codepod/internal/vfs"
)

func newTestVFS(t *testing.T) *vfs.VFS {
	v := vfs.New(vfs.Options{})
	v.EndBootstrap()
	return v
}

func TestEphemeralModeAlwaysErrors(t *testing.T) {
	v := newTestVFS(t)
	m, err := New(Options{Mode: Ephemeral, Backend: NewMemoryBackend(), VFS: v, Namespace: "n"})
	require.NoError(t, err)
	assert.ErrorIs(t, m.SaveState(), ErrEphemeral)
	assert.ErrorIs(t, m.LoadState(), ErrEphemeral)
	assert.ErrorIs(t, m.ClearPersistedState(), ErrEphemeral)
}

func TestSessionModeManualSaveLoadRoundTrip(t *testing.T) {
	backend := NewMemoryBackend()
	v := newTestVFS(t)
	require.NoError(t, v.Mkdirp("/tmp"))
	require.NoError(t, v.WriteFile("/tmp/a.txt", []byte("data")))

	m, err := New(Options{Mode: Session, Backend: backend, VFS: v, Namespace: "N"})
	require.NoError(t, err)
	require.NoError(t, m.SaveState())

	v2 := newTestVFS(t)
	m2, err := New(Options{Mode: Session, Backend: backend, VFS: v2, Namespace: "N"})
	require.NoError(t, err)
	require.NoError(t, m2.LoadState())

	got, err := v2.ReadFile("/tmp/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
}

func TestPersistentModeLoadsOnCreateAndAutosaves(t *testing.T) {
	backend := NewMemoryBackend()

	vA := newTestVFS(t)
	mA, err := New(Options{Mode: Persistent, Backend: backend, VFS: vA, Namespace: "shared", Debounce: 5 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, vA.Mkdirp("/tmp"))
	require.NoError(t, vA.WriteFile("/tmp/persist.txt", []byte("persisted")))

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, mA.Dispose())

	vB := newTestVFS(t)
	_, err = New(Options{Mode: Persistent, Backend: backend, VFS: vB, Namespace: "shared", Debounce: 5 * time.Millisecond})
	require.NoError(t, err)

	got, err := vB.ReadFile("/tmp/persist.txt")
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(got))
}

func TestSanitizeNamespaceCollapsesToSafeCharset(t *testing.T) {
	assert.Equal(t, "a_b_c", SanitizeNamespace("a/b c"))
	assert.Equal(t, "_", SanitizeNamespace("///"))
}
