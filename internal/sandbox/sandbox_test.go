package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSandbox(t *testing.T, opts Options) *Sandbox {
	t.Helper()
	sb, err := Create(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sb.Destroy(context.Background()) })
	return sb
}

func TestCreateEmitsCreateEvent(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	events := sb.GetHistory()
	require.Len(t, events, 1)
	assert.Equal(t, "sandbox.create", events[0].Type)
	assert.Equal(t, sb.ID(), events[0].SessionID)
}

func TestFileOperationsRoundTrip(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	require.NoError(t, sb.Mkdir("/work"))
	require.NoError(t, sb.WriteFile("/work/a.txt", []byte("hello")))

	got, err := sb.ReadFile("/work/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	entries, err := sb.ReadDir("/work")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Name)

	require.NoError(t, sb.Rm("/work/a.txt"))
	_, err = sb.ReadFile("/work/a.txt")
	assert.Error(t, err)
}

func TestEnvSetGetIsolatedPerSandbox(t *testing.T) {
	a := newTestSandbox(t, Options{})
	b := newTestSandbox(t, Options{})

	a.SetEnv("FOO", "bar")
	v, ok := a.GetEnv("FOO")
	assert.True(t, ok)
	assert.Equal(t, "bar", v)

	_, ok = b.GetEnv("FOO")
	assert.False(t, ok)
}

func TestDestroyIsIdempotentAndBlocksFurtherOps(t *testing.T) {
	sb, err := Create(context.Background(), Options{})
	require.NoError(t, err)

	require.NoError(t, sb.Destroy(context.Background()))
	require.NoError(t, sb.Destroy(context.Background())) // idempotent

	_, err = sb.ReadFile("/nope")
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestRunRejectsOversizeCommand(t *testing.T) {
	sb := newTestSandbox(t, Options{Limits: Limits{CommandBytes: 8}})
	res, err := sb.Run(context.Background(), []string{"this-argv-is-definitely-too-long"}, nil, nil, "/", Cooperative)
	require.NoError(t, err)
	assert.Equal(t, ClassLimitExceeded, res.ErrorClass)
	assert.Equal(t, 1, res.ExitCode)
}

func TestRunDeniesToolNotOnAllowlist(t *testing.T) {
	sb := newTestSandbox(t, Options{ToolAllowlist: []string{"other"}, ShellProgram: "shell"})
	res, err := sb.Run(context.Background(), nil, nil, nil, "/", Cooperative)
	require.NoError(t, err)
	assert.Equal(t, ClassCapabilityDenied, res.ErrorClass)
	assert.Equal(t, 126, res.ExitCode)
	assert.Contains(t, string(res.Stderr), "not allowed")

	events := sb.GetHistory()
	assert.Equal(t, "capability.denied", events[len(events)-1].Type)
}

func TestSnapshotRestoreRoundTripsFilesAndEnv(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	require.NoError(t, sb.WriteFile("/a.txt", []byte("v1")))
	sb.SetEnv("STAGE", "one")

	id, err := sb.Snapshot()
	require.NoError(t, err)

	require.NoError(t, sb.WriteFile("/a.txt", []byte("v2")))
	sb.SetEnv("STAGE", "two")

	env, err := sb.Restore(id)
	require.NoError(t, err)
	assert.Equal(t, "one", env["STAGE"])

	got, err := sb.ReadFile("/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))

	v, _ := sb.GetEnv("STAGE")
	assert.Equal(t, "one", v)
}

func TestMountAddsHostDirectory(t *testing.T) {
	dir := t.TempDir()
	sb := newTestSandbox(t, Options{})
	require.NoError(t, sb.Mount(MountSpec{HostPath: dir, SandboxPath: "/host", Writable: false}))

	entries, err := sb.ReadDir("/host")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestForkProducesIndependentSandbox(t *testing.T) {
	parent := newTestSandbox(t, Options{})
	require.NoError(t, parent.WriteFile("/shared.txt", []byte("seen-by-child")))
	parent.SetEnv("K", "v")

	child, err := parent.Fork(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = child.Destroy(context.Background()) })

	assert.NotEqual(t, parent.ID(), child.ID())

	got, err := child.ReadFile("/shared.txt")
	require.NoError(t, err)
	assert.Equal(t, "seen-by-child", string(got))

	v, ok := child.GetEnv("K")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	// Writes to the child don't leak back to the parent (COW).
	require.NoError(t, child.WriteFile("/child-only.txt", []byte("x")))
	_, err = parent.ReadFile("/child-only.txt")
	assert.Error(t, err)
}

func TestClearHistoryEmptiesRingBuffer(t *testing.T) {
	sb := newTestSandbox(t, Options{})
	assert.NotEmpty(t, sb.GetHistory())
	sb.ClearHistory()
	assert.Empty(t, sb.GetHistory())
}
