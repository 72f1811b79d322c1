package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMountDefaultsToReadOnly(t *testing.T) {
	m, err := ParseMount("/host/dir:/sandbox/dir")
	require.NoError(t, err)
	assert.Equal(t, "/host/dir", m.HostPath)
	assert.Equal(t, "/sandbox/dir", m.SandboxPath)
	assert.False(t, m.Writable)
}

func TestParseMountExplicitRW(t *testing.T) {
	m, err := ParseMount("/host:/sandbox:rw")
	require.NoError(t, err)
	assert.True(t, m.Writable)
}

func TestParseMountRejectsBadMode(t *testing.T) {
	_, err := ParseMount("/host:/sandbox:bogus")
	assert.Error(t, err)
}

func TestParseMountRejectsMissingField(t *testing.T) {
	_, err := ParseMount("/host-only")
	assert.Error(t, err)
}

func TestLoadAppliesDefaultsWithNoOverrides(t *testing.T) {
	opts, err := Load(CLI{})
	require.NoError(t, err)
	assert.Equal(t, int64(30_000), opts.TimeoutMs)
	assert.Equal(t, int64(256<<20), opts.FSLimitBytes)
}

func TestLoadPrecedenceCLIOverEnvOverJSON(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "codepod.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"timeoutMs":1000,"wasmDir":"/from-json"}`), 0o644))

	t.Setenv("CODEPOD_TIMEOUT_MS", "2000")
	t.Setenv("CODEPOD_WASM_DIR", "/from-env")

	opts, err := Load(CLI{ConfigPath: cfgPath, TimeoutMs: 3000})
	require.NoError(t, err)
	assert.Equal(t, int64(3000), opts.TimeoutMs) // CLI wins
	assert.Equal(t, "/from-env", opts.WasmDir)    // env beats JSON
}

func TestLoadMountEnvStopsAtFirstGap(t *testing.T) {
	t.Setenv("CODEPOD_MOUNT_0", "/h0:/s0")
	t.Setenv("CODEPOD_MOUNT_1", "/h1:/s1:rw")
	t.Setenv("CODEPOD_MOUNT_3", "/h3:/s3") // gap at index 2; never reached

	opts, err := Load(CLI{})
	require.NoError(t, err)
	require.Len(t, opts.Mounts, 2)
	assert.Equal(t, "/s1", opts.Mounts[1].SandboxPath)
	assert.True(t, opts.Mounts[1].Writable)
}

func TestLoadMountListIsReplacedNotMergedAcrossLayers(t *testing.T) {
	t.Setenv("CODEPOD_MOUNT_0", "/h0:/s0")

	opts, err := Load(CLI{Mounts: []string{"/h1:/s1"}})
	require.NoError(t, err)
	require.Len(t, opts.Mounts, 1)
	assert.Equal(t, "/s1", opts.Mounts[0].SandboxPath)
}
