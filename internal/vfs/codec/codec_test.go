package codec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunnymar/codepod/internal/vfs"
	"github.com/sunnymar/codepod/internal/vfs/codec"
	"github.com/sunnymar/codepod/internal/vfs/provider/devproc"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	v := vfs.New(vfs.Options{})
	v.EndBootstrap()
	require.NoError(t, v.Mount("/dev", devproc.NewDev()))
	require.NoError(t, v.Mount("/proc", devproc.NewProc("codepod/test")))
	require.NoError(t, v.Mkdirp("/tmp"))
	require.NoError(t, v.WriteFile("/tmp/a.txt", []byte("hello")))

	blob, err := codec.Encode(v, []string{"/dev", "/proc"}, map[string]string{"FOO": "bar"})
	require.NoError(t, err)
	assert.Equal(t, "WSND", string(blob[:4]))

	decoded, err := codec.Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, "bar", decoded.Env["FOO"])

	for _, f := range decoded.Files {
		assert.NotContains(t, f.Path, "/dev")
		assert.NotContains(t, f.Path, "/proc")
	}

	fresh := vfs.New(vfs.Options{})
	fresh.EndBootstrap()
	require.NoError(t, codec.Apply(fresh, decoded))
	data, err := fresh.ReadFile("/tmp/a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	blob := append([]byte{}, codec.Magic[:]...)
	blob = append(blob, 2, 0, 0, 0) // version 2, little-endian
	blob = append(blob, []byte(`{"version":2,"files":[]}`)...)

	_, err := codec.Decode(blob)
	require.Error(t, err)
	assert.ErrorIs(t, err, codec.ErrUnsupportedVersion)
}
