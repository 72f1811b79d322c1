package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunnymar/codepod/internal/sandbox"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, string) {
	t.Helper()
	root, err := sandbox.Create(context.Background(), sandbox.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = root.Destroy(context.Background()) })

	reg := NewRegistry(root, root.ID())
	d := New()
	RegisterMethods(d, reg)
	return d, root.ID()
}

func call(t *testing.T, d *Dispatcher, id, method string, params any) Response {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	line, err := json.Marshal(Request{ID: json.RawMessage(`"` + id + `"`), Method: method, Params: raw})
	require.NoError(t, err)

	var in bytes.Buffer
	in.Write(line)
	in.WriteByte('\n')
	var out bytes.Buffer
	require.NoError(t, d.Serve(context.Background(), &in, &out))

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	return resp
}

func TestMethodsFilesWriteThenRead(t *testing.T) {
	d, _ := newTestDispatcher(t)

	resp := call(t, d, "1", "files.write", writeParams{Path: "/note.txt", Data: []byte("hi there")})
	require.Nil(t, resp.Error)

	resp = call(t, d, "2", "files.read", pathParams{Path: "/note.txt"})
	require.Nil(t, resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var content []byte
	require.NoError(t, json.Unmarshal(raw, &content))
	assert.Equal(t, "hi there", string(content))
}

func TestMethodsEnvSetThenGet(t *testing.T) {
	d, _ := newTestDispatcher(t)

	resp := call(t, d, "1", "env.set", envKVParams{Key: "STAGE", Value: "prod"})
	require.Nil(t, resp.Error)

	resp = call(t, d, "2", "env.get", envKVParams{Key: "STAGE"})
	require.Nil(t, resp.Error)

	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var got struct {
		Value string `json:"value"`
		Found bool   `json:"found"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.True(t, got.Found)
	assert.Equal(t, "prod", got.Value)
}

func TestMethodsSnapshotCreateThenRestore(t *testing.T) {
	d, _ := newTestDispatcher(t)

	require.Nil(t, call(t, d, "1", "files.write", writeParams{Path: "/a.txt", Data: []byte("v1")}).Error)
	require.Nil(t, call(t, d, "2", "env.set", envKVParams{Key: "K", Value: "v1"}).Error)

	resp := call(t, d, "3", "snapshot.create", sandboxRef{})
	require.Nil(t, resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var snap struct {
		SnapshotID string `json:"snapshotId"`
	}
	require.NoError(t, json.Unmarshal(raw, &snap))
	require.NotEmpty(t, snap.SnapshotID)

	require.Nil(t, call(t, d, "4", "files.write", writeParams{Path: "/a.txt", Data: []byte("v2")}).Error)
	require.Nil(t, call(t, d, "5", "env.set", envKVParams{Key: "K", Value: "v2"}).Error)

	resp = call(t, d, "6", "snapshot.restore", snapshotRestoreParams{SnapshotID: snap.SnapshotID})
	require.Nil(t, resp.Error)

	resp = call(t, d, "7", "files.read", pathParams{Path: "/a.txt"})
	require.Nil(t, resp.Error)
	raw, err = json.Marshal(resp.Result)
	require.NoError(t, err)
	var content []byte
	require.NoError(t, json.Unmarshal(raw, &content))
	assert.Equal(t, "v1", string(content))
}

func TestMethodsForkThenDestroy(t *testing.T) {
	d, rootID := newTestDispatcher(t)

	require.Nil(t, call(t, d, "1", "files.write", writeParams{Path: "/shared.txt", Data: []byte("x")}).Error)

	resp := call(t, d, "2", "sandbox.fork", sandboxRef{})
	require.Nil(t, resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var fork struct {
		SandboxID string `json:"sandboxId"`
	}
	require.NoError(t, json.Unmarshal(raw, &fork))
	require.NotEmpty(t, fork.SandboxID)
	assert.NotEqual(t, rootID, fork.SandboxID)

	resp = call(t, d, "3", "files.read", pathParams{sandboxRef: sandboxRef{SandboxID: fork.SandboxID}, Path: "/shared.txt"})
	require.Nil(t, resp.Error)

	resp = call(t, d, "4", "sandbox.destroy", sandboxRef{SandboxID: fork.SandboxID})
	require.Nil(t, resp.Error)

	// Child sandbox id is no longer addressable after destroy.
	resp = call(t, d, "5", "files.read", pathParams{sandboxRef: sandboxRef{SandboxID: fork.SandboxID}, Path: "/shared.txt"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeSandboxError, resp.Error.Code)
}

func TestMethodsMountAndListHistory(t *testing.T) {
	d, _ := newTestDispatcher(t)
	dir := t.TempDir()

	resp := call(t, d, "1", "mount", mountParams{Host: dir, Sandbox: "/host", Writable: false})
	require.Nil(t, resp.Error)

	resp = call(t, d, "2", "files.list", pathParams{Path: "/host"})
	require.Nil(t, resp.Error)

	resp = call(t, d, "3", "shell.history.list", sandboxRef{})
	require.Nil(t, resp.Error)

	resp = call(t, d, "4", "shell.history.clear", sandboxRef{})
	require.Nil(t, resp.Error)
}
