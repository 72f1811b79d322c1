package wasi

import (
	"context"
	"encoding/json"
	"runtime"
	"time"

	"github.com/tetratelabs/wazero/api"

	"github.com/sunnymar/codepod/internal/kernel"
)

const hostModuleName = "codepod"

// registerHostModule exports ten host imports beyond plain WASI:
// host_pipe, host_spawn, host_waitpid, host_close_fd, host_yield,
// host_check_cancel, host_time_ms, host_network_fetch,
// host_extension_invoke and host_is_extension. Every function resolves its caller's
// *kernel.Process from the instantiation context (see withProcess) so
// the kernel can route the call against the right fd table.
func (r *Runtime) registerHostModule(ctx context.Context) error {
	builder := r.rt.NewHostModuleBuilder(hostModuleName)

	builder.NewFunctionBuilder().
		WithFunc(r.hostPipe).
		Export("host_pipe")

	builder.NewFunctionBuilder().
		WithFunc(r.hostSpawn).
		Export("host_spawn")

	builder.NewFunctionBuilder().
		WithFunc(r.hostWaitpid).
		Export("host_waitpid")

	builder.NewFunctionBuilder().
		WithFunc(r.hostCloseFD).
		Export("host_close_fd")

	builder.NewFunctionBuilder().
		WithFunc(r.hostYield).
		Export("host_yield")

	builder.NewFunctionBuilder().
		WithFunc(r.hostCheckCancel).
		Export("host_check_cancel")

	builder.NewFunctionBuilder().
		WithFunc(r.hostTimeMs).
		Export("host_time_ms")

	builder.NewFunctionBuilder().
		WithFunc(r.hostNetworkFetch).
		Export("host_network_fetch")

	builder.NewFunctionBuilder().
		WithFunc(r.hostExtensionInvoke).
		Export("host_extension_invoke")

	builder.NewFunctionBuilder().
		WithFunc(r.hostIsExtension).
		Export("host_is_extension")

	_, err := builder.Instantiate(ctx)
	return err
}

// hostPipe writes the allocated read/write fd numbers as two little
// endian i32s at readFDPtr/writeFDPtr. Returns 0 on success, -1 if the
// guest passed bad pointers.
func (r *Runtime) hostPipe(ctx context.Context, mod api.Module, readFDPtr, writeFDPtr uint32) int32 {
	proc := processFrom(ctx)
	if proc == nil {
		return -1
	}
	readFD, writeFD := r.kernel.Pipe(proc)
	if !mod.Memory().WriteUint32Le(readFDPtr, uint32(readFD)) {
		return -1
	}
	if !mod.Memory().WriteUint32Le(writeFDPtr, uint32(writeFD)) {
		return -1
	}
	return 0
}

// spawnWire is the JSON shape the guest's syscall shim serializes a
// SpawnRequest into, since WASM function signatures carry only numeric
// params: a compact struct travels through guest linear memory as a
// single JSON blob instead of one parameter per field.
type spawnWire struct {
	Prog     string            `json:"prog"`
	Argv     []string          `json:"argv"`
	Env      map[string]string `json:"env"`
	Cwd      string            `json:"cwd"`
	StdinFD  int               `json:"stdin_fd"`
	StdoutFD int               `json:"stdout_fd"`
	StderrFD int               `json:"stderr_fd"`
}

// hostSpawn reads a JSON-encoded spawnWire from guest memory at
// [reqPtr, reqPtr+reqLen) and returns the new pid, or -1 on failure.
func (r *Runtime) hostSpawn(ctx context.Context, mod api.Module, reqPtr, reqLen uint32) int32 {
	proc := processFrom(ctx)
	if proc == nil {
		return -1
	}
	raw, ok := mod.Memory().Read(reqPtr, reqLen)
	if !ok {
		return -1
	}
	var w spawnWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return -1
	}
	pid, err := r.kernel.Spawn(proc, kernel.SpawnRequest{
		Prog:     w.Prog,
		Argv:     w.Argv,
		Env:      w.Env,
		Cwd:      w.Cwd,
		StdinFD:  w.StdinFD,
		StdoutFD: w.StdoutFD,
		StderrFD: w.StderrFD,
	})
	if err != nil {
		return -1
	}
	return int32(pid)
}

// hostWaitpid blocks the calling goroutine (not the guest's own thread,
// since wazero invocations already run on a dedicated goroutine per
// instantiation) until pid exits, returning its exit code, or -1 if pid
// is unknown.
func (r *Runtime) hostWaitpid(ctx context.Context, pid uint32) int32 {
	code, err := r.kernel.Waitpid(ctx, int(pid))
	if err != nil {
		return -1
	}
	return int32(code)
}

func (r *Runtime) hostCloseFD(ctx context.Context, fd uint32) int32 {
	proc := processFrom(ctx)
	if proc == nil {
		return -1
	}
	if err := r.kernel.CloseFD(proc, int(fd)); err != nil {
		return -1
	}
	return 0
}

// hostYield cooperatively yields the goroutine running the guest,
// standing in for the original's cooperative scheduling tick between
// synchronous bridge calls (spec.md §4.6).
func (r *Runtime) hostYield(ctx context.Context) {
	runtime.Gosched()
}

// hostCheckCancel surfaces kernel.CancelStatus to the guest so its
// syscall shim can poll for a pending timeout or hard cancellation
// between blocking operations.
func (r *Runtime) hostCheckCancel(ctx context.Context) int32 {
	proc := processFrom(ctx)
	if proc == nil {
		return int32(kernel.CancelOK)
	}
	return int32(proc.CheckCancel())
}

// hostTimeMs returns the current wall clock in milliseconds since the
// Unix epoch; guests have no other source of real time.
func (r *Runtime) hostTimeMs(ctx context.Context) int64 {
	return time.Now().UnixMilli()
}

// jsonResultWrite serializes v as JSON into guest memory at
// [bufPtr, bufPtr+bufLen) and returns the byte count written, or a
// negative value if the buffer was too small — matching spec.md §4.4's
// "functions that return JSON write into a guest-supplied buffer and
// return the byte count written (or a negative errno on buffer-too-small)".
func jsonResultWrite(mod api.Module, bufPtr, bufLen uint32, v any) int32 {
	b, err := json.Marshal(v)
	if err != nil {
		return -1
	}
	if uint32(len(b)) > bufLen {
		return -1
	}
	if !mod.Memory().Write(bufPtr, b) {
		return -1
	}
	return int32(len(b))
}

type fetchResultWire struct {
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    []byte              `json:"body,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// hostNetworkFetch reads a JSON fetchSync request from guest memory,
// round-trips it through the network bridge channel, and writes the
// JSON-encoded result back into the guest's result buffer.
func (r *Runtime) hostNetworkFetch(ctx context.Context, mod api.Module, reqPtr, reqLen, resultPtr, resultLen uint32) int32 {
	if r.network == nil {
		return jsonResultWrite(mod, resultPtr, resultLen, fetchResultWire{Error: "network capability not configured"})
	}
	raw, ok := mod.Memory().Read(reqPtr, reqLen)
	if !ok {
		return -1
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return jsonResultWrite(mod, resultPtr, resultLen, fetchResultWire{Error: err.Error()})
	}
	bodyB64, _ := meta["body"].(string)
	delete(meta, "body")
	respMeta, respBin, err := r.network.Call(ctx, "fetchSync", meta, []byte(bodyB64))
	if err != nil {
		return jsonResultWrite(mod, resultPtr, resultLen, fetchResultWire{Error: err.Error()})
	}
	status, _ := respMeta["status"].(int)
	headers, _ := respMeta["headers"].(map[string][]string)
	return jsonResultWrite(mod, resultPtr, resultLen, fetchResultWire{Status: status, Headers: headers, Body: respBin})
}

type extensionInvokeWire struct {
	Name string            `json:"name"`
	Args []string          `json:"args"`
	Env  map[string]string `json:"env"`
	Cwd  string            `json:"cwd"`
}

type extensionResultWire struct {
	ExitCode int    `json:"exitCode"`
	Stdout   []byte `json:"stdout,omitempty"`
	Stderr   []byte `json:"stderr,omitempty"`
	Error    string `json:"error,omitempty"`
}

// hostExtensionInvoke reads a JSON extension call from guest memory,
// looks the name up in the registered extensions table, runs it
// synchronously, and writes the result back. A name that is not
// registered is refused with capability_denied. The sandbox's tool
// allowlist is not consulted here or anywhere else on this path: every
// registered extension is reachable.
func (r *Runtime) hostExtensionInvoke(ctx context.Context, mod api.Module, reqPtr, reqLen, stdinPtr, stdinLen, resultPtr, resultLen uint32) int32 {
	raw, ok := mod.Memory().Read(reqPtr, reqLen)
	if !ok {
		return -1
	}
	var w extensionInvokeWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return jsonResultWrite(mod, resultPtr, resultLen, extensionResultWire{Error: err.Error()})
	}
	fn, ok := r.extensions[w.Name]
	if !ok {
		return jsonResultWrite(mod, resultPtr, resultLen, extensionResultWire{Error: "capability_denied: extension not allowlisted"})
	}
	var stdin []byte
	if stdinLen > 0 {
		stdin, ok = mod.Memory().Read(stdinPtr, stdinLen)
		if !ok {
			return -1
		}
	}
	code, stdout, stderr, err := fn(ctx, w.Args, stdin, w.Env, w.Cwd)
	if err != nil {
		return jsonResultWrite(mod, resultPtr, resultLen, extensionResultWire{Error: err.Error()})
	}
	return jsonResultWrite(mod, resultPtr, resultLen, extensionResultWire{ExitCode: code, Stdout: stdout, Stderr: stderr})
}

// hostIsExtension reports whether name is a registered, allowlisted
// extension, letting the guest's dispatcher decide between a spawn and
// an extension invocation without attempting the call first.
func (r *Runtime) hostIsExtension(ctx context.Context, mod api.Module, namePtr, nameLen uint32) int32 {
	name, ok := readMemString(mod, namePtr, nameLen)
	if !ok {
		return -1
	}
	if _, ok := r.extensions[name]; ok {
		return 1
	}
	return 0
}

func readMemString(mod api.Module, ptr, length uint32) (string, bool) {
	b, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return "", false
	}
	return string(b), true
}
