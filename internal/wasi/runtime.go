// Package wasi wires wazero's WASI preview1 implementation and a small
// set of codepod-specific host imports (host_pipe, host_spawn,
// host_waitpid, host_close_fd, host_yield, host_check_cancel,
// host_time_ms, host_network_fetch, host_extension_invoke,
// host_is_extension) to internal/vfs and internal/kernel, and implements
// kernel.Launcher so a spawned guest program is a real compiled and
// instantiated WASM module rather than a host-native goroutine.
//
// Grounded on wazero's own public configuration surface (NewFSConfig /
// WithFS, HostModuleBuilder) the way other_examples' vendored fsconfig.go
// copies (moby, containerd/nri) show it wired into an embedding host.
package wasi

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/sunnymar/codepod/internal/bridge"
	"github.com/sunnymar/codepod/internal/kernel"
	"github.com/sunnymar/codepod/internal/vfs"
)

// Runtime owns one wazero.Runtime and the host module exposing codepod's
// kernel syscalls to every guest instantiated from it.
type Runtime struct {
	mu       sync.Mutex
	ctx      context.Context
	rt       wazero.Runtime
	vfs      *vfs.VFS
	kernel   *kernel.Kernel
	compiled map[string]wazero.CompiledModule
	programs map[string][]byte

	network    *bridge.Channel
	extensions map[string]ExtensionFunc
}

// ExtensionFunc runs one registered extension call (spec.md §4.9):
// {args, stdin, env, cwd} -> {exitCode, stdout?, stderr?}.
type ExtensionFunc func(ctx context.Context, args []string, stdin []byte, env map[string]string, cwd string) (exitCode int, stdout, stderr []byte, err error)

// New builds a Runtime backed by v and k. programs maps a program name
// (as named in SpawnRequest.Prog) to its compiled WASM bytes; the
// sandbox facade populates this from its tool registry. network is the
// bridge channel host_network_fetch calls through; it may be nil if the
// sandbox has no network capability. extensions is the allowlisted
// name->implementation table host_extension_invoke dispatches through.
func New(ctx context.Context, v *vfs.VFS, k *kernel.Kernel, programs map[string][]byte, network *bridge.Channel, extensions map[string]ExtensionFunc) (*Runtime, error) {
	rt := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return nil, fmt.Errorf("wasi: instantiate wasi_snapshot_preview1: %w", err)
	}
	r := &Runtime{
		ctx:        ctx,
		rt:         rt,
		vfs:        v,
		kernel:     k,
		compiled:   make(map[string]wazero.CompiledModule),
		programs:   programs,
		network:    network,
		extensions: extensions,
	}
	if err := r.registerHostModule(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Close releases the underlying wazero runtime and every module it
// compiled.
func (r *Runtime) Close(ctx context.Context) error {
	return r.rt.Close(ctx)
}

func (r *Runtime) compile(ctx context.Context, prog string) (wazero.CompiledModule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cm, ok := r.compiled[prog]; ok {
		return cm, nil
	}
	bin, ok := r.programs[prog]
	if !ok {
		return nil, fmt.Errorf("wasi: unknown program %q", prog)
	}
	cm, err := r.rt.CompileModule(ctx, bin)
	if err != nil {
		return nil, fmt.Errorf("wasi: compile %q: %w", prog, err)
	}
	r.compiled[prog] = cm
	return cm, nil
}

// Launch implements kernel.Launcher: instantiate and run prog as pid,
// inheriting stdio from fds, then report the process's exit code through
// the kernel.Process machinery once the guest's _start returns (or
// traps).
func (r *Runtime) Launch(caller *kernel.Process, pid int, req kernel.SpawnRequest, fds *kernel.FDTable) (*kernel.Process, error) {
	cm, err := r.compile(r.ctx, req.Prog)
	if err != nil {
		return nil, err
	}

	proc := kernel.NewProcess(pid, fds)

	envPairs := make([]string, 0, len(req.Env)*2)
	for k, v := range req.Env {
		envPairs = append(envPairs, k, v)
	}

	cfg := wazero.NewModuleConfig().
		WithFS(NewFS(r.vfs)).
		WithArgs(append([]string{req.Prog}, req.Argv...)...)
	for i := 0; i+1 < len(envPairs); i += 2 {
		cfg = cfg.WithEnv(envPairs[i], envPairs[i+1])
	}

	go func() {
		ctx := withProcess(r.ctx, proc)
		mod, err := r.rt.InstantiateModule(ctx, cm, cfg)
		code := 0
		if err != nil {
			if exitErr, ok := exitCode(err); ok {
				code = exitErr
			} else {
				code = 1
			}
		}
		if mod != nil {
			mod.Close(ctx)
		}
		proc.Exit(code)
	}()

	return proc, nil
}

// exitCode extracts a WASI proc_exit status from a module instantiation
// error, if that's what it was.
func exitCode(err error) (int, bool) {
	type exitCoder interface{ ExitCode() uint32 }
	if ec, ok := err.(exitCoder); ok {
		return int(ec.ExitCode()), true
	}
	return 0, false
}

// procCtxKey keys the calling *kernel.Process into a context so host
// import functions can find their caller.
type procCtxKey struct{}

func withProcess(ctx context.Context, p *kernel.Process) context.Context {
	return context.WithValue(ctx, procCtxKey{}, p)
}

func processFrom(ctx context.Context) *kernel.Process {
	p, _ := ctx.Value(procCtxKey{}).(*kernel.Process)
	return p
}

