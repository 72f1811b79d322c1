// Package sandbox is the facade of spec.md §4.9: lifecycle, run (in two
// strategies), fork, snapshot/restore, limits, tool allowlist, extension
// registry, and audit history. It composes internal/vfs, internal/kernel,
// internal/wasi, internal/bridge, internal/network and
// internal/persistence into the single object an embedder drives.
package sandbox

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sunnymar/codepod/internal/bridge"
	"github.com/sunnymar/codepod/internal/kernel"
	"github.com/sunnymar/codepod/internal/network"
	"github.com/sunnymar/codepod/internal/persistence"
	"github.com/sunnymar/codepod/internal/pysocket"
	"github.com/sunnymar/codepod/internal/vfs"
	"github.com/sunnymar/codepod/internal/vfs/codec"
	"github.com/sunnymar/codepod/internal/vfs/provider/devproc"
	"github.com/sunnymar/codepod/internal/vfs/provider/hostmount"
	"github.com/sunnymar/codepod/internal/wasi"
)

// ErrDestroyed is returned by any operation on a sandbox past destroy().
var ErrDestroyed = errors.New("sandbox: destroyed")

// MountSpec is one --mount HOST:SANDBOX[:ro|rw] entry (spec.md §6).
type MountSpec struct {
	HostPath    string
	SandboxPath string
	Writable    bool
}

// Options configures Create.
type Options struct {
	Limits        Limits
	WritablePaths []string
	NetworkAllow  []string
	NetworkBlock  []string
	Mounts        []MountSpec
	ToolAllowlist []string // empty means every tool name is allowed
	Extensions    map[string]wasi.ExtensionFunc
	Programs      map[string][]byte // tool registry: name -> compiled WASM bytes
	ShellProgram  string            // key into Programs used by Run
	ProcVersion   string

	Persistence persistence.Options
}

func (o Options) toolAllowed(name string) bool {
	if len(o.ToolAllowlist) == 0 {
		return true
	}
	for _, n := range o.ToolAllowlist {
		if n == name {
			return true
		}
	}
	return false
}

// RunResult is the facade's run() return shape (spec.md §4.9).
type RunResult struct {
	ExitCode        int
	Stdout          []byte
	Stderr          []byte
	ExecutionTimeMs int64
	Truncated       bool
	ErrorClass      ErrorClass
}

// Sandbox is one isolated execution environment.
type Sandbox struct {
	id      string
	opts    Options
	limits  Limits
	log     *logrus.Entry
	history *History

	mu           sync.Mutex
	destroyed    bool
	cancelRun    context.CancelFunc
	runCancelled bool

	vfs        *vfs.VFS
	kernel     *kernel.Kernel
	runtime    *wasi.Runtime
	netPolicy  *network.Policy
	netBridge  *bridge.Channel
	persist    *persistence.Manager
	mountPaths []string

	envMu sync.Mutex
	env   map[string]string
}

// ID returns the sandbox's session id, used as its RPC registry key.
func (s *Sandbox) ID() string { return s.id }

// SetEnv/GetEnv/Env manage the guest environment passed to every Run call
// and captured by Snapshot/ExportState.
func (s *Sandbox) SetEnv(key, value string) {
	s.envMu.Lock()
	defer s.envMu.Unlock()
	if s.env == nil {
		s.env = make(map[string]string)
	}
	s.env[key] = value
}

func (s *Sandbox) GetEnv(key string) (string, bool) {
	s.envMu.Lock()
	defer s.envMu.Unlock()
	v, ok := s.env[key]
	return v, ok
}

func (s *Sandbox) envSnapshot() map[string]string {
	s.envMu.Lock()
	defer s.envMu.Unlock()
	out := make(map[string]string, len(s.env))
	for k, v := range s.env {
		out[k] = v
	}
	return out
}

// Create builds a sandbox per spec.md §4.9's lifecycle: build the VFS
// (with caps), register provider mounts, optionally construct the
// network gateway + bridge, construct the kernel + WASI host, register
// the tool registry, bootstrap the socket shim when network is
// configured, and emit sandbox.create.
func Create(ctx context.Context, opts Options) (*Sandbox, error) {
	limits := opts.Limits.withDefaults()
	id := newSessionID()
	log := logrus.WithFields(logrus.Fields{"session": id})

	v := vfs.New(vfs.Options{
		FSLimitBytes:   limits.FSBytes,
		FileCountLimit: limits.FileCount,
		WritablePaths:  opts.WritablePaths,
	})

	if err := v.Mount("/dev", devproc.NewDev()); err != nil {
		return nil, errors.Wrap(err, "sandbox: mount /dev")
	}
	if err := v.Mount("/proc", devproc.NewProc(opts.ProcVersion)); err != nil {
		return nil, errors.Wrap(err, "sandbox: mount /proc")
	}
	mountPaths := []string{"/dev", "/proc"}
	for _, m := range opts.Mounts {
		if err := v.Mount(m.SandboxPath, hostmount.New(m.HostPath, m.Writable)); err != nil {
			return nil, errors.Wrapf(err, "sandbox: mount %s", m.SandboxPath)
		}
		mountPaths = append(mountPaths, m.SandboxPath)
	}

	var netPolicy *network.Policy
	var netBridge *bridge.Channel
	networkConfigured := len(opts.NetworkAllow) > 0 || len(opts.NetworkBlock) > 0
	if networkConfigured {
		netPolicy = network.NewPolicy(opts.NetworkAllow, opts.NetworkBlock)
		netBridge = bridge.NewNetworkBridge(network.NewFetcher(netPolicy))
		if err := pysocket.Bootstrap(v); err != nil {
			return nil, errors.Wrap(err, "sandbox: bootstrap socket shim")
		}
	}

	k := kernel.NewKernel(nil) // launcher attached below, once the runtime exists

	rt, err := wasi.New(ctx, v, k, opts.Programs, netBridge, opts.Extensions)
	if err != nil {
		return nil, errors.Wrap(err, "sandbox: init wasi runtime")
	}
	k.SetLauncher(rt)

	v.EndBootstrap()

	sb := &Sandbox{
		id:         id,
		opts:       opts,
		limits:     limits,
		log:        log,
		history:    newHistory(),
		vfs:        v,
		kernel:     k,
		runtime:    rt,
		netPolicy:  netPolicy,
		netBridge:  netBridge,
		mountPaths: mountPaths,
	}

	if opts.Persistence.Backend != nil {
		popts := opts.Persistence
		popts.VFS = v
		popts.MountPoints = mountPaths
		popts.EnvFn = sb.envSnapshot
		persist, err := persistence.New(popts)
		if err != nil {
			return nil, errors.Wrap(err, "sandbox: init persistence manager")
		}
		sb.persist = persist
	}

	sb.emit("sandbox.create", nil)
	return sb, nil
}

func (s *Sandbox) emit(typ string, fields map[string]any) {
	s.history.push(Event{Type: typ, SessionID: s.id, Timestamp: time.Now(), Fields: fields})
	s.log.WithField("event", typ).WithFields(logrus.Fields(fields)).Info("audit")
}

func (s *Sandbox) checkAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}
	return nil
}

// Destroy marks the sandbox closed, cancels any in-flight run, tears
// down the WASI runtime, flushes persistence, and emits sandbox.destroy.
// Idempotent per spec.md §7.
func (s *Sandbox) Destroy(ctx context.Context) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	if s.cancelRun != nil {
		s.runCancelled = true
		s.cancelRun()
	}
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.Dispose(); err != nil {
			s.log.WithError(err).Warn("persistence dispose failed during destroy")
		}
	}
	err := s.runtime.Close(ctx)
	s.emit("sandbox.destroy", nil)
	return err
}

// Cancel aborts the current in-flight run, if any.
func (s *Sandbox) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelRun != nil {
		s.runCancelled = true
		s.cancelRun()
	}
}

// ReadFile/WriteFile/Mkdir/ReadDir/Stat/Rm mirror the facade's direct VFS
// surface (spec.md §6).
func (s *Sandbox) ReadFile(path string) ([]byte, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	return s.vfs.ReadFile(path)
}

func (s *Sandbox) WriteFile(path string, data []byte) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	return s.vfs.WriteFile(path, data)
}

func (s *Sandbox) Mkdir(path string) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	return s.vfs.Mkdirp(path)
}

func (s *Sandbox) ReadDir(path string) ([]vfs.DirEntry, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	return s.vfs.Readdir(path)
}

func (s *Sandbox) Stat(path string) (vfs.Stat, error) {
	if err := s.checkAlive(); err != nil {
		return vfs.Stat{}, err
	}
	return s.vfs.Stat(path)
}

func (s *Sandbox) Rm(path string) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	st, err := s.vfs.Lstat(path)
	if err != nil {
		return err
	}
	if st.Kind == vfs.KindDir {
		return s.vfs.Rmdir(path)
	}
	return s.vfs.Unlink(path)
}

// Mount attaches an additional host directory mid-lifetime (spec.md §6's
// mount() entry point).
func (s *Sandbox) Mount(m MountSpec) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	if err := s.vfs.Mount(m.SandboxPath, hostmount.New(m.HostPath, m.Writable)); err != nil {
		return err
	}
	s.mountPaths = append(s.mountPaths, m.SandboxPath)
	return nil
}

// Snapshot captures the VFS tree plus the current env into a reusable id.
func (s *Sandbox) Snapshot() (string, error) {
	if err := s.checkAlive(); err != nil {
		return "", err
	}
	return s.vfs.Snapshot(s.envSnapshot()), nil
}

// Restore rewinds the VFS and re-installs the env captured at Snapshot
// time as the sandbox's current env.
func (s *Sandbox) Restore(id string) (map[string]string, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	env, err := s.vfs.Restore(id)
	if err != nil {
		return nil, err
	}
	s.envMu.Lock()
	s.env = env
	s.envMu.Unlock()
	return env, nil
}

// ExportState serializes the current VFS+env to a persisted-state blob.
func (s *Sandbox) ExportState() ([]byte, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	return codec.Encode(s.vfs, s.mountPaths, s.envSnapshot())
}

// ImportState applies a previously exported blob onto this sandbox's VFS
// and adopts its env as the sandbox's current env.
func (s *Sandbox) ImportState(blob []byte) (map[string]string, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	decoded, err := codec.Decode(blob)
	if err != nil {
		return nil, err
	}
	err = s.vfs.WithWriteAccess(func() error {
		return codec.Apply(s.vfs, decoded)
	})
	if err != nil {
		return nil, err
	}
	s.envMu.Lock()
	s.env = decoded.Env
	s.envMu.Unlock()
	return decoded.Env, nil
}

// GetHistory/ClearHistory expose the bounded audit ring buffer.
func (s *Sandbox) GetHistory() []Event { return s.history.List() }
func (s *Sandbox) ClearHistory()       { s.history.Clear() }

// Fork cowClones the VFS, copies env, attaches an independent network
// bridge instance, and reuses the tool registry, per spec.md §4.9. The
// child has its own destroy lifecycle, entirely independent of the
// parent's.
func (s *Sandbox) Fork(ctx context.Context) (*Sandbox, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	childVFS := s.vfs.CowClone()

	var childNetBridge *bridge.Channel
	if s.netPolicy != nil {
		childNetBridge = bridge.NewNetworkBridge(network.NewFetcher(s.netPolicy))
	}

	childKernel := kernel.NewKernel(nil)
	rt, err := wasi.New(ctx, childVFS, childKernel, s.opts.Programs, childNetBridge, s.opts.Extensions)
	if err != nil {
		return nil, errors.Wrap(err, "sandbox: fork init wasi runtime")
	}
	childKernel.SetLauncher(rt)

	id := newSessionID()
	child := &Sandbox{
		id:         id,
		opts:       s.opts,
		limits:     s.limits,
		log:        logrus.WithFields(logrus.Fields{"session": id}),
		history:    newHistory(),
		vfs:        childVFS,
		kernel:     childKernel,
		runtime:    rt,
		netPolicy:  s.netPolicy,
		netBridge:  childNetBridge,
		mountPaths: append([]string(nil), s.mountPaths...),
		env:        s.envSnapshot(),
	}
	child.emit("sandbox.create", map[string]any{"forkedFrom": s.id})
	return child, nil
}
