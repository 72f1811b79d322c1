package kernel

import (
	"context"
	"errors"
	"sync"
)

// SpawnRequest is the guest-supplied payload for host_spawn (spec.md §4.4).
type SpawnRequest struct {
	Prog    string
	Argv    []string
	Env     map[string]string
	Cwd     string
	StdinFD int
	StdoutFD int
	StderrFD int
}

// Launcher resolves a SpawnRequest's program name to a compiled guest
// module and instantiates it; the sandbox facade supplies the
// implementation (tool registry lookup + wazero instantiation).
type Launcher interface {
	Launch(caller *Process, pid int, req SpawnRequest, fds *FDTable) (*Process, error)
}

var (
	ErrUnknownPID = errors.New("kernel: unknown pid")
)

// Kernel is the process table: pid allocation, pipe/spawn/wait/close_fd.
// Pid 0 is reserved for the sandbox's shell process (spec.md §3); Spawn
// allocates from 1 upward.
type Kernel struct {
	mu        sync.Mutex
	nextPID   int
	processes map[int]*Process
	launcher  Launcher
}

// NewKernel creates a kernel whose spawned guests are launched by launcher.
func NewKernel(launcher Launcher) *Kernel {
	return &Kernel{
		nextPID:   1,
		processes: make(map[int]*Process),
		launcher:  launcher,
	}
}

// SetLauncher binds the launcher after construction, for callers that
// need the kernel to build the launcher itself (the WASI runtime takes
// a *Kernel in its own constructor, so the two are wired in two steps).
func (k *Kernel) SetLauncher(launcher Launcher) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.launcher = launcher
}

// NewShellProcess registers the pid-0 shell process with the given stdio
// bindings.
func (k *Kernel) NewShellProcess(stdin, stdout, stderr *FDTarget) *Process {
	p := NewProcess(0, NewFDTable(stdin, stdout, stderr))
	k.mu.Lock()
	k.processes[0] = p
	k.mu.Unlock()
	return p
}

// Pipe implements host_pipe: allocate a fresh pipe and bind both ends into
// the caller's fd table.
func (k *Kernel) Pipe(caller *Process) (readFD, writeFD int) {
	r, w := NewPipePair()
	readFD = caller.FDs.Alloc(&FDTarget{Kind: FDPipeRead, PipeEnd: r})
	writeFD = caller.FDs.Alloc(&FDTarget{Kind: FDPipeWrite, PipeEnd: w})
	return readFD, writeFD
}

// Spawn implements host_spawn: build the child's fd table by copying the
// caller's mapping of stdin/stdout/stderr fds to child 0/1/2, then hand
// off to the Launcher. Pid assignment happens synchronously so that
// spawns by a single (necessarily sequential) caller are observed in
// request order, per spec.md §5.
func (k *Kernel) Spawn(caller *Process, req SpawnRequest) (int, error) {
	stdin, ok := caller.FDs.Get(req.StdinFD)
	if !ok {
		return -1, ErrBadFD
	}
	stdout, ok := caller.FDs.Get(req.StdoutFD)
	if !ok {
		return -1, ErrBadFD
	}
	stderr, ok := caller.FDs.Get(req.StderrFD)
	if !ok {
		return -1, ErrBadFD
	}
	k.mu.Lock()
	pid := k.nextPID
	k.nextPID++
	k.mu.Unlock()

	childFDs := NewFDTable(stdin, stdout, stderr)
	child, err := k.launcher.Launch(caller, pid, req, childFDs)
	if err != nil {
		return -1, err
	}
	k.mu.Lock()
	k.processes[pid] = child
	k.mu.Unlock()
	return pid, nil
}

// Waitpid implements host_waitpid: suspend until pid exits.
func (k *Kernel) Waitpid(ctx context.Context, pid int) (int, error) {
	k.mu.Lock()
	p, ok := k.processes[pid]
	k.mu.Unlock()
	if !ok {
		return -1, ErrUnknownPID
	}
	return p.Wait(ctx)
}

// CloseFD implements host_close_fd against the caller's own table.
func (k *Kernel) CloseFD(caller *Process, fd int) error {
	return caller.FDs.Close(fd)
}

// Process looks up a live or exited process entry by pid.
func (k *Kernel) Process(pid int) (*Process, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.processes[pid]
	return p, ok
}

// Reap removes a process table entry; called once a waiter has consumed
// its exit code and the facade no longer needs it.
func (k *Kernel) Reap(pid int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.processes, pid)
}
