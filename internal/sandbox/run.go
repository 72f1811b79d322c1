package sandbox

import (
	"context"
	"time"

	"github.com/sunnymar/codepod/internal/kernel"
)

// Strategy selects how Run reacts once a command's timeout elapses.
// Cooperative is the mapping of spec.md §4.4's host_check_cancel poll:
// the guest is expected to observe the cancel flag at its own host-call
// boundaries and exit on its own. HardKill additionally stops waiting
// past a short grace period rather than blocking for the guest to notice
// — wazero gives no external preemption of in-flight WASM execution
// without its experimental listener, so this is a best-effort kill, not
// a true OS-level one; the goroutine running the guest is abandoned and
// its exit (whenever it eventually happens) is discarded.
type Strategy int

const (
	Cooperative Strategy = iota
	HardKill
)

const hardKillGrace = 200 * time.Millisecond

// Run executes cmd as the sandbox's pid-0 shell program (spec.md §4.9),
// classifying the outcome per classify.go's table.
func (s *Sandbox) Run(ctx context.Context, argv []string, stdin []byte, env map[string]string, cwd string, strategy Strategy) (RunResult, error) {
	if err := s.checkAlive(); err != nil {
		return RunResult{}, err
	}

	cmdBytes := int64(len(cwd))
	for _, a := range argv {
		cmdBytes += int64(len(a))
	}
	if cmdBytes > s.limits.CommandBytes {
		res := RunResult{ExitCode: 1, ErrorClass: ClassLimitExceeded,
			Stderr: []byte(classificationLimitExceeded.stderr)}
		s.emit("limit.exceeded", map[string]any{"subtype": "command"})
		return res, nil
	}

	prog := s.opts.ShellProgram
	if !s.opts.toolAllowed(prog) {
		s.emit("capability.denied", map[string]any{"tool": prog})
		return toolNotAllowed(prog), nil
	}

	stdinTarget := &kernel.FDTarget{Kind: kernel.FDStatic, Static: kernel.NewStaticSource(stdin)}
	stdoutSink := kernel.NewBufferSink(int(s.limits.StdoutBytes))
	stderrSink := kernel.NewBufferSink(int(s.limits.StderrBytes))
	stdoutTarget := &kernel.FDTarget{Kind: kernel.FDBufferSink, Sink: stdoutSink}
	stderrTarget := &kernel.FDTarget{Kind: kernel.FDBufferSink, Sink: stderrSink}
	fds := kernel.NewFDTable(stdinTarget, stdoutTarget, stderrTarget)

	effectiveEnv := s.envSnapshot()
	for k, v := range env {
		effectiveEnv[k] = v
	}
	req := kernel.SpawnRequest{Prog: prog, Argv: argv, Env: effectiveEnv, Cwd: cwd,
		StdinFD: 0, StdoutFD: 1, StderrFD: 2}

	s.emit("command.start", map[string]any{"argv": argv})
	start := time.Now()

	proc, err := s.runtime.Launch(nil, 0, req, fds)
	if err != nil {
		res := RunResult{ExitCode: 1, Stderr: []byte(err.Error())}
		s.emit("command.error", map[string]any{"error": err.Error()})
		return res, nil
	}

	deadline := start.Add(time.Duration(s.limits.TimeoutMs) * time.Millisecond)
	proc.SetDeadline(deadline)

	runCtx, cancel := context.WithDeadline(ctx, deadline)
	s.mu.Lock()
	s.cancelRun = cancel
	s.runCancelled = false
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancelRun = nil
		s.mu.Unlock()
		cancel()
	}()

	code, waitErr := proc.Wait(runCtx)
	elapsed := time.Since(start).Milliseconds()

	if waitErr == nil {
		res := RunResult{
			ExitCode:        code,
			Stdout:          stdoutSink.Bytes(),
			Stderr:          stderrSink.Bytes(),
			ExecutionTimeMs: elapsed,
			Truncated:       stdoutSink.Truncated() || stderrSink.Truncated(),
		}
		s.emitOutputLimitEvents(stdoutSink.Truncated(), stderrSink.Truncated())
		s.emit("command.exit", map[string]any{"exitCode": code})
		return res, nil
	}

	// runCtx expired either because the deadline passed or because
	// Cancel()/Destroy() fired cancelRun explicitly.
	s.mu.Lock()
	cancelled := s.runCancelled
	s.mu.Unlock()
	proc.Cancel()

	if strategy == Cooperative {
		grace, graceCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer graceCancel()
		if code2, err2 := proc.Wait(grace); err2 == nil {
			code = code2
		}
	} else {
		grace, graceCancel := context.WithTimeout(context.Background(), hardKillGrace)
		defer graceCancel()
		_, _ = proc.Wait(grace)
	}

	class := classificationTimeout
	if cancelled {
		class = classificationCancelled
	}
	res := RunResult{
		ExitCode:        class.exitCode,
		Stdout:          stdoutSink.Bytes(),
		Stderr:          stdoutErrStderr(stderrSink.Bytes(), class.stderr),
		ExecutionTimeMs: elapsed,
		Truncated:       stdoutSink.Truncated() || stderrSink.Truncated(),
		ErrorClass:      class.class,
	}
	s.emitOutputLimitEvents(stdoutSink.Truncated(), stderrSink.Truncated())
	s.emit("command."+string(class.class), map[string]any{"exitCode": class.exitCode})
	return res, nil
}

// emitOutputLimitEvents emits a limit.exceeded audit event per truncated
// stream, per spec.md §7's {command,stdout,stderr,file} subtype set.
func (s *Sandbox) emitOutputLimitEvents(stdoutTruncated, stderrTruncated bool) {
	if stdoutTruncated {
		s.emit("limit.exceeded", map[string]any{"subtype": "stdout"})
	}
	if stderrTruncated {
		s.emit("limit.exceeded", map[string]any{"subtype": "stderr"})
	}
}

// stdoutErrStderr appends the classification's stderr note to whatever
// the guest itself had already written, rather than discarding it.
func stdoutErrStderr(existing []byte, note string) []byte {
	if len(existing) == 0 {
		return []byte(note)
	}
	return append(append(existing, '\n'), []byte(note)...)
}
