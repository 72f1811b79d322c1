// Package kernel implements the process table, fd table, and pipe/spawn
// primitives exposed to guests as host imports (spec.md §3, §4.3, §4.4).
// Grounded on the pid-table-plus-wait shape in
// other_examples/kornnellio-gosv's proc.go and the fd-inheritance-on-spawn
// pattern in sysbox-runc's libcontainer/process_linux.go.
package kernel

import (
	"errors"
	"sync"
)

// PipeCapacity bounds the in-memory byte queue per pipe. spec.md §9 flags
// this as an unparameterized choice in the source; 64 KiB is the concrete
// cap this implementation commits to.
const PipeCapacity = 64 * 1024

var (
	ErrBrokenPipe = errors.New("kernel: broken pipe")
	ErrClosedPipe = errors.New("kernel: pipe closed")
)

// Pipe is a bounded byte queue with two handles. It supports one writer
// and one reader at a time; concurrent multi-consumer use is undefined,
// matching spec.md §4.3.
type Pipe struct {
	mu          sync.Mutex
	cond        *sync.Cond
	buf         []byte
	readClosed  bool
	writeClosed bool
}

// NewPipe creates an open pipe.
func NewPipe() *Pipe {
	p := &Pipe{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Write appends data, blocking cooperatively while the buffer is at
// capacity until the reader drains it or either end closes.
func (p *Pipe) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	written := 0
	for written < len(data) {
		if p.readClosed {
			return written, ErrBrokenPipe
		}
		if p.writeClosed {
			return written, ErrClosedPipe
		}
		space := PipeCapacity - len(p.buf)
		if space <= 0 {
			p.cond.Wait()
			continue
		}
		n := space
		if remain := len(data) - written; n > remain {
			n = remain
		}
		p.buf = append(p.buf, data[written:written+n]...)
		written += n
		p.cond.Broadcast()
	}
	return written, nil
}

// Read blocks until at least one byte is available or the writer has
// closed, then returns up to max(1, buflen) bytes (spec.md §4.3). A read
// against a closed, drained pipe returns zero bytes and a nil error (EOF).
func (p *Pipe) Read(buflen int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if buflen < 1 {
		buflen = 1
	}
	for len(p.buf) == 0 {
		if p.writeClosed {
			return nil, nil
		}
		if p.readClosed {
			return nil, ErrClosedPipe
		}
		p.cond.Wait()
	}
	n := buflen
	if n > len(p.buf) {
		n = len(p.buf)
	}
	out := append([]byte(nil), p.buf[:n]...)
	p.buf = p.buf[n:]
	p.cond.Broadcast()
	return out, nil
}

// CloseRead closes the read end; a subsequent Write observes
// ErrBrokenPipe.
func (p *Pipe) CloseRead() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readClosed = true
	p.cond.Broadcast()
}

// CloseWrite closes the write end; pending and future reads drain the
// buffer and then observe EOF.
func (p *Pipe) CloseWrite() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeClosed = true
	p.cond.Broadcast()
}

// PipeEnd is one handle (read or write) on a Pipe.
type PipeEnd struct {
	pipe    *Pipe
	IsWrite bool
}

func (e *PipeEnd) Read(buflen int) ([]byte, error) {
	if e.IsWrite {
		return nil, errors.New("kernel: read on write end")
	}
	return e.pipe.Read(buflen)
}

func (e *PipeEnd) Write(data []byte) (int, error) {
	if !e.IsWrite {
		return 0, errors.New("kernel: write on read end")
	}
	return e.pipe.Write(data)
}

func (e *PipeEnd) Close() error {
	if e.IsWrite {
		e.pipe.CloseWrite()
	} else {
		e.pipe.CloseRead()
	}
	return nil
}

// NewPipePair returns the read and write ends of a fresh pipe, as returned
// by host_pipe().
func NewPipePair() (read, write *PipeEnd) {
	p := NewPipe()
	return &PipeEnd{pipe: p, IsWrite: false}, &PipeEnd{pipe: p, IsWrite: true}
}
