package kernel

import (
	"errors"
	"sync"
)

var ErrBadFD = errors.New("kernel: bad file descriptor")

// FDTable is one process's fd -> FDTarget mapping. Allocation starts at 3
// (0/1/2 are bound to process-start stdio) and strictly increases
// (spec.md §4.3).
type FDTable struct {
	mu      sync.Mutex
	next    int
	entries map[int]*FDTarget
}

// NewFDTable creates an empty table with stdio bound to fds 0/1/2.
func NewFDTable(stdin, stdout, stderr *FDTarget) *FDTable {
	t := &FDTable{next: 3, entries: make(map[int]*FDTarget)}
	t.entries[0] = stdin
	t.entries[1] = stdout
	t.entries[2] = stderr
	return t
}

// Alloc inserts target at the next free fd (>= 3) and returns it.
func (t *FDTable) Alloc(target *FDTarget) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := t.next
	t.next++
	t.entries[fd] = target
	return fd
}

// Bind inserts target at an explicit fd number, used when constructing a
// child's stdio at spawn time.
func (t *FDTable) Bind(fd int, target *FDTarget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[fd] = target
	if fd >= t.next {
		t.next = fd + 1
	}
}

func (t *FDTable) Get(fd int) (*FDTarget, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	target, ok := t.entries[fd]
	return target, ok
}

// Close releases fd, closing the underlying pipe end if any.
func (t *FDTable) Close(fd int) error {
	t.mu.Lock()
	target, ok := t.entries[fd]
	if ok {
		delete(t.entries, fd)
	}
	t.mu.Unlock()
	if !ok {
		return ErrBadFD
	}
	return target.Close()
}

// CloseAll releases every fd in the table; called when a process exits
// (spec.md §3's "FD table is cleared on process exit").
func (t *FDTable) CloseAll() {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[int]*FDTarget)
	t.mu.Unlock()
	for _, target := range entries {
		_ = target.Close()
	}
}
