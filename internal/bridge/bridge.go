// Package bridge implements the sync-async protocol of spec.md §4.6: a
// synchronous caller (a worker-bound guest) blocks on an asynchronous
// responder (main-thread VFS, the network fetch worker, an extension)
// across a single-outstanding-request channel with a hard wait ceiling.
//
// The TypeScript original shares a SharedArrayBuffer plus an atomic status
// word between threads; spec.md §9 is explicit that a target language
// without shared memory between threads must emulate that with a
// lock-protected ring buffer and condition variables. Go already has real
// shared memory between goroutines, so the emulation collapses to its
// essence: a weight-1 semaphore for "one outstanding request", a buffered
// result channel for "the responder writes the status word", and
// context.WithTimeout for "the requester's bounded wait".
package bridge

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultTimeout is the hard ceiling spec.md §4.6/§5 places on every
// bridge wait.
const DefaultTimeout = 30 * time.Second

// Error is a bridge-level failure: a timeout, an oversize payload, or a
// responder crash. It is distinct from an operation-level failure, which
// the Handler reports as a normal Go error returned alongside a response.
type Error struct {
	Code    string // "timed_out" | "E2BIG" | "responder_crashed"
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("bridge: %s: %s", e.Code, e.Message) }

// Handler performs one operation on the responder side (VFS proxy ops,
// fetchSync, extensionInvoke, ...).
type Handler func(ctx context.Context, op string, meta map[string]any, bin []byte) (respMeta map[string]any, respBin []byte, err error)

// Channel is one sync-async bridge instance. spec.md §4.6 names two:
// the VFS proxy (worker -> main thread) and the network bridge (main or
// worker -> network worker). Each gets its own Channel with its own
// payload cap, matching "the design allocates distinct SABs per bridge".
type Channel struct {
	name       string
	maxPayload int
	timeout    time.Duration
	sem        *semaphore.Weighted
	handler    Handler
}

// New constructs a channel. handler is installed once, at construction,
// since a bridge has exactly one responder for its lifetime.
func New(name string, maxPayload int, handler Handler) *Channel {
	return &Channel{
		name:       name,
		maxPayload: maxPayload,
		timeout:    DefaultTimeout,
		sem:        semaphore.NewWeighted(1),
		handler:    handler,
	}
}

// SetTimeout overrides the default 30s wait ceiling, primarily for tests.
func (c *Channel) SetTimeout(d time.Duration) { c.timeout = d }

type callResult struct {
	meta map[string]any
	bin  []byte
	err  error
}

// Call performs one request/response round trip. Only one Call may be
// in flight per Channel at a time; a concurrent Call blocks on sem until
// the prior one completes (or its context is cancelled) — the "single
// outstanding request per channel" invariant of spec.md §4.6.
func (c *Channel) Call(ctx context.Context, op string, meta map[string]any, bin []byte) (map[string]any, []byte, error) {
	if len(bin) > c.maxPayload {
		return nil, nil, &Error{Code: "E2BIG", Message: fmt.Sprintf("%s: payload %d exceeds cap %d", c.name, len(bin), c.maxPayload)}
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}
	defer c.sem.Release(1)

	wctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resCh := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- callResult{err: &Error{Code: "responder_crashed", Message: fmt.Sprintf("%v", r)}}
			}
		}()
		m, b, err := c.handler(wctx, op, meta, bin)
		resCh <- callResult{meta: m, bin: b, err: err}
	}()

	select {
	case res := <-resCh:
		return res.meta, res.bin, res.err
	case <-wctx.Done():
		return nil, nil, &Error{Code: "timed_out", Message: fmt.Sprintf("%s: op %q exceeded %s", c.name, op, c.timeout)}
	}
}
