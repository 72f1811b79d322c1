// Package rpc implements the stdio, line-framed JSON-RPC-shaped dispatcher
// spec.md §6 specifies: one request and one response per line, a flat
// dotted method table, and three error codes. The dotted method names
// (files.read, env.set, shell.history.list, ...) follow the same
// naming convention rclone's fs/rc control-plane methods use
// (backend/command, operations/copyfile, ...): one package-level table
// mapping a string straight to a handler, no reflection-based routing.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Error codes spec.md §6 fixes.
const (
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeSandboxError   = 1
)

// Request is one decoded line from the client.
type Request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one encoded line sent back to the client.
type Response struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Result any             `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Error is the JSON-RPC-shaped error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Handler answers one method call. Params is the raw, still-encoded
// params value from the request; handlers decode their own shape.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Dispatcher owns the method table and drives one stdio session.
type Dispatcher struct {
	mu      sync.RWMutex
	methods map[string]Handler
	log     *logrus.Entry
}

// New creates an empty Dispatcher. Callers register methods with
// Register before calling Serve.
func New() *Dispatcher {
	return &Dispatcher{methods: make(map[string]Handler), log: logrus.WithField("component", "rpc")}
}

// Register binds name to handler. Re-registering a name replaces it.
func (d *Dispatcher) Register(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.methods[name] = h
}

// BadParamsError wraps a params-decoding failure so Serve reports
// CodeInvalidParams instead of CodeSandboxError.
type BadParamsError struct{ Err error }

func (e *BadParamsError) Error() string { return e.Err.Error() }
func (e *BadParamsError) Unwrap() error { return e.Err }

// Serve reads one JSON request per line from r, dispatches it, and writes
// one JSON response per line to w. It returns when r reaches EOF or ctx is
// done; a malformed line produces an error response rather than ending
// the session, so one bad line doesn't kill the connection.
func (d *Dispatcher) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)
	var writeMu sync.Mutex
	enc := json.NewEncoder(w)

	writeResponse := func(resp Response) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return enc.Encode(resp)
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			if werr := writeResponse(Response{Error: &Error{Code: CodeInvalidParams, Message: err.Error()}}); werr != nil {
				return werr
			}
			continue
		}
		resp := d.dispatch(ctx, req)
		if err := writeResponse(resp); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) Response {
	d.mu.RLock()
	h, ok := d.methods[req.Method]
	d.mu.RUnlock()
	if !ok {
		return Response{ID: req.ID, Error: &Error{Code: CodeMethodNotFound, Message: "unknown method: " + req.Method}}
	}
	result, err := h(ctx, req.Params)
	if err != nil {
		d.log.WithError(err).WithField("method", req.Method).Warn("rpc call failed")
		code := CodeSandboxError
		var bad *BadParamsError
		if errors.As(err, &bad) {
			code = CodeInvalidParams
		}
		return Response{ID: req.ID, Error: &Error{Code: code, Message: err.Error()}}
	}
	return Response{ID: req.ID, Result: result}
}
