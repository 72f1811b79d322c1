// Package pysocket seeds the two Python files spec.md §4.8 describes: a
// replacement socket.py whose sockets buffer outgoing bytes, detect an
// HTTP request boundary, and flush it through one host call; and a
// sitecustomize.py that shadows the interpreter's frozen socket module
// with it at startup. Both are written verbatim into the sandbox's VFS,
// under write access, before the guest's first run.
package pysocket

import (
	"github.com/sunnymar/codepod/internal/vfs"
)

const (
	socketPath        = "/usr/lib/python/socket.py"
	sitecustomizePath = "/usr/lib/python/sitecustomize.py"
)

// Bootstrap writes socket.py and sitecustomize.py into v. Calling it more
// than once is safe; each call replaces both files wholesale.
func Bootstrap(v *vfs.VFS) error {
	return v.WithWriteAccess(func() error {
		if err := v.Mkdirp("/usr/lib/python"); err != nil {
			return err
		}
		if err := v.WriteFile(socketPath, []byte(socketPy)); err != nil {
			return err
		}
		return v.WriteFile(sitecustomizePath, []byte(sitecustomizePy))
	})
}

// socketPy buffers everything written to a socket until it recognizes a
// complete HTTP request (header terminator, then a Content-Length-bounded
// body if one was declared), flushes it through host_extension_invoke's
// "fetch" extension in one shot, and replays the response bytes back to
// the caller as if they'd arrived off the wire.
const socketPy = `# Replacement for the standard library socket module.
#
# The sandbox has no real network stack: every outbound connection is
# actually a single buffered request, flushed through one host call and
# answered in one shot. This module only implements enough of the real
# socket.socket API surface for code that treats a socket as "write my
# HTTP request, then read the response" to keep working unmodified.

import io

AF_INET = 2
SOCK_STREAM = 1

_HEADER_TERMINATOR = b"\r\n\r\n"


class error(OSError):
    pass


timeout = error


class socket(object):
    def __init__(self, family=AF_INET, type=SOCK_STREAM, proto=0, fileno=None):
        self.family = family
        self.type = type
        self._host = None
        self._port = None
        self._outbuf = bytearray()
        self._inbuf = b""
        self._inpos = 0
        self._closed = False

    def connect(self, address):
        self._host, self._port = address

    def settimeout(self, value):
        pass

    def setsockopt(self, *args, **kwargs):
        pass

    def sendall(self, data):
        self._outbuf += data
        self._maybe_flush()

    def send(self, data):
        self._outbuf += data
        self._maybe_flush()
        return len(data)

    def _maybe_flush(self):
        term = self._outbuf.find(_HEADER_TERMINATOR)
        if term == -1:
            return
        header_block = bytes(self._outbuf[:term])
        content_length = 0
        for line in header_block.split(b"\r\n")[1:]:
            if b":" not in line:
                continue
            name, _, value = line.partition(b":")
            if name.strip().lower() == b"content-length":
                content_length = int(value.strip())
        body_start = term + len(_HEADER_TERMINATOR)
        have_body = len(self._outbuf) - body_start
        if have_body < content_length:
            return
        request = bytes(self._outbuf[: body_start + content_length])
        self._outbuf = self._outbuf[body_start + content_length :]
        self._inbuf += _fetch(self._host, self._port, request)

    def recv(self, bufsize):
        chunk = self._inbuf[self._inpos : self._inpos + bufsize]
        self._inpos += len(chunk)
        return chunk

    def recv_into(self, buf, nbytes=0):
        size = nbytes or len(buf)
        chunk = self.recv(size)
        buf[: len(chunk)] = chunk
        return len(chunk)

    def makefile(self, mode="r", buffering=None, **kwargs):
        if "b" in mode:
            return io.BytesIO(self._inbuf[self._inpos :])
        return io.StringIO(self._inbuf[self._inpos :].decode("utf-8", "replace"))

    def close(self):
        self._closed = True

    def shutdown(self, how):
        pass

    def getpeername(self):
        return (self._host, self._port)

    def fileno(self):
        return -1

    def __enter__(self):
        return self

    def __exit__(self, *exc):
        self.close()


def create_connection(address, timeout=None, source_address=None):
    s = socket()
    s.connect(address)
    return s


def _fetch(host, port, raw_request):
    import _codepod_extension

    return _codepod_extension.invoke("fetch", {"host": host, "port": port}, raw_request)
`

// sitecustomizePy runs automatically at interpreter startup (CPython
// imports it once, early, if present on sys.path) and shadows the
// frozen stdlib socket module before any guest code can import the real
// one.
const sitecustomizePy = `# Auto-imported by CPython at startup. Shadows the frozen 'socket'
# module with the sandbox's buffered HTTP-only replacement before any
# guest code gets a chance to import the real one.
import sys
import socket as _codepod_socket

sys.modules["socket"] = _codepod_socket
`
