package kernel

import (
	"io"
	"sync"

	"github.com/sunnymar/codepod/internal/vfs"
)

// FDKind tags the variant an FDTarget holds (spec.md §3).
type FDKind int

const (
	FDFile FDKind = iota
	FDPipeRead
	FDPipeWrite
	FDBufferSink
	FDNullSink
	FDStatic
)

// FDTarget is the object a file descriptor points at.
type FDTarget struct {
	Kind    FDKind
	Cursor  *FileCursor
	PipeEnd *PipeEnd
	Sink    *BufferSink
	Static  *StaticSource
}

func (t *FDTarget) Close() error {
	switch t.Kind {
	case FDPipeRead, FDPipeWrite:
		return t.PipeEnd.Close()
	}
	return nil
}

// FileCursor is an open-file handle: a path into the VFS plus a read/write
// offset. Files are replaced wholesale on write (spec.md §3), so Write
// here is read-modify-write against the backing VFS.
type FileCursor struct {
	mu     sync.Mutex
	root   *vfs.VFS
	path   string
	offset int64
}

func NewFileCursor(root *vfs.VFS, path string) *FileCursor {
	return &FileCursor{root: root, path: path}
}

func (f *FileCursor) Read(buflen int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := f.root.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	if f.offset >= int64(len(data)) {
		return nil, nil
	}
	end := f.offset + int64(buflen)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	out := append([]byte(nil), data[f.offset:end]...)
	f.offset = end
	return out, nil
}

func (f *FileCursor) Write(data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, err := f.root.ReadFile(f.path)
	if err != nil && vfs.CodeOf(err) != vfs.ENOENT {
		return 0, err
	}
	buf := append([]byte(nil), existing...)
	end := f.offset + int64(len(data))
	if end > int64(len(buf)) {
		grown := make([]byte, end)
		copy(grown, buf)
		buf = grown
	}
	copy(buf[f.offset:end], data)
	if err := f.root.WriteFile(f.path, buf); err != nil {
		return 0, err
	}
	f.offset = end
	return len(data), nil
}

func (f *FileCursor) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = f.offset
	case io.SeekEnd:
		data, err := f.root.ReadFile(f.path)
		if err != nil {
			return 0, err
		}
		base = int64(len(data))
	}
	f.offset = base + offset
	return f.offset, nil
}

func (f *FileCursor) Tell() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset
}

// BufferSink captures stdout/stderr into a bounded buffer, silently
// dropping bytes beyond the cap and recording a truncation flag
// (spec.md §4.3, §7).
type BufferSink struct {
	mu        sync.Mutex
	buf       []byte
	cap       int
	truncated bool
}

func NewBufferSink(capBytes int) *BufferSink {
	return &BufferSink{cap: capBytes}
}

func (s *BufferSink) Write(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := s.cap - len(s.buf)
	if remaining <= 0 {
		if len(data) > 0 {
			s.truncated = true
		}
		return len(data), nil
	}
	n := remaining
	if n > len(data) {
		n = len(data)
	}
	s.buf = append(s.buf, data[:n]...)
	if n < len(data) {
		s.truncated = true
	}
	return len(data), nil
}

func (s *BufferSink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf...)
}

func (s *BufferSink) Truncated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.truncated
}

// NullSink discards everything written to it (/dev/null semantics).
type NullSink struct{}

func (NullSink) Write(data []byte) (int, error) { return len(data), nil }

// StaticSource is a read-only byte source with a read cursor, used for
// stdin. It returns 0 bytes at EOF.
type StaticSource struct {
	mu   sync.Mutex
	data []byte
	pos  int
}

func NewStaticSource(data []byte) *StaticSource {
	return &StaticSource{data: data}
}

func (s *StaticSource) Read(buflen int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.data) {
		return nil, nil
	}
	end := s.pos + buflen
	if end > len(s.data) {
		end = len(s.data)
	}
	out := s.data[s.pos:end]
	s.pos = end
	return out, nil
}
