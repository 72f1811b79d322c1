package sandbox

// Limits bounds resource consumption for one sandbox (spec.md §4.9).
// Defaults match the spec's stated defaults: 64 KiB command, 1 MiB per
// output stream, 256 MiB VFS.
type Limits struct {
	TimeoutMs    int64
	StdoutBytes  int64
	StderrBytes  int64
	FSBytes      int64
	FileCount    int64
	CommandBytes int64
	MemoryBytes  int64
}

// DefaultLimits returns the spec-mandated defaults.
func DefaultLimits() Limits {
	return Limits{
		TimeoutMs:    30_000,
		StdoutBytes:  1 << 20,
		StderrBytes:  1 << 20,
		FSBytes:      256 << 20,
		FileCount:    0, // unlimited unless the embedder sets one
		CommandBytes: 64 << 10,
		MemoryBytes:  0, // unlimited unless the embedder sets one
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.TimeoutMs == 0 {
		l.TimeoutMs = d.TimeoutMs
	}
	if l.StdoutBytes == 0 {
		l.StdoutBytes = d.StdoutBytes
	}
	if l.StderrBytes == 0 {
		l.StderrBytes = d.StderrBytes
	}
	if l.FSBytes == 0 {
		l.FSBytes = d.FSBytes
	}
	if l.CommandBytes == 0 {
		l.CommandBytes = d.CommandBytes
	}
	return l
}
