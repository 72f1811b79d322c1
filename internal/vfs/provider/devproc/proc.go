package devproc

import (
	"fmt"
	"runtime"
	"time"

	"github.com/sunnymar/codepod/internal/vfs"
)

// Proc serves /proc/{uptime,version,cpuinfo,meminfo,diskstats}, synthesizing
// each file's contents fresh on every read.
type Proc struct {
	start   time.Time
	version string
}

// NewProc constructs the /proc provider. version is the string reported by
// /proc/version, set by the sandbox facade to its own build identifier.
func NewProc(version string) *Proc {
	return &Proc{start: time.Now(), version: version}
}

var procEntries = []string{"uptime", "version", "cpuinfo", "meminfo", "diskstats"}

func (p *Proc) Read(relPath string) ([]byte, error) {
	switch trimLeadingSlash(relPath) {
	case "uptime":
		up := time.Since(p.start).Seconds()
		return []byte(fmt.Sprintf("%.2f %.2f\n", up, up)), nil
	case "version":
		return []byte(p.version + "\n"), nil
	case "cpuinfo":
		return []byte(fmt.Sprintf("processor\t: 0\nmodel name\t: codepod virtual cpu\narch\t\t: %s\n", runtime.GOARCH)), nil
	case "meminfo":
		return []byte("MemTotal:       268435456 kB\nMemFree:        268435456 kB\n"), nil
	case "diskstats":
		return []byte("1 0 vfs0 0 0 0 0 0 0 0 0 0 0\n"), nil
	}
	return nil, &vfs.Err{Op: "read", Path: relPath, Code: vfs.ENOENT}
}

func (p *Proc) Write(relPath string, data []byte) error {
	return &vfs.Err{Op: "write", Path: relPath, Code: vfs.EROFS}
}

func (p *Proc) Exists(relPath string) bool {
	name := trimLeadingSlash(relPath)
	if name == "" {
		return true
	}
	for _, e := range procEntries {
		if e == name {
			return true
		}
	}
	return false
}

func (p *Proc) Stat(relPath string) (vfs.Stat, error) {
	name := trimLeadingSlash(relPath)
	if name == "" {
		return vfs.Stat{Path: "/proc", Kind: vfs.KindDir, Perm: 0555}, nil
	}
	if !p.Exists(relPath) {
		return vfs.Stat{}, &vfs.Err{Op: "stat", Path: relPath, Code: vfs.ENOENT}
	}
	data, _ := p.Read(relPath)
	return vfs.Stat{Path: "/proc/" + name, Kind: vfs.KindFile, Perm: 0444, Size: int64(len(data))}, nil
}

func (p *Proc) Readdir(relPath string) ([]vfs.DirEntry, error) {
	if trimLeadingSlash(relPath) != "" {
		return nil, &vfs.Err{Op: "readdir", Path: relPath, Code: vfs.ENOTDIR}
	}
	entries := make([]vfs.DirEntry, 0, len(procEntries))
	for _, e := range procEntries {
		entries = append(entries, vfs.DirEntry{Name: e, Kind: vfs.KindFile, Mode: 0444})
	}
	return entries, nil
}
