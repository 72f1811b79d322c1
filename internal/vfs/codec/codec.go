// Package codec implements the persisted-state blob format from spec.md §6:
// a 4-byte magic, a little-endian version, and a UTF-8 JSON body listing
// files/dirs (base64 data) and the env map. Provider mount subtrees
// (/dev, /proc, host mounts) are never walked into, and symlinks are
// dropped: the wire schema has no "type" for them.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/sunnymar/codepod/internal/vfs"
)

// Magic identifies a codepod state blob.
var Magic = [4]byte{'W', 'S', 'N', 'D'}

// Version is the single supported serializer version. spec.md §9 flags
// that the original repo carried two incompatible serializer versions (8
// and 12-byte headers); this implementation picks one and rejects the
// other explicitly rather than silently upgrading/downgrading.
const Version uint32 = 1

// FileEntry is one row of the body's files array.
type FileEntry struct {
	Path string `json:"path"`
	Type string `json:"type"` // "file" | "dir"
	Data string `json:"data,omitempty"`
}

// Body is the JSON payload framed by the magic+version header.
type Body struct {
	Version int         `json:"version"`
	Files   []FileEntry `json:"files"`
	Env     [][2]string `json:"env,omitempty"`
}

// ErrUnsupportedVersion is returned by Decode when the blob's version
// field does not match Version.
var ErrUnsupportedVersion = fmt.Errorf("codec: unsupported state blob version")

// Lister is the minimal VFS surface codec needs to walk the tree. Letting
// the codec depend on an interface (not *vfs.VFS directly) keeps it
// testable against a fake tree.
type Lister interface {
	Readdir(path string) ([]vfs.DirEntry, error)
	ReadFile(path string) ([]byte, error)
}

// Encode walks v from "/" and produces a state blob. mountPoints are path
// prefixes (e.g. "/dev", "/proc") excluded from the walk entirely.
func Encode(v Lister, mountPoints []string, env map[string]string) ([]byte, error) {
	body := Body{Version: int(Version)}
	if err := walk(v, "/", mountPoints, &body); err != nil {
		return nil, err
	}
	for k, val := range env {
		body.Env = append(body.Env, [2]string{k, val})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	buf.Write(Magic[:])
	var verBuf [4]byte
	binary.LittleEndian.PutUint32(verBuf[:], Version)
	buf.Write(verBuf[:])
	buf.Write(payload)
	return buf.Bytes(), nil
}

func walk(v Lister, path string, mountPoints []string, body *Body) error {
	for _, mp := range mountPoints {
		if path == mp {
			return nil
		}
	}
	entries, err := v.Readdir(path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		child := joinPath(path, e.Name)
		switch e.Kind {
		case vfs.KindDir:
			body.Files = append(body.Files, FileEntry{Path: child, Type: "dir"})
			if err := walk(v, child, mountPoints, body); err != nil {
				return err
			}
		case vfs.KindFile:
			data, err := v.ReadFile(child)
			if err != nil {
				return err
			}
			body.Files = append(body.Files, FileEntry{
				Path: child,
				Type: "file",
				Data: base64.StdEncoding.EncodeToString(data),
			})
		case vfs.KindSymlink:
			// Dropped: the wire schema has no symlink type.
		}
	}
	return nil
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// Decoded is the result of Decode: ready-to-apply file/dir rows plus env.
type Decoded struct {
	Files []FileEntry
	Env   map[string]string
}

// Decode parses a blob produced by Encode (or a compatible version=1
// producer). It returns ErrUnsupportedVersion rather than guessing at an
// older/newer header layout.
func Decode(blob []byte) (*Decoded, error) {
	if len(blob) < 8 || !bytes.Equal(blob[:4], Magic[:]) {
		return nil, fmt.Errorf("codec: bad magic")
	}
	version := binary.LittleEndian.Uint32(blob[4:8])
	if version != Version {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, version, Version)
	}
	var body Body
	if err := json.Unmarshal(blob[8:], &body); err != nil {
		return nil, err
	}
	env := make(map[string]string, len(body.Env))
	for _, kv := range body.Env {
		env[kv[0]] = kv[1]
	}
	return &Decoded{Files: body.Files, Env: env}, nil
}

// Apply writes a Decoded payload into a fresh VFS-like target, creating
// directories before the files placed inside them (Files is emitted in
// walk order, parents first, by Encode).
type Applier interface {
	Mkdirp(path string) error
	WriteFile(path string, data []byte) error
}

func Apply(v Applier, d *Decoded) error {
	for _, f := range d.Files {
		switch f.Type {
		case "dir":
			if err := v.Mkdirp(f.Path); err != nil {
				return err
			}
		case "file":
			data, err := base64.StdEncoding.DecodeString(f.Data)
			if err != nil {
				return err
			}
			dir, _ := splitLast(f.Path)
			if dir != "/" {
				if err := v.Mkdirp(dir); err != nil {
					return err
				}
			}
			if err := v.WriteFile(f.Path, data); err != nil {
				return err
			}
		}
	}
	return nil
}

func splitLast(p string) (dir, base string) {
	idx := -1
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return "/", p[idx+1:]
	}
	return p[:idx], p[idx+1:]
}
