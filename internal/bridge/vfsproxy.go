package bridge

import (
	"context"
	"fmt"
	"os"

	"github.com/sunnymar/codepod/internal/vfs"
)

// VFSProxyPayloadCap is the maximum request/response binary payload on the
// VFS proxy channel (spec.md §4.6): 32 MiB.
const VFSProxyPayloadCap = 32 * 1024 * 1024

// ExtensionInvoker dispatches an out-of-band extension call (the socket
// shim's transport, per the Open Question recorded in DESIGN.md).
type ExtensionInvoker func(ctx context.Context, name string, meta map[string]any, bin []byte) (map[string]any, []byte, error)

// NewVFSProxy builds the worker -> main-thread VFS channel. It dispatches
// the op set named in spec.md §4.6: readFile, writeFile, stat, readdir,
// mkdir, mkdirp, unlink, rmdir, rename, chmod, symlink, extensionInvoke.
func NewVFSProxy(v *vfs.VFS, invoke ExtensionInvoker) *Channel {
	return New("vfs-proxy", VFSProxyPayloadCap, func(ctx context.Context, op string, meta map[string]any, bin []byte) (map[string]any, []byte, error) {
		path, _ := meta["path"].(string)
		switch op {
		case "readFile":
			data, err := v.ReadFile(path)
			return nil, data, err

		case "writeFile":
			return nil, nil, v.WriteFile(path, bin)

		case "stat", "lstat":
			var (
				st  vfs.Stat
				err error
			)
			if op == "lstat" {
				st, err = v.Lstat(path)
			} else {
				st, err = v.Stat(path)
			}
			if err != nil {
				return nil, nil, err
			}
			return statToMeta(st), nil, nil

		case "readdir":
			entries, err := v.Readdir(path)
			if err != nil {
				return nil, nil, err
			}
			list := make([]any, 0, len(entries))
			for _, e := range entries {
				list = append(list, map[string]any{
					"name": e.Name,
					"kind": e.Kind.String(),
					"size": e.Size,
					"mode": uint32(e.Mode.Perm()),
				})
			}
			return map[string]any{"entries": list}, nil, nil

		case "mkdir":
			return nil, nil, v.Mkdir(path)

		case "mkdirp":
			return nil, nil, v.Mkdirp(path)

		case "unlink":
			return nil, nil, v.Unlink(path)

		case "rmdir":
			return nil, nil, v.Rmdir(path)

		case "rename":
			to, _ := meta["to"].(string)
			return nil, nil, v.Rename(path, to)

		case "chmod":
			modeVal, _ := meta["mode"].(float64)
			return nil, nil, v.Chmod(path, os.FileMode(uint32(modeVal)))

		case "symlink":
			target, _ := meta["target"].(string)
			return nil, nil, v.Symlink(target, path)

		case "extensionInvoke":
			if invoke == nil {
				return nil, nil, fmt.Errorf("vfs-proxy: no extension invoker configured")
			}
			name, _ := meta["name"].(string)
			return invoke(ctx, name, meta, bin)

		default:
			return nil, nil, fmt.Errorf("vfs-proxy: unknown op %q", op)
		}
	})
}

func statToMeta(st vfs.Stat) map[string]any {
	return map[string]any{
		"path":  st.Path,
		"kind":  st.Kind.String(),
		"size":  st.Size,
		"mode":  uint32(st.Perm.Perm()),
		"ctime": st.Ctime.UnixNano(),
		"mtime": st.Mtime.UnixNano(),
		"atime": st.Atime.UnixNano(),
		"owner": st.Owner,
	}
}
