package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sunnymar/codepod/internal/sandbox"
)

// Registry tracks every live sandbox by session id so RPC calls (and
// sandbox.fork in particular) can address more than the root sandbox a
// cmd/codepod process starts with.
type Registry struct {
	mu   sync.RWMutex
	root *sandbox.Sandbox
	byID map[string]*sandbox.Sandbox
}

// NewRegistry seeds the registry with the process's root sandbox.
func NewRegistry(root *sandbox.Sandbox, rootID string) *Registry {
	r := &Registry{byID: make(map[string]*sandbox.Sandbox)}
	r.root = root
	r.byID[rootID] = root
	return r
}

func (r *Registry) resolve(id string) (*sandbox.Sandbox, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == "" {
		return r.root, nil
	}
	sb, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("rpc: unknown sandboxId %q", id)
	}
	return sb, nil
}

func (r *Registry) add(id string, sb *sandbox.Sandbox) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id] = sb
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

func decodeParams[T any](params json.RawMessage) (T, error) {
	var v T
	if len(params) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(params, &v); err != nil {
		return v, &BadParamsError{Err: err}
	}
	return v, nil
}

type sandboxRef struct {
	SandboxID string `json:"sandboxId,omitempty"`
}

type runParams struct {
	sandboxRef
	Argv     []string          `json:"argv"`
	Stdin    []byte            `json:"stdin,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Cwd      string            `json:"cwd,omitempty"`
	HardKill bool              `json:"hardKill,omitempty"`
}

type pathParams struct {
	sandboxRef
	Path string `json:"path"`
}

type writeParams struct {
	sandboxRef
	Path string `json:"path"`
	Data []byte `json:"data"`
}

type envKVParams struct {
	sandboxRef
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

type snapshotRestoreParams struct {
	sandboxRef
	SnapshotID string `json:"snapshotId"`
}

type importParams struct {
	sandboxRef
	Blob []byte `json:"blob"`
}

type mountParams struct {
	sandboxRef
	Host     string `json:"host"`
	Sandbox  string `json:"sandbox"`
	Writable bool   `json:"writable,omitempty"`
}

// RegisterMethods binds every method spec.md §6 names to reg's sandboxes.
func RegisterMethods(d *Dispatcher, reg *Registry) {
	d.Register("run", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := decodeParams[runParams](raw)
		if err != nil {
			return nil, err
		}
		sb, err := reg.resolve(p.SandboxID)
		if err != nil {
			return nil, err
		}
		strategy := sandbox.Cooperative
		if p.HardKill {
			strategy = sandbox.HardKill
		}
		return sb.Run(ctx, p.Argv, p.Stdin, p.Env, p.Cwd, strategy)
	})

	d.Register("files.read", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := decodeParams[pathParams](raw)
		if err != nil {
			return nil, err
		}
		sb, err := reg.resolve(p.SandboxID)
		if err != nil {
			return nil, err
		}
		return sb.ReadFile(p.Path)
	})

	d.Register("files.write", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := decodeParams[writeParams](raw)
		if err != nil {
			return nil, err
		}
		sb, err := reg.resolve(p.SandboxID)
		if err != nil {
			return nil, err
		}
		return nil, sb.WriteFile(p.Path, p.Data)
	})

	d.Register("files.list", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := decodeParams[pathParams](raw)
		if err != nil {
			return nil, err
		}
		sb, err := reg.resolve(p.SandboxID)
		if err != nil {
			return nil, err
		}
		return sb.ReadDir(p.Path)
	})

	d.Register("files.mkdir", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := decodeParams[pathParams](raw)
		if err != nil {
			return nil, err
		}
		sb, err := reg.resolve(p.SandboxID)
		if err != nil {
			return nil, err
		}
		return nil, sb.Mkdir(p.Path)
	})

	d.Register("files.rm", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := decodeParams[pathParams](raw)
		if err != nil {
			return nil, err
		}
		sb, err := reg.resolve(p.SandboxID)
		if err != nil {
			return nil, err
		}
		return nil, sb.Rm(p.Path)
	})

	d.Register("files.stat", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := decodeParams[pathParams](raw)
		if err != nil {
			return nil, err
		}
		sb, err := reg.resolve(p.SandboxID)
		if err != nil {
			return nil, err
		}
		return sb.Stat(p.Path)
	})

	d.Register("env.set", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := decodeParams[envKVParams](raw)
		if err != nil {
			return nil, err
		}
		sb, err := reg.resolve(p.SandboxID)
		if err != nil {
			return nil, err
		}
		sb.SetEnv(p.Key, p.Value)
		return nil, nil
	})

	d.Register("env.get", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := decodeParams[envKVParams](raw)
		if err != nil {
			return nil, err
		}
		sb, err := reg.resolve(p.SandboxID)
		if err != nil {
			return nil, err
		}
		value, ok := sb.GetEnv(p.Key)
		return map[string]any{"value": value, "found": ok}, nil
	})

	d.Register("kill", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := decodeParams[sandboxRef](raw)
		if err != nil {
			return nil, err
		}
		sb, err := reg.resolve(p.SandboxID)
		if err != nil {
			return nil, err
		}
		sb.Cancel()
		return nil, nil
	})

	d.Register("snapshot.create", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := decodeParams[sandboxRef](raw)
		if err != nil {
			return nil, err
		}
		sb, err := reg.resolve(p.SandboxID)
		if err != nil {
			return nil, err
		}
		id, err := sb.Snapshot()
		if err != nil {
			return nil, err
		}
		return map[string]any{"snapshotId": id}, nil
	})

	d.Register("snapshot.restore", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := decodeParams[snapshotRestoreParams](raw)
		if err != nil {
			return nil, err
		}
		sb, err := reg.resolve(p.SandboxID)
		if err != nil {
			return nil, err
		}
		env, err := sb.Restore(p.SnapshotID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"env": env}, nil
	})

	d.Register("sandbox.fork", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := decodeParams[sandboxRef](raw)
		if err != nil {
			return nil, err
		}
		sb, err := reg.resolve(p.SandboxID)
		if err != nil {
			return nil, err
		}
		child, err := sb.Fork(ctx)
		if err != nil {
			return nil, err
		}
		childID := child.ID()
		reg.add(childID, child)
		return map[string]any{"sandboxId": childID}, nil
	})

	d.Register("sandbox.destroy", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := decodeParams[sandboxRef](raw)
		if err != nil {
			return nil, err
		}
		sb, err := reg.resolve(p.SandboxID)
		if err != nil {
			return nil, err
		}
		if err := sb.Destroy(ctx); err != nil {
			return nil, err
		}
		if p.SandboxID != "" {
			reg.remove(p.SandboxID)
		}
		return nil, nil
	})

	d.Register("persistence.export", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := decodeParams[sandboxRef](raw)
		if err != nil {
			return nil, err
		}
		sb, err := reg.resolve(p.SandboxID)
		if err != nil {
			return nil, err
		}
		blob, err := sb.ExportState()
		if err != nil {
			return nil, err
		}
		return map[string]any{"blob": blob}, nil
	})

	d.Register("persistence.import", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := decodeParams[importParams](raw)
		if err != nil {
			return nil, err
		}
		sb, err := reg.resolve(p.SandboxID)
		if err != nil {
			return nil, err
		}
		env, err := sb.ImportState(p.Blob)
		if err != nil {
			return nil, err
		}
		return map[string]any{"env": env}, nil
	})

	d.Register("mount", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := decodeParams[mountParams](raw)
		if err != nil {
			return nil, err
		}
		sb, err := reg.resolve(p.SandboxID)
		if err != nil {
			return nil, err
		}
		return nil, sb.Mount(sandbox.MountSpec{HostPath: p.Host, SandboxPath: p.Sandbox, Writable: p.Writable})
	})

	d.Register("shell.history.list", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := decodeParams[sandboxRef](raw)
		if err != nil {
			return nil, err
		}
		sb, err := reg.resolve(p.SandboxID)
		if err != nil {
			return nil, err
		}
		return sb.GetHistory(), nil
	})

	d.Register("shell.history.clear", func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := decodeParams[sandboxRef](raw)
		if err != nil {
			return nil, err
		}
		sb, err := reg.resolve(p.SandboxID)
		if err != nil {
			return nil, err
		}
		sb.ClearHistory()
		return nil, nil
	})
}
