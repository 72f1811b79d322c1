// Package config resolves the facade adapter's options from four layers
// — CLI flags, CODEPOD_-prefixed env vars, a JSON config file, and
// built-in defaults — in that precedence order, mirroring rclone's own
// layering of explicit flags over environment over rclone.conf over
// library defaults (fs/config).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// MountSpec is one --mount HOST:SANDBOX[:ro|rw] entry.
type MountSpec struct {
	HostPath    string `json:"host"`
	SandboxPath string `json:"sandbox"`
	Writable    bool   `json:"writable"`
}

// Options is the fully resolved set of options an adapter binary needs.
type Options struct {
	Mounts       []MountSpec `json:"mounts,omitempty"`
	NetworkAllow []string    `json:"networkAllow,omitempty"`
	NetworkBlock []string    `json:"networkBlock,omitempty"`
	TimeoutMs    int64       `json:"timeoutMs,omitempty"`
	FSLimitBytes int64       `json:"fsLimitBytes,omitempty"`
	WasmDir      string      `json:"wasmDir,omitempty"`
	ShellWasm    string      `json:"shellWasm,omitempty"`
}

// Defaults matches internal/sandbox.DefaultLimits' timeout/fs-limit so
// the adapter and the library agree absent any override.
func Defaults() Options {
	return Options{
		TimeoutMs:    30_000,
		FSLimitBytes: 256 << 20,
	}
}

// ParseMount parses one --mount/CODEPOD_MOUNT_N value. Two colon-
// separated fields are required (HOST:SANDBOX); a third field selects
// "ro" (default) or "rw". A host path containing a colon (rare outside
// Windows drive letters) isn't supported — SplitN caps at 3 fields, so
// anything past the second colon is taken whole as the mode field.
func ParseMount(s string) (MountSpec, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return MountSpec{}, fmt.Errorf("config: bad mount spec %q, want HOST:SANDBOX[:ro|rw]", s)
	}
	m := MountSpec{HostPath: parts[0], SandboxPath: parts[1]}
	if len(parts) == 3 {
		switch parts[2] {
		case "rw":
			m.Writable = true
		case "ro":
			m.Writable = false
		default:
			return MountSpec{}, fmt.Errorf("config: bad mount mode %q, want ro or rw", parts[2])
		}
	}
	if m.HostPath == "" || m.SandboxPath == "" {
		return MountSpec{}, fmt.Errorf("config: bad mount spec %q, empty host or sandbox path", s)
	}
	return m, nil
}

// CLI is the set of flags cmd/codepod parses with pflag; a zero value in
// any field (empty string, nil slice, 0) means "not set on the command
// line" and falls through to the next layer.
type CLI struct {
	ConfigPath   string
	Mounts       []string
	NetworkAllow []string
	NetworkBlock []string
	TimeoutMs    int64
	FSLimitBytes int64
	WasmDir      string
	ShellWasm    string
}

// Load resolves Options from cli, the process environment, and the JSON
// file at cli.ConfigPath (if set), applying CLI > env > JSON > defaults.
// Mount and network-pattern lists are replaced wholesale by whichever
// layer sets them first in that order — never merged across layers.
func Load(cli CLI) (Options, error) {
	opts := Defaults()

	if cli.ConfigPath != "" {
		fileOpts, err := loadFile(cli.ConfigPath)
		if err != nil {
			return Options{}, err
		}
		opts = mergeLayer(opts, fileOpts)
	}

	envOpts, err := loadEnv()
	if err != nil {
		return Options{}, err
	}
	opts = mergeLayer(opts, envOpts)

	cliOpts, err := cliToOptions(cli)
	if err != nil {
		return Options{}, err
	}
	opts = mergeLayer(opts, cliOpts)

	return opts, nil
}

func loadFile(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var o Options
	if err := json.Unmarshal(data, &o); err != nil {
		return Options{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return o, nil
}

// loadEnv reads CODEPOD_-prefixed environment variables. Mounts are
// indexed CODEPOD_MOUNT_0, CODEPOD_MOUNT_1, ... and scanning stops at the
// first missing index, per spec.md §6.
func loadEnv() (Options, error) {
	var o Options

	if v, ok := os.LookupEnv("CODEPOD_NETWORK_ALLOW"); ok {
		o.NetworkAllow = splitNonEmpty(v)
	}
	if v, ok := os.LookupEnv("CODEPOD_NETWORK_BLOCK"); ok {
		o.NetworkBlock = splitNonEmpty(v)
	}
	if v, ok := os.LookupEnv("CODEPOD_TIMEOUT_MS"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Options{}, fmt.Errorf("config: CODEPOD_TIMEOUT_MS: %w", err)
		}
		o.TimeoutMs = n
	}
	if v, ok := os.LookupEnv("CODEPOD_FS_LIMIT"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Options{}, fmt.Errorf("config: CODEPOD_FS_LIMIT: %w", err)
		}
		o.FSLimitBytes = n
	}
	if v, ok := os.LookupEnv("CODEPOD_WASM_DIR"); ok {
		o.WasmDir = v
	}
	if v, ok := os.LookupEnv("CODEPOD_SHELL_WASM"); ok {
		o.ShellWasm = v
	}

	for i := 0; ; i++ {
		v, ok := os.LookupEnv(fmt.Sprintf("CODEPOD_MOUNT_%d", i))
		if !ok {
			break
		}
		m, err := ParseMount(v)
		if err != nil {
			return Options{}, err
		}
		o.Mounts = append(o.Mounts, m)
	}

	return o, nil
}

func cliToOptions(cli CLI) (Options, error) {
	var o Options
	o.TimeoutMs = cli.TimeoutMs
	o.FSLimitBytes = cli.FSLimitBytes
	o.WasmDir = cli.WasmDir
	o.ShellWasm = cli.ShellWasm
	o.NetworkAllow = cli.NetworkAllow
	o.NetworkBlock = cli.NetworkBlock
	for _, s := range cli.Mounts {
		m, err := ParseMount(s)
		if err != nil {
			return Options{}, err
		}
		o.Mounts = append(o.Mounts, m)
	}
	return o, nil
}

// mergeLayer overlays next onto base: any non-zero field in next wins,
// replacing (not merging) slice-valued fields wholesale.
func mergeLayer(base, next Options) Options {
	if next.Mounts != nil {
		base.Mounts = next.Mounts
	}
	if next.NetworkAllow != nil {
		base.NetworkAllow = next.NetworkAllow
	}
	if next.NetworkBlock != nil {
		base.NetworkBlock = next.NetworkBlock
	}
	if next.TimeoutMs != 0 {
		base.TimeoutMs = next.TimeoutMs
	}
	if next.FSLimitBytes != 0 {
		base.FSLimitBytes = next.FSLimitBytes
	}
	if next.WasmDir != "" {
		base.WasmDir = next.WasmDir
	}
	if next.ShellWasm != "" {
		base.ShellWasm = next.ShellWasm
	}
	return base
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
