// Command codepod is the facade adapter binary: it resolves options from
// CLI flags, the environment, and an optional JSON config file, boots one
// sandbox, and serves the JSON-RPC stdio dispatcher over stdin/stdout
// until EOF or a signal (spec.md §6). Flag/logging wiring follows the
// teacher's cobra.Command + logrus conventions (backend/torrent/cmd).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sunnymar/codepod/internal/config"
	"github.com/sunnymar/codepod/internal/rpc"
	"github.com/sunnymar/codepod/internal/sandbox"
)

func main() {
	logrus.SetOutput(colorable.NewColorableStderr())
	if err := newRootCommand().Execute(); err != nil {
		logrus.WithError(err).Error("codepod: fatal")
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cli config.CLI

	root := &cobra.Command{
		Use:   "codepod",
		Short: "Embedded WASM/WASI sandbox, driven over a JSON-RPC stdio protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cli)
		},
	}

	flags := root.Flags()
	flags.StringVar(&cli.ConfigPath, "config", "", "path to a JSON config file")
	flags.StringArrayVar(&cli.Mounts, "mount", nil, "HOST:SANDBOX[:ro|rw] host directory to mount (repeatable)")
	flags.StringArrayVar(&cli.NetworkAllow, "network-allow", nil, "host pattern to allow (repeatable)")
	flags.StringArrayVar(&cli.NetworkBlock, "network-block", nil, "host pattern to block (repeatable)")
	flags.Int64Var(&cli.TimeoutMs, "timeout", 0, "command timeout in milliseconds")
	flags.Int64Var(&cli.FSLimitBytes, "fs-limit", 0, "virtual filesystem byte quota")
	flags.StringVar(&cli.WasmDir, "wasm-dir", "", "directory of compiled .wasm tool programs")
	flags.StringVar(&cli.ShellWasm, "shell-wasm", "", "program name (within --wasm-dir) run by the \"run\" RPC method")

	return root
}

func run(ctx context.Context, cli config.CLI) error {
	opts, err := config.Load(cli)
	if err != nil {
		return err
	}

	programs, err := loadPrograms(opts.WasmDir)
	if err != nil {
		return err
	}

	shellProgram := opts.ShellWasm
	if shellProgram == "" {
		shellProgram = "shell"
	}

	sbOpts := sandbox.Options{
		Limits: sandbox.Limits{
			TimeoutMs: opts.TimeoutMs,
			FSBytes:   opts.FSLimitBytes,
		},
		NetworkAllow: opts.NetworkAllow,
		NetworkBlock: opts.NetworkBlock,
		Programs:     programs,
		ShellProgram: shellProgram,
	}
	for _, m := range opts.Mounts {
		sbOpts.Mounts = append(sbOpts.Mounts, sandbox.MountSpec{
			HostPath: m.HostPath, SandboxPath: m.SandboxPath, Writable: m.Writable,
		})
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := sandbox.Create(ctx, sbOpts)
	if err != nil {
		return fmt.Errorf("codepod: create sandbox: %w", err)
	}
	defer func() {
		if err := root.Destroy(context.Background()); err != nil {
			logrus.WithError(err).Warn("codepod: sandbox destroy failed")
		}
	}()

	dispatcher := rpc.New()
	rpc.RegisterMethods(dispatcher, rpc.NewRegistry(root, root.ID()))

	logrus.WithField("sandboxId", root.ID()).Info("codepod: ready")
	return dispatcher.Serve(ctx, os.Stdin, os.Stdout)
}

// loadPrograms reads every *.wasm file directly under dir into the tool
// registry, keyed by filename without extension.
func loadPrograms(dir string) (map[string][]byte, error) {
	programs := make(map[string][]byte)
	if dir == "" {
		return programs, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("codepod: read wasm-dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".wasm") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("codepod: read %s: %w", e.Name(), err)
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		programs[name] = data
	}
	return programs, nil
}
