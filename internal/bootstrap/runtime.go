package bootstrap

import (
	"fmt"
	"io"
	"log"
	"os"

	"pngtools/internal/config"
	"pngtools/internal/executor"
	"pngtools/internal/interp"
	"pngtools/internal/interp/bridge"
	"pngtools/internal/interp/native"
	"pngtools/internal/shell"
)

// Stdio is the terminal the delegated command loop reads and writes.
type Stdio struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// StandardIO returns the process's own standard streams.
func StandardIO() Stdio {
	return Stdio{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}

// NewRuntime builds the runtime selected by cfg. Process arguments are handed
// to the command loop unchanged.
func NewRuntime(cfg *config.Config, args []string, stdio Stdio, logger *log.Logger) (interp.Runtime, error) {
	switch cfg.Runtime {
	case config.RuntimeNative:
		return native.NewRuntime(NativeRegistry(cfg, args, stdio, logger)), nil

	case config.RuntimePython:
		exec := executor.NewLocalExecutor(subLogger(logger, "[local-exec] "))
		opts := bridgeOptions(cfg, args, stdio, logger)
		opts.VerifyPeer = true
		return bridge.New(exec, opts), nil

	case config.RuntimeDocker:
		cli, err := executor.NewDockerClient()
		if err != nil {
			return nil, fmt.Errorf("connect to docker: %w", err)
		}
		exec := executor.NewDockerExecutor(cli, executor.DockerOptions{
			Image: cfg.Docker.Image,
			Pull:  cfg.Docker.Pull,
			Binds: cfg.Docker.Binds,
		}, subLogger(logger, "[docker-exec] "))

		opts := bridgeOptions(cfg, args, stdio, logger)
		opts.Env = cfg.Docker.Env
		return &closingRuntime{Runtime: bridge.New(exec, opts), closer: cli}, nil
	}
	return nil, fmt.Errorf("unknown runtime %q", cfg.Runtime)
}

// NativeRegistry registers the in-process pngtools module. Its CLI class is
// the chunk shell.
func NativeRegistry(cfg *config.Config, args []string, stdio Stdio, logger *log.Logger) *native.Registry {
	registry := native.NewRegistry()
	registry.Register(&native.Module{
		Name: ModuleName,
		Attrs: map[string]any{
			ClassName: &native.Class{
				Name: ClassName,
				New: func() (native.Instance, error) {
					cli, err := shell.New(shell.Options{
						In:              stdio.In,
						Out:             stdio.Out,
						Err:             stdio.Err,
						HistoryFile:     config.ExpandHome(cfg.HistoryFile),
						Watch:           cfg.Watch,
						StartupCommands: args,
						Logger:          subLogger(logger, "[shell] "),
					})
					if err != nil {
						return nil, err
					}
					return cli, nil
				},
			},
		},
	})
	return registry
}

func bridgeOptions(cfg *config.Config, args []string, stdio Stdio, logger *log.Logger) bridge.Options {
	return bridge.Options{
		Interpreter:    cfg.Python.Interpreter,
		PythonPath:     cfg.Python.Path,
		Args:           args,
		StartupTimeout: cfg.StartupTimeout,
		Stdin:          stdio.In,
		Stdout:         stdio.Out,
		Stderr:         stdio.Err,
		Logger:         subLogger(logger, "[bridge] "),
	}
}

// closingRuntime closes an extra resource after the runtime itself.
type closingRuntime struct {
	interp.Runtime
	closer io.Closer
}

func (r *closingRuntime) Close() error {
	err := r.Runtime.Close()
	if cerr := r.closer.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// subLogger shares logger's destination under another prefix.
func subLogger(logger *log.Logger, prefix string) *log.Logger {
	return log.New(logger.Writer(), prefix, logger.Flags())
}
