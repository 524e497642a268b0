package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"pngtools/pkg/protocol"
)

// LocalExecutor runs the driver as a subprocess on the host, sharing the
// host's terminal.
type LocalExecutor struct {
	logger *log.Logger
}

// NewLocalExecutor creates a local driver executor.
func NewLocalExecutor(logger *log.Logger) *LocalExecutor {
	if logger == nil {
		logger = log.New(os.Stderr, "[local-exec] ", log.LstdFlags|log.Lmsgprefix)
	}
	return &LocalExecutor{logger: logger}
}

// Name implements Executor.
func (le *LocalExecutor) Name() string { return "local" }

// Launch starts the interpreter with the driver script.
func (le *LocalExecutor) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spec.Interpreter == "" {
		return nil, errors.New("no interpreter configured")
	}

	interpreter, err := exec.LookPath(spec.Interpreter)
	if err != nil {
		return nil, fmt.Errorf("find interpreter %q: %w", spec.Interpreter, err)
	}

	args := append([]string{"-c", spec.Script}, spec.Args...)

	// The driver owns the terminal for as long as the command loop runs, so
	// the command is not bound to ctx.
	cmd := exec.Command(interpreter, args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = localEnv(os.Environ(), spec)
	cmd.Stdin = spec.Stdin
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr

	le.logger.Printf("local exec: %s -c <driver> %v (cwd=%s)", interpreter, spec.Args, spec.WorkDir)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start interpreter: %w", err)
	}

	return &localProcess{cmd: cmd, logger: le.logger}, nil
}

// localEnv builds the driver environment from the host environment.
func localEnv(base []string, spec LaunchSpec) []string {
	env := make([]string, 0, len(base)+len(spec.Env)+2)
	pythonPath := ""
	for _, entry := range base {
		switch envKey(entry) {
		case protocol.SocketEnv:
			continue
		case "PYTHONPATH":
			pythonPath = entry[len("PYTHONPATH="):]
			continue
		}
		env = append(env, entry)
	}
	env = append(env, spec.Env...)

	paths := append([]string{}, spec.PythonPath...)
	if pythonPath != "" {
		paths = append(paths, pythonPath)
	}
	if len(paths) > 0 {
		env = append(env, "PYTHONPATH="+strings.Join(paths, string(os.PathListSeparator)))
	}

	return append(env, protocol.SocketEnv+"="+filepath.Join(spec.BridgeDir, protocol.SocketName))
}

type localProcess struct {
	cmd    *exec.Cmd
	logger *log.Logger

	once     sync.Once
	exitCode int
	waitErr  error
}

// Wait returns the exit status of the interpreter.
func (lp *localProcess) Wait() (int, error) {
	lp.once.Do(func() {
		err := lp.cmd.Wait()
		if err == nil {
			return
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			lp.exitCode = exitErr.ExitCode()
			return
		}
		lp.logger.Printf("wait error: %v", err)
		lp.exitCode = 1
		lp.waitErr = err
	})
	return lp.exitCode, lp.waitErr
}

// Kill stops the interpreter.
func (lp *localProcess) Kill() error {
	if lp.cmd.Process == nil {
		return nil
	}
	if err := lp.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
