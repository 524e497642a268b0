// Package executor implements the strategies used to launch an interpreter
// driver for the bridge runtime: Local (a subprocess on the host) and Docker
// (an ephemeral container).
package executor

import (
	"context"
	"io"
)

// LaunchSpec describes the driver process to start.
type LaunchSpec struct {
	// Interpreter is the interpreter binary, e.g. "python3".
	Interpreter string
	// Script is passed to the interpreter with -c.
	Script string
	// Args become the script's argv after the program name.
	Args []string
	// Env holds extra KEY=VALUE pairs for the driver.
	Env []string
	// PythonPath lists extra module search paths.
	PythonPath []string
	// BridgeDir is the host directory holding the bridge socket.
	BridgeDir string
	// WorkDir is the working directory; empty means the current one.
	WorkDir string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Process is a running driver.
type Process interface {
	// Wait blocks until the process exits and returns its exit status.
	// A non-zero status is not an error.
	Wait() (int, error)
	// Kill stops the process immediately.
	Kill() error
}

// Executor starts driver processes.
type Executor interface {
	// Name identifies the strategy in logs.
	Name() string
	// Launch starts the driver described by spec. The returned process is
	// already running.
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}
