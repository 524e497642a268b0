// Package bridge implements interp.Runtime on top of an interpreter running
// in another process. The host listens on a Unix Domain Socket, launches the
// driver through an executor.Executor, and drives module resolution and
// method calls with length-prefixed JSON requests while the driver keeps the
// terminal for its own input and output.
package bridge

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pngtools/internal/executor"
	"pngtools/internal/interp"
	"pngtools/pkg/protocol"
)

// DriverScript is the Python program run by the interpreter with -c.
//
//go:embed driver.py
var DriverScript string

// DefaultStartupTimeout bounds how long Start waits for the driver to connect.
const DefaultStartupTimeout = 30 * time.Second

// closeGrace is how long Close waits for the driver to exit on its own.
const closeGrace = 5 * time.Second

// ErrClosed is returned by requests made after Close.
var ErrClosed = errors.New("bridge closed")

// Options configures a bridge Runtime.
type Options struct {
	Interpreter    string
	PythonPath     []string
	Env            []string
	Args           []string
	WorkDir        string
	StartupTimeout time.Duration
	// VerifyPeer rejects a driver connection from another uid. Leave it off
	// when the driver runs in a user namespace.
	VerifyPeer bool

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Logger *log.Logger
}

// Runtime is an interp.Runtime served by a driver process.
type Runtime struct {
	exec   executor.Executor
	opts   Options
	logger *log.Logger

	dir      string
	listener net.Listener
	conn     net.Conn
	proc     executor.Process
	exited   chan struct{}
	exitCode int
	exitErr  error

	restoreSignals func()

	mu     sync.Mutex
	nextID uint64
	closed bool

	closeOnce sync.Once
	closeErr  error
}

// New creates a bridge runtime that launches its driver with exec.
func New(exec executor.Executor, opts Options) *Runtime {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = DefaultStartupTimeout
	}
	return &Runtime{
		exec:   exec,
		opts:   opts,
		logger: opts.Logger,
	}
}

// Name implements interp.Runtime.
func (r *Runtime) Name() string {
	if r.exec.Name() == "docker" {
		return "docker"
	}
	return "python"
}

// Start creates the bridge socket, launches the driver and waits for it to
// connect.
func (r *Runtime) Start(ctx context.Context) error {
	dir, err := os.MkdirTemp("", "pngtools-bridge-")
	if err != nil {
		return fmt.Errorf("create bridge directory: %w", err)
	}
	r.dir = dir

	// The driver may run as another user inside a container.
	if err := os.Chmod(dir, 0755); err != nil {
		return fmt.Errorf("chmod bridge directory: %w", err)
	}

	socketPath := filepath.Join(dir, protocol.SocketName)
	r.listener, err = net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0666); err != nil {
		r.logger.Printf("warning: could not chmod socket: %v", err)
	}

	r.restoreSignals = ignoreTerminalSignals()

	r.proc, err = r.exec.Launch(ctx, executor.LaunchSpec{
		Interpreter: r.opts.Interpreter,
		Script:      DriverScript,
		Args:        r.opts.Args,
		Env:         r.opts.Env,
		PythonPath:  r.opts.PythonPath,
		BridgeDir:   dir,
		WorkDir:     r.opts.WorkDir,
		Stdin:       r.opts.Stdin,
		Stdout:      r.opts.Stdout,
		Stderr:      r.opts.Stderr,
	})
	if err != nil {
		return fmt.Errorf("launch %s driver: %w", r.exec.Name(), err)
	}

	r.exited = make(chan struct{})
	go func() {
		defer close(r.exited)
		r.exitCode, r.exitErr = r.proc.Wait()
	}()

	type accepted struct {
		conn net.Conn
		err  error
	}
	acceptCh := make(chan accepted, 1)
	go func() {
		conn, err := r.listener.Accept()
		acceptCh <- accepted{conn: conn, err: err}
	}()

	timer := time.NewTimer(r.opts.StartupTimeout)
	defer timer.Stop()

	select {
	case res := <-acceptCh:
		if res.err != nil {
			return fmt.Errorf("accept driver connection: %w", res.err)
		}
		if err := r.verifyPeer(res.conn); err != nil {
			res.conn.Close()
			return fmt.Errorf("reject driver connection: %w", err)
		}
		r.conn = res.conn
	case <-r.exited:
		if r.exitErr != nil {
			return fmt.Errorf("driver exited before connecting: %w", r.exitErr)
		}
		return fmt.Errorf("driver exited with status %d before connecting", r.exitCode)
	case <-timer.C:
		return fmt.Errorf("driver did not connect within %v", r.opts.StartupTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	r.logger.Printf("%s driver connected on %s", r.exec.Name(), socketPath)
	return nil
}

// Import implements interp.Runtime.
func (r *Runtime) Import(name string) (interp.Object, error) {
	resp, err := r.request(protocol.OpImport, 0, name)
	if err != nil {
		return nil, err
	}
	return &remoteObject{rt: r, handle: resp.Handle}, nil
}

// Close shuts the driver down and removes the bridge directory. It is safe to
// call after a failed Start and more than once.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()

		if r.conn != nil {
			r.conn.SetDeadline(time.Now().Add(closeGrace))
			if err := protocol.WriteRequest(r.conn, &protocol.Request{Op: protocol.OpClose}); err == nil {
				protocol.ReadResponse(r.conn)
			}
			r.conn.Close()
		}
		if r.listener != nil {
			r.listener.Close()
		}

		if r.proc != nil {
			grace := closeGrace
			if r.conn == nil {
				grace = 0
			}
			select {
			case <-r.exited:
			case <-time.After(grace):
				r.logger.Printf("driver did not exit, killing it")
				if err := r.proc.Kill(); err != nil {
					r.closeErr = fmt.Errorf("kill driver: %w", err)
				}
				<-r.exited
			}
		}

		if r.restoreSignals != nil {
			r.restoreSignals()
		}

		if r.dir != "" {
			if err := os.RemoveAll(r.dir); err != nil && r.closeErr == nil {
				r.closeErr = fmt.Errorf("remove bridge directory: %w", err)
			}
		}
	})
	return r.closeErr
}

// request sends one operation and waits for its response. Requests are
// serialized; the driver answers them in order.
func (r *Runtime) request(op string, handle uint64, name string) (*protocol.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if r.conn == nil {
		return nil, errors.New("bridge not started")
	}

	r.nextID++
	req := &protocol.Request{ID: r.nextID, Op: op, Handle: handle, Name: name}
	if err := protocol.WriteRequest(r.conn, req); err != nil {
		return nil, r.lost(err)
	}

	resp, err := protocol.ReadResponse(r.conn)
	if err != nil {
		return nil, r.lost(err)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("response id %d does not match request %d", resp.ID, req.ID)
	}
	if !resp.OK {
		if resp.Error == nil {
			return nil, fmt.Errorf("%s %s failed without an exception", op, name)
		}
		return nil, &interp.RemoteError{Type: resp.Error.Type, Message: resp.Error.Message}
	}
	return resp, nil
}

// lost describes a broken connection, including the driver's exit status
// when it has already gone away.
func (r *Runtime) lost(err error) error {
	if r.exited != nil {
		select {
		case <-r.exited:
			return fmt.Errorf("driver exited with status %d: %w", r.exitCode, err)
		case <-time.After(100 * time.Millisecond):
		}
	}
	return fmt.Errorf("bridge connection lost: %w", err)
}

type remoteObject struct {
	rt     *Runtime
	handle uint64
}

func (o *remoteObject) GetAttr(name string) (interp.Object, error) {
	resp, err := o.rt.request(protocol.OpGetAttr, o.handle, name)
	if err != nil {
		return nil, err
	}
	return &remoteObject{rt: o.rt, handle: resp.Handle}, nil
}

func (o *remoteObject) Call() (interp.Object, error) {
	resp, err := o.rt.request(protocol.OpCall, o.handle, "")
	if err != nil {
		return nil, err
	}
	return &remoteObject{rt: o.rt, handle: resp.Handle}, nil
}

func (o *remoteObject) CallMethod(name string) (interp.Value, error) {
	resp, err := o.rt.request(protocol.OpCallMethod, o.handle, name)
	if err != nil {
		return nil, err
	}
	if resp.Value == nil {
		return nil, fmt.Errorf("%s returned no value", name)
	}
	return &interp.Foreign{
		Type: resp.Value.Type,
		Data: resp.Value.Data,
		Repr: resp.Value.Repr,
	}, nil
}
