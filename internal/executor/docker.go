package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/moby/term"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"pngtools/pkg/protocol"
)

// Container-side mount points.
const (
	containerWorkDir   = "/work"
	containerBridgeDir = "/run/pngtools"
)

// dockerAPI is the subset of the Docker client used by DockerExecutor.
type dockerAPI interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerAttach(ctx context.Context, containerID string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerResize(ctx context.Context, containerID string, options container.ResizeOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

var _ dockerAPI = (*client.Client)(nil)

// DockerOptions configures the container a driver runs in.
type DockerOptions struct {
	Image string
	Pull  bool
	// Binds are extra "host:container[:mode]" mounts.
	Binds []string
	// User overrides the uid:gid the driver runs as. Empty means the host
	// user's uid:gid so files written under /work keep their ownership.
	User string
}

// DockerExecutor runs the driver in an ephemeral container. The host's
// working directory is mounted at /work and the bridge directory at
// /run/pngtools.
type DockerExecutor struct {
	client dockerAPI
	opts   DockerOptions
	logger *log.Logger
}

// NewDockerClient connects to the Docker daemon described by the environment.
func NewDockerClient() (*client.Client, error) {
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}

// NewDockerExecutor creates a Docker-based executor.
func NewDockerExecutor(api dockerAPI, opts DockerOptions, logger *log.Logger) *DockerExecutor {
	if logger == nil {
		logger = log.New(os.Stderr, "[docker-exec] ", log.LstdFlags|log.Lmsgprefix)
	}
	return &DockerExecutor{client: api, opts: opts, logger: logger}
}

// Name implements Executor.
func (de *DockerExecutor) Name() string { return "docker" }

// Launch creates, attaches and starts the driver container.
func (de *DockerExecutor) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	if de.opts.Image == "" {
		return nil, errors.New("no docker image configured")
	}

	if de.opts.Pull {
		if err := de.pull(ctx); err != nil {
			return nil, err
		}
	}

	workDir := spec.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		workDir = wd
	}

	_, tty := term.GetFdInfo(spec.Stdin)

	interpreter := spec.Interpreter
	if interpreter == "" {
		interpreter = "python3"
	}
	cmd := append([]string{interpreter, "-c", spec.Script}, spec.Args...)

	containerConfig := &container.Config{
		Image:        de.opts.Image,
		Cmd:          cmd,
		WorkingDir:   containerWorkDir,
		Env:          de.containerEnv(spec),
		User:         de.user(),
		Tty:          tty,
		OpenStdin:    true,
		StdinOnce:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}

	binds := []string{
		workDir + ":" + containerWorkDir,
		spec.BridgeDir + ":" + containerBridgeDir,
	}
	binds = append(binds, de.opts.Binds...)
	binds = append(binds, de.pythonPathBinds(spec.PythonPath)...)
	hostConfig := &container.HostConfig{Binds: binds}

	resp, err := de.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create driver container: %w", err)
	}
	de.logger.Printf("created driver container %s (image=%s, tty=%v)", shortID(resp.ID), de.opts.Image, tty)

	p := &dockerProcess{
		client:     de.client,
		id:         resp.ID,
		tty:        tty,
		logger:     de.logger,
		outputDone: make(chan struct{}),
	}

	// Attach before starting so no early output is lost.
	p.hijack, err = de.client.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		p.remove()
		return nil, fmt.Errorf("attach driver container: %w", err)
	}

	if err := p.connectStreams(spec); err != nil {
		p.hijack.Close()
		p.remove()
		return nil, err
	}

	if err := de.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.restoreTerminal()
		p.hijack.Close()
		p.remove()
		return nil, fmt.Errorf("start driver container: %w", err)
	}

	if tty {
		p.resize(ctx, spec.Stdin)
	}

	p.statusCh, p.errCh = de.client.ContainerWait(context.Background(), resp.ID, container.WaitConditionNotRunning)
	return p, nil
}

func (de *DockerExecutor) pull(ctx context.Context) error {
	de.logger.Printf("pulling image %s", de.opts.Image)
	rc, err := de.client.ImagePull(ctx, de.opts.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", de.opts.Image, err)
	}
	defer rc.Close()

	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull image %s: %w", de.opts.Image, err)
	}
	return nil
}

func (de *DockerExecutor) containerEnv(spec LaunchSpec) []string {
	env := ScrubEnvironment(os.Environ())
	env = append(env, withoutBlocked(spec.Env)...)
	if len(spec.PythonPath) > 0 {
		env = append(env, "PYTHONPATH="+strings.Join(absPaths(spec.PythonPath), ":"))
	}
	return append(env, protocol.SocketEnv+"="+path.Join(containerBridgeDir, protocol.SocketName))
}

// pythonPathBinds mounts host PYTHONPATH entries read-only at the same path
// inside the container, skipping entries a configured bind already targets.
func (de *DockerExecutor) pythonPathBinds(entries []string) []string {
	targets := make(map[string]bool)
	for _, b := range de.opts.Binds {
		if parts := strings.Split(b, ":"); len(parts) >= 2 {
			targets[path.Clean(parts[1])] = true
		}
	}

	var binds []string
	for _, p := range absPaths(entries) {
		if targets[p] {
			continue
		}
		targets[p] = true
		binds = append(binds, p+":"+p+":ro")
	}
	return binds
}

// absPaths resolves relative entries against the host working directory so
// the exported PYTHONPATH matches the bind targets.
func absPaths(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, p := range entries {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		out = append(out, p)
	}
	return out
}

func (de *DockerExecutor) user() string {
	if de.opts.User != "" {
		return de.opts.User
	}
	return fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid())
}

type dockerProcess struct {
	client dockerAPI
	id     string
	tty    bool
	logger *log.Logger

	hijack     types.HijackedResponse
	termFd     uintptr
	termState  *term.State
	outputDone chan struct{}

	statusCh <-chan container.WaitResponse
	errCh    <-chan error

	once     sync.Once
	exitCode int
	waitErr  error
}

// connectStreams wires the caller's stdio to the attached container.
func (p *dockerProcess) connectStreams(spec LaunchSpec) error {
	if p.tty {
		fd, _ := term.GetFdInfo(spec.Stdin)
		state, err := term.SetRawTerminal(fd)
		if err != nil {
			return fmt.Errorf("set raw terminal: %w", err)
		}
		p.termFd = fd
		p.termState = state
	}

	stdout := spec.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := spec.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	go func() {
		defer close(p.outputDone)
		var err error
		if p.tty {
			_, err = io.Copy(stdout, p.hijack.Reader)
		} else {
			_, err = stdcopy.StdCopy(stdout, stderr, p.hijack.Reader)
		}
		if err != nil {
			p.logger.Printf("output stream error: %v", err)
		}
	}()

	if spec.Stdin != nil {
		go func() {
			if _, err := io.Copy(p.hijack.Conn, spec.Stdin); err != nil {
				p.logger.Printf("input stream error: %v", err)
			}
			p.hijack.CloseWrite()
		}()
	}

	return nil
}

func (p *dockerProcess) resize(ctx context.Context, stdin io.Reader) {
	fd, _ := term.GetFdInfo(stdin)
	ws, err := term.GetWinsize(fd)
	if err != nil {
		p.logger.Printf("get window size: %v", err)
		return
	}
	if err := p.client.ContainerResize(ctx, p.id, container.ResizeOptions{
		Height: uint(ws.Height),
		Width:  uint(ws.Width),
	}); err != nil {
		p.logger.Printf("resize driver container: %v", err)
	}
}

// Wait blocks until the container stops and returns its exit status.
func (p *dockerProcess) Wait() (int, error) {
	p.once.Do(func() {
		select {
		case status := <-p.statusCh:
			p.exitCode = int(status.StatusCode)
			if status.Error != nil && status.Error.Message != "" {
				p.waitErr = fmt.Errorf("wait driver container: %s", status.Error.Message)
			}
		case err := <-p.errCh:
			p.exitCode = 1
			p.waitErr = fmt.Errorf("wait driver container: %w", err)
		}

		// Drain the remaining output before tearing the stream down.
		select {
		case <-p.outputDone:
		case <-time.After(2 * time.Second):
			p.logger.Printf("output stream did not finish for %s", shortID(p.id))
		}

		p.restoreTerminal()
		p.hijack.Close()
		p.remove()
	})
	return p.exitCode, p.waitErr
}

// Kill stops the container immediately.
func (p *dockerProcess) Kill() error {
	if err := p.client.ContainerKill(context.Background(), p.id, "SIGKILL"); err != nil {
		return fmt.Errorf("kill driver container: %w", err)
	}
	return nil
}

func (p *dockerProcess) restoreTerminal() {
	if p.termState == nil {
		return
	}
	if err := term.RestoreTerminal(p.termFd, p.termState); err != nil {
		p.logger.Printf("restore terminal: %v", err)
	}
	p.termState = nil
}

func (p *dockerProcess) remove() {
	if err := p.client.ContainerRemove(context.Background(), p.id, container.RemoveOptions{Force: true}); err != nil {
		p.logger.Printf("remove driver container %s: %v", shortID(p.id), err)
	}
}

// shortID returns the first 12 characters of a container ID.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
