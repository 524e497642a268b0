// Package shell implements the interactive pngtools command loop: a prompt
// over an editable list of PNG chunks.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/google/shlex"

	"pngtools/internal/interp/native"
	"pngtools/internal/png"
)

// Prompt is printed before each interactive command.
const Prompt = "pngtools> "

// Options configures a CLI.
type Options struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer

	// HistoryFile persists command history; empty disables persistence.
	HistoryFile string
	// Watch reports on-disk changes to the file loaded by read_file.
	Watch bool
	// StartupCommands run before the interactive loop, one command each.
	StartupCommands []string

	Logger *log.Logger
}

// CLI is the pngtools shell. It is not safe for concurrent use apart from
// file change notices, which are written under the output lock.
type CLI struct {
	in     io.Reader
	out    *syncWriter
	errOut *syncWriter
	logger *log.Logger

	watch   bool
	startup []string
	history *History
	watcher *FileWatcher

	chunks []png.Chunk

	done     bool
	exitCode int
}

// New creates a CLI.
func New(opts Options) (*CLI, error) {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}

	history, err := OpenHistory(opts.HistoryFile)
	if err != nil {
		return nil, err
	}

	return &CLI{
		in:      opts.In,
		out:     &syncWriter{w: opts.Out},
		errOut:  &syncWriter{w: opts.Err},
		logger:  opts.Logger,
		watch:   opts.Watch,
		startup: opts.StartupCommands,
		history: history,
	}, nil
}

// Method exposes the CLI's zero-argument methods to the native runtime.
func (c *CLI) Method(name string) (native.Method, bool) {
	switch name {
	case "cmdloop":
		return func() (any, error) { return c.Cmdloop(), nil }, true
	}
	return nil, false
}

// Chunks returns the chunks currently loaded.
func (c *CLI) Chunks() []png.Chunk {
	return c.chunks
}

// Cmdloop runs the startup commands, then reads commands until exit or end of
// input, and returns the exit code. On a terminal the prompt supports line
// editing, history recall and completion.
func (c *CLI) Cmdloop() int {
	defer c.close()

	for _, line := range c.startup {
		c.Execute(line)
		if c.done {
			return c.exitCode
		}
	}

	if in, ok := c.terminalInput(); ok {
		err := c.editLoop(in)
		if err == nil {
			return c.exitCode
		}
		c.logger.Printf("line editor unavailable, reading plain lines: %v", err)
	}

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for !c.done {
		io.WriteString(c.out, Prompt)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				c.logger.Printf("read input: %v", err)
			}
			io.WriteString(c.out, "\n")
			break
		}
		c.Execute(scanner.Text())
	}
	return c.exitCode
}

// Execute runs one command line. Errors are reported and do not stop the
// loop.
func (c *CLI) Execute(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}

	if err := c.history.Add(line); err != nil {
		c.logger.Printf("history: %v", err)
	}

	args, err := splitLine(line)
	if err != nil {
		c.printErr(err)
		return
	}

	root := c.newRoot()
	root.SetArgs(args)
	if err := root.ExecuteContext(context.Background()); err != nil {
		c.printErr(err)
	}
}

func (c *CLI) printErr(err error) {
	fmt.Fprintf(c.errOut, "*** %v\n", err)
}

func (c *CLI) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *CLI) println(args ...any) {
	fmt.Fprintln(c.out, args...)
}

func (c *CLI) watchFile(path string) {
	if !c.watch {
		return
	}
	c.stopWatching()

	fw, err := NewFileWatcher(path, c.logger)
	if err != nil {
		c.logger.Printf("watch %s: %v", path, err)
		return
	}
	fw.OnChange(func(changed string) {
		c.printf("\n%s changed on disk, run read_file to reload it\n", changed)
	})
	if err := fw.Start(context.Background()); err != nil {
		c.logger.Printf("watch %s: %v", path, err)
		fw.Stop()
		return
	}
	c.watcher = fw
}

func (c *CLI) stopWatching() {
	if c.watcher == nil {
		return
	}
	if err := c.watcher.Stop(); err != nil {
		c.logger.Printf("stop watcher: %v", err)
	}
	c.watcher = nil
}

func (c *CLI) close() {
	c.stopWatching()
	if err := c.history.Close(); err != nil {
		c.logger.Printf("close history: %v", err)
	}
}

// syncWriter serializes writes from the command loop and the file watcher.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (sw *syncWriter) Write(p []byte) (int, error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.w.Write(p)
}

func (sw *syncWriter) target() io.Writer {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.w
}

// swap redirects writes to w until the returned func is called.
func (sw *syncWriter) swap(w io.Writer) (restore func()) {
	sw.mu.Lock()
	prev := sw.w
	sw.w = w
	sw.mu.Unlock()
	return func() {
		sw.mu.Lock()
		sw.w = prev
		sw.mu.Unlock()
	}
}

// splitLine splits a command line into words with shell quoting rules.
func splitLine(line string) ([]string, error) {
	words, err := shlex.Split(line)
	if err != nil {
		return nil, fmt.Errorf("parse command line: %w", err)
	}
	return words, nil
}
