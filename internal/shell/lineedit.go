package shell

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/moby/term"
)

// pathCommands take a file name as their first argument.
var pathCommands = map[string]bool{
	"read_file":        true,
	"read_broken_file": true,
	"write_png":        true,
	"create_bmp":       true,
	"create_ppm":       true,
}

// terminalInput returns the input file when both input and output are
// terminals. Anything else is read line by line without editing.
func (c *CLI) terminalInput() (*os.File, bool) {
	in, ok := c.in.(*os.File)
	if !ok {
		return nil, false
	}
	if _, tty := term.GetFdInfo(in); !tty {
		return nil, false
	}
	if _, tty := term.GetFdInfo(c.out.target()); !tty {
		return nil, false
	}
	return in, true
}

// editLoop reads commands with line editing, history recall and tab
// completion. It only fails when the editor cannot be set up; read errors
// end the loop.
func (c *CLI) editLoop(in *os.File) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:                 Prompt,
		AutoComplete:           c.completer(),
		DisableAutoSaveHistory: true,
		InterruptPrompt:        "^C",
		Stdin:                  in,
		Stdout:                 c.out.target(),
		Stderr:                 c.errOut.target(),
	})
	if err != nil {
		return fmt.Errorf("start line editor: %w", err)
	}
	defer rl.Close()

	// History stays the persistent store; the editor only gets a copy for
	// recall.
	for _, line := range c.history.Entries() {
		rl.SaveHistory(line)
	}

	// Route output through the editor so watcher notices redraw the prompt.
	restoreOut := c.out.swap(rl.Stdout())
	restoreErr := c.errOut.swap(rl.Stderr())
	defer restoreOut()
	defer restoreErr()

	for !c.done {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			io.WriteString(c.out, "\n")
			return nil
		}
		if err != nil {
			c.logger.Printf("read input: %v", err)
			return nil
		}

		if trimmed := strings.TrimSpace(line); trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			rl.SaveHistory(trimmed)
		}
		c.Execute(line)
	}
	return nil
}

func (c *CLI) completer() *readline.PrefixCompleter {
	var items []readline.PrefixCompleterInterface
	for _, cmd := range c.newRoot().Commands() {
		name := cmd.Name()
		if pathCommands[name] {
			items = append(items, readline.PcItem(name, readline.PcItemDynamic(completePath)))
		} else {
			items = append(items, readline.PcItem(name))
		}
	}
	return readline.NewPrefixCompleter(items...)
}

// completePath lists the files matching the last word of line. Candidates
// keep the directory prefix as typed; directories end in a slash.
func completePath(line string) []string {
	word := ""
	if fields := strings.Fields(line); len(fields) > 0 && !strings.HasSuffix(line, " ") {
		word = fields[len(fields)-1]
	}

	dir, prefix := "", word
	if i := strings.LastIndex(word, "/"); i >= 0 {
		dir, prefix = word[:i+1], word[i+1:]
	}

	listDir := dir
	if listDir == "" {
		listDir = "."
	}
	entries, err := os.ReadDir(listDir)
	if err != nil {
		return nil
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if strings.HasPrefix(name, ".") && !strings.HasPrefix(prefix, ".") {
			continue
		}
		candidate := dir + name
		if e.IsDir() {
			candidate += "/"
		} else if info, err := os.Stat(filepath.Join(listDir, name)); err == nil && info.IsDir() {
			candidate += "/"
		}
		names = append(names, candidate)
	}
	return names
}
