package shell

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDuration coalesces the burst of events a single save produces.
const debounceDuration = 500 * time.Millisecond

// FileWatcher reports changes to the PNG file loaded in the shell.
type FileWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *log.Logger

	mu       sync.Mutex
	onChange []func(path string)
	timer    *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFileWatcher creates a watcher for path.
func NewFileWatcher(path string, logger *log.Logger) (*FileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		path:    abs,
		watcher: watcher,
		logger:  logger,
	}, nil
}

// Path returns the absolute path being watched.
func (fw *FileWatcher) Path() string { return fw.path }

// OnChange registers a callback invoked after the file is written or
// replaced.
func (fw *FileWatcher) OnChange(callback func(path string)) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.onChange = append(fw.onChange, callback)
}

// Start begins watching. The parent directory is watched so that editors
// that replace the file by renaming are noticed too.
func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.ctx, fw.cancel = context.WithCancel(ctx)

	dir := filepath.Dir(fw.path)
	if err := fw.watcher.Add(dir); err != nil {
		fw.cancel()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	fw.logger.Printf("watching %s for changes", fw.path)

	fw.wg.Add(1)
	go func() {
		defer fw.wg.Done()
		fw.watchLoop()
	}()
	return nil
}

// Stop shuts the watcher down. Pending notifications are dropped.
func (fw *FileWatcher) Stop() error {
	if fw.cancel != nil {
		fw.cancel()
	}
	err := fw.watcher.Close()
	fw.wg.Wait()

	fw.mu.Lock()
	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.mu.Unlock()
	return err
}

func (fw *FileWatcher) watchLoop() {
	for {
		select {
		case <-fw.ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Name != fw.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				fw.logger.Printf("detected change: %s", event.Op)
				fw.schedule()
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Printf("watcher error: %v", err)
		}
	}
}

func (fw *FileWatcher) schedule() {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.timer = time.AfterFunc(debounceDuration, fw.notify)
}

func (fw *FileWatcher) notify() {
	if fw.ctx.Err() != nil {
		return
	}

	fw.mu.Lock()
	callbacks := make([]func(string), len(fw.onChange))
	copy(callbacks, fw.onChange)
	fw.mu.Unlock()

	for _, callback := range callbacks {
		callback(fw.path)
	}
}
