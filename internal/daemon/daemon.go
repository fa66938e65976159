// Package daemon schedules sync cycles: a fixed interval ticker, plus
// vault file events when watching is enabled. Cycles run inline in the
// scheduler goroutine, so they never overlap and shutdown always lets
// the in-flight cycle finish.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	tasksync "github.com/taskdav/taskdav/internal/sync"
)

// CycleRunner runs one sync cycle. *sync.Engine satisfies it.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*tasksync.Report, error)
}

var _ CycleRunner = (*tasksync.Engine)(nil)

// Config holds daemon scheduling knobs.
type Config struct {
	// Interval between scheduled cycles.
	Interval time.Duration

	// Watch also triggers cycles on vault file events.
	Watch bool

	// Debounce is the quiet period after the last file event before a
	// watch-triggered cycle fires, so bursts of edits coalesce.
	Debounce time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval: 5 * time.Minute,
		Watch:    true,
		Debounce: 2 * time.Second,
		Logger:   log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon triggers cycles until its context is canceled.
type Daemon struct {
	runner   CycleRunner
	vaultDir string
	config   *Config

	watcher *fsnotify.Watcher

	// trigger has capacity 1: a pending trigger absorbs further ones,
	// so any burst costs at most one extra cycle.
	trigger chan struct{}
}

// New creates a daemon. A nil config uses DefaultConfig.
func New(runner CycleRunner, vaultDir string, config *Config) (*Daemon, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if vaultDir == "" {
		return nil, fmt.Errorf("vaultDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	return &Daemon{
		runner:   runner,
		vaultDir: filepath.Clean(vaultDir),
		config:   config,
		trigger:  make(chan struct{}, 1),
	}, nil
}

// Start runs the scheduler until ctx is canceled. The first cycle runs
// immediately; the vault may have changed while the daemon was down.
// Cycle failures are logged and do not stop the daemon.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	var watchDone chan struct{}
	if d.config.Watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		d.watcher = watcher
		if err := d.watchTree(d.vaultDir); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch vault: %w", err)
		}
		d.config.Logger.Printf("Watching %s", d.vaultDir)

		watchDone = make(chan struct{})
		go func() {
			defer close(watchDone)
			d.watchFileEvents(ctx)
		}()
	}

	d.runCycle(ctx)

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.config.Logger.Println("Shutdown signal received")
			if d.watcher != nil {
				if err := d.watcher.Close(); err != nil {
					d.config.Logger.Printf("WARNING: failed to close watcher: %v", err)
				}
				<-watchDone
			}
			d.config.Logger.Println("Daemon stopped")
			return nil

		case <-ticker.C:
			d.runCycle(ctx)

		case <-d.trigger:
			d.runCycle(ctx)
			// A watch-triggered cycle restarts the schedule; the next
			// interval cycle is measured from now.
			ticker.Reset(d.config.Interval)
		}
	}
}

// runCycle executes one cycle inline. The engine logs its own report;
// only cycle-level failures are logged here.
func (d *Daemon) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := d.runner.RunCycle(ctx); err != nil && ctx.Err() == nil {
		d.config.Logger.Printf("WARNING: cycle failed: %v", err)
	}
}

// watchFileEvents turns vault file events into debounced triggers.
func (d *Daemon) watchFileEvents(ctx context.Context) {
	debounce := time.NewTimer(0)
	<-debounce.C
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if !d.relevant(event) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					// A moved-in tree can carry tasks in subdirectories.
					if err := d.watchTree(event.Name); err != nil {
						d.config.Logger.Printf("WARNING: failed to watch %s: %v", event.Name, err)
					}
				}
			}
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(d.config.Debounce)

		case <-debounce.C:
			select {
			case d.trigger <- struct{}{}:
			default:
			}

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("WARNING: watcher error: %v", err)
		}
	}
}

// relevant filters the event stream: markdown content and directory
// shape changes matter, editor noise does not.
func (d *Daemon) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	if hidden(d.vaultDir, event.Name) {
		return false
	}
	if strings.EqualFold(filepath.Ext(event.Name), ".md") {
		return true
	}
	// Removes and renames of directories arrive without an extension
	// and the files inside emit nothing, so they must count.
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		return true
	}
	if event.Op&fsnotify.Create != 0 {
		info, err := os.Stat(event.Name)
		return err == nil && info.IsDir()
	}
	return false
}

// watchTree adds path and every non-hidden directory under it to the
// watcher. fsnotify watches are not recursive.
func (d *Daemon) watchTree(path string) error {
	return filepath.WalkDir(path, func(p string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if p != d.vaultDir && strings.HasPrefix(entry.Name(), ".") {
			return filepath.SkipDir
		}
		return d.watcher.Add(p)
	})
}

// hidden reports whether any path component under the vault root is
// dot-prefixed.
func hidden(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}
