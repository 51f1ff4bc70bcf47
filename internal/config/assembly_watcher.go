package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/moolen/citadel/internal/logging"
)

// ReloadFunc receives every successfully loaded assembly. An error is logged
// and the watcher keeps watching.
type ReloadFunc func(ctx context.Context, assembly *Assembly) error

// WatcherOptions configures an AssemblyWatcher.
type WatcherOptions struct {
	// Path is the assembly file to watch
	Path string

	// Debounce coalesces bursts of file events (editor save sequences,
	// atomic renames) into one reload. Default: 500ms
	Debounce time.Duration
}

// AssemblyWatcher watches an assembly file and calls a ReloadFunc after each
// change. Files that fail to load are logged and the previous assembly keeps
// running.
type AssemblyWatcher struct {
	opts   WatcherOptions
	reload ReloadFunc
	logger *logging.Logger

	cancel  context.CancelFunc
	stopped chan struct{}
	ready   chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

// NewAssemblyWatcher validates opts and returns a watcher that is not yet running.
func NewAssemblyWatcher(opts WatcherOptions, reload ReloadFunc) (*AssemblyWatcher, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}
	if reload == nil {
		return nil, fmt.Errorf("reload func cannot be nil")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}

	return &AssemblyWatcher{
		opts:    opts,
		reload:  reload,
		logger:  logging.GetLogger("config.watcher").WithField("path", opts.Path),
		stopped: make(chan struct{}),
		ready:   make(chan struct{}),
	}, nil
}

// Name identifies the watcher as a kernel service.
func (w *AssemblyWatcher) Name() string {
	return "assembly-watcher"
}

// Start begins watching and returns once the fsnotify watch is in place.
// The initial assembly is not loaded here; the kernel deploys it first.
func (w *AssemblyWatcher) Start(ctx context.Context) error {
	// The watch loop outlives the start context; Stop ends it
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel

	errCh := make(chan error, 1)
	go w.watchLoop(watchCtx, errCh)

	select {
	case <-w.ready:
		select {
		case err := <-errCh:
			return err
		default:
			return nil
		}
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	case <-time.After(5 * time.Second):
		cancel()
		return fmt.Errorf("timeout waiting for file watcher to initialize")
	}
}

func (w *AssemblyWatcher) signalReady() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.ready:
	default:
		close(w.ready)
	}
}

func (w *AssemblyWatcher) watchLoop(ctx context.Context, errCh chan<- error) {
	defer close(w.stopped)
	defer w.signalReady()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		errCh <- fmt.Errorf("failed to create file watcher: %w", err)
		return
	}
	defer watcher.Close()

	// Watch the directory so atomic replacements (rename over the target)
	// are seen without re-adding the watch.
	dir := filepath.Dir(w.opts.Path)
	if err := watcher.Add(dir); err != nil {
		errCh <- fmt.Errorf("failed to watch %s: %w", dir, err)
		return
	}
	target := filepath.Clean(w.opts.Path)

	w.logger.Info("Watching assembly for changes (debounce: %s)", w.opts.Debounce)
	w.signalReady()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.schedule(ctx)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error: %v", err)
		}
	}
}

// schedule resets the debounce timer.
func (w *AssemblyWatcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.opts.Debounce, func() {
		w.reloadAssembly(ctx)
	})
}

func (w *AssemblyWatcher) reloadAssembly(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	assembly, err := LoadAssemblyFile(w.opts.Path)
	if err != nil {
		w.logger.Warn("Keeping previous assembly, reload failed: %v", err)
		return
	}

	if err := w.reload(ctx, assembly); err != nil {
		w.logger.Error("Reload callback failed (continuing to watch): %v", err)
		return
	}

	w.logger.Info("Assembly reloaded")
}

// Stop ends the watch loop, waiting at most until ctx is done.
func (w *AssemblyWatcher) Stop(ctx context.Context) error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()

	select {
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for assembly watcher to stop: %w", ctx.Err())
	}
}
