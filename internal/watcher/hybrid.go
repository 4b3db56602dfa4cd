package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// HybridWatcher watches a notes tree with fsnotify and falls back to
// polling when fsnotify cannot initialize. All events pass through the
// debouncer and come out batched. Hidden directories (dot-prefixed,
// like .git or .obsidian) are never watched or reported.
type HybridWatcher struct {
	fsWatcher   *fsnotify.Watcher
	pollWatcher *PollingWatcher
	useFsnotify bool
	debouncer   *Debouncer
	events      chan []FileEvent
	errors      chan error
	stopCh      chan struct{}
	root        string
	opts        Options

	mu             sync.RWMutex
	stopped        bool
	droppedBatches atomic.Uint64
}

var _ Watcher = (*HybridWatcher)(nil)

// NewHybridWatcher creates a watcher, preferring fsnotify.
func NewHybridWatcher(opts Options) (*HybridWatcher, error) {
	opts = opts.WithDefaults()

	h := &HybridWatcher{
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
	}

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		h.fsWatcher = fsw
		h.useFsnotify = true
	} else {
		slog.Warn("fsnotify_unavailable", slog.String("error", err.Error()))
		h.pollWatcher = NewPollingWatcher(opts.PollInterval)
	}

	return h, nil
}

// Start watches path recursively and blocks until Stop or context
// cancellation.
func (h *HybridWatcher) Start(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve watch root: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("stat watch root: %w", err)
	}
	h.root = abs

	go h.forwardBatches(ctx)

	if h.useFsnotify {
		return h.runFsnotify(ctx)
	}
	return h.runPolling(ctx)
}

func (h *HybridWatcher) runFsnotify(ctx context.Context) error {
	if err := h.watchRecursive(h.root); err != nil {
		return fmt.Errorf("watch notes directories: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = h.Stop()
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case event, ok := <-h.fsWatcher.Events:
			if !ok {
				return nil
			}
			h.handleFsnotifyEvent(event)
		case err, ok := <-h.fsWatcher.Errors:
			if !ok {
				return nil
			}
			h.emitError(err)
		}
	}
}

func (h *HybridWatcher) runPolling(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case event, ok := <-h.pollWatcher.Events():
				if !ok {
					return
				}
				h.debouncer.Add(event)
			case err, ok := <-h.pollWatcher.Errors():
				if !ok {
					return
				}
				h.emitError(err)
			}
		}
	}()

	return h.pollWatcher.Start(ctx, h.root)
}

// handleFsnotifyEvent converts one fsnotify event, filters hidden
// paths, and feeds the debouncer. Newly created directories are added
// to the watch set so nested notes keep getting events.
func (h *HybridWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	rel, err := filepath.Rel(h.root, event.Name)
	if err != nil {
		rel = event.Name
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == "" || hiddenPath(rel) {
		return
	}

	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
		if isDir {
			_ = h.fsWatcher.Add(event.Name)
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		// fsnotify reports the old name only; the new name arrives as
		// a separate create.
		op = OpRename
	default:
		// Chmod and anything else is noise for an index.
		return
	}

	h.debouncer.Add(FileEvent{
		Path:      rel,
		Operation: op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	})
}

// forwardBatches moves debounced batches to the output channel.
func (h *HybridWatcher) forwardBatches(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case batch, ok := <-h.debouncer.Output():
			if !ok {
				return
			}
			if len(batch) == 0 {
				continue
			}
			h.emitBatch(batch)
		}
	}
}

// watchRecursive adds root and every visible subdirectory to the
// fsnotify watch set.
func (h *HybridWatcher) watchRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if rel == "." {
			return h.fsWatcher.Add(path)
		}
		if hiddenPath(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		return h.fsWatcher.Add(path)
	})
}

func (h *HybridWatcher) emitBatch(batch []FileEvent) {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case h.events <- batch:
	default:
		count := h.droppedBatches.Add(1)
		slog.Warn("watch_buffer_full",
			slog.Int("batch_size", len(batch)),
			slog.Uint64("dropped_batches", count))
	}
}

func (h *HybridWatcher) emitError(err error) {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case h.errors <- err:
	default:
	}
}

// Stop shuts everything down. Safe to call more than once.
func (h *HybridWatcher) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil
	}
	h.stopped = true
	close(h.stopCh)

	h.debouncer.Stop()
	if h.useFsnotify && h.fsWatcher != nil {
		_ = h.fsWatcher.Close()
	}
	if h.pollWatcher != nil {
		_ = h.pollWatcher.Stop()
	}

	close(h.events)
	close(h.errors)
	return nil
}

// Events returns the batched event channel.
func (h *HybridWatcher) Events() <-chan []FileEvent {
	return h.events
}

// Errors returns the error channel.
func (h *HybridWatcher) Errors() <-chan error {
	return h.errors
}

// Healthy reports whether the watcher is still running.
func (h *HybridWatcher) Healthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.stopped
}

// Mechanism names the watch mechanism in use, for startup logging.
func (h *HybridWatcher) Mechanism() string {
	if h.useFsnotify {
		return "fsnotify"
	}
	return "polling"
}

// DroppedBatches returns how many batches were dropped because the
// consumer fell behind.
func (h *HybridWatcher) DroppedBatches() uint64 {
	return h.droppedBatches.Load()
}

// hiddenPath reports whether any element of the slash-separated
// relative path starts with a dot.
func hiddenPath(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
