package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// PollingWatcher detects changes by rescanning the tree and diffing
// mod times and sizes. Fallback for filesystems where fsnotify cannot
// initialize (some network mounts, exhausted inotify instances).
type PollingWatcher struct {
	interval time.Duration
	root     string

	mu      sync.Mutex
	seen    map[string]pathState
	events  chan FileEvent
	errors  chan error
	stopCh  chan struct{}
	stopped bool
}

type pathState struct {
	modTime time.Time
	size    int64
	isDir   bool
}

// NewPollingWatcher creates a polling watcher with the given scan
// interval.
func NewPollingWatcher(interval time.Duration) *PollingWatcher {
	return &PollingWatcher{
		interval: interval,
		seen:     make(map[string]pathState),
		events:   make(chan FileEvent, 100),
		errors:   make(chan error, 10),
		stopCh:   make(chan struct{}),
	}
}

// Start scans path on the configured interval and blocks until Stop
// or context cancellation. The first scan just records the baseline.
func (p *PollingWatcher) Start(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve watch root: %w", err)
	}
	p.root = abs

	p.mu.Lock()
	p.seen = p.snapshot()
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			p.diff()
		}
	}
}

// snapshot walks the tree and records state for every visible path.
// Hidden directories are skipped entirely.
func (p *PollingWatcher) snapshot() map[string]pathState {
	current := make(map[string]pathState)
	_ = filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(p.root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if hiddenPath(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		current[rel] = pathState{
			modTime: info.ModTime(),
			size:    info.Size(),
			isDir:   d.IsDir(),
		}
		return nil
	})
	return current
}

// diff compares the current tree against the previous scan and emits
// create, modify, and delete events.
func (p *PollingWatcher) diff() {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := p.snapshot()
	now := time.Now()

	for rel, state := range current {
		prev, existed := p.seen[rel]
		switch {
		case !existed:
			p.emit(FileEvent{Path: rel, Operation: OpCreate, IsDir: state.isDir, Timestamp: now})
		case prev.modTime != state.modTime || prev.size != state.size:
			p.emit(FileEvent{Path: rel, Operation: OpModify, IsDir: state.isDir, Timestamp: now})
		}
	}
	for rel, prev := range p.seen {
		if _, exists := current[rel]; !exists {
			p.emit(FileEvent{Path: rel, Operation: OpDelete, IsDir: prev.isDir, Timestamp: now})
		}
	}

	p.seen = current
}

// emit sends without blocking. Must hold the lock.
func (p *PollingWatcher) emit(event FileEvent) {
	if p.stopped {
		return
	}
	select {
	case p.events <- event:
	default:
		slog.Warn("poll_event_dropped",
			slog.String("path", event.Path),
			slog.String("op", event.Operation.String()))
	}
}

// Stop ends polling and closes the channels. Safe to call more than
// once.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

// Events returns the event channel.
func (p *PollingWatcher) Events() <-chan FileEvent {
	return p.events
}

// Errors returns the error channel.
func (p *PollingWatcher) Errors() <-chan error {
	return p.errors
}
