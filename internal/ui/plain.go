package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// plainThrottle limits how often per-file progress lines are printed
// so large notes trees do not flood CI logs.
const plainThrottle = 500 * time.Millisecond

// PlainRenderer prints one progress line at a time. Used for pipes,
// CI, and --no-tui.
type PlainRenderer struct {
	mu       sync.Mutex
	out      io.Writer
	lastLine time.Time
	errors   int
	warnings int
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(_ context.Context) error {
	return nil
}

// UpdateProgress implements Renderer. Per-file updates are throttled;
// stage transitions and the final file always print.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	final := event.Total > 0 && event.Current >= event.Total
	if event.Message == "" && !final && time.Since(r.lastLine) < plainThrottle {
		return
	}
	r.lastLine = time.Now()

	msg := event.Message
	if msg == "" {
		msg = event.CurrentFile
	}

	switch {
	case event.Total > 0:
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d %s\n", event.Stage.Icon(), event.Current, event.Total, msg)
	case msg != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), msg)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
		r.warnings++
	} else {
		r.errors++
	}

	if event.File != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.File, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %d files, %d segments indexed in %s",
		stats.Files, stats.Segments, stats.Duration.Round(100*time.Millisecond))
	if stats.Failed > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d files failed)", stats.Failed)
	}
	_, _ = fmt.Fprintln(r.out)

	if stats.Embedder.Provider != "" {
		_, _ = fmt.Fprintf(r.out, "Embedder: %s (%s, %d dims)\n",
			stats.Embedder.Provider, stats.Embedder.Model, stats.Embedder.Dimensions)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}
