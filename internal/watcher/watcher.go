// Package watcher detects note file changes and delivers them as
// debounced event batches. fsnotify is the primary mechanism with a
// polling scanner as fallback; rapid per-path bursts (editor saves,
// atomic tmp+rename writes) are coalesced before emission so the index
// is not thrashed.
package watcher

import (
	"context"
	"time"
)

// Operation is the kind of change observed on a path.
type Operation int

const (
	// OpCreate indicates a new file or directory appeared.
	OpCreate Operation = iota
	// OpModify indicates an existing file changed.
	OpModify
	// OpDelete indicates a file or directory was removed.
	OpDelete
	// OpRename indicates a file or directory was renamed away.
	OpRename
)

// String returns the operation name.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one observed change, with Path relative to the watched
// root.
type FileEvent struct {
	// Path is the relative slash path of the changed file or directory.
	Path string

	// OldPath is the previous path for renames, empty otherwise.
	OldPath string

	// Operation is the kind of change.
	Operation Operation

	// IsDir marks directory events so consumers can skip them.
	IsDir bool

	// Timestamp is when the change was detected.
	Timestamp time.Time
}

// Watcher delivers batches of debounced file events.
type Watcher interface {
	// Start watches path recursively and blocks until Stop or context
	// cancellation.
	Start(ctx context.Context, path string) error

	// Stop shuts the watcher down. Safe to call more than once.
	Stop() error

	// Events returns the batched event channel, closed on stop.
	Events() <-chan []FileEvent

	// Errors returns non-fatal watcher errors, closed on stop.
	Errors() <-chan error
}

// Options configures watcher behavior.
type Options struct {
	// DebounceWindow is how long a path's events keep coalescing
	// before the batch is emitted. Default 200ms.
	DebounceWindow time.Duration

	// PollInterval is the scan period for the polling fallback.
	// Default 5s.
	PollInterval time.Duration

	// EventBufferSize is the batch channel capacity. Default 64.
	EventBufferSize int
}

// DefaultOptions returns the stock watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  200 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 64,
	}
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval == 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	return o
}
