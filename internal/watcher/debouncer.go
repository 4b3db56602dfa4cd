package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces per-path event bursts within a sliding window.
// Sequences for the same path merge as:
//   - create then modify: still a create
//   - create then delete: nothing, the file never really existed
//   - modify then delete: delete
//   - delete then create: modify, the file was replaced in place
//
// Everything else keeps the latest event. The window restarts on every
// added event, so a burst flushes once it goes quiet.
type Debouncer struct {
	window time.Duration

	mu      sync.Mutex
	pending map[string]*pendingFile
	timer   *time.Timer
	output  chan []FileEvent
	stopped bool
}

// pendingFile tracks the coalesced event for one path plus the first
// operation seen, which decides how later operations merge.
type pendingFile struct {
	event   FileEvent
	firstOp Operation
}

// NewDebouncer creates a debouncer with the given window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingFile),
		output:  make(chan []FileEvent, 10),
	}
}

// Add merges event into the pending set and restarts the flush timer.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if existing, ok := d.pending[event.Path]; ok {
		merged := merge(existing, event)
		if merged == nil {
			delete(d.pending, event.Path)
		} else {
			existing.event = *merged
		}
	} else {
		d.pending[event.Path] = &pendingFile{
			event:   event,
			firstOp: event.Operation,
		}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// merge applies the coalescing rules. Nil means the events cancelled
// out.
func merge(existing *pendingFile, next FileEvent) *FileEvent {
	switch existing.firstOp {
	case OpCreate:
		switch next.Operation {
		case OpModify:
			return &existing.event
		case OpDelete:
			return nil
		}
	case OpDelete:
		if next.Operation == OpCreate {
			replaced := next
			replaced.Operation = OpModify
			return &replaced
		}
	}
	return &next
}

// flush emits the pending set as one batch.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]FileEvent, 0, len(d.pending))
	for _, pf := range d.pending {
		batch = append(batch, pf.event)
	}
	d.pending = make(map[string]*pendingFile)

	select {
	case d.output <- batch:
	default:
		slog.Warn("watch_batch_dropped", slog.Int("batch_size", len(batch)))
	}
}

// Output returns the channel of event batches.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop closes the output channel. Safe to call more than once.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
